package commands

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/OFFIS-RIT/kiwi-query/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("QUERY_CONFIG_FILE", "")

	var out bytes.Buffer
	root := NewRootCmd()
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestClassify_NoRefine(t *testing.T) {
	tests := []struct {
		name      string
		args      []string
		profile   string
		route     string
		heuristic string
	}{
		{
			name:      "default profile",
			args:      []string{"classify", "--no-refine", "What is the invoice total?"},
			profile:   "default",
			route:     "simple_lookup",
			heuristic: "simple_lookup",
		},
		{
			name:      "high assurance remaps simple lookup",
			args:      []string{"classify", "--no-refine", "--profile", "high_assurance", "What is the invoice total?"},
			profile:   "high_assurance",
			route:     "local",
			heuristic: "simple_lookup",
		},
		{
			name:      "words are joined",
			args:      []string{"classify", "--no-refine", "Compare", "Acme", "Corp", "and", "Globex", "Inc"},
			profile:   "default",
			route:     "drift",
			heuristic: "drift",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := run(t, tt.args...)
			require.NoError(t, err)

			var got struct {
				Profile   string `json:"profile"`
				Route     string `json:"route"`
				Heuristic string `json:"heuristic_route"`
				Refined   bool   `json:"refined"`
			}
			require.NoError(t, json.Unmarshal([]byte(out), &got))
			assert.Equal(t, tt.profile, got.Profile)
			assert.Equal(t, tt.route, got.Route)
			assert.Equal(t, tt.heuristic, got.Heuristic)
			assert.False(t, got.Refined)
		})
	}
}

func TestClassify_UnknownProfile(t *testing.T) {
	_, err := run(t, "classify", "--no-refine", "--profile", "paranoid", "What is the invoice total?")
	require.Error(t, err)
	assert.True(t, errors.Is(err, config.ErrUnknownProfile))
}

func TestClassify_RequiresQuestion(t *testing.T) {
	_, err := run(t, "classify", "--no-refine")
	require.Error(t, err)
}

func TestMigrate_ValidatesDirection(t *testing.T) {
	for _, args := range [][]string{
		{"migrate"},
		{"migrate", "sideways"},
		{"migrate", "up", "down"},
	} {
		_, err := run(t, args...)
		assert.Error(t, err, args)
	}
}

func TestAsk_RequiresTenant(t *testing.T) {
	_, err := run(t, "ask", "--graph", "memory", "Who is Acme Corp?")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tenant")
}

func TestIndex_RejectsPositionalArgs(t *testing.T) {
	_, err := run(t, "index", "--tenant", "acme", "extra")
	require.Error(t, err)
}

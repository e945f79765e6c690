package ai

import (
	"testing"
)

func TestUnmarshalFlexible_ModelOutputVariants(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{
			name:  "valid json object",
			input: `{"sub_questions":["Who signed the MSA?"]}`,
			want:  []string{"Who signed the MSA?"},
		},
		{
			name:  "unquoted key and single quotes",
			input: `{sub_questions: ['Who signed the MSA?']}`,
			want:  []string{"Who signed the MSA?"},
		},
		{
			name:  "trailing comma",
			input: `{"sub_questions":["a","b",],}`,
			want:  []string{"a", "b"},
		},
		{
			name:  "missing end bracket",
			input: `{"sub_questions":["a"`,
			want:  []string{"a"},
		},
		{
			name:  "stringified object",
			input: `"{\"sub_questions\": [\"a\", \"b\"]}"`,
			want:  []string{"a", "b"},
		},
		{
			name:  "duplicate leading brace",
			input: "{\n{\n  \"sub_questions\": [\"a\"]\n}\n",
			want:  []string{"a"},
		},
		{
			name:  "markdown code fence",
			input: "```json\n{\"sub_questions\": [\"a\"]}\n```",
			want:  []string{"a"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var got decomposition
			if err := UnmarshalFlexible(tc.input, &got); err != nil {
				t.Fatalf("UnmarshalFlexible() error = %v", err)
			}
			if len(got.SubQuestions) != len(tc.want) {
				t.Fatalf("UnmarshalFlexible() got = %+v, want %v", got.SubQuestions, tc.want)
			}
			for i := range tc.want {
				if got.SubQuestions[i] != tc.want[i] {
					t.Fatalf("UnmarshalFlexible() [%d] = %q, want %q", i, got.SubQuestions[i], tc.want[i])
				}
			}
		})
	}
}

func TestStripCodeFence(t *testing.T) {
	if got := stripCodeFence("```\n{}\n```"); got != "{}" {
		t.Fatalf("stripCodeFence() = %q", got)
	}
	if got := stripCodeFence(` {"a":1} `); got != `{"a":1}` {
		t.Fatalf("stripCodeFence() = %q", got)
	}
}

func TestGenerateSchema_RequiresFields(t *testing.T) {
	schema := GenerateSchema(&complexityEstimate{})
	if schema == nil {
		t.Fatal("GenerateSchema() returned nil")
	}
}

// Package commands defines the Cobra commands of the kiwiq binary.
package commands

import (
	"os"

	"github.com/OFFIS-RIT/kiwi-query/internal/backend"
	"github.com/OFFIS-RIT/kiwi-query/internal/config"
	"github.com/OFFIS-RIT/kiwi-query/internal/util"
	"github.com/OFFIS-RIT/kiwi-query/pkg/logger"
	"github.com/OFFIS-RIT/kiwi-query/pkg/logger/console"

	"github.com/spf13/cobra"
)

// globals holds the persistent flags shared by every subcommand.
type globals struct {
	configPath string
	graph      string
	vector     string
	fixture    string
	debug      bool

	settings *config.Settings
}

func (g *globals) backendOptions(skipAI bool) backend.Options {
	return backend.Options{
		Graph:   g.graph,
		Vector:  g.vector,
		Fixture: g.fixture,
		SkipAI:  skipAI,
	}
}

// NewRootCmd constructs the root command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	g := &globals{}

	root := &cobra.Command{
		Use:   "kiwiq",
		Short: "Routed multi-hop retrieval over a tenant knowledge graph",
		Long: `kiwiq routes a question to one of four retrieval strategies, walks the
tenant's knowledge graph for evidence and synthesizes a cited answer.

Backends are selected with GRAPH_BACKEND (postgres, neo4j, memory) and
VECTOR_BACKEND (qdrant) or the matching flags. Retrieval tunables come from
the YAML file named by --config or QUERY_CONFIG_FILE.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			util.LoadEnv()

			debug := g.debug || util.GetEnvBool("DEBUG", false)
			logger.Init(console.NewConsoleLogger(console.ConsoleLoggerParams{
				Debug:  debug,
				Output: os.Stderr,
			}))

			var err error
			if g.configPath != "" {
				g.settings, err = config.Load(g.configPath)
			} else {
				g.settings, err = config.LoadFromEnv()
			}
			return err
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&g.configPath, "config", "", "Path to the query config file (default: $QUERY_CONFIG_FILE)")
	flags.StringVar(&g.graph, "graph", "", "Graph backend: postgres, neo4j or memory (default: $GRAPH_BACKEND)")
	flags.StringVar(&g.vector, "vector", "", "External entity index: qdrant (default: $VECTOR_BACKEND)")
	flags.StringVar(&g.fixture, "fixture", "", "JSON graph fixture for the memory backend (default: $GRAPH_FIXTURE)")
	flags.BoolVar(&g.debug, "debug", false, "Enable debug logging")

	root.AddCommand(
		newAskCmd(g),
		newClassifyCmd(g),
		newMigrateCmd(),
		newIndexCmd(g),
	)

	return root
}

package commands

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/kiwi-query/internal/backend"
	"github.com/OFFIS-RIT/kiwi-query/pkg/query"

	"github.com/spf13/cobra"
)

func newClassifyCmd(g *globals) *cobra.Command {
	var (
		tenant   string
		profile  string
		noRefine bool
	)

	cmd := &cobra.Command{
		Use:   "classify [question]",
		Short: "Show which route a question would take",
		Long: `Score a question and print the route it would be sent to, without
retrieving anything. With --no-refine no model is contacted.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, p, err := g.settings.Resolve(tenant, profile)
			if err != nil {
				return fmt.Errorf("classify: %w", err)
			}

			var refiner query.ComplexityRefiner
			if !noRefine {
				client, err := backend.NewAIClient()
				if err != nil {
					return fmt.Errorf("classify: %w", err)
				}
				refiner = backend.NewQueryClient(client)
			}

			cls, err := query.NewRouter(cfg, refiner).Classify(cmd.Context(), strings.Join(args, " "), p)
			if err != nil {
				return fmt.Errorf("classify: %w", err)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(struct {
				Profile string `json:"profile"`
				query.Classification
			}{Profile: p.Name, Classification: cls})
		},
	}

	cmd.Flags().StringVarP(&tenant, "tenant", "t", "", "Tenant whose settings are used")
	cmd.Flags().StringVarP(&profile, "profile", "p", "", "Routing profile (default: the tenant's profile)")
	cmd.Flags().BoolVar(&noRefine, "no-refine", false, "Skip the model refinement of ambiguous scores")

	return cmd
}

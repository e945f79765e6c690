package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/OFFIS-RIT/kiwi-query/internal/backend"
	"github.com/OFFIS-RIT/kiwi-query/pkg/ai"
	"github.com/OFFIS-RIT/kiwi-query/pkg/query"

	"github.com/spf13/cobra"
)

func newAskCmd(g *globals) *cobra.Command {
	var (
		tenant  string
		profile string
		route   string
		mode    string
		asJSON  bool
		trace   bool
	)

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Answer a question from a tenant's knowledge graph",
		Long: `Answer a question from a tenant's knowledge graph and print the cited answer.

Examples:
  kiwiq ask --tenant acme "What is the total of invoice 2024-17?"
  kiwiq ask --graph memory --fixture graph.json --tenant acme --route drift "Compare Acme and Globex"
  kiwiq ask --tenant acme --json "Who runs the Acme plant?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			b, err := backend.Open(ctx, g.backendOptions(false))
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer b.Close()

			var tracer query.Tracer
			if trace {
				tracer = query.LogTracer{RequestID: "cli"}
			}
			factory := backend.NewPipelineFactory(backend.FactoryParams{
				Store:    b.Store,
				LLM:      b.LLM,
				Settings: g.settings,
				Tracer:   tracer,
			})
			pipeline, err := factory(ctx, tenant, profile)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			req := query.Request{
				Query:        strings.Join(args, " "),
				TenantID:     tenant,
				ResponseMode: ai.ResponseMode(mode),
			}
			if route != "" {
				r, err := query.ParseRoute(route)
				if err != nil {
					return err
				}
				req.RouteOverride = &r
			}

			answer, err := pipeline.Execute(ctx, req)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(answer)
			}
			printAnswer(cmd.OutOrStdout(), answer)
			return nil
		},
	}

	cmd.Flags().StringVarP(&tenant, "tenant", "t", "", "Tenant whose graph is queried")
	cmd.Flags().StringVarP(&profile, "profile", "p", "", "Routing profile (default: the tenant's profile)")
	cmd.Flags().StringVarP(&route, "route", "r", "", "Force a route: simple_lookup, local, global or drift")
	cmd.Flags().StringVarP(&mode, "mode", "m", string(ai.ResponseConcise), "Response mode: concise, detailed or bulleted")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full answer as JSON")
	cmd.Flags().BoolVar(&trace, "trace", false, "Log every trace event at debug level")
	_ = cmd.MarkFlagRequired("tenant")

	return cmd
}

func printAnswer(w io.Writer, a *query.Answer) {
	fmt.Fprintln(w, a.Text)
	if len(a.Citations) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Sources:")
		for _, c := range a.Citations {
			fmt.Fprintf(w, "  [%d] %s (%s)\n", c.Index, c.Document, c.ChunkID)
		}
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "route=%s hops=%d chunks=%d", a.Route, a.Trace.HopsCompleted, len(a.Trace.UsedChunkIDs))
	if len(a.Degraded) > 0 {
		kinds := make([]string, len(a.Degraded))
		for i, d := range a.Degraded {
			kinds[i] = string(d)
		}
		fmt.Fprintf(w, " degraded=%s", strings.Join(kinds, ","))
	}
	fmt.Fprintln(w)
}

package commands

import (
	"fmt"

	"github.com/OFFIS-RIT/kiwi-query/internal/backend"

	"github.com/spf13/cobra"
)

func newIndexCmd(g *globals) *cobra.Command {
	var tenants []string

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Copy entity embeddings into the Qdrant index",
		Long: `Copy the entity embeddings of one or more tenants from the graph store
into the Qdrant collection that answers entity similarity search.

Example:
  kiwiq index --tenant acme --tenant globex`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			opts := g.backendOptions(true)
			opts.Vector = backend.VectorQdrant
			b, err := backend.Open(ctx, opts)
			if err != nil {
				return fmt.Errorf("index: %w", err)
			}
			defer b.Close()

			for _, tenant := range tenants {
				n, err := b.IndexTenant(ctx, tenant)
				if err != nil {
					return fmt.Errorf("index %s: %w", tenant, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d entities indexed\n", tenant, n)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&tenants, "tenant", "t", nil, "Tenant to index (repeatable)")
	_ = cmd.MarkFlagRequired("tenant")

	return cmd
}

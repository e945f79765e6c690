package commands

import (
	"fmt"

	"github.com/OFFIS-RIT/kiwi-query/internal/backend"
	"github.com/OFFIS-RIT/kiwi-query/internal/util"

	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:       "migrate (up|down)",
		Short:     "Apply or revert the Postgres graph schema",
		Long:      `Apply or revert the Postgres graph schema against DATABASE_URL.`,
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := backend.Migrate(util.GetEnv("DATABASE_URL"), dir, args[0] == "up"); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "migrate %s: done\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "migrations", "Directory holding the migration files")

	return cmd
}

package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migratePruneCache bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd.Context())
		if err != nil {
			return eris.Wrap(err, "cmd: open store")
		}
		defer st.Close()

		if err := st.Migrate(cmd.Context()); err != nil {
			return eris.Wrap(err, "cmd: migrate")
		}
		zap.L().Info("schema up to date", zap.String("driver", cfg.Store.Driver))

		if migratePruneCache {
			n, err := st.DeleteExpiredProviderFacts(cmd.Context())
			if err != nil {
				return eris.Wrap(err, "cmd: prune provider cache")
			}
			zap.L().Info("provider cache pruned", zap.Int("deleted", n))
		}
		return nil
	},
}

func init() {
	migrateCmd.Flags().BoolVar(&migratePruneCache, "prune-cache", false, "delete expired fund-fact cache entries")
	rootCmd.AddCommand(migrateCmd)
}

package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/davidTeng2025/water-info-crawler/internal/store"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create an empty store",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.NewSQLite(cfg.Store.Path)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.Migrate(cmd.Context()); err != nil {
			return err
		}
		zap.L().Info("store initialized", zap.String("path", cfg.Store.Path))
		return nil
	},
}

func init() { rootCmd.AddCommand(initCmd) }

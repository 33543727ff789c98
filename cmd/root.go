package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/davidTeng2025/water-info-crawler/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "water-info-crawler",
	Short: "Water quality monitoring data with nearest-site queries",
	Long:  "Geocodes scraped water quality records, stores them in atomically swapped generations, and answers nearest-site queries by place name over CLI or HTTP.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

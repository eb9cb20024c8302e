package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/brightpath-advice/advicegen/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "advicegen",
	Short: "Regulated advice document generation",
	Long:  "Extracts facts from adviser call material via tiered Claude models, computes premium summaries deterministically, renders templated advice documents, and exports audited PDFs.",
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

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/leadextract/internal/config"
)

// cfg is loaded once before any subcommand runs.
var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:               "leadextract",
	Short:             "Conversation lead extraction service",
	Long:              "Ingests CRM conversation webhooks, assembles transcripts, extracts lead fields via Claude, merges them into contacts, and meters overage billing.",
	PersistentPreRunE: loadConfigAndLogger,
	PersistentPostRun: flushLogger,
}

func loadConfigAndLogger(_ *cobra.Command, _ []string) error {
	c, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg = c

	if err := config.InitLogger(cfg.Log); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	return nil
}

func flushLogger(_ *cobra.Command, _ []string) {
	_ = zap.L().Sync()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

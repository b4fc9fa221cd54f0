package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var logLevel = new(slog.LevelVar)

var rootCmd = &cobra.Command{
	Use:   "interview-engine",
	Short: "Session lifecycle and credit ledger service",
	Long: `interview-engine runs the practice-interview backend:
- session lifecycle and desktop pairing
- credit ledger and payment reconciliation`,
	SilenceUsage: true,
	RunE:         runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
}

func main() {
	// Setup structured logging with JSON format
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	if err := rootCmd.Execute(); err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

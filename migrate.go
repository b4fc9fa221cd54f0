package main

import (
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/krshsl/interview-engine/migrations"
	svc "github.com/krshsl/interview-engine/services"
	"github.com/pressly/goose/v3"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:       "migrate [up|down|status]",
	Short:     "Apply the embedded SQL migrations",
	Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"up", "down", "status"},
	RunE:      runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	direction := "up"
	if len(args) == 1 {
		direction = args[0]
	}

	cfg := svc.LoadConfig()
	if cfg.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is not set")
	}

	db, err := sql.Open("pgx", cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("pgx"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	ctx := cmd.Context()
	switch direction {
	case "down":
		err = goose.DownContext(ctx, db, ".")
	case "status":
		err = goose.StatusContext(ctx, db, ".")
	default:
		err = goose.UpContext(ctx, db, ".")
	}
	if err != nil {
		return fmt.Errorf("migrate %s failed: %w", direction, err)
	}
	return nil
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/krshsl/interview-engine/cache"
	"github.com/krshsl/interview-engine/repository"
	svc "github.com/krshsl/interview-engine/services"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := svc.LoadConfig()
	logLevel.Set(svc.ParseLogLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := svc.OpenDatabase(cfg.Database)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	defer sqlDB.Close()

	repo := repository.NewGORMRepository(db)
	if cfg.Database.AutoMigrate {
		if err := repo.AutoMigrate(); err != nil {
			return fmt.Errorf("failed to auto-migrate: %w", err)
		}
		slog.Info("Database auto-migrated")
	}

	redisClient, err := cache.NewClient(ctx, cache.Options{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return err
	}
	defer redisClient.Close()

	server := svc.NewServer(cfg, repo, cache.NewRedisStore(redisClient))
	if err := server.InitializeServices(); err != nil {
		return err
	}
	if cfg.Database.Seed {
		if err := server.Seed(ctx); err != nil {
			return fmt.Errorf("failed to seed database: %w", err)
		}
	}

	return server.Start(ctx)
}

package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"wisefido-checkin/internal/common/database"
	"wisefido-checkin/internal/common/logger"
	"wisefido-checkin/internal/config"
	"wisefido-checkin/internal/repository/migrations"

	"go.uber.org/zap"
)

// apply-migration runs every embedded migration in order.
// The scripts are idempotent, so re-running is safe.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.NewLogger(cfg.Log.Level, "console", "apply-migration")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	all, err := migrations.All()
	if err != nil {
		log.Fatal("Failed to load migrations", zap.Error(err))
	}

	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		log.Fatal("Cannot connect to database", zap.Error(err))
	}
	defer db.Close()

	log.Info("Connected to database", zap.String("database", cfg.Database.Database))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	for _, m := range all {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			log.Fatal("Failed to begin transaction", zap.String("migration", m.Name), zap.Error(err))
		}
		if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
			_ = tx.Rollback()
			log.Fatal("Migration failed", zap.String("migration", m.Name), zap.Error(err))
		}
		if err := tx.Commit(); err != nil {
			log.Fatal("Failed to commit migration", zap.String("migration", m.Name), zap.Error(err))
		}
		log.Info("Migration applied", zap.String("migration", m.Name))
	}

	log.Info("Migrations completed", zap.Int("count", len(all)))
}

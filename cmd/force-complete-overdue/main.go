package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"wisefido-checkin/internal/common/database"
	"wisefido-checkin/internal/common/logger"
	"wisefido-checkin/internal/config"
	"wisefido-checkin/internal/repository"
	"wisefido-checkin/internal/service"
	"wisefido-checkin/internal/store"

	"go.uber.org/zap"
)

// force-complete-overdue completes pending sessions whose scheduled time has passed,
// without calling anyone. Used to drain a backlog after a long scheduler outage.
func main() {
	before := flag.String("before", "", "RFC3339 cutoff (default: now)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.NewLogger(cfg.Log.Level, "console", "force-complete-overdue")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	cutoff := time.Now().UTC()
	if *before != "" {
		t, err := time.Parse(time.RFC3339, *before)
		if err != nil {
			log.Fatal("Invalid -before, expected RFC3339", zap.String("before", *before), zap.Error(err))
		}
		cutoff = t.UTC()
	}

	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		log.Fatal("Cannot connect to database", zap.Error(err))
	}
	defer db.Close()

	sessions := repository.NewPostgresSessionStore(db, log)
	events := service.NewEventRecorder(sessions, log)
	controller := service.NewSessionController(sessions, events, nil, nil, nil, cfg.Classifier.Threshold, log)
	svc := service.NewSessionService(sessions, controller, nil, store.NewMemoryKV(), log)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	n, err := svc.ForceCompleteOverdue(ctx, cutoff)
	if err != nil {
		log.Fatal("Force-complete failed", zap.Int("completed", n), zap.Error(err))
	}
	fmt.Printf("Force-completed %d overdue session(s) scheduled at or before %s\n", n, cutoff.Format(time.RFC3339))
}

// Command seed loads the demo listings, posts and settings into the
// configured database. It is safe to run against an empty schema only.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/havenly/havenly-backend/internal/config"
	"github.com/havenly/havenly-backend/internal/db"
	"github.com/havenly/havenly-backend/internal/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := log.NewSugar(cfg.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	database, err := db.NewDatabase(db.ConfigFrom(cfg), logger)
	if err != nil {
		logger.Fatalw("Failed to create database", "error", err)
	}
	if err := db.ConnectAndMigrate(ctx, database, db.AllSchemas()); err != nil {
		logger.Fatalw("Failed to set up database", "error", err)
	}
	defer database.Disconnect(context.Background())

	now := time.Now().UTC()
	if err := db.SeedFixtures(ctx, database, now); err != nil {
		logger.Fatalw("Seeding failed", "error", err)
	}
	logger.Infow("Seed complete",
		"db", cfg.Database.Type,
		"properties", len(db.PropertyFixtures(now)),
		"posts", len(db.PostFixtures(now)),
		"settings", len(db.SettingFixtures()),
	)
}

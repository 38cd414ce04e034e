package db

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/havenly/havenly-backend/internal/config"
	"github.com/havenly/havenly-backend/internal/db/backends/memory"
	"github.com/havenly/havenly-backend/internal/db/backends/postgres"
	"github.com/havenly/havenly-backend/internal/db/interfaces"
)

// Config holds database configuration
type Config struct {
	Type     string // "memory", "postgres"
	DSN      string
	MaxConns int32
}

// ConfigFrom extracts the database settings from the application config.
func ConfigFrom(cfg *config.Config) *Config {
	return &Config{
		Type:     cfg.Database.Type,
		DSN:      cfg.Database.PostgresDSN,
		MaxConns: cfg.Database.MaxConns,
	}
}

// NewDatabase creates a new database instance based on configuration
func NewDatabase(cfg *Config, logger *zap.SugaredLogger) (interfaces.Database, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	switch cfg.Type {
	case "", "memory":
		logger.Infow("Using in-memory database")
		return memory.NewDatabase(logger), nil
	case "postgres":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("postgres backend requires a DSN")
		}
		logger.Infow("Using PostgreSQL database", "max_conns", cfg.MaxConns)
		return postgres.NewDatabase(postgres.Config{DSN: cfg.DSN, MaxConns: cfg.MaxConns}, logger), nil
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}
}

// NewInMemoryDatabase creates a new in-memory database instance
func NewInMemoryDatabase(logger *zap.SugaredLogger) *memory.Database {
	return memory.NewDatabase(logger)
}

// ConnectAndMigrate connects to the database and runs migrations
func ConnectAndMigrate(ctx context.Context, db interfaces.Database, schemas []*interfaces.Schema) error {
	if err := db.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	if !db.IsHealthy(ctx) {
		return fmt.Errorf("database health check failed")
	}

	if err := db.Migrate(ctx, schemas); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	return nil
}

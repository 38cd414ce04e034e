package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"github.com/havenly/havenly-backend/internal/db/interfaces"
	"github.com/havenly/havenly-backend/internal/db/migrations"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Config controls the connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// Database implements interfaces.Database on a pgx connection pool.
type Database struct {
	cfg    Config
	logger *zap.SugaredLogger

	mu   sync.RWMutex
	pool *pgxpool.Pool
}

func NewDatabase(cfg Config, logger *zap.SugaredLogger) *Database {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = 5
	}
	if cfg.MinConns <= 0 {
		cfg.MinConns = 1
	}
	if cfg.MaxConnLifetime == 0 {
		cfg.MaxConnLifetime = 30 * time.Minute
	}
	if cfg.MaxConnIdleTime == 0 {
		cfg.MaxConnIdleTime = 5 * time.Minute
	}
	return &Database{cfg: cfg, logger: logger}
}

func (db *Database) Connect(ctx context.Context) error {
	poolCfg, err := pgxpool.ParseConfig(db.cfg.DSN)
	if err != nil {
		return &interfaces.DatabaseError{Op: "parse config", Err: err}
	}
	poolCfg.MaxConns = db.cfg.MaxConns
	poolCfg.MinConns = db.cfg.MinConns
	poolCfg.MaxConnLifetime = db.cfg.MaxConnLifetime
	poolCfg.MaxConnIdleTime = db.cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return &interfaces.DatabaseError{Op: "create pool", Err: err}
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return &interfaces.DatabaseError{Op: "ping", Err: err}
	}

	db.mu.Lock()
	db.pool = pool
	db.mu.Unlock()

	db.logger.Infow("Connected to PostgreSQL",
		"host", poolCfg.ConnConfig.Host,
		"database", poolCfg.ConnConfig.Database,
		"max_conns", poolCfg.MaxConns,
	)
	return nil
}

func (db *Database) Disconnect(ctx context.Context) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.pool != nil {
		db.pool.Close()
		db.pool = nil
		db.logger.Infow("Disconnected from PostgreSQL")
	}
	return nil
}

func (db *Database) IsHealthy(ctx context.Context) bool {
	pool := db.getPool()
	if pool == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return pool.Ping(ctx) == nil
}

// Pool exposes the underlying pool for tools such as cmd/migrate.
func (db *Database) Pool() *pgxpool.Pool {
	return db.getPool()
}

func (db *Database) getPool() *pgxpool.Pool {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.pool
}

func (db *Database) Transaction(ctx context.Context, fn func(ctx context.Context, tx interfaces.Transaction) error) error {
	pool := db.getPool()
	if pool == nil {
		return interfaces.ErrDatabaseNotConnected
	}

	pgTx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return &interfaces.DatabaseError{Op: "begin", Err: err}
	}
	tx := &Transaction{tx: pgTx, logger: db.logger}
	defer func() {
		if !tx.IsCompleted() {
			tx.rollback(ctx)
		}
	}()

	if err := fn(ctx, tx); err != nil {
		tx.rollback(ctx)
		return err
	}
	return tx.commit(ctx)
}

func (db *Database) Repository(schema *interfaces.Schema) interfaces.Repository {
	return newRepository(poolQuerier{db}, schema)
}

// poolQuerier resolves the pool on every call so repositories created before
// Connect keep working afterwards.
type poolQuerier struct {
	db *Database
}

func (p poolQuerier) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	pool := p.db.getPool()
	if pool == nil {
		return nil, interfaces.ErrDatabaseNotConnected
	}
	return pool.Query(ctx, sql, args...)
}

func (p poolQuerier) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	pool := p.db.getPool()
	if pool == nil {
		return pgconn.CommandTag{}, interfaces.ErrDatabaseNotConnected
	}
	return pool.Exec(ctx, sql, args...)
}

// Migrate applies the embedded goose migrations and then checks that every
// schema has a backing table.
func (db *Database) Migrate(ctx context.Context, schemas []*interfaces.Schema) error {
	pool := db.getPool()
	if pool == nil {
		return interfaces.ErrDatabaseNotConnected
	}

	sqlDB := stdlib.OpenDBFromPool(pool)
	defer sqlDB.Close()

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return &interfaces.DatabaseError{Op: "migrate", Err: err}
	}
	if err := goose.UpContext(ctx, sqlDB, "."); err != nil {
		return &interfaces.DatabaseError{Op: "migrate", Err: err}
	}

	for _, schema := range schemas {
		var exists bool
		err := pool.QueryRow(ctx, "SELECT to_regclass($1) IS NOT NULL", "public."+schema.TableName).Scan(&exists)
		if err != nil {
			return &interfaces.DatabaseError{Op: "migrate", Err: err}
		}
		if !exists {
			return &interfaces.DatabaseError{Op: "migrate", Err: fmt.Errorf("table %q missing after migrations", schema.TableName)}
		}
	}

	db.logger.Infow("PostgreSQL migration completed", "tables", len(schemas))
	return nil
}

// Seed inserts records, skipping ones that already exist so it can be rerun.
func (db *Database) Seed(ctx context.Context, schema *interfaces.Schema, data []map[string]interface{}) error {
	if db.getPool() == nil {
		return interfaces.ErrDatabaseNotConnected
	}

	repo := db.Repository(schema)
	inserted, skipped := 0, 0
	for i, record := range data {
		if _, err := repo.Create(ctx, record); err != nil {
			if errors.Is(err, interfaces.ErrUniqueConstraint) {
				skipped++
				continue
			}
			db.logger.Warnw("Failed to seed record", "table", schema.TableName, "index", i, "error", err)
			continue
		}
		inserted++
	}
	db.logger.Infow("Seeded table", "table", schema.TableName, "inserted", inserted, "skipped", skipped)
	return nil
}

package memory

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/havenly/havenly-backend/internal/db/interfaces"
)

type table map[string]map[string]interface{} // primary key -> record

// Database implements the Database interface for in-memory storage. It is
// meant for development and tests; transactions are serialized and roll back
// only the rows they wrote.
type Database struct {
	mu        sync.RWMutex
	txMu      sync.Mutex
	tables    map[string]table
	schemas   map[string]*interfaces.Schema
	connected bool
	logger    *zap.SugaredLogger
}

// NewDatabase creates a new in-memory database
func NewDatabase(logger *zap.SugaredLogger) *Database {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Database{
		tables:  make(map[string]table),
		schemas: make(map[string]*interfaces.Schema),
		logger:  logger,
	}
}

func (db *Database) Connect(ctx context.Context) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.connected = true
	db.logger.Infow("Connected to in-memory database")
	return nil
}

func (db *Database) Disconnect(ctx context.Context) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.connected = false
	db.tables = make(map[string]table)
	db.schemas = make(map[string]*interfaces.Schema)
	db.logger.Infow("Disconnected from in-memory database")
	return nil
}

func (db *Database) IsHealthy(ctx context.Context) bool {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.connected
}

// Transaction runs fn with exclusive access among transactions. Writes made
// through the transaction's repositories are undone if fn fails.
func (db *Database) Transaction(ctx context.Context, fn func(ctx context.Context, tx interfaces.Transaction) error) error {
	if !db.IsHealthy(ctx) {
		return interfaces.ErrDatabaseNotConnected
	}

	db.txMu.Lock()
	defer db.txMu.Unlock()

	tx := newTransaction(db)
	defer func() {
		if !tx.IsCompleted() {
			tx.rollback()
		}
	}()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := fn(ctx, tx); err != nil {
		tx.rollback()
		return err
	}
	return tx.commit()
}

// Repository returns a repository for the given schema
func (db *Database) Repository(schema *interfaces.Schema) interfaces.Repository {
	db.register(schema)
	return NewRepository(db, schema)
}

func (db *Database) register(schema *interfaces.Schema) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.schemas[schema.TableName] = schema
	if _, ok := db.tables[schema.TableName]; !ok {
		db.tables[schema.TableName] = make(table)
	}
}

// Migrate registers schemas and creates their tables
func (db *Database) Migrate(ctx context.Context, schemas []*interfaces.Schema) error {
	if !db.IsHealthy(ctx) {
		return interfaces.ErrDatabaseNotConnected
	}
	for _, schema := range schemas {
		db.register(schema)
	}
	db.logger.Infow("In-memory migration completed", "tables", len(schemas))
	return nil
}

// Seed inserts records, skipping ones that already exist so it can be rerun.
func (db *Database) Seed(ctx context.Context, schema *interfaces.Schema, data []map[string]interface{}) error {
	if !db.IsHealthy(ctx) {
		return interfaces.ErrDatabaseNotConnected
	}

	repo := db.Repository(schema)
	inserted := 0
	for i, record := range data {
		if _, err := repo.Create(ctx, record); err != nil {
			db.logger.Warnw("Failed to seed record", "table", schema.TableName, "index", i, "error", err)
			continue
		}
		inserted++
	}
	db.logger.Infow("Seeded table", "table", schema.TableName, "inserted", inserted, "total", len(data))
	return nil
}

// GetTableData returns a copy of a table keyed by primary key (for tests).
func (db *Database) GetTableData(tableName string) map[string]map[string]interface{} {
	db.mu.RLock()
	defer db.mu.RUnlock()

	t, ok := db.tables[tableName]
	if !ok {
		return nil
	}
	out := make(map[string]map[string]interface{}, len(t))
	for id, record := range t {
		out[id] = copyRecord(record)
	}
	return out
}

// Clear removes all rows from all tables (for tests)
func (db *Database) Clear() {
	db.mu.Lock()
	defer db.mu.Unlock()
	for name := range db.tables {
		db.tables[name] = make(table)
	}
}

// undo puts back the rows recorded in u. Rows the transaction never wrote
// are left as they are.
func (db *Database) undo(u *undoLog) {
	if u == nil {
		return
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	for name, rows := range u.prior {
		t, ok := db.tables[name]
		if !ok {
			t = make(table)
			db.tables[name] = t
		}
		for key, record := range rows {
			if record == nil {
				delete(t, key)
			} else {
				t[key] = record
			}
		}
	}
}

func keyString(v interface{}) string {
	if id, ok := v.(interfaces.ID); ok {
		return id.String()
	}
	return fmt.Sprint(v)
}

package memory

import (
	"context"
	"sync"

	"github.com/havenly/havenly-backend/internal/db/interfaces"
)

// undoLog keeps the prior value of every row a transaction writes, so
// rollback touches nothing else. A nil prior marks a row that did not exist.
type undoLog struct {
	prior map[string]map[string]map[string]interface{} // table -> key -> record
}

func newUndoLog() *undoLog {
	return &undoLog{prior: make(map[string]map[string]map[string]interface{})}
}

// remember records the current value of (tableName, key) on the first write
// only. Caller holds db.mu.
func (u *undoLog) remember(db *Database, tableName, key string) {
	if u == nil {
		return
	}
	rows, ok := u.prior[tableName]
	if !ok {
		rows = make(map[string]map[string]interface{})
		u.prior[tableName] = rows
	}
	if _, seen := rows[key]; seen {
		return
	}
	if record, exists := db.tables[tableName][key]; exists {
		rows[key] = copyRecord(record)
	} else {
		rows[key] = nil
	}
}

// Transaction represents an in-memory transaction
type Transaction struct {
	mu         sync.RWMutex
	db         *Database
	undo       *undoLog
	committed  bool
	rolledBack bool
}

func newTransaction(db *Database) *Transaction {
	return &Transaction{db: db, undo: newUndoLog()}
}

// Repository returns a repository writing through this transaction.
func (tx *Transaction) Repository(schema *interfaces.Schema) interfaces.Repository {
	tx.db.register(schema)
	repo := NewRepository(tx.db, schema)
	repo.undo = tx.undo
	return repo
}

// Lock is satisfied by the database-wide transaction mutex.
func (tx *Transaction) Lock(ctx context.Context, key string) error {
	if tx.IsCompleted() {
		return interfaces.ErrTransactionCompleted
	}
	return ctx.Err()
}

func (tx *Transaction) commit() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.committed || tx.rolledBack {
		return interfaces.ErrTransactionCompleted
	}
	tx.committed = true
	tx.undo = nil
	return nil
}

func (tx *Transaction) rollback() {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.committed || tx.rolledBack {
		return
	}
	tx.db.undo(tx.undo)
	tx.rolledBack = true
}

// IsCompleted returns true if the transaction has been committed or rolled back
func (tx *Transaction) IsCompleted() bool {
	tx.mu.RLock()
	defer tx.mu.RUnlock()
	return tx.committed || tx.rolledBack
}

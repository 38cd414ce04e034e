package postgres

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/havenly/havenly-backend/internal/db/interfaces"
)

// Transaction wraps a pgx.Tx. Repositories it hands out run every statement
// on the transaction's connection.
type Transaction struct {
	tx     pgx.Tx
	logger *zap.SugaredLogger

	mu        sync.RWMutex
	completed bool
}

func (t *Transaction) Repository(schema *interfaces.Schema) interfaces.Repository {
	return newRepository(t.tx, schema)
}

// Lock takes a transaction-scoped advisory lock on hashtext(key).
func (t *Transaction) Lock(ctx context.Context, key string) error {
	if t.IsCompleted() {
		return interfaces.ErrTransactionCompleted
	}
	if _, err := t.tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", key); err != nil {
		return &interfaces.DatabaseError{Op: "lock", Err: err}
	}
	return nil
}

func (t *Transaction) IsCompleted() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.completed
}

func (t *Transaction) commit(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.completed {
		return interfaces.ErrTransactionCompleted
	}
	t.completed = true
	if err := t.tx.Commit(ctx); err != nil {
		return mapError("commit", err)
	}
	return nil
}

func (t *Transaction) rollback(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.completed {
		return
	}
	t.completed = true
	// The caller's context may already be cancelled.
	if err := t.tx.Rollback(context.WithoutCancel(ctx)); err != nil {
		t.logger.Warnw("Rollback failed", "error", err)
	}
}

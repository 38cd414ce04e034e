package interfaces

import "context"

// Transaction represents a database transaction
type Transaction interface {
	// Repository returns a repository whose reads and writes run inside
	// this transaction.
	Repository(schema *Schema) Repository

	// Lock takes an exclusive lock on key that is held until the
	// transaction ends. Concurrent transactions locking the same key
	// run one after another.
	Lock(ctx context.Context, key string) error

	// IsCompleted returns true if the transaction has been committed or rolled back
	IsCompleted() bool
}

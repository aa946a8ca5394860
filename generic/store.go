/*
store.go - Persistence interface for posted transactions

PURPOSE:
  Defines the interface between the reward engine's read path and the
  database. Different implementations can use SQLite or in-memory storage.

KEY INTERFACES:
  Store:         Transaction persistence (append, update, load, exists)
  SnapshotStore: Closed-cycle snapshots (see snapshot.go)

IDEMPOTENCY:
  Writes may carry an idempotency key. If the key already exists, the
  write is rejected with ErrDuplicateIdempotencyKey. This prevents
  duplicate transactions from form double-submits.

UPDATES:
  Unlike an accounting ledger, personal finance rows are edited in place
  (the user fixes a category or a share amount). Update replaces the row;
  Void marks it excluded from every computation.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - generic/store/memory.go: In-memory for testing

SEE ALSO:
  - ledger.go: Read interface using Store
*/
package generic

import (
	"context"
	"time"
)

// =============================================================================
// STORE - Interface for transaction persistence
// =============================================================================

type Store interface {
	// Append persists a transaction. Returns ErrDuplicateIdempotencyKey if
	// the idempotency key exists.
	Append(ctx context.Context, tx Transaction) error

	// AppendBatch persists multiple transactions atomically.
	// Either all succeed or none do.
	AppendBatch(ctx context.Context, txs []Transaction) error

	// Update replaces an existing transaction. Returns ErrTransactionNotFound
	// if no row has tx.ID.
	Update(ctx context.Context, tx Transaction) error

	// Get returns a single transaction or ErrTransactionNotFound.
	Get(ctx context.Context, id TransactionID) (*Transaction, error)

	// Load returns all transactions for an account.
	Load(ctx context.Context, accountID AccountID) ([]Transaction, error)

	// LoadRange returns transactions with OccurredAt in [from, to).
	LoadRange(ctx context.Context, accountID AccountID, from, to time.Time) ([]Transaction, error)

	// Exists checks if idempotency key already exists.
	Exists(ctx context.Context, idempotencyKey string) (bool, error)
}

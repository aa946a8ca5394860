/*
ledger.go - Read side of the posted transaction log

PURPOSE:
  The Ledger is how the reward engine sees persisted transactions. The
  engine never writes through it: creating and editing transactions is
  the persistence layer's job. What the engine needs is a consistent
  slice of posted rows for one account inside one billing period.

CONSISTENCY:
  A single SummarizeCycle call works on ONE slice fetched ONCE. A slightly
  stale slice is acceptable for previews; refetching mid-computation is not.
  TransactionsInPeriod therefore returns a copy the caller owns.

SEE ALSO:
  - store.go: Low-level persistence interface
  - cashback/service.go: Fetches one slice per evaluation
*/
package generic

import (
	"context"
	"sort"
)

// =============================================================================
// LEDGER - Read-only view over posted transactions
// =============================================================================

// Ledger returns posted transactions for an account.
type Ledger interface {
	// TransactionsInPeriod returns the account's transactions with
	// OccurredAt in [p.Start, p.End), ordered by OccurredAt then ID.
	TransactionsInPeriod(ctx context.Context, accountID AccountID, p Period) ([]Transaction, error)

	// Transactions returns all transactions for the account, chronologically.
	Transactions(ctx context.Context, accountID AccountID) ([]Transaction, error)
}

// =============================================================================
// DEFAULT LEDGER - Implementation using Store
// =============================================================================

type DefaultLedger struct {
	Store Store
}

func NewLedger(store Store) *DefaultLedger {
	return &DefaultLedger{Store: store}
}

func (l *DefaultLedger) TransactionsInPeriod(ctx context.Context, accountID AccountID, p Period) ([]Transaction, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	txs, err := l.Store.LoadRange(ctx, accountID, p.Start, p.End)
	if err != nil {
		return nil, err
	}
	SortTransactions(txs)
	return txs, nil
}

func (l *DefaultLedger) Transactions(ctx context.Context, accountID AccountID) ([]Transaction, error) {
	txs, err := l.Store.Load(ctx, accountID)
	if err != nil {
		return nil, err
	}
	SortTransactions(txs)
	return txs, nil
}

// SortTransactions orders by OccurredAt, breaking ties by ID so that
// repeated evaluations over the same rows are deterministic.
func SortTransactions(txs []Transaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		if !txs[i].OccurredAt.Equal(txs[j].OccurredAt) {
			return txs[i].OccurredAt.Before(txs[j].OccurredAt)
		}
		return txs[i].ID < txs[j].ID
	})
}

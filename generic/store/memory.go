// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/cashback-engine/generic"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu           sync.RWMutex
	transactions map[generic.AccountID][]generic.Transaction
	byID         map[generic.TransactionID]generic.AccountID
	idempotency  map[string]bool
	snapshots    map[string]generic.Snapshot
}

var (
	_ generic.Store         = (*Memory)(nil)
	_ generic.SnapshotStore = (*Memory)(nil)
)

func NewMemory() *Memory {
	return &Memory{
		transactions: make(map[generic.AccountID][]generic.Transaction),
		byID:         make(map[generic.TransactionID]generic.AccountID),
		idempotency:  make(map[string]bool),
		snapshots:    make(map[string]generic.Snapshot),
	}
}

// Append adds a single transaction.
func (m *Memory) Append(_ context.Context, tx generic.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tx.IdempotencyKey != "" && m.idempotency[tx.IdempotencyKey] {
		return generic.ErrDuplicateIdempotencyKey
	}
	m.appendLocked(tx)
	return nil
}

// AppendBatch adds multiple transactions atomically.
func (m *Memory) AppendBatch(_ context.Context, txs []generic.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Check all idempotency keys first (atomic check)
	seen := make(map[string]bool)
	for _, tx := range txs {
		if tx.IdempotencyKey == "" {
			continue
		}
		if m.idempotency[tx.IdempotencyKey] || seen[tx.IdempotencyKey] {
			return generic.ErrDuplicateIdempotencyKey
		}
		seen[tx.IdempotencyKey] = true
	}

	for _, tx := range txs {
		m.appendLocked(tx)
	}
	return nil
}

func (m *Memory) appendLocked(tx generic.Transaction) {
	txs := m.transactions[tx.AccountID]

	// Binary search for insertion point keeps the slice ordered by OccurredAt.
	i := sort.Search(len(txs), func(i int) bool {
		return txs[i].OccurredAt.After(tx.OccurredAt)
	})

	txs = append(txs, generic.Transaction{})
	copy(txs[i+1:], txs[i:])
	txs[i] = tx
	m.transactions[tx.AccountID] = txs
	m.byID[tx.ID] = tx.AccountID

	if tx.IdempotencyKey != "" {
		m.idempotency[tx.IdempotencyKey] = true
	}
}

// Update replaces a transaction, moving it if the account changed.
func (m *Memory) Update(_ context.Context, tx generic.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	accountID, ok := m.byID[tx.ID]
	if !ok {
		return generic.ErrTransactionNotFound
	}
	m.removeLocked(accountID, tx.ID)
	m.appendLocked(tx)
	return nil
}

func (m *Memory) removeLocked(accountID generic.AccountID, id generic.TransactionID) {
	txs := m.transactions[accountID]
	for i := range txs {
		if txs[i].ID == id {
			m.transactions[accountID] = append(txs[:i], txs[i+1:]...)
			break
		}
	}
	delete(m.byID, id)
}

func (m *Memory) Get(_ context.Context, id generic.TransactionID) (*generic.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	accountID, ok := m.byID[id]
	if !ok {
		return nil, generic.ErrTransactionNotFound
	}
	for _, tx := range m.transactions[accountID] {
		if tx.ID == id {
			found := tx
			return &found, nil
		}
	}
	return nil, generic.ErrTransactionNotFound
}

func (m *Memory) Load(_ context.Context, accountID generic.AccountID) ([]generic.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]generic.Transaction, len(m.transactions[accountID]))
	copy(result, m.transactions[accountID])
	return result, nil
}

func (m *Memory) LoadRange(_ context.Context, accountID generic.AccountID, from, to time.Time) ([]generic.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []generic.Transaction
	for _, tx := range m.transactions[accountID] {
		if !tx.OccurredAt.Before(from) && tx.OccurredAt.Before(to) {
			result = append(result, tx)
		}
	}
	return result, nil
}

func (m *Memory) Exists(_ context.Context, idempotencyKey string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.idempotency[idempotencyKey], nil
}

// =============================================================================
// SNAPSHOTS
// =============================================================================

func (m *Memory) SaveSnapshot(_ context.Context, s generic.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[generic.SnapshotID(s.AccountID, s.Period)] = s
	return nil
}

func (m *Memory) GetSnapshot(_ context.Context, accountID generic.AccountID, p generic.Period) (*generic.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.snapshots[generic.SnapshotID(accountID, p)]
	if !ok {
		return nil, generic.ErrSnapshotNotFound
	}
	return &s, nil
}

func (m *Memory) ListSnapshots(_ context.Context, accountID generic.AccountID) ([]generic.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []generic.Snapshot
	for _, s := range m.snapshots {
		if s.AccountID == accountID {
			result = append(result, s)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Period.Start.Before(result[j].Period.Start)
	})
	return result, nil
}

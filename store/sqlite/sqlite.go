/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Persists the collaborators the cashback engine reads from: accounts with
  their cashback_config blob, categories, shops, posted transactions and
  closed-cycle snapshots. The engine itself never touches SQL; it sees
  this package only through the interfaces below.

INTERFACES IMPLEMENTED:
  generic.Store:           Transaction persistence
  generic.SnapshotStore:   Closed-cycle snapshots
  cashback.AccountSource:  Account lookup with parsed cashback config
  cashback.CategorySource: Category list for rule matching

CONFIG PARSING:
  cashback_config is stored verbatim. GetAccount parses it with the
  tolerant factory parser, so a row written by an older client still
  loads; repairs surface as Account.ConfigAnomalies.

KEY TABLES:
  accounts:     Accounts and their raw cashback_config JSON
  categories:   Category tree with classification tags
  shops:        Merchants referenced by merchant rules
  transactions: Posted rows (editable, voidable)
  snapshots:    Closed-cycle totals

INDEXES:
  - idx_transactions_account_occurred: Cycle range scans (hot path)
  - idx_transactions_idempotency: Double-submit protection

TIMESTAMPS:
  Stored as fixed-width UTC text so that lexical order equals time order
  and range queries can compare strings.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety on top of WAL mode.

USAGE:
  store, err := sqlite.New("./data/cashback.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  ledger := generic.NewLedger(store)
  svc := cashback.NewService(store, store, ledger)

SEE ALSO:
  - generic/store.go: Interface definitions
  - generic/store/memory.go: In-memory implementation for testing
  - factory/policy.go: cashback_config parsing
*/
package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/warp/cashback-engine/generic"
)

// timeLayout is fixed width so that text comparison matches time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var (
	_ generic.Store         = (*Store)(nil)
	_ generic.SnapshotStore = (*Store)(nil)
)

// New opens the database at dbPath and migrates the schema.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	if dbPath == ":memory:" {
		// Every connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	store := NewWithDB(db)
	if err := store.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to migrate database")
	}
	return store, nil
}

// NewWithDB wraps an already opened database without migrating it.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the database schema.
func (s *Store) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		type TEXT NOT NULL,
		credit_limit TEXT,
		cashback_config TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS categories (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		type TEXT NOT NULL DEFAULT 'expense',
		parent_id TEXT,
		tags TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS shops (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		default_category_id TEXT,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL REFERENCES accounts(id),
		kind TEXT NOT NULL,
		amount TEXT NOT NULL,
		occurred_at TEXT NOT NULL,
		category_id TEXT,
		shop_id TEXT,
		person_id TEXT,
		cashback_mode TEXT,
		share_percent TEXT,
		share_fixed TEXT,
		void BOOLEAN NOT NULL DEFAULT FALSE,
		note TEXT,
		idempotency_key TEXT UNIQUE,
		created_at TEXT NOT NULL
	);

	-- Cycle range scans (hot path)
	CREATE INDEX IF NOT EXISTS idx_transactions_account_occurred
		ON transactions(account_id, occurred_at);
	CREATE INDEX IF NOT EXISTS idx_transactions_idempotency
		ON transactions(idempotency_key) WHERE idempotency_key IS NOT NULL;

	CREATE TABLE IF NOT EXISTS snapshots (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		label TEXT NOT NULL,
		period_start TEXT NOT NULL,
		period_end TEXT NOT NULL,
		taken_at TEXT NOT NULL,
		current_spend TEXT NOT NULL,
		earned_so_far TEXT NOT NULL,
		max_cashback TEXT,
		remaining_budget TEXT,
		shared_total TEXT NOT NULL,
		voluntary_loss TEXT NOT NULL,
		min_spend_met BOOLEAN NOT NULL DEFAULT FALSE,
		reason TEXT NOT NULL,
		UNIQUE(account_id, period_start, period_end)
	);

	CREATE INDEX IF NOT EXISTS idx_snapshots_account
		ON snapshots(account_id, period_start);
	`

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Reset deletes all data. Used by tests and `migrate --reset`.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"snapshots", "transactions", "shops", "categories", "accounts"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return errors.Wrapf(err, "failed to reset %s", table)
		}
	}
	return nil
}

// =============================================================================
// TRANSACTION STORE (generic.Store interface)
// =============================================================================

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const transactionColumns = `id, account_id, kind, amount, occurred_at, category_id, shop_id,
	person_id, cashback_mode, share_percent, share_fixed, void, note, idempotency_key, created_at`

// Append adds a transaction.
func (s *Store) Append(ctx context.Context, tx generic.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.appendTx(ctx, s.db, tx)
}

func (s *Store) appendTx(ctx context.Context, db execer, tx generic.Transaction) error {
	createdAt := tx.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO transactions (`+transactionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		tx.ID,
		tx.AccountID,
		tx.Kind,
		tx.Amount.String(),
		formatTime(tx.OccurredAt),
		nullString(tx.CategoryID),
		nullString(tx.ShopID),
		nullString(tx.PersonID),
		nullString(string(tx.CashbackMode)),
		nullDecimal(tx.SharePercent),
		nullDecimal(tx.ShareFixed),
		tx.Void,
		nullString(tx.Note),
		nullString(tx.IdempotencyKey),
		formatTime(createdAt),
	)
	if err != nil {
		return translateError(err, "failed to append transaction")
	}
	return nil
}

// AppendBatch adds multiple transactions atomically.
func (s *Store) AppendBatch(ctx context.Context, txs []generic.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool)
	for _, tx := range txs {
		if tx.IdempotencyKey == "" {
			continue
		}
		if seen[tx.IdempotencyKey] {
			return generic.ErrDuplicateIdempotencyKey
		}
		seen[tx.IdempotencyKey] = true
	}

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer sqlTx.Rollback()

	for _, tx := range txs {
		if err := s.appendTx(ctx, sqlTx, tx); err != nil {
			return err
		}
	}
	return errors.Wrap(sqlTx.Commit(), "failed to commit batch")
}

// Update replaces an existing transaction in place.
func (s *Store) Update(ctx context.Context, tx generic.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE transactions SET
			account_id = ?, kind = ?, amount = ?, occurred_at = ?, category_id = ?,
			shop_id = ?, person_id = ?, cashback_mode = ?, share_percent = ?,
			share_fixed = ?, void = ?, note = ?
		WHERE id = ?
	`,
		tx.AccountID,
		tx.Kind,
		tx.Amount.String(),
		formatTime(tx.OccurredAt),
		nullString(tx.CategoryID),
		nullString(tx.ShopID),
		nullString(tx.PersonID),
		nullString(string(tx.CashbackMode)),
		nullDecimal(tx.SharePercent),
		nullDecimal(tx.ShareFixed),
		tx.Void,
		nullString(tx.Note),
		tx.ID,
	)
	if err != nil {
		return translateError(err, "failed to update transaction")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return generic.ErrTransactionNotFound
	}
	return nil
}

// Get returns a single transaction.
func (s *Store) Get(ctx context.Context, id generic.TransactionID) (*generic.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	txs, err := s.queryTransactions(ctx,
		"SELECT "+transactionColumns+" FROM transactions WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(txs) == 0 {
		return nil, generic.ErrTransactionNotFound
	}
	return &txs[0], nil
}

// Load returns all transactions for an account.
func (s *Store) Load(ctx context.Context, accountID generic.AccountID) ([]generic.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryTransactions(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE account_id = ?
		ORDER BY occurred_at ASC, id ASC
	`, accountID)
}

// LoadRange returns transactions with occurred_at in [from, to).
func (s *Store) LoadRange(ctx context.Context, accountID generic.AccountID, from, to time.Time) ([]generic.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryTransactions(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE account_id = ? AND occurred_at >= ? AND occurred_at < ?
		ORDER BY occurred_at ASC, id ASC
	`, accountID, formatTime(from), formatTime(to))
}

// Exists checks if an idempotency key exists.
func (s *Store) Exists(ctx context.Context, idempotencyKey string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM transactions WHERE idempotency_key = ?",
		idempotencyKey,
	).Scan(&count)
	if err != nil {
		return false, errors.Wrap(err, "failed to check idempotency key")
	}
	return count > 0, nil
}

func (s *Store) queryTransactions(ctx context.Context, query string, args ...any) ([]generic.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query transactions")
	}
	defer rows.Close()

	var transactions []generic.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}
	return transactions, errors.Wrap(rows.Err(), "failed to read transactions")
}

func scanTransaction(rows *sql.Rows) (generic.Transaction, error) {
	var (
		tx             generic.Transaction
		amount         string
		occurredAt     string
		categoryID     sql.NullString
		shopID         sql.NullString
		personID       sql.NullString
		mode           sql.NullString
		sharePercent   sql.NullString
		shareFixed     sql.NullString
		note           sql.NullString
		idempotencyKey sql.NullString
		createdAt      string
	)

	err := rows.Scan(
		&tx.ID, &tx.AccountID, &tx.Kind, &amount, &occurredAt,
		&categoryID, &shopID, &personID, &mode, &sharePercent, &shareFixed,
		&tx.Void, &note, &idempotencyKey, &createdAt,
	)
	if err != nil {
		return tx, errors.Wrap(err, "failed to scan transaction")
	}

	tx.Amount = generic.MustParseDecimal(amount)
	tx.OccurredAt = parseTime(occurredAt)
	tx.CreatedAt = parseTime(createdAt)
	tx.CategoryID = categoryID.String
	tx.ShopID = shopID.String
	tx.PersonID = personID.String
	tx.CashbackMode = generic.CashbackMode(mode.String)
	tx.SharePercent = parseNullDecimal(sharePercent)
	tx.ShareFixed = parseNullDecimal(shareFixed)
	tx.Note = note.String
	tx.IdempotencyKey = idempotencyKey.String
	return tx, nil
}

// =============================================================================
// SNAPSHOT STORE (generic.SnapshotStore interface)
// =============================================================================

const snapshotColumns = `id, account_id, label, period_start, period_end, taken_at, current_spend,
	earned_so_far, max_cashback, remaining_budget, shared_total, voluntary_loss, min_spend_met, reason`

// SaveSnapshot stores a closed cycle, replacing an earlier close of the same period.
func (s *Store) SaveSnapshot(ctx context.Context, snap generic.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if snap.ID == "" {
		snap.ID = generic.SnapshotID(snap.AccountID, snap.Period)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO snapshots (`+snapshotColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id, period_start, period_end) DO UPDATE SET
			label = excluded.label,
			taken_at = excluded.taken_at,
			current_spend = excluded.current_spend,
			earned_so_far = excluded.earned_so_far,
			max_cashback = excluded.max_cashback,
			remaining_budget = excluded.remaining_budget,
			shared_total = excluded.shared_total,
			voluntary_loss = excluded.voluntary_loss,
			min_spend_met = excluded.min_spend_met,
			reason = excluded.reason
	`,
		snap.ID, snap.AccountID, snap.Label,
		formatTime(snap.Period.Start), formatTime(snap.Period.End), formatTime(snap.TakenAt),
		snap.CurrentSpend.String(), snap.EarnedSoFar.String(),
		nullDecimal(snap.MaxCashback), nullDecimal(snap.RemainingBudget),
		snap.SharedTotal.String(), snap.VoluntaryLoss.String(),
		snap.MinSpendMet, snap.Reason,
	)
	return errors.Wrap(err, "failed to save snapshot")
}

// GetSnapshot returns the snapshot for a closed cycle.
func (s *Store) GetSnapshot(ctx context.Context, accountID generic.AccountID, p generic.Period) (*generic.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snaps, err := s.querySnapshots(ctx, `
		SELECT `+snapshotColumns+` FROM snapshots
		WHERE account_id = ? AND period_start = ? AND period_end = ?
	`, accountID, formatTime(p.Start), formatTime(p.End))
	if err != nil {
		return nil, err
	}
	if len(snaps) == 0 {
		return nil, generic.ErrSnapshotNotFound
	}
	return &snaps[0], nil
}

// ListSnapshots returns an account's closed cycles, oldest first.
func (s *Store) ListSnapshots(ctx context.Context, accountID generic.AccountID) ([]generic.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.querySnapshots(ctx, `
		SELECT `+snapshotColumns+` FROM snapshots
		WHERE account_id = ?
		ORDER BY period_start ASC
	`, accountID)
}

func (s *Store) querySnapshots(ctx context.Context, query string, args ...any) ([]generic.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query snapshots")
	}
	defer rows.Close()

	var snaps []generic.Snapshot
	for rows.Next() {
		var (
			snap                        generic.Snapshot
			start, end, takenAt         string
			spend, earned, shared, loss string
			maxCashback, remaining      sql.NullString
		)
		if err := rows.Scan(
			&snap.ID, &snap.AccountID, &snap.Label, &start, &end, &takenAt,
			&spend, &earned, &maxCashback, &remaining, &shared, &loss,
			&snap.MinSpendMet, &snap.Reason,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan snapshot")
		}
		snap.Period = generic.Period{Start: parseTime(start), End: parseTime(end)}
		snap.TakenAt = parseTime(takenAt)
		snap.CurrentSpend = generic.MustParseDecimal(spend)
		snap.EarnedSoFar = generic.MustParseDecimal(earned)
		snap.SharedTotal = generic.MustParseDecimal(shared)
		snap.VoluntaryLoss = generic.MustParseDecimal(loss)
		snap.MaxCashback = parseNullDecimal(maxCashback)
		snap.RemainingBudget = parseNullDecimal(remaining)
		snaps = append(snaps, snap)
	}
	return snaps, errors.Wrap(rows.Err(), "failed to read snapshots")
}

// =============================================================================
// HELPERS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339, s)
	}
	return t.UTC()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullDecimal(d *decimal.Decimal) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func parseNullDecimal(s sql.NullString) *decimal.Decimal {
	if !s.Valid || s.String == "" {
		return nil
	}
	d, err := decimal.NewFromString(s.String)
	if err != nil {
		return nil
	}
	return &d
}

// translateError maps constraint violations to domain sentinels.
func translateError(err error, msg string) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			if strings.Contains(sqliteErr.Error(), "idempotency_key") {
				return generic.ErrDuplicateIdempotencyKey
			}
		case sqlite3.ErrConstraintForeignKey:
			return generic.ErrAccountNotFound
		}
	}
	return errors.Wrap(err, msg)
}

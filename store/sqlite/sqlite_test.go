package sqlite_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/cashback-engine/cashback"
	"github.com/warp/cashback-engine/generic"
	"github.com/warp/cashback-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const cardConfig = `{"rate": 0.1, "maxAmount": 150000, "cycleType": "statement_cycle", "statementDay": 15}`

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.SaveAccount(context.Background(), sqlite.AccountRecord{
		ID:             "card-1",
		Name:           "Visa Platinum",
		Type:           cashback.AccountCreditCard,
		CashbackConfig: json.RawMessage(cardConfig),
	}))
	return store
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func expense(id string, amount int64, at time.Time) generic.Transaction {
	return generic.Transaction{
		ID:         generic.TransactionID(id),
		AccountID:  "card-1",
		Kind:       generic.KindExpense,
		Amount:     decimal.NewFromInt(amount),
		OccurredAt: at,
	}
}

// =============================================================================
// ACCOUNTS & CATEGORIES
// =============================================================================

func TestStore_GetAccountParsesConfig(t *testing.T) {
	store := newStore(t)

	acct, err := store.GetAccount(context.Background(), "card-1")
	require.NoError(t, err)
	require.NotNil(t, acct.Cashback)
	assert.Equal(t, cashback.StatementCycle{Day: 15}, acct.Cashback.Cycle)
	assert.True(t, decimal.RequireFromString("0.1").Equal(acct.Cashback.Rate))
	assert.Empty(t, acct.ConfigAnomalies)

	_, err = store.GetAccount(context.Background(), "missing")
	assert.ErrorIs(t, err, generic.ErrAccountNotFound)
}

func TestStore_SetCashbackConfig(t *testing.T) {
	// GIVEN: A stored config with an out-of-range statement day
	// WHEN: The account is read back
	// THEN: The day is clamped and the repair is reported

	store := newStore(t)
	ctx := context.Background()
	require.NoError(t, store.SetCashbackConfig(ctx, "card-1",
		json.RawMessage(`{"rate": 0.02, "cycleType": "statement_cycle", "statementDay": 45}`)))

	acct, err := store.GetAccount(ctx, "card-1")
	require.NoError(t, err)
	assert.Equal(t, cashback.StatementCycle{Day: 31}, acct.Cashback.Cycle)
	assert.NotEmpty(t, acct.ConfigAnomalies)

	assert.ErrorIs(t, store.SetCashbackConfig(ctx, "missing", nil), generic.ErrAccountNotFound)
}

func TestStore_AccountWithoutProgram(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	require.NoError(t, store.SaveAccount(ctx, sqlite.AccountRecord{ID: "cash", Name: "Wallet", Type: cashback.AccountCash}))

	acct, err := store.GetAccount(ctx, "cash")
	require.NoError(t, err)
	assert.Nil(t, acct.Cashback)

	accounts, err := store.ListAccounts(ctx)
	require.NoError(t, err)
	assert.Len(t, accounts, 2)
}

func TestStore_Categories(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	require.NoError(t, store.SaveCategory(ctx, cashback.Category{ID: "dining", Name: "Dining"}))
	require.NoError(t, store.SaveCategory(ctx, cashback.Category{
		ID: "refund", Name: "Money back", Tags: []cashback.CategoryTag{cashback.TagRefund, cashback.TagCashback},
	}))

	categories, err := store.ListCategories(ctx)
	require.NoError(t, err)
	require.Len(t, categories, 2)
	assert.Equal(t, "dining", categories[0].ID)
	assert.Equal(t, cashback.CategoryExpense, categories[0].Type)
	assert.Equal(t, []cashback.CategoryTag{cashback.TagRefund, cashback.TagCashback}, categories[1].Tags)
}

func TestStore_Shops(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	require.NoError(t, store.SaveShop(ctx, sqlite.Shop{ID: "grab", Name: "Grab", DefaultCategoryID: "transport"}))

	shops, err := store.ListShops(ctx)
	require.NoError(t, err)
	require.Len(t, shops, 1)
	assert.Equal(t, "transport", shops[0].DefaultCategoryID)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestStore_LoadRangeIsHalfOpen(t *testing.T) {
	// GIVEN: Rows at both boundaries of [May 15, Jun 15)
	// THEN: The start boundary is included and the end boundary excluded

	store := newStore(t)
	ctx := context.Background()
	require.NoError(t, store.AppendBatch(ctx, []generic.Transaction{
		expense("before", 1, day(2024, time.May, 14).Add(23*time.Hour)),
		expense("start", 2, day(2024, time.May, 15)),
		expense("mid", 3, day(2024, time.June, 1).Add(1500*time.Millisecond)),
		expense("end", 4, day(2024, time.June, 15)),
	}))

	txs, err := store.LoadRange(ctx, "card-1", day(2024, time.May, 15), day(2024, time.June, 15))
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, generic.TransactionID("start"), txs[0].ID)
	assert.Equal(t, generic.TransactionID("mid"), txs[1].ID)
	assert.True(t, day(2024, time.June, 1).Add(1500*time.Millisecond).Equal(txs[1].OccurredAt))
}

func TestStore_TransactionFieldsRoundTrip(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	tx := expense("tx-1", 500000, day(2024, time.May, 20))
	tx.CategoryID = "dining"
	tx.ShopID = "grab"
	tx.CashbackMode = generic.ModeRealFixed
	tx.ShareFixed = generic.DecimalPtr(decimal.NewFromInt(20000))
	tx.Note = "lunch"
	require.NoError(t, store.Append(ctx, tx))

	got, err := store.Get(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, "dining", got.CategoryID)
	assert.Equal(t, "grab", got.ShopID)
	assert.Equal(t, generic.ModeRealFixed, got.CashbackMode)
	require.NotNil(t, got.ShareFixed)
	assert.True(t, decimal.NewFromInt(20000).Equal(*got.ShareFixed))
	assert.Nil(t, got.SharePercent)
	assert.False(t, got.Void)

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, generic.ErrTransactionNotFound)
}

func TestStore_Update(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	tx := expense("tx-1", 100, day(2024, time.May, 20))
	require.NoError(t, store.Append(ctx, tx))

	tx.Amount = decimal.NewFromInt(250)
	tx.Void = true
	require.NoError(t, store.Update(ctx, tx))

	got, err := store.Get(ctx, "tx-1")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(250).Equal(got.Amount))
	assert.True(t, got.Void)

	assert.ErrorIs(t, store.Update(ctx, expense("nope", 1, day(2024, time.May, 1))), generic.ErrTransactionNotFound)
}

func TestStore_IdempotencyKey(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	first := expense("a", 1, day(2024, time.May, 1))
	first.IdempotencyKey = "form-123"
	require.NoError(t, store.Append(ctx, first))

	exists, err := store.Exists(ctx, "form-123")
	require.NoError(t, err)
	assert.True(t, exists)

	second := expense("b", 1, day(2024, time.May, 1))
	second.IdempotencyKey = "form-123"
	assert.ErrorIs(t, store.Append(ctx, second), generic.ErrDuplicateIdempotencyKey)
}

func TestStore_AppendBatchIsAtomic(t *testing.T) {
	// GIVEN: A batch whose second row references an unknown account
	// THEN: The batch fails and the first row is not persisted

	store := newStore(t)
	ctx := context.Background()
	orphan := expense("b", 1, day(2024, time.May, 2))
	orphan.AccountID = "ghost"

	err := store.AppendBatch(ctx, []generic.Transaction{expense("a", 1, day(2024, time.May, 1)), orphan})
	assert.ErrorIs(t, err, generic.ErrAccountNotFound)

	txs, err := store.Load(ctx, "card-1")
	require.NoError(t, err)
	assert.Empty(t, txs)
}

// =============================================================================
// SNAPSHOTS
// =============================================================================

func TestStore_Snapshots(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	may := generic.Period{Start: day(2024, time.May, 15), End: day(2024, time.June, 15)}
	capped := decimal.NewFromInt(150000)

	snap := generic.Snapshot{
		AccountID:    "card-1",
		Label:        "2024-06-S15",
		Period:       may,
		TakenAt:      day(2024, time.June, 15),
		CurrentSpend: decimal.NewFromInt(2000000),
		EarnedSoFar:  decimal.NewFromInt(150000),
		MaxCashback:  &capped,
		Reason:       generic.SnapshotCycleEnd,
	}
	require.NoError(t, store.SaveSnapshot(ctx, snap))

	// Re-closing the same cycle replaces the row.
	snap.EarnedSoFar = decimal.NewFromInt(140000)
	snap.Reason = generic.SnapshotManual
	require.NoError(t, store.SaveSnapshot(ctx, snap))

	got, err := store.GetSnapshot(ctx, "card-1", may)
	require.NoError(t, err)
	assert.Equal(t, "2024-06-S15", got.Label)
	assert.True(t, decimal.NewFromInt(140000).Equal(got.EarnedSoFar))
	assert.Equal(t, generic.SnapshotManual, got.Reason)
	require.NotNil(t, got.MaxCashback)
	assert.Nil(t, got.RemainingBudget)

	all, err := store.ListSnapshots(ctx, "card-1")
	require.NoError(t, err)
	assert.Len(t, all, 1)

	_, err = store.GetSnapshot(ctx, "card-1", generic.Period{Start: day(2024, time.April, 15), End: may.Start})
	assert.ErrorIs(t, err, generic.ErrSnapshotNotFound)
}

// =============================================================================
// INTEGRATION WITH THE ENGINE
// =============================================================================

func TestStore_ServiceStats(t *testing.T) {
	// GIVEN: The 10% card capped at 150,000 with a statement day of 15
	// WHEN: 2,000,000 is spent between May 15 and June 14
	// THEN: Earned so far is capped at 150,000 in cycle 2024-06-S15

	store := newStore(t)
	ctx := context.Background()
	require.NoError(t, store.AppendBatch(ctx, []generic.Transaction{
		expense("a", 1500000, day(2024, time.May, 20)),
		expense("b", 500000, day(2024, time.June, 10)),
	}))

	svc := cashback.NewService(store, store, generic.NewLedger(store))
	stats, err := svc.Stats(ctx, cashback.StatsQuery{AccountID: "card-1", Date: day(2024, time.June, 1)})
	require.NoError(t, err)
	assert.Equal(t, "2024-06-S15", stats.Cycle.Label)
	assert.True(t, decimal.NewFromInt(150000).Equal(stats.EarnedSoFar))
}

// =============================================================================
// DRIVER FAILURES
// =============================================================================

func TestStore_QueryFailureIsWrapped(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	store := sqlite.NewWithDB(db)

	mock.ExpectQuery("SELECT .* FROM transactions").WillReturnError(errors.New("disk I/O error"))

	_, err = store.LoadRange(context.Background(), "card-1", day(2024, time.May, 1), day(2024, time.June, 1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to query transactions")
	assert.Contains(t, err.Error(), "disk I/O error")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_BatchRollsBackOnExecFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	store := sqlite.NewWithDB(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO transactions").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO transactions").WillReturnError(errors.New("database is locked"))
	mock.ExpectRollback()

	err = store.AppendBatch(context.Background(), []generic.Transaction{
		expense("a", 1, day(2024, time.May, 1)),
		expense("b", 1, day(2024, time.May, 2)),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database is locked")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ScanFailureIsWrapped(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	store := sqlite.NewWithDB(db)

	mock.ExpectQuery("SELECT .* FROM categories").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow("c1", "Dining"))

	_, err = store.ListCategories(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to scan category")
}

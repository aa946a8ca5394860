package cashback_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/warp/cashback-engine/cashback"
	"github.com/warp/cashback-engine/generic"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const testAccount generic.AccountID = "card-1"

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decp(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func day(year int, month time.Month, d int) time.Time {
	return time.Date(year, month, d, 0, 0, 0, 0, time.UTC)
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	assert.Truef(t, dec(want).Equal(got), "want %s, got %s %v", want, got.String(), msgAndArgs)
}

func assertDecimalPtr(t *testing.T, want string, got *decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	if !assert.NotNil(t, got, msgAndArgs...) {
		return
	}
	assertDecimal(t, want, *got, msgAndArgs...)
}

func card(cfg *cashback.Config) cashback.Account {
	return cashback.Account{
		ID:       testAccount,
		Name:     "Visa Platinum",
		Type:     cashback.AccountCreditCard,
		Cashback: cfg,
	}
}

func tenPercent() *cashback.Config {
	return &cashback.Config{Rate: dec("0.1"), Cycle: cashback.CalendarMonth{}}
}

func expense(id string, amount string, at time.Time) generic.Transaction {
	return generic.Transaction{
		ID:           generic.TransactionID(id),
		AccountID:    testAccount,
		Kind:         generic.KindExpense,
		Amount:       dec(amount),
		OccurredAt:   at,
		CashbackMode: generic.ModeNoneBack,
	}
}

func withCategory(tx generic.Transaction, categoryID string) generic.Transaction {
	tx.CategoryID = categoryID
	return tx
}

func mustCycle(t *testing.T, ref time.Time, cfg cashback.CycleConfig) cashback.Cycle {
	t.Helper()
	c, err := cashback.ResolveCycle(ref, cfg)
	if err != nil {
		t.Fatalf("resolve cycle: %v", err)
	}
	return c
}

/*
Package generic provides the domain-agnostic cycle and ledger engine.

PURPOSE:
  This package contains the types and algorithms that do not know what a
  cashback program is: half-open billing periods, the posted transaction
  row the reward engine reads, the read-side ledger interface, and the
  snapshot store for closed periods.

KEY CONCEPTS IN THIS FILE (types.go):
  - Transaction: A posted money movement as consumed by the reward engine
  - TransactionKind: expense, income, transfer, repayment, ...
  - CashbackMode: How a transaction's reward is claimed and shared
  - Identifiers: Type-safe account/transaction IDs

DESIGN PRINCIPLES:
  1. Precision: Money and rates use decimal.Decimal, never float64
  2. Type Safety: Strong typing for IDs prevents mixing account/category IDs
  3. Read-only: The engine never writes transactions; it only computes the
     numbers a caller attaches to a transaction payload

SEE ALSO:
  - period.go: Period and PeriodConfig
  - ledger.go: Read interface over posted transactions
  - cashback/: The reward engine built on these types
*/
package generic

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type AccountID string
type TransactionID string

// =============================================================================
// TRANSACTION - A posted money movement
// =============================================================================

type TransactionKind string

const (
	KindExpense       TransactionKind = "expense"
	KindIncome        TransactionKind = "income"
	KindDebt          TransactionKind = "debt"           // Money lent out to a person
	KindLending       TransactionKind = "lending"        // Money borrowed from a person
	KindTransfer      TransactionKind = "transfer"       // Between own accounts
	KindRepayment     TransactionKind = "repayment"      // Debt settled by a person
	KindCreditPayment TransactionKind = "credit_payment" // Paying off a credit card
	KindRefund        TransactionKind = "refund"         // Merchant refund back to the card
)

// ValidKinds lists every transaction kind accepted at the API boundary.
var ValidKinds = []TransactionKind{
	KindExpense, KindIncome, KindDebt, KindLending,
	KindTransfer, KindRepayment, KindCreditPayment, KindRefund,
}

// CashbackMode distinguishes virtual (estimated) reward from real (claimed)
// reward and from voluntary sharing beyond what was earned.
type CashbackMode string

const (
	ModeNoneBack    CashbackMode = "none_back"    // Virtual estimate, nothing shared
	ModePercent     CashbackMode = "percent"      // Legacy virtual share, percent of amount
	ModeFixed       CashbackMode = "fixed"        // Legacy virtual share, fixed amount
	ModeRealFixed   CashbackMode = "real_fixed"   // Claimed from the bank, fixed share
	ModeRealPercent CashbackMode = "real_percent" // Claimed from the bank, percent share
	ModeVoluntary   CashbackMode = "voluntary"    // Share may exceed the earned reward
)

// ValidModes lists every cashback mode accepted at the API boundary.
var ValidModes = []CashbackMode{
	ModeNoneBack, ModePercent, ModeFixed, ModeRealFixed, ModeRealPercent, ModeVoluntary,
}

// IsReal reports whether the reward was actually received from the bank.
func (m CashbackMode) IsReal() bool {
	return m == ModeRealFixed || m == ModeRealPercent
}

// Shares reports whether the mode gives part of the reward to someone.
func (m CashbackMode) Shares() bool {
	return m != ModeNoneBack && m != ""
}

// Transaction is a posted row as the reward engine sees it. The engine does
// not own transactions; persistence hands them over as an immutable slice.
type Transaction struct {
	ID         TransactionID
	AccountID  AccountID
	Kind       TransactionKind
	Amount     decimal.Decimal // Sign is not significant; the engine uses Abs()
	OccurredAt time.Time
	CategoryID string
	ShopID     string
	PersonID   string

	CashbackMode   CashbackMode
	SharePercent   *decimal.Decimal // 0-100
	ShareFixed     *decimal.Decimal
	Void           bool
	Note           string
	IdempotencyKey string

	CreatedAt time.Time
}

// AbsAmount returns the unsigned transaction amount.
func (t Transaction) AbsAmount() decimal.Decimal {
	return t.Amount.Abs()
}

// DecimalPtr returns a pointer to d. Handy for optional caps in literals.
func DecimalPtr(d decimal.Decimal) *decimal.Decimal {
	return &d
}

// MustParseDecimal parses s, returning zero on malformed input.
func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

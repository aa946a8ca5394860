/*
Package cashback provides the cashback policy resolution and cycle
accounting engine.

PURPOSE:
  Given an account, a transaction amount, a category and a point in
  time, the engine answers four questions:
  1. Which billing cycle does the transaction fall into?      (cycle.go)
  2. Which reward rate and cap apply, and why?                (policy.go)
  3. How much is virtual, shared, or voluntarily given away?  (sharing.go)
  4. How much of the cycle's cashback budget remains?         (ledger.go)

EVALUATION ORDER:
  Cycle Resolver -> Policy Resolver -> Reward Ledger

  The UI collects (account, amount, category, occurred_at), the policy
  resolver returns {rate, cap, reason}, and the ledger combines it with
  already-posted transactions in the same cycle to produce a snapshot and
  a live preview for the uncommitted transaction.

PURITY:
  Every function in the engine is a pure computation over data the caller
  already fetched: no clock reads, no I/O, no shared mutable state. The
  only I/O lives in Service (service.go), which fetches ONE consistent
  slice of posted transactions per evaluation.

FAILURE POLICY:
  Malformed-but-present configuration never raises: the engine degrades
  to rate 0 / unlimited cap and annotates the reason. Only structurally
  invalid input at the authoring boundary is rejected (factory.Validate).

SEE ALSO:
  - generic/: Period and posted transaction types
  - factory/: Parses the stored cashback_config blob into Config
*/
package cashback

import (
	"github.com/shopspring/decimal"
	"github.com/warp/cashback-engine/generic"
)

// =============================================================================
// ACCOUNT
// =============================================================================

type AccountType string

const (
	AccountCreditCard AccountType = "credit_card"
	AccountBank       AccountType = "bank"
	AccountCash       AccountType = "cash"
	AccountSavings    AccountType = "savings"
	AccountInvestment AccountType = "investment"
	AccountAsset      AccountType = "asset"
	AccountDebt       AccountType = "debt"
	AccountEWallet    AccountType = "ewallet"
	AccountSystem     AccountType = "system"
)

// AccountTypes is the closed set of account types.
var AccountTypes = []AccountType{
	AccountCreditCard, AccountBank, AccountCash, AccountSavings,
	AccountInvestment, AccountAsset, AccountDebt, AccountEWallet, AccountSystem,
}

// Account is the subset of an account record the engine reads.
type Account struct {
	ID          generic.AccountID
	Name        string
	Type        AccountType
	CreditLimit *decimal.Decimal // credit cards only

	// Cashback is nil when the account has no reward program.
	Cashback *Config

	// ConfigAnomalies records what tolerant parsing had to repair or drop.
	ConfigAnomalies []string

	// ConfigVersion changes whenever the stored config changes. Cached
	// snapshots are keyed by it.
	ConfigVersion string
}

// =============================================================================
// CATEGORY
// =============================================================================

type CategoryType string

const (
	CategoryExpense  CategoryType = "expense"
	CategoryIncome   CategoryType = "income"
	CategoryTransfer CategoryType = "transfer"
)

// CategoryTag is an explicit marker that replaces name heuristics.
type CategoryTag string

const (
	TagRefund    CategoryTag = "refund"
	TagRepayment CategoryTag = "repayment"
	TagCashback  CategoryTag = "cashback"
	TagTransfer  CategoryTag = "transfer"
)

// Category is the subset of a category record the engine reads.
type Category struct {
	ID       string
	Name     string
	Type     CategoryType
	ParentID string
	Tags     []CategoryTag
}

// HasTag reports whether the category carries tag.
func (c Category) HasTag(tag CategoryTag) bool {
	for _, t := range c.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

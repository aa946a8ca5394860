package generic

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SNAPSHOT - Frozen reward totals at cycle end
// =============================================================================

// Snapshot captures a closed cycle's totals for an account.
// Used for:
//   - Retrospective summaries (what did the bank owe for March?)
//   - Audit trail when the cashback config changes later
//   - Fast reads (avoid rescanning old cycles)
type Snapshot struct {
	ID        string
	AccountID AccountID
	Label     string

	// The cycle this snapshot represents
	Period Period

	// When the snapshot was taken
	TakenAt time.Time

	CurrentSpend    decimal.Decimal
	EarnedSoFar     decimal.Decimal
	MaxCashback     *decimal.Decimal
	RemainingBudget *decimal.Decimal
	SharedTotal     decimal.Decimal
	VoluntaryLoss   decimal.Decimal
	MinSpendMet     bool

	// Why was this snapshot taken?
	Reason SnapshotReason
}

type SnapshotReason string

const (
	SnapshotCycleEnd     SnapshotReason = "cycle_end"     // Regular cycle close
	SnapshotConfigChange SnapshotReason = "config_change" // Cashback config changed
	SnapshotManual       SnapshotReason = "manual"        // User triggered
)

// =============================================================================
// SNAPSHOT STORE - Persistence for snapshots
// =============================================================================

type SnapshotStore interface {
	// SaveSnapshot stores s, replacing any snapshot for the same account+period.
	SaveSnapshot(ctx context.Context, s Snapshot) error
	// GetSnapshot returns ErrSnapshotNotFound when the cycle was never closed.
	GetSnapshot(ctx context.Context, accountID AccountID, p Period) (*Snapshot, error)
	ListSnapshots(ctx context.Context, accountID AccountID) ([]Snapshot, error)
}

// SnapshotID derives a stable identifier from the account and period.
func SnapshotID(accountID AccountID, p Period) string {
	return string(accountID) + "-" + FormatDate(p.Start) + "-" + FormatDate(p.End)
}

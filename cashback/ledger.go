/*
ledger.go - Reward Ledger / Progress Accumulator

PURPOSE:
  Aggregates the transactions already posted inside one cycle into a
  Snapshot (spend, earned reward, remaining budget, min-spend progress),
  and previews the reward of a transaction that has not been submitted.

WHAT COUNTS AS SPEND:
  Non-void expense rows of this account inside [cycle.Start, cycle.End)
  whose category is not a refund, repayment, cashback payout or transfer
  (Classifier.IsSpend). Every such row counts toward CurrentSpend whether
  or not a reward rule applies to it.

PER-TRANSACTION REWARD (chronological, ties broken by ID):
  projection = spend so far + |amount|
  match      = ResolvePolicy(tx's own category and shop, projection)
  reward     = min(|amount| * rate, ruleRemaining, cycleRemaining), >= 0

  ruleRemaining is the rule's MaxReward minus what that rule already earned
  in this cycle. cycleRemaining is the cycle cap in effect at the projection
  minus what the cycle already earned.

MIN SPEND:
  A row evaluated below its min-spend threshold earns nothing yet: its
  reward is held as PendingReward and does not use the cycle budget. Once
  the cycle spend reaches the threshold, pending rows are credited oldest
  first, clamped to the caps left at that point. Reward still pending when
  the cycle ends is never credited.

LIVE PREVIEW:
  The candidate is clamped to the budget remaining BEFORE it:
    effective = min(|amount| * rate, ruleRemaining, remainingBefore)
  so a new transaction cannot shrink its own allowance. When the candidate
  edits a posted row, that row is excluded from the "before" summary.

CONSISTENCY:
  SummarizeCycle and PreviewReward work on the slice they are given and
  never refetch. Same inputs always produce the same Snapshot.
*/
package cashback

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/cashback-engine/generic"
)

// =============================================================================
// SNAPSHOT
// =============================================================================

// RuleProgress is how much one capped rule has earned in the cycle.
type RuleProgress struct {
	RuleID string           `json:"ruleId"`
	Name   string           `json:"name,omitempty"`
	Max    *decimal.Decimal `json:"max"`
	Earned decimal.Decimal  `json:"earned"`
}

// Snapshot is the spending and reward state of one account in one cycle.
type Snapshot struct {
	AccountID generic.AccountID `json:"accountId"`
	Cycle     Cycle             `json:"cycle"`

	CurrentSpend      decimal.Decimal  `json:"currentSpend"`
	EarnedSoFar       decimal.Decimal  `json:"earnedSoFar"`
	PendingReward     decimal.Decimal  `json:"pendingReward"`
	MinSpend          *decimal.Decimal `json:"minSpend"`
	MinSpendMet       bool             `json:"minSpendMet"`
	MinSpendRemaining decimal.Decimal  `json:"minSpendRemaining"`
	MaxCashback       *decimal.Decimal `json:"maxCashback"`
	RemainingBudget   *decimal.Decimal `json:"remainingBudget"`
	ActiveRules       []RuleProgress   `json:"activeRules"`

	LevelName        string          `json:"levelName,omitempty"`
	SharedTotal      decimal.Decimal `json:"sharedTotal"`
	VoluntaryLoss    decimal.Decimal `json:"voluntaryLoss"`
	NetProfit        decimal.Decimal `json:"netProfit"`
	TransactionCount int             `json:"transactionCount"`
}

// ToGeneric converts the snapshot into the persisted closed-cycle form.
func (s Snapshot) ToGeneric(takenAt time.Time, reason generic.SnapshotReason) generic.Snapshot {
	period := s.Cycle.Period()
	return generic.Snapshot{
		ID:              generic.SnapshotID(s.AccountID, period),
		AccountID:       s.AccountID,
		Label:           s.Cycle.Label,
		Period:          period,
		TakenAt:         takenAt,
		CurrentSpend:    s.CurrentSpend,
		EarnedSoFar:     s.EarnedSoFar,
		MaxCashback:     s.MaxCashback,
		RemainingBudget: s.RemainingBudget,
		SharedTotal:     s.SharedTotal,
		VoluntaryLoss:   s.VoluntaryLoss,
		MinSpendMet:     s.MinSpendMet,
		Reason:          reason,
	}
}

// =============================================================================
// ACCUMULATOR
// =============================================================================

// awarded is one spend row and what it earned.
type awarded struct {
	tx     generic.Transaction
	amount decimal.Decimal

	ruleID  string
	ruleMax *decimal.Decimal

	// reward is credited to the cycle. pending is the estimate of a row
	// evaluated below its min-spend threshold; it moves into reward once
	// the cycle spend reaches threshold.
	reward    decimal.Decimal
	pending   decimal.Decimal
	threshold *decimal.Decimal
}

type accumulator struct {
	acct       Account
	classifier *Classifier

	spend      decimal.Decimal
	earned     decimal.Decimal
	rows       []awarded
	ruleEarned map[string]decimal.Decimal
}

func newAccumulator(acct Account, classifier *Classifier) *accumulator {
	return &accumulator{
		acct:       acct,
		classifier: classifier,
		spend:      decimal.Zero,
		earned:     decimal.Zero,
		ruleEarned: make(map[string]decimal.Decimal),
	}
}

// locked reports whether match is gated by a min spend not yet reached.
func locked(match MatchResult) bool {
	return !match.MinSpendMet && match.MinSpend != nil
}

// award computes the reward of a spend of amount on top of the current
// state, without recording it.
func (a *accumulator) award(amount decimal.Decimal, categoryID, shopID string) (MatchResult, decimal.Decimal, *decimal.Decimal) {
	projection := a.spend.Add(amount)
	match := ResolvePolicy(a.acct, PolicyInput{
		CategoryID:           categoryID,
		CategoryName:         a.classifier.Name(categoryID),
		ShopID:               shopID,
		Amount:               amount,
		CycleSpentProjection: projection,
	})

	reward := rawReward(amount, match.Rate, nil)
	if match.RuleID != "" && match.MaxReward != nil {
		reward = decimal.Min(reward, remaining(*match.MaxReward, a.ruleEarned[match.RuleID]))
	}
	remainingBefore := a.remainingAt(projection)
	if remainingBefore != nil {
		reward = decimal.Min(reward, *remainingBefore)
	}
	return match, decimal.Max(reward, decimal.Zero), remainingBefore
}

func (a *accumulator) add(tx generic.Transaction) {
	amount := tx.AbsAmount()
	projection := a.spend.Add(amount)
	a.release(projection)

	match, reward, _ := a.award(amount, tx.CategoryID, tx.ShopID)
	a.spend = projection

	row := awarded{tx: tx, amount: amount, ruleID: match.RuleID, ruleMax: match.MaxReward}
	if locked(match) {
		row.pending = reward
		row.threshold = match.MinSpend
	} else {
		a.credit(&row, reward)
	}
	a.rows = append(a.rows, row)
}

func (a *accumulator) credit(row *awarded, reward decimal.Decimal) {
	row.reward = reward
	a.earned = a.earned.Add(reward)
	if row.ruleID != "" {
		a.ruleEarned[row.ruleID] = a.ruleEarned[row.ruleID].Add(reward)
	}
}

// release credits, oldest first, every pending row whose threshold is met
// at projection. Released rewards are re-clamped to the caps left at that
// point. It returns the total credited.
func (a *accumulator) release(projection decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for i := range a.rows {
		row := &a.rows[i]
		if row.threshold == nil || projection.LessThan(*row.threshold) {
			continue
		}
		reward := row.pending
		if row.ruleID != "" && row.ruleMax != nil {
			reward = decimal.Min(reward, remaining(*row.ruleMax, a.ruleEarned[row.ruleID]))
		}
		if left := a.remainingAt(projection); left != nil {
			reward = decimal.Min(reward, *left)
		}
		reward = decimal.Max(reward, decimal.Zero)

		row.pending = decimal.Zero
		row.threshold = nil
		a.credit(row, reward)
		total = total.Add(reward)
	}
	return total
}

// remainingAt is the cycle budget left when the cycle spend is projection,
// nil when uncapped.
func (a *accumulator) remainingAt(projection decimal.Decimal) *decimal.Decimal {
	limit := a.acct.Cashback.CycleCap(projection)
	if limit == nil {
		return nil
	}
	left := remaining(*limit, a.earned)
	return &left
}

func (a *accumulator) snapshot(cycle Cycle) Snapshot {
	cfg := a.acct.Cashback
	snap := Snapshot{
		AccountID:         a.acct.ID,
		Cycle:             cycle,
		CurrentSpend:      a.spend,
		EarnedSoFar:       a.earned,
		PendingReward:     decimal.Zero,
		MinSpendMet:       true,
		MinSpendRemaining: decimal.Zero,
		MaxCashback:       cfg.CycleCap(a.spend),
		SharedTotal:       decimal.Zero,
		VoluntaryLoss:     decimal.Zero,
		TransactionCount:  len(a.rows),
		ActiveRules:       []RuleProgress{},
	}
	// Locked rows share against a zero reward until they are released.
	for _, row := range a.rows {
		snap.PendingReward = snap.PendingReward.Add(row.pending)
		share := ConstrainShare(row.tx.CashbackMode, row.tx.SharePercent, row.tx.ShareFixed, row.amount, row.reward)
		snap.SharedTotal = snap.SharedTotal.Add(share.Shared)
		snap.VoluntaryLoss = snap.VoluntaryLoss.Add(share.VoluntaryLoss)
	}
	snap.NetProfit = a.earned.Sub(snap.SharedTotal)
	if snap.MaxCashback != nil {
		left := remaining(*snap.MaxCashback, a.earned)
		snap.RemainingBudget = &left
	}
	if cfg == nil || cfg.Invalid != "" {
		return snap
	}

	if level := cfg.LevelFor(a.spend); level != nil {
		snap.LevelName = level.Name
	}
	if cfg.MinSpend != nil {
		snap.MinSpend = cfg.MinSpend
		snap.MinSpendMet = a.spend.GreaterThanOrEqual(*cfg.MinSpend)
		snap.MinSpendRemaining = remaining(*cfg.MinSpend, a.spend)
	}
	for _, rule := range cfg.ActiveRules(a.spend) {
		snap.ActiveRules = append(snap.ActiveRules, RuleProgress{
			RuleID: rule.ID,
			Name:   rule.Name,
			Max:    rule.MaxReward,
			Earned: a.ruleEarned[rule.ID],
		})
	}
	return snap
}

func remaining(limit, used decimal.Decimal) decimal.Decimal {
	return decimal.Max(limit.Sub(used), decimal.Zero)
}

// =============================================================================
// SUMMARIZE
// =============================================================================

// SummarizeCycle aggregates posted into a Snapshot for acct and cycle.
// Rows outside the cycle, of another account, void or not spend are ignored.
// classifier may be nil, in which case every expense counts as spend.
func SummarizeCycle(acct Account, cycle Cycle, posted []generic.Transaction, classifier *Classifier) Snapshot {
	return summarize(acct, cycle, posted, classifier, "").snapshot(cycle)
}

func summarize(acct Account, cycle Cycle, posted []generic.Transaction, classifier *Classifier, exclude generic.TransactionID) *accumulator {
	eligible := make([]generic.Transaction, 0, len(posted))
	for _, tx := range posted {
		if exclude != "" && tx.ID == exclude {
			continue
		}
		if tx.AccountID != acct.ID || !cycle.Contains(tx.OccurredAt) || !classifier.IsSpend(tx) {
			continue
		}
		eligible = append(eligible, tx)
	}
	generic.SortTransactions(eligible)

	acc := newAccumulator(acct, classifier)
	acc.rows = make([]awarded, 0, len(eligible))
	for _, tx := range eligible {
		acc.add(tx)
	}
	return acc
}

// =============================================================================
// PREVIEW
// =============================================================================

// Candidate is an uncommitted transaction as the form currently shows it.
type Candidate struct {
	// ID is set when editing a posted transaction.
	ID           generic.TransactionID
	Amount       decimal.Decimal
	OccurredAt   time.Time
	CategoryID   string
	ShopID       string
	Mode         generic.CashbackMode
	SharePercent *decimal.Decimal
	ShareFixed   *decimal.Decimal
}

// Preview is the live reward preview for a Candidate.
type Preview struct {
	Cycle  Cycle       `json:"cycle"`
	Policy MatchResult `json:"policy"`
	Before Snapshot    `json:"before"`

	RawReward       decimal.Decimal  `json:"rawReward"`
	EffectiveReward decimal.Decimal  `json:"effectiveReward"`
	BudgetClamped   bool             `json:"budgetClamped"`
	RemainingBefore *decimal.Decimal `json:"remainingBefore"`
	RemainingAfter  *decimal.Decimal `json:"remainingAfter"`

	// Locked is set when the candidate falls below its min-spend threshold.
	// Its reward is then PendingReward and EffectiveReward is zero.
	Locked        bool            `json:"locked"`
	PendingReward decimal.Decimal `json:"pendingReward"`
	// UnlockedReward is pending reward of posted rows that the candidate
	// releases by reaching their threshold.
	UnlockedReward decimal.Decimal `json:"unlockedReward"`

	Share                Share           `json:"share"`
	NetProfit            decimal.Decimal `json:"netProfit"`
	VoluntaryLoss        decimal.Decimal `json:"voluntaryLoss"`
	EffectiveRatePercent decimal.Decimal `json:"effectiveRatePercent"`
}

// PreviewReward previews the reward of candidate given the rows already
// posted in cycle. A non-positive amount or a non-spend category yields
// zero reward.
func PreviewReward(acct Account, cycle Cycle, posted []generic.Transaction, candidate Candidate, classifier *Classifier) Preview {
	acc := summarize(acct, cycle, posted, classifier, candidate.ID)
	amount := candidate.Amount.Abs()

	preview := Preview{
		Cycle:           cycle,
		Before:          acc.snapshot(cycle),
		RawReward:       decimal.Zero,
		EffectiveReward: decimal.Zero,
		PendingReward:   decimal.Zero,
		UnlockedReward:  decimal.Zero,
	}

	spend := amount.IsPositive() &&
		classifier.IsSpend(generic.Transaction{Kind: generic.KindExpense, CategoryID: candidate.CategoryID})

	projection := acc.spend.Add(amount)
	remainingBefore := acc.remainingAt(projection)
	if spend {
		preview.UnlockedReward = acc.release(projection)
	}

	match, effective, _ := acc.award(amount, candidate.CategoryID, candidate.ShopID)
	preview.Policy = match
	preview.RemainingBefore = remainingBefore
	if spend {
		preview.RawReward = rawReward(amount, match.Rate, nil)
		preview.BudgetClamped = effective.LessThan(preview.RawReward)
		if locked(match) {
			preview.Locked = true
			preview.PendingReward = effective
		} else {
			preview.EffectiveReward = effective
		}
	}

	if remainingBefore != nil {
		after := remaining(*remainingBefore, preview.UnlockedReward.Add(preview.EffectiveReward))
		preview.RemainingAfter = &after
	}

	preview.Share = ConstrainShare(candidate.Mode, candidate.SharePercent, candidate.ShareFixed, amount, preview.EffectiveReward)
	preview.NetProfit = preview.Share.NetProfit
	preview.VoluntaryLoss = preview.Share.VoluntaryLoss
	preview.EffectiveRatePercent = RatePercent(preview.EffectiveReward, amount)
	return preview
}

// RatePercent returns reward/amount*100 rounded to two places, 0 when
// amount <= 0.
func RatePercent(reward, amount decimal.Decimal) decimal.Decimal {
	if !amount.IsPositive() {
		return decimal.Zero
	}
	return reward.Div(amount).Mul(hundred).Round(2)
}

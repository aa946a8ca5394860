package cashback_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/cashback-engine/cashback"
	"github.com/warp/cashback-engine/generic"
)

// =============================================================================
// SCENARIOS
// =============================================================================

func TestPreview_CalendarCycleNoCap(t *testing.T) {
	// GIVEN: rate 0.1, calendar month, no maxAmount, no prior May spend
	// WHEN: A 1,000,000 expense on 2024-05-10 is previewed
	// THEN: effectiveReward = 100,000 and remaining budget is unbounded

	acct := card(tenPercent())
	at := day(2024, time.May, 10)
	cycle := mustCycle(t, at, acct.Cashback.Cycle)

	p := cashback.PreviewReward(acct, cycle, nil, cashback.Candidate{
		Amount:     dec("1000000"),
		OccurredAt: at,
		Mode:       generic.ModeNoneBack,
	}, nil)

	assertDecimal(t, "100000", p.EffectiveReward)
	assert.Nil(t, p.RemainingBefore)
	assert.Nil(t, p.RemainingAfter)
	assert.Nil(t, p.Before.RemainingBudget)
	assertDecimal(t, "10", p.EffectiveRatePercent)
}

func TestPreview_CappedCycleBudgetExhaustion(t *testing.T) {
	// GIVEN: rate 0.1, maxAmount 200,000, already earned 180,000 this cycle
	// WHEN: A 500,000 expense is previewed
	// THEN: raw 50,000 is clamped to 20,000; remaining after = 0

	cfg := tenPercent()
	cfg.MaxAmount = decp("200000")
	acct := card(cfg)
	cycle := mustCycle(t, day(2024, time.May, 20), cfg.Cycle)
	posted := []generic.Transaction{
		expense("tx-1", "1000000", day(2024, time.May, 2)),
		expense("tx-2", "800000", day(2024, time.May, 9)),
	}

	p := cashback.PreviewReward(acct, cycle, posted, cashback.Candidate{
		Amount:     dec("500000"),
		OccurredAt: day(2024, time.May, 20),
	}, nil)

	assertDecimal(t, "180000", p.Before.EarnedSoFar)
	assertDecimal(t, "50000", p.RawReward)
	assertDecimal(t, "20000", p.EffectiveReward)
	assert.True(t, p.BudgetClamped)
	assertDecimalPtr(t, "20000", p.RemainingBefore)
	assertDecimalPtr(t, "0", p.RemainingAfter)
	assertDecimal(t, "4", p.EffectiveRatePercent)
}

func TestPreview_VoluntarySharingExceedsReward(t *testing.T) {
	// GIVEN: The exhausted-budget scenario (effectiveReward = 20,000)
	// WHEN: voluntary share_fixed = 50,000
	// THEN: Allowed, net profit -30,000, voluntary loss, remaining budget unaffected

	cfg := tenPercent()
	cfg.MaxAmount = decp("200000")
	acct := card(cfg)
	cycle := mustCycle(t, day(2024, time.May, 20), cfg.Cycle)
	posted := []generic.Transaction{expense("tx-1", "1800000", day(2024, time.May, 2))}

	p := cashback.PreviewReward(acct, cycle, posted, cashback.Candidate{
		Amount:     dec("500000"),
		OccurredAt: day(2024, time.May, 20),
		Mode:       generic.ModeVoluntary,
		ShareFixed: decp("50000"),
	}, nil)

	assertDecimal(t, "20000", p.EffectiveReward)
	assertDecimal(t, "50000", p.Share.Shared)
	assertDecimal(t, "-30000", p.NetProfit)
	assertDecimal(t, "30000", p.VoluntaryLoss)
	assertDecimalPtr(t, "0", p.RemainingAfter, "loss does not push the budget below zero")

	// Posting it: the voluntary loss is tracked, budget only counts earned reward.
	committed := expense("tx-2", "500000", day(2024, time.May, 20))
	committed.CashbackMode = generic.ModeVoluntary
	committed.ShareFixed = decp("50000")
	snap := cashback.SummarizeCycle(acct, cycle, append(posted, committed), nil)

	assertDecimal(t, "200000", snap.EarnedSoFar)
	assertDecimalPtr(t, "0", snap.RemainingBudget)
	assertDecimal(t, "30000", snap.VoluntaryLoss)
	assertDecimal(t, "50000", snap.SharedTotal)
}

func TestPreview_RealSharingCappedByReward(t *testing.T) {
	cfg := tenPercent()
	cfg.MaxAmount = decp("200000")
	acct := card(cfg)
	cycle := mustCycle(t, day(2024, time.May, 20), cfg.Cycle)
	posted := []generic.Transaction{expense("tx-1", "1800000", day(2024, time.May, 2))}

	p := cashback.PreviewReward(acct, cycle, posted, cashback.Candidate{
		Amount:     dec("500000"),
		OccurredAt: day(2024, time.May, 20),
		Mode:       generic.ModeRealFixed,
		ShareFixed: decp("50000"),
	}, nil)

	assertDecimal(t, "20000", p.Share.Shared)
	assert.True(t, p.Share.Clamped)
	assert.True(t, p.NetProfit.IsZero())
}

func TestPreview_LockedBelowMinSpend(t *testing.T) {
	// GIVEN: A 10% card with a 3,000,000 min spend and 1,000,000 posted
	// WHEN: A 500,000 real_fixed candidate asks to share 500,000
	// THEN: The reward is pending, nothing is effective and nothing can
	//       be shared

	cfg := tenPercent()
	cfg.MinSpend = decp("3000000")
	acct := card(cfg)
	cycle := mustCycle(t, day(2024, time.May, 20), cfg.Cycle)
	posted := []generic.Transaction{expense("tx-1", "1000000", day(2024, time.May, 2))}

	p := cashback.PreviewReward(acct, cycle, posted, cashback.Candidate{
		Amount:     dec("500000"),
		OccurredAt: day(2024, time.May, 20),
		Mode:       generic.ModeRealFixed,
		ShareFixed: decp("500000"),
	}, nil)

	assert.Equal(t, cashback.ReasonMinSpendNotMet, p.Policy.Reason)
	assert.True(t, p.Locked)
	assert.True(t, p.EffectiveReward.IsZero())
	assertDecimal(t, "50000", p.PendingReward)
	assert.True(t, p.Share.Shared.IsZero())
	assert.True(t, p.Share.Clamped)
	assert.True(t, p.EffectiveRatePercent.IsZero())
}

func TestPreview_CrossingMinSpendUnlocksPosted(t *testing.T) {
	// GIVEN: 2,500,000 posted below a 3,000,000 min spend
	// WHEN: A 1,000,000 candidate reaches the threshold
	// THEN: It earns 100,000 and releases the 250,000 held on the posted row

	cfg := tenPercent()
	cfg.MinSpend = decp("3000000")
	acct := card(cfg)
	cycle := mustCycle(t, day(2024, time.May, 20), cfg.Cycle)
	posted := []generic.Transaction{expense("tx-1", "2500000", day(2024, time.May, 2))}

	p := cashback.PreviewReward(acct, cycle, posted, cashback.Candidate{
		Amount:     dec("1000000"),
		OccurredAt: day(2024, time.May, 20),
	}, nil)

	assert.False(t, p.Locked)
	assertDecimal(t, "100000", p.EffectiveReward)
	assertDecimal(t, "250000", p.UnlockedReward)
	assertDecimal(t, "250000", p.Before.PendingReward)
	assert.True(t, p.Before.EarnedSoFar.IsZero())
}

// =============================================================================
// SUMMARIZE
// =============================================================================

func TestSummarizeCycle_FiltersRows(t *testing.T) {
	// GIVEN: A mix of eligible and ineligible rows
	// THEN: Only non-void in-cycle expenses of this account count

	acct := card(tenPercent())
	cycle := mustCycle(t, day(2024, time.May, 1), acct.Cashback.Cycle)
	classifier := cashback.NewClassifier([]cashback.Category{
		{ID: "cat-refund", Name: "Refund", Tags: []cashback.CategoryTag{cashback.TagRefund}},
		{ID: "cat-legacy-refund", Name: "Hoàn tiền đơn hàng"},
		{ID: "cat-food", Name: "Food"},
	})

	void := expense("void", "100", day(2024, time.May, 3))
	void.Void = true
	income := expense("income", "100", day(2024, time.May, 3))
	income.Kind = generic.KindIncome
	other := expense("other", "100", day(2024, time.May, 3))
	other.AccountID = "card-2"

	posted := []generic.Transaction{
		withCategory(expense("food", "1000", day(2024, time.May, 3)), "cat-food"),
		expense("end-boundary", "100", day(2024, time.June, 1)),
		expense("start-boundary", "500", day(2024, time.May, 1)),
		withCategory(expense("refund", "100", day(2024, time.May, 4)), "cat-refund"),
		withCategory(expense("legacy-refund", "100", day(2024, time.May, 4)), "cat-legacy-refund"),
		void, income, other,
	}

	snap := cashback.SummarizeCycle(acct, cycle, posted, classifier)

	assertDecimal(t, "1500", snap.CurrentSpend)
	assertDecimal(t, "150", snap.EarnedSoFar)
	assert.Equal(t, 2, snap.TransactionCount)
}

func TestSummarizeCycle_SpendCountsRowsWithoutReward(t *testing.T) {
	// GIVEN: Only a dining rule, no base rate
	// THEN: Non-dining spend still counts toward CurrentSpend

	cfg := &cashback.Config{Rules: []cashback.Rule{{ID: "dining", CategoryIDs: []string{"cat-dining"}, Rate: dec("0.05")}}}
	acct := card(cfg)
	cycle := mustCycle(t, day(2024, time.May, 1), nil)

	snap := cashback.SummarizeCycle(acct, cycle, []generic.Transaction{
		withCategory(expense("a", "100000", day(2024, time.May, 2)), "cat-dining"),
		withCategory(expense("b", "400000", day(2024, time.May, 3)), "cat-fuel"),
	}, nil)

	assertDecimal(t, "500000", snap.CurrentSpend)
	assertDecimal(t, "5000", snap.EarnedSoFar)
}

func TestSummarizeCycle_RuleCapPerCycle(t *testing.T) {
	// GIVEN: Dining rule 5% capped at 100,000 per cycle
	// WHEN: 3M of dining spread over three rows
	// THEN: The rule stops earning at 100,000 and reports progress

	acct := card(diningProgram())
	cycle := mustCycle(t, day(2024, time.May, 25), acct.Cashback.Cycle)

	snap := cashback.SummarizeCycle(acct, cycle, []generic.Transaction{
		withCategory(expense("a", "1000000", day(2024, time.May, 21)), "cat-dining"),
		withCategory(expense("b", "1000000", day(2024, time.May, 22)), "cat-dining"),
		withCategory(expense("c", "1000000", day(2024, time.May, 23)), "cat-dining"),
		withCategory(expense("d", "1000000", day(2024, time.May, 23)), "cat-fuel"),
	}, nil)

	require.Len(t, snap.ActiveRules, 2)
	assert.Equal(t, "dining", snap.ActiveRules[0].RuleID)
	assertDecimal(t, "100000", snap.ActiveRules[0].Earned)
	assertDecimalPtr(t, "100000", snap.ActiveRules[0].Max)
	assertDecimal(t, "110000", snap.EarnedSoFar, "dining cap plus the base rate on fuel")
	assert.Nil(t, snap.RemainingBudget)
}

func TestSummarizeCycle_CycleCapHolds(t *testing.T) {
	// GIVEN: Cap 200,000
	// THEN: earnedSoFar never exceeds the cap and remaining = cap - earned

	cfg := tenPercent()
	cfg.MaxAmount = decp("200000")
	acct := card(cfg)
	cycle := mustCycle(t, day(2024, time.May, 1), cfg.Cycle)

	var posted []generic.Transaction
	for i := 0; i < 10; i++ {
		posted = append(posted, expense(string(rune('a'+i)), "333333", day(2024, time.May, 1+i)))
		snap := cashback.SummarizeCycle(acct, cycle, posted, nil)
		assert.True(t, snap.EarnedSoFar.LessThanOrEqual(*snap.MaxCashback))
		assert.True(t, snap.RemainingBudget.Equal(snap.MaxCashback.Sub(snap.EarnedSoFar)))
	}
}

func TestSummarizeCycle_MinSpendProgress(t *testing.T) {
	cfg := tenPercent()
	cfg.MinSpend = decp("3000000")
	acct := card(cfg)
	cycle := mustCycle(t, day(2024, time.May, 1), cfg.Cycle)

	snap := cashback.SummarizeCycle(acct, cycle, []generic.Transaction{expense("a", "1000000", day(2024, time.May, 2))}, nil)

	assert.False(t, snap.MinSpendMet)
	assertDecimal(t, "2000000", snap.MinSpendRemaining)
	assertDecimalPtr(t, "3000000", snap.MinSpend)
}

func TestSummarizeCycle_LockedRewardIsPending(t *testing.T) {
	// GIVEN: A 10% card with a 3,000,000 min spend and a 200,000 cap
	// WHEN: Only 1,000,000 is spent, shared in real_fixed mode
	// THEN: Nothing is earned, the reward is pending, the budget is intact
	//       and the real share is capped at zero

	cfg := tenPercent()
	cfg.MinSpend = decp("3000000")
	cfg.MaxAmount = decp("200000")
	acct := card(cfg)
	cycle := mustCycle(t, day(2024, time.May, 1), cfg.Cycle)

	tx := expense("a", "1000000", day(2024, time.May, 2))
	tx.CashbackMode = generic.ModeRealFixed
	tx.ShareFixed = decp("50000")

	snap := cashback.SummarizeCycle(acct, cycle, []generic.Transaction{tx}, nil)

	assert.False(t, snap.MinSpendMet)
	assert.True(t, snap.EarnedSoFar.IsZero())
	assertDecimal(t, "100000", snap.PendingReward)
	assertDecimalPtr(t, "200000", snap.RemainingBudget)
	assert.True(t, snap.SharedTotal.IsZero())
}

func TestSummarizeCycle_ReachingMinSpendReleasesPending(t *testing.T) {
	// GIVEN: The same card, with 2,500,000 then 1,000,000 spent
	// WHEN: The second row crosses the 3,000,000 threshold
	// THEN: The first row's reward is credited first and both are capped
	//       by the 200,000 cycle budget

	cfg := tenPercent()
	cfg.MinSpend = decp("3000000")
	cfg.MaxAmount = decp("200000")
	acct := card(cfg)
	cycle := mustCycle(t, day(2024, time.May, 1), cfg.Cycle)

	first := expense("a", "2500000", day(2024, time.May, 2))
	first.CashbackMode = generic.ModeRealFixed
	first.ShareFixed = decp("50000")
	posted := []generic.Transaction{
		first,
		expense("b", "1000000", day(2024, time.May, 3)),
	}

	snap := cashback.SummarizeCycle(acct, cycle, posted, nil)

	assert.True(t, snap.MinSpendMet)
	assertDecimal(t, "200000", snap.EarnedSoFar)
	assert.True(t, snap.PendingReward.IsZero())
	assertDecimalPtr(t, "0", snap.RemainingBudget)
	assertDecimal(t, "50000", snap.SharedTotal)
}

func TestSummarizeCycle_Idempotent(t *testing.T) {
	// GIVEN: The same inputs, in different slice orders
	// THEN: Identical snapshots

	cfg := diningProgram()
	cfg.MaxAmount = decp("150000")
	acct := card(cfg)
	cycle := mustCycle(t, day(2024, time.May, 25), cfg.Cycle)
	posted := []generic.Transaction{
		withCategory(expense("b", "2000000", day(2024, time.May, 22)), "cat-dining"),
		withCategory(expense("a", "900000", day(2024, time.May, 22)), "cat-fuel"),
		withCategory(expense("c", "1500000", day(2024, time.May, 30)), "cat-dining"),
	}
	reversed := []generic.Transaction{posted[2], posted[1], posted[0]}

	first := cashback.SummarizeCycle(acct, cycle, posted, nil)
	second := cashback.SummarizeCycle(acct, cycle, posted, nil)
	third := cashback.SummarizeCycle(acct, cycle, reversed, nil)

	assert.Equal(t, first, second)
	assert.Equal(t, first, third)
	assert.Equal(t, "b", string(posted[0].ID), "input slice is not reordered")
}

func TestSummarizeCycle_InvalidConfig(t *testing.T) {
	acct := card(&cashback.Config{Rate: dec("0.1"), MaxAmount: decp("10"), Invalid: "rate is not numeric"})
	cycle := mustCycle(t, day(2024, time.May, 1), nil)

	snap := cashback.SummarizeCycle(acct, cycle, []generic.Transaction{expense("a", "1000", day(2024, time.May, 2))}, nil)

	assertDecimal(t, "1000", snap.CurrentSpend)
	assert.True(t, snap.EarnedSoFar.IsZero())
	assert.Nil(t, snap.MaxCashback)
	assert.Nil(t, snap.RemainingBudget)
}

// =============================================================================
// PREVIEW EDGE CASES
// =============================================================================

func TestPreview_EditingPostedRowExcludesItself(t *testing.T) {
	// GIVEN: A posted 1,000,000 row under a 100,000 cap, fully earned
	// WHEN: Previewing an edit of that same row
	// THEN: Its own previous reward does not shrink its allowance

	cfg := tenPercent()
	cfg.MaxAmount = decp("100000")
	acct := card(cfg)
	cycle := mustCycle(t, day(2024, time.May, 1), cfg.Cycle)
	posted := []generic.Transaction{expense("tx-1", "1000000", day(2024, time.May, 2))}

	p := cashback.PreviewReward(acct, cycle, posted, cashback.Candidate{
		ID:         "tx-1",
		Amount:     dec("1000000"),
		OccurredAt: day(2024, time.May, 2),
	}, nil)

	assertDecimal(t, "100000", p.EffectiveReward)
	assert.True(t, p.Before.EarnedSoFar.IsZero())
}

func TestPreview_ZeroAmount(t *testing.T) {
	acct := card(tenPercent())
	cycle := mustCycle(t, day(2024, time.May, 1), nil)

	for _, amount := range []string{"0", "-0"} {
		p := cashback.PreviewReward(acct, cycle, nil, cashback.Candidate{Amount: dec(amount), Mode: generic.ModeRealPercent, SharePercent: decp("50")}, nil)
		assert.True(t, p.EffectiveReward.IsZero())
		assert.True(t, p.EffectiveRatePercent.IsZero())
		assert.True(t, p.Share.Shared.IsZero())
	}
}

func TestPreview_RefundCategoryEarnsNothing(t *testing.T) {
	acct := card(tenPercent())
	cycle := mustCycle(t, day(2024, time.May, 1), nil)
	classifier := cashback.NewClassifier([]cashback.Category{{ID: "cat-refund", Name: "Refund", Tags: []cashback.CategoryTag{cashback.TagRefund}}})

	p := cashback.PreviewReward(acct, cycle, nil, cashback.Candidate{Amount: dec("100"), CategoryID: "cat-refund"}, classifier)
	assert.True(t, p.EffectiveReward.IsZero())
}

func TestSnapshot_ToGeneric(t *testing.T) {
	cfg := tenPercent()
	cfg.MaxAmount = decp("500")
	acct := card(cfg)
	cycle := mustCycle(t, day(2024, time.May, 1), cfg.Cycle)
	snap := cashback.SummarizeCycle(acct, cycle, []generic.Transaction{expense("a", "1000", day(2024, time.May, 2))}, nil)

	closed := snap.ToGeneric(day(2024, time.June, 1), generic.SnapshotCycleEnd)

	assert.Equal(t, "2024-05", closed.Label)
	assert.Equal(t, generic.SnapshotID(testAccount, cycle.Period()), closed.ID)
	assertDecimal(t, "100", closed.EarnedSoFar)
	assertDecimalPtr(t, "400", closed.RemainingBudget)
	assert.Equal(t, generic.SnapshotCycleEnd, closed.Reason)
}

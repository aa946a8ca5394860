package cashback

import (
	"github.com/shopspring/decimal"
	"github.com/warp/cashback-engine/generic"
)

// =============================================================================
// SHARING - How much of a reward is given to another person
// =============================================================================

// Share is the constrained outcome of a sharing request.
//
//	Requested = amount * percent/100 + fixed
//	Shared    = Requested bounded by the mode's limits
//
// Real (claimed) modes cannot share more than the bank pays. Voluntary mode
// may share up to the transaction amount; whatever exceeds the earned reward
// is VoluntaryLoss, which never touches the cycle budget.
type Share struct {
	Mode          generic.CashbackMode `json:"mode"`
	Requested     decimal.Decimal      `json:"requested"`
	Shared        decimal.Decimal      `json:"shared"`
	Clamped       bool                 `json:"clamped"`
	VoluntaryLoss decimal.Decimal      `json:"voluntaryLoss"`
	NetProfit     decimal.Decimal      `json:"netProfit"`
}

var hundred = decimal.NewFromInt(100)

// ConstrainShare applies the sharing limits of mode. percent is 0-100 and
// either pointer may be nil. NetProfit = effectiveReward - Shared and may be
// negative.
func ConstrainShare(mode generic.CashbackMode, percent, fixed *decimal.Decimal, amount, effectiveReward decimal.Decimal) Share {
	amount = amount.Abs()
	effectiveReward = decimal.Max(effectiveReward, decimal.Zero)

	share := Share{Mode: mode, Requested: RequestedShare(percent, fixed, amount)}
	if !mode.Shares() {
		share.Clamped = share.Requested.IsPositive()
		share.NetProfit = effectiveReward
		return share
	}

	limit := amount
	if mode != generic.ModeVoluntary {
		limit = decimal.Min(limit, effectiveReward)
	}
	share.Shared = decimal.Min(share.Requested, limit)
	share.Clamped = share.Shared.LessThan(share.Requested)

	if mode == generic.ModeVoluntary && share.Shared.GreaterThan(effectiveReward) {
		share.VoluntaryLoss = share.Shared.Sub(effectiveReward)
	}
	share.NetProfit = effectiveReward.Sub(share.Shared)
	return share
}

// RequestedShare is amount*percent/100 + fixed, floored at zero.
func RequestedShare(percent, fixed *decimal.Decimal, amount decimal.Decimal) decimal.Decimal {
	requested := decimal.Zero
	if percent != nil && percent.IsPositive() {
		requested = requested.Add(amount.Abs().Mul(*percent).Div(hundred))
	}
	if fixed != nil && fixed.IsPositive() {
		requested = requested.Add(*fixed)
	}
	return requested
}

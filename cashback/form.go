/*
form.go - Transaction form state as a pure reducer

PURPOSE:
  The transaction form keeps derived cashback fields in sync with what the
  user types: changing the amount invalidates the preview, switching to
  none_back clears the share, a loaded preview re-clamps the share. Those
  cascades are modelled as Reduce(state, event) -> state so each step is
  explicit and testable.

EVENT FLOW:
  AmountChanged ─┐
  CategoryChanged├─> NeedsPreview = true
  ...            ┘
  PreviewRequested{Token}  -> Loading, remembers Token
  PreviewLoaded{Token}     -> applied only if Token is the latest
  PreviewFailed{Token}     -> error message, same token rule
*/
package cashback

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/cashback-engine/generic"
)

// PreviewErrorMessage is shown when the posted transactions cannot be loaded.
const PreviewErrorMessage = "Could not load cashback info"

// FormState is the cashback-relevant part of the transaction form.
type FormState struct {
	TransactionID generic.TransactionID
	AccountID     generic.AccountID
	Amount        decimal.Decimal
	CategoryID    string
	ShopID        string
	OccurredAt    time.Time

	Mode         generic.CashbackMode
	SharePercent *decimal.Decimal
	ShareFixed   *decimal.Decimal
	ShareClamped bool

	NeedsPreview bool
	Loading      bool
	Token        uint64
	Preview      *Preview
	Error        string
}

// Candidate returns the uncommitted transaction described by the form.
func (s FormState) Candidate() Candidate {
	return Candidate{
		ID:           s.TransactionID,
		Amount:       s.Amount,
		OccurredAt:   s.OccurredAt,
		CategoryID:   s.CategoryID,
		ShopID:       s.ShopID,
		Mode:         s.Mode,
		SharePercent: s.SharePercent,
		ShareFixed:   s.ShareFixed,
	}
}

// =============================================================================
// EVENTS
// =============================================================================

// Event is a form input or preview lifecycle event.
type Event interface {
	isEvent()
}

type (
	AccountChanged      struct{ AccountID generic.AccountID }
	AmountChanged       struct{ Amount decimal.Decimal }
	CategoryChanged     struct{ CategoryID string }
	ShopChanged         struct{ ShopID string }
	OccurredAtChanged   struct{ OccurredAt time.Time }
	ModeChanged         struct{ Mode generic.CashbackMode }
	SharePercentChanged struct{ Percent *decimal.Decimal }
	ShareFixedChanged   struct{ Fixed *decimal.Decimal }
	PreviewRequested    struct{ Token uint64 }
	PreviewLoaded       struct {
		Token   uint64
		Preview Preview
	}
	PreviewFailed struct {
		Token uint64
		Err   error
	}
)

func (AccountChanged) isEvent()      {}
func (AmountChanged) isEvent()       {}
func (CategoryChanged) isEvent()     {}
func (ShopChanged) isEvent()         {}
func (OccurredAtChanged) isEvent()   {}
func (ModeChanged) isEvent()         {}
func (SharePercentChanged) isEvent() {}
func (ShareFixedChanged) isEvent()   {}
func (PreviewRequested) isEvent()    {}
func (PreviewLoaded) isEvent()       {}
func (PreviewFailed) isEvent()       {}

// =============================================================================
// REDUCER
// =============================================================================

// Reduce returns the state after ev. It never mutates state.
func Reduce(state FormState, ev Event) FormState {
	switch e := ev.(type) {
	case AccountChanged:
		state.AccountID = e.AccountID
		state.NeedsPreview = true
	case AmountChanged:
		state.Amount = e.Amount
		state.NeedsPreview = true
	case CategoryChanged:
		state.CategoryID = e.CategoryID
		state.NeedsPreview = true
	case ShopChanged:
		state.ShopID = e.ShopID
		state.NeedsPreview = true
	case OccurredAtChanged:
		state.OccurredAt = e.OccurredAt
		state.NeedsPreview = true

	case ModeChanged:
		state.Mode = e.Mode
		if !e.Mode.Shares() {
			state.SharePercent = nil
			state.ShareFixed = nil
			state.ShareClamped = false
		}
		state = clampShareFields(state)
	case SharePercentChanged:
		state.SharePercent = e.Percent
		state = clampShareFields(state)
	case ShareFixedChanged:
		state.ShareFixed = e.Fixed
		state = clampShareFields(state)

	case PreviewRequested:
		if e.Token > state.Token {
			state.Token = e.Token
			state.Loading = true
			state.NeedsPreview = false
		}
	case PreviewLoaded:
		if e.Token != state.Token {
			return state
		}
		preview := e.Preview
		state.Preview = &preview
		state.Loading = false
		state.Error = ""
		state = clampShareFields(state)
	case PreviewFailed:
		if e.Token != state.Token {
			return state
		}
		state.Loading = false
		state.Error = PreviewErrorMessage
	}
	return state
}

// clampShareFields rewrites the share inputs so the requested share fits the
// mode's limit. The percent part is kept when possible; the fixed part
// absorbs the reduction.
func clampShareFields(state FormState) FormState {
	state.ShareClamped = false
	if !state.Mode.Shares() {
		return state
	}
	amount := state.Amount.Abs()
	limit := amount
	if state.Mode != generic.ModeVoluntary {
		if state.Preview == nil {
			return state
		}
		limit = decimal.Min(limit, state.Preview.EffectiveReward)
	}

	requested := RequestedShare(state.SharePercent, state.ShareFixed, amount)
	if !requested.GreaterThan(limit) {
		return state
	}
	state.ShareClamped = true

	percentPart := RequestedShare(state.SharePercent, nil, amount)
	if percentPart.GreaterThan(limit) {
		percent := decimal.Zero
		if amount.IsPositive() {
			percent = limit.Div(amount).Mul(hundred)
		}
		state.SharePercent = &percent
		state.ShareFixed = nil
		return state
	}
	fixed := limit.Sub(percentPart)
	state.ShareFixed = &fixed
	return state
}

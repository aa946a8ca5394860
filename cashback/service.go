/*
service.go - I/O façade over the pure engine

PURPOSE:
  Service fetches what the engine needs (account, categories, ONE slice of
  posted transactions per evaluation) and hands it to the pure functions in
  cycle.go, policy.go and ledger.go.

ERRORS:
  Only lookup failures are returned. A missing account is
  generic.ErrAccountNotFound; a failed transaction fetch is wrapped and
  returned so the UI can show "Could not load cashback info". A malformed
  cashback config never errors: the cycle falls back to the calendar month
  and the policy degrades to rate 0.

CACHING:
  Stats snapshots are cached per (account, cycle label) when a cache is
  configured. Writes to an account's transactions must call Invalidate.
*/
package cashback

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/warp/cashback-engine/generic"
)

// =============================================================================
// COLLABORATORS
// =============================================================================

// AccountSource looks up accounts with their parsed cashback config.
type AccountSource interface {
	GetAccount(ctx context.Context, id generic.AccountID) (*Account, error)
}

// CategorySource lists categories for classification.
type CategorySource interface {
	ListCategories(ctx context.Context) ([]Category, error)
}

// SnapshotCache stores computed snapshots by key.
type SnapshotCache interface {
	GetSnapshot(ctx context.Context, key string) (*Snapshot, bool)
	SetSnapshot(ctx context.Context, key string, s Snapshot) error
	Delete(ctx context.Context, key string) error
}

// Observer receives evaluation events, typically for metrics.
type Observer interface {
	ObservePolicy(source PolicySource, reason string)
	ObserveSummary(d time.Duration, transactions int)
	ObservePreview(budgetClamped, shareClamped bool)
	ObserveConfigFallback()
}

// =============================================================================
// SERVICE
// =============================================================================

type Service struct {
	Accounts   AccountSource
	Categories CategorySource
	Ledger     generic.Ledger
	Snapshots  generic.SnapshotStore // optional; required by CloseCycle
	Cache      SnapshotCache         // optional
	Observer   Observer              // optional
	Logger     logrus.FieldLogger

	// Now stamps closed-cycle snapshots. The engine itself never reads it.
	Now func() time.Time
}

func NewService(accounts AccountSource, categories CategorySource, ledger generic.Ledger) *Service {
	return &Service{
		Accounts:   accounts,
		Categories: categories,
		Ledger:     ledger,
		Logger:     logrus.StandardLogger(),
		Now:        time.Now,
	}
}

// StatsQuery mirrors GET /cashback/stats?accountId&date&categoryId.
type StatsQuery struct {
	AccountID  generic.AccountID
	Date       time.Time
	CategoryID string
}

// StatsResult is the stats payload: the snapshot of the cycle containing
// Date, plus the policy for CategoryID when one was given.
type StatsResult struct {
	Snapshot
	Policy        *MatchResult `json:"policy,omitempty"`
	CycleFallback bool         `json:"cycleFallback,omitempty"`
	Anomalies     []string     `json:"anomalies,omitempty"`
}

// PreviewRequest is the body of POST /cashback/preview.
type PreviewRequest struct {
	AccountID generic.AccountID
	Candidate Candidate
}

type evaluation struct {
	account    *Account
	cycle      Cycle
	fallback   bool
	classifier *Classifier
	posted     []generic.Transaction
}

func (s *Service) load(ctx context.Context, accountID generic.AccountID, date time.Time) (*evaluation, error) {
	account, err := s.Accounts.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	cycle, ok := ResolveCycleOrCalendar(date, account.Cashback.CycleOrDefault())
	if !ok {
		s.Logger.WithFields(logrus.Fields{
			"account_id": accountID,
			"cycle_type": account.Cashback.CycleOrDefault().CycleType(),
		}).Warn("invalid cycle config, falling back to calendar month")
		if s.Observer != nil {
			s.Observer.ObserveConfigFallback()
		}
	}

	var categories []Category
	if s.Categories != nil {
		categories, err = s.Categories.ListCategories(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "list categories")
		}
	}

	posted, err := s.Ledger.TransactionsInPeriod(ctx, accountID, cycle.Period())
	if err != nil {
		return nil, errors.Wrapf(err, "load transactions for cycle %s", cycle.Label)
	}

	return &evaluation{
		account:    account,
		cycle:      cycle,
		fallback:   !ok,
		classifier: NewClassifier(categories),
		posted:     posted,
	}, nil
}

func (s *Service) summarize(ev *evaluation) Snapshot {
	start := time.Now()
	snap := SummarizeCycle(*ev.account, ev.cycle, ev.posted, ev.classifier)
	if s.Observer != nil {
		s.Observer.ObserveSummary(time.Since(start), snap.TransactionCount)
	}
	return snap
}

// Stats returns the snapshot of the cycle containing q.Date.
func (s *Service) Stats(ctx context.Context, q StatsQuery) (*StatsResult, error) {
	ev, err := s.load(ctx, q.AccountID, q.Date)
	if err != nil {
		return nil, err
	}

	key := CacheKey(q.AccountID, ev.account.ConfigVersion, ev.cycle)
	var snap Snapshot
	cached, hit := s.cachedSnapshot(ctx, key)
	if hit {
		snap = *cached
	} else {
		snap = s.summarize(ev)
		s.storeSnapshot(ctx, key, snap)
	}

	result := &StatsResult{
		Snapshot:      snap,
		CycleFallback: ev.fallback,
		Anomalies:     ev.account.ConfigAnomalies,
	}
	if q.CategoryID != "" {
		match := ResolvePolicy(*ev.account, PolicyInput{
			CategoryID:           q.CategoryID,
			CategoryName:         ev.classifier.Name(q.CategoryID),
			CycleSpentProjection: snap.CurrentSpend,
		})
		s.observePolicy(match)
		result.Policy = &match
	}
	return result, nil
}

// Progress returns one match result per active rule plus the default bucket,
// evaluated at the cycle's current spend.
func (s *Service) Progress(ctx context.Context, accountID generic.AccountID, date time.Time) ([]MatchResult, error) {
	ev, err := s.load(ctx, accountID, date)
	if err != nil {
		return nil, err
	}
	snap := s.summarize(ev)
	return ProgressResults(*ev.account, snap.CurrentSpend), nil
}

// Cycle resolves the cycle containing date for the account.
func (s *Service) Cycle(ctx context.Context, accountID generic.AccountID, date time.Time) (Cycle, error) {
	account, err := s.Accounts.GetAccount(ctx, accountID)
	if err != nil {
		return Cycle{}, err
	}
	cycle, _ := ResolveCycleOrCalendar(date, account.Cashback.CycleOrDefault())
	return cycle, nil
}

// Preview computes the live preview for an uncommitted transaction.
func (s *Service) Preview(ctx context.Context, req PreviewRequest) (*Preview, error) {
	ev, err := s.load(ctx, req.AccountID, req.Candidate.OccurredAt)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	preview := PreviewReward(*ev.account, ev.cycle, ev.posted, req.Candidate, ev.classifier)
	s.observePolicy(preview.Policy)
	if s.Observer != nil {
		s.Observer.ObservePreview(preview.BudgetClamped, preview.Share.Clamped)
	}
	s.Logger.WithFields(logrus.Fields{
		"account_id": req.AccountID,
		"cycle":      ev.cycle.Label,
		"reason":     preview.Policy.Reason,
		"effective":  preview.EffectiveReward.String(),
	}).Debug("cashback preview")
	return &preview, nil
}

// CloseCycle summarizes the cycle containing ref and persists it as a
// closed-cycle snapshot.
func (s *Service) CloseCycle(ctx context.Context, accountID generic.AccountID, ref time.Time, reason generic.SnapshotReason) (*generic.Snapshot, error) {
	if s.Snapshots == nil {
		return nil, errors.New("snapshot store not configured")
	}
	ev, err := s.load(ctx, accountID, ref)
	if err != nil {
		return nil, err
	}

	closed := s.summarize(ev).ToGeneric(s.Now(), reason)
	if err := s.Snapshots.SaveSnapshot(ctx, closed); err != nil {
		return nil, errors.Wrapf(err, "save snapshot %s", closed.ID)
	}
	s.Logger.WithFields(logrus.Fields{
		"account_id": accountID,
		"cycle":      closed.Label,
		"earned":     closed.EarnedSoFar.String(),
		"reason":     reason,
	}).Info("cycle closed")
	return &closed, nil
}

// Invalidate drops the cached snapshot of the cycle containing at. Call it
// after creating, editing or voiding a transaction.
func (s *Service) Invalidate(ctx context.Context, accountID generic.AccountID, at time.Time) {
	if s.Cache == nil {
		return
	}
	account, err := s.Accounts.GetAccount(ctx, accountID)
	if err != nil {
		return
	}
	cycle, _ := ResolveCycleOrCalendar(at, account.Cashback.CycleOrDefault())
	if err := s.Cache.Delete(ctx, CacheKey(accountID, account.ConfigVersion, cycle)); err != nil {
		s.Logger.WithError(err).WithField("account_id", accountID).Warn("snapshot cache invalidation failed")
	}
}

// CacheKey identifies a cached snapshot. Entries written under an older
// config version are never read again and expire with their TTL.
func CacheKey(accountID generic.AccountID, configVersion string, cycle Cycle) string {
	return fmt.Sprintf("cashback:snapshot:%s:%s:%s:%d", accountID, configVersion, cycle.Label, cycle.Start.Unix())
}

func (s *Service) cachedSnapshot(ctx context.Context, key string) (*Snapshot, bool) {
	if s.Cache == nil {
		return nil, false
	}
	return s.Cache.GetSnapshot(ctx, key)
}

func (s *Service) storeSnapshot(ctx context.Context, key string, snap Snapshot) {
	if s.Cache == nil {
		return
	}
	if err := s.Cache.SetSnapshot(ctx, key, snap); err != nil {
		s.Logger.WithError(err).WithField("key", key).Warn("snapshot cache write failed")
	}
}

func (s *Service) observePolicy(match MatchResult) {
	if s.Observer != nil {
		s.Observer.ObservePolicy(match.Source, match.Reason)
	}
}

// TotalEarned sums EarnedSoFar over closed snapshots.
func TotalEarned(snapshots []generic.Snapshot) decimal.Decimal {
	total := decimal.Zero
	for _, snap := range snapshots {
		total = total.Add(snap.EarnedSoFar)
	}
	return total
}

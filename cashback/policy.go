/*
policy.go - Policy Resolver

PURPOSE:
  Decides which reward rate and per-rule cap apply to one transaction and
  reports WHY, so every number shown to the user is auditable.

PRECEDENCE (highest first):
  1. Rule      - first rule in declaration order scoped to the category ID,
                 then to the shop ID, then (legacy rows) to the category name
  2. Default   - the active level's rate, else the account's base rate
  3. Virtual   - the configured virtual (estimated) rate
  4. No policy - rate 0, source "default", reason "no_policy"

  Rules and the default rate come from the active LEVEL when the account
  uses spend tiers: the highest level whose MinSpend the projected cycle
  spend reaches. A level without rules keeps the account rules.

MIN SPEND:
  A rule's MinSpend (else the account's) gates the reward. When the
  projection is below it the matched rate is still returned for progress
  display, the reason becomes "min_spend_not_met", and MinSpendMet is false.
  The ledger holds such reward as pending until the threshold is reached.

CAPS:
  MaxReward is the matched rule's per-cycle cap. The cycle-level budget is
  NOT applied here; deduction is the ledger's job (ledger.go).

FAILURE POLICY:
  ResolvePolicy never fails. A malformed config yields rate 0 and an
  "invalid_config:" reason; an out-of-range rate is clamped into [0,1].
*/
package cashback

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// MATCH RESULT
// =============================================================================

type PolicySource string

const (
	SourceRule    PolicySource = "rule"
	SourceDefault PolicySource = "default"
	SourceVirtual PolicySource = "virtual"
)

// Match reasons.
const (
	ReasonCategoryRule   = "category_rule"
	ReasonMerchantRule   = "merchant_rule"
	ReasonLegacyName     = "legacy_category_name"
	ReasonDefaultRate    = "default_rate"
	ReasonLevelRate      = "level_rate"
	ReasonVirtualRate    = "virtual_rate"
	ReasonNoPolicy       = "no_policy"
	ReasonMinSpendNotMet = "min_spend_not_met"

	reasonInvalidConfigPrefix = "invalid_config:"
)

// MatchResult is the outcome of policy resolution for one transaction.
type MatchResult struct {
	Rate          decimal.Decimal  `json:"rate"`
	MaxReward     *decimal.Decimal `json:"maxReward"`
	Source        PolicySource     `json:"policySource"`
	Reason        string           `json:"reason"`
	LevelName     string           `json:"levelName,omitempty"`
	LevelMinSpend *decimal.Decimal `json:"levelMinSpend,omitempty"`
	RuleID        string           `json:"ruleId,omitempty"`
	RuleName      string           `json:"ruleName,omitempty"`

	MinSpend    *decimal.Decimal `json:"minSpend,omitempty"`
	MinSpendMet bool             `json:"minSpendMet"`

	// EstimatedReward is amount*rate bounded by MaxReward, 0 when amount <= 0.
	EstimatedReward decimal.Decimal `json:"estimatedReward"`
}

// Unlocked reports whether the reward counts: min spend is met and the
// config was usable.
func (m MatchResult) Unlocked() bool {
	return m.MinSpendMet && !m.Rate.IsZero()
}

// PolicyInput describes the transaction being evaluated.
type PolicyInput struct {
	CategoryID   string
	CategoryName string
	ShopID       string
	Amount       decimal.Decimal

	// CycleSpentProjection is the cycle spend INCLUDING this transaction.
	CycleSpentProjection decimal.Decimal
}

// =============================================================================
// RESOLVER
// =============================================================================

var one = decimal.NewFromInt(1)

// ResolvePolicy returns the rate and cap applying to in for acct.
func ResolvePolicy(acct Account, in PolicyInput) MatchResult {
	cfg := acct.Cashback
	if cfg == nil {
		return finish(noPolicy(), in)
	}
	if cfg.Invalid != "" {
		return finish(invalidPolicy(cfg), in)
	}

	level := cfg.LevelFor(in.CycleSpentProjection)
	if rule, reason := matchRule(cfg.ActiveRules(in.CycleSpentProjection), in); rule != nil {
		return finish(gate(ruleResult(cfg, level, rule, reason), in), in)
	}
	return finish(gate(defaultResult(cfg, level), in), in)
}

// ProgressResults lists one result per rule active at spend, followed by the
// default result, so a progress view can show every bucket of the program.
func ProgressResults(acct Account, spend decimal.Decimal) []MatchResult {
	in := PolicyInput{CycleSpentProjection: spend}
	cfg := acct.Cashback
	if cfg == nil {
		return []MatchResult{finish(noPolicy(), in)}
	}
	if cfg.Invalid != "" {
		return []MatchResult{finish(invalidPolicy(cfg), in)}
	}

	level := cfg.LevelFor(spend)
	rules := cfg.ActiveRules(spend)
	results := make([]MatchResult, 0, len(rules)+1)
	for i := range rules {
		results = append(results, finish(gate(ruleResult(cfg, level, &rules[i], ReasonCategoryRule), in), in))
	}
	return append(results, finish(gate(defaultResult(cfg, level), in), in))
}

func ruleResult(cfg *Config, level *Level, rule *Rule, reason string) MatchResult {
	result := withLevel(MatchResult{
		Rate:      rule.Rate,
		MaxReward: rule.MaxReward,
		Source:    SourceRule,
		Reason:    reason,
		RuleID:    rule.ID,
		RuleName:  rule.Name,
		MinSpend:  rule.MinSpend,
	}, level)
	if result.MinSpend == nil {
		result.MinSpend = cfg.MinSpend
	}
	return result
}

func defaultResult(cfg *Config, level *Level) MatchResult {
	result := withLevel(MatchResult{Source: SourceDefault, MinSpend: cfg.MinSpend}, level)
	switch {
	case level != nil && level.Rate != nil && level.Rate.IsPositive():
		result.Rate = *level.Rate
		result.Reason = ReasonLevelRate
	case cfg.Rate.IsPositive():
		result.Rate = cfg.Rate
		result.Reason = ReasonDefaultRate
	case cfg.VirtualRate != nil && cfg.VirtualRate.IsPositive():
		result.Rate = *cfg.VirtualRate
		result.Source = SourceVirtual
		result.Reason = ReasonVirtualRate
	default:
		result.Reason = ReasonNoPolicy
	}
	return result
}

func withLevel(result MatchResult, level *Level) MatchResult {
	if level != nil {
		result.LevelName = level.Name
		minSpend := level.MinSpend
		result.LevelMinSpend = &minSpend
	}
	return result
}

func invalidPolicy(cfg *Config) MatchResult {
	result := noPolicy()
	result.Reason = reasonInvalidConfigPrefix + cfg.Invalid
	return result
}

func noPolicy() MatchResult {
	return MatchResult{Rate: decimal.Zero, Source: SourceDefault, Reason: ReasonNoPolicy, MinSpendMet: true}
}

// matchRule scans rules three times so an ID match anywhere in the list beats
// a name match earlier in the list.
func matchRule(rules []Rule, in PolicyInput) (*Rule, string) {
	if in.CategoryID != "" {
		for i := range rules {
			if containsString(rules[i].CategoryIDs, in.CategoryID) {
				return &rules[i], ReasonCategoryRule
			}
		}
	}
	if in.ShopID != "" {
		for i := range rules {
			if containsString(rules[i].ShopIDs, in.ShopID) {
				return &rules[i], ReasonMerchantRule
			}
		}
	}
	for i := range rules {
		if legacyRuleMatches(rules[i], in.CategoryName) {
			return &rules[i], ReasonLegacyName
		}
	}
	return nil, ""
}

func gate(result MatchResult, in PolicyInput) MatchResult {
	result.MinSpendMet = result.MinSpend == nil || in.CycleSpentProjection.GreaterThanOrEqual(*result.MinSpend)
	if !result.MinSpendMet && result.Reason != ReasonNoPolicy {
		result.Reason = ReasonMinSpendNotMet
	}
	return result
}

// finish enforces the result invariants and fills EstimatedReward.
func finish(result MatchResult, in PolicyInput) MatchResult {
	result.Rate = clampRate(result.Rate)
	if result.MaxReward != nil && result.MaxReward.IsNegative() {
		zero := decimal.Zero
		result.MaxReward = &zero
	}
	result.EstimatedReward = rawReward(in.Amount, result.Rate, result.MaxReward)
	return result
}

func clampRate(rate decimal.Decimal) decimal.Decimal {
	if rate.IsNegative() {
		return decimal.Zero
	}
	if rate.GreaterThan(one) {
		return one
	}
	return rate
}

// rawReward is amount*rate bounded by limit, floored at zero.
func rawReward(amount, rate decimal.Decimal, limit *decimal.Decimal) decimal.Decimal {
	if !amount.IsPositive() {
		return decimal.Zero
	}
	reward := amount.Mul(rate)
	if limit != nil {
		reward = decimal.Min(reward, *limit)
	}
	return decimal.Max(reward, decimal.Zero)
}

func containsString(values []string, s string) bool {
	for _, v := range values {
		if v == s {
			return true
		}
	}
	return false
}

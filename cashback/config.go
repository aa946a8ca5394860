package cashback

import (
	"sort"

	"github.com/shopspring/decimal"
	"github.com/warp/cashback-engine/generic"
)

// =============================================================================
// CYCLE CONFIG - Tagged variant: calendar month OR statement cycle
// =============================================================================

type CycleType string

const (
	CycleCalendarMonth  CycleType = "calendar_month"
	CycleStatementCycle CycleType = "statement_cycle"
)

// CycleConfig is a sealed variant. Each variant carries only the fields it
// needs; a calendar month has no statement day to get wrong.
type CycleConfig interface {
	CycleType() CycleType
	periodConfig() generic.PeriodConfig
}

// CalendarMonth cycles run from the 1st of a month to the 1st of the next.
type CalendarMonth struct{}

func (CalendarMonth) CycleType() CycleType { return CycleCalendarMonth }

func (CalendarMonth) periodConfig() generic.PeriodConfig {
	return generic.PeriodConfig{Type: generic.PeriodCalendarMonth}
}

// StatementCycle cycles run from statement day to statement day.
type StatementCycle struct {
	Day int // 1-31; months shorter than Day anchor on their last day
}

func (StatementCycle) CycleType() CycleType { return CycleStatementCycle }

func (s StatementCycle) periodConfig() generic.PeriodConfig {
	return generic.PeriodConfig{Type: generic.PeriodStatementCycle, StatementDay: s.Day}
}

// =============================================================================
// CONFIG - Cashback program of one account
// =============================================================================

// Config is the typed form of an account's cashback_config. It is produced
// once by factory.Parse and never re-validated ad hoc by readers.
type Config struct {
	// Base reward rate as a fraction (0.1 = 10%).
	Rate decimal.Decimal

	// MaxAmount caps total reward per cycle. nil = unbounded.
	MaxAmount *decimal.Decimal

	// MinSpend is the cycle spend required before rewards unlock. nil = none.
	MinSpend *decimal.Decimal

	Cycle CycleConfig

	// Rules override the base rate for specific categories or shops.
	// Declaration order is precedence order.
	Rules []Rule

	// Levels are spend tiers; the highest level whose MinSpend the cycle
	// spend reaches replaces the base rate, cap and (if set) rules.
	Levels []Level

	// VirtualRate estimates reward when no bank program rate applies.
	VirtualRate *decimal.Decimal

	// Invalid is non-empty when the stored config is malformed. Readers
	// treat such a config as an absent policy.
	Invalid string
}

// Rule is a category- or merchant-scoped override.
type Rule struct {
	ID          string
	Name        string
	CategoryIDs []string
	ShopIDs     []string

	// LegacyCategoryNames matches rows whose category was never tagged with
	// an ID (imported data). Checked only after ID matches fail.
	LegacyCategoryNames []string

	Rate      decimal.Decimal
	MaxReward *decimal.Decimal // per-cycle cap for this rule
	MinSpend  *decimal.Decimal
}

// Level is a spend tier.
type Level struct {
	Name      string
	MinSpend  decimal.Decimal
	Rate      *decimal.Decimal // nil = keep base rate
	MaxAmount *decimal.Decimal // nil = keep config MaxAmount
	Rules     []Rule           // empty = keep config rules
}

// CycleOrDefault returns the configured cycle, defaulting to calendar months.
func (c *Config) CycleOrDefault() CycleConfig {
	if c == nil || c.Cycle == nil {
		return CalendarMonth{}
	}
	return c.Cycle
}

// SortLevels orders levels by MinSpend ascending; ties keep declaration order.
func (c *Config) SortLevels() {
	sort.SliceStable(c.Levels, func(i, j int) bool {
		return c.Levels[i].MinSpend.LessThan(c.Levels[j].MinSpend)
	})
}

// LevelFor returns the highest level whose MinSpend is reached by spend,
// or nil when spend is below every level.
func (c *Config) LevelFor(spend decimal.Decimal) *Level {
	if c == nil {
		return nil
	}
	var active *Level
	for i := range c.Levels {
		if spend.GreaterThanOrEqual(c.Levels[i].MinSpend) {
			active = &c.Levels[i]
		}
	}
	return active
}

// CycleCap returns the per-cycle cap in effect at the given spend.
func (c *Config) CycleCap(spend decimal.Decimal) *decimal.Decimal {
	if c == nil || c.Invalid != "" {
		return nil
	}
	if level := c.LevelFor(spend); level != nil && level.MaxAmount != nil {
		return level.MaxAmount
	}
	return c.MaxAmount
}

// ActiveRules returns the rules in effect at the given spend.
func (c *Config) ActiveRules(spend decimal.Decimal) []Rule {
	if c == nil {
		return nil
	}
	if level := c.LevelFor(spend); level != nil && len(level.Rules) > 0 {
		return level.Rules
	}
	return c.Rules
}

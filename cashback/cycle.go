package cashback

import (
	"fmt"
	"time"

	"github.com/warp/cashback-engine/generic"
)

// =============================================================================
// CYCLE RESOLVER - The one canonical place cycle boundaries are derived
// =============================================================================

// Cycle is a half-open billing window [Start, End) with a stable label used
// to group transactions.
type Cycle struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Label string    `json:"label"`
	Type  CycleType `json:"cycleType"`

	config CycleConfig
}

// Period returns the cycle as a generic period.
func (c Cycle) Period() generic.Period {
	return generic.Period{Start: c.Start, End: c.End}
}

// Contains returns true if t is within [Start, End).
func (c Cycle) Contains(t time.Time) bool {
	return c.Period().Contains(t)
}

// Equal compares boundaries and label.
func (c Cycle) Equal(other Cycle) bool {
	return c.Start.Equal(other.Start) && c.End.Equal(other.End) && c.Label == other.Label
}

// Next returns the cycle that starts where c ends.
func (c Cycle) Next() (Cycle, error) {
	return ResolveCycle(c.End, c.configOrDefault())
}

// Previous returns the cycle that ends where c starts.
func (c Cycle) Previous() (Cycle, error) {
	return ResolveCycle(c.Start.Add(-time.Nanosecond), c.configOrDefault())
}

func (c Cycle) configOrDefault() CycleConfig {
	if c.config == nil {
		return CalendarMonth{}
	}
	return c.config
}

// ResolveCycle returns the cycle containing ref.
//
//   - CalendarMonth: [1st of ref's month, 1st of next month), label "YYYY-MM".
//   - StatementCycle{Day: D}: [day D, day D of the next month) such that ref is
//     inside. Months with fewer than D days anchor on their last day, so
//     D=31 yields [Jan 31, Feb 29) and [Feb 29, Mar 31) in 2024. Label is
//     "YYYY-MM-Sdd" with the statement month (the month End falls in).
//
// Boundaries are computed in ref's location. A statement day outside [1,31]
// fails with an error wrapping generic.ErrInvalidConfig.
func ResolveCycle(ref time.Time, cfg CycleConfig) (Cycle, error) {
	if cfg == nil {
		cfg = CalendarMonth{}
	}
	period, err := cfg.periodConfig().PeriodFor(ref)
	if err != nil {
		return Cycle{}, err
	}
	return Cycle{
		Start:  period.Start,
		End:    period.End,
		Label:  cycleLabel(period, cfg),
		Type:   cfg.CycleType(),
		config: cfg,
	}, nil
}

// ResolveCycleOrCalendar resolves the account's cycle, falling back to the
// calendar month when the stored cycle config is unusable. It runs inline in
// rendering paths and must not fail.
func ResolveCycleOrCalendar(ref time.Time, cfg CycleConfig) (Cycle, bool) {
	cycle, err := ResolveCycle(ref, cfg)
	if err != nil {
		cycle, _ = ResolveCycle(ref, CalendarMonth{})
		return cycle, false
	}
	return cycle, true
}

// CyclesBetween lists every cycle intersecting [from, to], oldest first.
func CyclesBetween(from, to time.Time, cfg CycleConfig) ([]Cycle, error) {
	if cfg == nil {
		cfg = CalendarMonth{}
	}
	periods, err := cfg.periodConfig().PeriodsBetween(from, to)
	if err != nil {
		return nil, err
	}
	cycles := make([]Cycle, len(periods))
	for i, p := range periods {
		cycles[i] = Cycle{
			Start:  p.Start,
			End:    p.End,
			Label:  cycleLabel(p, cfg),
			Type:   cfg.CycleType(),
			config: cfg,
		}
	}
	return cycles, nil
}

func cycleLabel(p generic.Period, cfg CycleConfig) string {
	switch c := cfg.(type) {
	case StatementCycle:
		return fmt.Sprintf("%s-S%02d", p.End.Format("2006-01"), c.Day)
	default:
		return p.Start.Format("2006-01")
	}
}

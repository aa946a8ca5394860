package generic

import (
	"fmt"
	"time"
)

// =============================================================================
// PERIOD - The billing window every reward computation is scoped to
// =============================================================================

// Period is a half-open time interval [Start, End).
// Periods produced by one PeriodConfig tile the timeline: every instant falls
// into exactly one period, and period N's End is period N+1's Start.
//
// Examples:
//   - Calendar month May 2024: [2024-05-01, 2024-06-01)
//   - Statement day 15:        [2024-02-15, 2024-03-15)
type Period struct {
	Start time.Time
	End   time.Time
}

// Contains returns true if t is within [Start, End).
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End)
}

// Equal reports whether both boundaries are the same instants.
func (p Period) Equal(other Period) bool {
	return p.Start.Equal(other.Start) && p.End.Equal(other.End)
}

// Validate returns ErrInvalidPeriod when End does not come after Start.
func (p Period) Validate() error {
	if !p.End.After(p.Start) {
		return ErrInvalidPeriod
	}
	return nil
}

// String returns a string representation of the period.
func (p Period) String() string {
	return "[" + FormatDate(p.Start) + ", " + FormatDate(p.End) + ")"
}

// PeriodType defines how periods are calculated
type PeriodType string

const (
	PeriodCalendarMonth  PeriodType = "calendar_month"  // 1st of month - 1st of next month
	PeriodStatementCycle PeriodType = "statement_cycle" // statement day - statement day
)

// PeriodConfig defines how to calculate periods for an account.
type PeriodConfig struct {
	Type PeriodType

	// For statement cycles: the statement day (1-31). Months shorter than the
	// day anchor on their last day.
	StatementDay int
}

// =============================================================================
// PERIOD CALCULATOR - Determines which period a date falls into
// =============================================================================

// PeriodFor returns the period that contains the given instant.
// It is a pure function of (config, t): no clock is read.
func (pc PeriodConfig) PeriodFor(t time.Time) (Period, error) {
	switch pc.Type {
	case PeriodCalendarMonth, "":
		start := StartOfMonth(t)
		return Period{Start: start, End: start.AddDate(0, 1, 0)}, nil

	case PeriodStatementCycle:
		if pc.StatementDay < 1 || pc.StatementDay > 31 {
			return Period{}, &InvalidConfigError{
				Field:  "statementDay",
				Value:  fmt.Sprint(pc.StatementDay),
				Reason: "must be within [1,31]",
			}
		}
		return pc.statementPeriod(t), nil

	default:
		return Period{}, &InvalidConfigError{
			Field:  "cycleType",
			Value:  string(pc.Type),
			Reason: "unknown cycle type",
		}
	}
}

// anchor returns the statement boundary inside the given month.
func (pc PeriodConfig) anchor(year int, month time.Month, loc *time.Location) time.Time {
	return ClampedDate(year, month, pc.StatementDay, loc)
}

func (pc PeriodConfig) statementPeriod(t time.Time) Period {
	loc := t.Location()
	thisAnchor := pc.anchor(t.Year(), t.Month(), loc)

	// On or after this month's statement day: cycle runs to next month's anchor.
	if !t.Before(thisAnchor) {
		return Period{Start: thisAnchor, End: pc.anchor(t.Year(), t.Month()+1, loc)}
	}
	return Period{Start: pc.anchor(t.Year(), t.Month()-1, loc), End: thisAnchor}
}

// NextPeriod returns the period following p under this config.
func (pc PeriodConfig) NextPeriod(p Period) (Period, error) {
	return pc.PeriodFor(p.End)
}

// PreviousPeriod returns the period before p under this config.
func (pc PeriodConfig) PreviousPeriod(p Period) (Period, error) {
	return pc.PeriodFor(p.Start.Add(-time.Nanosecond))
}

// PeriodsBetween returns every period intersecting [from, to], oldest first.
func (pc PeriodConfig) PeriodsBetween(from, to time.Time) ([]Period, error) {
	if to.Before(from) {
		return nil, ErrInvalidPeriod
	}
	current, err := pc.PeriodFor(from)
	if err != nil {
		return nil, err
	}
	var periods []Period
	for !current.Start.After(to) {
		periods = append(periods, current)
		current, err = pc.NextPeriod(current)
		if err != nil {
			return nil, err
		}
	}
	return periods, nil
}

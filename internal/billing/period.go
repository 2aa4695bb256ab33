package billing

import (
	"fmt"
	"time"
)

// Period is one calendar-month billing window, identified by its start date.
// Start is inclusive, End exclusive.
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// PeriodFor maps a wall-clock instant to its billing period. Pure function:
// calendar-month granularity, UTC-normalized, no per-business overrides.
func PeriodFor(now time.Time) Period {
	now = now.UTC()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return Period{Start: start, End: start.AddDate(0, 1, 0)}
}

// PeriodStarting returns the period whose start date falls in the same
// calendar month as t.
func PeriodStarting(t time.Time) Period {
	return PeriodFor(t)
}

// Key is the canonical period identifier: the first day of the month.
func (p Period) Key() string {
	return p.Start.Format("2006-01-02")
}

func (p Period) Contains(t time.Time) bool {
	t = t.UTC()
	return !t.Before(p.Start) && t.Before(p.End)
}

// ParsePeriodKey parses a YYYY-MM-DD key into the period containing it.
func ParsePeriodKey(key string) (Period, error) {
	t, err := time.Parse("2006-01-02", key)
	if err != nil {
		return Period{}, fmt.Errorf("invalid period key %q: %w", key, err)
	}
	return PeriodFor(t), nil
}

package billing

import (
	"testing"
	"time"
)

func TestPeriodFor_MidMonth(t *testing.T) {
	now := time.Date(2025, 3, 17, 14, 30, 0, 0, time.UTC)
	p := PeriodFor(now)

	if !p.Start.Equal(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Expected period start 2025-03-01, got %v", p.Start)
	}
	if !p.End.Equal(time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Expected period end 2025-04-01, got %v", p.End)
	}
	if p.Key() != "2025-03-01" {
		t.Errorf("Expected key 2025-03-01, got %s", p.Key())
	}
}

func TestPeriodFor_NormalizesToUTC(t *testing.T) {
	// 2025-03-01 03:00 IST is 2025-02-28 21:30 UTC; the period must be
	// February, not March.
	ist := time.FixedZone("IST", 5*3600+1800)
	now := time.Date(2025, 3, 1, 3, 0, 0, 0, ist)

	p := PeriodFor(now)
	if p.Key() != "2025-02-01" {
		t.Errorf("Expected key 2025-02-01, got %s", p.Key())
	}
}

func TestPeriodFor_YearRollover(t *testing.T) {
	p := PeriodFor(time.Date(2025, 12, 31, 23, 59, 59, 0, time.UTC))
	if p.Key() != "2025-12-01" {
		t.Errorf("Expected key 2025-12-01, got %s", p.Key())
	}
	if !p.End.Equal(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Expected period end 2026-01-01, got %v", p.End)
	}
}

func TestPeriod_Contains(t *testing.T) {
	p := PeriodFor(time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC))

	if !p.Contains(p.Start) {
		t.Error("Expected period to contain its start")
	}
	if p.Contains(p.End) {
		t.Error("Expected period end to be exclusive")
	}
	if p.Contains(p.Start.Add(-time.Second)) {
		t.Error("Expected instant before start to be outside")
	}
}

func TestParsePeriodKey(t *testing.T) {
	p, err := ParsePeriodKey("2025-03-01")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if p.Key() != "2025-03-01" {
		t.Errorf("Expected key 2025-03-01, got %s", p.Key())
	}

	// Any day inside the month resolves to the same period.
	p, err = ParsePeriodKey("2025-03-20")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if p.Key() != "2025-03-01" {
		t.Errorf("Expected key 2025-03-01, got %s", p.Key())
	}

	if _, err := ParsePeriodKey("not-a-date"); err == nil {
		t.Error("Expected error for malformed key")
	}
}

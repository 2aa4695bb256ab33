package worker

import (
	"context"
	"testing"
	"time"

	"github.com/vnmchuo/agent-metering/internal/billing"
	"github.com/vnmchuo/agent-metering/internal/ledger"
	"github.com/vnmchuo/agent-metering/internal/notify"
)

// Mock events
type mockEvents struct {
	businesses []string
	periodCost int64
	rollup     []ledger.DayUsage
}

func (m *mockEvents) ActiveBusinesses(ctx context.Context, p billing.Period) ([]string, error) {
	return m.businesses, nil
}

func (m *mockEvents) PeriodCost(ctx context.Context, businessID string, p billing.Period) (int64, error) {
	return m.periodCost, nil
}

func (m *mockEvents) DailyRollup(ctx context.Context, businessID, agentID string, from, to time.Time) ([]ledger.DayUsage, error) {
	return m.rollup, nil
}

// Mock emitter
type mockEmitter struct {
	emitted []*notify.Notification
}

func (m *mockEmitter) Emit(ctx context.Context, n *notify.Notification, window time.Duration) error {
	m.emitted = append(m.emitted, n)
	return nil
}

func (m *mockEmitter) byType(t notify.Type) int {
	count := 0
	for _, n := range m.emitted {
		if n.Type == t {
			count++
		}
	}
	return count
}

func setupAnalyzer(events *mockEvents, emitter *mockEmitter, now time.Time) *Analyzer {
	a := NewAnalyzer(events, emitter, time.Hour, 1000000)
	return a.WithClock(func() time.Time { return now })
}

func TestRunOnce_BillingDueNearPeriodEnd(t *testing.T) {
	events := &mockEvents{businesses: []string{"biz-1"}, periodCost: 5000}
	emitter := &mockEmitter{}
	// March 30th is inside the final 3 days of the March period.
	a := setupAnalyzer(events, emitter, time.Date(2025, 3, 30, 12, 0, 0, 0, time.UTC))

	if err := a.RunOnce(context.Background()); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if emitter.byType(notify.TypeBillingDue) != 1 {
		t.Errorf("Expected one billing_due, got %d", emitter.byType(notify.TypeBillingDue))
	}
}

func TestRunOnce_NoBillingDueMidPeriod(t *testing.T) {
	events := &mockEvents{businesses: []string{"biz-1"}, periodCost: 5000}
	emitter := &mockEmitter{}
	a := setupAnalyzer(events, emitter, time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC))

	if err := a.RunOnce(context.Background()); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if emitter.byType(notify.TypeBillingDue) != 0 {
		t.Errorf("Expected no billing_due mid-period, got %d", emitter.byType(notify.TypeBillingDue))
	}
}

func TestRunOnce_NoBillingDueWithZeroCost(t *testing.T) {
	events := &mockEvents{businesses: []string{"biz-1"}, periodCost: 0}
	emitter := &mockEmitter{}
	a := setupAnalyzer(events, emitter, time.Date(2025, 3, 30, 12, 0, 0, 0, time.UTC))

	if err := a.RunOnce(context.Background()); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(emitter.emitted) != 0 {
		t.Errorf("Expected nothing for a zero-cost business, got %d", len(emitter.emitted))
	}
}

func TestRunOnce_CostOptimizationAboveThreshold(t *testing.T) {
	events := &mockEvents{businesses: []string{"biz-1"}, periodCost: 1500000}
	emitter := &mockEmitter{}
	a := setupAnalyzer(events, emitter, time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC))

	if err := a.RunOnce(context.Background()); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if emitter.byType(notify.TypeCostOptimization) != 1 {
		t.Errorf("Expected one cost_optimization, got %d", emitter.byType(notify.TypeCostOptimization))
	}
}

func TestRunOnce_UsageSpike(t *testing.T) {
	now := time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)
	today := now.Truncate(24 * time.Hour)

	rollup := []ledger.DayUsage{
		{Day: today, Unit: "minutes", Amount: 400},
	}
	// 7 prior days at 10/day: average 10, today 400 >= 3x and above floor.
	for i := 1; i <= 7; i++ {
		rollup = append(rollup, ledger.DayUsage{
			Day: today.AddDate(0, 0, -i), Unit: "minutes", Amount: 10,
		})
	}

	events := &mockEvents{businesses: []string{"biz-1"}, periodCost: 100, rollup: rollup}
	emitter := &mockEmitter{}
	a := setupAnalyzer(events, emitter, now)

	if err := a.RunOnce(context.Background()); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if emitter.byType(notify.TypeUsageSpike) != 1 {
		t.Errorf("Expected one usage_spike, got %d", emitter.byType(notify.TypeUsageSpike))
	}
}

func TestRunOnce_SpikeDetectedWithNonUTCRollupLocation(t *testing.T) {
	now := time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)
	// The driver can hand back day buckets in a non-UTC location; only the
	// calendar date matters.
	ist := time.FixedZone("IST", 5*3600+30*60)
	today := time.Date(2025, 3, 15, 0, 0, 0, 0, ist)

	rollup := []ledger.DayUsage{
		{Day: today, Unit: "minutes", Amount: 400},
	}
	for i := 1; i <= 7; i++ {
		rollup = append(rollup, ledger.DayUsage{
			Day: today.AddDate(0, 0, -i), Unit: "minutes", Amount: 10,
		})
	}

	events := &mockEvents{businesses: []string{"biz-1"}, periodCost: 100, rollup: rollup}
	emitter := &mockEmitter{}
	a := setupAnalyzer(events, emitter, now)

	if err := a.RunOnce(context.Background()); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if emitter.byType(notify.TypeUsageSpike) != 1 {
		t.Errorf("Expected one usage_spike, got %d", emitter.byType(notify.TypeUsageSpike))
	}
}

func TestRunOnce_SpikeBelowFloorIgnored(t *testing.T) {
	now := time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)
	today := now.Truncate(24 * time.Hour)

	// 10x the average but a tiny absolute amount.
	rollup := []ledger.DayUsage{
		{Day: today, Unit: "minutes", Amount: 50},
	}
	for i := 1; i <= 7; i++ {
		rollup = append(rollup, ledger.DayUsage{
			Day: today.AddDate(0, 0, -i), Unit: "minutes", Amount: 5,
		})
	}

	events := &mockEvents{businesses: []string{"biz-1"}, periodCost: 100, rollup: rollup}
	emitter := &mockEmitter{}
	a := setupAnalyzer(events, emitter, now)

	if err := a.RunOnce(context.Background()); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if emitter.byType(notify.TypeUsageSpike) != 0 {
		t.Errorf("Expected no spike below the absolute floor, got %d", emitter.byType(notify.TypeUsageSpike))
	}
}

func TestRunOnce_NoPriorUsageNoSpike(t *testing.T) {
	now := time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)
	today := now.Truncate(24 * time.Hour)

	events := &mockEvents{
		businesses: []string{"biz-1"},
		periodCost: 100,
		rollup:     []ledger.DayUsage{{Day: today, Unit: "minutes", Amount: 500}},
	}
	emitter := &mockEmitter{}
	a := setupAnalyzer(events, emitter, now)

	if err := a.RunOnce(context.Background()); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	// A brand-new business has no baseline to spike against.
	if emitter.byType(notify.TypeUsageSpike) != 0 {
		t.Errorf("Expected no spike without history, got %d", emitter.byType(notify.TypeUsageSpike))
	}
}

package report

import (
	"context"
	"testing"
	"time"

	"github.com/vnmchuo/agent-metering/internal/billing"
	"github.com/vnmchuo/agent-metering/internal/ledger"
	"github.com/vnmchuo/agent-metering/internal/notify"
	"github.com/vnmchuo/agent-metering/internal/pricing"
	"github.com/vnmchuo/agent-metering/internal/quota"
)

// Mock installations
type mockInstallations struct {
	installations []*pricing.Installation
	err           error
}

func (m *mockInstallations) ListActive(ctx context.Context, businessID string) ([]*pricing.Installation, error) {
	return m.installations, m.err
}

// Mock events
type mockEvents struct {
	summaries map[string]*ledger.AgentUsage
	rollup    []ledger.DayUsage
	lastFrom  time.Time
	lastTo    time.Time
}

func (m *mockEvents) AgentSummary(ctx context.Context, businessID, agentID string, p billing.Period) (*ledger.AgentUsage, error) {
	if u, ok := m.summaries[agentID]; ok {
		return u, nil
	}
	return &ledger.AgentUsage{ByUnit: map[string]float64{}}, nil
}

func (m *mockEvents) DailyRollup(ctx context.Context, businessID, agentID string, from, to time.Time) ([]ledger.DayUsage, error) {
	m.lastFrom, m.lastTo = from, to
	return m.rollup, nil
}

// Mock quotas
type mockQuotas struct {
	quotas []*quota.UsageQuota
}

func (m *mockQuotas) ActiveQuotas(ctx context.Context, businessID, agentID string, p billing.Period) ([]*quota.UsageQuota, error) {
	return m.quotas, nil
}

// Mock notifications
type mockNotifications struct {
	list   []*notify.Notification
	unread int
}

func (m *mockNotifications) ListRecent(ctx context.Context, businessID string, limit int, unreadOnly bool) ([]*notify.Notification, error) {
	if limit < len(m.list) {
		return m.list[:limit], nil
	}
	return m.list, nil
}

func (m *mockNotifications) UnreadCount(ctx context.Context, businessID string) (int, error) {
	return m.unread, nil
}

func testAggregator(installations *mockInstallations, events *mockEvents) *Aggregator {
	agg := NewAggregator(installations, events, &mockQuotas{}, &mockNotifications{})
	return agg.WithClock(func() time.Time {
		return time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC)
	})
}

func TestSummary_TotalsReconcile(t *testing.T) {
	installations := &mockInstallations{installations: []*pricing.Installation{
		{ID: "inst-1", AgentID: "agent-1", Model: pricing.ModelUsage},
		{ID: "inst-2", AgentID: "agent-2", Model: pricing.ModelFree},
	}}
	events := &mockEvents{summaries: map[string]*ledger.AgentUsage{
		"agent-1": {ByUnit: map[string]float64{"minutes": 80}, CostMinor: 3000, Events: 4},
		"agent-2": {ByUnit: map[string]float64{"messages": 12}, CostMinor: 0, Events: 12},
	}}
	agg := testAggregator(installations, events)

	summaries, total, err := agg.Summary(context.Background(), "biz-1", agg.CurrentPeriod())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if len(summaries) != 2 {
		t.Fatalf("Expected 2 summaries, got %d", len(summaries))
	}
	// The business total is exactly the sum of per-agent ledger costs.
	if total != 3000 {
		t.Errorf("Expected total 3000, got %d", total)
	}
	if summaries[0].CostMinor+summaries[1].CostMinor != total {
		t.Error("Expected summary costs to reconcile with the total")
	}
	if summaries[0].UsageByUnit["minutes"] != 80 {
		t.Errorf("Expected 80 minutes for agent-1, got %f", summaries[0].UsageByUnit["minutes"])
	}
}

func TestSummary_NoInstallations(t *testing.T) {
	agg := testAggregator(&mockInstallations{}, &mockEvents{})

	summaries, total, err := agg.Summary(context.Background(), "biz-1", agg.CurrentPeriod())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(summaries) != 0 || total != 0 {
		t.Errorf("Expected empty summary, got %d items, total %d", len(summaries), total)
	}
}

func TestAnalytics_WindowCoversRequestedDays(t *testing.T) {
	events := &mockEvents{}
	agg := testAggregator(&mockInstallations{}, events)

	if _, err := agg.Analytics(context.Background(), "biz-1", "", 7); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	want := 7 * 24 * time.Hour
	if got := events.lastTo.Sub(events.lastFrom); got != want {
		t.Errorf("Expected a %v window, got %v", want, got)
	}
	// The window ends at the end of the current day, so today is included.
	if !events.lastTo.After(time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("Expected window to include the current day, ends %v", events.lastTo)
	}
}

func TestNotifications_IncludesUnreadCount(t *testing.T) {
	notifications := &mockNotifications{
		list: []*notify.Notification{
			{ID: "n1", Type: notify.TypeQuotaWarning},
			{ID: "n2", Type: notify.TypeBillingDue},
		},
		unread: 1,
	}
	agg := NewAggregator(&mockInstallations{}, &mockEvents{}, &mockQuotas{}, notifications)

	list, unread, err := agg.Notifications(context.Background(), "biz-1", 20, false)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(list) != 2 {
		t.Errorf("Expected 2 notifications, got %d", len(list))
	}
	if unread != 1 {
		t.Errorf("Expected unread count 1, got %d", unread)
	}
}

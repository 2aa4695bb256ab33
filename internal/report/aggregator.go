package report

import (
	"context"
	"fmt"
	"time"

	"github.com/vnmchuo/agent-metering/internal/billing"
	"github.com/vnmchuo/agent-metering/internal/ledger"
	"github.com/vnmchuo/agent-metering/internal/notify"
	"github.com/vnmchuo/agent-metering/internal/pricing"
	"github.com/vnmchuo/agent-metering/internal/quota"
)

// BillingSummary is one installation's rollup for a period.
type BillingSummary struct {
	AgentID        string             `json:"agent_id"`
	InstallationID string             `json:"installation_id"`
	PricingModel   pricing.Model      `json:"pricing_model"`
	UsageByUnit    map[string]float64 `json:"usage_by_unit"`
	CostMinor      int64              `json:"cost_minor"`
	Events         int64              `json:"events"`
}

// Installations is the slice of pricing.Store the aggregator reads.
type Installations interface {
	ListActive(ctx context.Context, businessID string) ([]*pricing.Installation, error)
}

// Events is the read slice of ledger.Store.
type Events interface {
	AgentSummary(ctx context.Context, businessID, agentID string, p billing.Period) (*ledger.AgentUsage, error)
	DailyRollup(ctx context.Context, businessID, agentID string, from, to time.Time) ([]ledger.DayUsage, error)
}

// Quotas is the read slice of quota.Store.
type Quotas interface {
	ActiveQuotas(ctx context.Context, businessID, agentID string, p billing.Period) ([]*quota.UsageQuota, error)
}

// Notifications is the read slice of notify.Store.
type Notifications interface {
	ListRecent(ctx context.Context, businessID string, limit int, unreadOnly bool) ([]*notify.Notification, error)
	UnreadCount(ctx context.Context, businessID string) (int, error)
}

// Aggregator produces period summaries and analytics from the ledger and
// quota state. Strictly read-only.
type Aggregator struct {
	installations Installations
	events        Events
	quotas        Quotas
	notifications Notifications
	now           func() time.Time
}

func NewAggregator(installations Installations, events Events, quotas Quotas, notifications Notifications) *Aggregator {
	return &Aggregator{
		installations: installations,
		events:        events,
		quotas:        quotas,
		notifications: notifications,
		now:           time.Now,
	}
}

// WithClock overrides the aggregator clock. For tests.
func (a *Aggregator) WithClock(now func() time.Time) *Aggregator {
	a.now = now
	return a
}

// CurrentPeriod is the billing period containing the aggregator's now.
func (a *Aggregator) CurrentPeriod() billing.Period {
	return billing.PeriodFor(a.now())
}

// Summary rolls up the period's ledger rows per active installation and
// returns the summaries plus the business-wide total in minor units.
func (a *Aggregator) Summary(ctx context.Context, businessID string, p billing.Period) ([]BillingSummary, int64, error) {
	installations, err := a.installations.ListActive(ctx, businessID)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list installations: %w", err)
	}

	summaries := make([]BillingSummary, 0, len(installations))
	var totalMinor int64
	for _, inst := range installations {
		usage, err := a.events.AgentSummary(ctx, businessID, inst.AgentID, p)
		if err != nil {
			return nil, 0, err
		}
		summaries = append(summaries, BillingSummary{
			AgentID:        inst.AgentID,
			InstallationID: inst.ID,
			PricingModel:   inst.Model,
			UsageByUnit:    usage.ByUnit,
			CostMinor:      usage.CostMinor,
			Events:         usage.Events,
		})
		totalMinor += usage.CostMinor
	}

	return summaries, totalMinor, nil
}

// Analytics returns the per-day, per-unit rollup for the trailing N days,
// optionally narrowed to one agent.
func (a *Aggregator) Analytics(ctx context.Context, businessID, agentID string, days int) ([]ledger.DayUsage, error) {
	now := a.now().UTC()
	to := now.Truncate(24 * time.Hour).Add(24 * time.Hour)
	from := to.AddDate(0, 0, -days)
	return a.events.DailyRollup(ctx, businessID, agentID, from, to)
}

// Quotas returns the current-period quota rows for a business.
func (a *Aggregator) Quotas(ctx context.Context, businessID, agentID string) ([]*quota.UsageQuota, error) {
	return a.quotas.ActiveQuotas(ctx, businessID, agentID, billing.PeriodFor(a.now()))
}

// Notifications returns the most recent notifications plus the unread count.
func (a *Aggregator) Notifications(ctx context.Context, businessID string, limit int, unreadOnly bool) ([]*notify.Notification, int, error) {
	list, err := a.notifications.ListRecent(ctx, businessID, limit, unreadOnly)
	if err != nil {
		return nil, 0, err
	}
	unread, err := a.notifications.UnreadCount(ctx, businessID)
	if err != nil {
		return nil, 0, err
	}
	return list, unread, nil
}

package ledger

import (
	"context"
	"time"

	"github.com/vnmchuo/agent-metering/internal/billing"
)

// UsageEvent is one metered occurrence. Append-only: rows are never mutated
// or deleted by this service.
type UsageEvent struct {
	ID             string         `json:"id"`
	BusinessID     string         `json:"business_id"`
	AgentID        string         `json:"agent_id"`
	InstallationID string         `json:"installation_id"`
	EventType      string         `json:"event_type"`
	UsageAmount    float64        `json:"usage_amount"`
	UsageUnit      string         `json:"usage_unit"`
	CostAmount     int64          `json:"cost_amount"` // minor currency units
	BillingPeriod  time.Time      `json:"billing_period"`
	EventData      map[string]any `json:"event_data,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// AgentUsage is a per-agent rollup for one period.
type AgentUsage struct {
	ByUnit    map[string]float64 `json:"usage_by_unit"`
	CostMinor int64              `json:"cost_minor"`
	Events    int64              `json:"events"`
}

// DayUsage is one (day, unit) cell of the analytics rollup.
type DayUsage struct {
	Day       time.Time `json:"day"`
	Unit      string    `json:"unit"`
	Amount    float64   `json:"amount"`
	CostMinor int64     `json:"cost_minor"`
	Events    int64     `json:"events"`
}

type Store interface {
	// Record appends one event. It never deduplicates; idempotency, where a
	// caller needs it, is the caller's concern.
	Record(ctx context.Context, ev *UsageEvent) error

	AgentSummary(ctx context.Context, businessID, agentID string, p billing.Period) (*AgentUsage, error)
	DailyRollup(ctx context.Context, businessID, agentID string, from, to time.Time) ([]DayUsage, error)
	PeriodCost(ctx context.Context, businessID string, p billing.Period) (int64, error)
	ActiveBusinesses(ctx context.Context, p billing.Period) ([]string, error)
}

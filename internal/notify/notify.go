package notify

import (
	"context"
	"time"
)

type Type string

const (
	TypeQuotaWarning     Type = "quota_warning"
	TypeQuotaExceeded    Type = "quota_exceeded"
	TypeBillingDue       Type = "billing_due"
	TypeUsageSpike       Type = "usage_spike"
	TypeCostOptimization Type = "cost_optimization"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Notification is one raised alert. Rows are append-only; the dedup contract
// (no two rows with the same business/agent/type inside a rolling hour) is
// enforced by an existence check before insert, not by the table.
type Notification struct {
	ID         string         `json:"id"`
	BusinessID string         `json:"business_id"`
	AgentID    string         `json:"agent_id,omitempty"` // empty for business-wide alerts
	Type       Type           `json:"type"`
	Severity   Severity       `json:"severity"`
	Title      string         `json:"title"`
	Message    string         `json:"message"`
	Data       map[string]any `json:"data,omitempty"`
	Sent       bool           `json:"sent"`
	Read       bool           `json:"read"`
	CreatedAt  time.Time      `json:"created_at"`
}

type Store interface {
	Create(ctx context.Context, n *Notification) error
	ExistsSince(ctx context.Context, businessID, agentID string, t Type, since time.Time) (bool, error)
	ListRecent(ctx context.Context, businessID string, limit int, unreadOnly bool) ([]*Notification, error)
	UnreadCount(ctx context.Context, businessID string) (int, error)
}

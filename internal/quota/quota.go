package quota

import (
	"context"
	"math"
	"time"

	"github.com/vnmchuo/agent-metering/internal/billing"
)

const TypeMonthly = "monthly"

// UsageQuota is the running counter for one (business, agent, type, unit,
// period) key. Used only increases within a period; period rollover produces
// a fresh row at zero. Remaining and percentage are derived on read, never
// stored.
type UsageQuota struct {
	ID          string    `json:"id"`
	BusinessID  string    `json:"business_id"`
	AgentID     string    `json:"agent_id"`
	QuotaType   string    `json:"quota_type"`
	UsageUnit   string    `json:"usage_unit"`
	Limit       float64   `json:"quota_limit"`
	Used        float64   `json:"quota_used"`
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (q *UsageQuota) Remaining() float64 {
	r := q.Limit - q.Used
	if r < 0 {
		return 0
	}
	return r
}

// PercentUsed is used/limit as a percentage, unrounded. Zero or negative
// limits report 0 rather than dividing by zero.
func (q *UsageQuota) PercentUsed() float64 {
	if q.Limit <= 0 {
		return 0
	}
	return q.Used / q.Limit * 100
}

// PercentUsedRounded is the presentation form of PercentUsed.
func (q *UsageQuota) PercentUsedRounded() int {
	return int(math.Round(q.PercentUsed()))
}

// Key identifies one quota row.
type Key struct {
	BusinessID string
	AgentID    string
	QuotaType  string
	UsageUnit  string
	Period     billing.Period
}

type Store interface {
	// Increment atomically adds amount to the row for key, creating it with
	// defaultLimit on first use, and returns the post-update state. The add
	// must be a single atomic statement, never read-modify-write; concurrent
	// increments for the same key must all land.
	Increment(ctx context.Context, key Key, amount, defaultLimit float64) (*UsageQuota, error)

	// ActiveQuotas lists the rows for a business whose period is p.
	// agentID narrows to one agent when non-empty.
	ActiveQuotas(ctx context.Context, businessID, agentID string, p billing.Period) ([]*UsageQuota, error)

	// UsedInPeriod reports the consumed amount for one key, zero if no row.
	UsedInPeriod(ctx context.Context, businessID, agentID, unit string, p billing.Period) (float64, error)
}

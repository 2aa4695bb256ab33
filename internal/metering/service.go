package metering

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/vnmchuo/agent-metering/internal/billing"
	"github.com/vnmchuo/agent-metering/internal/ledger"
	"github.com/vnmchuo/agent-metering/internal/pricing"
	"github.com/vnmchuo/agent-metering/internal/quota"
)

// ValidationError rejects a usage event before any component runs.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid usage event: " + e.Field + " " + e.Reason
}

// RecordRequest is one incoming usage event.
type RecordRequest struct {
	AgentID     string         `json:"agent_id"`
	EventType   string         `json:"event_type"`
	EventData   map[string]any `json:"event_data,omitempty"`
	UsageAmount float64        `json:"usage_amount"`
	UsageUnit   string         `json:"usage_unit"`
	Timestamp   *time.Time     `json:"timestamp,omitempty"`
}

func (r *RecordRequest) validate() error {
	switch {
	case r.AgentID == "":
		return &ValidationError{Field: "agent_id", Reason: "is required"}
	case r.EventType == "":
		return &ValidationError{Field: "event_type", Reason: "is required"}
	case r.UsageUnit == "":
		return &ValidationError{Field: "usage_unit", Reason: "is required"}
	case r.UsageAmount < 0:
		return &ValidationError{Field: "usage_amount", Reason: "must not be negative"}
	}
	return nil
}

// Installations resolves the active installation for a pair.
type Installations interface {
	Resolve(ctx context.Context, businessID, agentID string) (*pricing.Installation, error)
}

// Coster computes minor-unit cost for a usage amount.
type Coster interface {
	Cost(ctx context.Context, inst *pricing.Installation, amount float64, unit string, p billing.Period) (int64, error)
	Estimate(ctx context.Context, inst *pricing.Installation, items []billing.ProjectedUsage, p billing.Period) (*billing.CostCalculation, error)
}

// Store commits the ledger append and the quota increment as one unit:
// either both land or neither does.
type Store interface {
	Append(ctx context.Context, ev *ledger.UsageEvent, p billing.Period, defaultLimit float64) (*quota.UsageQuota, error)
}

// Notifier runs threshold checks after a successful increment.
type Notifier interface {
	CheckQuotas(ctx context.Context, businessID, agentID string) error
}

// Service is the usage-recording write path: resolve pricing, fix the
// period, compute cost, persist, check thresholds. Constructed once per
// process; no global state.
type Service struct {
	installations Installations
	calc          Coster
	store         Store
	notifier      Notifier
	defaultLimit  float64
	now           func() time.Time
}

func New(installations Installations, calc Coster, store Store, notifier Notifier, defaultLimit float64) *Service {
	return &Service{
		installations: installations,
		calc:          calc,
		store:         store,
		notifier:      notifier,
		defaultLimit:  defaultLimit,
		now:           time.Now,
	}
}

// WithClock overrides the service clock. For tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Record meters one usage event. Recording for an unknown installation is
// rejected, never silently zero-cost. A notification failure is logged and
// absorbed; it must not fail an already-committed event.
func (s *Service) Record(ctx context.Context, businessID string, req *RecordRequest) error {
	if businessID == "" {
		return &ValidationError{Field: "business_id", Reason: "is required"}
	}
	if err := req.validate(); err != nil {
		return err
	}

	inst, err := s.installations.Resolve(ctx, businessID, req.AgentID)
	if err != nil {
		return err
	}

	now := s.now()
	period := billing.PeriodFor(now)

	cost, err := s.calc.Cost(ctx, inst, req.UsageAmount, req.UsageUnit, period)
	if err != nil {
		return err
	}

	ts := now
	if req.Timestamp != nil {
		ts = req.Timestamp.UTC()
	}

	ev := &ledger.UsageEvent{
		ID:             uuid.New().String(),
		BusinessID:     businessID,
		AgentID:        req.AgentID,
		InstallationID: inst.ID,
		EventType:      req.EventType,
		UsageAmount:    req.UsageAmount,
		UsageUnit:      req.UsageUnit,
		CostAmount:     cost,
		BillingPeriod:  period.Start,
		EventData:      req.EventData,
		CreatedAt:      ts,
	}

	if _, err := s.store.Append(ctx, ev, period, s.defaultLimit); err != nil {
		return err
	}

	if err := s.notifier.CheckQuotas(ctx, businessID, req.AgentID); err != nil {
		log.Printf("metering: threshold check failed for business %s: %v", businessID, err)
	}

	return nil
}

// Estimate simulates cost for projected usage. No side effects.
func (s *Service) Estimate(ctx context.Context, businessID, agentID string, items []billing.ProjectedUsage) (*billing.CostCalculation, error) {
	if businessID == "" {
		return nil, &ValidationError{Field: "business_id", Reason: "is required"}
	}
	if agentID == "" {
		return nil, &ValidationError{Field: "agent_id", Reason: "is required"}
	}
	for _, item := range items {
		if item.Amount < 0 {
			return nil, &ValidationError{Field: "projected_usage", Reason: "amounts must not be negative"}
		}
	}

	inst, err := s.installations.Resolve(ctx, businessID, agentID)
	if err != nil {
		return nil, err
	}

	return s.calc.Estimate(ctx, inst, items, billing.PeriodFor(s.now()))
}

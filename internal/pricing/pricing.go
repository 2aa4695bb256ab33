package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var ErrInstallationNotFound = errors.New("no active installation for agent")

// Model is the pricing model of an installation, stored as TEXT.
type Model string

const (
	ModelFree         Model = "free"
	ModelSubscription Model = "subscription"
	ModelUsage        Model = "usage"
	ModelHybrid       Model = "hybrid"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusCancelled Status = "cancelled"
)

// RateCard holds the per-unit rates of an installation. All rates are
// integer minor currency units per usage unit.
type RateCard struct {
	PerMinute  int64 `json:"per_minute"`
	PerMessage int64 `json:"per_message"`
	PerToken   int64 `json:"per_token"`
	PerRequest int64 `json:"per_request"`

	// Free tier: FreeLimit units of FreeLimitUnit per billing period are
	// not billed. Zero means no free tier.
	FreeLimit     float64 `json:"free_limit"`
	FreeLimitUnit string  `json:"free_limit_unit"`
}

// rateFields is the static mapping from usage unit to rate field. Units not
// listed here are unknown and bill at zero.
var rateFields = map[string]func(RateCard) int64{
	"minutes":  func(c RateCard) int64 { return c.PerMinute },
	"messages": func(c RateCard) int64 { return c.PerMessage },
	"tokens":   func(c RateCard) int64 { return c.PerToken },
	"requests": func(c RateCard) int64 { return c.PerRequest },
}

// RateFor returns the minor-unit rate for a usage unit. The second return
// is false for units the card does not know.
func (c RateCard) RateFor(unit string) (int64, bool) {
	f, ok := rateFields[unit]
	if !ok {
		return 0, false
	}
	return f(c), true
}

// Validate rejects malformed rate cards at load time, before any cost
// calculation can observe them.
func (c RateCard) Validate() error {
	for unit, f := range rateFields {
		if f(c) < 0 {
			return fmt.Errorf("negative rate for unit %q", unit)
		}
	}
	if c.FreeLimit < 0 {
		return fmt.Errorf("negative free limit")
	}
	if c.FreeLimit > 0 {
		if _, ok := rateFields[c.FreeLimitUnit]; !ok {
			return fmt.Errorf("free limit declared for unknown unit %q", c.FreeLimitUnit)
		}
	}
	return nil
}

// Installation is one agent activated for one business. Read-only to this
// service; rows are owned by the external provisioning process.
type Installation struct {
	ID         string    `json:"id"`
	BusinessID string    `json:"business_id"`
	AgentID    string    `json:"agent_id"`
	Model      Model     `json:"pricing_model"`
	Rates      RateCard  `json:"pricing_config"`
	Status     Status    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

// MarshalBinary implements encoding.BinaryMarshaler for Redis
func (i *Installation) MarshalBinary() ([]byte, error) {
	return json.Marshal(i)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler for Redis
func (i *Installation) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, i)
}

type Store interface {
	ActiveInstallation(ctx context.Context, businessID, agentID string) (*Installation, error)
	ListActive(ctx context.Context, businessID string) ([]*Installation, error)
	Create(ctx context.Context, inst *Installation) error
}

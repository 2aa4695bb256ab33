package billing

import (
	"context"
	"fmt"
	"log"

	"github.com/shopspring/decimal"
	"github.com/vnmchuo/agent-metering/internal/pricing"
)

// UsageSource reports how much of a unit a business has already consumed for
// an agent in a period. The quota counter backs this: it commits in the same
// transaction as the ledger row, so it cannot lag behind a ledger SUM.
type UsageSource interface {
	UsedInPeriod(ctx context.Context, businessID, agentID, unit string, p Period) (float64, error)
}

// Calculator computes billable cost in integer minor currency units.
type Calculator struct {
	usage UsageSource
}

func NewCalculator(usage UsageSource) *Calculator {
	return &Calculator{usage: usage}
}

// Cost returns the minor-unit cost of usageAmount units under the
// installation's pricing model. Never negative. Unknown units bill at zero
// and are logged, never rejected; ingestion must not block on them.
func (c *Calculator) Cost(ctx context.Context, inst *pricing.Installation, amount float64, unit string, p Period) (int64, error) {
	return c.cost(ctx, inst, amount, unit, p, 0)
}

// cost prices one usage amount. priorProjected is usage from earlier lines
// of the same estimate that consumes free allowance before this line does;
// the write path always passes zero.
func (c *Calculator) cost(ctx context.Context, inst *pricing.Installation, amount float64, unit string, p Period, priorProjected float64) (int64, error) {
	switch inst.Model {
	case pricing.ModelFree, pricing.ModelSubscription:
		// Subscription covers usage up to its own tracked limits; per-usage
		// calls bill nothing here.
		return 0, nil

	case pricing.ModelUsage:
		rate, ok := inst.Rates.RateFor(unit)
		if !ok {
			log.Printf("billing: unknown usage unit %q for installation %s, billing zero", unit, inst.ID)
			return 0, nil
		}

		billable := amount
		if inst.Rates.FreeLimit > 0 && inst.Rates.FreeLimitUnit == unit {
			used, err := c.usage.UsedInPeriod(ctx, inst.BusinessID, inst.AgentID, unit, p)
			if err != nil {
				return 0, fmt.Errorf("failed to read period usage: %w", err)
			}
			remainingFree := inst.Rates.FreeLimit - used - priorProjected
			if remainingFree < 0 {
				remainingFree = 0
			}
			billable = amount - remainingFree
			if billable < 0 {
				billable = 0
			}
		}

		return roundMinor(billable, rate), nil

	default:
		log.Printf("billing: pricing model %q not implemented for installation %s, billing zero", inst.Model, inst.ID)
		return 0, nil
	}
}

// roundMinor multiplies a usage amount by a minor-unit rate and rounds
// half-up to whole minor units.
func roundMinor(amount float64, rate int64) int64 {
	return decimal.NewFromFloat(amount).
		Mul(decimal.NewFromInt(rate)).
		Round(0).
		IntPart()
}

// ProjectedUsage is one line of an estimate request.
type ProjectedUsage struct {
	Unit   string  `json:"unit"`
	Amount float64 `json:"amount"`
}

// LineItem is one unit's share of an estimate.
type LineItem struct {
	Unit      string  `json:"unit"`
	Amount    float64 `json:"amount"`
	Rate      int64   `json:"rate"`
	CostMinor int64   `json:"cost_minor"`
}

// CostCalculation is the result of an estimate. Ephemeral, never persisted.
type CostCalculation struct {
	BaseMinor     int64      `json:"base_minor"`
	FreeTierMinor int64      `json:"free_tier_deduction_minor"`
	FinalMinor    int64      `json:"final_minor"`
	Breakdown     []LineItem `json:"breakdown"`
}

// Estimate simulates the cost of projected usage against current pricing and
// free-tier state. Read-only: repeated calls with no intervening usage
// recording return identical results.
func (c *Calculator) Estimate(ctx context.Context, inst *pricing.Installation, items []ProjectedUsage, p Period) (*CostCalculation, error) {
	calc := &CostCalculation{Breakdown: make([]LineItem, 0, len(items))}

	// Lines of the same unit share one free allowance: each line sees the
	// usage already projected by the lines before it.
	projected := make(map[string]float64)
	for _, item := range items {
		cost, err := c.cost(ctx, inst, item.Amount, item.Unit, p, projected[item.Unit])
		if err != nil {
			return nil, err
		}
		projected[item.Unit] += item.Amount

		rate := int64(0)
		base := int64(0)
		if inst.Model == pricing.ModelUsage {
			if r, ok := inst.Rates.RateFor(item.Unit); ok {
				rate = r
				base = roundMinor(item.Amount, r)
			}
		}

		calc.BaseMinor += base
		calc.FinalMinor += cost
		calc.Breakdown = append(calc.Breakdown, LineItem{
			Unit:      item.Unit,
			Amount:    item.Amount,
			Rate:      rate,
			CostMinor: cost,
		})
	}

	calc.FreeTierMinor = calc.BaseMinor - calc.FinalMinor
	return calc, nil
}

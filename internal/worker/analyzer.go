package worker

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/vnmchuo/agent-metering/internal/billing"
	"github.com/vnmchuo/agent-metering/internal/ledger"
	"github.com/vnmchuo/agent-metering/internal/notify"
)

const (
	spikeFactor = 3.0
	spikeFloor  = 100.0 // ignore spikes below this absolute daily amount

	billingDueDays = 3 // raise billing_due inside the final N days of a period

	// The write path dedups quota alerts on a 1-hour window; periodic
	// analyzer alerts repeat at most daily.
	analyzerDedupWindow = 24 * time.Hour
)

// Events is the read slice of ledger.Store the analyzer needs.
type Events interface {
	ActiveBusinesses(ctx context.Context, p billing.Period) ([]string, error)
	PeriodCost(ctx context.Context, businessID string, p billing.Period) (int64, error)
	DailyRollup(ctx context.Context, businessID, agentID string, from, to time.Time) ([]ledger.DayUsage, error)
}

// Emitter is the dispatcher surface the analyzer emits through, inheriting
// its dedup behavior.
type Emitter interface {
	Emit(ctx context.Context, n *notify.Notification, window time.Duration) error
}

// Analyzer periodically scans the ledger for conditions the write path never
// sees: upcoming period close, usage spikes, and oversized usage-model bills.
type Analyzer struct {
	events    Events
	emitter   Emitter
	interval  time.Duration
	costAlert int64 // minor units
	now       func() time.Time
}

func NewAnalyzer(events Events, emitter Emitter, interval time.Duration, costAlert int64) *Analyzer {
	return &Analyzer{
		events:    events,
		emitter:   emitter,
		interval:  interval,
		costAlert: costAlert,
		now:       time.Now,
	}
}

// WithClock overrides the analyzer clock. For tests.
func (a *Analyzer) WithClock(now func() time.Time) *Analyzer {
	a.now = now
	return a
}

// Run blocks until ctx is cancelled, scanning once per interval.
func (a *Analyzer) Run(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	log.Printf("analyzer: running every %s", a.interval)
	for {
		select {
		case <-ctx.Done():
			log.Println("analyzer: stopped")
			return
		case <-ticker.C:
			if err := a.RunOnce(ctx); err != nil {
				log.Printf("analyzer: scan failed: %v", err)
			}
		}
	}
}

// RunOnce scans every business with usage in the current period.
func (a *Analyzer) RunOnce(ctx context.Context) error {
	now := a.now()
	period := billing.PeriodFor(now)

	businesses, err := a.events.ActiveBusinesses(ctx, period)
	if err != nil {
		return err
	}

	for _, businessID := range businesses {
		if err := a.scanBusiness(ctx, businessID, period, now); err != nil {
			log.Printf("analyzer: business %s: %v", businessID, err)
		}
	}

	return nil
}

func (a *Analyzer) scanBusiness(ctx context.Context, businessID string, period billing.Period, now time.Time) error {
	cost, err := a.events.PeriodCost(ctx, businessID, period)
	if err != nil {
		return err
	}

	if cost > 0 && now.After(period.End.AddDate(0, 0, -billingDueDays)) {
		n := &notify.Notification{
			BusinessID: businessID,
			Type:       notify.TypeBillingDue,
			Severity:   notify.SeverityInfo,
			Title:      "Billing period closing",
			Message: fmt.Sprintf("The current billing period ends on %s with %.2f accrued",
				period.End.Format("2006-01-02"), float64(cost)/100),
			Data: map[string]any{"period_start": period.Key(), "cost_minor": cost},
		}
		if err := a.emitter.Emit(ctx, n, analyzerDedupWindow); err != nil {
			return err
		}
	}

	if a.costAlert > 0 && cost >= a.costAlert {
		n := &notify.Notification{
			BusinessID: businessID,
			Type:       notify.TypeCostOptimization,
			Severity:   notify.SeverityInfo,
			Title:      "Cost optimization available",
			Message: fmt.Sprintf("Usage-based charges reached %.2f this period; a subscription plan may cost less",
				float64(cost)/100),
			Data: map[string]any{"period_start": period.Key(), "cost_minor": cost},
		}
		if err := a.emitter.Emit(ctx, n, analyzerDedupWindow); err != nil {
			return err
		}
	}

	return a.checkSpike(ctx, businessID, now)
}

// sameDay compares calendar dates by wall clock. Rollup buckets are UTC
// midnights but the driver may attach a non-UTC location when scanning;
// comparing instants would miss them.
func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// checkSpike compares today's usage per unit against the trailing 7-day
// daily average and alerts when today runs at spikeFactor times the norm.
func (a *Analyzer) checkSpike(ctx context.Context, businessID string, now time.Time) error {
	today := now.UTC().Truncate(24 * time.Hour)
	from := today.AddDate(0, 0, -7)
	to := today.Add(24 * time.Hour)

	days, err := a.events.DailyRollup(ctx, businessID, "", from, to)
	if err != nil {
		return err
	}

	todayByUnit := make(map[string]float64)
	priorByUnit := make(map[string]float64)
	for _, d := range days {
		if sameDay(d.Day, today) {
			todayByUnit[d.Unit] += d.Amount
		} else {
			priorByUnit[d.Unit] += d.Amount
		}
	}

	for unit, amount := range todayByUnit {
		avg := priorByUnit[unit] / 7
		if avg <= 0 || amount < spikeFloor || amount < avg*spikeFactor {
			continue
		}

		n := &notify.Notification{
			BusinessID: businessID,
			Type:       notify.TypeUsageSpike,
			Severity:   notify.SeverityWarning,
			Title:      "Usage spike detected",
			Message: fmt.Sprintf("Today's usage of %.0f %s is %.1fx the trailing 7-day average of %.0f",
				amount, unit, amount/avg, avg),
			Data: map[string]any{"usage_unit": unit, "today": amount, "daily_average": avg},
		}
		if err := a.emitter.Emit(ctx, n, analyzerDedupWindow); err != nil {
			return err
		}
	}

	return nil
}

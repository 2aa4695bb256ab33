package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/vnmchuo/agent-metering/internal/billing"
)

// DB is satisfied by *pgxpool.Pool and pgx.Tx, so the same store works
// inside and outside a transaction.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) Store {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Record(ctx context.Context, ev *UsageEvent) error {
	var data []byte
	if ev.EventData != nil {
		var err error
		data, err = json.Marshal(ev.EventData)
		if err != nil {
			return fmt.Errorf("failed to marshal event data: %w", err)
		}
	}

	query := `
		INSERT INTO usage_events
			(id, business_id, agent_id, installation_id, event_type, usage_amount, usage_unit, cost_amount, billing_period, event_data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := s.db.Exec(ctx, query,
		ev.ID, ev.BusinessID, ev.AgentID, ev.InstallationID, ev.EventType,
		ev.UsageAmount, ev.UsageUnit, ev.CostAmount, ev.BillingPeriod, data, ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record usage event: %w", err)
	}

	return nil
}

func (s *PostgresStore) AgentSummary(ctx context.Context, businessID, agentID string, p billing.Period) (*AgentUsage, error) {
	query := `
		SELECT usage_unit, SUM(usage_amount), SUM(cost_amount), COUNT(*)
		FROM usage_events
		WHERE business_id = $1 AND agent_id = $2 AND billing_period = $3
		GROUP BY usage_unit
	`

	rows, err := s.db.Query(ctx, query, businessID, agentID, p.Start)
	if err != nil {
		return nil, fmt.Errorf("failed to query agent summary: %w", err)
	}
	defer rows.Close()

	summary := &AgentUsage{ByUnit: make(map[string]float64)}
	for rows.Next() {
		var unit string
		var amount float64
		var cost, count int64
		if err := rows.Scan(&unit, &amount, &cost, &count); err != nil {
			return nil, fmt.Errorf("failed to scan agent summary: %w", err)
		}
		summary.ByUnit[unit] = amount
		summary.CostMinor += cost
		summary.Events += count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating agent summary: %w", err)
	}

	return summary, nil
}

func (s *PostgresStore) DailyRollup(ctx context.Context, businessID, agentID string, from, to time.Time) ([]DayUsage, error) {
	// Truncate in UTC explicitly; date_trunc on a bare timestamptz buckets
	// by the session timezone.
	query := `
		SELECT date_trunc('day', created_at AT TIME ZONE 'UTC'), usage_unit, SUM(usage_amount), SUM(cost_amount), COUNT(*)
		FROM usage_events
		WHERE business_id = $1 AND created_at >= $2 AND created_at < $3
	`
	args := []any{businessID, from, to}
	if agentID != "" {
		query += ` AND agent_id = $4`
		args = append(args, agentID)
	}
	query += `
		GROUP BY 1, 2
		ORDER BY 1, 2
	`

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily rollup: %w", err)
	}
	defer rows.Close()

	var days []DayUsage
	for rows.Next() {
		var d DayUsage
		if err := rows.Scan(&d.Day, &d.Unit, &d.Amount, &d.CostMinor, &d.Events); err != nil {
			return nil, fmt.Errorf("failed to scan daily rollup: %w", err)
		}
		days = append(days, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating daily rollup: %w", err)
	}

	return days, nil
}

func (s *PostgresStore) PeriodCost(ctx context.Context, businessID string, p billing.Period) (int64, error) {
	query := `
		SELECT COALESCE(SUM(cost_amount), 0)
		FROM usage_events
		WHERE business_id = $1 AND billing_period = $2
	`

	var total int64
	if err := s.db.QueryRow(ctx, query, businessID, p.Start).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to get period cost: %w", err)
	}

	return total, nil
}

func (s *PostgresStore) ActiveBusinesses(ctx context.Context, p billing.Period) ([]string, error) {
	query := `
		SELECT DISTINCT business_id
		FROM usage_events
		WHERE billing_period = $1
	`

	rows, err := s.db.Query(ctx, query, p.Start)
	if err != nil {
		return nil, fmt.Errorf("failed to query active businesses: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan business id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating active businesses: %w", err)
	}

	return ids, nil
}

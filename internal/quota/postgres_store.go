package quota

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/vnmchuo/agent-metering/internal/billing"
)

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

const quotaColumns = `id, business_id, agent_id, quota_type, usage_unit, quota_limit, quota_used, period_start, period_end, created_at, updated_at`

func (s *PostgresStore) Increment(ctx context.Context, key Key, amount, defaultLimit float64) (*UsageQuota, error) {
	// The increment happens inside the conflict clause, so concurrent
	// recorders for the same key serialize on the row and every amount
	// lands. No application-level read-modify-write.
	query := `
		INSERT INTO usage_quotas
			(business_id, agent_id, quota_type, usage_unit, quota_limit, quota_used, period_start, period_end)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (business_id, agent_id, quota_type, usage_unit, period_start)
		DO UPDATE SET quota_used = usage_quotas.quota_used + EXCLUDED.quota_used, updated_at = now()
		RETURNING ` + quotaColumns

	q, err := scanQuota(s.db.QueryRow(ctx, query,
		key.BusinessID, key.AgentID, key.QuotaType, key.UsageUnit,
		defaultLimit, amount, key.Period.Start, key.Period.End,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to increment quota: %w", err)
	}

	return q, nil
}

func (s *PostgresStore) ActiveQuotas(ctx context.Context, businessID, agentID string, p billing.Period) ([]*UsageQuota, error) {
	query := `
		SELECT ` + quotaColumns + `
		FROM usage_quotas
		WHERE business_id = $1 AND period_start = $2
	`
	args := []any{businessID, p.Start}
	if agentID != "" {
		query += ` AND agent_id = $3`
		args = append(args, agentID)
	}
	query += ` ORDER BY agent_id, usage_unit`

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query quotas: %w", err)
	}
	defer rows.Close()

	var quotas []*UsageQuota
	for rows.Next() {
		q, err := scanQuota(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan quota: %w", err)
		}
		quotas = append(quotas, q)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating quotas: %w", err)
	}

	return quotas, nil
}

func (s *PostgresStore) UsedInPeriod(ctx context.Context, businessID, agentID, unit string, p billing.Period) (float64, error) {
	query := `
		SELECT quota_used
		FROM usage_quotas
		WHERE business_id = $1 AND agent_id = $2 AND quota_type = $3 AND usage_unit = $4 AND period_start = $5
	`

	var used float64
	err := s.db.QueryRow(ctx, query, businessID, agentID, TypeMonthly, unit, p.Start).Scan(&used)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get period usage: %w", err)
	}

	return used, nil
}

func scanQuota(row pgx.Row) (*UsageQuota, error) {
	var q UsageQuota
	err := row.Scan(
		&q.ID, &q.BusinessID, &q.AgentID, &q.QuotaType, &q.UsageUnit,
		&q.Limit, &q.Used, &q.PeriodStart, &q.PeriodEnd, &q.CreatedAt, &q.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &q, nil
}

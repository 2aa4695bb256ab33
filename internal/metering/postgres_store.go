package metering

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/vnmchuo/agent-metering/internal/billing"
	"github.com/vnmchuo/agent-metering/internal/ledger"
	"github.com/vnmchuo/agent-metering/internal/quota"
)

// TxBeginner is satisfied by *pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresStore wraps the ledger append and the quota increment in one
// transaction. Partial application (event written, counter not bumped) is a
// billing-correctness bug, so the two writes share a commit.
type PostgresStore struct {
	db TxBeginner
}

func NewPostgresStore(db TxBeginner) Store {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, ev *ledger.UsageEvent, p billing.Period, defaultLimit float64) (*quota.UsageQuota, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := ledger.NewPostgresStore(tx).Record(ctx, ev); err != nil {
		return nil, err
	}

	key := quota.Key{
		BusinessID: ev.BusinessID,
		AgentID:    ev.AgentID,
		QuotaType:  quota.TypeMonthly,
		UsageUnit:  ev.UsageUnit,
		Period:     p,
	}
	q, err := quota.NewPostgresStore(tx).Increment(ctx, key, ev.UsageAmount, defaultLimit)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit usage event: %w", err)
	}

	return q, nil
}

package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
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

func (s *PostgresStore) ActiveInstallation(ctx context.Context, businessID, agentID string) (*Installation, error) {
	query := `
		SELECT id, business_id, agent_id, pricing_model, pricing_config, status, created_at
		FROM agent_installations
		WHERE business_id = $1 AND agent_id = $2 AND status = 'active'
	`

	inst, err := scanInstallation(s.db.QueryRow(ctx, query, businessID, agentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInstallationNotFound
		}
		return nil, fmt.Errorf("failed to get installation: %w", err)
	}

	return inst, nil
}

func (s *PostgresStore) ListActive(ctx context.Context, businessID string) ([]*Installation, error) {
	query := `
		SELECT id, business_id, agent_id, pricing_model, pricing_config, status, created_at
		FROM agent_installations
		WHERE business_id = $1 AND status = 'active'
		ORDER BY created_at
	`

	rows, err := s.db.Query(ctx, query, businessID)
	if err != nil {
		return nil, fmt.Errorf("failed to query installations: %w", err)
	}
	defer rows.Close()

	var installations []*Installation
	for rows.Next() {
		inst, err := scanInstallation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan installation: %w", err)
		}
		installations = append(installations, inst)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating installations: %w", err)
	}

	return installations, nil
}

func (s *PostgresStore) Create(ctx context.Context, inst *Installation) error {
	if err := inst.Rates.Validate(); err != nil {
		return fmt.Errorf("invalid pricing config: %w", err)
	}

	config, err := json.Marshal(inst.Rates)
	if err != nil {
		return fmt.Errorf("failed to marshal pricing config: %w", err)
	}

	query := `
		INSERT INTO agent_installations (business_id, agent_id, pricing_model, pricing_config, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`

	err = s.db.QueryRow(ctx, query,
		inst.BusinessID, inst.AgentID, inst.Model, config, inst.Status,
	).Scan(&inst.ID, &inst.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to create installation: %w", err)
	}

	return nil
}

func scanInstallation(row pgx.Row) (*Installation, error) {
	var inst Installation
	var config []byte
	err := row.Scan(
		&inst.ID, &inst.BusinessID, &inst.AgentID, &inst.Model,
		&config, &inst.Status, &inst.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(config, &inst.Rates); err != nil {
		return nil, fmt.Errorf("malformed pricing config: %w", err)
	}
	if err := inst.Rates.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pricing config for installation %s: %w", inst.ID, err)
	}

	return &inst, nil
}

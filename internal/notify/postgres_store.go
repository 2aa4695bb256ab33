package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

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

func (s *PostgresStore) Create(ctx context.Context, n *Notification) error {
	var data []byte
	if n.Data != nil {
		var err error
		data, err = json.Marshal(n.Data)
		if err != nil {
			return fmt.Errorf("failed to marshal notification data: %w", err)
		}
	}

	query := `
		INSERT INTO billing_notifications (id, business_id, agent_id, type, severity, title, message, data, sent)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at
	`

	err := s.db.QueryRow(ctx, query,
		n.ID, n.BusinessID, n.AgentID, n.Type, n.Severity, n.Title, n.Message, data, n.Sent,
	).Scan(&n.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}

	return nil
}

func (s *PostgresStore) ExistsSince(ctx context.Context, businessID, agentID string, t Type, since time.Time) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM billing_notifications
			WHERE business_id = $1 AND agent_id = $2 AND type = $3 AND created_at > $4
		)
	`

	var exists bool
	if err := s.db.QueryRow(ctx, query, businessID, agentID, t, since).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check recent notifications: %w", err)
	}

	return exists, nil
}

func (s *PostgresStore) ListRecent(ctx context.Context, businessID string, limit int, unreadOnly bool) ([]*Notification, error) {
	query := `
		SELECT id, business_id, agent_id, type, severity, title, message, data, sent, read, created_at
		FROM billing_notifications
		WHERE business_id = $1
	`
	if unreadOnly {
		query += ` AND read = false`
	}
	query += `
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := s.db.Query(ctx, query, businessID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer rows.Close()

	var notifications []*Notification
	for rows.Next() {
		var n Notification
		var data []byte
		err := rows.Scan(
			&n.ID, &n.BusinessID, &n.AgentID, &n.Type, &n.Severity,
			&n.Title, &n.Message, &data, &n.Sent, &n.Read, &n.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &n.Data); err != nil {
				return nil, fmt.Errorf("malformed notification data: %w", err)
			}
		}
		notifications = append(notifications, &n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating notifications: %w", err)
	}

	return notifications, nil
}

func (s *PostgresStore) UnreadCount(ctx context.Context, businessID string) (int, error) {
	query := `
		SELECT COUNT(*) FROM billing_notifications
		WHERE business_id = $1 AND read = false
	`

	var count int
	if err := s.db.QueryRow(ctx, query, businessID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count unread notifications: %w", err)
	}

	return count, nil
}

package inbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"relay/pkg/domain"
	"relay/pkg/platform/tx"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Save(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n.Body)
	if err != nil {
		return fmt.Errorf("marshal notification body: %w", err)
	}
	query := `
		INSERT INTO user_notifications (id, user_id, body, created_at)
		VALUES ($1, $2, $3, $4)
	`
	_, err = tx.Exec(ctx, s.db).ExecContext(ctx, query, uuid.UUID(n.ID), n.UserID.String(), body, n.Timestamp)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByUser(ctx context.Context, userID domain.UserID, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, user_id, body, created_at
		FROM user_notifications
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := tx.Exec(ctx, s.db).QueryContext(ctx, query, userID.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		var (
			id   uuid.UUID
			user string
			body []byte
			n    Notification
		)
		if err := rows.Scan(&id, &user, &body, &n.Timestamp); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.ID = domain.NotificationID(id)
		n.UserID = domain.UserID(user)
		if len(body) > 0 {
			if err := json.Unmarshal(body, &n.Body); err != nil {
				return nil, fmt.Errorf("decode notification body: %w", err)
			}
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return out, nil
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"relay/internal/event/models"
	"relay/pkg/domain"
	"relay/pkg/platform/sentinel"
	"relay/pkg/platform/tx"
)

// PostgresStore persists events in the events table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, event *models.Event) error {
	query := `
		INSERT INTO events (id, user_id, status, body, message, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := tx.Exec(ctx, s.db).ExecContext(ctx, query,
		uuid.UUID(event.ID),
		nullableUser(event.UserID),
		string(event.Status),
		[]byte(event.Body),
		event.Message,
		event.CreatedAt,
		event.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, id domain.EventID) (*models.Event, error) {
	query := `
		SELECT id, user_id, status, body, message, created_at, updated_at
		FROM events
		WHERE id = $1
	`
	ev, err := scanEvent(tx.Exec(ctx, s.db).QueryRowContext(ctx, query, uuid.UUID(id)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("event %s: %w", id, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find event: %w", err)
	}
	return ev, nil
}

// Complete relies on the status predicate so concurrent writers cannot both
// win; a zero row count is disambiguated with a follow-up lookup.
func (s *PostgresStore) Complete(ctx context.Context, id domain.EventID, status models.Status, message string, at time.Time) error {
	if !status.IsTerminal() {
		return fmt.Errorf("complete with %s: %w", status, sentinel.ErrInvalidState)
	}
	query := `
		UPDATE events
		SET status = $2, message = $3, updated_at = $4
		WHERE id = $1 AND status NOT IN ('SUCCESS', 'FAILURE')
	`
	exec := tx.Exec(ctx, s.db)
	res, err := exec.ExecContext(ctx, query, uuid.UUID(id), string(status), message, at)
	if err != nil {
		return fmt.Errorf("complete event: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("complete event rows affected: %w", err)
	}
	if affected == 1 {
		return nil
	}

	var current string
	err = exec.QueryRowContext(ctx, `SELECT status FROM events WHERE id = $1`, uuid.UUID(id)).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("event %s: %w", id, sentinel.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("complete event lookup: %w", err)
	}
	return fmt.Errorf("event %s already %s: %w", id, current, sentinel.ErrInvalidState)
}

func (s *PostgresStore) ListByUser(ctx context.Context, userID domain.UserID, limit int) ([]*models.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, user_id, status, body, message, created_at, updated_at
		FROM events
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := tx.Exec(ctx, s.db).QueryContext(ctx, query, userID.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []*models.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) ClearOwner(ctx context.Context, userID domain.UserID) (int, error) {
	res, err := tx.Exec(ctx, s.db).ExecContext(ctx, `UPDATE events SET user_id = NULL WHERE user_id = $1`, userID.String())
	if err != nil {
		return 0, fmt.Errorf("clear event owner: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("clear event owner rows affected: %w", err)
	}
	return int(n), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*models.Event, error) {
	var (
		id      uuid.UUID
		userID  sql.NullString
		status  string
		body    []byte
		message string
		ev      models.Event
	)
	if err := row.Scan(&id, &userID, &status, &body, &message, &ev.CreatedAt, &ev.UpdatedAt); err != nil {
		return nil, err
	}
	ev.ID = domain.EventID(id)
	ev.UserID = domain.UserID(userID.String)
	ev.Status = models.Status(status)
	ev.Body = body
	ev.Message = message
	return &ev, nil
}

func nullableUser(userID domain.UserID) sql.NullString {
	return sql.NullString{String: userID.String(), Valid: !userID.IsZero()}
}

// Package outbox relays unpublished audit outbox rows to Kafka.
package outbox

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"relay/internal/platform/kafka/producer"
	txcontext "relay/pkg/platform/tx"
)

// Producer is the subset of the Kafka producer the relay needs.
type Producer interface {
	ProduceBatch(ctx context.Context, msgs []producer.Message) error
}

// Relay polls the outbox table and publishes pending rows in created order.
// Rows are locked with SKIP LOCKED so several relays can run side by side;
// a row is marked published only after the broker acknowledged it, which
// makes delivery at-least-once.
type Relay struct {
	runner   *txcontext.Runner
	db       *sql.DB
	producer Producer
	interval time.Duration
	batch    int
	logger   *slog.Logger
}

func NewRelay(db *sql.DB, p Producer, interval time.Duration, batch int, logger *slog.Logger) *Relay {
	if interval <= 0 {
		interval = time.Second
	}
	if batch <= 0 {
		batch = 100
	}
	return &Relay{
		runner:   txcontext.NewRunner(db),
		db:       db,
		producer: p,
		interval: interval,
		batch:    batch,
		logger:   logger,
	}
}

// Run publishes batches until ctx is cancelled. Full batches are followed
// immediately by the next poll.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		n, err := r.RunOnce(ctx)
		if err != nil && ctx.Err() == nil {
			r.logger.ErrorContext(ctx, "outbox relay failed", "error", err)
		}
		if err == nil && n == r.batch {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce publishes up to one batch and returns how many rows it published.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	var published int
	err := r.runner.RunInTx(ctx, func(ctx context.Context) error {
		exec := txcontext.Exec(ctx, r.db)
		rows, err := exec.QueryContext(ctx, `
			SELECT id, aggregate_id, topic, payload
			FROM outbox
			WHERE published_at IS NULL
			ORDER BY created_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		`, r.batch)
		if err != nil {
			return fmt.Errorf("select outbox rows: %w", err)
		}
		var (
			ids  []string
			msgs []producer.Message
		)
		for rows.Next() {
			var (
				id, key, topic string
				payload        []byte
			)
			if err := rows.Scan(&id, &key, &topic, &payload); err != nil {
				rows.Close()
				return fmt.Errorf("scan outbox row: %w", err)
			}
			ids = append(ids, id)
			msgs = append(msgs, producer.Message{Topic: topic, Key: []byte(key), Value: payload})
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return fmt.Errorf("iterate outbox rows: %w", err)
		}
		rows.Close()
		if len(msgs) == 0 {
			return nil
		}

		if err := r.producer.ProduceBatch(ctx, msgs); err != nil {
			return fmt.Errorf("produce outbox batch: %w", err)
		}
		_, err = exec.ExecContext(ctx,
			`UPDATE outbox SET published_at = $1 WHERE id = ANY($2::uuid[])`,
			time.Now(), pq.Array(ids),
		)
		if err != nil {
			return fmt.Errorf("mark outbox rows published: %w", err)
		}
		published = len(ids)
		return nil
	})
	return published, err
}

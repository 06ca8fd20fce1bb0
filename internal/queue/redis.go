package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// promoteScript moves due members of the delayed set onto the ready list in
// one atomic step so two schedulers never promote the same job twice.
var promoteScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
for _, member in ipairs(due) do
	redis.call('ZREM', KEYS[1], member)
	redis.call('LPUSH', KEYS[2], member)
end
return #due
`)

// RedisQueue shares jobs between api and worker processes: a ready list
// consumed with BRPOP and a delayed sorted set scored by due time in unix ms.
type RedisQueue struct {
	client     *redis.Client
	readyKey   string
	delayedKey string
	logger     *slog.Logger
	pollWait   time.Duration
	batch      int
}

func NewRedisQueue(client *redis.Client, prefix string, logger *slog.Logger) *RedisQueue {
	return &RedisQueue{
		client:     client,
		readyKey:   prefix + ":ready",
		delayedKey: prefix + ":delayed",
		logger:     logger,
		pollWait:   time.Second,
		batch:      100,
	}
}

func (q *RedisQueue) Enqueue(ctx context.Context, job Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.LPush(ctx, q.readyKey, payload).Err(); err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}

func (q *RedisQueue) Schedule(ctx context.Context, job Job, at time.Time) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	member := redis.Z{Score: float64(at.UnixMilli()), Member: payload}
	if err := q.client.ZAdd(ctx, q.delayedKey, member).Err(); err != nil {
		return fmt.Errorf("schedule job: %w", err)
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context) (Job, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Job{}, err
		}
		res, err := q.client.BRPop(ctx, q.pollWait, q.readyKey).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return Job{}, ctx.Err()
			}
			return Job{}, fmt.Errorf("dequeue job: %w", err)
		}
		// res is [key, value]
		var job Job
		if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
			q.logger.ErrorContext(ctx, "dropping malformed job", "payload", res[1], "error", err)
			continue
		}
		return job, nil
	}
}

// Promote moves due delayed jobs to the ready list and returns how many moved.
func (q *RedisQueue) Promote(ctx context.Context, now time.Time) (int, error) {
	n, err := promoteScript.Run(ctx, q.client,
		[]string{q.delayedKey, q.readyKey},
		strconv.FormatInt(now.UnixMilli(), 10), q.batch,
	).Int()
	if err != nil {
		return 0, fmt.Errorf("promote delayed jobs: %w", err)
	}
	return n, nil
}

// RunScheduler promotes due jobs every interval until ctx is done.
func (q *RedisQueue) RunScheduler(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for {
				n, err := q.Promote(ctx, time.Now())
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					q.logger.ErrorContext(ctx, "queue scheduler failed", "error", err)
					break
				}
				if n < q.batch {
					break
				}
			}
		}
	}
}

// Depth reports ready and delayed job counts.
func (q *RedisQueue) Depth(ctx context.Context) (ready, delayed int64, err error) {
	ready, err = q.client.LLen(ctx, q.readyKey).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("ready depth: %w", err)
	}
	delayed, err = q.client.ZCard(ctx, q.delayedKey).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("delayed depth: %w", err)
	}
	return ready, delayed, nil
}

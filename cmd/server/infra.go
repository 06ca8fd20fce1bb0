package main

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"relay/internal/broadcast"
	eventstore "relay/internal/event/store"
	"relay/internal/inbox"
	"relay/internal/platform/config"
	"relay/internal/platform/kafka/producer"
	natsplatform "relay/internal/platform/nats"
	"relay/internal/platform/postgres"
	redisplatform "relay/internal/platform/redis"
	"relay/internal/queue"
	"relay/internal/ratelimit"
	httptransport "relay/internal/transport/http"
)

// infra holds the external connections. Each is nil when not configured.
type infra struct {
	db    *sql.DB
	redis *redisplatform.Client
	nats  *natsplatform.Client
	kafka *producer.Producer
}

func openInfra(ctx context.Context, cfg config.Config, log *slog.Logger) (*infra, error) {
	in := &infra{}
	var err error

	if in.db, err = postgres.Open(ctx, cfg.Postgres); err != nil {
		return nil, err
	}
	if in.db != nil && cfg.Postgres.Migrate {
		if err := postgres.Migrate(ctx, in.db); err != nil {
			in.Close()
			return nil, err
		}
	}
	if in.redis, err = redisplatform.New(ctx, cfg.Redis); err != nil {
		in.Close()
		return nil, err
	}
	if cfg.Broadcast.Backend == "nats" {
		if in.nats, err = natsplatform.NewClient(cfg.Broadcast.NATSURL); err != nil {
			in.Close()
			return nil, err
		}
	}
	if len(cfg.Kafka.Brokers) > 0 {
		if in.kafka, err = producer.New(cfg.Kafka.Brokers, log); err != nil {
			in.Close()
			return nil, err
		}
	}
	return in, nil
}

func (in *infra) Close() {
	if in.kafka != nil {
		in.kafka.Close()
	}
	in.nats.Close()
	if in.redis != nil {
		_ = in.redis.Close()
	}
	if in.db != nil {
		_ = in.db.Close()
	}
}

// Health registers a check per configured connection.
func (in *infra) Health(log *slog.Logger) *httptransport.Health {
	h := httptransport.NewHealth(0, log)
	if in.db != nil {
		h.Add("postgres", in.db.PingContext)
	}
	if in.redis != nil {
		h.Add("redis", in.redis.Health)
	}
	if in.nats != nil {
		h.Add("nats", in.nats.Health)
	}
	if in.kafka != nil {
		h.Add("kafka", in.kafka.Health)
	}
	return h
}

type stores struct {
	events eventstore.Store
	inbox  inbox.Store
}

func buildStores(in *infra) *stores {
	if in.db == nil {
		return &stores{
			events: eventstore.NewInMemoryStore(),
			inbox:  inbox.NewInMemoryStore(),
		}
	}
	return &stores{
		events: eventstore.NewPostgres(in.db),
		inbox:  inbox.NewPostgres(in.db),
	}
}

func buildBroker(cfg config.Config, in *infra, log *slog.Logger) broadcast.Broker {
	switch cfg.Broadcast.Backend {
	case "redis":
		return broadcast.NewRedisBroker(in.redis.Client, log)
	case "nats":
		return broadcast.NewNATSBroker(in.nats.Conn(), log)
	default:
		return broadcast.NewMemoryHub()
	}
}

// scheduler promotes delayed jobs; only the shared queue needs one.
type scheduler interface {
	RunScheduler(ctx context.Context, interval time.Duration) error
}

func buildQueue(cfg config.Config, in *infra, log *slog.Logger) (queue.Queue, scheduler) {
	if in.redis == nil {
		return queue.NewMemoryQueue(0), nil
	}
	q := queue.NewRedisQueue(in.redis.Client, cfg.Redis.QueuePrefix, log)
	return q, q
}

type rateLimits struct {
	publish *ratelimit.Limiter
	connect *ratelimit.Limiter
}

func buildRateLimits(cfg config.RateLimitConfig, in *infra) rateLimits {
	var store ratelimit.Store = ratelimit.NewMemoryStore()
	if in.redis != nil {
		store = ratelimit.NewRedisStore(in.redis.Client, cfg.RedisPrefix)
	}
	return rateLimits{
		publish: ratelimit.NewLimiter(store, "publish", cfg.PublishLimit, cfg.Window),
		connect: ratelimit.NewLimiter(store, "connect", cfg.ConnectLimit, cfg.Window),
	}
}

// Package consumer materializes relayed audit records back into the audit store.
package consumer

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"sync/atomic"

	"relay/internal/platform/kafka/consumer"
)

// TopicHandler processes the records of one audit topic.
type TopicHandler interface {
	Handle(ctx context.Context, msg *consumer.Message) error
}

// Router fans records from the audit category topics out to their handlers.
// Records on a topic with no handler go to the fallback, or are committed and
// counted as skipped when there is none.
type Router struct {
	routes   map[string]TopicHandler
	fallback TopicHandler
	logger   *slog.Logger
	skipped  atomic.Int64
}

func NewRouter(logger *slog.Logger, fallback TopicHandler) *Router {
	return &Router{
		routes:   make(map[string]TopicHandler),
		fallback: fallback,
		logger:   logger,
	}
}

// Register must be called before the consumer starts.
func (r *Router) Register(topic string, handler TopicHandler) {
	r.routes[topic] = handler
}

// Topics lists the routed topics in sorted order, ready for ConsumeTopics.
func (r *Router) Topics() []string {
	return slices.Sorted(maps.Keys(r.routes))
}

// Skipped reports how many records were committed without a handler.
func (r *Router) Skipped() int64 {
	return r.skipped.Load()
}

func (r *Router) Handle(ctx context.Context, msg *consumer.Message) error {
	if handler, ok := r.routes[msg.Topic]; ok {
		return handler.Handle(ctx, msg)
	}
	if r.fallback != nil {
		return r.fallback.Handle(ctx, msg)
	}
	r.skipped.Add(1)
	r.logger.WarnContext(ctx, "audit record on unrouted topic",
		"topic", msg.Topic,
		"partition", msg.Partition,
		"offset", msg.Offset,
	)
	return nil
}

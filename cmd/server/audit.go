package main

import (
	"context"
	"fmt"
	"log/slog"

	"relay/internal/platform/config"
	kafkaconsumer "relay/internal/platform/kafka/consumer"
	"relay/pkg/platform/audit"
	auditconsumer "relay/pkg/platform/audit/consumer"
	"relay/pkg/platform/audit/outbox"
	"relay/pkg/platform/audit/publisher"
	auditmemory "relay/pkg/platform/audit/store/memory"
	auditpostgres "relay/pkg/platform/audit/store/postgres"
)

// auditPipeline is the audit trail. With Postgres and Kafka configured events
// go through the outbox to Kafka and are materialised back into audit_events;
// otherwise they stay in memory.
type auditPipeline struct {
	publisher *publisher.Publisher
	relay     *outbox.Relay
	consumer  *kafkaconsumer.Consumer
}

func buildAudit(ctx context.Context, cfg config.Config, in *infra, log *slog.Logger) (*auditPipeline, error) {
	if in.db == nil || in.kafka == nil {
		return &auditPipeline{
			publisher: publisher.NewPublisher(auditmemory.NewInMemoryStore(),
				publisher.WithAsyncBuffer(cfg.Dispatch.AuditBuffer),
				publisher.WithLogger(log),
			),
		}, nil
	}

	store := auditpostgres.New(in.db, cfg.Kafka.TopicPrefix)
	router := auditconsumer.NewRouter(log, nil)
	materialize := auditconsumer.NewMaterializeHandler(store, log)
	topics := make([]string, 0, len(audit.Categories()))
	for _, category := range audit.Categories() {
		topic := audit.Topic(cfg.Kafka.TopicPrefix, category)
		topics = append(topics, topic)
		router.Register(topic, materialize)
	}
	if err := in.kafka.EnsureTopics(ctx, 1, 1, topics...); err != nil {
		return nil, fmt.Errorf("provision audit topics: %w", err)
	}
	consumer, err := kafkaconsumer.New(cfg.Kafka.Brokers, cfg.Kafka.ConsumerGroup, router.Topics(), router, log)
	if err != nil {
		return nil, err
	}

	return &auditPipeline{
		publisher: publisher.NewPublisher(store,
			publisher.WithAsyncBuffer(cfg.Dispatch.AuditBuffer),
			publisher.WithLogger(log),
		),
		relay:    outbox.NewRelay(in.db, in.kafka, cfg.Kafka.RelayInterval, cfg.Kafka.RelayBatch, log),
		consumer: consumer,
	}, nil
}

// Close drains buffered audit events before the connections close.
func (p *auditPipeline) Close() {
	p.publisher.Close()
	if p.consumer != nil {
		p.consumer.Close()
	}
}

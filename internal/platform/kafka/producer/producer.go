// Package producer publishes records to Kafka for the audit outbox relay.
package producer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Message is a single record to publish.
type Message struct {
	Topic string
	Key   []byte
	Value []byte
}

// Producer wraps a franz-go client configured for synchronous produces.
type Producer struct {
	client *kgo.Client
	logger *slog.Logger
}

// New creates a producer connected to the given seed brokers.
func New(brokers []string, logger *slog.Logger) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka producer requires at least one broker")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerLinger(0),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &Producer{client: client, logger: logger}, nil
}

// Produce publishes one record and waits for the broker acknowledgement.
func (p *Producer) Produce(ctx context.Context, msg Message) error {
	return p.ProduceBatch(ctx, []Message{msg})
}

// ProduceBatch publishes records and waits for all acknowledgements. The
// first failure is returned.
func (p *Producer) ProduceBatch(ctx context.Context, msgs []Message) error {
	if len(msgs) == 0 {
		return nil
	}
	records := make([]*kgo.Record, 0, len(msgs))
	for _, m := range msgs {
		records = append(records, &kgo.Record{Topic: m.Topic, Key: m.Key, Value: m.Value})
	}
	if err := p.client.ProduceSync(ctx, records...).FirstErr(); err != nil {
		return fmt.Errorf("produce to kafka: %w", err)
	}
	return nil
}

// EnsureTopics creates the topics that do not exist yet.
func (p *Producer) EnsureTopics(ctx context.Context, partitions int32, replication int16, topics ...string) error {
	adm := kadm.NewClient(p.client)
	resp, err := adm.CreateTopics(ctx, partitions, replication, nil, topics...)
	if err != nil {
		return fmt.Errorf("create topics: %w", err)
	}
	for _, r := range resp.Sorted() {
		if r.Err != nil && !errors.Is(r.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create topic %s: %w", r.Topic, r.Err)
		}
		if r.Err == nil && p.logger != nil {
			p.logger.InfoContext(ctx, "kafka topic created", "topic", r.Topic)
		}
	}
	return nil
}

// Health pings the cluster.
func (p *Producer) Health(ctx context.Context) error {
	return p.client.Ping(ctx)
}

func (p *Producer) Close() {
	p.client.Close()
}

//go:build integration

package outbox_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"relay/internal/platform/kafka/consumer"
	"relay/internal/platform/kafka/producer"
	"relay/pkg/domain"
	audit "relay/pkg/platform/audit"
	auditconsumer "relay/pkg/platform/audit/consumer"
	"relay/pkg/platform/audit/outbox"
	"relay/pkg/platform/audit/store/postgres"
	"relay/pkg/testutil/containers"
)

const topicPrefix = "relay.audit.test"

type RelaySuite struct {
	suite.Suite
	pg       *containers.PostgresContainer
	kafka    *containers.KafkaContainer
	store    *postgres.Store
	producer *producer.Producer
	logger   *slog.Logger
}

func TestRelaySuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RelaySuite))
}

func (s *RelaySuite) SetupSuite() {
	s.pg = containers.GetManager().GetPostgres(s.T())
	s.kafka = containers.GetManager().GetKafka(s.T())
	s.logger = slog.New(slog.DiscardHandler)
	s.store = postgres.New(s.pg.DB, topicPrefix)

	p, err := producer.New(s.kafka.Brokers, s.logger)
	s.Require().NoError(err)
	s.producer = p
	topics := make([]string, 0, 3)
	for _, c := range audit.Categories() {
		topics = append(topics, audit.Topic(topicPrefix, c))
	}
	s.Require().NoError(p.EnsureTopics(context.Background(), 1, 1, topics...))
}

func (s *RelaySuite) TearDownSuite() {
	s.producer.Close()
}

func (s *RelaySuite) SetupTest() {
	s.Require().NoError(s.pg.TruncateTables(context.Background(), "outbox", "audit_events"))
}

func (s *RelaySuite) TestOutboxToMaterializedTrail() {
	ctx := context.Background()
	eventID := domain.NewEventID()

	for _, action := range []audit.AuditEvent{audit.EventAccepted, audit.EventSucceeded, audit.EventNotificationPublished} {
		e := audit.New(action)
		e.EventID = eventID
		e.UserID = "u1"
		e.Timestamp = time.Now()
		s.Require().NoError(s.store.Append(ctx, e))
	}

	relay := outbox.NewRelay(s.pg.DB, s.producer, time.Second, 10, s.logger)
	n, err := relay.RunOnce(ctx)
	s.Require().NoError(err)
	s.Equal(3, n)

	n, err = relay.RunOnce(ctx)
	s.Require().NoError(err)
	s.Zero(n, "published rows are not relayed twice")

	router := auditconsumer.NewRouter(s.logger, nil)
	handler := auditconsumer.NewMaterializeHandler(s.store, s.logger)
	for _, c := range audit.Categories() {
		router.Register(audit.Topic(topicPrefix, c), handler)
	}
	c, err := consumer.New(s.kafka.Brokers, "relay-test-"+eventID.String(), router.Topics(), router, s.logger)
	s.Require().NoError(err)
	defer c.Close()

	runCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	go func() { _ = c.Run(runCtx) }()

	s.Eventually(func() bool {
		trail, err := s.store.ListByEvent(ctx, eventID)
		return err == nil && len(trail) == 3
	}, 25*time.Second, 200*time.Millisecond)

	trail, err := s.store.ListByUser(ctx, "u1")
	s.Require().NoError(err)
	s.Len(trail, 3)
}

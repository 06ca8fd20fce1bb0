// Package dispatch runs events: it resolves the action named in an event
// body, executes it on a worker, retries failures with backoff and records
// the terminal status exactly once, notifying the owner when asked to.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"relay/internal/action"
	"relay/internal/broadcast"
	"relay/internal/event/models"
	"relay/internal/inbox"
	"relay/internal/platform/logger"
	"relay/internal/queue"
	"relay/pkg/attrs"
	"relay/pkg/domain"
	dErrors "relay/pkg/domain-errors"
	"relay/pkg/platform/audit"
	"relay/pkg/platform/sentinel"
	"relay/pkg/requestcontext"
)

// EventStore is the part of the event record store the engine uses.
type EventStore interface {
	FindByID(ctx context.Context, id domain.EventID) (*models.Event, error)
	Complete(ctx context.Context, id domain.EventID, status models.Status, message string, at time.Time) error
}

// ActionResolver maps an action name to its handler.
type ActionResolver interface {
	Resolve(name string) (action.Handler, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

type Engine struct {
	events         EventStore
	actions        ActionResolver
	queue          queue.Queue
	publisher      broadcast.Publisher
	inbox          inbox.Store
	policy         *RetryPolicy
	auditPublisher AuditPublisher
	metrics        *Metrics
	tracer         trace.Tracer
	logger         *slog.Logger
	now            func() time.Time
}

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithInbox enables persisting status notifications for events whose
// notification config sets save_notification.
func WithInbox(store inbox.Store) Option {
	return func(e *Engine) {
		e.inbox = store
	}
}

func WithRetryPolicy(policy *RetryPolicy) Option {
	return func(e *Engine) {
		e.policy = policy
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(e *Engine) {
		e.auditPublisher = publisher
	}
}

func WithMetrics(m *Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		e.tracer = tracer
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

func New(
	events EventStore,
	actions ActionResolver,
	q queue.Queue,
	publisher broadcast.Publisher,
	opts ...Option,
) (*Engine, error) {
	if events == nil {
		return nil, fmt.Errorf("event store is required")
	}
	if actions == nil {
		return nil, fmt.Errorf("action resolver is required")
	}
	if q == nil {
		return nil, fmt.Errorf("queue is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("notification publisher is required")
	}

	e := &Engine{
		events:    events,
		actions:   actions,
		queue:     q,
		publisher: publisher,
		policy:    DefaultRetryPolicy(),
		tracer:    otel.Tracer("relay/dispatch"),
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Enqueue schedules the first attempt of a stored event and returns without
// waiting for the handler. An unknown action fails here with a configuration
// error and nothing is scheduled.
func (e *Engine) Enqueue(ctx context.Context, eventID domain.EventID) error {
	event, err := e.events.FindByID(ctx, eventID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.Wrap(err, dErrors.CodeNotFound, "event not found")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load event")
	}
	body, err := models.ParseBody(event.Body)
	if err != nil {
		return err
	}
	if _, err := e.actions.Resolve(body.Action); err != nil {
		e.logAudit(ctx, audit.EventRejected, event,
			"action", body.Action,
			"reason", err.Error(),
		)
		return err
	}

	job := queue.Job{EventID: eventID, Attempt: 0, EnqueuedAt: e.now()}
	if err := e.queue.Enqueue(ctx, job); err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to enqueue event")
	}
	e.logAudit(ctx, audit.EventAccepted, event,
		"action", body.Action,
		"status", string(event.Status),
	)
	return nil
}

// Handle runs one attempt of an event. It is the worker entry point and
// returns an error only when the event could not be loaded.
func (e *Engine) Handle(ctx context.Context, job queue.Job) error {
	ctx, span := e.tracer.Start(ctx, "dispatch.handle", trace.WithAttributes(
		attribute.String("relay.event_id", job.EventID.String()),
		attribute.Int("relay.attempt", job.Attempt),
	))
	defer span.End()
	log := logger.WithTrace(ctx, e.logger).With("event_id", job.EventID, "attempt", job.Attempt)

	event, err := e.events.FindByID(ctx, job.EventID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			log.WarnContext(ctx, "event vanished before handling, dropping job")
			return nil
		}
		span.RecordError(err)
		return fmt.Errorf("load event %s: %w", job.EventID, err)
	}
	if event.Status.IsTerminal() {
		log.DebugContext(ctx, "event already terminal, skipping duplicate job", "status", event.Status)
		return nil
	}

	body, err := models.ParseBody(event.Body)
	if err != nil {
		log.ErrorContext(ctx, "stored event body is invalid, not retrying", "error", err)
		e.logAudit(ctx, audit.EventRejected, event, "reason", err.Error())
		return nil
	}
	span.SetAttributes(attribute.String("relay.action", body.Action))

	handler, err := e.actions.Resolve(body.Action)
	if err != nil {
		log.ErrorContext(ctx, "unknown action, not retrying", "action", body.Action, "error", err)
		e.logAudit(ctx, audit.EventRejected, event,
			"action", body.Action,
			"reason", err.Error(),
		)
		return nil
	}

	inv := action.Invocation{
		EventID:      event.ID,
		Owner:        event.UserID,
		Body:         body,
		Notification: body.Notification,
		Attempt:      job.Attempt,
	}
	started := e.now()
	result, execErr := handler.Execute(ctx, inv)
	elapsed := e.now().Sub(started)

	if execErr != nil {
		span.RecordError(execErr)
		span.SetStatus(codes.Error, execErr.Error())
		e.metrics.ObserveInvocation(body.Action, "error", elapsed)
		e.onFailure(ctx, log, event, body, job, execErr)
		return nil
	}
	e.metrics.ObserveInvocation(body.Action, "ok", elapsed)
	log.InfoContext(ctx, "action completed", "action", body.Action, "detail", result.Detail)
	e.onSuccess(ctx, log, event, body)
	return nil
}

func (e *Engine) onSuccess(ctx context.Context, log *slog.Logger, event *models.Event, body models.Body) {
	cfg := body.Notification
	if !e.complete(ctx, log, event, models.StatusSuccess, cfg.SuccessMessage) {
		return
	}
	if cfg.NotifyOnSuccess {
		e.notify(ctx, log, event, cfg, models.StatusSuccess, cfg.SuccessMessage)
	}
}

func (e *Engine) onFailure(ctx context.Context, log *slog.Logger, event *models.Event, body models.Body, job queue.Job, execErr error) {
	typeName := ErrorTypeName(execErr)

	if e.policy.ShouldRetry(job.Attempt) {
		delay := e.policy.Delay(job.Attempt)
		now := e.now()
		err := e.queue.Schedule(ctx, job.Next(now), now.Add(delay))
		if err == nil {
			e.metrics.IncRetriesScheduled()
			log.WarnContext(ctx, "action failed, retry scheduled",
				"action", body.Action,
				"error_type", typeName,
				"error", execErr,
				"delay", delay,
			)
			e.logAudit(ctx, audit.EventRetryScheduled, event,
				"status", string(models.StatusRetry),
				"reason", fmt.Sprintf("%s: %s", typeName, execErr.Error()),
			)
			return
		}
		// Without a scheduled retry the event would stay open forever.
		log.ErrorContext(ctx, "failed to schedule retry, failing event", "error", err)
	}

	cfg := body.Notification
	message := fmt.Sprintf("%s: %s", typeName, execErr.Error())
	if !e.complete(ctx, log, event, models.StatusFailure, message) {
		return
	}
	if cfg.NotifyOnFailure {
		text := fmt.Sprintf("%s failed after %d retries due to: %s - %s",
			cfg.FailureMessage, job.Attempt, typeName, execErr.Error())
		e.notify(ctx, log, event, cfg, models.StatusFailure, text)
	}
}

// complete performs the conditional terminal write and reports whether this
// call won it. Losing writers and vanished events are logged only.
func (e *Engine) complete(ctx context.Context, log *slog.Logger, event *models.Event, status models.Status, message string) bool {
	err := e.events.Complete(ctx, event.ID, status, message, e.now())
	switch {
	case err == nil:
	case errors.Is(err, sentinel.ErrInvalidState):
		log.InfoContext(ctx, "event already terminal, dropping status report", "status", status)
		return false
	case errors.Is(err, sentinel.ErrNotFound):
		log.ErrorContext(ctx, "event missing at update time, dropping status report", "status", status)
		return false
	default:
		log.ErrorContext(ctx, "failed to record terminal status", "status", status, "error", err)
		return false
	}

	e.metrics.IncTerminalWrite(string(status))
	outcome := audit.EventSucceeded
	if status == models.StatusFailure {
		outcome = audit.EventFailed
	}
	e.logAudit(ctx, outcome, event,
		"status", string(status),
		"reason", message,
	)
	return true
}

// notify pushes a status notification to the event owner. Failures are
// logged and never re-trigger the event.
func (e *Engine) notify(ctx context.Context, log *slog.Logger, event *models.Event, cfg models.NotificationConfig, status models.Status, message string) {
	if !event.HasOwner() {
		return
	}
	group, err := broadcast.GroupKey(event.UserID)
	if err != nil {
		log.ErrorContext(ctx, "cannot address event owner", "user_id", event.UserID, "error", err)
		return
	}
	data := map[string]any{
		"status":  string(status),
		"message": message,
	}

	if cfg.SaveNotification && e.inbox != nil {
		if err := e.inbox.Save(ctx, inbox.NewNotification(event.UserID, data, e.now())); err != nil {
			log.ErrorContext(ctx, "failed to save user notification", "user_id", event.UserID, "error", err)
		}
	}

	if err := e.publisher.Publish(ctx, group, broadcast.NewNotification(data)); err != nil {
		e.metrics.IncNotification("error")
		log.ErrorContext(ctx, "failed to publish status notification", "group", group, "error", err)
		e.logAudit(ctx, audit.EventNotificationFailed, event,
			"status", string(status),
			"reason", err.Error(),
		)
		return
	}
	e.metrics.IncNotification("ok")
	e.logAudit(ctx, audit.EventNotificationPublished, event, "status", string(status))
}

func (e *Engine) logAudit(ctx context.Context, kind audit.AuditEvent, event *models.Event, attributes ...any) {
	requestID := requestcontext.RequestID(ctx)
	if requestID != "" {
		attributes = append(attributes, "request_id", requestID)
	}
	args := append(attributes, "event", string(kind), "event_id", event.ID, "log_type", "audit")
	e.logger.InfoContext(ctx, string(kind), args...)
	if e.auditPublisher == nil {
		return
	}
	record := audit.New(kind)
	record.EventID = event.ID
	record.UserID = event.UserID
	record.Timestamp = e.now()
	record.Status = attrs.ExtractString(attributes, "status")
	record.Reason = attrs.ExtractString(attributes, "reason")
	record.RequestID = requestID
	// Audit failures never affect dispatch.
	_ = e.auditPublisher.Emit(ctx, record)
}

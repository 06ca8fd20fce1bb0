package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"relay/internal/admin"
	"relay/internal/broadcast"
	"relay/internal/dispatch"
	eventhandler "relay/internal/event/handler"
	eventservice "relay/internal/event/service"
	inboxhandler "relay/internal/inbox/handler"
	jwttoken "relay/internal/jwt_token"
	"relay/internal/platform/config"
	"relay/internal/platform/httpserver"
	"relay/internal/platform/logger"
	"relay/internal/platform/metrics"
	"relay/internal/queue"
	"relay/internal/ratelimit"
	"relay/internal/realtime"
	httptransport "relay/internal/transport/http"
	"relay/pkg/platform/middleware/allowlist"
	authmw "relay/pkg/platform/middleware/auth"
)

// main wires the relay from configuration and runs the parts selected by
// RELAY_ROLE until SIGINT or SIGTERM.
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := logger.New(cfg.Server.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("relay stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("relay stopped")
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	conns, err := openInfra(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer conns.Close()

	stores := buildStores(conns)
	groups := buildBroker(cfg, conns, log)
	jobs, scheduler := buildQueue(cfg, conns, log)

	auditing, err := buildAudit(ctx, cfg, conns, log)
	if err != nil {
		return err
	}
	defer auditing.Close()

	engine, err := dispatch.New(stores.events, buildActions(cfg.Providers, stores.inbox, groups, log), jobs, groups,
		dispatch.WithLogger(log),
		dispatch.WithInbox(stores.inbox),
		dispatch.WithRetryPolicy(dispatch.RetryPolicyFromConfig(cfg.Dispatch)),
		dispatch.WithAuditPublisher(auditing.publisher),
		dispatch.WithMetrics(dispatch.NewMetrics()),
	)
	if err != nil {
		return fmt.Errorf("create dispatch engine: %w", err)
	}

	log.Info("starting relay",
		"role", string(cfg.Role),
		"postgres", conns.db != nil,
		"redis", conns.redis != nil,
		"broadcast", cfg.Broadcast.Backend,
		"kafka_audit", auditing.relay != nil,
	)

	sessions := realtime.NewManager()
	g, gctx := errgroup.WithContext(ctx)

	if cfg.RunsWorker() {
		pool := queue.NewPool(jobs, engine, cfg.Dispatch.Concurrency, log)
		g.Go(func() error { return pool.Run(gctx) })
		if scheduler != nil {
			g.Go(func() error { return scheduler.RunScheduler(gctx, cfg.Dispatch.SchedulerInterval) })
		}
		if auditing.relay != nil {
			g.Go(func() error { return auditing.relay.Run(gctx) })
			g.Go(func() error { return auditing.consumer.Run(gctx) })
		}
	}

	if cfg.RunsAPI() {
		router, err := buildRouter(cfg, log, conns, stores, groups, engine, sessions, auditing)
		if err != nil {
			return err
		}
		srv := httpserver.New(cfg.Server.Addr, router)
		g.Go(func() error { return httpserver.Run(gctx, srv, cfg.Server.ShutdownTimeout, log) })
		g.Go(func() error {
			<-gctx.Done()
			sessions.CloseAll()
			return nil
		})
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func buildRouter(
	cfg config.Config,
	log *slog.Logger,
	conns *infra,
	stores *stores,
	groups broadcast.Broker,
	engine *dispatch.Engine,
	sessions *realtime.Manager,
	auditing *auditPipeline,
) (http.Handler, error) {
	publishers, err := allowlist.Parse(cfg.Server.PublishAllowedIPs)
	if err != nil {
		return nil, fmt.Errorf("config error: PUBLISH_ALLOWED_IPS: %w", err)
	}
	events, err := eventservice.New(stores.events, engine, eventservice.WithLogger(log))
	if err != nil {
		return nil, err
	}

	validator := jwttoken.NewJWTServiceAdapter(jwttoken.NewJWTService(cfg.Server.JWTSigningKey, cfg.Server.JWTIssuer))
	userAuth := []func(next http.Handler) http.Handler{
		authmw.Authenticate(validator, log),
		authmw.RequireAuth(log),
	}
	httpMetrics := metrics.New()

	limits := buildRateLimits(cfg.RateLimit, conns)
	ws := realtime.NewHandler(validator, groups, sessions, log,
		realtime.WithAllowedOrigins(cfg.Server.AllowedOrigins),
		realtime.WithHandlerActions(realtime.DefaultActions{}),
		realtime.WithHandlerAudit(auditing.publisher),
		realtime.WithHandlerMetrics(realtime.NewMetrics()),
	)

	return httptransport.NewRouter(httptransport.Config{
		Logger:         log,
		Metrics:        httpMetrics,
		MetricsHandler: promhttp.Handler(),
		WebSocket:      ratelimit.Middleware(limits.connect, log)(ws),
		Health:         conns.Health(log),
		RequestTimeout: cfg.Server.RequestTimeout,
	},
		eventhandler.New(events, log, httpMetrics,
			eventhandler.WithPublishGuard(publishers.Middleware(log), ratelimit.Middleware(limits.publish, log)),
			eventhandler.WithUserAuth(userAuth...),
		),
		inboxhandler.New(stores.inbox, log, userAuth...),
		admin.New(groups, sessions, auditing.publisher, stores.events, cfg.Server.AdminToken, log),
	), nil
}

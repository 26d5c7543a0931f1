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
	"time"

	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"keepsake/internal/audit/chain"
	audithandler "keepsake/internal/audit/handler"
	auditservice "keepsake/internal/audit/service"
	consenthandler "keepsake/internal/consent/handler"
	consentmetrics "keepsake/internal/consent/metrics"
	consentmodels "keepsake/internal/consent/models"
	consentservice "keepsake/internal/consent/service"
	jwttoken "keepsake/internal/jwt_token"
	memoryhandler "keepsake/internal/memory/handler"
	memoryservice "keepsake/internal/memory/service"
	"keepsake/internal/platform/config"
	"keepsake/internal/platform/health"
	"keepsake/internal/platform/kafka/producer"
	"keepsake/internal/platform/lock"
	"keepsake/internal/platform/logger"
	"keepsake/internal/platform/metrics"
	"keepsake/internal/platform/redis"
	"keepsake/internal/platform/tracing"
	ratelimitmetrics "keepsake/internal/ratelimit/metrics"
	ratelimitmw "keepsake/internal/ratelimit/middleware"
	ratelimitmodels "keepsake/internal/ratelimit/models"
	ratelimitservice "keepsake/internal/ratelimit/service"
	"keepsake/internal/ratelimit/store/bucket"
	"keepsake/internal/reconcile/engine"
	synchandler "keepsake/internal/reconcile/handler"
	"keepsake/internal/scheduler"
	httptransport "keepsake/internal/transport/http"
	"keepsake/pkg/platform/circuit"
	"keepsake/pkg/platform/middleware/request"
	"keepsake/pkg/platform/outbox"
	outboxmetrics "keepsake/pkg/platform/outbox/metrics"
	outboxworker "keepsake/pkg/platform/outbox/worker"
)

const (
	housekeepingInterval = 30 * time.Second
	outboxRetention      = 7 * 24 * time.Hour
)

// main wires dependencies and runs the HTTP server, outbox worker and
// scheduler until SIGINT or SIGTERM. Business logic lives in internal packages.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("keepsake stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("keepsake stopped")
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	log.Info("initializing keepsake",
		"addr", cfg.Server.Addr,
		"backend", cfg.Server.Backend,
		"region", cfg.Server.Region,
		"hash_algorithm", cfg.Audit.HashAlgorithm,
	)

	registry := consentmodels.DefaultRegistry()
	if err := registry.ApplyOverrides(cfg.Consent.Policies); err != nil {
		return err
	}
	hasher, err := chain.NewHasher(cfg.Audit.HashAlgorithm)
	if err != nil {
		return err
	}

	m := metrics.New()
	cm := consentmetrics.New()
	tracer := tracing.New(otel.GetTracerProvider())
	probes := health.New(cfg.Server.Region)

	be, err := openBackend(cfg, hasher, m, cm, tracer, log)
	if err != nil {
		return fmt.Errorf("open %s backend: %w", cfg.Server.Backend, err)
	}
	defer func() {
		if err := be.close(); err != nil {
			log.Warn("backend close failed", "error", err)
		}
	}()
	if be.health != nil {
		probes.RegisterCheck("database", be.health)
	}

	blobs, err := openBlobs(ctx, cfg.S3, log)
	if err != nil {
		return fmt.Errorf("open blob backend: %w", err)
	}

	consents := consentservice.New(be.consentTx, be.records, registry,
		consentservice.WithMetrics(cm),
		consentservice.WithLogger(log),
	)
	memory := memoryservice.New(be.memoryTx, be.objects, consents, registry, blobs,
		memoryservice.WithPurgeBatch(cfg.Scheduler.BatchSize),
		memoryservice.WithMetrics(m),
		memoryservice.WithLogger(log),
	)
	consents.SetDependentGate(memory)

	audit := auditservice.New(be.audit, be.writer,
		auditservice.WithExportChecker(consents),
		auditservice.WithRetention(cfg.Audit.Retention),
		auditservice.WithMetrics(m),
		auditservice.WithTracer(tracer),
		auditservice.WithLogger(log),
	)
	reconciler := engine.New(be.syncTx, be.audit, be.sync, consents, memory, hasher,
		engine.WithMetrics(m),
		engine.WithTracer(tracer),
		engine.WithLogger(log),
	)

	locker, rdb, err := openLocker(ctx, cfg, log)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close() //nolint:errcheck // shutdown path
		probes.RegisterCheck("redis", rdb.Health)
	}
	sched, err := scheduler.New(consents, memory, be.outbox, locker,
		scheduler.WithLockTTL(cfg.Scheduler.LockTTL),
		scheduler.WithBatchSize(cfg.Scheduler.BatchSize),
		scheduler.WithMetrics(m),
		scheduler.WithTracer(tracer),
		scheduler.WithLogger(log),
	)
	if err != nil {
		return err
	}

	publisher, err := openPublisher(ctx, cfg.Kafka, log)
	if err != nil {
		return err
	}
	defer publisher.Close() //nolint:errcheck // flushes pending records
	if p, ok := publisher.(*producer.Producer); ok {
		probes.RegisterCheck("kafka", p.Health)
	}
	worker := outboxworker.New(be.outbox, publisher,
		outboxworker.WithTopic(outbox.KindAuditEvent, cfg.Kafka.AuditTopic),
		outboxworker.WithTopic(outbox.KindRenewalDue, cfg.Kafka.RenewalTopic),
		outboxworker.WithPollInterval(cfg.Kafka.PollInterval),
		outboxworker.WithMetrics(outboxmetrics.New()),
		outboxworker.WithLogger(log),
	)

	limiter := openLimiter(cfg.RateLimit, rdb, log)

	tokens := jwttoken.NewJWTService(cfg.Auth.JWTSigningKey, cfg.Auth.Issuer, cfg.Auth.Audience, cfg.Auth.TokenTTL)
	router := httptransport.NewRouter(httptransport.Handlers{
		Health:  probes,
		Consent: consenthandler.New(consents, log),
		Memory:  memoryhandler.New(memory, log),
		Audit:   audithandler.New(audit, log),
		Sync:    synchandler.New(reconciler, log),
	}, httptransport.Config{
		RequestTimeout:   cfg.Server.RequestTimeout,
		MaxSyncBodyBytes: cfg.Server.MaxBodyBytes,
		Validator:        jwttoken.NewJWTServiceAdapter(tokens),
		RateLimit:        ratelimitmw.New(limiter, log),
		Metrics:          request.NewMetrics(),
	}, log)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting http server", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return worker.Start(gctx)
	})
	if cfg.Scheduler.Enabled {
		g.Go(func() error {
			return ignoreCancel(sched.Start(gctx))
		})
	} else {
		log.Info("scheduler disabled")
	}
	g.Go(func() error {
		housekeep(gctx, log,
			func(ctx context.Context, _ time.Time) error { return worker.UpdateMetrics(ctx) },
			func(ctx context.Context, now time.Time) error {
				n, err := be.outbox.DeleteProcessedBefore(ctx, now.Add(-outboxRetention))
				if n > 0 {
					log.InfoContext(ctx, "outbox cleanup", "deleted", n)
				}
				return err
			},
			func(_ context.Context, now time.Time) error {
				limiter.Sweep(now)
				if rdb != nil {
					rdb.RecordPoolStats()
				}
				return nil
			},
		)
		return nil
	})

	return g.Wait()
}

// openLocker returns a Redis locker when REDIS_URL is set so several
// scheduler replicas can share the sweeps.
func openLocker(ctx context.Context, cfg config.Config, log *slog.Logger) (lock.Locker, *redis.Client, error) {
	rdb, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}
	if rdb == nil {
		log.Warn("REDIS_URL not set; scheduler locks are process-local")
		return lock.NewLocal(), nil, nil
	}
	return lock.NewRedis(rdb, "keepsake:lock:"), rdb, nil
}

type closingPublisher interface {
	outboxworker.Publisher
	Close() error
}

func openPublisher(ctx context.Context, cfg config.Kafka, log *slog.Logger) (closingPublisher, error) {
	if cfg.Brokers == "" {
		log.Warn("KAFKA_BROKERS not set; outbox entries are marked published without delivery")
		return producer.NewNoopProducer(), nil
	}
	p, err := producer.New(producer.Config{
		Brokers:         cfg.Brokers,
		Acks:            cfg.Acks,
		Retries:         cfg.Retries,
		DeliveryTimeout: cfg.DeliveryTimeout,
	}, log)
	if err != nil {
		return nil, err
	}
	if err := p.EnsureTopics(ctx, 3, 1, cfg.AuditTopic, cfg.RenewalTopic); err != nil {
		log.Warn("kafka topic creation failed; relying on broker auto-create", "error", err)
	}
	return p, nil
}

// openLimiter shares budgets through Redis when it is configured and falls
// back to process-local buckets while Redis is failing.
func openLimiter(cfg config.RateLimit, rdb *redis.Client, log *slog.Logger) *ratelimitservice.Limiter {
	limits := map[ratelimitmodels.Class]ratelimitmodels.Limit{
		ratelimitmodels.ClassAPI:  {Requests: cfg.APIRequests, Window: cfg.APIWindow},
		ratelimitmodels.ClassSync: {Requests: cfg.SyncRequests, Window: cfg.SyncWindow},
	}
	opts := []ratelimitservice.Option{
		ratelimitservice.WithMetrics(ratelimitmetrics.New()),
		ratelimitservice.WithLogger(log),
	}
	if rdb == nil {
		return ratelimitservice.New(bucket.NewInMemoryBucketStore(), limits, opts...)
	}
	opts = append(opts, ratelimitservice.WithFallback(bucket.NewInMemoryBucketStore(), circuit.New("ratelimit-redis")))
	return ratelimitservice.New(bucket.NewRedisBucketStore(rdb, "keepsake:ratelimit"), limits, opts...)
}

type housekeepingTask func(ctx context.Context, now time.Time) error

// housekeep refreshes gauges and trims state that only grows.
func housekeep(ctx context.Context, log *slog.Logger, tasks ...housekeepingTask) {
	ticker := time.NewTicker(housekeepingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, task := range tasks {
				if err := task(ctx, now); err != nil {
					log.WarnContext(ctx, "housekeeping task failed", "error", err)
				}
			}
		}
	}
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

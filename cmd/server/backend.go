package main

import (
	"context"
	"fmt"
	"log/slog"

	"keepsake/internal/audit/chain"
	auditservice "keepsake/internal/audit/service"
	auditstore "keepsake/internal/audit/store"
	consentmetrics "keepsake/internal/consent/metrics"
	consentservice "keepsake/internal/consent/service"
	consentstore "keepsake/internal/consent/store"
	"keepsake/internal/memory/blob"
	memoryservice "keepsake/internal/memory/service"
	memorystore "keepsake/internal/memory/store"
	"keepsake/internal/platform/config"
	"keepsake/internal/platform/database"
	"keepsake/internal/platform/health"
	"keepsake/internal/platform/metrics"
	"keepsake/internal/platform/tracing"
	"keepsake/internal/reconcile/engine"
	reconcilestore "keepsake/internal/reconcile/store"
	id "keepsake/pkg/domain"
	"keepsake/pkg/platform/outbox"
	outboxpg "keepsake/pkg/platform/outbox/postgres"
	platformsync "keepsake/pkg/platform/sync"
)

// backend is the central state: stores for reads outside a transaction and
// the transactions the services write through.
type backend struct {
	audit   auditstore.Store
	records consentstore.Store
	objects memorystore.Store
	sync    reconcilestore.Store
	outbox  outbox.Store
	writer  *auditservice.ChainWriter

	consentTx consentservice.Tx
	memoryTx  memoryservice.Tx
	syncTx    engine.Tx

	health health.CheckFunc
	close  func() error
}

func openBackend(cfg config.Config, hasher chain.Hasher, m *metrics.Metrics, cm *consentmetrics.Metrics, tracer tracing.Tracer, logger *slog.Logger) (*backend, error) {
	writerOpts := func(ob outbox.Appender) []auditservice.WriterOption {
		return []auditservice.WriterOption{
			auditservice.WithOutbox(ob),
			auditservice.WithDefaultRegion(id.NormalizeRegion(cfg.Server.Region)),
			auditservice.WithWriterMetrics(m),
			auditservice.WithWriterTracer(tracer),
			auditservice.WithWriterLogger(logger),
		}
	}

	switch cfg.Server.Backend {
	case config.BackendPostgres:
		pool, err := database.New(cfg.Database)
		if err != nil {
			return nil, err
		}
		db := pool.DB()
		ob := outboxpg.New(db)
		audit := auditstore.NewPostgres(db)
		tx := subjectTx{db: db, writer: auditservice.NewChainWriter(audit, hasher, writerOpts(ob)...)}
		return &backend{
			audit:     audit,
			records:   consentstore.NewPostgres(db),
			objects:   memorystore.NewPostgres(db),
			sync:      reconcilestore.NewPostgres(db),
			outbox:    ob,
			writer:    tx.writer,
			consentTx: consentPostgresTx{tx},
			memoryTx:  memoryPostgresTx{tx},
			syncTx:    syncPostgresTx{tx},
			health:    pool.Health,
			close:     pool.Close,
		}, nil

	case config.BackendMemory:
		ob := outbox.NewMemoryStore()
		audit := auditstore.NewInMemory()
		records := consentstore.NewInMemory()
		objects := memorystore.NewInMemory()
		sync := reconcilestore.NewInMemory()
		writer := auditservice.NewChainWriter(audit, hasher, writerOpts(ob)...)
		// One mutex for every transaction so a merge excludes consent and memory writes.
		mu := platformsync.NewShardedMutex()
		return &backend{
			audit:     audit,
			records:   records,
			objects:   objects,
			sync:      sync,
			outbox:    ob,
			writer:    writer,
			consentTx: consentservice.NewShardedTx(mu, consentservice.Stores{Records: records, Audit: writer}, cm),
			memoryTx:  memoryservice.NewShardedTx(mu, memoryservice.Stores{Objects: objects, Audit: writer}),
			syncTx:    engine.NewShardedTx(mu, engine.Stores{Audit: writer, Records: records, Objects: objects, Sync: sync}),
			close:     func() error { return nil },
		}, nil
	}
	return nil, fmt.Errorf("unknown backend %q", cfg.Server.Backend)
}

// openBlobs returns the S3 backend when a bucket is configured.
func openBlobs(ctx context.Context, cfg config.S3, logger *slog.Logger) (blob.Backend, error) {
	if cfg.Bucket == "" {
		logger.Warn("AWS_S3_BUCKET not set; purged content is tracked in memory only")
		return blob.NewMemory(), nil
	}
	return blob.NewS3(ctx, blob.S3Config{
		Region:          cfg.Region,
		Bucket:          cfg.Bucket,
		AccessKeyID:     cfg.AccessKeyID,
		SecretAccessKey: cfg.SecretAccessKey,
		Endpoint:        cfg.Endpoint,
		UsePathStyle:    cfg.UsePathStyle,
	}, logger)
}

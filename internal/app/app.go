// Package app wires the engine's components into one App, shared by every
// cmd/ entry point. The entry points differ only in how they supply
// ObjectRefs to the wired Controller (push, pull-by-listing, pull-by-timer);
// the wiring itself -- source, dedup, transform, batcher, retry, token,
// sink, dead-letter, health -- is identical across all three.
package app

import (
	"context"
	"fmt"
	"io"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/OluOlus/guardduty-sentinel-integration-sub001/internal/batch"
	"github.com/OluOlus/guardduty-sentinel-integration-sub001/internal/config"
	"github.com/OluOlus/guardduty-sentinel-integration-sub001/internal/controller"
	"github.com/OluOlus/guardduty-sentinel-integration-sub001/internal/deadletter"
	"github.com/OluOlus/guardduty-sentinel-integration-sub001/internal/dedup"
	"github.com/OluOlus/guardduty-sentinel-integration-sub001/internal/engine"
	"github.com/OluOlus/guardduty-sentinel-integration-sub001/internal/health"
	"github.com/OluOlus/guardduty-sentinel-integration-sub001/internal/retry"
	"github.com/OluOlus/guardduty-sentinel-integration-sub001/internal/sink"
	"github.com/OluOlus/guardduty-sentinel-integration-sub001/internal/source"
	"github.com/OluOlus/guardduty-sentinel-integration-sub001/internal/token"
	"github.com/OluOlus/guardduty-sentinel-integration-sub001/internal/transform"
	"github.com/OluOlus/guardduty-sentinel-integration-sub001/pkg/logging"
)

// version is stamped into the health response; a real build would set this
// via -ldflags, but a fixed string keeps the dev build self-contained.
const version = "dev"

// App holds everything a cmd/ entry point needs: the wired Controller, the
// health reporter (if a host wants to serve it), and the logger every
// component was built with. Close releases resources that outlive a single
// Run call (pooled DB connections, Redis clients).
type App struct {
	Config     *config.Config
	Controller *controller.Controller
	Health     *health.Reporter
	Logger     *logrus.Logger

	closers []func() error
}

// Build wires every component per the pipeline's DAG (§4.10) from cfg and
// returns the assembled App. The caller owns calling Close when done.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)

	app := &App{Config: cfg, Logger: logger}

	src, err := source.New(ctx, cfg.Source, logger)
	if err != nil {
		return nil, fmt.Errorf("app: build source: %w", err)
	}

	dd, err := app.buildDeduplicator(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("app: build deduplicator: %w", err)
	}

	xform := transform.New(cfg.EnableNormalize, logger)

	bat := batch.NewWithQueueDepth(
		cfg.BatchSize,
		batch.DefaultSoftCapBytes,
		time.Duration(cfg.FlushIntervalMs)*time.Millisecond,
		cfg.Concurrency.BatchQueueDepth,
	)

	tokens := token.New(cfg.Azure.TenantID, cfg.Azure.ClientID, cfg.Azure.ClientSecret, cfg.Azure.Scope)
	sinkCli := sink.New(cfg.DCR.EndpointBase, cfg.DCR.ImmutableID, tokens, time.Duration(cfg.DCR.TimeoutMs)*time.Millisecond)

	retryEngine := retry.New(retry.Config{
		MaxRetries:         cfg.MaxRetries,
		InitialBackoff:     time.Duration(cfg.RetryBackoffMs) * time.Millisecond,
		MaxBackoff:         time.Duration(cfg.MaxBackoffMs) * time.Millisecond,
		Multiplier:         2.0,
		BreakerName:        "dcr-sink",
		BreakerMaxFailures: 10,
		BreakerTimeout:     30 * time.Second,
	}, logger)

	dlSink, err := app.buildDeadLetterSink(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("app: build dead-letter sink: %w", err)
	}

	reporter := health.New(version)

	ctrl := controller.New(
		controller.Config{
			ObjectWorkers:           cfg.Concurrency.ObjectWorkers,
			IngestWorkers:           cfg.Concurrency.IngestWorkers,
			InputQueueDepth:         cfg.Concurrency.InputQueueDepth,
			ShutdownDeadline:        time.Duration(cfg.Concurrency.ShutdownDeadlineMs) * time.Millisecond,
			StreamName:              cfg.DCR.StreamName,
			BatchQueueDegradedAbove: cfg.Health.BatchQueueDegradedAbove,
		},
		src, dd, xform, bat, retryEngine, sinkCli, dlSink, reporter, logger,
	)

	reporter.Register("source", sourceProbe(src, cfg.Source.Bucket, cfg.Source.Prefix))
	reporter.Register("sink", sinkProbe(tokens))

	app.Controller = ctrl
	app.Health = reporter
	return app, nil
}

// sourceProbe reports unhealthy when the source bucket cannot be listed at
// all, the cheapest reachability signal that does not require fetching a
// real object.
func sourceProbe(src source.Source, bucket, prefix string) health.Probe {
	return func(ctx context.Context) (health.Status, string) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if _, err := src.List(ctx, bucket, prefix, 1); err != nil {
			return health.StatusUnhealthy, err.Error()
		}
		return health.StatusHealthy, ""
	}
}

// sinkProbe reports unhealthy when the token endpoint backing the sink's
// auth cannot be reached; it does not itself POST to the DCR stream, since
// a probe must not mutate or spend ingestion quota.
func sinkProbe(tokens *token.Cache) health.Probe {
	return func(ctx context.Context) (health.Status, string) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if _, _, err := tokens.GetToken(ctx); err != nil {
			return health.StatusUnhealthy, err.Error()
		}
		return health.StatusHealthy, ""
	}
}

// buildDeduplicator selects the Store backend per deduplication.backend: the
// default "memory" LRUStore is process-local and lost on restart; "redis"
// is an explicit opt-in to cross-restart dedup state (§9 open question).
func (a *App) buildDeduplicator(ctx context.Context, cfg *config.Config) (*dedup.Deduplicator, error) {
	if !cfg.Deduplication.Enabled {
		return dedup.New(dedup.NoopStore{}, dedup.StrategyByID, time.Minute), nil
	}

	window := time.Duration(cfg.Deduplication.TimeWindowMinutes) * time.Minute

	var store dedup.Store
	switch cfg.Deduplication.Backend {
	case "redis":
		rs, err := dedup.NewRedisStore(ctx, cfg.Deduplication.RedisURL, "")
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, rs.Close)
		store = rs
	default:
		lru, err := dedup.NewLRUStore(cfg.Deduplication.CacheSize)
		if err != nil {
			return nil, err
		}
		store = lru
	}

	return dedup.New(store, dedup.Strategy(cfg.Deduplication.Strategy), window), nil
}

// buildDeadLetterSink selects the Sink per dead_letter.destination: "" drops
// with a structured log, "s3" writes Parquet objects, "postgres" writes a
// GORM-backed table.
func (a *App) buildDeadLetterSink(ctx context.Context, cfg *config.Config) (deadletter.Sink, error) {
	switch cfg.DeadLetter.Destination {
	case "s3":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Source.Region))
		if err != nil {
			return nil, fmt.Errorf("load AWS config for dead-letter sink: %w", err)
		}
		client := s3.NewFromConfig(awsCfg)
		return deadletter.NewS3Sink(client, cfg.DeadLetter.Bucket, cfg.DeadLetter.Prefix), nil

	case "postgres":
		db, err := gorm.Open(postgres.Open(cfg.DeadLetter.DatabaseURL), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Warn),
		})
		if err != nil {
			return nil, fmt.Errorf("connect dead-letter postgres: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("unwrap dead-letter postgres handle: %w", err)
		}
		a.closers = append(a.closers, sqlDB.Close)
		return deadletter.NewPostgresSink(db), nil

	default:
		logger := a.Logger
		return &deadletter.NoopSink{OnDrop: func(b *engine.Batch, failure deadletter.FailureContext) {
			logger.WithFields(logrus.Fields{
				"batch_id": b.ID, "records": len(b.Records), "kind": failure.Kind, "message": failure.Message,
			}).Warn("dead-letter destination not configured, dropping batch")
		}}, nil
	}
}

// Close releases resources opened by Build (pooled DB connections, Redis
// clients) that outlive a single Controller.Run call.
func (a *App) Close() error {
	var firstErr error
	for _, closer := range a.closers {
		if err := closer(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

var _ io.Closer = (*App)(nil)

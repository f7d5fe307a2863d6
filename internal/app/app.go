// Package app assembles the queue store, transport, event sinks and
// services from configuration. Both cmd/server and cmd/worker build on it.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/ignite/mailqueue/internal/api"
	"github.com/ignite/mailqueue/internal/backoff"
	"github.com/ignite/mailqueue/internal/config"
	"github.com/ignite/mailqueue/internal/events"
	"github.com/ignite/mailqueue/internal/pkg/distlock"
	"github.com/ignite/mailqueue/internal/pkg/logger"
	"github.com/ignite/mailqueue/internal/queue"
	"github.com/ignite/mailqueue/internal/repository/memory"
	"github.com/ignite/mailqueue/internal/repository/postgres"
	redisstore "github.com/ignite/mailqueue/internal/repository/redis"
	"github.com/ignite/mailqueue/internal/service/email"
	"github.com/ignite/mailqueue/internal/transport"
	"github.com/ignite/mailqueue/internal/worker"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const meterName = "github.com/ignite/mailqueue"

// App holds the wired components of one process.
type App struct {
	Config       *config.Config
	Store        queue.Store
	DB           *sql.DB               // owned by Store; nil unless the postgres backend is used
	Redis        redis.UniversalClient // nil unless Redis is configured
	Sender       transport.Sender
	Bus          *events.Bus
	Backpressure *worker.BackpressureMonitor
	Wakeup       *worker.RedisWakeup // nil unless another process can be woken
	Email        *email.Service
	Metrics      *sdkmetric.ManualReader // nil unless events.metrics is set

	s3       *s3.Client
	provider *sdkmetric.MeterProvider
	gauge    metric.Registration

	mu        sync.RWMutex
	notifiers worker.Notifiers
	log       *logger.Component
}

// New connects every configured backend. On error, anything already opened
// is closed again.
func New(ctx context.Context, cfg *config.Config) (_ *App, err error) {
	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))
	logger.SetRedactPII(cfg.Logging.Redact())

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &App{Config: cfg, Bus: events.NewBus(), log: logger.For("app")}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if err = a.openRedis(ctx); err != nil {
		return nil, err
	}
	if err = a.openStore(ctx); err != nil {
		return nil, err
	}

	a.Sender, err = transport.New(ctx, cfg.Transport)
	if err != nil {
		return nil, fmt.Errorf("transport: %w", err)
	}
	a.log.Info("transport ready", "driver", cfg.Transport.Driver, "liquid", cfg.Transport.RenderLiquid)

	if err = a.subscribeObservers(ctx); err != nil {
		return nil, err
	}

	a.Backpressure = worker.NewBackpressureMonitor(a.Store, cfg.Queue.MaxQueueDepth, cfg.Dispatcher.BackpressureInterval())

	// A memory store is only visible to this process, so cross-process
	// wakeups would reach no one.
	if a.Redis != nil && cfg.Queue.Backend != config.BackendMemory {
		a.Wakeup = worker.NewRedisWakeup(a.Redis, cfg.Events.WakeChannel)
		a.AddNotifier(a.Wakeup)
	}

	a.Email = email.NewService(a.Store,
		email.WithSender(a.Sender, cfg.Transport.From),
		email.WithEvents(a.Bus),
		email.WithNotifier(a),
		email.WithBackpressure(a.Backpressure),
		email.WithChunkSize(cfg.Queue.ChunkSize),
	)
	return a, nil
}

func (a *App) openRedis(ctx context.Context) error {
	addr := a.Config.Queue.Redis.Addr()
	if addr == "" {
		return nil
	}
	rc := a.Config.Queue.Redis
	client := redis.NewClient(&redis.Options{Addr: addr, Password: rc.Password, DB: rc.DB})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		if a.Config.Queue.Backend == config.BackendRedis {
			return fmt.Errorf("redis %s: %w", addr, err)
		}
		// Redis only carries locks and events for the other backends.
		a.log.Warn("redis unavailable, continuing without it", "addr", addr, "error", err)
		return nil
	}
	a.Redis = client
	a.log.Info("redis connected", "addr", addr)
	return nil
}

func (a *App) openStore(ctx context.Context) error {
	qc := a.Config.Queue
	opts := queue.Options{LeaseTTL: qc.LeaseTTL(), DefaultMaxAttempts: qc.MaxAttempts}.Normalize()

	switch qc.Backend {
	case config.BackendPostgres:
		db, err := postgres.Open(ctx, qc.DatabaseURL, qc.MaxConns)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		a.DB = db
		a.Store = postgres.New(db, postgres.WithOptions(opts))
	case config.BackendRedis:
		a.Store = redisstore.New(a.Redis, redisstore.WithOptions(opts), redisstore.WithPrefix(qc.KeyPrefix))
	default:
		a.Store = memory.New(memory.WithOptions(opts))
	}
	a.log.Info("queue store ready", "backend", qc.Backend, "lease", opts.LeaseTTL.String(), "max_attempts", opts.DefaultMaxAttempts)
	return nil
}

func (a *App) subscribeObservers(ctx context.Context) error {
	ec := a.Config.Events
	a.Bus.Subscribe(events.NewLogObserver())

	if ec.Metrics {
		a.Metrics = sdkmetric.NewManualReader()
		a.provider = sdkmetric.NewMeterProvider(sdkmetric.WithReader(a.Metrics))
		otel.SetMeterProvider(a.provider)

		a.Bus.Subscribe(events.NewMetricsObserver())
		reg, err := events.RegisterQueueGauge(a.provider.Meter(meterName), a.Store.Counts)
		if err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
		a.gauge = reg
	}

	if ec.RedisChannel != "" {
		if a.Redis == nil {
			a.log.Warn("events.redis_channel set without a redis connection, not publishing", "channel", ec.RedisChannel)
		} else {
			a.Bus.Subscribe(events.NewRedisPublisher(a.Redis, ec.RedisChannel))
		}
	}

	if ec.S3Bucket != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(ec.S3Region))
		if err != nil {
			return fmt.Errorf("s3 archive: load aws config: %w", err)
		}
		a.s3 = s3.NewFromConfig(awsCfg)
		a.Bus.Subscribe(events.NewS3ArchiverWithClient(a.s3, ec.S3Bucket, ec.S3Prefix))
		a.log.Info("archiving failed jobs", "bucket", ec.S3Bucket, "prefix", ec.S3Prefix)
	}
	return nil
}

// AddNotifier registers a target for new-work notifications.
func (a *App) AddNotifier(n worker.Notifier) {
	a.mu.Lock()
	a.notifiers = append(a.notifiers, n)
	a.mu.Unlock()
}

// Notify fans out to every registered notifier.
func (a *App) Notify() {
	a.mu.RLock()
	ns := a.notifiers
	a.mu.RUnlock()
	ns.Notify()
}

// NewDispatcher builds a dispatcher from the dispatcher and queue settings.
// The heartbeat runs at a third of the lease so two missed beats still
// leave the lease intact.
func (a *App) NewDispatcher() (*worker.Dispatcher, error) {
	dc := a.Config.Dispatcher
	strategy, err := backoff.FromConfig(dc.Backoff.Strategy, dc.Backoff.Initial(), dc.Backoff.Max())
	if err != nil {
		return nil, err
	}
	host, _ := os.Hostname()
	if host == "" {
		host = "dispatcher"
	}
	return worker.NewDispatcher(a.Store, a.Sender, a.Bus, worker.Config{
		Concurrency:       dc.Concurrency,
		PollInterval:      dc.PollInterval(),
		SendTimeout:       dc.SendTimeout(),
		HeartbeatInterval: a.Config.Queue.LeaseTTL() / 3,
		DefaultFrom:       a.Config.Transport.From,
		Backoff:           strategy,
		WorkerID:          fmt.Sprintf("%s-%d", host, os.Getpid()),
	}), nil
}

// Lock returns a distributed lock shared by every process using the same
// Redis or Postgres, or a no-op lock when neither is configured.
func (a *App) Lock(name string, ttl time.Duration) distlock.DistLock {
	return distlock.NewLock(a.Redis, a.DB, a.Config.Queue.KeyPrefix+":lock:"+name, ttl)
}

// StartMaintenance runs lease recovery and retention cleanup until ctx is
// cancelled. Both are lock-guarded, so every dispatcher process may run them.
func (a *App) StartMaintenance(ctx context.Context) {
	dc := a.Config.Dispatcher
	recovery := worker.NewQueueRecoveryWorker(a.Store, a.Lock("recovery", dc.RecoveryInterval()), a.Bus, a, dc.RecoveryInterval())
	cleanup := worker.NewDataCleanupWorker(a.Store, a.Lock("cleanup", dc.RetentionInterval()), dc.RetentionInterval(), a.Config.Queue.Retention())
	go recovery.Start(ctx)
	go cleanup.Start(ctx)
}

// ListenWakeups forwards cross-process wakeups to n until ctx is cancelled.
// It returns at once when there is no wakeup channel.
func (a *App) ListenWakeups(ctx context.Context, n worker.Notifier) {
	if a.Wakeup == nil {
		return
	}
	for {
		err := a.Wakeup.Listen(ctx, n)
		if ctx.Err() != nil {
			return
		}
		a.log.Warn("wakeup listener stopped, retrying", "error", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Second):
		}
	}
}

// Handlers builds the HTTP handlers with health checks for every configured
// backend.
func (a *App) Handlers() *api.Handlers {
	hc := api.NewHealthChecker(a.Email).WithBackpressure(a.Backpressure.IsPaused)
	if a.Redis != nil {
		hc.WithRedis(a.Redis)
	}
	if a.s3 != nil {
		hc.WithS3(a.s3, a.Config.Events.S3Bucket)
	}
	h := api.NewHandlers(a.Email, hc)
	if a.Metrics != nil {
		h.WithMetrics(a.Metrics)
	}
	return h
}

// Close releases every connection. It is safe on a partially built App.
func (a *App) Close() error {
	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}
	if a.gauge != nil {
		keep(a.gauge.Unregister())
	}
	if a.provider != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		keep(a.provider.Shutdown(ctx))
		cancel()
	}
	if a.Store != nil {
		keep(a.Store.Close())
	}
	if a.Redis != nil {
		keep(a.Redis.Close())
	}
	return first
}

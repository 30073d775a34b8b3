// Package services assembles workers per service type. A process runs
// the API surface, the ingestion pollers, the delivery pipeline, or all
// of them together; the builder owns construction order and cleanup.
package services

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/apirouter"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/audit"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/backoff"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/breaker"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/config"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/delivery"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/deliverymq"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/dlq"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/idempotence"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/ingest"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/integrationstore"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/logging"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/logstore"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/models"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/postgres"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/redis"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/retention"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/retry"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/scheduler"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/scheduler/schedstore"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/sources/kafkasource"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/sources/pushsource"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/sources/sqlsource"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/worker"
)

// ServiceBuilder constructs workers based on service configuration.
type ServiceBuilder struct {
	ctx        context.Context
	cfg        *config.Config
	logger     *logging.Logger
	supervisor *worker.Supervisor

	// Shared infrastructure, created lazily so each service type only
	// opens the connections it needs.
	redisClient redis.Client
	pgPool      *pgxpool.Pool
	deliveryMQ  *deliverymq.DeliveryMQ
	pushQueue   pushsource.Queue

	cleanups []func(context.Context)
}

func NewServiceBuilder(ctx context.Context, cfg *config.Config, logger *logging.Logger) *ServiceBuilder {
	return &ServiceBuilder{
		ctx:        ctx,
		cfg:        cfg,
		logger:     logger,
		supervisor: worker.NewSupervisor(logger, worker.WithShutdownTimeout(30*time.Second)),
	}
}

// BuildWorkers builds workers based on the configured service type.
func (b *ServiceBuilder) BuildWorkers() error {
	serviceType := b.cfg.Service
	b.logger.Debug("building workers", zap.String("service_type", string(serviceType)))

	if serviceType == config.ServiceTypeIngest || serviceType == config.ServiceTypeSingular {
		if err := b.BuildIngestWorkers(); err != nil {
			return fmt.Errorf("build ingest workers: %w", err)
		}
	}
	if serviceType == config.ServiceTypeDelivery || serviceType == config.ServiceTypeSingular {
		if err := b.BuildDeliveryWorkers(); err != nil {
			return fmt.Errorf("build delivery workers: %w", err)
		}
	}
	// API last so its health endpoint reflects every registered worker.
	if serviceType == config.ServiceTypeAPI || serviceType == config.ServiceTypeSingular {
		if err := b.BuildAPIWorkers(); err != nil {
			return fmt.Errorf("build api workers: %w", err)
		}
	}
	return nil
}

// Build returns the configured supervisor.
func (b *ServiceBuilder) Build() *worker.Supervisor {
	return b.supervisor
}

// Cleanup releases infrastructure in reverse construction order.
func (b *ServiceBuilder) Cleanup(ctx context.Context) {
	for i := len(b.cleanups) - 1; i >= 0; i-- {
		b.cleanups[i](ctx)
	}
}

// BuildAPIWorkers registers the HTTP server exposing the admin API, the
// push ingestion endpoint, and the health probe.
func (b *ServiceBuilder) BuildAPIWorkers() error {
	b.logger.Debug("building api service workers")

	redisClient, err := b.getRedis()
	if err != nil {
		return err
	}
	deliveryMQ, err := b.getDeliveryMQ()
	if err != nil {
		return err
	}

	logStore, err := b.makeLogStore()
	if err != nil {
		return err
	}
	dlqStore, err := b.makeDLQStore()
	if err != nil {
		return err
	}
	auditStore, err := b.makeAuditStore()
	if err != nil {
		return err
	}
	schedStore, err := b.makeSchedStore()
	if err != nil {
		return err
	}

	integrations := integrationstore.New(redisClient)
	sched := scheduler.New(schedStore, deliveryMQ, b.logger)

	var pushSource *pushsource.Source
	if b.cfg.PushSourceEnabled {
		queue, err := b.getPushQueue()
		if err != nil {
			return err
		}
		pushSource = pushsource.New(queue, b.logger)
	}

	router := apirouter.NewRouter(
		apirouter.RouterConfig{
			ServiceName: "integration-gateway",
			APIKey:      b.cfg.APIKey,
			GinMode:     "release",
		},
		b.logger,
		integrations,
		logStore,
		dlqStore,
		auditStore,
		schedStore,
		sched,
		deliveryMQ,
		pushSource,
		b.supervisor.Health(),
	)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", b.cfg.Port),
		Handler: router,
	}
	b.supervisor.Register(NewHTTPServerWorker(httpServer, b.logger))

	b.logger.Info("api service workers built")
	return nil
}

// BuildIngestWorkers registers one poller per configured source.
func (b *ServiceBuilder) BuildIngestWorkers() error {
	b.logger.Debug("building ingest service workers")

	redisClient, err := b.getRedis()
	if err != nil {
		return err
	}
	deliveryMQ, err := b.getDeliveryMQ()
	if err != nil {
		return err
	}
	auditStore, err := b.makeAuditStore()
	if err != nil {
		return err
	}
	schedStore, err := b.makeSchedStore()
	if err != nil {
		return err
	}

	integrations := integrationstore.New(redisClient)
	sched := scheduler.New(schedStore, deliveryMQ, b.logger)
	idem := idempotence.New(redisClient,
		idempotence.WithTimeout(30*time.Second),
		idempotence.WithSuccessfulTTL(24*time.Hour),
	)

	ingestOpts := []ingest.Option{
		ingest.WithPollInterval(time.Duration(b.cfg.IngestPollIntervalSeconds) * time.Second),
		ingest.WithBatchSize(b.cfg.IngestBatchSize),
		ingest.WithSummaryFields(b.cfg.AuditSummaryFields),
		ingest.WithCanceller(sched),
	}

	registered := 0

	if b.cfg.PostgresURL != "" {
		pool, err := b.getPostgres()
		if err != nil {
			return err
		}

		sqlOpts := []sqlsource.Option{
			sqlsource.WithTable(b.cfg.SQLSourceTable),
		}
		if b.cfg.MaxEventAgeDays > 0 {
			sqlOpts = append(sqlOpts, sqlsource.WithMaxEventAge(time.Duration(b.cfg.MaxEventAgeDays)*24*time.Hour))
		}
		if b.cfg.BootstrapCheckpoint {
			sqlOpts = append(sqlOpts, sqlsource.WithBootstrapCheckpoint())
		}
		if b.cfg.RestrictToKnownOrgs {
			sqlOpts = append(sqlOpts, sqlsource.WithTenantAllowlist(integrations, sqlsource.DefaultAllowlistTTL))
		}
		source := sqlsource.New(pool, b.logger, sqlOpts...)

		checkpoint, err := auditStore.GetCheckpoint(b.ctx, models.SourceKindRelational, source.Name(), 0)
		if err != nil {
			return fmt.Errorf("load sql source checkpoint: %w", err)
		}
		var offset int64
		if checkpoint != nil {
			offset = checkpoint.LastProcessedID
		}
		if err := source.Init(b.ctx, offset); err != nil {
			return fmt.Errorf("init sql source: %w", err)
		}

		b.supervisor.Register(ingest.New(source, integrations, idem, auditStore, deliveryMQ, b.logger, ingestOpts...))
		registered++
	}

	if len(b.cfg.KafkaBrokers) > 0 {
		source := kafkasource.New(kafkasource.Config{
			Brokers: b.cfg.KafkaBrokers,
			Topic:   b.cfg.KafkaTopic,
			GroupID: b.cfg.KafkaGroupID,
		}, b.logger)
		b.cleanups = append(b.cleanups, func(context.Context) {
			if err := source.Close(); err != nil {
				b.logger.Error("kafka source close failed", zap.Error(err))
			}
		})

		b.supervisor.Register(ingest.New(source, integrations, idem, auditStore, deliveryMQ, b.logger, ingestOpts...))
		registered++
	}

	if b.cfg.PushSourceEnabled {
		queue, err := b.getPushQueue()
		if err != nil {
			return err
		}
		source := pushsource.New(queue, b.logger)
		b.supervisor.Register(ingest.New(source, integrations, idem, auditStore, deliveryMQ, b.logger, ingestOpts...))
		registered++
	}

	if registered == 0 {
		b.logger.Warn("no event sources configured, ingest service is idle")
	}

	b.logger.Info("ingest service workers built", zap.Int("sources", registered))
	return nil
}

// BuildDeliveryWorkers registers the delivery consumer plus the timer
// loops around it: the scheduler, the retry engine, the abandonment
// sweeper, and the retention sweeper.
func (b *ServiceBuilder) BuildDeliveryWorkers() error {
	b.logger.Debug("building delivery service workers")

	redisClient, err := b.getRedis()
	if err != nil {
		return err
	}
	deliveryMQ, err := b.getDeliveryMQ()
	if err != nil {
		return err
	}

	logStore, err := b.makeLogStore()
	if err != nil {
		return err
	}
	dlqStore, err := b.makeDLQStore()
	if err != nil {
		return err
	}
	auditStore, err := b.makeAuditStore()
	if err != nil {
		return err
	}
	schedStore, err := b.makeSchedStore()
	if err != nil {
		return err
	}

	integrations := integrationstore.New(redisClient)
	circuitBreaker := breaker.New(redisClient,
		breaker.WithThreshold(int64(b.cfg.BreakerThreshold)),
		breaker.WithRecovery(time.Duration(b.cfg.BreakerRecoverySeconds)*time.Second),
	)
	deliveryIdempotence := idempotence.New(redisClient,
		idempotence.WithTimeout(time.Duration(b.cfg.DeliveryTimeoutSeconds+5)*time.Second),
		idempotence.WithSuccessfulTTL(24*time.Hour),
	)

	sched := scheduler.New(schedStore, deliveryMQ, b.logger,
		scheduler.WithTickInterval(time.Duration(b.cfg.SchedulerTickSeconds)*time.Second),
	)

	handler := deliverymq.NewMessageHandler(
		b.logger,
		integrations,
		circuitBreaker,
		delivery.NewPublisher(),
		logStore,
		dlqStore,
		auditStore,
		sched,
		deliveryIdempotence,
	)

	b.supervisor.Register(NewConsumerWorker(
		"deliverymq",
		deliveryMQ.Subscribe,
		handler,
		b.cfg.DeliveryMaxConcurrency,
		b.logger,
	))

	b.supervisor.Register(sched)

	retryWindow := time.Duration(b.cfg.RetryWindowHours) * time.Hour
	b.supervisor.Register(retry.NewEngine(logStore, integrations, deliveryMQ, b.logger,
		retry.WithTickInterval(time.Duration(b.cfg.RetryIntervalSeconds)*time.Second),
		retry.WithRetryWindow(retryWindow),
		retry.WithBackoff(&backoff.ExponentialBackoff{
			Interval: time.Minute,
			Base:     2,
			Max:      30 * time.Minute,
		}),
	))
	b.supervisor.Register(retry.NewSweeper(logStore, dlqStore, b.logger,
		retry.WithSweepWindow(retryWindow),
	))
	b.supervisor.Register(retention.NewSweeper(logStore, auditStore, b.logger,
		retention.WithWindow(time.Duration(b.cfg.RetentionDays)*24*time.Hour),
	))

	b.logger.Info("delivery service workers built")
	return nil
}

func (b *ServiceBuilder) getRedis() (redis.Client, error) {
	if b.redisClient != nil {
		return b.redisClient, nil
	}
	client, err := redis.New(b.ctx, b.cfg.Redis.ToConfig())
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	b.redisClient = client
	b.cleanups = append(b.cleanups, func(context.Context) {
		if err := client.Close(); err != nil {
			b.logger.Error("redis close failed", zap.Error(err))
		}
	})
	return client, nil
}

func (b *ServiceBuilder) getPostgres() (*pgxpool.Pool, error) {
	if b.pgPool != nil {
		return b.pgPool, nil
	}
	pool, err := postgres.New(b.ctx, b.cfg.PostgresURL)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	b.pgPool = pool
	b.cleanups = append(b.cleanups, func(context.Context) { pool.Close() })
	return pool, nil
}

func (b *ServiceBuilder) getDeliveryMQ() (*deliverymq.DeliveryMQ, error) {
	if b.deliveryMQ != nil {
		return b.deliveryMQ, nil
	}
	mq := deliverymq.New(deliverymq.WithQueue(b.cfg.MQs.DeliveryQueueConfig()))
	cleanup, err := mq.Init(b.ctx)
	if err != nil {
		return nil, fmt.Errorf("delivery mq: %w", err)
	}
	b.deliveryMQ = mq
	b.cleanups = append(b.cleanups, func(context.Context) { cleanup() })
	return mq, nil
}

// getPushQueue shares one queue between the API handler that accepts
// push events and the ingest worker that claims them.
func (b *ServiceBuilder) getPushQueue() (pushsource.Queue, error) {
	if b.pushQueue != nil {
		return b.pushQueue, nil
	}
	if b.cfg.PostgresURL != "" {
		pool, err := b.getPostgres()
		if err != nil {
			return nil, err
		}
		b.pushQueue = pushsource.NewPGQueue(pool)
	} else {
		b.pushQueue = pushsource.NewMemQueue()
	}
	if err := b.pushQueue.Init(b.ctx); err != nil {
		return nil, fmt.Errorf("push queue: %w", err)
	}
	return b.pushQueue, nil
}

func (b *ServiceBuilder) makeLogStore() (logstore.LogStore, error) {
	if b.cfg.PostgresURL == "" {
		return logstore.NewMemLogStore(), nil
	}
	pool, err := b.getPostgres()
	if err != nil {
		return nil, err
	}
	store, err := logstore.NewLogStore(b.ctx, logstore.DriverOpts{PG: pool})
	if err != nil {
		return nil, fmt.Errorf("log store: %w", err)
	}
	return store, nil
}

func (b *ServiceBuilder) makeDLQStore() (dlq.Store, error) {
	store, err := b.pickStore(
		func(pool *pgxpool.Pool) initStore { return dlq.NewPGStore(pool) },
		func() initStore { return dlq.NewMemStore() },
	)
	if err != nil {
		return nil, fmt.Errorf("dlq store: %w", err)
	}
	return store.(dlq.Store), nil
}

func (b *ServiceBuilder) makeAuditStore() (audit.Store, error) {
	store, err := b.pickStore(
		func(pool *pgxpool.Pool) initStore { return audit.NewPGStore(pool) },
		func() initStore { return audit.NewMemStore() },
	)
	if err != nil {
		return nil, fmt.Errorf("audit store: %w", err)
	}
	return store.(audit.Store), nil
}

func (b *ServiceBuilder) makeSchedStore() (schedstore.Store, error) {
	store, err := b.pickStore(
		func(pool *pgxpool.Pool) initStore { return schedstore.NewPGStore(pool) },
		func() initStore { return schedstore.NewMemStore() },
	)
	if err != nil {
		return nil, fmt.Errorf("sched store: %w", err)
	}
	return store.(schedstore.Store), nil
}

type initStore interface {
	Init(ctx context.Context) error
}

func (b *ServiceBuilder) pickStore(pg func(*pgxpool.Pool) initStore, mem func() initStore) (initStore, error) {
	var store initStore
	if b.cfg.PostgresURL != "" {
		pool, err := b.getPostgres()
		if err != nil {
			return nil, err
		}
		store = pg(pool)
	} else {
		store = mem()
	}
	if err := store.Init(b.ctx); err != nil {
		return nil, err
	}
	return store, nil
}

package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"fraudScoringApp/config"
	"fraudScoringApp/internal/domain/repository"
	"fraudScoringApp/internal/domain/service"
	"fraudScoringApp/internal/handlers/http"
	ws "fraudScoringApp/internal/handlers/websocket"
	"fraudScoringApp/internal/health"
	redisrepo "fraudScoringApp/internal/infrastructure/cache"
	"fraudScoringApp/internal/infrastructure/classifier"
	"fraudScoringApp/internal/infrastructure/queue"
	"fraudScoringApp/internal/infrastructure/storage"
	"fraudScoringApp/internal/lib/logger/sl"
	"fraudScoringApp/internal/metrics"
	"fraudScoringApp/pkg/utils"
)

// Role selects which halves of the pipeline a process runs.
type Role string

const (
	RoleServe  Role = "serve"
	RoleWorker Role = "worker"
	RoleAll    Role = "all"
)

func (r Role) serves() bool { return r == RoleServe || r == RoleAll }
func (r Role) scores() bool { return r == RoleWorker || r == RoleAll }

// AppContext holds all app dependencies
type AppContext struct {
	Config *config.Config
	Role   Role
	Log    *slog.Logger
	Health *health.Registry

	Queue     *queue.RedisQueue
	Redis     *redis.Client
	Decisions *redisrepo.RedisRepository

	HistoryDB  *sql.DB
	MetadataDB *sql.DB
	History    repository.HistoryStore
	Metadata   *storage.PostgresMetadataStore // nil with the memory backend
	ClickHouse *storage.ClickHouseRepository  // nil when not configured

	Thresholds *service.CachingThresholdProvider
	Gateway    *service.IngestionGateway
	Stats      *service.FraudStatisticsService

	Publisher   repository.DecisionPublisher
	Consumer    queue.DecisionConsumer
	Broadcaster *ws.WebSocketBroadcaster
	Worker      *ScoringWorker
	Processor   *DecisionProcessor
	HTTPServer  *http.Server

	closers []func() error
}

// NewApp initializes the app context with all dependencies for role.
// Migrations run here, before any store accepts traffic.
func NewApp(ctx context.Context, log *slog.Logger, cfg *config.Config, role Role) (*AppContext, error) {
	a := &AppContext{
		Config: cfg,
		Role:   role,
		Log:    log,
		Health: health.NewRegistry(2 * time.Second),
	}
	if err := a.setup(ctx); err != nil {
		a.Cleanup()
		return nil, err
	}
	return a, nil
}

func (a *AppContext) setup(ctx context.Context) error {
	if err := a.setupRedis(); err != nil {
		return err
	}
	if err := a.setupStorage(ctx); err != nil {
		return err
	}
	if err := a.setupThresholds(); err != nil {
		return err
	}
	a.setupDecisionBus()

	if a.Role.scores() {
		if err := a.setupWorker(); err != nil {
			return err
		}
	}
	if a.Role.serves() {
		a.setupServing(ctx)
	}
	return nil
}

func (a *AppContext) setupRedis() error {
	cfg := a.Config
	opts := &redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	if cfg.RedisURL != "" {
		parsed, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse REDIS_URL: %w", err)
		}
		opts = parsed
	}

	a.Queue = queue.NewRedisQueue(opts, cfg.QueueName, a.Log)
	a.closers = append(a.closers, a.Queue.Close)
	a.Health.RegisterPing("queue", a.Queue.Ping)

	a.Redis = redis.NewClient(opts)
	a.closers = append(a.closers, a.Redis.Close)
	a.Decisions = redisrepo.NewRedisRepository(a.Redis, cfg.DecisionTTL)
	a.Log.Info("redis configured", slog.String("queue", a.Queue.Name()))
	return nil
}

func (a *AppContext) setupStorage(ctx context.Context) error {
	cfg := a.Config
	if !cfg.UsesPostgres() {
		a.History = storage.NewMemoryHistoryStore()
		a.Health.RegisterPing("history", a.History.Health)
		a.Log.Warn("using in-memory history store; records are lost on exit and the threshold stays at its default")
		return nil
	}

	db, err := storage.OpenPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("history database: %w", err)
	}
	a.HistoryDB = db
	a.closers = append(a.closers, db.Close)

	a.MetadataDB = db
	if cfg.MetadataDatabaseURL != "" && cfg.MetadataDatabaseURL != cfg.DatabaseURL {
		mdb, err := storage.OpenPostgres(ctx, cfg.MetadataDatabaseURL)
		if err != nil {
			return fmt.Errorf("metadata database: %w", err)
		}
		a.MetadataDB = mdb
		a.closers = append(a.closers, mdb.Close)
	}

	if cfg.MigrateOnStart {
		for _, target := range uniqueDBs(a.HistoryDB, a.MetadataDB) {
			if err := storage.Migrate(ctx, target, "up"); err != nil {
				return err
			}
		}
		a.Log.Info("migrations applied")
	}

	a.History = storage.NewPostgresHistoryStore(a.HistoryDB)
	a.Metadata = storage.NewPostgresMetadataStore(a.MetadataDB)
	a.Health.RegisterPing("history", a.History.Health)
	a.Health.RegisterPing("metadata", a.Metadata.HealthCheck)
	return nil
}

func uniqueDBs(dbs ...*sql.DB) []*sql.DB {
	var out []*sql.DB
	for _, db := range dbs {
		dup := false
		for _, seen := range out {
			dup = dup || seen == db
		}
		if !dup {
			out = append(out, db)
		}
	}
	return out
}

func (a *AppContext) setupThresholds() error {
	cfg := a.Config
	policy, err := service.ParseRefreshPolicy(cfg.ThresholdRefreshPolicy)
	if err != nil {
		return err
	}

	var source repository.MetadataSource
	if a.Metadata != nil {
		source = a.Metadata
	}
	if policy == service.RefreshOnDemand && a.Role == RoleWorker {
		// the admin route that triggers a refresh lives in serve
		a.Log.Warn("on_demand threshold in a worker-only process is loaded once at startup")
	}

	a.Thresholds, err = service.NewThresholdProvider(source, service.ThresholdProviderConfig{
		Default:      cfg.DefaultThreshold,
		Policy:       policy,
		Interval:     cfg.ThresholdRefreshInterval,
		FetchTimeout: cfg.ThresholdFetchTimeout,
	}, a.Log)
	return err
}

// setupDecisionBus picks Kafka when brokers are configured, otherwise an
// in-process channel shared by the worker and the processor.
func (a *AppContext) setupDecisionBus() {
	cfg := a.Config
	if cfg.KafkaEnabled() {
		kcfg := queue.KafkaConfig{
			Brokers:       cfg.KafkaBrokers,
			Topic:         cfg.KafkaTopic,
			ConsumerGroup: cfg.KafkaConsumerGroup,
			BatchSize:     cfg.KafkaBatchSize,
			BatchTimeout:  cfg.KafkaBatchTimeout,
		}
		if a.Role.scores() {
			p := queue.NewKafkaProducer(kcfg, a.Log)
			a.Publisher = p
			a.closers = append(a.closers, p.Close)
		}
		if a.Role.serves() {
			c := queue.NewKafkaConsumer(kcfg, a.Log)
			a.Consumer = c
			a.closers = append(a.closers, c.Close)
		}
		a.Log.Info("decision events use kafka", slog.String("topic", cfg.KafkaTopic))
		return
	}

	if a.Role != RoleAll {
		// nothing in this process would drain the bus
		a.Log.Warn("no KAFKA_BROKERS set; decision events are not published", slog.String("role", string(a.Role)))
		return
	}
	bus := queue.NewChannelBus(cfg.EventBufferSize)
	a.Publisher = bus
	a.Consumer = bus
	a.closers = append(a.closers, bus.Close)
}

func (a *AppContext) setupWorker() error {
	cfg := a.Config

	model, err := classifier.Load(cfg.ModelPath)
	if err != nil {
		return err
	}
	features, err := classifier.LoadFeatureList(cfg.FeatureListPath)
	if err != nil {
		return err
	}
	engine, err := service.NewScoringEngine(model, features, cfg.ModelVersion)
	if err != nil {
		return err
	}
	a.Log.Info("classifier loaded",
		slog.String("model", cfg.ModelPath),
		slog.Int("features", len(features)),
		slog.String("version", cfg.ModelVersion),
	)

	a.Worker = NewScoringWorker(a.Queue, a.Thresholds, engine, a.History, a.Publisher, WorkerConfig{
		Concurrency: cfg.WorkerConcurrency,
		PopTimeout:  cfg.QueuePopTimeout,
		MaxRetries:  cfg.ScoringMaxRetries,
	}, a.Log)
	return nil
}

func (a *AppContext) setupServing(ctx context.Context) {
	cfg := a.Config

	var statsPersistence repository.StatisticsPersistence
	var eventPersistence repository.EventPersistence
	if cfg.ClickhouseAddr != "" {
		ch, err := storage.NewClickHouseRepository(ctx, storage.ClickHouseConfig{
			Addr:     cfg.ClickhouseAddr,
			Username: cfg.ClickhouseUsername,
			Password: cfg.ClickhousePassword,
			Timeout:  cfg.ClickhouseTimeout,
		})
		if err != nil {
			a.Log.Warn("clickhouse unavailable, continuing with redis only", sl.Err(err))
		} else {
			a.ClickHouse = ch
			statsPersistence = ch
			eventPersistence = ch
			a.closers = append(a.closers, ch.Close)
			a.Health.RegisterPing("clickhouse", ch.Ping)
		}
	}

	a.Stats = service.NewFraudStatisticsService(a.Decisions, statsPersistence, a.Log)
	a.Broadcaster = ws.NewWebSocketBroadcaster(a.Log)
	a.Processor = NewDecisionProcessor(a.Consumer, a.Decisions, a.Stats, eventPersistence, a.Broadcaster, a.Log)

	validator := service.NewTransactionValidator()
	a.Gateway = service.NewIngestionGateway(validator, a.Queue, cfg.PushTimeout, a.Log)

	deps := http.Dependencies{
		Ingestor:    a.Gateway,
		Decisions:   a.Decisions,
		Stats:       a.Stats,
		Thresholds:  a.Thresholds,
		Queue:       a.Queue,
		QueueName:   a.Queue.Name(),
		Broadcaster: a.Broadcaster,
		Health:      a.Health,
		AdminSecret: cfg.AdminSecret,
	}
	if a.Metadata != nil {
		deps.ThresholdAdmin = a.Metadata
	}
	a.HTTPServer = http.NewServer(":"+cfg.HTTPPort, deps, a.Log)
}

// Run starts every component of the role and blocks until ctx is done.
// Shutdown order: HTTP stops accepting, in-flight gateway pushes finish,
// workers finish their current message, then clients are closed.
func (a *AppContext) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if a.Metadata != nil {
		g.Go(func() error { return ignoreCanceled(a.Thresholds.Run(gctx)) })
	}
	if a.HistoryDB != nil {
		g.Go(func() error {
			metrics.StartDBStatsCollector(gctx, a.HistoryDB, 15*time.Second)
			return nil
		})
	}

	if a.Worker != nil {
		g.Go(func() error { return a.Worker.Run(gctx) })
	}

	if a.HTTPServer != nil {
		if a.Consumer != nil {
			g.Go(func() error { return a.Processor.Run(gctx) })
		}
		g.Go(func() error { return a.Stats.Run(gctx) })
		g.Go(a.HTTPServer.Start)
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := a.HTTPServer.Shutdown(shutdownCtx); err != nil {
				a.Log.Warn("http shutdown", sl.Err(err))
			}
			if err := a.Gateway.Wait(shutdownCtx); err != nil {
				a.Log.Warn("in-flight pushes did not finish", sl.Err(err))
			}
			return nil
		})

		if a.Config.DemoMode {
			g.Go(func() error { return a.runDemo(gctx) })
		}
	}

	err := g.Wait()
	a.Cleanup()
	return ignoreCanceled(err)
}

// runDemo submits random transactions through the gateway every second.
// For demos only.
func (a *AppContext) runDemo(ctx context.Context) error {
	gen := utils.NewTransactionGenerator(rand.Uint64())
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	a.Log.Info("demo generator started")
	for {
		select {
		case <-ctx.Done():
			a.Log.Info("demo generator stopped")
			return nil
		case <-ticker.C:
			for _, raw := range gen.GenerateRandomTransactions(10) {
				if _, err := a.Gateway.Accept(ctx, raw); err != nil {
					a.Log.Warn("demo transaction rejected", sl.Err(err))
				}
			}
		}
	}
}

// Cleanup closes every client in reverse order of creation. Safe to call twice.
func (a *AppContext) Cleanup() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Log.Warn("error during cleanup", sl.Err(err))
		}
	}
	a.closers = nil
	a.Log.Info("all resources cleaned up")
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

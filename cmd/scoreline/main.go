package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "time/tzdata"

	"github.com/fortuna/scoreline/internal/api/rest"
	"github.com/fortuna/scoreline/internal/api/websocket"
	"github.com/fortuna/scoreline/internal/backfill"
	"github.com/fortuna/scoreline/internal/cache"
	"github.com/fortuna/scoreline/internal/config"
	"github.com/fortuna/scoreline/internal/events"
	"github.com/fortuna/scoreline/internal/ingest/push"
	"github.com/fortuna/scoreline/internal/latency"
	"github.com/fortuna/scoreline/internal/lock"
	"github.com/fortuna/scoreline/internal/logging"
	"github.com/fortuna/scoreline/internal/provider"
	"github.com/fortuna/scoreline/internal/publisher"
	"github.com/fortuna/scoreline/internal/reconcile"
	"github.com/fortuna/scoreline/internal/store"
	"github.com/fortuna/scoreline/internal/store/repository"
	"github.com/fortuna/scoreline/internal/supervisor"
)

const (
	serviceName    = "scoreline"
	serviceVersion = "1.0.0"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	logging.Info().Str("version", serviceVersion).Msgf("starting %s", serviceName)

	if err := run(cfg); err != nil {
		logging.Fatal().Err(err).Msg("startup failed")
	}
}

func run(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	local, remote, err := cfg.Locations()
	if err != nil {
		return err
	}

	checks := make(map[string]rest.HealthChecker)

	// Store
	var (
		st      store.Store
		jobRepo backfill.JobRepository
	)
	switch cfg.Database.Driver {
	case "postgres":
		db, err := store.NewDatabase(ctx, cfg.Database.DSN)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer db.Close()

		if err := db.RunMigrations(ctx); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}

		repo := repository.NewMatchRepository(db)
		repo.FullTimeMinute = cfg.Reconcile.FullTimeMinute
		st = repo
		jobRepo = backfill.NewRepository(db)
		checks["database"] = db.HealthCheck
		logging.Info().Msg("connected to postgres")
	default:
		mem := store.NewMemoryStore()
		mem.FullTimeMinute = cfg.Reconcile.FullTimeMinute
		st = mem
		jobRepo = backfill.NewMemoryRepository()
		logging.Warn().Msg("using in-memory match store; state is lost on restart")
	}

	// Redis: job guards, stream mirror, job results
	var (
		redisCache *cache.RedisCache
		guard      lock.Locker = lock.NewLocalLocker()
		stream     *publisher.RedisStreamPublisher
	)
	if cfg.Redis.Enabled {
		redisCache, err = connectRedis(cfg.Redis.URL, 30, 2*time.Second)
		if err != nil {
			return err
		}
		defer redisCache.Close()

		guard = lock.NewRedisLocker(redisCache.Client(), cache.KeyPrefix+"lock:")
		stream = publisher.NewRedisStreamPublisher(redisCache.Client(), cfg.Redis.Stream)
		checks["redis"] = redisCache.HealthCheck
		logging.Info().Str("stream", stream.Stream()).Msg("connected to redis")
	}

	// Reconciliation pipeline
	prov := provider.NewClient(provider.Config{
		BaseURL: cfg.Provider.BaseURL,
		User:    cfg.Provider.User,
		Secret:  cfg.Provider.Secret,
		Timeout: cfg.Provider.Timeout,
	})
	detector := events.NewDetector(cfg.Events.DedupWindow)
	monitor := latency.NewMonitor(cfg.Latency.Capacity, cfg.Latency.WarnThreshold)
	hub := websocket.NewHub(monitor)

	reconciler := reconcile.New(st, prov, detector, monitor, reconcile.Config{
		Thresholds: reconcile.Thresholds{
			FullTimeMinute:   cfg.Reconcile.FullTimeMinute,
			HighMinute:       cfg.Reconcile.HighMinute,
			StaleScoreWindow: cfg.Reconcile.StaleScoreWindow,
			HardCloseAfter:   cfg.Reconcile.HardCloseAfter,
			KickoffOverdue:   cfg.Reconcile.KickoffOverdue,
		},
		CallGap: cfg.Provider.CallGap,
	}, hub)
	if stream != nil {
		reconciler.AddSink(stream)
	}

	diary := reconcile.NewDiarySync(st, prov, local, remote)
	syncService := backfill.NewService(jobRepo, backfill.NewRunner(diary, local))

	sched := newScheduler(cfg, jobDeps{
		reconciler: reconciler,
		diary:      diary,
		detector:   detector,
		monitor:    monitor,
		cache:      redisCache,
		guard:      guard,
	})

	// Supervised services
	tree := supervisor.NewTree(supervisor.DefaultTreeConfig())
	tree.AddIngestService(sched)
	tree.AddIngestService(syncService)
	tree.AddIngestService(supervisor.NewFunc("latency-summary", func(ctx context.Context) error {
		return monitor.Run(ctx, cfg.Latency.SummaryInterval)
	}))

	var pushStats rest.PushStats
	if cfg.NATS.Enabled {
		consumer := push.NewConsumer(cfg.NATS.URL, cfg.NATS.Subject, reconciler)
		tree.AddIngestService(consumer)
		pushStats = consumer
	}

	restServer := rest.NewServer(cfg.Server.RESTPort, rest.Deps{
		Store:      st,
		Reconciler: reconciler,
		Diary:      diary,
		Backfill:   syncService,
		Monitor:    monitor,
		Hub:        hub,
		Scheduler:  sched,
		Push:       pushStats,
		Cache:      redisCache,
		Checks:     checks,
		Local:      local,
	})
	tree.AddAPIService(restServer)
	tree.AddAPIService(websocket.NewServer(hub, cfg.Server.WSPort))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		cancel()
	}()

	logging.Info().
		Str("rest_port", cfg.Server.RESTPort).
		Str("ws_port", cfg.Server.WSPort).
		Str("store", cfg.Database.Driver).
		Bool("push", cfg.NATS.Enabled).
		Msg("starting supervisor tree")

	errCh := tree.ServeBackground(ctx)
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("supervisor tree error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("service failed to stop")
	}

	logging.Info().Msgf("%s stopped", serviceName)
	return nil
}

// connectRedis retries while Redis comes up alongside the service.
func connectRedis(url string, maxRetries int, retryDelay time.Duration) (*cache.RedisCache, error) {
	var lastErr error
	for i := 0; i < maxRetries; i++ {
		rc, err := cache.NewRedisCache(url)
		if err == nil {
			return rc, nil
		}
		lastErr = err
		logging.Warn().Err(err).Int("attempt", i+1).Int("max", maxRetries).Dur("retry_in", retryDelay).Msg("redis connection failed")
		time.Sleep(retryDelay)
	}
	return nil, fmt.Errorf("connect redis after %d attempts: %w", maxRetries, lastErr)
}

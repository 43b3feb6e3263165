package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"graphdesk/api/internal/app"
	"graphdesk/api/internal/config"
	"graphdesk/api/internal/formula"
	"graphdesk/api/internal/graph"
	"graphdesk/api/internal/lock"
	"graphdesk/api/internal/logging"
	"graphdesk/api/internal/metrics"
	"graphdesk/api/internal/ontology"
	"graphdesk/api/internal/search"
	"graphdesk/api/internal/session"
	"graphdesk/api/internal/store"
	"graphdesk/api/internal/termmention"
	"graphdesk/api/internal/visibility"
	"graphdesk/api/internal/workqueue"
	"graphdesk/api/internal/workspace"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	ctx := context.Background()

	var (
		backend graph.Backend = graph.NewMemoryBackend()
		checks                = map[string]app.Pinger{}
	)
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		pool := store.DefaultPool
		pool.MaxOpen = cfg.DBMaxOpenConns
		pool.MaxIdle = cfg.DBMaxIdleConns
		db, err := store.Open(ctx, cfg.DatabaseURL, pool)
		if err != nil {
			logger.Fatal().Err(err).Msg("database connection failed")
		}
		defer db.Close()

		if _, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir, logger); err != nil {
			logger.Fatal().Err(err).Msg("migrations failed")
		}
		graphBackend := store.NewGraphBackend(db)
		backend = graphBackend
		checks["database"] = graphBackend
	} else {
		logger.Warn().Msg("DATABASE_URL not set, graph is held in memory")
	}

	var (
		queue       workqueue.Queue
		redisQueue  *workqueue.RedisQueue
		locker      lock.Locker
		revocations session.Revocations
	)
	if strings.TrimSpace(cfg.RedisURL) != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid REDIS_URL")
		}
		client := redis.NewClient(opts)
		defer client.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		logger.Info().Msg("using Redis for the work queue, workspace locks and token revocation")
		redisQueue = workqueue.NewRedisQueueWithClient(client, cfg.QueuePrefix)
		queue = redisQueue
		locker = lock.NewRedisLocker(client, cfg.QueuePrefix, cfg.LockTTL)
		revocations = session.NewRedisStoreWithClient(client, cfg.QueuePrefix)
		checks["redis"] = app.PingFunc(func(ctx context.Context) error { return client.Ping(ctx).Err() })
	} else {
		logger.Info().Msg("REDIS_URL not set, using the log queue and in-process locks")
		queue = workqueue.NewLogQueue(logger)
		locker = lock.NewLocalLocker()
		revocations = session.NewMemoryStore()
	}

	m := metrics.New()
	g := graph.New(backend, logger)
	registry := ontology.NewDefaultRegistry()
	for _, iri := range cfg.UserProperties {
		registry.AddProperty(ontology.Property{IRI: iri, UserVisible: true})
	}
	repo := workspace.NewRepository(workspace.Options{
		Graph:        g,
		Ontology:     registry,
		Translator:   visibility.DirectTranslator{},
		TermMentions: termmention.NewRepository(g, logger),
		Queue:        queue,
		Locker:       locker,
		Titles:       formula.NewPropertyTitle(registry),
		Metrics:      m,
		Logger:       logger,
	})

	service := app.New(cfg, repo, revocations, logger)
	for name, check := range checks {
		service.AddCheck(name, check)
	}

	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		if redisQueue == nil {
			logger.Warn().Msg("MEILI_URL set without REDIS_URL, search indexing disabled")
		} else {
			meili := search.NewMeili(cfg.MeiliURL, cfg.MeiliAPIKey, logger)
			defer meili.Close()
			service.SetSearch(meili)
			service.AddCheck("search", meili)
			// A graph of its own so the indexer only sees flushed state.
			indexer := search.NewIndexer(graph.New(backend, logger), meili, registry, formula.NewPropertyTitle(registry), logger)
			go func() {
				if err := indexer.Run(workerCtx, redisQueue); err != nil {
					logger.Error().Err(err).Msg("search indexer stopped")
				}
			}()
		}
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, m, logger)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.Addr).Msg("graphdesk API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	stopWorkers()
	shutdown(server, logger)
}

func shutdown(server *http.Server, logger zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
	}
}

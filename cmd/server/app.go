package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pagelift/pagelift-api/internal/api"
	"github.com/pagelift/pagelift-api/internal/config"
	"github.com/pagelift/pagelift-api/internal/domain"
	"github.com/pagelift/pagelift-api/internal/notify"
	"github.com/pagelift/pagelift-api/internal/pipeline"
	"github.com/pagelift/pagelift-api/internal/platform/blob"
	"github.com/pagelift/pagelift-api/internal/platform/logger"
	"github.com/pagelift/pagelift-api/internal/platform/postgres"
	"github.com/pagelift/pagelift-api/internal/platform/redisq"
	"github.com/pagelift/pagelift-api/internal/provider"
	"github.com/pagelift/pagelift-api/internal/quota"
	"github.com/pagelift/pagelift-api/internal/task"
)

// application holds the composed dependency graph of the server.
type application struct {
	config  *config.Config
	logger  *slog.Logger
	db      *sql.DB
	redis   *redis.Client
	hub     *notify.Hub
	sched   *task.Scheduler
	manager *task.Manager
	router  http.Handler
}

// newApplication loads configuration and wires every component together.
func newApplication(ctx context.Context) (*application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	log := logger.Setup(cfg.Server.LogLevel)
	log.Info("configuration loaded", "port", cfg.Server.Port, "log_level", cfg.Server.LogLevel)

	db, err := setupDatabase(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	if err := runMigrations(db, log); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	redisClient, err := redisq.Connect(ctx, cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	queue := redisq.NewQueue(redisClient)
	cache := redisq.NewCache(redisClient, cfg.Redis.TaskCacheTTL, cfg.Redis.ListCacheTTL)

	blobGateway, err := blob.New(cfg.Blob)
	if err != nil {
		return nil, fmt.Errorf("failed to set up blob storage: %w", err)
	}
	if !blobGateway.Configured() {
		log.Warn("blob storage not configured, task creation will be rejected")
	}

	taskStore := postgres.NewTaskStore(db)
	configStore := postgres.NewProviderConfigStore(db)
	quotaManager := quota.NewPostgresManager(db, cfg.Quota.DailyPageLimit)

	hub := notify.NewHub(log)

	limiter := provider.NewLimiter()
	registry := provider.Registry{
		Translator: provider.NewTranslateClient(nil, limiter),
		Extractor:  provider.NewExtractClient(nil),
	}
	resolver := provider.NewResolver(configStore, cfg.Provider)

	// The executor persists through the manager, and the manager dispatches
	// through the scheduler, so the runner is bound after both exist.
	var executor *pipeline.Executor
	runner := task.RunnerFunc(func(ctx context.Context, t *domain.Task) error {
		return executor.Run(ctx, t)
	})
	sched := task.NewScheduler(taskStore, queue, runner, cfg.Task.MaxConcurrent, log)
	manager := task.NewManager(taskStore, queue, cache, blobGateway, hub, sched, log)
	executor = pipeline.NewExecutor(blobGateway, registry, resolver, manager.ApplyUpdate)

	taskHandler := api.NewTaskHandler(manager, quotaManager, nil, log)
	wsHandler := api.NewWSHandler(hub, nil, log)

	app := &application{
		config:  cfg,
		logger:  log,
		db:      db,
		redis:   redisClient,
		hub:     hub,
		sched:   sched,
		manager: manager,
		router:  setupRouter(taskHandler, wsHandler),
	}

	if err := sched.ResumeStalled(ctx, cache, hub, cfg.Task.ResumeTimeout); err != nil {
		log.Warn("resume of stalled tasks incomplete", "error", err)
	}
	if cfg.Task.MonitorInterval > 0 {
		sched.SetMonitorInterval(cfg.Task.MonitorInterval)
	}
	sched.StartMonitor()

	return app, nil
}

// cleanup releases resources in reverse dependency order.
func (app *application) cleanup() {
	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := app.sched.Stop(stopCtx); err != nil {
		app.logger.Warn("scheduler stop timed out", "error", err)
	}
	app.hub.Close()
	if err := app.redis.Close(); err != nil {
		app.logger.Warn("redis close failed", "error", err)
	}
	if err := app.db.Close(); err != nil {
		app.logger.Warn("database close failed", "error", err)
	}
}

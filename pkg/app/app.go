// Package app wires configuration, storage, the task queue and the
// vendor adapters into a running service.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/billowhq/billow/pkg/engine"
	"github.com/billowhq/billow/pkg/logging"
	"github.com/billowhq/billow/pkg/metrics"
	"github.com/billowhq/billow/pkg/queue"
	"github.com/billowhq/billow/pkg/redact"
	"github.com/billowhq/billow/pkg/runner"
	"github.com/billowhq/billow/pkg/store"
	"github.com/billowhq/billow/pkg/tools"
	"github.com/billowhq/billow/pkg/tools/builtin"
	"github.com/billowhq/billow/pkg/webhook"
	"github.com/billowhq/billow/pkg/worker"
)

type App struct {
	cfg    Config
	ds     store.DataStore
	rdb    *redis.Client
	queues []*queue.Queue
	wrk    *worker.Worker
	server *http.Server
	logger *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg Config) (*App, error) {
	return NewWithRegistry(cfg, DefaultRegistry())
}

func NewWithRegistry(cfg Config, registry *ProviderRegistry) (*App, error) {
	logging.Setup(cfg.LogLevel, cfg.LogFormat)
	redact.SetEnabled(cfg.Privacy.RedactPII)
	logger := logging.NewComponentLogger(slog.Default(), "app")

	ds, err := openStore(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	messenger, err := registry.BuildMessenger(cfg.Vendors.Messaging)
	if err != nil {
		return nil, err
	}
	adapter, err := registry.BuildLLM(cfg.Vendors.LLM)
	if err != nil {
		return nil, err
	}
	transcriber, err := registry.BuildSTT(cfg.Vendors.STT)
	if err != nil {
		return nil, err
	}

	executor, err := tools.NewExecutor(tools.Catalog(), builtin.Handlers(ds))
	if err != nil {
		return nil, err
	}
	eng := engine.New(ds, adapter, executor, engine.Config{
		MaxIterations: cfg.Engine.MaxIterations,
		HistoryLimit:  cfg.Engine.MaxHistory,
		HistoryWindow: cfg.HistoryWindow(),
	})
	wrk := worker.New(ds, messenger, transcriber, eng)

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	concurrency := cfg.Workers.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	queues := make([]*queue.Queue, 0, concurrency)
	for i := 0; i < concurrency; i++ {
		queues = append(queues, queue.New(rdb, queue.Config{
			Stream:      cfg.Queue.Stream,
			Group:       cfg.Queue.Group,
			Consumer:    fmt.Sprintf("%s-%d", consumerBase(cfg.Queue.Consumer), i+1),
			MaxAttempts: cfg.Queue.MaxAttempts,
			BackoffBase: cfg.QueueBackoffBase(),
			BackoffMax:  cfg.QueueBackoffMax(),
		}))
	}

	ingestor := webhook.NewIngestor(ds, queues[0], webhook.Config{
		AccountID:          cfg.Webhook.AccountID,
		StrictAccountCheck: cfg.Webhook.StrictAccountCheck,
		AccountAddress:     cfg.Webhook.AccountAddress,
	})

	router := chi.NewRouter()
	router.Use(chimw.RequestID)
	router.Use(chimw.Recoverer)
	router.Use(metrics.HTTPMiddleware)
	webhook.NewHandler(ingestor).Mount(router)
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	router.Handle("/metrics", promhttp.Handler())

	return &App{
		cfg:    cfg,
		ds:     ds,
		rdb:    rdb,
		queues: queues,
		wrk:    wrk,
		server: &http.Server{Addr: cfg.HTTP.Addr, Handler: router},
		logger: logger,
	}, nil
}

func openStore(cfg StoreConfig) (store.DataStore, error) {
	switch cfg.Driver {
	case "memory":
		return store.NewMemoryStore(), nil
	case "postgres":
		return store.NewPostgresStore(context.Background(), cfg.DSN)
	default:
		return store.NewSQLiteStore(context.Background(), cfg.DSN)
	}
}

func consumerBase(name string) string {
	if name == "" {
		return "worker"
	}
	return name
}

// Run starts the HTTP listener and the consumer pool, then blocks
// until ctx is cancelled. Shutdown drains in-flight tasks.
func (a *App) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if err := a.queues[0].EnsureGroup(runCtx); err != nil {
		return fmt.Errorf("ensure consumer group: %w", err)
	}

	for _, q := range a.queues {
		q := q
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			q.Consume(runCtx, func(ctx context.Context, task queue.Task) error {
				return a.wrk.Process(ctx, task.RecordID)
			})
		}()
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.logger.Info("http_listen", "addr", a.cfg.HTTP.Addr)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("http_serve_error", "error", err)
			cancel()
		}
	}()

	lifecycle := runner.NewLifecycleRunner(a, runner.Hooks{
		OnStart: func() {
			a.logger.Info("app_ready", "environment", a.cfg.Environment, "workers", len(a.queues))
		},
		OnStop: func() {
			a.logger.Info("app_stopped")
		},
	}, 15*time.Second)
	return lifecycle.Run(runCtx)
}

// Drain stops accepting HTTP traffic, waits for in-flight tasks and
// releases storage connections.
func (a *App) Drain() error {
	if a.cancel != nil {
		a.cancel()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = a.server.Shutdown(shutdownCtx)
	a.wg.Wait()
	_ = a.rdb.Close()
	return a.ds.Close()
}

// Package server builds the application from configuration and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/JakeFAU/pinsave/internal/admission"
	"github.com/JakeFAU/pinsave/internal/api"
	"github.com/JakeFAU/pinsave/internal/clock/system"
	"github.com/JakeFAU/pinsave/internal/config"
	"github.com/JakeFAU/pinsave/internal/delivery"
	"github.com/JakeFAU/pinsave/internal/extractor/direct"
	"github.com/JakeFAU/pinsave/internal/extractor/ytdlp"
	pghistory "github.com/JakeFAU/pinsave/internal/history/postgres"
	"github.com/JakeFAU/pinsave/internal/id/uuid"
	"github.com/JakeFAU/pinsave/internal/logging"
	"github.com/JakeFAU/pinsave/internal/media"
	"github.com/JakeFAU/pinsave/internal/metrics"
	lognotify "github.com/JakeFAU/pinsave/internal/notify/log"
	memorynotify "github.com/JakeFAU/pinsave/internal/notify/memory"
	pubsubnotify "github.com/JakeFAU/pinsave/internal/notify/pubsub"
	"github.com/JakeFAU/pinsave/internal/policy/ratelimit"
	queueMemory "github.com/JakeFAU/pinsave/internal/queue/memory"
	"github.com/JakeFAU/pinsave/internal/router"
	"github.com/JakeFAU/pinsave/internal/scratch"
	gcsstorage "github.com/JakeFAU/pinsave/internal/storage/gcs"
	localstorage "github.com/JakeFAU/pinsave/internal/storage/local"
	memoryStorage "github.com/JakeFAU/pinsave/internal/storage/memory"
	"github.com/JakeFAU/pinsave/internal/worker"
)

// App contains the application's dependencies.
type App struct {
	cfg          config.Config
	fs           afero.Fs
	logger       *zap.Logger
	state        *State
	queue        *queueMemory.Queue
	worker       *worker.Worker
	apiServer    *api.Server
	outbox       *memorynotify.Notifier
	pubsubClient *pubsub.Client
	pubsubNotify *pubsubnotify.Notifier
	storage      *storage.Client
	history      *pghistory.JobStore
}

// Build creates the application's dependencies on the OS filesystem.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return build(ctx, cfg, afero.NewOsFs(), logger)
}

func build(ctx context.Context, cfg config.Config, fs afero.Fs, logger *zap.Logger) (*App, error) {
	metrics.Init()
	app := &App{cfg: cfg, fs: fs, logger: logger}
	logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.Int("max_mb", cfg.Limits.MaxMB),
		zap.String("storage", cfg.Storage.Backend),
		zap.String("extractor", cfg.Extractor.Backend),
		zap.String("notify", cfg.Notify.Backend),
	)

	var err error
	app.state, err = OpenState(cfg, fs, logger)
	if err != nil {
		return nil, err
	}

	work, err := scratch.New(fs, cfg.Extractor.WorkDir)
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}

	blobStore, err := setupStorage(ctx, app)
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}

	notifier, err := setupNotifier(ctx, app)
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}

	if err := setupHistory(ctx, app); err != nil {
		app.closeInfrastructure()
		return nil, err
	}

	extractor := setupExtractor(app, work)
	clock := system.New()
	promo := media.NewPromo(cfg.PromoText)

	app.queue = queueMemory.NewQueue(cfg.Limits.GlobalQueueLimit)
	controller := admission.New(admission.Limits{
		Cooldown:        cfg.Cooldown(),
		MaxQueuePerUser: cfg.Limits.MaxQueuePerUser,
		GlobalLimit:     cfg.Limits.GlobalQueueLimit,
	}, app.queue, clock)

	deliverer := delivery.NewBlobDeliverer(fs, blobStore, notifier, delivery.Config{
		Prefix: cfg.Storage.Prefix,
	}, logger)

	msgRouter := router.New(router.Deps{
		Bans:      app.state.Bans,
		Admission: controller,
		Cache:     app.state.Cache,
		Deliverer: deliverer,
		Notifier:  notifier,
		Stats:     app.state.Stats,
		IDs:       uuid.New(),
		Promo:     promo,
		Clock:     clock,
	}, logger)

	workerDeps := worker.Deps{
		Queue:     app.queue,
		Releaser:  controller,
		Extractor: extractor,
		Deliverer: deliverer,
		Notifier:  notifier,
		Cache:     app.state.Cache,
		Stats:     app.state.Stats,
		Scratch:   work,
		Promo:     promo,
		Clock:     clock,
	}
	if app.history != nil {
		workerDeps.History = app.history
	}
	app.worker = worker.New(workerDeps, worker.Config{MaxBytes: cfg.MaxBytes()}, logger)

	apiDeps := api.Deps{
		Router: msgRouter,
		Stats:  app.state.Stats,
		Bans:   app.state.Bans,
		Queue:  app.queue,
		Promo:  promo,
		Ready:  app.ready,
	}
	if app.outbox != nil {
		apiDeps.Outbox = app.outbox
	}
	app.apiServer = api.NewServer(apiDeps, cfg, logger)
	return app, nil
}

// Handler exposes the HTTP handler.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run starts the worker and the HTTP server and blocks until the context is
// canceled or a termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	workerDone := a.startWorker(ctx)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	timeout := a.cfg.ShutdownTimeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	a.queue.Close()
	select {
	case <-workerDone:
	case <-shutdownCtx.Done():
		a.logger.Warn("worker still busy at shutdown deadline")
	}

	return a.Close()
}

// startWorker runs the single consumer until ctx ends or the queue closes.
func (a *App) startWorker(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		a.logger.Info("worker started")
		a.worker.Run(ctx)
	}()
	return done
}

func (a *App) ready(_ context.Context) error {
	if _, err := a.fs.Stat(a.cfg.State.Dir); err != nil {
		return fmt.Errorf("state dir unavailable: %w", err)
	}
	if _, err := a.fs.Stat(a.cfg.Extractor.WorkDir); err != nil {
		return fmt.Errorf("work dir unavailable: %w", err)
	}
	return nil
}

// Close releases infrastructure clients and flushes the logger.
func (a *App) Close() error {
	if a.queue != nil {
		a.queue.Close()
	}
	a.closeInfrastructure()
	a.logger.Info("shutdown complete")
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	return nil
}

func (a *App) closeInfrastructure() {
	if a.pubsubNotify != nil {
		a.pubsubNotify.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.history != nil {
		a.history.Close()
	}
	if a.state != nil {
		if err := a.state.Close(); err != nil {
			a.logger.Warn("state close failed", zap.Error(err))
		}
	}
}

func setupStorage(ctx context.Context, app *App) (delivery.BlobStore, error) {
	switch app.cfg.Storage.Backend {
	case config.StorageGCS:
		app.logger.Info("using GCS storage backend", zap.String("bucket", app.cfg.Storage.Bucket))
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		app.storage = client
		blobStore, err := gcsstorage.New(client, gcsstorage.Config{Bucket: app.cfg.Storage.Bucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		return blobStore, nil
	case config.StorageLocal:
		app.logger.Info("using local storage backend", zap.String("path", app.cfg.Storage.Local.BaseDir))
		if err := app.fs.MkdirAll(app.cfg.Storage.Local.BaseDir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
		blobStore, err := localstorage.New(app.fs, localstorage.Config{BaseDir: app.cfg.Storage.Local.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		return blobStore, nil
	default:
		app.logger.Info("using in-memory storage backend")
		return memoryStorage.NewBlobStore(), nil
	}
}

func setupNotifier(ctx context.Context, app *App) (media.Notifier, error) {
	switch app.cfg.Notify.Backend {
	case config.NotifyPubSub:
		client, err := pubsub.NewClient(ctx, app.cfg.Notify.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub client init failed: %w", err)
		}
		app.pubsubClient = client
		app.pubsubNotify = pubsubnotify.New(client.Topic(app.cfg.Notify.Topic))
		app.logger.Info("Pub/Sub notifier initialized",
			zap.String("project", app.cfg.Notify.ProjectID),
			zap.String("topic", app.cfg.Notify.Topic),
		)
		return app.pubsubNotify, nil
	case config.NotifyMemory:
		app.logger.Info("recording replies in memory")
		app.outbox = memorynotify.New()
		return app.outbox, nil
	default:
		app.logger.Info("writing replies to the log")
		return lognotify.New(app.logger), nil
	}
}

func setupHistory(ctx context.Context, app *App) error {
	if app.cfg.DB.DSN == "" {
		app.logger.Info("no DSN configured, job history disabled")
		return nil
	}
	store, err := pghistory.New(ctx, pghistory.Config{
		DSN:      app.cfg.DB.DSN,
		Table:    app.cfg.DB.Table,
		MaxConns: app.cfg.DB.MaxConns,
	})
	if err != nil {
		return fmt.Errorf("history store init failed: %w", err)
	}
	app.history = store
	if err := store.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("history schema init failed: %w", err)
	}
	app.logger.Info("job history enabled", zap.String("table", app.cfg.DB.Table))
	return nil
}

func setupExtractor(app *App, work *scratch.Dir) media.Extractor {
	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   app.cfg.Extractor.RateLimit.RPS,
		DefaultBurst: app.cfg.Extractor.RateLimit.Burst,
	})
	if app.cfg.Extractor.Backend == config.ExtractorDirect {
		app.logger.Info("using direct extractor", zap.String("user_agent", app.cfg.Extractor.UserAgent))
		return direct.New(direct.Config{
			UserAgent: app.cfg.Extractor.UserAgent,
			Timeout:   app.cfg.ExtractorTimeout(),
			MaxBytes:  app.cfg.MaxBytes(),
		}, work.Fs(), limiter, app.logger)
	}
	app.logger.Info("using yt-dlp extractor", zap.String("binary", app.cfg.Extractor.Binary))
	return ytdlp.New(ytdlp.Config{
		Binary:    app.cfg.Extractor.Binary,
		Timeout:   app.cfg.ExtractorTimeout(),
		UserAgent: app.cfg.Extractor.UserAgent,
	}, nil, limiter, app.logger)
}

// Package server wires the scheduler, worker launcher, event hub and HTTP API
// into one runnable service.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-queue/internal/api"
	"github.com/JakeFAU/scrape-queue/internal/clock/system"
	"github.com/JakeFAU/scrape-queue/internal/config"
	"github.com/JakeFAU/scrape-queue/internal/dispatcher"
	"github.com/JakeFAU/scrape-queue/internal/hash/sha256"
	"github.com/JakeFAU/scrape-queue/internal/id/uuid"
	"github.com/JakeFAU/scrape-queue/internal/job"
	"github.com/JakeFAU/scrape-queue/internal/logging"
	"github.com/JakeFAU/scrape-queue/internal/metrics"
	"github.com/JakeFAU/scrape-queue/internal/policy/ratelimit"
	"github.com/JakeFAU/scrape-queue/internal/progress"
	progresssinks "github.com/JakeFAU/scrape-queue/internal/progress/sinks"
	gcppublisher "github.com/JakeFAU/scrape-queue/internal/publisher/pubsub"
	"github.com/JakeFAU/scrape-queue/internal/results"
	gcsstorage "github.com/JakeFAU/scrape-queue/internal/storage/gcs"
	localstorage "github.com/JakeFAU/scrape-queue/internal/storage/local"
	memorystorage "github.com/JakeFAU/scrape-queue/internal/storage/memory"
	"github.com/JakeFAU/scrape-queue/internal/worker"
)

// identityHashLen is the number of hex characters kept from the reference hash.
const identityHashLen = 16

// App contains the service's dependencies.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	metrics   *metrics.Metrics
	engine    *dispatcher.Engine
	hub       *progress.Hub
	apiServer *api.Server
	closers   []namedCloser
}

type namedCloser struct {
	name  string
	close func() error
}

// Option customizes Build.
type Option func(*buildOptions)

type buildOptions struct {
	logger *zap.Logger
	store  worker.ArtifactStore
}

// WithLogger skips logger construction from config.
func WithLogger(logger *zap.Logger) Option {
	return func(o *buildOptions) { o.logger = logger }
}

// WithArtifactStore overrides the configured storage backend.
func WithArtifactStore(store worker.ArtifactStore) Option {
	return func(o *buildOptions) { o.store = store }
}

// Build creates the service's dependencies. The returned App owns every
// client it opened; call Close (or Run) to release them.
func Build(ctx context.Context, cfg config.Config, opts ...Option) (*App, error) {
	var bo buildOptions
	for _, opt := range opts {
		opt(&bo)
	}
	logger := bo.logger
	if logger == nil {
		var err error
		logger, err = logging.New(cfg.Logging)
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
		zap.ReplaceGlobals(logger)
	}

	app := &App{cfg: cfg, logger: logger}
	if err := app.build(ctx, bo); err != nil {
		app.closeInfrastructure()
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context, bo buildOptions) error {
	a.logger.Info("building application dependencies",
		zap.Int("port", a.cfg.Server.Port),
		zap.String("storage_backend", a.cfg.Storage.Backend),
		zap.Int("concurrency", a.cfg.Scheduler.Concurrency),
	)

	var err error
	a.metrics, err = metrics.New()
	if err != nil {
		return fmt.Errorf("metrics init failed: %w", err)
	}

	store := bo.store
	if store == nil {
		store, err = a.setupStorage(ctx)
		if err != nil {
			return err
		}
	}

	sinks, err := a.setupSinks(ctx)
	if err != nil {
		return err
	}
	a.hub = progress.NewHub(progress.Config{
		BufferSize:     a.cfg.Progress.BufferSize,
		ObserverBuffer: a.cfg.Progress.ObserverBuffer,
		MaxBatchEvents: a.cfg.Progress.MaxBatchEvents,
		MaxBatchWait:   a.cfg.Progress.MaxBatchWait,
		SinkTimeout:    a.cfg.Progress.SinkTimeout,
		BaseContext:    context.WithoutCancel(ctx),
		Logger:         a.logger.Named("progress_hub"),
	}, sinks...)
	a.closers = append(a.closers, namedCloser{name: "progress hub", close: func() error {
		return a.hub.Close(context.Background())
	}})

	clock := system.New()
	factory, err := job.NewFactory(job.FactoryConfig{
		Origin:     a.cfg.Submission.Origin,
		PathMarker: a.cfg.Submission.PathMarker,
		Defaults: job.Segments{
			Epoch:       a.cfg.Submission.Epoch,
			Competition: a.cfg.Submission.Competition,
			Region:      a.cfg.Submission.Region,
			Phase:       a.cfg.Submission.Phase,
			Round:       a.cfg.Submission.Round,
		},
	}, sha256.NewTruncated(identityHashLen), clock)
	if err != nil {
		return fmt.Errorf("job factory init failed: %w", err)
	}

	throttle := ratelimit.New(ratelimit.Config{
		RatePerSecond: a.cfg.Launch.RatePerSecond,
		Burst:         a.cfg.Launch.Burst,
		Observe:       a.metrics.ObserveRateLimitDelay,
	})
	launcher, err := worker.NewLauncher(worker.Config{
		ScrapeCommand:  a.cfg.Worker.ScrapeCommand,
		ScrapeArgs:     a.cfg.Worker.ScrapeArgs,
		ConvertCommand: a.cfg.Worker.ConvertCommand,
		ConvertArgs:    a.cfg.Worker.ConvertArgs,
		WorkDir:        a.cfg.Worker.WorkDir,
		ScrapeTimeout:  a.cfg.Worker.ScrapeTimeout,
		ConvertTimeout: a.cfg.Worker.ConvertTimeout,
		Render:         a.cfg.Worker.Render,
		UserAgent:      a.cfg.Worker.UserAgent,
		ArtifactPrefix: a.cfg.Storage.Prefix,
		KillGrace:      a.cfg.Worker.KillGrace,
	}, store, uuid.New(),
		worker.WithThrottle(throttle),
		worker.WithEmitter(a.hub),
		worker.WithClock(clock),
		worker.WithLogger(a.logger),
	)
	if err != nil {
		return fmt.Errorf("launcher init failed: %w", err)
	}
	a.logger.Info("worker config",
		zap.String("scrape_command", a.cfg.Worker.ScrapeCommand),
		zap.String("convert_command", a.cfg.Worker.ConvertCommand),
		zap.Duration("scrape_timeout", a.cfg.Worker.ScrapeTimeout),
		zap.Duration("convert_timeout", a.cfg.Worker.ConvertTimeout),
		zap.Bool("render", a.cfg.Worker.Render),
	)

	a.engine, err = dispatcher.New(dispatcher.Config{
		Concurrency: a.cfg.Scheduler.Concurrency,
		Clock:       clock,
		Logger:      a.logger,
	}, factory, launcher, a.hub, results.NewAggregator(clock))
	if err != nil {
		return fmt.Errorf("dispatcher init failed: %w", err)
	}
	if err := a.metrics.RegisterEngine(a.engine); err != nil {
		return fmt.Errorf("register engine metrics: %w", err)
	}
	if err := a.metrics.RegisterHub(a.hub); err != nil {
		return fmt.Errorf("register hub metrics: %w", err)
	}

	a.apiServer = api.NewServer(a.engine, a.hub, a.metrics, a.cfg.Server, a.logger)
	return nil
}

func (a *App) setupStorage(ctx context.Context) (worker.ArtifactStore, error) {
	switch a.cfg.Storage.Backend {
	case config.BackendGCS:
		a.logger.Info("using GCS storage backend", zap.String("bucket", a.cfg.Storage.GCSBucket))
		store, err := gcsstorage.Open(ctx, gcsstorage.Config{
			Bucket:   a.cfg.Storage.GCSBucket,
			Endpoint: a.cfg.Storage.GCSEndpoint,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.closers = append(a.closers, namedCloser{name: "gcs client", close: store.Close})
		return store, nil
	case config.BackendLocal:
		a.logger.Info("using local storage backend", zap.String("path", a.cfg.Storage.LocalDir))
		store, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		return store, nil
	default:
		a.logger.Warn("using in-memory storage backend; artifacts are lost on exit")
		return memorystorage.NewBlobStore(), nil
	}
}

func (a *App) setupSinks(ctx context.Context) ([]progress.Sink, error) {
	sinks := []progress.Sink{progresssinks.NewLogSink(a.logger.Named("progress_log"))}

	promSink, err := progresssinks.NewPrometheusSink(a.metrics.Registry())
	if err != nil {
		return nil, fmt.Errorf("prometheus sink init failed: %w", err)
	}
	sinks = append(sinks, promSink)

	if a.cfg.PubSub.TopicName == "" {
		a.logger.Info("no Pub/Sub topic configured, completion notices disabled")
		return sinks, nil
	}
	pub, err := gcppublisher.New(ctx, a.cfg.PubSub.ProjectID, a.cfg.PubSub.TopicName)
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	// Registered before the hub closer so the publisher outlives the final flush.
	a.closers = append(a.closers, namedCloser{name: "pubsub client", close: pub.Close})
	pubSink, err := progresssinks.NewPublisherSink(pub, a.cfg.PubSub.TopicName, a.logger.Named("progress_pubsub"))
	if err != nil {
		return nil, fmt.Errorf("publisher sink init failed: %w", err)
	}
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return append(sinks, pubSink), nil
}

// Handler exposes the HTTP handler, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Engine returns the scheduler.
func (a *App) Engine() *dispatcher.Engine {
	return a.engine
}

// Submit enqueues refs through the normal submission path and optionally
// starts processing. It returns the accepted jobs.
func (a *App) Submit(ctx context.Context, refs []string, autostart bool) ([]job.Job, error) {
	accepted := a.engine.Enqueue(refs)
	a.metrics.ObserveSubmission(len(refs), len(accepted))
	a.logger.Info("batch submitted", zap.Int("submitted", len(refs)), zap.Int("accepted", len(accepted)))
	if !autostart {
		return accepted, nil
	}
	err := a.engine.Start(ctx)
	switch {
	case err == nil, errors.Is(err, dispatcher.ErrAlreadyProcessing):
		return accepted, nil
	case errors.Is(err, dispatcher.ErrEmptyQueue):
		a.logger.Info("autostart skipped, nothing accepted")
		return accepted, nil
	default:
		return accepted, fmt.Errorf("autostart: %w", err)
	}
}

// Run serves HTTP until ctx is canceled or SIGINT/SIGTERM arrives, then
// shuts everything down.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              a.cfg.Server.Addr(),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: a.cfg.Server.ReadHeaderTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
		close(serveErr)
	}()
	a.apiServer.SetReady(true)

	<-ctx.Done()
	a.logger.Info("shutdown initiated")
	a.apiServer.SetReady(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	// Stopping the engine first kills workers; closing the hub then ends the
	// push streams so Shutdown is not held open by them.
	if err := a.engine.Close(shutdownCtx); err != nil {
		a.logger.Warn("engine close failed", zap.Error(err))
	}
	if err := a.hub.Close(shutdownCtx); err != nil {
		a.logger.Warn("progress hub close failed", zap.Error(err))
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	a.closeInfrastructure()
	a.logger.Info("shutdown complete")
	_ = a.logger.Sync()

	if err, ok := <-serveErr; ok && err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Close stops the engine and releases every client without serving.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.engine != nil {
		if err := a.engine.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("engine close: %w", err))
		}
	}
	a.closeInfrastructure()
	return errors.Join(errs...)
}

// closeInfrastructure runs closers in reverse registration order.
func (a *App) closeInfrastructure() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.close(); err != nil {
			a.logger.Warn("close failed", zap.String("component", c.name), zap.Error(err))
		}
	}
	a.closers = nil
}

// Package server provides the composition root that wires configuration,
// pipeline collaborators, and the HTTP surface into a runnable App.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitepdf/internal/acquire"
	"github.com/JakeFAU/sitepdf/internal/api"
	"github.com/JakeFAU/sitepdf/internal/artifact"
	"github.com/JakeFAU/sitepdf/internal/clock/system"
	"github.com/JakeFAU/sitepdf/internal/config"
	"github.com/JakeFAU/sitepdf/internal/id/uuid"
	"github.com/JakeFAU/sitepdf/internal/logging"
	"github.com/JakeFAU/sitepdf/internal/metrics"
	"github.com/JakeFAU/sitepdf/internal/notify"
	"github.com/JakeFAU/sitepdf/internal/pipeline"
	"github.com/JakeFAU/sitepdf/internal/progress"
	progresssinks "github.com/JakeFAU/sitepdf/internal/progress/sinks"
	"github.com/JakeFAU/sitepdf/internal/realtime"
	"github.com/JakeFAU/sitepdf/internal/render"
	gcsarchive "github.com/JakeFAU/sitepdf/internal/storage/gcs"
)

// App contains the application's dependencies.
type App struct {
	cfg          config.Config
	logger       *zap.Logger
	metrics      *metrics.Metrics
	hub          *progress.Hub
	registry     *realtime.Registry
	artifacts    *artifact.Manager
	coordinator  *pipeline.Coordinator
	apiServer    *api.Server
	chrome       *render.Chromedp
	storage      *storage.Client
	pubsubClient *pubsub.Client
	topic        *notify.GCPTopic
	closeOnce    sync.Once
}

// Build creates the application's dependencies. The logger is built from cfg
// when logger is nil.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		var err error
		logger, err = logging.New(logging.Options{
			Development: cfg.Logging.Development,
			Level:       cfg.Logging.Level,
		})
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
	}
	zap.ReplaceGlobals(logger)

	app := &App{cfg: cfg, logger: logger, metrics: metrics.New()}
	app.logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.String("output_dir", cfg.Output.Dir),
		zap.String("render_backend", cfg.Render.Backend),
	)

	// Close whatever was built if a later step fails.
	ok := false
	defer func() {
		if !ok {
			app.closeInfrastructure(context.Background())
		}
	}()

	if err := setupProgress(ctx, app); err != nil {
		return nil, err
	}
	ids := uuid.New()
	app.registry = realtime.NewRegistry(ids, app.metrics, logger.Named("realtime"))

	if err := setupArtifacts(ctx, app); err != nil {
		return nil, err
	}
	renderer, err := setupRenderer(app)
	if err != nil {
		return nil, err
	}
	notifier, err := setupNotifier(ctx, app)
	if err != nil {
		return nil, err
	}

	crawler := acquire.New(acquire.Config{
		UserAgent:     cfg.Crawler.UserAgent,
		RespectRobots: cfg.Crawler.RespectRobots,
		Timeout:       cfg.CrawlTimeout(),
	}, logger.Named("acquire"))

	app.coordinator, err = pipeline.NewCoordinator(pipeline.Config{
		SinglePageDelay: cfg.SinglePageDelay(),
	}, pipeline.Deps{
		Acquirer:  crawler,
		Renderer:  renderer,
		Artifacts: app.artifacts,
		Clock:     system.New(),
		IDs:       ids,
		Recorder:  app.metrics,
		Notifier:  notifier,
		Logger:    logger.Named("pipeline"),
	})
	if err != nil {
		return nil, fmt.Errorf("coordinator init failed: %w", err)
	}

	ws := realtime.NewHandler(app.registry, realtime.HandlerConfig{
		AllowedOrigins: cfg.WebSocket.AllowedOrigins,
	}, logger.Named("websocket"))

	app.apiServer, err = api.NewServer(api.Config{
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		Defaults: api.Defaults{
			MaxDepth: cfg.Crawler.MaxDepthDefault,
			MaxPages: cfg.Crawler.MaxPagesDefault,
			Delay:    cfg.DefaultDelay(),
		},
	}, api.Deps{
		Runner:      app.coordinator,
		Artifacts:   app.artifacts,
		Connections: app.registry,
		Events:      app.hub,
		Metrics:     app.metrics,
		WebSocket:   ws,
	}, logger.Named("api"))
	if err != nil {
		return nil, fmt.Errorf("api init failed: %w", err)
	}

	ok = true
	return app, nil
}

func setupProgress(ctx context.Context, app *App) error {
	var consumers []progress.Consumer
	if app.cfg.Progress.LogEnabled {
		consumers = append(consumers, progresssinks.NewLogSink(app.logger.Named("progress_log")))
		app.logger.Debug("Added progress log sink")
	}
	promSink, err := progresssinks.NewPrometheusSink(app.metrics.Registerer())
	if err != nil {
		return fmt.Errorf("progress metrics init failed: %w", err)
	}
	consumers = append(consumers, promSink)

	hubCfg := progress.Config{
		BufferSize:  app.cfg.Progress.BufferSize,
		BaseContext: context.WithoutCancel(ctx),
		Logger:      app.logger.Named("progress_hub"),
	}
	app.hub = progress.NewHub(hubCfg, consumers...)
	app.logger.Info("progress hub initialized",
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("consumers", len(consumers)),
	)
	return nil
}

func setupArtifacts(ctx context.Context, app *App) error {
	var archiver artifact.Archiver
	if app.cfg.ArchiveEnabled() {
		var err error
		app.storage, err = storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("gcs client init failed: %w", err)
		}
		archiver, err = gcsarchive.New(app.storage, gcsarchive.Config{
			Bucket: app.cfg.Archive.GCSBucket,
			Prefix: app.cfg.Archive.Prefix,
		})
		if err != nil {
			return fmt.Errorf("gcs archiver init failed: %w", err)
		}
		app.logger.Info("GCS archival enabled",
			zap.String("bucket", app.cfg.Archive.GCSBucket),
			zap.String("prefix", app.cfg.Archive.Prefix),
		)
	}
	var err error
	app.artifacts, err = artifact.NewManager(artifact.Config{
		Dir:         app.cfg.Output.Dir,
		InlineGrace: app.cfg.InlineGrace(),
	}, archiver, app.logger.Named("artifact"))
	if err != nil {
		return fmt.Errorf("artifact manager init failed: %w", err)
	}
	app.logger.Info("output directory ready", zap.String("dir", app.artifacts.Dir()))
	return nil
}

func setupRenderer(app *App) (pipeline.Renderer, error) {
	paper, err := render.PaperByName(app.cfg.Render.Paper)
	if err != nil {
		return nil, err
	}
	switch app.cfg.Render.Backend {
	case config.BackendFPDF:
		app.logger.Info("using fpdf renderer",
			zap.String("paper", paper.Name),
			zap.String("utf8_font", app.cfg.Render.UTF8FontPath),
		)
		return render.NewFPDF(paper, app.logger.Named("render")).WithUTF8Font(app.cfg.Render.UTF8FontPath), nil
	default:
		app.chrome, err = render.NewChromedp(render.ChromedpConfig{
			Paper:       paper,
			Timeout:     app.cfg.RenderTimeout(),
			MaxParallel: app.cfg.Render.MaxParallel,
			UserAgent:   app.cfg.Crawler.UserAgent,
			ExecPath:    app.cfg.Render.ExecPath,
		}, app.logger.Named("render"))
		if err != nil {
			return nil, fmt.Errorf("chromedp renderer init failed: %w", err)
		}
		app.logger.Info("using chromedp renderer",
			zap.String("paper", paper.Name),
			zap.Int("max_parallel", app.cfg.Render.MaxParallel),
		)
		return app.chrome, nil
	}
}

func setupNotifier(ctx context.Context, app *App) (pipeline.Notifier, error) {
	if !app.cfg.NotifyEnabled() {
		app.logger.Debug("no Pub/Sub topic configured, completion notices disabled")
		return nil, nil
	}
	var err error
	app.pubsubClient, err = pubsub.NewClient(ctx, app.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.topic, err = notify.NewGCPTopic(app.pubsubClient, app.cfg.PubSub.Topic)
	if err != nil {
		return nil, fmt.Errorf("pubsub topic init failed: %w", err)
	}
	app.logger.Info("Pub/Sub notifier initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.Topic),
	)
	return notify.New(app.topic), nil
}

// Handler returns the HTTP handler for the service.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Convert runs a single job outside the HTTP surface. Events are mirrored to
// the progress hub and to sink when non-nil.
func (a *App) Convert(ctx context.Context, job pipeline.Job, sink progress.Sink) (pipeline.Result, error) {
	sinks := progress.Tee{a.hub}
	if sink != nil {
		sinks = append(sinks, sink)
	}
	res, err := a.coordinator.Run(ctx, job, sinks)
	if err != nil {
		return pipeline.Result{}, fmt.Errorf("convert %s: %w", job.URL, err)
	}
	return res, nil
}

// Cleanup deletes every stored artifact.
func (a *App) Cleanup(ctx context.Context) (int, error) {
	n, err := a.artifacts.CleanupAll(ctx)
	a.metrics.ObserveCleanup(n)
	return n, err
}

// Run starts the HTTP server and blocks until the context is canceled or a
// termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			errCh <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout())
	defer cancel()

	// Hijacked WebSocket connections are not tracked by http.Server.
	a.registry.Shutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	closeErr := a.Close(shutdownCtx)
	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	default:
		return closeErr
	}
}

// Close gracefully shuts down the application. It is safe to call more than once.
func (a *App) Close(ctx context.Context) error {
	a.closeOnce.Do(func() {
		a.registry.Shutdown()
		a.closeInfrastructure(ctx)
		a.logger.Info("shutdown complete")
		_ = a.logger.Sync()
	})
	return nil
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.artifacts != nil {
		if err := a.artifacts.Close(); err != nil {
			a.logger.Warn("artifact manager close failed", zap.Error(err))
		}
	}
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.chrome != nil {
		a.chrome.Close()
	}
	if a.topic != nil {
		a.topic.Stop()
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
}

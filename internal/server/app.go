// Package server assembles the service dependencies and runs the HTTP
// server.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/quantline/riskpipe/internal/api"
	localbackend "github.com/quantline/riskpipe/internal/backend/local"
	"github.com/quantline/riskpipe/internal/blob"
	gcsblob "github.com/quantline/riskpipe/internal/blob/gcs"
	localblob "github.com/quantline/riskpipe/internal/blob/local"
	"github.com/quantline/riskpipe/internal/config"
	"github.com/quantline/riskpipe/internal/publisher"
	memorypublisher "github.com/quantline/riskpipe/internal/publisher/memory"
	gcppublisher "github.com/quantline/riskpipe/internal/publisher/pubsub"
	"github.com/quantline/riskpipe/internal/store"
	"github.com/quantline/riskpipe/internal/telemetry"
	"github.com/quantline/riskpipe/pkg/risk"
)

// App holds the wired service dependencies.
type App struct {
	cfg             config.Config
	logger          *zap.Logger
	apiServer       *api.Server
	backend         risk.Backend
	runs            *store.RunStore
	pubsubClient    *pubsub.Client
	pubsubPublisher *pubsub.Publisher
	gcsClient       *storage.Client
	telemetryStop   telemetry.ShutdownFunc
}

// Build creates the App and all of its dependencies from config.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	zap.ReplaceGlobals(logger)

	app := &App{cfg: cfg, logger: logger}
	logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.String("backend", cfg.Backend.Kind),
		zap.Int("max_in_flight", cfg.Dispatch.MaxInFlight),
	)

	if cfg.Telemetry.Enabled {
		stop, err := telemetry.Setup(ctx, cfg.Telemetry.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("telemetry init failed: %w", err)
		}
		app.telemetryStop = stop
	}

	app.backend = localbackend.New(localbackend.Config{Latency: cfg.BatchLatency()})

	snapshots, err := setupStorage(ctx, app)
	if err != nil {
		return nil, err
	}

	if err := setupDatabase(ctx, app); err != nil {
		return nil, err
	}

	events, err := setupPublisher(ctx, app)
	if err != nil {
		return nil, err
	}

	app.apiServer = api.NewServer(
		app.backend,
		app.runs,
		snapshots,
		events,
		cfg,
		logger.Named("api"),
	)

	return app, nil
}

// Run starts the HTTP server and blocks until the context is canceled or a
// termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	return a.Close(shutdownCtx)
}

// Close gracefully releases the App's resources.
func (a *App) Close(ctx context.Context) error {
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.runs != nil {
		a.runs.Close()
	}
	if err := a.logger.Sync(); err != nil {
		a.logger.Warn("logger sync failed", zap.Error(err))
	}
	if a.telemetryStop != nil {
		if err := a.telemetryStop(ctx); err != nil {
			a.logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}
	a.logger.Info("shutdown complete")
	return nil
}

func setupStorage(ctx context.Context, app *App) (blob.Archive, error) {
	switch app.cfg.Storage.Backend {
	case "gcs":
		app.logger.Info("using GCS snapshot archive", zap.String("bucket", app.cfg.Storage.Bucket))
		var err error
		app.gcsClient, err = storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		ar, err := gcsblob.New(app.gcsClient, gcsblob.Config{
			Bucket: app.cfg.Storage.Bucket,
			Prefix: app.cfg.Storage.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs snapshot archive init failed: %w", err)
		}
		return ar, nil
	case "local":
		app.logger.Info("using local snapshot archive", zap.String("base_dir", app.cfg.Storage.BaseDir))
		ar, err := localblob.New(localblob.Config{
			BaseDir: app.cfg.Storage.BaseDir,
			Prefix:  app.cfg.Storage.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("local snapshot archive init failed: %w", err)
		}
		return ar, nil
	default:
		app.logger.Info("snapshot archive disabled")
		return nil, nil
	}
}

func setupDatabase(ctx context.Context, app *App) error {
	if app.cfg.DB.DSN == "" {
		app.logger.Warn("no database DSN configured, run records will not be persisted")
		return nil
	}
	runs, err := store.New(ctx, store.Config{
		DSN:      app.cfg.DB.DSN,
		Table:    app.cfg.DB.Table,
		MaxConns: int32(app.cfg.DB.MaxOpenConns),
	})
	if err != nil {
		return fmt.Errorf("run store init failed: %w", err)
	}
	app.runs = runs
	app.logger.Info("run store initialized", zap.String("table", app.cfg.DB.Table))
	return nil
}

func setupPublisher(ctx context.Context, app *App) (publisher.Publisher, error) {
	if app.cfg.PubSub.TopicName == "" || app.cfg.PubSub.ProjectID == "" {
		app.logger.Warn("no Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	var err error
	app.pubsubClient, err = pubsub.NewClient(ctx, app.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.pubsubPublisher = app.pubsubClient.Publisher(app.cfg.PubSub.TopicName)
	app.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.TopicName),
	)
	return gcppublisher.New(app.pubsubPublisher), nil
}

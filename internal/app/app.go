// Package app wires the adapters and services into a runnable application.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jobrunner/fieldtally/internal/adapters/csvsink"
	httpAdapter "github.com/jobrunner/fieldtally/internal/adapters/http"
	"github.com/jobrunner/fieldtally/internal/adapters/layers"
	"github.com/jobrunner/fieldtally/internal/adapters/metrics"
	"github.com/jobrunner/fieldtally/internal/adapters/storage"
	tlsAdapter "github.com/jobrunner/fieldtally/internal/adapters/tls"
	"github.com/jobrunner/fieldtally/internal/adapters/watcher"
	"github.com/jobrunner/fieldtally/internal/application"
	"github.com/jobrunner/fieldtally/internal/config"
	"github.com/jobrunner/fieldtally/internal/domain"
	"github.com/jobrunner/fieldtally/internal/ports/output"
)

// App holds all application components.
type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	Storage       output.ObjectStorage
	Opener        *layers.Opener
	Catalog       *application.LayerCatalog
	CountService  *application.CountService
	HealthService *application.HealthService
	SyncService   *application.SyncService
	HTTPServer    *httpAdapter.Server
	TLSServer     *tlsAdapter.Server
	Watcher       *watcher.Watcher
	Metrics       *metrics.Collector
	MetricsServer *metrics.Server
}

// New creates and initializes a new application. Nothing is started.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	var metricsCollector output.MetricsCollector = &output.NoOpMetrics{}
	if cfg.Metrics.Enabled {
		app.Metrics = metrics.NewCollector("fieldtally", nil)
		app.MetricsServer = metrics.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, metrics.Handler(), logger)
		metricsCollector = app.Metrics
	}

	store, err := initStorage(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("initializing storage: %w", err)
	}
	app.Storage = storage.NewInstrumented(store, metricsCollector)

	app.Opener = layers.NewOpener()

	// Local files are read in place; remote ones are downloaded to the cache.
	localPath := cfg.Storage.CachePath
	if cfg.Storage.IsLocal() {
		localPath = cfg.Storage.LocalPath
	}
	app.Catalog = application.NewLayerCatalog(app.Opener, app.Storage, metricsCollector, logger, localPath)

	app.CountService = application.NewCountService(
		app.Opener,
		application.NewEngine(application.EngineConfig{
			BatchSize:    cfg.Engine.BatchSize,
			MessageEvery: cfg.Engine.MessageEvery,
			SpatialIndex: cfg.Engine.SpatialIndex,
		}, logger),
		csvsink.New(csvsink.Config{
			RetryInterval: cfg.Sink.RetryInterval,
			CRLF:          cfg.Sink.CRLF,
		}, metricsCollector, logger),
		app.Storage,
		metricsCollector,
		logger,
		application.CountServiceConfig{
			Publish:       cfg.Output.Publish,
			PublishPrefix: cfg.Output.PublishPrefix,
		},
	)

	app.HealthService = application.NewHealthService(app.Catalog)

	var serverOpts []httpAdapter.Option
	if cfg.Sync.Enabled {
		app.SyncService = application.NewSyncService(app.Catalog, application.SyncServiceConfig{
			Interval: cfg.Sync.Interval,
			Cooldown: cfg.Sync.Cooldown,
		}, logger)
		serverOpts = append(serverOpts, httpAdapter.WithSync(app.SyncService))
	}
	if app.Metrics != nil {
		serverOpts = append(serverOpts, httpAdapter.WithMiddleware(app.Metrics.Middleware))
	}

	app.HTTPServer = httpAdapter.NewServer(
		cfg.Server,
		app.CountService,
		app.Catalog,
		app.HealthService,
		cfg.Output.Dir,
		logger,
		serverOpts...,
	)

	if cfg.TLS.Enabled {
		tlsServer, err := tlsAdapter.NewServer(
			tlsAdapter.Config{
				Enabled:  cfg.TLS.Enabled,
				Domains:  cfg.TLS.Domains,
				Email:    cfg.TLS.Email,
				CacheDir: cfg.TLS.CacheDir,
				Staging:  cfg.TLS.Staging,
				DNS: tlsAdapter.DNSConfig{
					SubscriptionID:    cfg.TLS.DNS.SubscriptionID,
					ResourceGroupName: cfg.TLS.DNS.ResourceGroupName,
					ClientID:          cfg.TLS.DNS.ClientID,
				},
			},
			app.HTTPServer.Router(),
			logger,
		)
		if err != nil {
			return nil, fmt.Errorf("initializing TLS: %w", err)
		}
		app.TLSServer = tlsServer
	}

	if cfg.Storage.IsLocal() && cfg.Watch.Enabled {
		w, err := watcher.New(
			watcher.Config{
				Paths:    []string{cfg.Storage.LocalPath},
				Debounce: cfg.Watch.Debounce,
			},
			app.handleFileEvent,
			logger,
		)
		if err != nil {
			logger.Warn("failed to initialize file watcher", "error", err)
		} else {
			app.Watcher = w
		}
	}

	return app, nil
}

// Start loads the catalog, starts background components and serves the API
// until Shutdown is called.
func (a *App) Start(ctx context.Context) error {
	if err := a.Catalog.LoadAll(ctx); err != nil {
		a.Logger.Warn("failed to load layer files", "error", err)
	}

	if a.Watcher != nil {
		if err := a.Watcher.Start(ctx); err != nil {
			a.Logger.Warn("failed to start file watcher", "error", err)
		}
	}

	if a.SyncService != nil {
		a.SyncService.Start(ctx)
	}

	if a.MetricsServer != nil {
		go func() {
			if err := a.MetricsServer.Start(); err != nil {
				a.Logger.Error("metrics server error", "error", err)
			}
		}()
	}

	if a.TLSServer != nil {
		if err := a.TLSServer.ManageCertificates(ctx); err != nil {
			return err
		}
		return a.TLSServer.ListenAndServe(a.Config.Server.Address())
	}
	if err := a.HTTPServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down all components.
func (a *App) Shutdown(ctx context.Context) error {
	a.Logger.Info("shutting down application")

	if a.Watcher != nil {
		_ = a.Watcher.Stop()
	}

	if a.SyncService != nil {
		a.SyncService.Stop()
	}

	if a.MetricsServer != nil {
		if err := a.MetricsServer.Shutdown(ctx); err != nil {
			a.Logger.Error("metrics server shutdown error", "error", err)
		}
	}

	var err error
	if a.TLSServer != nil {
		err = a.TLSServer.Shutdown(ctx)
	} else {
		err = a.HTTPServer.Shutdown(ctx)
	}
	if err != nil {
		a.Logger.Error("HTTP server shutdown error", "error", err)
	}
	return err
}

// ResolveLayers loads the catalog from storage and maps "fileId#layer"
// references to local layers.
func (a *App) ResolveLayers(ctx context.Context, refs []string) ([]domain.LayerRef, error) {
	if err := a.Catalog.LoadAll(ctx); err != nil {
		return nil, fmt.Errorf("loading layer files: %w", err)
	}

	resolved := make([]domain.LayerRef, 0, len(refs))
	for _, ref := range refs {
		local, err := a.Catalog.Resolve(ctx, domain.ParseLayerRef(ref))
		if err != nil {
			return nil, fmt.Errorf("resolving %q: %w", ref, err)
		}
		resolved = append(resolved, local)
	}
	return resolved, nil
}

// handleFileEvent keeps the catalog in step with the watched directory.
func (a *App) handleFileEvent(ctx context.Context, event watcher.Event) error {
	switch event.Operation {
	case watcher.OpCreate, watcher.OpModify:
		return a.Catalog.LoadFile(ctx, event.Path)

	case watcher.OpDelete:
		if err := a.Catalog.UnloadPath(ctx, event.Path); err != nil && !errors.Is(err, domain.ErrLayerFileNotFound) {
			return err
		}
	}
	return nil
}

// initStorage initializes the appropriate storage adapter.
func initStorage(ctx context.Context, cfg config.StorageConfig) (output.ObjectStorage, error) {
	switch output.StorageType(cfg.Type) {
	case output.StorageTypeLocal:
		return storage.NewLocalStorage(cfg.LocalPath), nil

	case output.StorageTypeS3:
		return storage.NewS3Storage(ctx, storage.S3Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Prefix:          cfg.S3.Prefix,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
		})

	case output.StorageTypeAzure:
		return storage.NewAzureStorage(storage.AzureConfig{
			Container:        cfg.Azure.Container,
			AccountName:      cfg.Azure.AccountName,
			AccountKey:       cfg.Azure.AccountKey,
			ConnectionString: cfg.Azure.ConnectionString,
			Prefix:           cfg.Azure.Prefix,
		})

	case output.StorageTypeHTTP:
		return storage.NewHTTPStorage(storage.HTTPConfig{
			BaseURL:   cfg.HTTP.BaseURL,
			IndexFile: cfg.HTTP.IndexFile,
			Timeout:   cfg.HTTP.Timeout,
			Username:  cfg.HTTP.Username,
			Password:  cfg.HTTP.Password,
		}), nil
	}
	return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
}

// Package server assembles the rank tracker's dependencies and runs them.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/serp-rank-tracker/internal/api"
	"github.com/JakeFAU/serp-rank-tracker/internal/clock/system"
	"github.com/JakeFAU/serp-rank-tracker/internal/config"
	"github.com/JakeFAU/serp-rank-tracker/internal/export"
	"github.com/JakeFAU/serp-rank-tracker/internal/hash/sha256"
	"github.com/JakeFAU/serp-rank-tracker/internal/id/uuid"
	"github.com/JakeFAU/serp-rank-tracker/internal/keyword"
	"github.com/JakeFAU/serp-rank-tracker/internal/policy/ratelimit"
	gcppublisher "github.com/JakeFAU/serp-rank-tracker/internal/publisher/pubsub"
	"github.com/JakeFAU/serp-rank-tracker/internal/scheduler"
	"github.com/JakeFAU/serp-rank-tracker/internal/serp"
	gcsstorage "github.com/JakeFAU/serp-rank-tracker/internal/storage/gcs"
	localstorage "github.com/JakeFAU/serp-rank-tracker/internal/storage/local"
	memorystorage "github.com/JakeFAU/serp-rank-tracker/internal/storage/memory"
	pgstore "github.com/JakeFAU/serp-rank-tracker/internal/storage/postgres"
	"github.com/JakeFAU/serp-rank-tracker/internal/tracker"
)

const shutdownTimeout = 10 * time.Second

// App contains the application's dependencies.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	store     tracker.RankingStore
	scheduler *scheduler.Scheduler
	apiServer *api.Server

	pgStore      *pgstore.RankingStore
	gcsClient    *storage.Client
	pubsubClient *pubsub.Client
	publisher    *gcppublisher.Publisher

	closeOnce sync.Once
	closed    bool
}

// Build creates the application's dependencies. The caller owns the logger.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{cfg: cfg, logger: logger}
	logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("store", cfg.Store.Driver),
		zap.String("archive", cfg.Archive.Driver),
		zap.Bool("publishing", cfg.PublishingEnabled()),
	)

	clock := system.New()
	idGen := uuid.New()

	if err := app.setupStore(ctx, idGen, clock); err != nil {
		app.Close()
		return nil, err
	}

	exporter, err := app.setupExporter(ctx)
	if err != nil {
		app.Close()
		return nil, err
	}

	if cfg.Serper.APIKey == "" {
		logger.Warn("no Serper API key configured; every keyword check will record an error")
	}
	provider := serp.New(serp.Config{
		APIKey:         cfg.Serper.APIKey,
		BaseURL:        cfg.Serper.BaseURL,
		Timeout:        cfg.SerperTimeout(),
		MaxPages:       cfg.Serper.MaxPages,
		MaxRetries:     cfg.Serper.MaxRetries,
		RetryBaseDelay: time.Duration(cfg.Serper.RetryBaseMs) * time.Millisecond,
	},
		serp.WithPacer(ratelimit.New(ratelimit.Config{RequestsPerSecond: cfg.Serper.RequestsPerSecond})),
		serp.WithLogger(logger.Named("serp")),
	)

	opts := []scheduler.Option{scheduler.WithLogger(logger.Named("scheduler"))}
	if exporter != nil {
		opts = append(opts, scheduler.WithExporter(exporter))
	}
	app.scheduler, err = scheduler.New(app.store, keyword.New(provider, logger.Named("keyword")), clock, opts...)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("scheduler init failed: %w", err)
	}

	app.apiServer = api.NewServer(app.store, app.scheduler, cfg, logger.Named("api"))
	return app, nil
}

func (a *App) setupStore(ctx context.Context, idGen tracker.IDGenerator, clock tracker.Clock) error {
	defaults := tracker.SchedulerSettings{IntervalMinutes: a.cfg.Scheduler.IntervalMinutes}
	switch a.cfg.Store.Driver {
	case config.StorePostgres:
		store, err := pgstore.NewRankingStore(ctx, pgstore.Config{
			DSN:             a.cfg.DB.DSN,
			ProjectsTable:   a.cfg.DB.ProjectsTable,
			SnapshotsTable:  a.cfg.DB.SnapshotsTable,
			SettingsTable:   a.cfg.DB.SettingsTable,
			MaxConns:        a.cfg.DB.MaxConns,
			MinConns:        a.cfg.DB.MinConns,
			MaxConnLifetime: time.Duration(a.cfg.DB.MaxConnLifetimeMinutes) * time.Minute,
			EnsureSchema:    a.cfg.DB.EnsureSchema,
			DefaultSettings: defaults,
		})
		if err != nil {
			return fmt.Errorf("ranking store init failed: %w", err)
		}
		a.pgStore = store
		a.store = store
		a.logger.Info("postgres ranking store initialized",
			zap.String("projects_table", a.cfg.DB.ProjectsTable),
			zap.String("snapshots_table", a.cfg.DB.SnapshotsTable),
		)
	default:
		a.store = memorystorage.NewRankingStore(defaults, idGen, clock)
		a.logger.Info("using in-memory ranking store; history is lost on restart")
	}
	return nil
}

func (a *App) setupExporter(ctx context.Context) (*export.Exporter, error) {
	if !a.cfg.ExportEnabled() {
		return nil, nil
	}

	var blobs tracker.BlobStore
	var err error
	switch a.cfg.Archive.Driver {
	case config.ArchiveGCS:
		a.gcsClient, err = storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		blobs, err = gcsstorage.New(a.gcsClient, gcsstorage.Config{Bucket: a.cfg.Archive.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.logger.Info("archiving snapshots to GCS", zap.String("bucket", a.cfg.Archive.GCSBucket))
	case config.ArchiveLocal:
		blobs, err = localstorage.New(localstorage.Config{BaseDir: a.cfg.Archive.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("archiving snapshots locally", zap.String("path", a.cfg.Archive.BaseDir))
	case config.ArchiveMemory:
		blobs = memorystorage.NewBlobStore()
		a.logger.Info("archiving snapshots in memory")
	}

	var publisher tracker.Publisher
	if a.cfg.PublishingEnabled() {
		a.pubsubClient, err = pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub client init failed: %w", err)
		}
		a.publisher, err = gcppublisher.New(a.pubsubClient)
		if err != nil {
			return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
		}
		publisher = a.publisher
		a.logger.Info("Pub/Sub publisher initialized",
			zap.String("project", a.cfg.PubSub.ProjectID),
			zap.String("topic", a.cfg.PubSub.TopicName),
		)
	}

	var hasher tracker.Hasher
	if blobs != nil {
		hasher = sha256.New(a.cfg.Archive.HashLength)
	}
	exp, err := export.New(blobs, publisher, hasher, export.Config{
		Prefix: a.cfg.Archive.Prefix,
		Topic:  a.cfg.PubSub.TopicName,
	}, a.logger.Named("export"))
	if err != nil {
		return nil, fmt.Errorf("exporter init failed: %w", err)
	}
	return exp, nil
}

// Scheduler exposes the ranking scheduler.
func (a *App) Scheduler() *scheduler.Scheduler {
	return a.scheduler
}

// Handler exposes the HTTP handler.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run starts the scheduler and HTTP server and blocks until ctx is done.
func (a *App) Run(ctx context.Context) error {
	if err := a.scheduler.Start(ctx); err != nil {
		a.Close()
		return fmt.Errorf("start scheduler: %w", err)
	}
	var startup sync.WaitGroup
	if a.cfg.Scheduler.RunOnStart {
		startup.Add(1)
		go func() {
			defer startup.Done()
			if _, err := a.scheduler.RunImmediateCheck(ctx); err != nil {
				a.logger.Warn("startup ranking check did not complete", zap.Error(err))
			}
		}()
	}

	ctx, stop := context.WithCancel(ctx)
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	a.scheduler.Stop()
	a.scheduler.Wait()
	startup.Wait()
	a.Close()
	a.logger.Info("shutdown complete")
	return nil
}

// Close releases infrastructure clients. It is safe to call on a partially
// built App and more than once.
func (a *App) Close() {
	a.closeOnce.Do(a.closeInfrastructure)
}

func (a *App) closeInfrastructure() {
	a.closed = true
	if a.publisher != nil {
		a.publisher.Close()
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
	if a.pgStore != nil {
		a.pgStore.Close()
	}
}

package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	fhirclient "github.com/SanteonNL/go-fhir-client"
	"gorm.io/gorm"

	"github.com/minvws/gfmodules-mcsd-update-client/internal/cache"
	"github.com/minvws/gfmodules-mcsd-update-client/internal/config"
	"github.com/minvws/gfmodules-mcsd-update-client/internal/directory"
	"github.com/minvws/gfmodules-mcsd-update-client/internal/fhirsink"
	"github.com/minvws/gfmodules-mcsd-update-client/internal/fhirsource"
	"github.com/minvws/gfmodules-mcsd-update-client/internal/pipeline"
	"github.com/minvws/gfmodules-mcsd-update-client/internal/provider"
	"github.com/minvws/gfmodules-mcsd-update-client/internal/resourcemap"
	"github.com/minvws/gfmodules-mcsd-update-client/internal/scheduler"
	"github.com/minvws/gfmodules-mcsd-update-client/internal/store"
	"github.com/minvws/gfmodules-mcsd-update-client/lib/httpauth"
)

// eligibilityLister is the slice of C1 RunOnce needs to snapshot the
// eligible sets, narrowed so it can be faked in tests independent of a real
// *directory.Registry/database.
type eligibilityLister interface {
	ListEligibleForUpdate(ctx context.Context, now time.Time) ([]directory.Record, error)
	ListEligibleForCleanup(ctx context.Context, now time.Time) ([]directory.Record, error)
}

// App wires every component into the running update client process and
// drives their lifecycle, the way cmd/start.go drives its
// component.Lifecycle slice.
type App struct {
	db        *gorm.DB
	registry  eligibilityLister
	maps      *resourcemap.Store
	churn     *provider.ChurnStore
	scheduler *scheduler.Scheduler
	refresher *provider.Periodic
	cache     *cache.Cache

	updater scheduler.Updater
	cleaner scheduler.Cleaner
}

// New connects the store, migrates every table, and builds the scheduler
// and (if configured) the provider-directory refresher. It does not start
// either loop; call Start.
func New(cfg config.Config) (*App, error) {
	db, err := store.Open(cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	registry := directory.New(db, cfg.Policy)
	maps := resourcemap.New(db)
	churn := provider.NewChurnStore(db)

	ctx := context.Background()
	if err := registry.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate directory registry: %w", err)
	}
	if err := maps.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate resource map store: %w", err)
	}
	if err := churn.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate provider churn store: %w", err)
	}

	sourceHTTPClient, err := newSourceHTTPClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("build remote directory HTTP client: %w", err)
	}
	clientFor := func(baseURL *url.URL) fhirclient.Client {
		return fhirclient.New(baseURL, sourceHTTPClient, &fhirclient.Config{UsePostSearch: false})
	}

	localBaseURL, err := url.Parse(cfg.LocalFHIRBaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse local FHIR base URL %q: %w", cfg.LocalFHIRBaseURL, err)
	}
	sink := fhirsink.New(fhirclient.New(localBaseURL, http.DefaultClient, &fhirclient.Config{UsePostSearch: false}))

	var cch *cache.Cache
	if cfg.Cache.IsConfigured() {
		cch, err = cache.New(cfg.Cache)
		if err != nil {
			return nil, fmt.Errorf("build external cache: %w", err)
		}
	}

	var cacheStore cache.Store
	if cch != nil {
		cacheStore = cch
	}
	updater := NewMultiDirectoryUpdater(registry, clientFor, sink, maps, registry, cfg.LocalFHIRBaseURL, nil, nil, cacheStore, cfg.StrictMode)
	cleaner := pipeline.NewCleanup(maps, sink, registry)
	sched := scheduler.New(registry, updater, cleaner, cfg.Scheduler)

	app := &App{
		db: db, registry: registry, maps: maps, churn: churn,
		scheduler: sched, cache: cch, updater: updater, cleaner: cleaner,
	}

	if cfg.Provider.URL != "" {
		providerBaseURL, err := url.Parse(cfg.Provider.URL)
		if err != nil {
			return nil, fmt.Errorf("parse provider FHIR base URL %q: %w", cfg.Provider.URL, err)
		}
		providerClient := fhirsource.New(
			fhirclient.New(providerBaseURL, sourceHTTPClient, &fhirclient.Config{UsePostSearch: false}),
			fhirsource.DefaultBackoff(),
		)
		refresher := provider.New(providerClient, registry, churn, cfg.Provider.RemoveAfter)
		app.refresher = provider.NewPeriodic(refresher, cfg.Provider.RefreshInterval)
	}

	return app, nil
}

// RunOnce runs a single synchronous update pass over every directory
// currently eligible for update, followed by a cleanup pass over every
// directory eligible for cleanup, bypassing the scheduler's timing loop
// and worker pool entirely. Used by --once for one-shot invocations (cron,
// manual backfills) where a long-running process isn't wanted.
func (a *App) RunOnce(ctx context.Context) (map[string]pipeline.Report, error) {
	now := time.Now().UTC()

	updateRecs, err := a.registry.ListEligibleForUpdate(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("list update-eligible directories: %w", err)
	}
	reports := make(map[string]pipeline.Report, len(updateRecs))
	for _, rec := range updateRecs {
		watermark := time.Time{}
		if rec.LastSuccessSync != nil {
			watermark = *rec.LastSuccessSync
		}
		report, err := a.updater.Run(ctx, rec.ID, watermark)
		if err != nil {
			slog.ErrorContext(ctx, "Update pass failed", "directory", rec.ID, "error", err)
			continue
		}
		reports[rec.ID] = report
	}

	cleanupRecs, err := a.registry.ListEligibleForCleanup(ctx, now)
	if err != nil {
		return reports, fmt.Errorf("list cleanup-eligible directories: %w", err)
	}
	for _, rec := range cleanupRecs {
		reason := pipeline.CleanupPolicyDriven
		if rec.DeletedAt != nil {
			reason = pipeline.CleanupExplicitPurge
		}
		if _, err := a.cleaner.Run(ctx, rec.ID, reason); err != nil {
			slog.ErrorContext(ctx, "Cleanup pass failed", "directory", rec.ID, "error", err)
		}
	}
	return reports, nil
}

// Start begins the scheduler's timing loop and, if configured, the
// provider-directory refresh loop.
func (a *App) Start() error {
	if err := a.scheduler.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	if a.refresher != nil {
		if err := a.refresher.Start(); err != nil {
			return fmt.Errorf("start provider refresher: %w", err)
		}
	}
	return nil
}

// Stop halts both loops and closes the database connection.
func (a *App) Stop(ctx context.Context) error {
	if a.refresher != nil {
		if err := a.refresher.Stop(ctx); err != nil {
			slog.ErrorContext(ctx, "Error stopping provider refresher", "error", err)
		}
	}
	if err := a.scheduler.Stop(ctx); err != nil {
		slog.ErrorContext(ctx, "Error stopping scheduler", "error", err)
	}
	sqlDB, err := a.db.DB()
	if err != nil {
		return fmt.Errorf("obtain underlying sql.DB: %w", err)
	}
	return sqlDB.Close()
}

func newSourceHTTPClient(cfg config.Config) (*http.Client, error) {
	if cfg.JWTAssertion.IsConfigured() {
		tokenProvider, err := httpauth.NewJWTAssertionTokenProvider(cfg.JWTAssertion, 0)
		if err != nil {
			return nil, fmt.Errorf("build JWT assertion token provider: %w", err)
		}
		return httpauth.NewHTTPClient(tokenProvider.TokenFunc()), nil
	}
	if cfg.Auth.IsConfigured() {
		return httpauth.NewOAuth2HTTPClient(cfg.Auth, nil)
	}
	return http.DefaultClient, nil
}

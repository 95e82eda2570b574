// Package scheduler implements the Scheduler (C8): a single cooperative
// timing loop over a bounded worker pool that dispatches update and cleanup
// passes for every eligible directory, holding at most one in-flight pass
// per directory at a time (spec.md §4.8/§5).
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/minvws/gfmodules-mcsd-update-client/internal/directory"
	"github.com/minvws/gfmodules-mcsd-update-client/internal/logging"
	"github.com/minvws/gfmodules-mcsd-update-client/internal/pipeline"
)

// Config tunes the scheduler's polling cadence and concurrency ceiling.
type Config struct {
	// PollInterval is how often the scheduler re-snapshots the eligible set.
	PollInterval time.Duration
	// StaleAfter is how long a directory may go without a successful sync
	// before it is considered due for another update pass.
	StaleAfter time.Duration
	// MaxConcurrentDirectories bounds how many update/cleanup passes may run
	// at once, independent of how many directories are eligible.
	MaxConcurrentDirectories int
}

// DirectoryLister is the slice of C1 the scheduler needs to snapshot the
// eligible set each tick.
type DirectoryLister interface {
	ListEligibleForUpdate(ctx context.Context, now time.Time) ([]directory.Record, error)
	ListEligibleForCleanup(ctx context.Context, now time.Time) ([]directory.Record, error)
}

// Updater runs one update pass for a directory (C6).
type Updater interface {
	Run(ctx context.Context, directoryID string, watermark time.Time) (pipeline.Report, error)
}

// Cleaner runs one cleanup pass for a directory (C7).
type Cleaner interface {
	Run(ctx context.Context, directoryID string, reason pipeline.CleanupReason) (pipeline.CleanupReport, error)
}

// Scheduler is the single cooperative timing loop.
type Scheduler struct {
	directories DirectoryLister
	updater     Updater
	cleaner     Cleaner
	cfg         Config

	cron    *gocron.Scheduler
	cancel  context.CancelFunc
	workers chan struct{}
	leases  sync.Map // directoryID -> struct{}, held while a pass is in flight
	wg      sync.WaitGroup
}

// New builds a Scheduler. It does not start the timing loop; call Start.
func New(directories DirectoryLister, updater Updater, cleaner Cleaner, cfg Config) *Scheduler {
	if cfg.MaxConcurrentDirectories <= 0 {
		cfg.MaxConcurrentDirectories = 1
	}
	return &Scheduler{
		directories: directories,
		updater:     updater,
		cleaner:     cleaner,
		cfg:         cfg,
		workers:     make(chan struct{}, cfg.MaxConcurrentDirectories),
	}
}

// Start begins the periodic timing loop. Each tick snapshots the eligible
// set from C1 and dispatches at most one in-flight pass per directory.
func (s *Scheduler) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.cron = gocron.NewScheduler(time.UTC)
	if _, err := s.cron.Every(s.cfg.PollInterval).Do(func() { s.tick(ctx) }); err != nil {
		cancel()
		return fmt.Errorf("schedule update tick: %w", err)
	}
	s.cron.StartAsync()
	return nil
}

// Stop halts the timing loop and waits for in-flight passes to finish, or
// for ctx to be done, whichever comes first.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.cron != nil {
		s.cron.Stop()
	}
	if s.cancel != nil {
		s.cancel()
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now().UTC()

	updateDue, err := s.directories.ListEligibleForUpdate(ctx, now)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to list directories eligible for update", logging.Error(err))
	}
	for _, rec := range updateDue {
		if !s.isStale(rec, now) {
			continue
		}
		s.dispatchUpdate(ctx, rec)
	}

	cleanupDue, err := s.directories.ListEligibleForCleanup(ctx, now)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to list directories eligible for cleanup", logging.Error(err))
		return
	}
	for _, rec := range cleanupDue {
		s.dispatchCleanup(ctx, rec)
	}
}

func (s *Scheduler) isStale(rec directory.Record, now time.Time) bool {
	if rec.LastSuccessSync == nil {
		return true
	}
	return now.Sub(*rec.LastSuccessSync) >= s.cfg.StaleAfter
}

// tryAcquire reports whether the caller now exclusively holds directoryID's
// lease. A directory already mid-pass is left alone until the next tick.
func (s *Scheduler) tryAcquire(directoryID string) bool {
	_, alreadyHeld := s.leases.LoadOrStore(directoryID, struct{}{})
	return !alreadyHeld
}

func (s *Scheduler) release(directoryID string) {
	s.leases.Delete(directoryID)
}

func (s *Scheduler) dispatchUpdate(ctx context.Context, rec directory.Record) {
	if !s.tryAcquire(rec.ID) {
		return
	}
	select {
	case s.workers <- struct{}{}:
	default:
		// Worker pool is saturated; release the lease and retry next tick
		// rather than blocking the timing loop.
		s.release(rec.ID)
		return
	}

	watermark := time.Time{}
	if rec.LastSuccessSync != nil {
		watermark = *rec.LastSuccessSync
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { <-s.workers }()
		defer s.release(rec.ID)

		report, err := s.updater.Run(ctx, rec.ID, watermark)
		if err != nil {
			slog.ErrorContext(ctx, "Update pass failed", logging.Directory(rec.ID), logging.Error(err))
			return
		}
		slog.InfoContext(ctx, "Update pass completed", logging.Directory(rec.ID),
			slog.Int("seen", report.Seen), slog.Int("written", report.Written),
			slog.Int("deleted", report.Deleted), slog.Int("skipped", report.Skipped))
	}()
}

func (s *Scheduler) dispatchCleanup(ctx context.Context, rec directory.Record) {
	if !s.tryAcquire(rec.ID) {
		return
	}
	select {
	case s.workers <- struct{}{}:
	default:
		s.release(rec.ID)
		return
	}

	reason := pipeline.CleanupPolicyDriven
	if rec.DeletedAt != nil {
		reason = pipeline.CleanupExplicitPurge
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { <-s.workers }()
		defer s.release(rec.ID)

		report, err := s.cleaner.Run(ctx, rec.ID, reason)
		if err != nil {
			slog.ErrorContext(ctx, "Cleanup pass failed", logging.Directory(rec.ID), logging.Error(err))
			return
		}
		slog.InfoContext(ctx, "Cleanup pass completed", logging.Directory(rec.ID),
			slog.Int("deleted", report.Deleted), slog.Int("skipped", report.Skipped))
	}()
}

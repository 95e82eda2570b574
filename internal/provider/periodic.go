package provider

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/minvws/gfmodules-mcsd-update-client/internal/logging"
)

// Periodic runs a Refresher on its own timing loop, independent of the
// scheduler's per-directory update/cleanup cadence (spec.md §4.9 treats
// provider refresh as its own cycle, not something piggybacked onto a
// directory's sync pass).
type Periodic struct {
	refresher *Refresher
	interval  time.Duration
	cron      *gocron.Scheduler
	cancel    context.CancelFunc
}

// NewPeriodic builds a Periodic refresher. An interval of zero disables the
// timing loop entirely; Start becomes a no-op.
func NewPeriodic(refresher *Refresher, interval time.Duration) *Periodic {
	return &Periodic{refresher: refresher, interval: interval}
}

// Start begins the periodic refresh loop.
func (p *Periodic) Start() error {
	if p.interval <= 0 {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	p.cron = gocron.NewScheduler(time.UTC)
	if _, err := p.cron.Every(p.interval).Do(func() {
		report, err := p.refresher.Run(ctx)
		if err != nil {
			slog.ErrorContext(ctx, "Provider directory refresh failed", logging.Error(err))
			return
		}
		slog.InfoContext(ctx, "Provider directory refresh completed",
			slog.Int("discovered", report.Discovered), slog.Int("removed", report.Removed))
	}); err != nil {
		cancel()
		return fmt.Errorf("schedule provider refresh: %w", err)
	}
	p.cron.StartAsync()
	return nil
}

// Stop halts the periodic refresh loop.
func (p *Periodic) Stop(ctx context.Context) error {
	if p.cron != nil {
		p.cron.Stop()
	}
	if p.cancel != nil {
		p.cancel()
	}
	return nil
}

package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/minvws/gfmodules-mcsd-update-client/internal/directory"
	"github.com/minvws/gfmodules-mcsd-update-client/internal/resourcemap"
)

// CleanupRegistry is the slice of C1 the cleanup pipeline needs.
type CleanupRegistry interface {
	Purge(ctx context.Context, id string) error
	ResetAfterCleanup(ctx context.Context, id string) error
}

// CleanupMapStore is the slice of C2 the cleanup pipeline needs.
type CleanupMapStore interface {
	ListForDirectory(ctx context.Context, directoryID string) ([]resourcemap.Record, error)
	Delete(ctx context.Context, rec resourcemap.Record) error
}

// CleanupSink is the slice of C4 the cleanup pipeline needs.
type CleanupSink interface {
	Delete(ctx context.Context, resourceType, localID string) error
}

// CleanupReason distinguishes an administrator-issued purge from a
// policy-driven cleanup pass, which determines whether the directory record
// itself is removed or retained with its counters reset (spec.md §4.7 step 4).
type CleanupReason int

const (
	// CleanupPolicyDriven fires when a directory has gone stale long enough
	// to be cleanup-eligible (spec.md §4.1's cleanup_after_success window).
	CleanupPolicyDriven CleanupReason = iota
	// CleanupExplicitPurge is used for a directory whose deleted_at is set
	// (through Registry.ScheduleDelete, by an administrator or the provider
	// refresher); the directory record itself is removed.
	CleanupExplicitPurge
)

// CleanupReport summarizes one cleanup pass (spec.md §4.7).
type CleanupReport struct {
	Deleted int
	Skipped int
}

// CleanupPipeline tears down every local resource and mapping this update
// client ever wrote for a directory (C7).
type CleanupPipeline struct {
	maps     CleanupMapStore
	sink     CleanupSink
	registry CleanupRegistry
}

// NewCleanup builds a CleanupPipeline.
func NewCleanup(maps CleanupMapStore, sink CleanupSink, registry CleanupRegistry) *CleanupPipeline {
	return &CleanupPipeline{maps: maps, sink: sink, registry: registry}
}

// Run enumerates every resource-map row for directoryID in deterministic
// order, deletes the corresponding local resource (idempotently: an
// already-missing resource is not an error) and the mapping row, then either
// purges or resets the directory record depending on reason.
func (p *CleanupPipeline) Run(ctx context.Context, directoryID string, reason CleanupReason) (CleanupReport, error) {
	var report CleanupReport

	recs, err := p.maps.ListForDirectory(ctx, directoryID)
	if err != nil {
		return report, fmt.Errorf("cleanup directory %s: %w", directoryID, err)
	}

	for _, rec := range recs {
		if err := p.sink.Delete(ctx, rec.ResourceType, rec.UpdateClientResourceID); err != nil {
			report.Skipped++
			continue
		}
		if err := p.maps.Delete(ctx, rec); err != nil {
			report.Skipped++
			continue
		}
		report.Deleted++
	}

	switch reason {
	case CleanupExplicitPurge:
		if err := p.registry.Purge(ctx, directoryID); err != nil {
			return report, fmt.Errorf("purge directory %s: %w", directoryID, err)
		}
	default:
		if err := p.registry.ResetAfterCleanup(ctx, directoryID); err != nil && !errors.Is(err, directory.ErrNotFound) {
			return report, fmt.Errorf("reset directory %s after cleanup: %w", directoryID, err)
		}
	}

	return report, nil
}

package directory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/minvws/gfmodules-mcsd-update-client/internal/logging"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound is returned when a directory id has no registry record.
var ErrNotFound = errors.New("directory: not found")

// Registry is the Directory Registry Store (C1). It is injected into the
// scheduler and update pipeline as a plain collaborator, per spec.md §9's
// "dependency injection at construction time" design note.
type Registry struct {
	db     *gorm.DB
	policy PolicyConfig
}

// New wraps an already-connected *gorm.DB (production Postgres or an
// in-memory/test sqlite connection) as a Registry.
func New(db *gorm.DB, policy PolicyConfig) *Registry {
	return &Registry{db: db, policy: policy}
}

// Migrate creates/updates the directory_info table schema.
func (r *Registry) Migrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&Record{})
}

// Upsert creates a directory record if it doesn't exist, or updates its
// endpoint address and origin if it does. Per spec.md §3, id is never
// reassigned and stays stable across calls.
func (r *Registry) Upsert(ctx context.Context, id, endpointAddress string, origin Origin) (Record, error) {
	now := time.Now().UTC()
	rec := Record{
		ID:              id,
		EndpointAddress: endpointAddress,
		Origin:          origin,
		CreatedAt:       now,
		ModifiedAt:      now,
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"endpoint_address", "origin", "modified_at"}),
	}).Create(&rec).Error
	if err != nil {
		return Record{}, fmt.Errorf("upsert directory %s: %w", id, err)
	}
	return r.Get(ctx, id)
}

// Get returns the directory record for id, or ErrNotFound.
func (r *Registry) Get(ctx context.Context, id string) (Record, error) {
	var rec Record
	err := r.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("get directory %s: %w", id, err)
	}
	return rec, nil
}

// ListEligibleForUpdate returns directories the scheduler may dispatch an
// update pass for, per spec.md §4.1.
func (r *Registry) ListEligibleForUpdate(ctx context.Context, now time.Time) ([]Record, error) {
	var recs []Record
	err := r.db.WithContext(ctx).
		Where("is_ignored = ?", false).
		Where("deleted_at IS NULL OR deleted_at > ?", now).
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("list eligible-for-update directories: %w", err)
	}
	return recs, nil
}

// ListEligibleForCleanup returns directories a cleanup pass should run for,
// per spec.md §4.1. Ignored directories are still eligible for cleanup.
func (r *Registry) ListEligibleForCleanup(ctx context.Context, now time.Time) ([]Record, error) {
	staleBefore := now.Add(-r.policy.CleanupAfterSuccess)
	var recs []Record
	err := r.db.WithContext(ctx).
		Where("deleted_at IS NOT NULL AND deleted_at <= ?", now).
		Or("last_success_sync IS NOT NULL AND last_success_sync <= ?", staleBefore).
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("list eligible-for-cleanup directories: %w", err)
	}
	return recs, nil
}

// MarkSuccess records a fully successful sync pass: failure counters reset,
// last_success_sync advances (never regresses), and any failure-triggered
// ignore is lifted.
func (r *Registry) MarkSuccess(ctx context.Context, id string, t time.Time) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec Record
		if err := tx.First(&rec, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if rec.LastSuccessSync != nil && rec.LastSuccessSync.After(t) {
			// Watermark monotonicity (spec.md §8): never regress last_success_sync.
			t = *rec.LastSuccessSync
		}
		return tx.Model(&Record{}).Where("id = ?", id).Updates(map[string]any{
			"failed_sync_count": 0,
			"failed_attempts":   0,
			"last_success_sync": t,
			"is_ignored":        false,
			"modified_at":       time.Now().UTC(),
		}).Error
	})
}

// MarkFailure increments both failure counters and auto-ignores the
// directory atomically with the triggering failure, per spec.md §8's
// "Ignore trigger correctness" invariant.
func (r *Registry) MarkFailure(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec Record
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&rec, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		rec.FailedSyncCount++
		rec.FailedAttempts++
		now := time.Now().UTC()
		updates := map[string]any{
			"failed_sync_count": rec.FailedSyncCount,
			"failed_attempts":   rec.FailedAttempts,
			"modified_at":       now,
		}
		if MustAutoIgnore(rec, r.policy, now) {
			updates["is_ignored"] = true
			slog.WarnContext(ctx, "Directory auto-ignored after repeated failures", logging.Directory(id), slog.Int("failed_attempts", rec.FailedAttempts))
		}
		return tx.Model(&Record{}).Where("id = ?", id).Updates(updates).Error
	})
}

// MarkIgnored explicitly sets is_ignored, independent of the automatic policy check.
func (r *Registry) MarkIgnored(ctx context.Context, id string) error {
	return r.setIgnored(ctx, id, true, false)
}

// Unignore lifts a failure- or policy-triggered ignore (administrative action, spec.md §7).
// It also resets failed_attempts so the directory doesn't immediately re-trip the threshold.
func (r *Registry) Unignore(ctx context.Context, id string) error {
	return r.setIgnored(ctx, id, false, true)
}

func (r *Registry) setIgnored(ctx context.Context, id string, ignored, resetFailures bool) error {
	updates := map[string]any{
		"is_ignored":  ignored,
		"modified_at": time.Now().UTC(),
	}
	if resetFailures {
		updates["failed_attempts"] = 0
		updates["failed_sync_count"] = 0
	}
	res := r.db.WithContext(ctx).Model(&Record{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("set ignored=%v for directory %s: %w", ignored, id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ScheduleDelete marks a directory for future cleanup at the given time (spec.md §4.1/§7).
func (r *Registry) ScheduleDelete(ctx context.Context, id string, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&Record{}).Where("id = ?", id).Updates(map[string]any{
		"deleted_at":  at,
		"modified_at": time.Now().UTC(),
	})
	if res.Error != nil {
		return fmt.Errorf("schedule delete for directory %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Purge permanently removes the directory record (admin-issued purge, spec.md §4.7).
// Callers are responsible for purging the directory's resource-map rows and local
// resources first (internal/pipeline's cleanup pass does this before calling Purge).
func (r *Registry) Purge(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Delete(&Record{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("purge directory %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ResetAfterCleanup clears last_success_sync and both failure counters on a
// directory that a policy-driven cleanup pass just purged resources for
// (spec.md §4.7 step 4: "retain it with counters reset"). Unlike Purge, the
// record itself survives, so a future update pass starts as a fresh full sync.
func (r *Registry) ResetAfterCleanup(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Model(&Record{}).Where("id = ?", id).Updates(map[string]any{
		"last_success_sync": nil,
		"failed_sync_count": 0,
		"failed_attempts":   0,
		"modified_at":       time.Now().UTC(),
	})
	if res.Error != nil {
		return fmt.Errorf("reset directory %s after cleanup: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Restore clears deleted_at on a directory that should resume receiving updates,
// without resetting its id or resource-map history (administrative action; see
// SPEC_FULL.md's Open Question decision 3 on reappearing directories).
func (r *Registry) Restore(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Model(&Record{}).Where("id = ?", id).Updates(map[string]any{
		"deleted_at":  nil,
		"modified_at": time.Now().UTC(),
	})
	if res.Error != nil {
		return fmt.Errorf("restore directory %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

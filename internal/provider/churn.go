package provider

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ChurnRecord tracks how long a provider-discovered directory has been seen
// in successive refresh cycles, per spec.md §3/§4.9's
// first_seen_at/last_seen_at/removed_at churn-tracking requirement.
type ChurnRecord struct {
	DirectoryID string     `gorm:"column:directory_id;primaryKey"`
	FirstSeenAt time.Time  `gorm:"column:first_seen_at;not null"`
	LastSeenAt  time.Time  `gorm:"column:last_seen_at;not null"`
	RemovedAt   *time.Time `gorm:"column:removed_at"`
}

// TableName pins the GORM table name, matching the directory_info naming
// convention used by internal/directory and internal/resourcemap.
func (ChurnRecord) TableName() string { return "directory_provider_directories" }

// ChurnStore persists ChurnRecord rows.
type ChurnStore struct {
	db *gorm.DB
}

// NewChurnStore wraps an already-connected *gorm.DB as a ChurnStore.
func NewChurnStore(db *gorm.DB) *ChurnStore {
	return &ChurnStore{db: db}
}

// Migrate creates/updates the directory_provider_directories table schema.
func (s *ChurnStore) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&ChurnRecord{})
}

// MarkSeen records that directoryID was present in the current refresh
// cycle, setting first_seen_at on first sight and advancing last_seen_at and
// clearing any prior removed_at on every sighting after that.
func (s *ChurnStore) MarkSeen(ctx context.Context, directoryID string, at time.Time) error {
	rec := ChurnRecord{DirectoryID: directoryID, FirstSeenAt: at, LastSeenAt: at}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "directory_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_seen_at", "removed_at"}),
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("mark provider directory %s seen: %w", directoryID, err)
	}
	// clause.AssignmentColumns sets removed_at to the zero-value column from
	// rec (nil), which is what we want here, but only after the insert path;
	// force it explicitly so an existing row's removed_at is actually cleared.
	return s.db.WithContext(ctx).Model(&ChurnRecord{}).
		Where("directory_id = ?", directoryID).
		Updates(map[string]any{"last_seen_at": at, "removed_at": nil}).Error
}

// MarkRemoved stamps removed_at for a directory no longer present in the
// provider's latest response.
func (s *ChurnStore) MarkRemoved(ctx context.Context, directoryID string, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&ChurnRecord{}).
		Where("directory_id = ? AND removed_at IS NULL", directoryID).
		Update("removed_at", at)
	if res.Error != nil {
		return fmt.Errorf("mark provider directory %s removed: %w", directoryID, res.Error)
	}
	return nil
}

// ListStale returns directories not seen since before cutoff and not already
// marked removed, i.e. candidates for MarkRemoved this cycle.
func (s *ChurnStore) ListStale(ctx context.Context, cutoff time.Time) ([]ChurnRecord, error) {
	var recs []ChurnRecord
	err := s.db.WithContext(ctx).
		Where("last_seen_at < ? AND removed_at IS NULL", cutoff).
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("list stale provider directories: %w", err)
	}
	return recs, nil
}

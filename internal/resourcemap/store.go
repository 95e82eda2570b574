package resourcemap

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound is returned when a (directory, resource type, remote id) tuple has no mapping.
var ErrNotFound = errors.New("resourcemap: not found")

// Store is the Resource-Map Store (C2).
type Store struct {
	db *gorm.DB
}

// New wraps an already-connected *gorm.DB as a Store.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates/updates the resource_map table schema.
func (s *Store) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&Record{})
}

// namespaceSegment derives a short, stable, non-reversible prefix from a
// directory id, so that update_client_resource_id values from different
// directories can never collide even if an attacker controls the remote
// resource id (spec.md §4.2: "not the raw remote id").
func namespaceSegment(directoryID string) string {
	sum := sha256.Sum256([]byte(directoryID))
	return hex.EncodeToString(sum[:])[:8]
}

// newLocalID generates a high-entropy local resource id, namespaced per directory.
func newLocalID(directoryID string) string {
	return namespaceSegment(directoryID) + "-" + uuid.New().String()
}

// Lookup returns the existing mapping for (directoryID, resourceType, directoryResourceID), or ErrNotFound.
func (s *Store) Lookup(ctx context.Context, directoryID, resourceType, directoryResourceID string) (Record, error) {
	var rec Record
	err := s.db.WithContext(ctx).First(&rec, "directory_id = ? AND resource_type = ? AND directory_resource_id = ?",
		directoryID, resourceType, directoryResourceID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("lookup resource map: %w", err)
	}
	return rec, nil
}

// Allocate idempotently reserves a local id for (directoryID, resourceType,
// directoryResourceID). A concurrent Allocate for the same key converges on
// the same surviving row, per spec.md §4.2/§5: the insert is an upsert on
// the unique key that does nothing on conflict, followed by a read of
// whichever row actually won.
func (s *Store) Allocate(ctx context.Context, directoryID, resourceType, directoryResourceID string) (Record, error) {
	if existing, err := s.Lookup(ctx, directoryID, resourceType, directoryResourceID); err == nil {
		return existing, nil
	} else if !errors.Is(err, ErrNotFound) {
		return Record{}, err
	}

	now := time.Now().UTC()
	rec := Record{
		DirectoryID:            directoryID,
		ResourceType:           resourceType,
		DirectoryResourceID:    directoryResourceID,
		UpdateClientResourceID: newLocalID(directoryID),
		CreatedAt:              now,
		ModifiedAt:             now,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "directory_id"}, {Name: "resource_type"}, {Name: "directory_resource_id"}},
		DoNothing: true,
	}).Create(&rec).Error
	if err != nil {
		return Record{}, fmt.Errorf("allocate resource map (map-conflict path): %w", err)
	}

	// Whether we won the race or lost it, the surviving row is now readable.
	return s.Lookup(ctx, directoryID, resourceType, directoryResourceID)
}

// RecordVersions updates the last-observed remote and local versions after a
// successful write. Both version counters are monotonically non-decreasing
// (spec.md §3/§5): a stale, out-of-order update never regresses them.
func (s *Store) RecordVersions(ctx context.Context, rec Record, remoteVersion, localVersion int, t time.Time) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current Record
		if err := tx.First(&current, "id = ?", rec.ID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if remoteVersion < current.DirectoryResourceVersion {
			remoteVersion = current.DirectoryResourceVersion
		}
		if localVersion < current.UpdateClientResourceVersion {
			localVersion = current.UpdateClientResourceVersion
		}
		return tx.Model(&Record{}).Where("id = ?", current.ID).Updates(map[string]any{
			"directory_resource_version":     remoteVersion,
			"update_client_resource_version": localVersion,
			"last_update":                    t,
			"modified_at":                    time.Now().UTC(),
		}).Error
	})
}

// Delete removes the mapping row. Per spec.md §3's lifecycle rule, callers
// must delete the corresponding local resource (or confirm it absent) before
// calling Delete.
func (s *Store) Delete(ctx context.Context, rec Record) error {
	if err := s.db.WithContext(ctx).Delete(&Record{}, "id = ?", rec.ID).Error; err != nil {
		return fmt.Errorf("delete resource map row %d: %w", rec.ID, err)
	}
	return nil
}

// ListForDirectory returns every mapping row for a directory, in a
// deterministic order (ascending id), as required by the cleanup pipeline's
// "enumerate in deterministic order" step (spec.md §4.7).
func (s *Store) ListForDirectory(ctx context.Context, directoryID string) ([]Record, error) {
	var recs []Record
	err := s.db.WithContext(ctx).Where("directory_id = ?", directoryID).Order("id ASC").Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("list resource map for directory %s: %w", directoryID, err)
	}
	return recs, nil
}

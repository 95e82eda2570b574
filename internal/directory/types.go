// Package directory implements the directory registry store (C1): the
// persistent record of every remote mCSD directory this update client
// knows about, its health counters, and the pure eligibility policy the
// scheduler consults before dispatching update or cleanup passes.
package directory

import "time"

// Origin distinguishes directories discovered through a provider from ones
// registered by an administrator.
type Origin string

const (
	OriginProvider Origin = "provider"
	OriginManual   Origin = "manual"
)

// Record is the persistent state of a single remote directory.
// Maps onto the directory_info table described in spec.md §6.
type Record struct {
	ID              string `gorm:"column:id;primaryKey"`
	EndpointAddress string `gorm:"column:endpoint_address;not null"`
	Origin          Origin `gorm:"column:origin;not null;default:provider"`

	FailedSyncCount int        `gorm:"column:failed_sync_count;not null;default:0"`
	FailedAttempts  int        `gorm:"column:failed_attempts;not null;default:0"`
	LastSuccessSync *time.Time `gorm:"column:last_success_sync"`
	IsIgnored       bool       `gorm:"column:is_ignored;not null;default:false"`
	DeletedAt       *time.Time `gorm:"column:deleted_at"`

	CreatedAt time.Time `gorm:"column:created_at;not null"`
	ModifiedAt time.Time `gorm:"column:modified_at;not null"`
}

// TableName pins the GORM table name so it matches spec.md §6 exactly,
// regardless of GORM's default pluralization rules.
func (Record) TableName() string { return "directory_info" }

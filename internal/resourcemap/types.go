// Package resourcemap implements the resource-map store (C2): the
// bijection between a remote directory's resource identity and this
// update client's local resource identity, guaranteeing stable,
// collision-free ids across directories (spec.md §3/§4.2).
package resourcemap

import "time"

// Record is a single (directory_id, resource_type, directory_resource_id)
// <-> update_client_resource_id mapping. Maps onto the resource_map table
// described in spec.md §6.
type Record struct {
	ID                          uint   `gorm:"column:id;primaryKey;autoIncrement"`
	DirectoryID                 string `gorm:"column:directory_id;not null;uniqueIndex:directory_resource_key"`
	ResourceType                string `gorm:"column:resource_type;not null;uniqueIndex:directory_resource_key"`
	DirectoryResourceID         string `gorm:"column:directory_resource_id;not null;uniqueIndex:directory_resource_key"`
	UpdateClientResourceID      string `gorm:"column:update_client_resource_id;not null;uniqueIndex"`
	DirectoryResourceVersion    int    `gorm:"column:directory_resource_version;not null;default:0"`
	UpdateClientResourceVersion int    `gorm:"column:update_client_resource_version;not null;default:0"`

	LastUpdate *time.Time `gorm:"column:last_update"`
	CreatedAt  time.Time  `gorm:"column:created_at;not null"`
	ModifiedAt time.Time  `gorm:"column:modified_at;not null"`
}

// TableName pins the GORM table name to match spec.md §6.
func (Record) TableName() string { return "resource_map" }

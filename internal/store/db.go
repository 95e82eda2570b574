// Package store opens the single relational database connection shared by
// the directory registry (C1) and resource-map (C2) stores, per spec.md §6's
// logical schema (directory_info, resource_map, directory_providers,
// directory_provider_directories all live in one database).
package store

import (
	"fmt"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// OpenPostgres opens a production GORM connection.
func OpenPostgres(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return db, nil
}

// OpenSQLite opens a pure-Go (no cgo) sqlite connection. Used by the default
// test suite so tests don't need a running Postgres or docker; ":memory:"
// opens a private in-memory database for the life of the process.
func OpenSQLite(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return db, nil
}

// Open dispatches to OpenPostgres or OpenSQLite based on driver ("postgres"
// or "sqlite"), the way internal/config.StoreConfig names its dialect.
func Open(driver, dsn string) (*gorm.DB, error) {
	switch driver {
	case "postgres":
		return OpenPostgres(dsn)
	case "sqlite", "":
		return OpenSQLite(dsn)
	default:
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}
}

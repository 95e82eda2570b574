package pipeline_test

import (
	"testing"

	"github.com/minvws/gfmodules-mcsd-update-client/internal/store"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := store.OpenSQLite(":memory:")
	require.NoError(t, err)
	return db
}

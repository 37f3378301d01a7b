package database

import (
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/xelth-com/yatrasync/internal/models"
)

func TestGormErrorsGoThroughLogrus(t *testing.T) {
	log, hook := test.NewNullLogger()

	db, err := gorm.Open(sqlite.Open(":memory:"), gormConfig(log, false))
	require.NoError(t, err)

	var n int64
	err = db.Table("no_such_table").Count(&n).Error
	require.Error(t, err)

	require.NotEmpty(t, hook.AllEntries())
	entry := hook.LastEntry()
	assert.Equal(t, "gorm", entry.Data["component"])
	assert.Contains(t, entry.Message, "no_such_table")
}

func TestOpenSQLite_CreatesDirectoryAndMigrates(t *testing.T) {
	log, _ := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)

	path := filepath.Join(t.TempDir(), "nested", "scanner.db")
	db, err := OpenSQLite(path, log)
	require.NoError(t, err)

	require.NoError(t, db.MigrateServer())
	assert.True(t, db.Migrator().HasIndex(&models.ScanRecord{}, "idx_scan_dedup_key"))
	require.NoError(t, db.Close())
}

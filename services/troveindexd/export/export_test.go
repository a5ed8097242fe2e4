package export

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"meridianchain/services/troveindexd/models"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, models.AutoMigrate(db))
	return db
}

func TestRedemptionHistory(t *testing.T) {
	db := openTestDB(t)
	rows := []models.Redemption{
		{ID: uuid.New(), Redeemer: "mer1alpha", Attempted: "100", Actual: "100", Fee: "1", Collateral: `{"WETH":"50"}`},
		{ID: uuid.New(), Redeemer: "mer1beta", Attempted: "200", Actual: "150", Fee: "2", Collateral: `{"WBTC":"3"}`},
	}
	for i := range rows {
		require.NoError(t, db.Create(&rows[i]).Error)
	}

	dir := t.TempDir()
	exporter := New(db, dir)
	exporter.SetClock(func() time.Time { return time.Unix(1_700_000_000, 0) })

	path, count, err := exporter.RedemptionHistory()
	require.NoError(t, err)
	require.Equal(t, 2, count)
	require.Equal(t, dir, filepath.Dir(path))
	require.Equal(t, "redemptions-20231114T221320Z.parquet", filepath.Base(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.NotZero(t, info.Size())
}

func TestRedemptionHistoryEmptyTable(t *testing.T) {
	db := openTestDB(t)
	exporter := New(db, t.TempDir())

	path, count, err := exporter.RedemptionHistory()
	require.NoError(t, err)
	require.Zero(t, count)
	_, err = os.Stat(path)
	require.NoError(t, err)
}

func TestRedemptionHistoryCreatesOutputDir(t *testing.T) {
	db := openTestDB(t)
	dir := filepath.Join(t.TempDir(), "nested", "exports")
	exporter := New(db, dir)

	path, _, err := exporter.RedemptionHistory()
	require.NoError(t, err)
	require.Equal(t, dir, filepath.Dir(path))
}

package indexer

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"meridianchain/core/types"
	"meridianchain/services/troveindexd/models"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := models.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newTestIndexer(t *testing.T) (*Indexer, *gorm.DB) {
	t.Helper()
	db := openTestDB(t)
	return New(db, "ws://unused/ws/events", slog.New(slog.NewTextHandler(io.Discard, nil))), db
}

func countRows(t *testing.T, db *gorm.DB, model interface{}) int64 {
	t.Helper()
	var count int64
	if err := db.Model(model).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return count
}

func TestApplyTroveUpdateUpserts(t *testing.T) {
	ix, db := newTestIndexer(t)
	owner := "mer1qqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqq"

	err := ix.Apply(&types.Event{Type: "trove.updated", Attributes: map[string]string{
		"owner":     owner,
		"operation": "open",
		"debt":      "2200000000000000000000",
		"symbols":   "WETH,WBTC",
		"amounts":   "10000000000000000000,100000000",
	}})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	var snapshot models.TroveSnapshot
	if err := db.Where("owner = ?", owner).First(&snapshot).Error; err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if snapshot.Status != models.StatusActive || snapshot.Debt != "2200000000000000000000" || snapshot.LastOperation != "open" {
		t.Fatalf("snapshot = %+v", snapshot)
	}
	var holdings map[string]string
	if err := json.Unmarshal([]byte(snapshot.Collateral), &holdings); err != nil {
		t.Fatalf("collateral json: %v", err)
	}
	if holdings["WETH"] != "10000000000000000000" || holdings["WBTC"] != "100000000" {
		t.Fatalf("holdings = %v", holdings)
	}

	// A later event for the same owner updates in place.
	err = ix.Apply(&types.Event{Type: "trove.updated", Attributes: map[string]string{
		"owner":     owner,
		"operation": "repay",
		"debt":      "2000000000000000000000",
		"symbols":   "WETH",
		"amounts":   "10000000000000000000",
	}})
	if err != nil {
		t.Fatalf("second apply: %v", err)
	}
	if n := countRows(t, db, &models.TroveSnapshot{}); n != 1 {
		t.Fatalf("snapshots = %d", n)
	}
	if err := db.Where("owner = ?", owner).First(&snapshot).Error; err != nil {
		t.Fatalf("reload snapshot: %v", err)
	}
	if snapshot.Debt != "2000000000000000000000" || snapshot.LastOperation != "repay" {
		t.Fatalf("snapshot after repay = %+v", snapshot)
	}

	// Every frame lands in the audit trail.
	if n := countRows(t, db, &models.EventRecord{}); n != 2 {
		t.Fatalf("event records = %d", n)
	}
}

func TestApplyCloseOperationsMarkClosed(t *testing.T) {
	for _, operation := range []string{"close", "redeemFull"} {
		ix, db := newTestIndexer(t)
		err := ix.Apply(&types.Event{Type: "trove.updated", Attributes: map[string]string{
			"owner":     "mer1owner",
			"operation": operation,
			"debt":      "0",
		}})
		if err != nil {
			t.Fatalf("%s: apply: %v", operation, err)
		}
		var snapshot models.TroveSnapshot
		if err := db.Where("owner = ?", "mer1owner").First(&snapshot).Error; err != nil {
			t.Fatalf("%s: load: %v", operation, err)
		}
		if snapshot.Status != models.StatusClosed {
			t.Fatalf("%s: status = %s", operation, snapshot.Status)
		}
	}
}

func TestApplyRedemption(t *testing.T) {
	ix, db := newTestIndexer(t)
	err := ix.Apply(&types.Event{Type: "trove.redemption", Attributes: map[string]string{
		"redeemer":  "mer1redeemer",
		"attempted": "1800000000000000000000",
		"actual":    "1800000000000000000000",
		"fee":       "225000000000000000000",
		"symbols":   "WETH",
		"amounts":   "900000000000000000",
	}})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	var redemption models.Redemption
	if err := db.First(&redemption).Error; err != nil {
		t.Fatalf("load: %v", err)
	}
	if redemption.Redeemer != "mer1redeemer" || redemption.Fee != "225000000000000000000" {
		t.Fatalf("redemption = %+v", redemption)
	}
	var holdings map[string]string
	if err := json.Unmarshal([]byte(redemption.Collateral), &holdings); err != nil {
		t.Fatalf("collateral json: %v", err)
	}
	if holdings["WETH"] != "900000000000000000" {
		t.Fatalf("holdings = %v", holdings)
	}
}

func TestApplyFeeAndBaseRate(t *testing.T) {
	ix, db := newTestIndexer(t)
	err := ix.Apply(&types.Event{Type: "trove.fee", Attributes: map[string]string{
		"owner":  "mer1owner",
		"amount": "10000000000000000000",
	}})
	if err != nil {
		t.Fatalf("fee: %v", err)
	}
	err = ix.Apply(&types.Event{Type: "baserate.updated", Attributes: map[string]string{
		"rate": "125000000000000000",
	}})
	if err != nil {
		t.Fatalf("baserate: %v", err)
	}

	var fee models.FeeCharge
	if err := db.First(&fee).Error; err != nil || fee.Amount != "10000000000000000000" {
		t.Fatalf("fee row = %+v, %v", fee, err)
	}
	var sample models.BaseRateSample
	if err := db.First(&sample).Error; err != nil || sample.Rate != "125000000000000000" {
		t.Fatalf("baserate row = %+v, %v", sample, err)
	}
}

func TestApplyUnknownTypeOnlyAudited(t *testing.T) {
	ix, db := newTestIndexer(t)
	err := ix.Apply(&types.Event{Type: "oracle.published", Attributes: map[string]string{
		"symbol": "WETH",
	}})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if n := countRows(t, db, &models.EventRecord{}); n != 1 {
		t.Fatalf("event records = %d", n)
	}
	if n := countRows(t, db, &models.TroveSnapshot{}); n != 0 {
		t.Fatalf("snapshots = %d", n)
	}
}

func TestApplyIgnoresEmptyFrames(t *testing.T) {
	ix, db := newTestIndexer(t)
	if err := ix.Apply(nil); err != nil {
		t.Fatalf("nil event: %v", err)
	}
	if err := ix.Apply(&types.Event{}); err != nil {
		t.Fatalf("empty event: %v", err)
	}
	if n := countRows(t, db, &models.EventRecord{}); n != 0 {
		t.Fatalf("event records = %d", n)
	}
}

func TestCollateralJSONMismatchedLists(t *testing.T) {
	encoded := collateralJSON(map[string]string{
		"symbols": "WETH,WBTC",
		"amounts": "1",
	})
	if encoded != "{}" {
		t.Fatalf("mismatched lists = %s", encoded)
	}
	encoded = collateralJSON(map[string]string{})
	if encoded != "{}" {
		t.Fatalf("empty attributes = %s", encoded)
	}
}

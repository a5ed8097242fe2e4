package export

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
	"gorm.io/gorm"

	"meridianchain/services/troveindexd/models"
)

// Exporter materialises redemption history as parquet files for offline
// analysis.
type Exporter struct {
	db        *gorm.DB
	outputDir string
	now       func() time.Time
}

func New(db *gorm.DB, outputDir string) *Exporter {
	return &Exporter{db: db, outputDir: outputDir, now: time.Now}
}

// SetClock overrides the timestamp source, primarily for tests.
func (e *Exporter) SetClock(now func() time.Time) {
	if now != nil {
		e.now = now
	}
}

type redemptionRow struct {
	Redeemer   string `parquet:"name=redeemer, type=BYTE_ARRAY, convertedtype=UTF8"`
	Attempted  string `parquet:"name=attempted, type=BYTE_ARRAY, convertedtype=UTF8"`
	Actual     string `parquet:"name=actual, type=BYTE_ARRAY, convertedtype=UTF8"`
	Fee        string `parquet:"name=fee, type=BYTE_ARRAY, convertedtype=UTF8"`
	Collateral string `parquet:"name=collateral, type=BYTE_ARRAY, convertedtype=UTF8"`
	CreatedAt  string `parquet:"name=created_at, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// RedemptionHistory writes every stored redemption to a timestamped parquet
// file and returns its path and row count.
func (e *Exporter) RedemptionHistory() (string, int, error) {
	var redemptions []models.Redemption
	if err := e.db.Order("created_at asc").Find(&redemptions).Error; err != nil {
		return "", 0, fmt.Errorf("export: load redemptions: %w", err)
	}
	if err := os.MkdirAll(e.outputDir, 0o755); err != nil {
		return "", 0, fmt.Errorf("export: prepare output dir: %w", err)
	}
	path := filepath.Join(e.outputDir, fmt.Sprintf("redemptions-%s.parquet", e.now().UTC().Format("20060102T150405Z")))
	if err := writeParquet(path, redemptions); err != nil {
		return "", 0, err
	}
	return path, len(redemptions), nil
}

func writeParquet(path string, redemptions []models.Redemption) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("export: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(redemptionRow), 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("export: parquet schema: %w", err)
	}
	pw.RowGroupSize = 128 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, redemption := range redemptions {
		row := &redemptionRow{
			Redeemer:   redemption.Redeemer,
			Attempted:  redemption.Attempted,
			Actual:     redemption.Actual,
			Fee:        redemption.Fee,
			Collateral: redemption.Collateral,
			CreatedAt:  redemption.CreatedAt.UTC().Format(time.RFC3339),
		}
		if err := pw.Write(row); err != nil {
			pw.WriteStop()
			file.Close()
			return fmt.Errorf("export: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("export: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("export: close parquet file: %w", err)
	}
	return nil
}

package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Trove status values as stored by the indexer.
const (
	StatusActive = "active"
	StatusClosed = "closed"
)

// TroveSnapshot mirrors the latest observed state of a single trove. Debt and
// collateral amounts are decimal strings at 1e18 scale; collateral is a JSON
// object keyed by symbol.
type TroveSnapshot struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	Owner         string    `gorm:"uniqueIndex;size:90"`
	Debt          string    `gorm:"size:80"`
	Collateral    string    `gorm:"type:text"`
	Status        string    `gorm:"size:16;index"`
	LastOperation string    `gorm:"size:32"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Redemption records one successful redemption call.
type Redemption struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Redeemer   string    `gorm:"index;size:90"`
	Attempted  string    `gorm:"size:80"`
	Actual     string    `gorm:"size:80"`
	Fee        string    `gorm:"size:80"`
	Collateral string    `gorm:"type:text"`
	CreatedAt  time.Time
}

// FeeCharge records an origination or redemption fee charged to an owner.
type FeeCharge struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Owner     string    `gorm:"index;size:90"`
	Amount    string    `gorm:"size:80"`
	CreatedAt time.Time
}

// BaseRateSample records a movement of the global redemption base rate.
type BaseRateSample struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Rate      string    `gorm:"size:80"`
	CreatedAt time.Time
}

// EventRecord is the raw audit trail: every event frame received from the
// node, with its attributes re-encoded as JSON.
type EventRecord struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Type       string    `gorm:"size:64;index"`
	Attributes string    `gorm:"type:text"`
	CreatedAt  time.Time
}

// AutoMigrate creates or updates every indexer table.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&TroveSnapshot{},
		&Redemption{},
		&FeeCharge{},
		&BaseRateSample{},
		&EventRecord{},
	)
}

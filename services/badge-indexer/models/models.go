package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Badge mirrors a badge record as of the latest observed status update. One
// row exists per badge id; the row tracks the most recent window and rate.
type Badge struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	BadgeID      string    `gorm:"uniqueIndex;size:66"`
	Holder       string    `gorm:"index;size:42"`
	Account      string    `gorm:"index;size:66"`
	Asset        string    `gorm:"index;size:42"`
	Rate         string    `gorm:"size:80"`
	WindowStart  int64
	WindowEnd    int64
	Kind         string `gorm:"size:16"`
	LastSequence uint64 `gorm:"index"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// StatusChange is the append-only history of status transitions observed on
// the feed. Sequence is unique per node feed, making replays idempotent.
type StatusChange struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	Sequence    uint64    `gorm:"uniqueIndex"`
	BadgeID     string    `gorm:"index;size:66"`
	Holder      string    `gorm:"size:42"`
	Account     string    `gorm:"size:66"`
	Asset       string    `gorm:"size:42"`
	Rate        string    `gorm:"size:80"`
	WindowStart int64
	WindowEnd   int64
	Kind        string `gorm:"size:16;index"`
	ObservedAt  time.Time
	CreatedAt   time.Time
}

// Mint records the creation of a badge. Each badge mints exactly once.
type Mint struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Sequence   uint64    `gorm:"uniqueIndex"`
	BadgeID    string    `gorm:"uniqueIndex;size:66"`
	Owner      string    `gorm:"size:42"`
	ObservedAt time.Time
	CreatedAt  time.Time
}

// AutoMigrate performs all schema migrations for the indexer.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Badge{},
		&StatusChange{},
		&Mint{},
	)
}

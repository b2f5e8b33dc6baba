package indexer

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// InvoiceRow is the read-model projection of one invoice.
type InvoiceRow struct {
	InvoiceID       uint64 `gorm:"primaryKey;autoIncrement:false"`
	MetadataURI     string
	Amount          string `gorm:"size:80;not null"`
	Issuer          string `gorm:"size:42;index"`
	Owner           string `gorm:"size:42;index"`
	Debtor          string `gorm:"size:42;index"`
	Spender         string `gorm:"size:42"`
	DueDate         int64  `gorm:"index"`
	InterestRateBps uint32
	Paid            bool `gorm:"index"`
	UpdatedAt       time.Time
}

// TableName implements gorm's tabler.
func (InvoiceRow) TableName() string { return "invoices" }

// LoanRow is the read-model projection of one loan.
type LoanRow struct {
	InvoiceID       uint64 `gorm:"primaryKey;autoIncrement:false"`
	Amount          string `gorm:"size:80;not null"`
	Lender          string `gorm:"size:42;index"`
	Borrower        string `gorm:"size:42;index"`
	Status          string `gorm:"size:16;index"`
	InterestRateBps uint32
	FundedAt        int64
	DueDate         int64 `gorm:"index"`
	ResolvedAt      int64
	Repaid          string `gorm:"size:80"`
	UpdatedAt       time.Time
}

// TableName implements gorm's tabler.
func (LoanRow) TableName() string { return "loans" }

// ScoreRow mirrors a reputation record.
type ScoreRow struct {
	Address   string `gorm:"size:42;primaryKey"`
	Score     int64  `gorm:"index"`
	Credits   uint64
	Penalties uint64
	UpdatedAt time.Time
}

// TableName implements gorm's tabler.
func (ScoreRow) TableName() string { return "scores" }

// EventRow is the append-only log of committed events.
type EventRow struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Sequence   uint64    `gorm:"index"`
	Type       string    `gorm:"size:64;index"`
	InvoiceID  *uint64   `gorm:"index"`
	Attributes string    `gorm:"type:text"`
	RecordedAt time.Time `gorm:"index"`
}

// TableName implements gorm's tabler.
func (EventRow) TableName() string { return "events" }

// AutoMigrate creates or updates the read-model tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&InvoiceRow{}, &LoanRow{}, &ScoreRow{}, &EventRow{})
}

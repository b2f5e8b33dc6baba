package indexer

import (
	"errors"

	"gorm.io/gorm"
)

// ErrNotIndexed is returned when a row is absent from the read model.
var ErrNotIndexed = errors.New("indexer: not indexed")

// Invoice returns the projected invoice.
func (ix *Indexer) Invoice(id uint64) (*InvoiceRow, error) {
	var row InvoiceRow
	err := ix.db.Where("invoice_id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotIndexed
	}
	return &row, err
}

// Loans returns projected loans, optionally filtered by status, ordered by
// invoice id.
func (ix *Indexer) Loans(status string) ([]LoanRow, error) {
	query := ix.db.Order("invoice_id asc")
	if status != "" {
		query = query.Where("status = ?", status)
	}
	var rows []LoanRow
	return rows, query.Find(&rows).Error
}

// Score returns the projected reputation of address.
func (ix *Indexer) Score(address string) (*ScoreRow, error) {
	var row ScoreRow
	err := ix.db.Where("address = ?", address).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotIndexed
	}
	return &row, err
}

// Events returns logged events of kind in sequence order. An empty kind
// returns all events; a non-positive limit returns everything.
func (ix *Indexer) Events(kind string, limit int) ([]EventRow, error) {
	query := ix.db.Order("sequence asc")
	if kind != "" {
		query = query.Where("type = ?", kind)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	var rows []EventRow
	return rows, query.Find(&rows).Error
}

// InvoiceHistory returns every logged event that references invoice id.
func (ix *Indexer) InvoiceHistory(id uint64) ([]EventRow, error) {
	var rows []EventRow
	return rows, ix.db.Where("invoice_id = ?", id).Order("sequence asc").Find(&rows).Error
}

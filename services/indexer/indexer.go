// Package indexer projects committed ledger events into a SQL read model.
package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"factorchain/core/events"
	"factorchain/native/factoring"
	"factorchain/native/invoice"
	"factorchain/native/reputation"
)

// ErrMissingAttribute is returned when an event lacks a projected field.
var ErrMissingAttribute = errors.New("indexer: missing event attribute")

// Open connects to dsn. postgres:// and postgresql:// URLs and key=value
// DSNs containing host= use Postgres; anything else is a sqlite path.
func Open(dsn string) (*gorm.DB, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, fmt.Errorf("indexer: dsn required")
	}
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
	var dialector gorm.Dialector
	if isPostgres(trimmed) {
		dialector = postgres.Open(trimmed)
	} else {
		dialector = sqlite.Open(trimmed)
	}
	db, err := gorm.Open(dialector, cfg)
	if err != nil {
		return nil, fmt.Errorf("indexer: open database: %w", err)
	}
	return db, nil
}

func isPostgres(dsn string) bool {
	lower := strings.ToLower(dsn)
	return strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") || strings.Contains(lower, "host=")
}

// Indexer applies events to the read model. It is safe for use by one
// consumer goroutine.
type Indexer struct {
	db      *gorm.DB
	logger  *slog.Logger
	last    uint64
	nowFunc func() time.Time
}

// New migrates the schema and returns an indexer over db.
func New(db *gorm.DB, log *slog.Logger) (*Indexer, error) {
	if db == nil {
		return nil, fmt.Errorf("indexer: database required")
	}
	if log == nil {
		log = slog.Default()
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("indexer: migrate: %w", err)
	}
	return &Indexer{db: db, logger: log, nowFunc: time.Now}, nil
}

// DB exposes the underlying handle for queries.
func (ix *Indexer) DB() *gorm.DB { return ix.db }

// LastSequence returns the stream sequence of the last applied event.
func (ix *Indexer) LastSequence() uint64 { return ix.last }

// Run consumes stream until ctx is cancelled. Events retained by the stream
// before the call are replayed first. When a sequence gap shows that the
// subscription dropped events, it resubscribes from the last applied cursor.
func (ix *Indexer) Run(ctx context.Context, stream *events.Stream) error {
	if stream == nil {
		return fmt.Errorf("indexer: stream required")
	}
	for {
		resync, err := ix.consume(ctx, stream)
		if err != nil || !resync {
			return err
		}
		ix.logger.Warn("indexer resubscribing after gap", slog.Uint64("cursor", ix.last))
	}
}

func (ix *Indexer) consume(ctx context.Context, stream *events.Stream) (bool, error) {
	subCtx, cancelSub := context.WithCancel(ctx)
	defer cancelSub()
	updates, cancel, backlog := stream.Subscribe(subCtx, strconv.FormatUint(ix.last, 10))
	defer cancel()

	for _, record := range backlog {
		ix.applyLogged(record)
	}
	for {
		select {
		case <-ctx.Done():
			return false, nil
		case record, ok := <-updates:
			if !ok {
				return false, nil
			}
			if record.Sequence <= ix.last {
				continue
			}
			if record.Sequence > ix.last+1 {
				return true, nil
			}
			ix.applyLogged(record)
		}
	}
}

func (ix *Indexer) applyLogged(record events.Record) {
	if err := ix.Apply(record); err != nil {
		ix.logger.Error("indexer apply failed",
			slog.Uint64("sequence", record.Sequence),
			slog.String("type", record.Event.EventType()),
			slog.Any("error", err))
	}
}

// Apply records one event and updates the projections it touches.
// Records at or below the last applied sequence are ignored.
func (ix *Indexer) Apply(record events.Record) error {
	if record.Event == nil || (ix.last > 0 && record.Sequence <= ix.last) {
		return nil
	}
	attrs := record.Event.Attributes
	encoded, err := json.Marshal(attrs)
	if err != nil {
		return err
	}
	row := EventRow{
		ID:         uuid.New(),
		Sequence:   record.Sequence,
		Type:       record.Event.Type,
		InvoiceID:  eventInvoiceID(record.Event.Type, attrs),
		Attributes: string(encoded),
		RecordedAt: ix.nowFunc().UTC(),
	}
	err = ix.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		return project(tx, record.Event.Type, attrs)
	})
	if err != nil {
		return fmt.Errorf("indexer: apply %s: %w", record.Event.Type, err)
	}
	if record.Sequence > ix.last {
		ix.last = record.Sequence
	}
	return nil
}

func eventInvoiceID(kind string, attrs map[string]string) *uint64 {
	key := "id"
	if strings.HasPrefix(kind, "loan.") {
		key = "invoiceId"
	}
	raw, ok := attrs[key]
	if !ok {
		return nil
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return nil
	}
	return &id
}

func project(tx *gorm.DB, kind string, attrs map[string]string) error {
	switch kind {
	case invoice.EventTypeMinted:
		return projectMint(tx, attrs)
	case invoice.EventTypeTransfer:
		return updateInvoice(tx, attrs, map[string]interface{}{"owner": attrs["to"], "spender": ""})
	case invoice.EventTypeApproval:
		return updateInvoice(tx, attrs, map[string]interface{}{"spender": attrs["spender"]})
	case invoice.EventTypePaid:
		return updateInvoice(tx, attrs, map[string]interface{}{"paid": true})
	case factoring.EventTypeLoanFunded, factoring.EventTypeLoanRepaid, factoring.EventTypeLoanDefaulted:
		return projectLoan(tx, attrs)
	case reputation.EventTypeCredited, reputation.EventTypePenalized:
		return projectScore(tx, kind == reputation.EventTypePenalized, attrs)
	}
	return nil
}

func requireUint(attrs map[string]string, key string) (uint64, error) {
	raw, ok := attrs[key]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrMissingAttribute, key)
	}
	return strconv.ParseUint(raw, 10, 64)
}

func optionalInt(attrs map[string]string, key string) int64 {
	value, err := strconv.ParseInt(attrs[key], 10, 64)
	if err != nil {
		return 0
	}
	return value
}

func projectMint(tx *gorm.DB, attrs map[string]string) error {
	id, err := requireUint(attrs, "id")
	if err != nil {
		return err
	}
	rate, _ := strconv.ParseUint(attrs["interestRateBps"], 10, 32)
	row := InvoiceRow{
		InvoiceID:       id,
		MetadataURI:     attrs["metadataURI"],
		Amount:          attrs["amount"],
		Issuer:          attrs["issuer"],
		Owner:           attrs["issuer"],
		Debtor:          attrs["debtor"],
		DueDate:         optionalInt(attrs, "dueDate"),
		InterestRateBps: uint32(rate),
	}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "invoice_id"}},
		UpdateAll: true,
	}).Create(&row).Error
}

func updateInvoice(tx *gorm.DB, attrs map[string]string, fields map[string]interface{}) error {
	id, err := requireUint(attrs, "id")
	if err != nil {
		return err
	}
	return tx.Model(&InvoiceRow{}).Where("invoice_id = ?", id).Updates(fields).Error
}

func projectLoan(tx *gorm.DB, attrs map[string]string) error {
	id, err := requireUint(attrs, "invoiceId")
	if err != nil {
		return err
	}
	rate, _ := strconv.ParseUint(attrs["interestRateBps"], 10, 32)
	row := LoanRow{
		InvoiceID:       id,
		Amount:          attrs["amount"],
		Lender:          attrs["lender"],
		Borrower:        attrs["borrower"],
		Status:          attrs["status"],
		InterestRateBps: uint32(rate),
		FundedAt:        optionalInt(attrs, "fundedAt"),
		DueDate:         optionalInt(attrs, "dueDate"),
		ResolvedAt:      optionalInt(attrs, "resolvedAt"),
		Repaid:          attrs["repaid"],
	}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "invoice_id"}},
		UpdateAll: true,
	}).Create(&row).Error
}

func projectScore(tx *gorm.DB, penalty bool, attrs map[string]string) error {
	identity, ok := attrs["identity"]
	if !ok {
		return fmt.Errorf("%w: identity", ErrMissingAttribute)
	}
	score, err := strconv.ParseInt(attrs["score"], 10, 64)
	if err != nil {
		return fmt.Errorf("indexer: score: %w", err)
	}
	var row ScoreRow
	err = tx.Where("address = ?", identity).Take(&row).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		row = ScoreRow{Address: identity}
	case err != nil:
		return err
	}
	row.Score = score
	if penalty {
		row.Penalties++
	} else {
		row.Credits++
	}
	return tx.Save(&row).Error
}

// Snapshot seeds the read model from current ledger state. It is used at
// startup, when the in-memory stream holds no history from earlier runs.
func (ix *Indexer) Snapshot(invoices []*invoice.Invoice, loans []*factoring.Loan) error {
	return ix.db.Transaction(func(tx *gorm.DB) error {
		for _, inv := range invoices {
			row := InvoiceRow{
				InvoiceID:       inv.ID,
				MetadataURI:     inv.MetadataURI,
				Amount:          inv.Amount.String(),
				Issuer:          formatAddress(inv.Issuer.Hex()),
				Owner:           formatAddress(inv.Owner.Hex()),
				Debtor:          formatAddress(inv.Debtor.Hex()),
				DueDate:         inv.DueDate,
				InterestRateBps: inv.InterestRateBps,
				Paid:            inv.Paid,
			}
			if err := tx.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "invoice_id"}}, UpdateAll: true}).Create(&row).Error; err != nil {
				return err
			}
		}
		for _, loan := range loans {
			row := LoanRow{
				InvoiceID:       loan.InvoiceID,
				Amount:          loan.Amount.String(),
				Lender:          formatAddress(loan.Lender.Hex()),
				Borrower:        formatAddress(loan.Borrower.Hex()),
				Status:          loan.Status.String(),
				InterestRateBps: loan.InterestRateBps,
				FundedAt:        loan.FundedAt,
				DueDate:         loan.DueDate,
				ResolvedAt:      loan.ResolvedAt,
			}
			if loan.Status == factoring.StatusRepaid {
				row.Repaid = loan.RepaymentDue().String()
			}
			if err := tx.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "invoice_id"}}, UpdateAll: true}).Create(&row).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func formatAddress(hex string) string { return strings.ToLower(hex) }

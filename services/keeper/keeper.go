package keeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"factorchain/crypto"
	"factorchain/observability"
	"factorchain/rpc/api"
)

// Outcomes recorded in the journal and exported as metric labels.
const (
	ActionMarkDefault = "mark_default"

	OutcomeSubmitted = "submitted"
	OutcomeResolved  = "resolved"
	OutcomeNotDue    = "not_due"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
	OutcomeJournaled = "journaled"
)

// ErrOracleMismatch is returned when the node's registered oracle is not the
// keeper's key. The keeper never submits calls in that state.
var ErrOracleMismatch = errors.New("keeper: oracle mismatch")

// RPC is the subset of the JSON-RPC client the keeper drives.
type RPC interface {
	Oracle(ctx context.Context) (crypto.Address, bool, error)
	Loan(ctx context.Context, id uint64) (*api.LoanResult, error)
	Loans(ctx context.Context, filter api.LoanFilter) ([]api.LoanResult, error)
	MarkDefault(ctx context.Context, id uint64) (*api.LoanResult, error)
}

// Keeper marks overdue loans in default using the oracle key.
type Keeper struct {
	rpc      RPC
	self     crypto.Address
	journal  *Journal
	logger   *slog.Logger
	metrics  *observability.KeeperMetrics
	pageSize int
	now      func() time.Time
}

// Option customises a keeper.
type Option func(*Keeper)

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(k *Keeper) {
		if logger != nil {
			k.logger = logger
		}
	}
}

// WithClock sets the function used to decide whether a loan is due.
func WithClock(clock func() time.Time) Option {
	return func(k *Keeper) {
		if clock != nil {
			k.now = clock
		}
	}
}

// WithPageSize bounds each factoring_listLoans request.
func WithPageSize(size int) Option {
	return func(k *Keeper) {
		if size > 0 {
			k.pageSize = size
		}
	}
}

// New constructs a keeper acting as self.
func New(rpc RPC, self crypto.Address, journal *Journal, opts ...Option) *Keeper {
	k := &Keeper{
		rpc:      rpc,
		self:     self,
		journal:  journal,
		logger:   slog.Default(),
		metrics:  observability.Keeper(),
		pageSize: 100,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// CheckOracle verifies that the node's registered oracle is the keeper's key.
func (k *Keeper) CheckOracle(ctx context.Context) error {
	oracle, ok, err := k.rpc.Oracle(ctx)
	if err != nil {
		return fmt.Errorf("keeper: fetch oracle: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: no oracle registered, keeper is %s", ErrOracleMismatch, api.FormatAddress(k.self))
	}
	if oracle != k.self {
		return fmt.Errorf("%w: node oracle is %s, keeper is %s", ErrOracleMismatch, api.FormatAddress(oracle), api.FormatAddress(k.self))
	}
	return nil
}

// RunOnce handles a single loan: it is marked in default if it is funded and
// due. Fatal RPC errors are returned; state conflicts are recorded as skips.
func (k *Keeper) RunOnce(ctx context.Context, id uint64) (Entry, error) {
	if err := k.CheckOracle(ctx); err != nil {
		return Entry{}, err
	}
	loan, err := k.rpc.Loan(ctx, id)
	if err != nil {
		return Entry{}, fmt.Errorf("keeper: fetch loan %d: %w", id, err)
	}
	return k.handle(ctx, *loan)
}

// Scan marks every due funded loan in default. It returns the entries
// produced during the scan.
func (k *Keeper) Scan(ctx context.Context) ([]Entry, error) {
	due, err := k.dueLoans(ctx)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(due))
	for _, loan := range due {
		entry, err := k.handle(ctx, loan)
		if err != nil {
			if IsFatal(err) || ctx.Err() != nil {
				return entries, err
			}
			k.logger.Warn("keeper: mark default failed", slog.Uint64("invoice_id", loan.InvoiceID), slog.Any("error", err))
			continue
		}
		entries = append(entries, entry)
	}
	k.metrics.RecordScan(k.now())
	return entries, nil
}

// Run checks the oracle, then scans every interval until ctx is cancelled or
// a fatal error occurs.
func (k *Keeper) Run(ctx context.Context, interval time.Duration) error {
	if err := k.CheckOracle(ctx); err != nil {
		return err
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		entries, err := k.Scan(ctx)
		switch {
		case err == nil:
			if len(entries) > 0 {
				k.logger.Info("keeper: scan complete", slog.Int("handled", len(entries)))
			}
		case ctx.Err() != nil:
			return nil
		case IsFatal(err):
			return err
		default:
			k.logger.Warn("keeper: scan failed", slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// dueLoans collects every funded loan past its due date before any call is
// submitted, so paging is not disturbed by loans leaving the funded set.
func (k *Keeper) dueLoans(ctx context.Context) ([]api.LoanResult, error) {
	now := k.now().Unix()
	var due []api.LoanResult
	for offset := 0; ; offset += k.pageSize {
		page, err := k.rpc.Loans(ctx, api.LoanFilter{Status: "funded", Offset: offset, Limit: k.pageSize})
		if err != nil {
			return nil, fmt.Errorf("keeper: list funded loans: %w", err)
		}
		for _, loan := range page {
			if loan.DueDate <= now {
				due = append(due, loan)
			}
		}
		if len(page) < k.pageSize {
			return due, nil
		}
	}
}

func (k *Keeper) handle(ctx context.Context, loan api.LoanResult) (Entry, error) {
	id := loan.InvoiceID
	if prior, ok, err := k.journal.Lookup(id); err != nil {
		return Entry{}, err
	} else if ok && prior.Final() {
		k.metrics.RecordAction(ActionMarkDefault, OutcomeJournaled)
		return prior, nil
	}
	entry := Entry{InvoiceID: id, Action: ActionMarkDefault, At: k.now().UTC()}
	if loan.Status != "funded" {
		entry.Outcome = OutcomeResolved
		entry.Detail = loan.Status
		return entry, k.record(entry)
	}
	if k.now().Unix() < loan.DueDate {
		entry.Outcome = OutcomeNotDue
		k.metrics.RecordAction(ActionMarkDefault, entry.Outcome)
		return entry, nil
	}
	result, err := k.rpc.MarkDefault(ctx, id)
	if err != nil {
		var rpcErr *api.Error
		if errors.As(err, &rpcErr) && !rpcErr.Fatal() && rpcErr.Code == api.CodeState {
			entry.Outcome = OutcomeSkipped
			entry.Detail = rpcErr.Message
			k.logger.Info("keeper: loan skipped", slog.Uint64("invoice_id", id), slog.String("reason", rpcErr.Message))
			return entry, k.record(entry)
		}
		k.metrics.RecordAction(ActionMarkDefault, OutcomeFailed)
		return Entry{}, fmt.Errorf("keeper: mark default %d: %w", id, err)
	}
	entry.Outcome = OutcomeSubmitted
	entry.Detail = result.Status
	k.logger.Info("keeper: loan marked in default",
		slog.Uint64("invoice_id", id),
		slog.String("lender", result.Lender),
		slog.String("amount", result.Amount))
	return entry, k.record(entry)
}

func (k *Keeper) record(entry Entry) error {
	k.metrics.RecordAction(entry.Action, entry.Outcome)
	if err := k.journal.Record(entry); err != nil {
		return fmt.Errorf("keeper: journal %d: %w", entry.InvoiceID, err)
	}
	return nil
}

// IsFatal reports whether err should stop the keeper.
func IsFatal(err error) bool {
	if errors.Is(err, ErrOracleMismatch) {
		return true
	}
	var rpcErr *api.Error
	return errors.As(err, &rpcErr) && rpcErr.Fatal()
}

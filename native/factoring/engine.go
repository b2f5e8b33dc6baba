package factoring

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"sort"
	"time"

	coreerrors "factorchain/core/errors"
	"factorchain/core/events"
	"factorchain/core/types"
	"factorchain/crypto"
	nativecommon "factorchain/native/common"
	"factorchain/native/invoice"
	"factorchain/native/reputation"
)

const moduleName = "factoring"

var basisPoints = big.NewInt(10_000)

// engineState abstracts the subset of the state manager used by the engine.
type engineState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte) ([][]byte, error)
}

// assetRegistry is the slice of the invoice registry the engine drives.
type assetRegistry interface {
	Get(id uint64) (*invoice.Invoice, error)
	Approved(id uint64) (crypto.Address, bool, error)
	TransferOwnership(caller crypto.Address, id uint64, to crypto.Address) error
	MarkPaid(caller crypto.Address, id uint64) error
}

type reputationLedger interface {
	Credit(caller, identity crypto.Address, amount int64) error
	Penalize(caller, identity crypto.Address, amount int64) error
}

type valueLedger interface {
	Transfer(from, to crypto.Address, amount *big.Int) error
}

var (
	loanPrefix = []byte("factoring/loan/")
	oracleKey  = []byte("factoring/oracle")
	loanIndex  = []byte("factoring/index/loans")
)

func loanKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%d", loanPrefix, id))
}

type storedAddress struct {
	Address crypto.Address
}

// Engine funds invoices, settles repayments and records defaults. Supplied
// value passes through the engine's escrow account so that every movement is
// visible in the bank ledger.
type Engine struct {
	state            engineState
	registry         assetRegistry
	reputation       reputationLedger
	bank             valueLedger
	address          crypto.Address
	authority        crypto.Address
	policy           reputation.Policy
	allowSelfFunding bool
	pauses           nativecommon.PauseView
	emitter          events.Emitter
	nowFn            func() int64
}

// EscrowAddress returns the module account every engine instance uses for
// custody of invoices and value in transit.
func EscrowAddress() crypto.Address {
	return crypto.ModuleAddress(moduleName)
}

// NewEngine constructs an engine whose escrow account is EscrowAddress.
func NewEngine() *Engine {
	return &Engine{
		address: EscrowAddress(),
		policy:  reputation.NewDefaultPolicy(),
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState wires the state backend.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetRegistry wires the invoice registry.
func (e *Engine) SetRegistry(registry assetRegistry) { e.registry = registry }

// SetReputation wires the reputation ledger.
func (e *Engine) SetReputation(ledger reputationLedger) { e.reputation = ledger }

// SetBank wires the value ledger that carries payments.
func (e *Engine) SetBank(bank valueLedger) { e.bank = bank }

// SetAuthority configures the account allowed to register the oracle.
func (e *Engine) SetAuthority(addr crypto.Address) { e.authority = addr }

// SetPauses wires the pause view consulted before every mutation.
func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// SetAllowSelfFunding toggles whether an invoice owner may fund their own
// invoice.
func (e *Engine) SetAllowSelfFunding(allow bool) { e.allowSelfFunding = allow }

// SetPolicy overrides the reputation policy. Nil restores the default.
func (e *Engine) SetPolicy(policy reputation.Policy) {
	if policy == nil {
		e.policy = reputation.NewDefaultPolicy()
		return
	}
	e.policy = policy
}

// SetEmitter configures the event emitter. Passing nil resets the emitter to
// a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the clock used for due date checks and timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// Address returns the escrow account of the engine. It is also the address
// registered as loan engine with the registry and the reputation ledger.
func (e *Engine) Address() crypto.Address { return e.address }

func (e *Engine) now() int64 {
	if e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) emit(evt *types.Event) {
	if e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

func (e *Engine) ready() error {
	if e == nil {
		return fmt.Errorf("factoring: engine not initialised")
	}
	if e.state == nil {
		return fmt.Errorf("factoring: state not configured")
	}
	if e.registry == nil || e.bank == nil || e.reputation == nil {
		return fmt.Errorf("factoring: engine dependencies not configured")
	}
	return nil
}

// Oracle returns the registered oracle, if any.
func (e *Engine) Oracle() (crypto.Address, bool, error) {
	if e == nil || e.state == nil {
		return crypto.Address{}, false, fmt.Errorf("factoring: state not configured")
	}
	var stored storedAddress
	ok, err := e.state.KVGet(oracleKey, &stored)
	if err != nil || !ok {
		return crypto.Address{}, false, err
	}
	return stored.Address, true, nil
}

// SetOracle registers the only identity allowed to mark loans in default. The
// authority may call it once.
func (e *Engine) SetOracle(caller, oracle crypto.Address) error {
	if e == nil || e.state == nil {
		return fmt.Errorf("factoring: state not configured")
	}
	if e.authority == crypto.ZeroAddress || caller != e.authority {
		return coreerrors.ErrNotAuthorized
	}
	if _, ok, err := e.Oracle(); err != nil {
		return err
	} else if ok {
		return coreerrors.ErrAlreadySet
	}
	if oracle == crypto.ZeroAddress {
		return coreerrors.ErrInvalidAddress
	}
	if err := e.state.KVPut(oracleKey, &storedAddress{Address: oracle}); err != nil {
		return err
	}
	e.emit(newOracleSetEvent(oracle))
	return nil
}

func (e *Engine) getLoan(id uint64) (*Loan, bool, error) {
	var stored storedLoan
	ok, err := e.state.KVGet(loanKey(id), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return stored.toLoan(), true, nil
}

func (e *Engine) putLoan(loan *Loan) error {
	return e.state.KVPut(loanKey(loan.InvoiceID), newStoredLoan(loan))
}

// Loan returns a copy of the loan recorded for the invoice.
func (e *Engine) Loan(id uint64) (*Loan, error) {
	if e == nil || e.state == nil {
		return nil, fmt.Errorf("factoring: state not configured")
	}
	loan, ok, err := e.getLoan(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, coreerrors.Wrap(coreerrors.ErrNotFound, "loan for invoice %d", id)
	}
	return loan, nil
}

// RepaymentDue returns the exact value Repay expects for the loan.
func (e *Engine) RepaymentDue(id uint64) (*big.Int, error) {
	loan, err := e.Loan(id)
	if err != nil {
		return nil, err
	}
	return loan.RepaymentDue(), nil
}

// FundInvoice finances the invoice with value supplied by caller, who becomes
// the lender. The invoice owner must have approved the engine beforehand.
func (e *Engine) FundInvoice(caller crypto.Address, id uint64, value *big.Int) (*Loan, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	inv, err := e.registry.Get(id)
	if err != nil {
		return nil, err
	}
	if inv.Paid {
		return nil, coreerrors.ErrAlreadyPaid
	}
	if _, exists, err := e.getLoan(id); err != nil {
		return nil, err
	} else if exists {
		return nil, coreerrors.ErrAlreadyFunded
	}
	if !e.allowSelfFunding && caller == inv.Owner {
		return nil, coreerrors.ErrSelfFunding
	}
	if value == nil || value.Cmp(inv.Amount) != 0 {
		return nil, coreerrors.Wrap(coreerrors.ErrWrongAmount, "expected %s", inv.Amount)
	}
	spender, approved, err := e.registry.Approved(id)
	if err != nil {
		return nil, err
	}
	if !approved || spender != e.address {
		return nil, coreerrors.Wrap(coreerrors.ErrEscrowTransferFailed, "invoice %d not approved for escrow", id)
	}

	borrower := inv.Owner
	if err := e.bank.Transfer(caller, e.address, value); err != nil {
		return nil, err
	}
	if err := e.bank.Transfer(e.address, borrower, value); err != nil {
		return nil, err
	}
	if err := e.registry.TransferOwnership(e.address, id, e.address); err != nil {
		return nil, fmt.Errorf("%w: %v", coreerrors.ErrEscrowTransferFailed, err)
	}
	loan := &Loan{
		InvoiceID:       id,
		Amount:          new(big.Int).Set(inv.Amount),
		Lender:          caller,
		Borrower:        borrower,
		Status:          StatusFunded,
		FundedAt:        e.now(),
		InterestRateBps: inv.InterestRateBps,
		DueDate:         inv.DueDate,
	}
	if err := e.putLoan(loan); err != nil {
		return nil, err
	}
	var idBytes [8]byte
	binary.BigEndian.PutUint64(idBytes[:], id)
	if err := e.state.KVAppend(loanIndex, idBytes[:]); err != nil {
		return nil, err
	}
	e.emit(NewFundedEvent(loan))
	return loan.Clone(), nil
}

// Repay settles a funded loan. Only the borrower may repay and value must be
// exactly the principal plus interest.
func (e *Engine) Repay(caller crypto.Address, id uint64, value *big.Int) (*Loan, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	loan, err := e.Loan(id)
	if err != nil {
		return nil, err
	}
	if caller != loan.Borrower {
		return nil, coreerrors.ErrNotAuthorized
	}
	if loan.Status != StatusFunded {
		return nil, coreerrors.Wrap(coreerrors.ErrAlreadyResolved, "loan %d is %s", id, loan.Status)
	}
	due := loan.RepaymentDue()
	if value == nil || value.Cmp(due) != 0 {
		return nil, coreerrors.Wrap(coreerrors.ErrWrongAmount, "expected %s", due)
	}

	if err := e.bank.Transfer(caller, e.address, value); err != nil {
		return nil, err
	}
	if err := e.bank.Transfer(e.address, loan.Lender, value); err != nil {
		return nil, err
	}
	if err := e.registry.MarkPaid(e.address, id); err != nil {
		return nil, err
	}
	if err := e.registry.TransferOwnership(e.address, id, loan.Lender); err != nil {
		return nil, err
	}
	now := e.now()
	loan.Status = StatusRepaid
	loan.ResolvedAt = now
	if err := e.putLoan(loan); err != nil {
		return nil, err
	}
	credit := e.policy.CreditFor(loan.Amount, loan.FundedAt, now, loan.DueDate)
	if credit > 0 {
		if err := e.reputation.Credit(e.address, loan.Borrower, credit); err != nil {
			return nil, err
		}
	}
	e.emit(NewRepaidEvent(loan))
	return loan.Clone(), nil
}

// MarkDefault records non-payment of a due loan. Only the oracle may call it;
// the escrowed invoice goes to the lender and stays unpaid.
func (e *Engine) MarkDefault(caller crypto.Address, id uint64) (*Loan, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	oracle, ok, err := e.Oracle()
	if err != nil {
		return nil, err
	}
	if !ok || caller != oracle {
		return nil, coreerrors.ErrNotAuthorized
	}
	loan, err := e.Loan(id)
	if err != nil {
		return nil, err
	}
	if loan.Status != StatusFunded {
		return nil, coreerrors.Wrap(coreerrors.ErrAlreadyResolved, "loan %d is %s", id, loan.Status)
	}
	now := e.now()
	if now < loan.DueDate {
		return nil, coreerrors.Wrap(coreerrors.ErrTooEarly, "due at %d", loan.DueDate)
	}

	if err := e.registry.TransferOwnership(e.address, id, loan.Lender); err != nil {
		return nil, err
	}
	loan.Status = StatusDefaulted
	loan.ResolvedAt = now
	if err := e.putLoan(loan); err != nil {
		return nil, err
	}
	penalty := e.policy.PenaltyFor(loan.Amount, loan.FundedAt, now, loan.DueDate)
	if penalty > 0 {
		if err := e.reputation.Penalize(e.address, loan.Borrower, penalty); err != nil {
			return nil, err
		}
	}
	e.emit(NewDefaultedEvent(loan))
	return loan.Clone(), nil
}

func (e *Engine) loanIDs() ([]uint64, error) {
	raw, err := e.state.KVGetList(loanIndex)
	if err != nil {
		return nil, err
	}
	ids := make([]uint64, 0, len(raw))
	for _, entry := range raw {
		if len(entry) != 8 {
			return nil, fmt.Errorf("factoring: corrupt loan index entry")
		}
		ids = append(ids, binary.BigEndian.Uint64(entry))
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// Loans lists loans matching filter in invoice id order.
func (e *Engine) Loans(filter Filter) ([]*Loan, error) {
	if e == nil || e.state == nil {
		return nil, fmt.Errorf("factoring: state not configured")
	}
	ids, err := e.loanIDs()
	if err != nil {
		return nil, err
	}
	var (
		out     []*Loan
		skipped int
	)
	for _, id := range ids {
		loan, ok, err := e.getLoan(id)
		if err != nil {
			return nil, err
		}
		if !ok || !filter.matches(loan) {
			continue
		}
		if skipped < filter.Offset {
			skipped++
			continue
		}
		out = append(out, loan)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// DueForDefault returns funded loans whose due date is at or before now.
func (e *Engine) DueForDefault(now int64) ([]*Loan, error) {
	funded, err := e.Loans(Filter{Status: StatusFunded})
	if err != nil {
		return nil, err
	}
	due := funded[:0]
	for _, loan := range funded {
		if now >= loan.DueDate {
			due = append(due, loan)
		}
	}
	return due, nil
}

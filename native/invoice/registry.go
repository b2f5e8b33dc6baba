package invoice

import (
	"fmt"
	"strings"
	"time"

	"github.com/holiman/uint256"

	coreerrors "factorchain/core/errors"
	"factorchain/core/events"
	"factorchain/core/types"
	"factorchain/crypto"
	nativecommon "factorchain/native/common"
)

const moduleName = "invoice"

type storedAddress struct {
	Address crypto.Address
}

// Registry owns invoice assets: their terms, their current owner, pending
// approvals and the paid flag. It knows nothing about loans; the registered
// loan engine is just another address with markPaid rights.
type Registry struct {
	store     storage
	authority crypto.Address
	pauses    nativecommon.PauseView
	emitter   events.Emitter
	nowFn     func() int64
}

// NewRegistry constructs a registry bound to the provided storage backend.
func NewRegistry(store storage) *Registry {
	return &Registry{
		store:   store,
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetAuthority configures the deploying authority allowed to register the
// loan engine.
func (r *Registry) SetAuthority(addr crypto.Address) {
	if r == nil {
		return
	}
	r.authority = addr
}

// SetPauses wires the pause view consulted before every mutation.
func (r *Registry) SetPauses(p nativecommon.PauseView) {
	if r == nil {
		return
	}
	r.pauses = p
}

// SetEmitter configures the event emitter used by the registry. Passing nil
// resets the emitter to a no-op implementation.
func (r *Registry) SetEmitter(emitter events.Emitter) {
	if r == nil {
		return
	}
	if emitter == nil {
		r.emitter = events.NoopEmitter{}
		return
	}
	r.emitter = emitter
}

// SetNowFunc overrides the clock used for due date validation.
func (r *Registry) SetNowFunc(now func() int64) {
	if r == nil {
		return
	}
	if now == nil {
		r.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	r.nowFn = now
}

func (r *Registry) now() int64 {
	if r.nowFn == nil {
		return time.Now().Unix()
	}
	return r.nowFn()
}

func (r *Registry) emit(evt *types.Event) {
	if r.emitter == nil || evt == nil {
		return
	}
	r.emitter.Emit(evt)
}

func (r *Registry) ready() error {
	if r == nil || r.store == nil {
		return fmt.Errorf("invoice: registry not initialised")
	}
	return nil
}

// NextID returns the identifier the next mint will receive.
func (r *Registry) NextID() (uint64, error) {
	if err := r.ready(); err != nil {
		return 0, err
	}
	var next uint64
	if _, err := r.store.KVGet(nextIDKey, &next); err != nil {
		return 0, err
	}
	return next, nil
}

// Mint creates a new invoice owned by caller. Identifiers start at zero and
// increase by one per mint.
func (r *Registry) Mint(caller crypto.Address, params MintParams) (uint64, error) {
	if err := r.ready(); err != nil {
		return 0, err
	}
	if err := nativecommon.Guard(r.pauses, moduleName); err != nil {
		return 0, err
	}
	if params.Amount == nil || params.Amount.Sign() <= 0 {
		return 0, coreerrors.ErrInvalidAmount
	}
	if _, overflow := uint256.FromBig(params.Amount); overflow {
		return 0, coreerrors.ErrInvalidAmount
	}
	now := r.now()
	if params.DueDate <= now {
		return 0, coreerrors.ErrInvalidDueDate
	}
	if params.InterestRateBps > MaxInterestRateBps {
		return 0, coreerrors.ErrInvalidRate
	}
	if caller == crypto.ZeroAddress {
		return 0, coreerrors.ErrInvalidAddress
	}
	id, err := r.NextID()
	if err != nil {
		return 0, err
	}
	inv := &Invoice{
		ID:              id,
		MetadataURI:     strings.TrimSpace(params.MetadataURI),
		Amount:          params.Amount,
		Debtor:          params.Debtor,
		DueDate:         params.DueDate,
		InterestRateBps: params.InterestRateBps,
		Owner:           caller,
		Issuer:          caller,
		CreatedAt:       now,
	}
	if err := r.store.KVPut(invoiceKey(id), newStoredInvoice(inv)); err != nil {
		return 0, err
	}
	if err := r.store.KVPut(nextIDKey, id+1); err != nil {
		return 0, err
	}
	r.emit(NewMintedEvent(inv))
	r.emit(NewTransferEvent(id, crypto.ZeroAddress, caller))
	return id, nil
}

// Get returns a copy of the invoice.
func (r *Registry) Get(id uint64) (*Invoice, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	var stored storedInvoice
	ok, err := r.store.KVGet(invoiceKey(id), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, coreerrors.Wrap(coreerrors.ErrNotFound, "invoice %d", id)
	}
	return stored.toInvoice(), nil
}

func (r *Registry) put(inv *Invoice) error {
	return r.store.KVPut(invoiceKey(inv.ID), newStoredInvoice(inv))
}

// Approved returns the spender currently allowed to transfer the invoice.
func (r *Registry) Approved(id uint64) (crypto.Address, bool, error) {
	if err := r.ready(); err != nil {
		return crypto.Address{}, false, err
	}
	var stored storedAddress
	ok, err := r.store.KVGet(approvalKey(id), &stored)
	if err != nil || !ok {
		return crypto.Address{}, false, err
	}
	return stored.Address, true, nil
}

// Approve grants spender a single-use right to transfer the invoice. Only the
// owner may approve; a new approval replaces any previous one.
func (r *Registry) Approve(caller crypto.Address, id uint64, spender crypto.Address) error {
	if err := r.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(r.pauses, moduleName); err != nil {
		return err
	}
	inv, err := r.Get(id)
	if err != nil {
		return err
	}
	if caller != inv.Owner {
		return coreerrors.ErrNotAuthorized
	}
	if spender == crypto.ZeroAddress {
		return coreerrors.ErrInvalidAddress
	}
	if err := r.store.KVPut(approvalKey(id), &storedAddress{Address: spender}); err != nil {
		return err
	}
	r.emit(NewApprovalEvent(id, inv.Owner, spender))
	return nil
}

// TransferOwnership moves the invoice to a new owner. The owner or the
// approved spender may call it; any approval is consumed by the transfer.
func (r *Registry) TransferOwnership(caller crypto.Address, id uint64, to crypto.Address) error {
	if err := r.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(r.pauses, moduleName); err != nil {
		return err
	}
	inv, err := r.Get(id)
	if err != nil {
		return err
	}
	if caller != inv.Owner {
		spender, ok, err := r.Approved(id)
		if err != nil {
			return err
		}
		if !ok || spender != caller {
			return coreerrors.ErrNotAuthorized
		}
	}
	if to == crypto.ZeroAddress {
		return coreerrors.ErrInvalidAddress
	}
	if err := r.store.KVDelete(approvalKey(id)); err != nil {
		return err
	}
	from := inv.Owner
	inv.Owner = to
	if err := r.put(inv); err != nil {
		return err
	}
	r.emit(NewTransferEvent(id, from, to))
	return nil
}

// MarkPaid flips the paid flag. The original issuer or the registered loan
// engine may call it, once. The issuer cannot flag an invoice the engine
// holds in escrow.
func (r *Registry) MarkPaid(caller crypto.Address, id uint64) error {
	if err := r.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(r.pauses, moduleName); err != nil {
		return err
	}
	inv, err := r.Get(id)
	if err != nil {
		return err
	}
	engine, hasEngine, err := r.LoanEngine()
	if err != nil {
		return err
	}
	isEngine := hasEngine && caller == engine
	if caller != inv.Issuer && !isEngine {
		return coreerrors.ErrNotAuthorized
	}
	if inv.Paid {
		return coreerrors.ErrAlreadyPaid
	}
	// While escrowed only the engine settles the invoice.
	if !isEngine && hasEngine && inv.Owner == engine {
		return coreerrors.ErrInvoiceEscrowed
	}
	inv.Paid = true
	if err := r.put(inv); err != nil {
		return err
	}
	r.emit(NewPaidEvent(id, caller))
	return nil
}

// LoanEngine returns the registered engine address, if any.
func (r *Registry) LoanEngine() (crypto.Address, bool, error) {
	if err := r.ready(); err != nil {
		return crypto.Address{}, false, err
	}
	var stored storedAddress
	ok, err := r.store.KVGet(loanEngineKey, &stored)
	if err != nil || !ok {
		return crypto.Address{}, false, err
	}
	return stored.Address, true, nil
}

// SetLoanEngine registers the loan engine. Only the authority may call it and
// the address can be assigned exactly once.
func (r *Registry) SetLoanEngine(caller, engine crypto.Address) error {
	if err := r.ready(); err != nil {
		return err
	}
	if r.authority == crypto.ZeroAddress || caller != r.authority {
		return coreerrors.ErrNotAuthorized
	}
	if _, ok, err := r.LoanEngine(); err != nil {
		return err
	} else if ok {
		return coreerrors.ErrAlreadySet
	}
	if engine == crypto.ZeroAddress {
		return coreerrors.ErrInvalidAddress
	}
	if err := r.store.KVPut(loanEngineKey, &storedAddress{Address: engine}); err != nil {
		return err
	}
	r.emit(NewLoanEngineSetEvent(engine))
	return nil
}

package reputation

import (
	"fmt"
	"math"
	"strings"

	coreerrors "factorchain/core/errors"
	"factorchain/core/events"
	"factorchain/core/types"
	"factorchain/crypto"
)

// storage abstracts the subset of state manager functionality required by the
// reputation ledger.
type storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

var (
	recordPrefix  = []byte("reputation/score/")
	loanEngineKey = []byte("reputation/loanEngine")
)

func recordKey(identity crypto.Address) []byte {
	return []byte(fmt.Sprintf("%s%x", recordPrefix, identity.Bytes()))
}

type storedAddress struct {
	Address crypto.Address
}

// Ledger persists wallet reputation scores. Only the registered loan engine
// may adjust them.
type Ledger struct {
	store         storage
	authority     crypto.Address
	maxAdjustment int64
	emitter       events.Emitter
}

// NewLedger constructs a ledger bound to the provided storage backend.
func NewLedger(store storage) *Ledger {
	return &Ledger{
		store:         store,
		maxAdjustment: DefaultMaxAdjustment,
		emitter:       events.NoopEmitter{},
	}
}

// SetAuthority configures the account allowed to register the loan engine.
func (l *Ledger) SetAuthority(addr crypto.Address) {
	if l == nil {
		return
	}
	l.authority = addr
}

// SetMaxAdjustment overrides the per-call adjustment bound. Non-positive
// values restore the default.
func (l *Ledger) SetMaxAdjustment(limit int64) {
	if l == nil {
		return
	}
	if limit <= 0 {
		limit = DefaultMaxAdjustment
	}
	l.maxAdjustment = limit
}

// SetEmitter configures the event emitter. Passing nil resets the emitter to
// a no-op implementation.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if l == nil {
		return
	}
	if emitter == nil {
		l.emitter = events.NoopEmitter{}
		return
	}
	l.emitter = emitter
}

func (l *Ledger) ready() error {
	if l == nil {
		return fmt.Errorf("reputation: ledger not initialised")
	}
	if l.store == nil {
		return fmt.Errorf("reputation: storage unavailable")
	}
	return nil
}

// LoanEngine returns the registered writer, if any.
func (l *Ledger) LoanEngine() (crypto.Address, bool, error) {
	if err := l.ready(); err != nil {
		return crypto.Address{}, false, err
	}
	var stored storedAddress
	ok, err := l.store.KVGet(loanEngineKey, &stored)
	if err != nil || !ok {
		return crypto.Address{}, false, err
	}
	return stored.Address, true, nil
}

// SetLoanEngine registers the only address allowed to adjust scores. It can
// be assigned once, by the authority.
func (l *Ledger) SetLoanEngine(caller, engine crypto.Address) error {
	if err := l.ready(); err != nil {
		return err
	}
	if l.authority == crypto.ZeroAddress || caller != l.authority {
		return coreerrors.ErrNotAuthorized
	}
	if _, ok, err := l.LoanEngine(); err != nil {
		return err
	} else if ok {
		return coreerrors.ErrAlreadySet
	}
	if engine == crypto.ZeroAddress {
		return coreerrors.ErrInvalidAddress
	}
	if err := l.store.KVPut(loanEngineKey, &storedAddress{Address: engine}); err != nil {
		return err
	}
	l.emitter.Emit(&types.Event{Type: EventTypeLoanEngineSet, Attributes: map[string]string{
		"engine": strings.ToLower(engine.Hex()),
	}})
	return nil
}

// RecordOf returns the full reputation record of identity. Unknown identities
// have a zero record.
func (l *Ledger) RecordOf(identity crypto.Address) (Record, error) {
	if err := l.ready(); err != nil {
		return Record{}, err
	}
	var stored storedRecord
	ok, err := l.store.KVGet(recordKey(identity), &stored)
	if err != nil {
		return Record{}, err
	}
	if !ok {
		return Record{}, nil
	}
	return stored.toRecord(), nil
}

// ScoreOf returns the score of identity, defaulting to zero.
func (l *Ledger) ScoreOf(identity crypto.Address) (int64, error) {
	record, err := l.RecordOf(identity)
	if err != nil {
		return 0, err
	}
	return record.Score, nil
}

// Credit raises the score of identity by amount.
func (l *Ledger) Credit(caller, identity crypto.Address, amount int64) error {
	return l.adjust(caller, identity, amount, false)
}

// Penalize lowers the score of identity by amount. Scores may go negative.
func (l *Ledger) Penalize(caller, identity crypto.Address, amount int64) error {
	return l.adjust(caller, identity, amount, true)
}

func (l *Ledger) adjust(caller, identity crypto.Address, amount int64, penalty bool) error {
	if err := l.ready(); err != nil {
		return err
	}
	engine, ok, err := l.LoanEngine()
	if err != nil {
		return err
	}
	if !ok || caller != engine {
		return coreerrors.ErrNotAuthorized
	}
	if amount <= 0 || amount > l.maxAdjustment {
		return coreerrors.Wrap(coreerrors.ErrInvalidAdjustment, "magnitude %d outside (0, %d]", amount, l.maxAdjustment)
	}
	record, err := l.RecordOf(identity)
	if err != nil {
		return err
	}
	delta := amount
	kind := EventTypeCredited
	if penalty {
		delta = -amount
		kind = EventTypePenalized
		if record.Score < math.MinInt64+amount {
			return fmt.Errorf("reputation: score underflow for %s", identity.Hex())
		}
		record.Penalties++
	} else {
		if record.Score > math.MaxInt64-amount {
			return fmt.Errorf("reputation: score overflow for %s", identity.Hex())
		}
		record.Credits++
	}
	record.Score += delta
	if err := l.store.KVPut(recordKey(identity), newStoredRecord(record)); err != nil {
		return err
	}
	l.emitter.Emit(newAdjustmentEvent(kind, identity, delta, record))
	return nil
}

package bank

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"

	coreerrors "factorchain/core/errors"
	"factorchain/core/events"
	"factorchain/core/types"
	"factorchain/crypto"
)

const (
	EventTypeTransfer = "bank.transfer"
	EventTypeDeposit  = "bank.deposit"
)

// storage abstracts the subset of state manager functionality required by the
// balance ledger.
type storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

var (
	balancePrefix = []byte("bank/balance/")
	supplyKey     = []byte("bank/supply")
)

func balanceKey(addr crypto.Address) []byte {
	return []byte(fmt.Sprintf("%s%x", balancePrefix, addr.Bytes()))
}

// Ledger tracks balances of the settlement unit. Balances never go negative
// and every movement is a debit/credit pair, so the total supply only changes
// through Deposit.
type Ledger struct {
	store     storage
	authority crypto.Address
	emitter   events.Emitter
}

// NewLedger constructs a ledger bound to the provided storage backend.
func NewLedger(store storage) *Ledger {
	return &Ledger{store: store, emitter: events.NoopEmitter{}}
}

// SetAuthority configures the account allowed to deposit new funds.
func (l *Ledger) SetAuthority(addr crypto.Address) {
	if l == nil {
		return
	}
	l.authority = addr
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

// BalanceOf returns the balance held by addr. Unknown accounts hold zero.
func (l *Ledger) BalanceOf(addr crypto.Address) (*big.Int, error) {
	if l == nil || l.store == nil {
		return nil, fmt.Errorf("bank: ledger not initialised")
	}
	balance := new(big.Int)
	ok, err := l.store.KVGet(balanceKey(addr), balance)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return balance, nil
}

// Supply returns the total deposited value.
func (l *Ledger) Supply() (*big.Int, error) {
	supply := new(big.Int)
	ok, err := l.store.KVGet(supplyKey, supply)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return supply, nil
}

func (l *Ledger) setBalance(addr crypto.Address, balance *big.Int) error {
	if _, overflow := uint256.FromBig(balance); overflow {
		return fmt.Errorf("bank: balance overflow for %s", addr.Hex())
	}
	return l.store.KVPut(balanceKey(addr), balance)
}

// Transfer moves amount from one account to another. A zero amount is a
// no-op; negative amounts are rejected.
func (l *Ledger) Transfer(from, to crypto.Address, amount *big.Int) error {
	if l == nil || l.store == nil {
		return fmt.Errorf("bank: ledger not initialised")
	}
	if amount == nil || amount.Sign() < 0 {
		return coreerrors.ErrInvalidAmount
	}
	if amount.Sign() == 0 || from == to {
		return nil
	}
	if to == crypto.ZeroAddress {
		return coreerrors.ErrInvalidAddress
	}
	fromBal, err := l.BalanceOf(from)
	if err != nil {
		return err
	}
	if fromBal.Cmp(amount) < 0 {
		return coreerrors.Wrap(coreerrors.ErrInsufficientBalance, "%s holds %s, needs %s", from.Hex(), fromBal, amount)
	}
	toBal, err := l.BalanceOf(to)
	if err != nil {
		return err
	}
	if err := l.setBalance(from, new(big.Int).Sub(fromBal, amount)); err != nil {
		return err
	}
	if err := l.setBalance(to, new(big.Int).Add(toBal, amount)); err != nil {
		return err
	}
	l.emitter.Emit(&types.Event{Type: EventTypeTransfer, Attributes: map[string]string{
		"from":   strings.ToLower(from.Hex()),
		"to":     strings.ToLower(to.Hex()),
		"amount": amount.String(),
	}})
	return nil
}

// Deposit credits new funds to an account. Only the authority may deposit.
func (l *Ledger) Deposit(caller, to crypto.Address, amount *big.Int) error {
	if l == nil || l.store == nil {
		return fmt.Errorf("bank: ledger not initialised")
	}
	if l.authority == crypto.ZeroAddress || caller != l.authority {
		return coreerrors.ErrNotAuthorized
	}
	if amount == nil || amount.Sign() <= 0 {
		return coreerrors.ErrInvalidAmount
	}
	if to == crypto.ZeroAddress {
		return coreerrors.ErrInvalidAddress
	}
	balance, err := l.BalanceOf(to)
	if err != nil {
		return err
	}
	supply, err := l.Supply()
	if err != nil {
		return err
	}
	if err := l.setBalance(to, new(big.Int).Add(balance, amount)); err != nil {
		return err
	}
	newSupply := new(big.Int).Add(supply, amount)
	if _, overflow := uint256.FromBig(newSupply); overflow {
		return fmt.Errorf("bank: supply overflow")
	}
	if err := l.store.KVPut(supplyKey, newSupply); err != nil {
		return err
	}
	l.emitter.Emit(&types.Event{Type: EventTypeDeposit, Attributes: map[string]string{
		"to":     strings.ToLower(to.Hex()),
		"amount": amount.String(),
	}})
	return nil
}

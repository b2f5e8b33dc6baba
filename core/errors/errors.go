// Package errors defines the failure taxonomy shared by the invoice registry,
// the reputation ledger and the factoring engine. Every sentinel carries a
// Kind so callers can branch on the category ("try again differently", "not
// your action", "too late") without enumerating individual failures.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind groups related failures.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindValidation
	KindAuthorization
	KindState
	KindAmountMismatch
	KindNotFound
	KindConfiguration
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthorization:
		return "authorization"
	case KindState:
		return "state"
	case KindAmountMismatch:
		return "amount_mismatch"
	case KindNotFound:
		return "not_found"
	case KindConfiguration:
		return "configuration"
	default:
		return "unknown"
	}
}

// Error implements error so a Kind can be used as an errors.Is target.
func (k Kind) Error() string { return k.String() }

// Error is a classified failure. Sentinels are compared by identity; the Kind
// is also reported through Is so errors.Is(err, KindState) works.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Is reports whether target is this sentinel or its Kind.
func (e *Error) Is(target error) bool {
	switch t := target.(type) {
	case Kind:
		return e.Kind == t
	case *Error:
		return e == t
	}
	return false
}

func newError(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

var (
	ErrInvalidAmount     = newError(KindValidation, "invalid_amount", "invoice: amount must be positive and fit in 256 bits")
	ErrInvalidDueDate    = newError(KindValidation, "invalid_due_date", "invoice: due date must be in the future")
	ErrInvalidRate       = newError(KindValidation, "invalid_rate", "invoice: interest rate must be at most 10000 bps")
	ErrInvalidAddress    = newError(KindValidation, "invalid_address", "address must not be zero")
	ErrInvalidAdjustment = newError(KindValidation, "invalid_adjustment", "reputation: adjustment out of bounds")

	ErrNotAuthorized = newError(KindAuthorization, "not_authorized", "not authorized")
	ErrSelfFunding   = newError(KindAuthorization, "self_funding", "factoring: owner cannot fund own invoice")

	ErrAlreadyPaid          = newError(KindState, "already_paid", "invoice: already paid")
	ErrAlreadyFunded        = newError(KindState, "already_funded", "factoring: invoice already funded")
	ErrAlreadyResolved      = newError(KindState, "already_resolved", "factoring: loan already resolved")
	ErrTooEarly             = newError(KindState, "too_early", "factoring: loan not yet due")
	ErrEscrowTransferFailed = newError(KindState, "escrow_transfer_failed", "factoring: escrow transfer failed")
	ErrInsufficientBalance  = newError(KindState, "insufficient_balance", "bank: insufficient balance")
	ErrModulePaused         = newError(KindState, "module_paused", "module paused")
	ErrInvoiceEscrowed      = newError(KindState, "invoice_escrowed", "invoice: held in escrow")

	ErrWrongAmount = newError(KindAmountMismatch, "wrong_amount", "factoring: payment does not match required amount")

	ErrNotFound = newError(KindNotFound, "not_found", "not found")

	ErrAlreadySet = newError(KindConfiguration, "already_set", "address already set")
)

// KindOf returns the Kind of the first classified error in err's chain.
func KindOf(err error) Kind {
	var classified *Error
	if stderrors.As(err, &classified) {
		return classified.Kind
	}
	return KindUnknown
}

// CodeOf returns the machine-readable code of the first classified error in
// err's chain, or "internal" when none is present.
func CodeOf(err error) string {
	var classified *Error
	if stderrors.As(err, &classified) {
		return classified.Code
	}
	return "internal"
}

// Wrap annotates a sentinel with context while keeping it matchable.
func Wrap(sentinel *Error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}

package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
)

func TestKindMatching(t *testing.T) {
	wrapped := fmt.Errorf("fund invoice 3: %w", ErrWrongAmount)
	if !stderrors.Is(wrapped, ErrWrongAmount) {
		t.Fatalf("expected sentinel match through wrapping")
	}
	if !stderrors.Is(wrapped, KindAmountMismatch) {
		t.Fatalf("expected kind match through wrapping")
	}
	if stderrors.Is(wrapped, KindState) {
		t.Fatalf("unexpected state kind match")
	}
	if stderrors.Is(wrapped, ErrAlreadyPaid) {
		t.Fatalf("distinct sentinels must not match")
	}
	if KindOf(wrapped) != KindAmountMismatch {
		t.Fatalf("unexpected kind %s", KindOf(wrapped))
	}
	if CodeOf(wrapped) != "wrong_amount" {
		t.Fatalf("unexpected code %s", CodeOf(wrapped))
	}
}

func TestKindOfUnclassified(t *testing.T) {
	err := stderrors.New("boom")
	if KindOf(err) != KindUnknown {
		t.Fatalf("expected unknown kind")
	}
	if CodeOf(err) != "internal" {
		t.Fatalf("expected internal code")
	}
}

func TestWrapKeepsSentinel(t *testing.T) {
	err := Wrap(ErrNotFound, "invoice %d", 9)
	if !stderrors.Is(err, ErrNotFound) || !stderrors.Is(err, KindNotFound) {
		t.Fatalf("wrapped error lost its classification: %v", err)
	}
	if err.Error() != "not found: invoice 9" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestSentinelKinds(t *testing.T) {
	cases := map[*Error]Kind{
		ErrInvalidAmount:        KindValidation,
		ErrInvalidDueDate:       KindValidation,
		ErrInvalidRate:          KindValidation,
		ErrNotAuthorized:        KindAuthorization,
		ErrSelfFunding:          KindAuthorization,
		ErrAlreadyPaid:          KindState,
		ErrAlreadyFunded:        KindState,
		ErrAlreadyResolved:      KindState,
		ErrTooEarly:             KindState,
		ErrEscrowTransferFailed: KindState,
		ErrInvoiceEscrowed:      KindState,
		ErrWrongAmount:          KindAmountMismatch,
		ErrNotFound:             KindNotFound,
		ErrAlreadySet:           KindConfiguration,
	}
	for sentinel, kind := range cases {
		if sentinel.Kind != kind {
			t.Fatalf("%s: expected kind %s got %s", sentinel.Code, kind, sentinel.Kind)
		}
	}
}

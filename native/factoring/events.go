package factoring

import (
	"strconv"
	"strings"

	"factorchain/core/types"
	"factorchain/crypto"
)

const (
	EventTypeLoanFunded    = "loan.funded"
	EventTypeLoanRepaid    = "loan.repaid"
	EventTypeLoanDefaulted = "loan.defaulted"
	EventTypeOracleSet     = "factoring.oracle_set"
)

func newLoanEvent(kind string, l *Loan) *types.Event {
	attrs := map[string]string{
		"invoiceId":       strconv.FormatUint(l.InvoiceID, 10),
		"lender":          strings.ToLower(l.Lender.Hex()),
		"borrower":        strings.ToLower(l.Borrower.Hex()),
		"amount":          l.Amount.String(),
		"status":          l.Status.String(),
		"interestRateBps": strconv.FormatUint(uint64(l.InterestRateBps), 10),
		"dueDate":         strconv.FormatInt(l.DueDate, 10),
		"fundedAt":        strconv.FormatInt(l.FundedAt, 10),
	}
	if l.ResolvedAt > 0 {
		attrs["resolvedAt"] = strconv.FormatInt(l.ResolvedAt, 10)
	}
	return &types.Event{Type: kind, Attributes: attrs}
}

// NewFundedEvent returns the canonical payload for a funded loan.
func NewFundedEvent(l *Loan) *types.Event { return newLoanEvent(EventTypeLoanFunded, l) }

// NewRepaidEvent returns the canonical payload for a repaid loan, including
// the total amount paid back.
func NewRepaidEvent(l *Loan) *types.Event {
	evt := newLoanEvent(EventTypeLoanRepaid, l)
	evt.Attributes["repaid"] = l.RepaymentDue().String()
	return evt
}

// NewDefaultedEvent returns the canonical payload for a defaulted loan.
func NewDefaultedEvent(l *Loan) *types.Event { return newLoanEvent(EventTypeLoanDefaulted, l) }

func newOracleSetEvent(oracle crypto.Address) *types.Event {
	return &types.Event{Type: EventTypeOracleSet, Attributes: map[string]string{
		"oracle": strings.ToLower(oracle.Hex()),
	}}
}

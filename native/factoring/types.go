package factoring

import (
	"fmt"
	"math/big"
	"strings"

	"factorchain/crypto"
)

// Status tracks the lifecycle of a loan. Funded is the only non-terminal
// state; an unfunded invoice simply has no loan record.
type Status uint8

const (
	StatusFunded Status = iota + 1
	StatusRepaid
	StatusDefaulted
)

func (s Status) String() string {
	switch s {
	case StatusFunded:
		return "funded"
	case StatusRepaid:
		return "repaid"
	case StatusDefaulted:
		return "defaulted"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusRepaid || s == StatusDefaulted
}

// ParseStatus converts the textual form produced by String.
func ParseStatus(raw string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "funded":
		return StatusFunded, nil
	case "repaid":
		return StatusRepaid, nil
	case "defaulted":
		return StatusDefaulted, nil
	default:
		return 0, fmt.Errorf("factoring: unknown loan status %q", raw)
	}
}

// Loan records the financing of one invoice. Amount equals the invoice face
// value at funding time and the borrower is whoever owned the invoice then.
type Loan struct {
	InvoiceID       uint64
	Amount          *big.Int
	Lender          crypto.Address
	Borrower        crypto.Address
	Status          Status
	FundedAt        int64
	InterestRateBps uint32
	DueDate         int64
	ResolvedAt      int64
}

// Clone returns a deep copy of the loan.
func (l *Loan) Clone() *Loan {
	if l == nil {
		return nil
	}
	clone := *l
	if l.Amount != nil {
		clone.Amount = new(big.Int).Set(l.Amount)
	}
	return &clone
}

// RepaymentDue returns principal plus interest: amount + amount*bps/10000,
// rounded down.
func (l *Loan) RepaymentDue() *big.Int {
	if l == nil || l.Amount == nil {
		return big.NewInt(0)
	}
	interest := new(big.Int).Mul(l.Amount, big.NewInt(int64(l.InterestRateBps)))
	interest.Quo(interest, basisPoints)
	return interest.Add(interest, l.Amount)
}

// Filter narrows Loans listings. Zero values match everything.
type Filter struct {
	Status   Status
	Lender   crypto.Address
	Borrower crypto.Address
	Offset   int
	Limit    int
}

func (f Filter) matches(l *Loan) bool {
	if f.Status != 0 && l.Status != f.Status {
		return false
	}
	if f.Lender != crypto.ZeroAddress && l.Lender != f.Lender {
		return false
	}
	if f.Borrower != crypto.ZeroAddress && l.Borrower != f.Borrower {
		return false
	}
	return true
}

type storedLoan struct {
	InvoiceID       uint64
	Amount          *big.Int
	Lender          crypto.Address
	Borrower        crypto.Address
	Status          uint8
	FundedAt        uint64
	InterestRateBps uint32
	DueDate         uint64
	ResolvedAt      uint64
}

func (s *storedLoan) toLoan() *Loan {
	amount := new(big.Int)
	if s.Amount != nil {
		amount.Set(s.Amount)
	}
	return &Loan{
		InvoiceID:       s.InvoiceID,
		Amount:          amount,
		Lender:          s.Lender,
		Borrower:        s.Borrower,
		Status:          Status(s.Status),
		FundedAt:        int64(s.FundedAt),
		InterestRateBps: s.InterestRateBps,
		DueDate:         int64(s.DueDate),
		ResolvedAt:      int64(s.ResolvedAt),
	}
}

func newStoredLoan(l *Loan) *storedLoan {
	return &storedLoan{
		InvoiceID:       l.InvoiceID,
		Amount:          new(big.Int).Set(l.Amount),
		Lender:          l.Lender,
		Borrower:        l.Borrower,
		Status:          uint8(l.Status),
		FundedAt:        uint64(l.FundedAt),
		InterestRateBps: l.InterestRateBps,
		DueDate:         uint64(l.DueDate),
		ResolvedAt:      uint64(l.ResolvedAt),
	}
}

package reputation

import (
	"math/big"
)

// DefaultMaxAdjustment bounds the magnitude of a single credit or penalty.
const DefaultMaxAdjustment int64 = 1_000_000

// Record is the reputation state tracked per identity. Credits and Penalties
// count resolved loans so downstream risk models can derive a repayment
// ratio.
type Record struct {
	Score     int64
	Credits   uint64
	Penalties uint64
}

// RepaidRatio returns credits over resolved loans in basis points. Identities
// without history report zero.
func (r Record) RepaidRatio() uint64 {
	total := r.Credits + r.Penalties
	if total == 0 {
		return 0
	}
	return r.Credits * 10_000 / total
}

// storedRecord is the RLP form of Record. RLP has no signed integers, so the
// score is split into magnitude and sign.
type storedRecord struct {
	Magnitude uint64
	Negative  bool
	Credits   uint64
	Penalties uint64
}

func (s *storedRecord) toRecord() Record {
	score := int64(s.Magnitude)
	if s.Negative {
		score = -score
	}
	return Record{Score: score, Credits: s.Credits, Penalties: s.Penalties}
}

func newStoredRecord(r Record) *storedRecord {
	stored := &storedRecord{Credits: r.Credits, Penalties: r.Penalties}
	if r.Score < 0 {
		stored.Negative = true
		stored.Magnitude = uint64(-r.Score)
	} else {
		stored.Magnitude = uint64(r.Score)
	}
	return stored
}

// Policy decides how much a resolved loan moves the borrower's score. The
// ledger only enforces the bound; the formula is pluggable.
type Policy interface {
	CreditFor(amount *big.Int, fundedAt, resolvedAt, dueDate int64) int64
	PenaltyFor(amount *big.Int, fundedAt, resolvedAt, dueDate int64) int64
}

// DefaultPolicy scales adjustments with the loan amount: Base plus one point
// per UnitSize of principal, capped at Max. Penalties are multiplied by
// PenaltyMultiplier.
type DefaultPolicy struct {
	Base              int64
	UnitSize          *big.Int
	PenaltyMultiplier int64
	Max               int64
}

// NewDefaultPolicy returns the policy used when none is configured: 10 points
// plus one per 10^18 base units, penalties doubled, capped at 1000.
func NewDefaultPolicy() DefaultPolicy {
	return DefaultPolicy{
		Base:              10,
		UnitSize:          new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil),
		PenaltyMultiplier: 2,
		Max:               1_000,
	}
}

func (p DefaultPolicy) scaled(amount *big.Int) int64 {
	value := p.Base
	if amount != nil && amount.Sign() > 0 && p.UnitSize != nil && p.UnitSize.Sign() > 0 {
		units := new(big.Int).Quo(amount, p.UnitSize)
		if units.IsInt64() {
			value += units.Int64()
		} else {
			value = p.Max
		}
	}
	return p.clamp(value)
}

func (p DefaultPolicy) clamp(value int64) int64 {
	if value < 1 {
		value = 1
	}
	if p.Max > 0 && value > p.Max {
		value = p.Max
	}
	return value
}

// CreditFor implements Policy.
func (p DefaultPolicy) CreditFor(amount *big.Int, _, _, _ int64) int64 {
	return p.scaled(amount)
}

// PenaltyFor implements Policy.
func (p DefaultPolicy) PenaltyFor(amount *big.Int, _, _, _ int64) int64 {
	mult := p.PenaltyMultiplier
	if mult < 1 {
		mult = 1
	}
	base := p.scaled(amount)
	if p.Max > 0 && base > p.Max/mult {
		return p.Max
	}
	return p.clamp(base * mult)
}

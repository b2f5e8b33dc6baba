package invoice

import (
	"math/big"

	"factorchain/crypto"
)

// MaxInterestRateBps is the upper bound for the rate fixed at mint time.
const MaxInterestRateBps uint32 = 10_000

// Invoice is a uniquely identified receivable. Ownership moves only through
// TransferOwnership; Paid flips to true at most once.
type Invoice struct {
	ID              uint64
	MetadataURI     string
	Amount          *big.Int
	Debtor          crypto.Address
	DueDate         int64
	InterestRateBps uint32
	Paid            bool
	Owner           crypto.Address
	Issuer          crypto.Address
	CreatedAt       int64
}

// Clone returns a deep copy of the invoice.
func (i *Invoice) Clone() *Invoice {
	if i == nil {
		return nil
	}
	clone := *i
	if i.Amount != nil {
		clone.Amount = new(big.Int).Set(i.Amount)
	}
	return &clone
}

// MintParams groups the caller-supplied invoice terms.
type MintParams struct {
	MetadataURI     string
	Amount          *big.Int
	Debtor          crypto.Address
	DueDate         int64
	InterestRateBps uint32
}

type storedInvoice struct {
	ID              uint64
	MetadataURI     string
	Amount          *big.Int
	Debtor          crypto.Address
	DueDate         uint64
	InterestRateBps uint32
	Paid            bool
	Owner           crypto.Address
	Issuer          crypto.Address
	CreatedAt       uint64
}

func (s *storedInvoice) toInvoice() *Invoice {
	amount := new(big.Int)
	if s.Amount != nil {
		amount.Set(s.Amount)
	}
	return &Invoice{
		ID:              s.ID,
		MetadataURI:     s.MetadataURI,
		Amount:          amount,
		Debtor:          s.Debtor,
		DueDate:         int64(s.DueDate),
		InterestRateBps: s.InterestRateBps,
		Paid:            s.Paid,
		Owner:           s.Owner,
		Issuer:          s.Issuer,
		CreatedAt:       int64(s.CreatedAt),
	}
}

func newStoredInvoice(inv *Invoice) *storedInvoice {
	return &storedInvoice{
		ID:              inv.ID,
		MetadataURI:     inv.MetadataURI,
		Amount:          new(big.Int).Set(inv.Amount),
		Debtor:          inv.Debtor,
		DueDate:         uint64(inv.DueDate),
		InterestRateBps: inv.InterestRateBps,
		Paid:            inv.Paid,
		Owner:           inv.Owner,
		Issuer:          inv.Issuer,
		CreatedAt:       uint64(inv.CreatedAt),
	}
}

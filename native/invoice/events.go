package invoice

import (
	"strconv"
	"strings"

	"factorchain/core/types"
	"factorchain/crypto"
)

const (
	EventTypeMinted        = "invoice.minted"
	EventTypeTransfer      = "invoice.transfer"
	EventTypeApproval      = "invoice.approval"
	EventTypePaid          = "invoice.paid"
	EventTypeLoanEngineSet = "invoice.loan_engine_set"
)

func formatAddress(addr crypto.Address) string {
	return strings.ToLower(addr.Hex())
}

// NewMintedEvent returns the canonical payload for a newly minted invoice.
func NewMintedEvent(inv *Invoice) *types.Event {
	return &types.Event{Type: EventTypeMinted, Attributes: map[string]string{
		"id":              strconv.FormatUint(inv.ID, 10),
		"issuer":          formatAddress(inv.Issuer),
		"debtor":          formatAddress(inv.Debtor),
		"amount":          inv.Amount.String(),
		"dueDate":         strconv.FormatInt(inv.DueDate, 10),
		"interestRateBps": strconv.FormatUint(uint64(inv.InterestRateBps), 10),
		"metadataURI":     inv.MetadataURI,
	}}
}

// NewTransferEvent records an ownership change. Mints use the zero address as
// the previous owner.
func NewTransferEvent(id uint64, from, to crypto.Address) *types.Event {
	return &types.Event{Type: EventTypeTransfer, Attributes: map[string]string{
		"id":   strconv.FormatUint(id, 10),
		"from": formatAddress(from),
		"to":   formatAddress(to),
	}}
}

func NewApprovalEvent(id uint64, owner, spender crypto.Address) *types.Event {
	return &types.Event{Type: EventTypeApproval, Attributes: map[string]string{
		"id":      strconv.FormatUint(id, 10),
		"owner":   formatAddress(owner),
		"spender": formatAddress(spender),
	}}
}

func NewPaidEvent(id uint64, by crypto.Address) *types.Event {
	return &types.Event{Type: EventTypePaid, Attributes: map[string]string{
		"id": strconv.FormatUint(id, 10),
		"by": formatAddress(by),
	}}
}

func NewLoanEngineSetEvent(engine crypto.Address) *types.Event {
	return &types.Event{Type: EventTypeLoanEngineSet, Attributes: map[string]string{
		"engine": formatAddress(engine),
	}}
}

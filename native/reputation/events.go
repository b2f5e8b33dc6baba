package reputation

import (
	"strconv"
	"strings"

	"factorchain/core/types"
	"factorchain/crypto"
)

const (
	EventTypeCredited      = "reputation.credited"
	EventTypePenalized     = "reputation.penalized"
	EventTypeLoanEngineSet = "reputation.loan_engine_set"
)

func newAdjustmentEvent(kind string, identity crypto.Address, delta int64, record Record) *types.Event {
	return &types.Event{Type: kind, Attributes: map[string]string{
		"identity": strings.ToLower(identity.Hex()),
		"delta":    strconv.FormatInt(delta, 10),
		"score":    strconv.FormatInt(record.Score, 10),
	}}
}

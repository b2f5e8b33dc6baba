package api

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"factorchain/crypto"
)

var (
	// ErrSignerMismatch is returned when the recovered signer differs from
	// the envelope's from field.
	ErrSignerMismatch = errors.New("envelope: signer does not match from")
	// ErrMalformedEnvelope covers missing or unparsable envelope fields.
	ErrMalformedEnvelope = errors.New("envelope: malformed")
)

// Envelope wraps the arguments of a mutating call with the caller identity,
// a replay nonce, an expiry and the caller's signature. Value carries the
// payment supplied with factoring_fund and factoring_repay.
type Envelope struct {
	From      string          `json:"from"`
	Nonce     uint64          `json:"nonce"`
	ExpiresAt int64           `json:"expiresAt"`
	Value     string          `json:"value,omitempty"`
	Args      json.RawMessage `json:"args"`
	Signature string          `json:"signature"`
}

type signedPayload struct {
	Method    string          `json:"method"`
	From      string          `json:"from"`
	Nonce     uint64          `json:"nonce"`
	ExpiresAt int64           `json:"expiresAt"`
	Value     string          `json:"value"`
	Args      json.RawMessage `json:"args"`
}

// Digest returns the keccak hash of the canonical payload: compact JSON of
// method, lower-case from, nonce, expiresAt, value and args, in that order.
func (e *Envelope) Digest(method string) ([]byte, error) {
	if e == nil {
		return nil, ErrMalformedEnvelope
	}
	args := e.Args
	if len(bytes.TrimSpace(args)) == 0 {
		args = json.RawMessage("null")
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, args); err != nil {
		return nil, fmt.Errorf("%w: args: %v", ErrMalformedEnvelope, err)
	}
	payload, err := json.Marshal(signedPayload{
		Method:    method,
		From:      strings.ToLower(strings.TrimSpace(e.From)),
		Nonce:     e.Nonce,
		ExpiresAt: e.ExpiresAt,
		Value:     strings.TrimSpace(e.Value),
		Args:      compact.Bytes(),
	})
	if err != nil {
		return nil, err
	}
	return ethcrypto.Keccak256(payload), nil
}

// Sign fills From and Signature using key.
func (e *Envelope) Sign(method string, key *crypto.PrivateKey) error {
	if e == nil || key == nil {
		return ErrMalformedEnvelope
	}
	e.From = strings.ToLower(key.Address().Hex())
	digest, err := e.Digest(method)
	if err != nil {
		return err
	}
	sig, err := crypto.SignText(key, digest)
	if err != nil {
		return err
	}
	e.Signature = "0x" + hex.EncodeToString(sig)
	return nil
}

// Verify recovers the signer and checks it against From.
func (e *Envelope) Verify(method string) (crypto.Address, error) {
	if e == nil {
		return crypto.Address{}, ErrMalformedEnvelope
	}
	from, err := crypto.ParseAddress(e.From)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("%w: from: %v", ErrMalformedEnvelope, err)
	}
	sig, err := decodeHex(e.Signature)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("%w: signature: %v", ErrMalformedEnvelope, err)
	}
	digest, err := e.Digest(method)
	if err != nil {
		return crypto.Address{}, err
	}
	signer, err := crypto.RecoverText(digest, sig)
	if err != nil {
		return crypto.Address{}, err
	}
	if signer != from {
		return crypto.Address{}, ErrSignerMismatch
	}
	return from, nil
}

// ParsedValue returns Value as a non-negative integer. An empty value is
// zero.
func (e *Envelope) ParsedValue() (*big.Int, error) {
	raw := strings.TrimSpace(e.Value)
	if raw == "" {
		return big.NewInt(0), nil
	}
	return ParseAmount(raw)
}

// ParseAmount parses a base-10 non-negative integer amount.
func ParseAmount(raw string) (*big.Int, error) {
	value, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	if value.Sign() < 0 {
		return nil, fmt.Errorf("amount must not be negative")
	}
	return value, nil
}

func decodeHex(raw string) ([]byte, error) {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(raw), "0x"), "0X")
	if trimmed == "" {
		return nil, fmt.Errorf("empty")
	}
	return hex.DecodeString(trimmed)
}

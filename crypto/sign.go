package crypto

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrInvalidSignature is returned when a signature cannot be recovered.
var ErrInvalidSignature = errors.New("crypto: invalid signature")

// SignText produces an EIP-191 personal signature over payload. The recovery
// id is normalised to 27/28 to match wallet output.
func SignText(key *PrivateKey, payload []byte) ([]byte, error) {
	if key == nil || key.PrivateKey == nil {
		return nil, errors.New("crypto: nil private key")
	}
	sig, err := crypto.Sign(accounts.TextHash(payload), key.PrivateKey)
	if err != nil {
		return nil, err
	}
	sig[64] += 27
	return sig, nil
}

// RecoverText returns the address that produced sig over payload using
// SignText semantics. Both 0/1 and 27/28 recovery ids are accepted.
func RecoverText(payload, sig []byte) (Address, error) {
	if len(sig) != crypto.SignatureLength {
		return Address{}, fmt.Errorf("%w: expected %d bytes", ErrInvalidSignature, crypto.SignatureLength)
	}
	normalized := make([]byte, len(sig))
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	if normalized[64] > 1 {
		return Address{}, fmt.Errorf("%w: bad recovery id", ErrInvalidSignature)
	}
	pub, err := crypto.SigToPub(accounts.TextHash(payload), normalized)
	if err != nil {
		return Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// ModuleAddress derives a deterministic account for a named module. The
// address has no private key, so funds held there move only through module
// logic.
func ModuleAddress(name string) Address {
	return common20(crypto.Keccak256([]byte("module/" + name)))
}

func common20(digest []byte) Address {
	var addr Address
	copy(addr[:], digest[len(digest)-20:])
	return addr
}

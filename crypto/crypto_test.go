package crypto

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSignAndRecover(t *testing.T) {
	key, err := GeneratePrivateKey()
	require.NoError(t, err)

	payload := []byte(`{"method":"factoring_fund"}`)
	sig, err := SignText(key, payload)
	require.NoError(t, err)
	require.Len(t, sig, 65)

	signer, err := RecoverText(payload, sig)
	require.NoError(t, err)
	require.Equal(t, key.Address(), signer)

	other, err := RecoverText([]byte("tampered"), sig)
	require.NoError(t, err)
	require.NotEqual(t, key.Address(), other)
}

func TestRecoverRejectsMalformedSignature(t *testing.T) {
	_, err := RecoverText([]byte("x"), []byte{1, 2, 3})
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestParseAddress(t *testing.T) {
	key, err := GeneratePrivateKey()
	require.NoError(t, err)
	parsed, err := ParseAddress(key.Address().Hex())
	require.NoError(t, err)
	require.Equal(t, key.Address(), parsed)

	_, err = ParseAddress("0x0000000000000000000000000000000000000000")
	require.Error(t, err)
	_, err = ParseAddress("nope")
	require.Error(t, err)
}

func TestModuleAddressDeterministic(t *testing.T) {
	require.Equal(t, ModuleAddress("factoring"), ModuleAddress("factoring"))
	require.NotEqual(t, ModuleAddress("factoring"), ModuleAddress("bank"))
}

func TestKeystoreRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "keys", "oracle.json")
	require.NoError(t, SaveToKeystore(path, key, "secret", WithLightKDF()))

	addr, err := KeystoreAddress(path)
	require.NoError(t, err)
	require.Equal(t, key.Address(), addr)

	loaded, err := LoadFromKeystore(path, "secret")
	require.NoError(t, err)
	require.Equal(t, key.Address(), loaded.Address())

	_, err = LoadFromKeystore(path, "wrong")
	require.Error(t, err)
}

package secp256k1

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/threefoldtech/walletcore/cryptoapi"
)

func TestPrivateKeyFromSeedDeterministic(t *testing.T) {
	c := New()
	a, err := c.PrivateKeyFromSeed("a@x\talice\tpw")
	require.NoError(t, err)
	b, err := c.PrivateKeyFromSeed("a@x\talice\tpw")
	require.NoError(t, err)
	require.Equal(t, a.ToWIF(), b.ToWIF())

	other, err := c.PrivateKeyFromSeed("a@x\talice\tother-pw")
	require.NoError(t, err)
	require.NotEqual(t, a.ToWIF(), other.ToWIF())
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c := New()
	key, err := c.PrivateKeyFromSeed("seed-1")
	require.NoError(t, err)

	payload := []byte(`{"chain_id":"chainA","k":1}`)
	ciphertext, err := c.Encrypt(payload, key.PublicKey())
	require.NoError(t, err)
	require.NotEqual(t, payload, ciphertext)

	plain, err := c.Decrypt(ciphertext, key)
	require.NoError(t, err)
	require.Equal(t, payload, plain)
}

func TestDecryptWrongKeyFails(t *testing.T) {
	c := New()
	key, err := c.PrivateKeyFromSeed("seed-1")
	require.NoError(t, err)
	other, err := c.PrivateKeyFromSeed("seed-2")
	require.NoError(t, err)

	ciphertext, err := c.Encrypt([]byte("secret"), key.PublicKey())
	require.NoError(t, err)

	_, err = c.Decrypt(ciphertext, other)
	require.Error(t, err)
}

func TestDecryptTooShortCiphertext(t *testing.T) {
	c := New()
	key, err := c.PrivateKeyFromSeed("seed-1")
	require.NoError(t, err)

	_, err = c.Decrypt([]byte("short"), key)
	require.ErrorIs(t, err, ErrCiphertextTooShort)
}

func TestSignProducesNonEmptySignature(t *testing.T) {
	c := New()
	key, err := c.PrivateKeyFromSeed("seed-1")
	require.NoError(t, err)

	sum := c.SHA256([]byte("hello"))
	sig, err := c.Sign(sum[:], key)
	require.NoError(t, err)
	require.NotEmpty(t, sig)
}

func TestWipeZeroesKey(t *testing.T) {
	c := New()
	key, err := c.PrivateKeyFromSeed("seed-1")
	require.NoError(t, err)
	wif := key.ToWIF()
	require.NotEmpty(t, wif)
	key.Wipe()
	require.NotEqual(t, wif, key.ToWIF())
	// Wipe is safe to call more than once.
	key.Wipe()
}

var _ cryptoapi.Crypto = New()

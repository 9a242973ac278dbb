// Package secp256k1 is the reference cryptoapi.Crypto adapter: secp256k1
// keys derived deterministically from the login seed string, WIF encoding
// for the verify_password comparison, and an ECIES-style seal (ephemeral
// ECDH + HKDF-SHA256 + AES-256-GCM) for the wallet object payload.
//
// The curve and WIF choices are grounded in the wider pack's wallet-daemon
// stack (backend-engineer1-land and degeri-dcrlnd both build on
// btcsuite/btcd's btcec, and other_examples' btcwallet/dcrwallet setup code
// derives a WIF the same way from a raw private scalar).
package secp256k1

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"golang.org/x/crypto/hkdf"

	"github.com/threefoldtech/walletcore/cryptoapi"
)

const (
	hkdfInfo  = "walletcore/secp256k1-ecies/v1"
	nonceSize = 12
	keySize   = 32
)

var (
	// ErrCiphertextTooShort is returned by Decrypt when the ciphertext is
	// too short to contain an ephemeral public key and nonce.
	ErrCiphertextTooShort = errors.New("secp256k1: ciphertext too short")
)

// Crypto implements cryptoapi.Crypto over secp256k1.
type Crypto struct{}

// New returns the reference secp256k1-backed Crypto adapter.
func New() Crypto { return Crypto{} }

// PrivateKey wraps a secp256k1 scalar.
type PrivateKey struct {
	key *btcec.PrivateKey
}

// PublicKey wraps a secp256k1 curve point.
type PublicKey struct {
	key *btcec.PublicKey
}

func (p PublicKey) Bytes() []byte { return p.key.SerializeCompressed() }

func (p *PrivateKey) PublicKey() cryptoapi.PublicKey {
	return PublicKey{key: p.key.PubKey()}
}

func (p *PrivateKey) ToWIF() string {
	wif, err := btcutil.NewWIF(p.key, &chaincfg.MainNetParams, true)
	if err != nil {
		// Only possible if the scalar were zero/out of range, which
		// PrivateKeyFromSeed never produces (it always parses 32 bytes via
		// btcec, which reduces into range).
		panic("secp256k1: unreachable WIF encoding failure: " + err.Error())
	}
	return wif.String()
}

func (p *PrivateKey) Wipe() {
	if p.key != nil {
		p.key.Zero()
	}
}

func (c Crypto) PrivateKeyFromSeed(seed string) (cryptoapi.PrivateKey, error) {
	digest := sha256.Sum256([]byte(seed))
	priv, _ := btcec.PrivKeyFromBytes(digest[:])
	return &PrivateKey{key: priv}, nil
}

func (c Crypto) SHA256(data []byte) [32]byte {
	return sha256.Sum256(data)
}

func (c Crypto) Sign(data []byte, priv cryptoapi.PrivateKey) ([]byte, error) {
	pk, ok := priv.(*PrivateKey)
	if !ok {
		return nil, errors.New("secp256k1: Sign called with a foreign PrivateKey implementation")
	}
	digest := sha256.Sum256(data)
	sig := ecdsa.Sign(pk.key, digest[:])
	return sig.Serialize(), nil
}

// Encrypt seals payload under pub using an ephemeral-ECDH + HKDF-SHA256 +
// AES-256-GCM scheme. The wire format is:
//
//	[33 bytes: ephemeral compressed pubkey][12 bytes: GCM nonce][sealed payload]
func (c Crypto) Encrypt(payload []byte, pub cryptoapi.PublicKey) ([]byte, error) {
	recipient, ok := pub.(PublicKey)
	if !ok {
		return nil, errors.New("secp256k1: Encrypt called with a foreign PublicKey implementation")
	}

	ephemeral, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, err
	}
	shared := ecdh(ephemeral, recipient.key)

	key, err := deriveAESKey(shared, ephemeral.PubKey().SerializeCompressed())
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	sealed := gcm.Seal(nil, nonce, payload, nil)

	out := make([]byte, 0, 33+nonceSize+len(sealed))
	out = append(out, ephemeral.PubKey().SerializeCompressed()...)
	out = append(out, nonce...)
	out = append(out, sealed...)
	return out, nil
}

func (c Crypto) Decrypt(ciphertext []byte, priv cryptoapi.PrivateKey) ([]byte, error) {
	pk, ok := priv.(*PrivateKey)
	if !ok {
		return nil, errors.New("secp256k1: Decrypt called with a foreign PrivateKey implementation")
	}
	if len(ciphertext) < 33+nonceSize {
		return nil, ErrCiphertextTooShort
	}
	ephemeralPubBytes := ciphertext[:33]
	nonce := ciphertext[33 : 33+nonceSize]
	sealed := ciphertext[33+nonceSize:]

	ephemeralPub, err := btcec.ParsePubKey(ephemeralPubBytes)
	if err != nil {
		return nil, err
	}
	shared := ecdh(pk.key, ephemeralPub)

	key, err := deriveAESKey(shared, ephemeralPubBytes)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return gcm.Open(nil, nonce, sealed, nil)
}

// ecdh computes the x-coordinate of priv*pub on the secp256k1 curve.
func ecdh(priv *btcec.PrivateKey, pub *btcec.PublicKey) []byte {
	var point btcec.JacobianPoint
	pub.AsJacobian(&point)

	var result btcec.JacobianPoint
	btcec.ScalarMultNonConst(&priv.Key, &point, &result)
	result.ToAffine()

	x := result.X.Bytes()
	return x[:]
}

func deriveAESKey(shared, salt []byte) ([]byte, error) {
	reader := hkdf.New(sha256.New, shared, salt, []byte(hkdfInfo))
	key := make([]byte, keySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, err
	}
	return key, nil
}

// Package cryptoapi defines the cryptographic contract the wallet engine
// consumes (§6.2 of the engine spec): deriving a key from a password seed,
// sealing/opening the JSON payload under that key, hashing, and signing.
// The engine never touches elliptic-curve math directly; cryptoapi.Crypto is
// the seam, and cryptoapi/secp256k1 is the reference adapter.
package cryptoapi

// PublicKey is an opaque public key handle.
type PublicKey interface {
	// Bytes returns the compressed public key encoding.
	Bytes() []byte
}

// PrivateKey is an opaque private key handle. Implementations must wipe
// secret material when asked (see Wipe) rather than relying on the garbage
// collector, matching the teacher's SecureWipe discipline in
// modules/wallet/encrypt.go.
type PrivateKey interface {
	PublicKey() PublicKey
	// ToWIF renders the key in Wallet Import Format, the canonical string
	// encoding verify_password compares for equality.
	ToWIF() string
	// Wipe zeroes the in-memory secret. Safe to call more than once.
	Wipe()
}

// Crypto is the external collaborator the wallet engine is built against.
type Crypto interface {
	// PrivateKeyFromSeed derives a deterministic private key from a seed
	// string built by the session manager as
	// lower(trim(email)) + "\t" + lower(trim(username)) + "\t" + password.
	PrivateKeyFromSeed(seed string) (PrivateKey, error)

	// Encrypt seals payload (a JSON document) so that only the holder of
	// the matching PrivateKey can open it.
	Encrypt(payload []byte, pub PublicKey) ([]byte, error)

	// Decrypt opens a ciphertext produced by Encrypt. Any authentication or
	// format failure must be returned as an error the caller can treat as
	// "wrong password" (wallet.ErrInvalidPassword wraps it).
	Decrypt(ciphertext []byte, priv PrivateKey) ([]byte, error)

	// SHA256 returns the 32-byte digest of data.
	SHA256(data []byte) [32]byte

	// Sign produces a detached signature over data under priv.
	Sign(data []byte, priv PrivateKey) ([]byte, error)
}

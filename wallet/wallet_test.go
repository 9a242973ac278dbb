package wallet

import (
	"github.com/threefoldtech/walletcore/cryptoapi/secp256k1"
	"github.com/threefoldtech/walletcore/store/memstore"
)

func strPtr(s string) *string { return &s }

// newTestContainer returns a Container over a fresh in-memory store and the
// reference secp256k1 crypto adapter, with no transport attached.
func newTestContainer() (*Container, *memstore.Store) {
	s := memstore.New()
	c := NewContainer(s, WithCrypto(secp256k1.New()))
	return c, s
}

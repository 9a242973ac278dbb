package wallet

// localHash returns the SHA-256 of the currently persisted ciphertext, or
// (nil, false) if no encrypted_wallet is stored yet (§4.2). Pure and
// deterministic: it never touches the transport or the in-memory tree.
func (c *Container) localHash() ([]byte, bool) {
	encoded, ok := c.store.Get(fieldEncryptedWallet)
	if !ok {
		return nil, false
	}
	ciphertext, err := decodeB64(encoded)
	if err != nil {
		return nil, false
	}
	sum := c.crypto.SHA256(ciphertext)
	return sum[:], true
}

// remoteHash returns the last-known remote hash persisted in the store, or
// (nil, false) if absent.
func (c *Container) remoteHash() ([]byte, bool) {
	encoded, ok := c.store.Get(fieldRemoteHash)
	if !ok {
		return nil, false
	}
	h, err := decodeB64(encoded)
	if err != nil || len(h) == 0 {
		return nil, false
	}
	return h, true
}

package wallet

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/threefoldtech/walletcore/cryptoapi"
	"github.com/threefoldtech/walletcore/transport"
	"github.com/threefoldtech/walletcore/valuetree"
)

// seedString builds the deterministic key-derivation seed from the three
// login credentials (§4.3).
func seedString(email, username, password string) string {
	return strings.ToLower(strings.TrimSpace(email)) + "\t" + strings.ToLower(strings.TrimSpace(username)) + "\t" + password
}

func isWeak(email, username string) bool {
	return strings.TrimSpace(email) == "" || strings.TrimSpace(username) == ""
}

// Login derives a private key from the three credentials and unlocks the
// container, following the three branches of §4.3. chainID may be empty to
// mean "not supplied".
func (c *Container) Login(ctx context.Context, email, username, password, chainID string) error {
	if password == "" {
		return newError(KindMissingField, "password")
	}

	key, err := c.crypto.PrivateKeyFromSeed(seedString(email, username, password))
	if err != nil {
		return err
	}
	weak := isWeak(email, username)

	return c.runNotified(func() error {
		switch {
		case c.store.Has(fieldEncryptedWallet):
			return c.loginDecrypt(ctx, key, chainID)
		default:
			c.mu.RLock()
			prepopulated := len(c.walletObject.Keys()) > 0
			c.mu.RUnlock()
			if prepopulated {
				return c.loginInitPrepopulated(ctx, key, chainID, weak)
			}
			return c.loginInitEmpty(ctx, key, chainID, weak)
		}
	})
}

func (c *Container) loginDecrypt(ctx context.Context, key cryptoapi.PrivateKey, chainID string) error {
	encoded, _ := c.store.Get(fieldEncryptedWallet)
	ciphertext, err := decodeB64(encoded)
	if err != nil {
		return wrapError(KindInvalidPassword, "stored ciphertext is not valid base64", err)
	}
	plain, err := c.crypto.Decrypt(ciphertext, key)
	if err != nil {
		return wrapError(KindInvalidPassword, "", err)
	}
	var decrypted valuetree.Value
	if err := json.Unmarshal(plain, &decrypted); err != nil {
		return wrapError(KindInvalidPassword, "decrypted payload is not valid JSON", err)
	}

	if err := c.checkSchemaVersion(decrypted); err != nil {
		return err
	}

	if chainID != "" {
		if decChain, ok := decrypted.Field(objFieldChainID); ok {
			if s, _ := decChain.String(); s != chainID {
				return newError(KindChainMismatch, "expected "+chainID+", wallet has "+s)
			}
		}
	}

	c.mu.Lock()
	c.walletObject = valuetree.Merge(decrypted, c.walletObject)
	c.privateKey = key
	c.mu.Unlock()
	c.setNotify(true)

	return c.sync(ctx, key)
}

func (c *Container) loginInitPrepopulated(ctx context.Context, key cryptoapi.PrivateKey, chainID string, weak bool) error {
	if weak && c.remoteCopyFlag() {
		return ErrWeakPassword
	}
	c.applyLoginDefaults(chainID, weak)

	if err := c.updateWallet(ctx, key); err != nil {
		return err
	}
	if err := c.sync(ctx, key); err != nil {
		return err
	}
	c.mu.Lock()
	c.privateKey = key
	c.mu.Unlock()
	return nil
}

func (c *Container) loginInitEmpty(ctx context.Context, key cryptoapi.PrivateKey, chainID string, weak bool) error {
	if weak && c.remoteCopyFlag() {
		return ErrWeakPassword
	}
	c.applyLoginDefaults(chainID, weak)

	if err := c.sync(ctx, key); err != nil {
		return err
	}

	// sync only pulls/pushes when the reconciliation decision table finds a
	// reason to (§4.4); if the server had nothing to offer (or there is no
	// transport at all, as in a fully offline first login) the locally
	// initialized defaults are never written. Persist them now so a fresh
	// wallet always survives past this call, matching the offline
	// first-login scenario.
	if !c.store.Has(fieldEncryptedWallet) {
		if err := c.updateWallet(ctx, key); err != nil {
			return err
		}
	}

	c.mu.RLock()
	finalChain, hasChain := c.walletObject.Field(objFieldChainID)
	c.mu.RUnlock()
	finalChainStr, _ := finalChain.String()
	if !hasChain || finalChainStr == "" {
		return newError(KindChainMismatch, "no chain_id available locally or from the remote wallet")
	}
	if chainID != "" && finalChainStr != chainID {
		return newError(KindChainMismatch, "expected "+chainID+", wallet has "+finalChainStr)
	}

	c.mu.Lock()
	c.privateKey = key
	c.mu.Unlock()
	return nil
}

// applyLoginDefaults sets the reserved fields a brand-new wallet object
// needs, never overwriting a key that is already present.
func (c *Container) applyLoginDefaults(chainID string, weak bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := nowISO8601()
	if chainID != "" {
		if _, ok := c.walletObject.Field(objFieldChainID); !ok {
			c.walletObject = c.walletObject.WithField(objFieldChainID, valuetree.StringValue(chainID))
		}
	}
	if _, ok := c.walletObject.Field(objFieldCreated); !ok {
		c.walletObject = c.walletObject.WithField(objFieldCreated, valuetree.StringValue(now))
	}
	c.walletObject = c.walletObject.WithField(objFieldLastModified, valuetree.StringValue(now))
	if _, ok := c.walletObject.Field(objFieldWeakPassword); !ok {
		c.walletObject = c.walletObject.WithField(objFieldWeakPassword, valuetree.BoolValue(weak))
	}
	if _, ok := c.walletObject.Field(objFieldSchemaVersion); !ok {
		c.walletObject = c.walletObject.WithField(objFieldSchemaVersion, valuetree.StringValue(SchemaVersion))
	}
}

// checkSchemaVersion fails closed with SchemaIncompatible if the decrypted
// wallet's schema_version carries a newer major version than this engine
// supports (§10.4).
func (c *Container) checkSchemaVersion(decrypted valuetree.Value) error {
	field, ok := decrypted.Field(objFieldSchemaVersion)
	if !ok {
		return nil
	}
	have, ok := field.String()
	if !ok || have == "" {
		return nil
	}
	haveVer, err := semver.NewVersion(have)
	if err != nil {
		return nil
	}
	wantVer := semver.MustParse(SchemaVersion)
	if haveVer.Major() > wantVer.Major() {
		return newError(KindSchemaIncompatible, have+" is newer than this engine's "+SchemaVersion)
	}
	return nil
}

// VerifyPassword re-derives a key from the given credentials and compares
// its WIF encoding to the active key's in constant time (§4.3).
func (c *Container) VerifyPassword(email, username, password string) (bool, error) {
	c.mu.RLock()
	key := c.privateKey
	c.mu.RUnlock()
	if key == nil {
		return false, ErrLocked
	}

	candidate, err := c.crypto.PrivateKeyFromSeed(seedString(email, username, password))
	if err != nil {
		return false, err
	}

	a := []byte(candidate.ToWIF())
	b := []byte(key.ToWIF())
	if len(a) != len(b) {
		return false, nil
	}
	return subtle.ConstantTimeCompare(a, b) == 1, nil
}

// Logout clears runtime state, tears down the transport subscription and
// connection (leaving persisted remote_url intact), and clears the private
// key (§4.3).
func (c *Container) Logout(ctx context.Context) error {
	return c.runNotified(func() error {
		c.mu.Lock()
		key := c.privateKey
		c.walletObject = valuetree.EmptyObject()
		c.remoteStatus = ""
		c.mu.Unlock()

		if c.transport != nil {
			if key != nil {
				if err := c.transport.FetchWalletUnsubscribe(ctx, key.PublicKey().Bytes()); err != nil {
					c.log.WithError(err).Warn("unsubscribe on logout")
				}
			}
			if err := c.transport.Close(); err != nil {
				c.log.WithError(err).Warn("closing transport on logout")
			}
		}

		c.mu.Lock()
		c.privateKey = nil
		c.subscribedAs = nil
		c.mu.Unlock()
		c.setNotify(true)
		return nil
	})
}

// ChangePassword rotates the unlock key, re-encrypting the wallet object
// and, when a remote copy is kept, proving ownership of both the old and
// new keys to the server atomically (§4.3).
func (c *Container) ChangePassword(ctx context.Context, password, email, username string) error {
	c.mu.RLock()
	oldKey := c.privateKey
	c.mu.RUnlock()
	if oldKey == nil {
		return ErrLocked
	}
	if !c.store.Has(fieldEncryptedWallet) {
		return ErrWalletEmpty
	}

	newKey, err := c.crypto.PrivateKeyFromSeed(seedString(email, username, password))
	if err != nil {
		return err
	}
	weak := isWeak(email, username)
	remoteCopy := c.remoteCopyFlag()
	if weak && remoteCopy {
		return ErrWeakPassword
	}

	return c.runNotified(func() error {
		return c.changePassword(ctx, oldKey, newKey, weak, remoteCopy)
	})
}

func (c *Container) changePassword(ctx context.Context, oldKey, newKey cryptoapi.PrivateKey, weak, remoteCopy bool) error {
	originalLocalHash, _ := c.localHash()

	if remoteCopy {
		remoteHashStr, _ := c.store.Get(fieldRemoteHash)
		if encodeB64(originalLocalHash) != remoteHashStr {
			return ErrWalletModified
		}
	}

	c.mu.Lock()
	c.walletObject = c.walletObject.WithField(objFieldLastModified, valuetree.StringValue(nowISO8601()))
	c.walletObject = c.walletObject.WithField(objFieldWeakPassword, valuetree.BoolValue(weak))
	tree := c.walletObject
	c.mu.Unlock()

	payload, err := json.Marshal(tree)
	if err != nil {
		return err
	}
	newCiphertext, err := c.crypto.Encrypt(payload, newKey.PublicKey())
	if err != nil {
		return err
	}
	encoded := encodeB64(newCiphertext)
	if err := c.store.SetState(map[string]*string{fieldEncryptedWallet: &encoded}); err != nil {
		return err
	}
	c.mu.Lock()
	c.localStatus = ""
	c.mu.Unlock()
	c.setNotify(true)

	if c.transport == nil || !remoteCopy {
		c.mu.Lock()
		c.privateKey = newKey
		c.mu.Unlock()
		return nil
	}

	if err := c.transport.FetchWalletUnsubscribe(ctx, oldKey.PublicKey().Bytes()); err != nil {
		c.log.WithError(err).Warn("unsubscribe old key during change_password")
	}
	c.mu.Lock()
	c.subscribedAs = nil
	c.mu.Unlock()

	newHash := c.crypto.SHA256(newCiphertext)
	originalSig, err := c.crypto.Sign(originalLocalHash, oldKey)
	if err != nil {
		c.mu.Lock()
		c.privateKey = newKey
		c.mu.Unlock()
		return err
	}
	newSig, err := c.crypto.Sign(newHash[:], newKey)
	if err != nil {
		c.mu.Lock()
		c.privateKey = newKey
		c.mu.Unlock()
		return err
	}

	res, err := c.transport.ChangePassword(ctx, originalLocalHash, originalSig, newCiphertext, newSig)

	c.mu.Lock()
	c.privateKey = newKey
	c.mu.Unlock()

	if err != nil {
		return err
	}
	if res.StatusText != transport.StatusOK {
		return wrapError(KindTransportError, string(res.StatusText), nil)
	}
	hashEnc := encodeB64(res.LocalHash)
	updated := res.Updated
	if err := c.store.SetState(map[string]*string{fieldRemoteHash: &hashEnc, fieldRemoteUpdatedDate: &updated}); err != nil {
		return err
	}
	return nil
}

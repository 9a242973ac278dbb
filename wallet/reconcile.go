package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"

	"github.com/threefoldtech/walletcore/cryptoapi"
	"github.com/threefoldtech/walletcore/transport"
	"github.com/threefoldtech/walletcore/valuetree"
)

func (c *Container) remoteCopyFlag() bool {
	v, ok := c.store.Get(fieldRemoteCopy)
	return ok && v == "true"
}

// sync drives the reconciliation engine (§4.4). A no-op if locked (callers
// already check this) or if no transport is configured.
func (c *Container) sync(ctx context.Context, key cryptoapi.PrivateKey) error {
	if c.transport == nil {
		return nil
	}
	pk := key.PublicKey().Bytes()

	c.mu.RLock()
	active := c.subscribedAs != nil && bytes.Equal(c.subscribedAs, pk)
	c.mu.RUnlock()

	if !active {
		lh, _ := c.localHash()
		c.mu.Lock()
		c.subscribedAs = pk
		c.mu.Unlock()

		// The transport contract guarantees the initial response arrives
		// synchronously, inside this FetchWallet call, before any genuine
		// server-side push can occur (§6.3). That first callback runs
		// directly under sync's own caller (Login/GetState's enclosing
		// runNotified), so its error and notification both bubble up
		// through this return rather than through a nested dispatch cycle
		// — nesting here would fire subscribers twice for one user call.
		// Only later, truly asynchronous pushes get their own cycle.
		var mu sync.Mutex
		initial := true
		var initialErr error

		push := func(sw transport.ServerWallet) {
			mu.Lock()
			isInitial := initial
			initial = false
			mu.Unlock()

			if isInitial {
				initialErr = c.handleFetch(ctx, sw, key)
				return
			}

			// A transport that broadcasts synchronously (memtransport,
			// wsserver) can echo this container's own in-flight
			// update_wallet/delete_remote_wallet call back through this
			// same push, still nested inside the call that caused it.
			// handleFetch's own updateMu try-lock will skip the decision
			// table for that echo, but wrapping it in runNotified here
			// would still open a second, nested dispatch cycle for the
			// bookkeeping-only change it makes — breaking "exactly one
			// notification" for the operation already in flight. Route
			// the echo straight through and let that operation's own
			// enclosing dispatch pick up the dirty flag instead.
			if !c.updateMu.TryLock() {
				if err := c.handleFetch(ctx, sw, key); err != nil {
					c.log.WithError(err).Warn("fetch handler returned an error")
				}
				return
			}
			c.updateMu.Unlock()

			if err := c.runNotified(func() error {
				return c.handleFetch(ctx, sw, key)
			}); err != nil {
				c.log.WithError(err).Warn("fetch handler returned an error")
			}
		}
		if err := c.transport.FetchWallet(ctx, pk, lh, push); err != nil {
			return err
		}
		return initialErr
	}

	status := c.RemoteStatus()
	if status != transport.StatusNoContent && status != transport.StatusNotModified {
		return nil
	}
	if status == transport.StatusNotModified && !c.remoteCopyFlag() {
		return c.deleteRemoteWallet(ctx, key, nil)
	}
	return c.updateWallet(ctx, key)
}

// handleFetch processes one server_wallet callback — the initial fetch
// response or a later push — and runs the decision table (§4.4).
func (c *Container) handleFetch(ctx context.Context, sw transport.ServerWallet, key cryptoapi.PrivateKey) error {
	pk := key.PublicKey().Bytes()

	hasLocal := c.store.Has(fieldEncryptedWallet)
	var localHash []byte
	if hasLocal {
		localHash, _ = c.localHash()
	}
	oldHash, _ := c.remoteHash()
	newHash := sw.LocalHash
	hasRemote := len(newHash) > 0

	// Persist remote_hash up front: it reflects server truth regardless of
	// what the decision table below ends up doing.
	if hasRemote {
		v := encodeB64(newHash)
		if err := c.store.SetState(map[string]*string{fieldRemoteHash: &v}); err != nil {
			return err
		}
	} else {
		if err := c.store.SetState(map[string]*string{fieldRemoteHash: nil}); err != nil {
			return err
		}
	}

	statusText := sw.StatusText
	if statusText == "" {
		switch {
		case !hasRemote:
			statusText = transport.StatusNoContent
		case bytes.Equal(localHash, newHash):
			statusText = transport.StatusNotModified
		default:
			statusText = transport.StatusOK
		}
	}

	c.mu.Lock()
	changed := c.remoteStatus != statusText
	c.remoteStatus = statusText
	c.mu.Unlock()
	if changed {
		c.setNotify(true)
	}

	dedupeKey := string(pk) + "|" + string(newHash)
	if _, seen := c.seenPushes.Get(dedupeKey); seen {
		return nil
	}
	c.seenPushes.Add(dedupeKey, struct{}{})

	// A transport may deliver the push that announces our own write as a
	// synchronous echo of the CreateWallet/SaveWallet/DeleteWallet call
	// that caused it, before update_wallet/delete_remote_wallet has had a
	// chance to record the result itself (memtransport and wsserver both
	// broadcast synchronously). updateMu is already held by that in-flight
	// call on this same goroutine, so a failed try-lock identifies the
	// echo: the bookkeeping above already persisted remote_hash/
	// remote_status for it, and entering the decision table here would
	// judge a transition the in-flight call itself hasn't finished
	// committing yet — including re-entering deleteRemoteWallet from
	// inside its own DeleteWallet call, which previously opened a second,
	// nested notification cycle mid-operation.
	if !c.updateMu.TryLock() {
		return nil
	}
	c.updateMu.Unlock()

	return c.reconcileDecision(ctx, key, hasRemote, hasLocal, oldHash, newHash, localHash, sw)
}

// reconcileDecision implements the decision table in §4.4 exactly.
func (c *Container) reconcileDecision(ctx context.Context, key cryptoapi.PrivateKey, hasRemote, hasLocal bool, oldHash, newHash, localHash []byte, sw transport.ServerWallet) error {
	remoteCopy := c.remoteCopyFlag()
	localMod := !bytes.Equal(localHash, oldHash)
	serverMod := !bytes.Equal(oldHash, newHash)

	switch {
	case hasRemote && !remoteCopy:
		return c.deleteRemoteWallet(ctx, key, newHash)

	case !hasRemote && !hasLocal:
		return nil

	case !hasRemote && hasLocal:
		return c.updateWallet(ctx, key)

	case hasRemote && remoteCopy && !hasLocal:
		return c.pullRemote(ctx, sw, key)

	case hasRemote && remoteCopy && hasLocal && !localMod && !serverMod:
		return nil

	case hasRemote && remoteCopy && hasLocal && localMod && serverMod:
		c.mu.Lock()
		c.remoteStatus = transport.StatusConflict
		c.mu.Unlock()
		c.setNotify(true)
		return ErrConflict

	case hasRemote && remoteCopy && hasLocal && localMod && !serverMod:
		return c.updateWallet(ctx, key)

	case hasRemote && remoteCopy && hasLocal && !localMod && serverMod:
		return c.pullRemote(ctx, sw, key)

	default:
		return nil
	}
}

// pullRemote overwrites the local wallet object and ciphertext with the
// server's copy.
func (c *Container) pullRemote(ctx context.Context, sw transport.ServerWallet, key cryptoapi.PrivateKey) error {
	plain, err := c.crypto.Decrypt(sw.EncryptedData, key)
	if err != nil {
		return wrapError(KindInvalidPassword, "pulled ciphertext does not decrypt under the active key", err)
	}
	var tree valuetree.Value
	if err := json.Unmarshal(plain, &tree); err != nil {
		return err
	}

	c.mu.Lock()
	c.walletObject = tree
	c.mu.Unlock()

	encoded := encodeB64(sw.EncryptedData)
	if err := c.store.SetState(map[string]*string{fieldEncryptedWallet: &encoded}); err != nil {
		return err
	}

	c.mu.Lock()
	c.remoteStatus = transport.StatusNotModified
	c.mu.Unlock()
	c.setNotify(true)
	return nil
}

// updateWallet re-encrypts the in-memory tree and persists it, pushing to
// the transport as the create/save path requires (§4.4). A per-container
// single-flight mutex serializes this against concurrent SetState/
// DeleteField calls (§5, §9).
func (c *Container) updateWallet(ctx context.Context, key cryptoapi.PrivateKey) error {
	c.updateMu.Lock()
	defer c.updateMu.Unlock()

	c.mu.RLock()
	tree := c.walletObject
	c.mu.RUnlock()

	payload, err := json.Marshal(tree)
	if err != nil {
		return err
	}
	ciphertext, err := c.crypto.Encrypt(payload, key.PublicKey())
	if err != nil {
		return err
	}
	encoded := encodeB64(ciphertext)
	if err := c.store.SetState(map[string]*string{fieldEncryptedWallet: &encoded}); err != nil {
		return err
	}
	c.mu.Lock()
	c.localStatus = ""
	c.mu.Unlock()
	c.setNotify(true)

	if c.transport == nil || !c.remoteCopyFlag() {
		return nil
	}

	status := c.RemoteStatus()
	token, hasToken := c.store.Get(fieldRemoteToken)
	_, hasRemoteHash := c.remoteHash()

	if !hasToken && status == transport.StatusNoContent {
		return nil
	}

	hash := c.crypto.SHA256(ciphertext)
	sig, err := c.crypto.Sign(hash[:], key)
	if err != nil {
		return err
	}

	switch {
	case hasToken && !hasRemoteHash && status == transport.StatusNoContent:
		res, err := c.transport.CreateWallet(ctx, token, ciphertext, sig)
		if err != nil {
			return err
		}
		remoteHashEnc := encodeB64(res.LocalHash)
		created := res.Created
		if err := c.store.SetState(map[string]*string{
			fieldRemoteHash:        &remoteHashEnc,
			fieldRemoteCreatedDate: &created,
			fieldRemoteUpdatedDate: &created,
			fieldRemoteToken:       nil,
		}); err != nil {
			return err
		}
		c.mu.Lock()
		c.remoteStatus = transport.StatusNotModified
		c.mu.Unlock()
		c.setNotify(true)
		return nil

	case hasRemoteHash && (status == transport.StatusOK || status == transport.StatusNotModified):
		prevHash, _ := c.remoteHash()
		res, err := c.transport.SaveWallet(ctx, prevHash, ciphertext, sig)
		if err != nil {
			return err
		}
		if res.StatusText == transport.StatusOK {
			hashEnc := encodeB64(res.LocalHash)
			updated := res.Updated
			if err := c.store.SetState(map[string]*string{fieldRemoteHash: &hashEnc, fieldRemoteUpdatedDate: &updated}); err != nil {
				return err
			}
			c.mu.Lock()
			c.remoteStatus = transport.StatusNotModified
			c.mu.Unlock()
			c.setNotify(true)
			return nil
		}
		c.mu.Lock()
		c.remoteStatus = res.StatusText
		c.mu.Unlock()
		c.setNotify(true)
		return wrapError(KindTransportError, string(res.StatusText), nil)

	default:
		return nil
	}
}

// deleteRemoteWallet signs hash (defaulting to the current local hash) and
// tells the transport to delete the server copy, then clears the persisted
// remote bookkeeping fields (§4.4). Takes updateMu for the same reason
// updateWallet does: a transport may echo this delete back through the
// same push subscription before DeleteWallet returns (memtransport and
// wsserver both broadcast synchronously), and handleFetch's self-echo
// guard needs updateMu held to recognize that echo as its own in-flight
// write rather than a fresh server-side change.
func (c *Container) deleteRemoteWallet(ctx context.Context, key cryptoapi.PrivateKey, hash []byte) error {
	c.updateMu.Lock()
	defer c.updateMu.Unlock()

	if hash == nil {
		hash, _ = c.localHash()
	}
	sig, err := c.crypto.Sign(hash, key)
	if err != nil {
		return err
	}
	if err := c.transport.DeleteWallet(ctx, hash, sig); err != nil {
		return err
	}
	return c.store.SetState(map[string]*string{
		fieldRemoteHash:        nil,
		fieldRemoteCreatedDate: nil,
		fieldRemoteUpdatedDate: nil,
	})
}

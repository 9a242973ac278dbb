package wallet

import (
	"context"
	"sync"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/threefoldtech/walletcore/cryptoapi"
	"github.com/threefoldtech/walletcore/store"
	"github.com/threefoldtech/walletcore/transport"
	"github.com/threefoldtech/walletcore/valuetree"
)

// defaultPushDedupeSize is the LRU capacity backing duplicate-push
// suppression (§10.3). 64 matches the spec's stated default.
const defaultPushDedupeSize = 64

// SubscriberFunc is invoked by the notification dispatcher with the
// container that changed. Its return value is delivered on the
// subscriber's completion channel, if one was registered.
type SubscriberFunc func(c *Container) error

type subscriber struct {
	cb         SubscriberFunc
	completion chan<- error
}

// Container is the wallet state container (§4.1): the in-memory wallet
// object, the unlock key when present, runtime status fields, and the
// subscriber registry. It is the sole entry point callers use; the
// reconciliation engine and session manager are implemented as private
// methods on it (§9's "this-bound semi-private functions" note).
type Container struct {
	store     store.Store
	crypto    cryptoapi.Crypto
	transport transport.Transport
	log       *logrus.Entry

	mu           sync.RWMutex
	walletObject valuetree.Value
	privateKey   cryptoapi.PrivateKey
	remoteStatus transport.Status
	localStatus  string
	notify       bool
	subscribers  map[uuid.UUID]subscriber
	socketStatus transport.SocketStatus
	subscribedAs []byte // public key bytes of the active fetch subscription, nil if none

	// updateMu is the single-flight lock serializing update_wallet's
	// encrypt-then-persist phases across concurrent set_state/delete_field
	// calls (§4.4, §5, §9).
	updateMu sync.Mutex

	seenPushes     *lru.Cache[string, struct{}]
	pushDedupeSize int
}

// Option configures a Container at construction.
type Option func(*Container)

// WithCrypto overrides the default crypto adapter. The engine has no usable
// default — a Crypto implementation must always be supplied in practice —
// but leaving it settable via Option (rather than a required constructor
// argument) keeps NewContainer's signature stable as more options land.
func WithCrypto(c cryptoapi.Crypto) Option {
	return func(container *Container) { container.crypto = c }
}

// WithTransport attaches a remote transport at construction. Unlike
// UseBackupServer it does not persist remote_url or raise notify.
func WithTransport(t transport.Transport) Option {
	return func(container *Container) { container.transport = t }
}

// WithLogger attaches a structured logger. A nil logger (or omitting this
// option) falls back to logrus.New(), never a nil-check at every call site
// (§10.1).
func WithLogger(log *logrus.Entry) Option {
	return func(container *Container) { container.log = log }
}

// WithPushDedupeSize overrides the duplicate-push suppression LRU capacity
// (§10.3). Mostly useful for tests that want to observe eviction.
func WithPushDedupeSize(n int) Option {
	return func(container *Container) { container.pushDedupeSize = n }
}

func NewContainer(s store.Store, opts ...Option) *Container {
	c := &Container{
		store:        s,
		walletObject: valuetree.EmptyObject(),
		subscribers:  map[uuid.UUID]subscriber{},
		pushDedupeSize: defaultPushDedupeSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = logrus.NewEntry(logrus.New())
	}
	cache, err := lru.New[string, struct{}](c.pushDedupeSize)
	if err != nil {
		// Only returns an error for a non-positive size, which
		// defaultPushDedupeSize and any sane override never produce.
		panic("wallet: invalid push dedupe size: " + err.Error())
	}
	c.seenPushes = cache
	return c
}

// IsEmpty reports whether no encrypted wallet has ever been persisted
// (§4.1).
func (c *Container) IsEmpty() bool {
	return !c.store.Has(fieldEncryptedWallet)
}

// KeepLocalCopy toggles disk persistence on the underlying store. Idempotent
// and never notifies subscribers (§4.1).
func (c *Container) KeepLocalCopy(save bool) error {
	return c.store.SetSaveToDisk(save)
}

// UseBackupServer closes any existing transport; if t is non-nil it becomes
// the active transport. Returns once the prior transport (if any) has fully
// closed (§4.1).
func (c *Container) UseBackupServer(ctx context.Context, url string, t transport.Transport) error {
	c.mu.Lock()
	prev := c.transport
	prevURL, _ := c.store.Get(fieldRemoteURL)
	c.transport = t
	changed := url != prevURL
	if changed {
		c.localStatusSet("")
	}
	c.mu.Unlock()

	if prev != nil {
		if err := prev.Close(); err != nil {
			c.log.WithError(err).Warn("closing previous transport")
		}
	}

	if changed {
		var entry map[string]*string
		if url == "" {
			entry = map[string]*string{fieldRemoteURL: nil}
		} else {
			v := url
			entry = map[string]*string{fieldRemoteURL: &v}
		}
		if err := c.store.SetState(entry); err != nil {
			return err
		}
		c.setNotify(true)
	}
	return nil
}

// KeepRemoteCopy toggles the persisted intent to keep a server copy
// (`remote_copy`, §3.2). Enabling it without a configured `remote_url`
// fails with ConfigurationError. If the container is unlocked, immediately
// triggers a reconciliation pass so disabling drops the server copy (via
// the decision table's "has_remote, !remote_copy ⇒ delete" row, §4.4) and
// enabling pushes/creates one.
func (c *Container) KeepRemoteCopy(ctx context.Context, keep bool) error {
	if keep {
		url, _ := c.store.Get(fieldRemoteURL)
		if url == "" {
			return newError(KindConfigurationError, "remote_copy requires remote_url to be set")
		}
	}

	return c.runNotified(func() error {
		v := "false"
		if keep {
			v = "true"
		}
		if err := c.store.SetState(map[string]*string{fieldRemoteCopy: &v}); err != nil {
			return err
		}
		c.setNotify(true)

		c.mu.RLock()
		key := c.privateKey
		c.mu.RUnlock()
		if key == nil {
			return nil
		}
		return c.sync(ctx, key)
	})
}

// GetState returns the current wallet object, triggering a reconciliation
// pass first. Fails with Locked if the container holds no private key
// (§4.1).
func (c *Container) GetState(ctx context.Context) (valuetree.Value, error) {
	c.mu.RLock()
	key := c.privateKey
	c.mu.RUnlock()
	if key == nil {
		return valuetree.Value{}, ErrLocked
	}

	err := c.runNotified(func() error {
		return c.sync(ctx, key)
	})
	if err != nil {
		return valuetree.Value{}, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.walletObject, nil
}

// SetState deep-merges partial into the wallet object (§4.1).
func (c *Container) SetState(ctx context.Context, partial valuetree.Value) error {
	c.mu.RLock()
	key := c.privateKey
	c.mu.RUnlock()
	if key == nil {
		return ErrLocked
	}
	if !c.store.Has(fieldEncryptedWallet) {
		c.mu.RLock()
		_, hasCreated := c.walletObject.Field(objFieldCreated)
		c.mu.RUnlock()
		if !hasCreated {
			return ErrNotInitialized
		}
	}

	return c.runNotified(func() error {
		c.mu.Lock()
		merged := valuetree.Merge(c.walletObject, partial)
		unchanged := valuetree.Equal(merged, c.walletObject)
		if unchanged {
			c.mu.Unlock()
			return nil
		}
		merged = merged.WithField(objFieldLastModified, valuetree.StringValue(nowISO8601()))
		c.walletObject = merged
		c.localStatusSet("Pending")
		c.mu.Unlock()
		c.setNotify(true)

		return c.updateWallet(ctx, key)
	})
}

// DeleteField removes the value at a dotted path from the wallet object
// (§4.1). A path through a non-object node, or whose final segment does not
// exist, is a no-op rather than an error.
func (c *Container) DeleteField(ctx context.Context, path string) error {
	c.mu.RLock()
	key := c.privateKey
	c.mu.RUnlock()
	if key == nil {
		return ErrLocked
	}
	c.mu.RLock()
	_, hasCreated := c.walletObject.Field(objFieldCreated)
	c.mu.RUnlock()
	if !hasCreated {
		return ErrNotInitialized
	}

	return c.runNotified(func() error {
		c.mu.Lock()
		updated, removed := valuetree.Delete(c.walletObject, path)
		if !removed {
			c.mu.Unlock()
			return nil
		}
		updated = updated.WithField(objFieldLastModified, valuetree.StringValue(nowISO8601()))
		c.walletObject = updated
		c.localStatusSet("Pending")
		c.mu.Unlock()
		c.setNotify(true)

		return c.updateWallet(ctx, key)
	})
}

// SocketStatus reports the container's socket_status field. Purely
// informational; never consulted by reconciliation (§3.3, §6.3). The
// container does not register with a transport's StatusWatcher and nothing
// in this package assigns the field, so it stays "".
func (c *Container) SocketStatus() transport.SocketStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.socketStatus
}

// RemoteStatus reports the engine's last-observed remote reconciliation
// status.
func (c *Container) RemoteStatus() transport.Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.remoteStatus
}

// LocalStatus reports "" (clean), "Pending", or a free-form error string.
func (c *Container) LocalStatus() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.localStatus
}

func (c *Container) localStatusSet(s string) { c.localStatus = s }

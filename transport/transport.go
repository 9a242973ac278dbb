// Package transport defines the remote wallet RPC contract (§6.3 of the
// engine spec): a bidirectional channel supporting subscribe/unsubscribe,
// fetch, create, save, delete and change-password, plus reference client
// and server adapters.
package transport

import "context"

// Status is the server's response status for a fetch/save/change-password
// round trip.
type Status string

const (
	StatusOK           Status = "OK"
	StatusNoContent    Status = "No Content"
	StatusNotModified  Status = "Not Modified"
	StatusConflict     Status = "Conflict"
)

// ServerWallet is the payload delivered by a fetch subscription, both on
// the initial response and on every subsequent server-side push.
//
// StatusText is populated only on the initial response; push events leave
// it empty and the reconciliation engine synthesizes one (see §4.4 of the
// engine spec).
type ServerWallet struct {
	StatusText    Status
	LocalHash     []byte // nil on "No Content"
	EncryptedData []byte
	Created       string // ISO-8601, empty if unknown
	Updated       string // ISO-8601, empty if unknown
}

// CreateResult is returned by CreateWallet on success.
type CreateResult struct {
	LocalHash []byte
	Created   string
}

// SaveResult is returned by SaveWallet/ChangePassword.
type SaveResult struct {
	StatusText Status
	LocalHash  []byte
	Updated    string
}

// PushFunc is invoked by the transport once with the initial fetch response
// and thereafter on every server-side change to the subscribed wallet.
type PushFunc func(ServerWallet)

// Transport is the external collaborator the wallet engine negotiates with.
// An implementation owns exactly one connection for the container's
// lifetime (§5): Close tears it down.
type Transport interface {
	// FetchWallet opens (or reuses) a push subscription for pub, seeded
	// with the caller's current local hash so the server can reply
	// "Not Modified" without shipping the ciphertext again.
	FetchWallet(ctx context.Context, pub []byte, localHash []byte, push PushFunc) error

	// FetchWalletUnsubscribe tears down the push subscription for pub, if
	// any. Unsubscribing a key with no active subscription is a no-op.
	FetchWalletUnsubscribe(ctx context.Context, pub []byte) error

	CreateWallet(ctx context.Context, token string, ciphertext, sig []byte) (CreateResult, error)

	SaveWallet(ctx context.Context, prevHash, ciphertext, sig []byte) (SaveResult, error)

	DeleteWallet(ctx context.Context, hash, sig []byte) error

	ChangePassword(ctx context.Context, oldHash, oldSig, newCiphertext, newSig []byte) (SaveResult, error)

	// GetSubscriptionID reports the transport-level identifier for an
	// active subscription, or ("", false) if none is active. Purely
	// diagnostic — the reconciliation engine does not depend on it.
	GetSubscriptionID(op string, pub []byte) (id string, ok bool)

	// Close tears down the connection. Idempotent.
	Close() error
}

// SocketStatus is a coarse connectivity signal a StatusWatcher reports; it
// never drives reconciliation decisions (§6.3). wallet.Container does not
// register with a StatusWatcher.
type SocketStatus string

const (
	SocketConnected    SocketStatus = "connected"
	SocketDisconnected SocketStatus = "disconnected"
)

// StatusWatcher is an optional interface a Transport may additionally
// implement to report connectivity changes. Not all transports have a
// meaningful notion of "connected" (e.g. an in-memory test double).
type StatusWatcher interface {
	OnSocketStatus(func(SocketStatus))
}

// RemoteError wraps an error message returned by the server side of a
// Transport (wsserver's RPC error frame, or any future adapter). The
// reconciliation engine treats it as an opaque transport failure, never
// a conflict or a status code.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string { return "transport: remote error: " + e.Message }

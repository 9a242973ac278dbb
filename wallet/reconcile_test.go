package wallet

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/threefoldtech/walletcore/cryptoapi/secp256k1"
	"github.com/threefoldtech/walletcore/store/memstore"
	"github.com/threefoldtech/walletcore/transport"
	"github.com/threefoldtech/walletcore/transport/memtransport"
	"github.com/threefoldtech/walletcore/valuetree"
)

// newTransportTestContainer wires a Container to srv through its own
// memtransport.Client, the way UseBackupServer would in production.
func newTransportTestContainer(srv *memtransport.Server) (*Container, *memstore.Store) {
	s := memstore.New()
	c := NewContainer(s, WithCrypto(secp256k1.New()), WithTransport(memtransport.Dial(srv)))
	return c, s
}

func pubKeyFor(t *testing.T, email, username, password string) []byte {
	t.Helper()
	key, err := secp256k1.New().PrivateKeyFromSeed(seedString(email, username, password))
	require.NoError(t, err)
	return key.PublicKey().Bytes()
}

// Scenario 2: transport present but remote_copy is false (the default) —
// login fetches from the server, finds nothing there, and keeps the wallet
// local-only without creating a remote record.
func TestFirstLoginWithTransportButNoRemoteCopy(t *testing.T) {
	srv := memtransport.NewServer()
	c, s := newTransportTestContainer(srv)

	require.NoError(t, c.Login(context.Background(), "a@x", "alice", "pw", "chainA"))
	require.True(t, s.Has(fieldEncryptedWallet))
	require.False(t, s.Has(fieldRemoteHash))
}

// A container with a transport configured but remote_copy left at its
// default of false still has to process the initial fetch response when
// the server already holds a record for this pubkey (e.g. a second device
// that created a remote copy, followed by a first login on this one with
// remote backup never opted into locally). The hasRemote && !remote_copy
// row of the decision table fires straight out of that initial callback,
// which drives a DeleteWallet call back into the same transport — this
// used to deadlock against memtransport's Server.mu (and wsclient's own
// reply channel) because the callback ran with the lock still held.
func TestFirstLoginDeletesPreexistingRemoteRecordWhenRemoteCopyFalse(t *testing.T) {
	srv := memtransport.NewServer()
	pub := pubKeyFor(t, "a@x", "alice", "pw")
	token := srv.IssueToken(pub)

	seed, seedStore := newTransportTestContainer(srv)
	require.NoError(t, seedStore.SetState(map[string]*string{
		fieldRemoteCopy:  strPtr("true"),
		fieldRemoteURL:   strPtr("mem://server"),
		fieldRemoteToken: &token,
	}))
	require.NoError(t, seed.Login(context.Background(), "a@x", "alice", "pw", "chainA"))
	require.NoError(t, seed.Logout(context.Background()))

	c, s := newTransportTestContainer(srv)
	require.NoError(t, s.SetState(map[string]*string{
		fieldRemoteURL: strPtr("mem://server"),
	}))

	require.NoError(t, c.Login(context.Background(), "a@x", "alice", "pw", "chainA"))
	require.False(t, s.Has(fieldRemoteHash))

	raw := memtransport.Dial(srv)
	defer raw.Close()
	var got transport.ServerWallet
	require.NoError(t, raw.FetchWallet(context.Background(), pub, nil, func(sw transport.ServerWallet) { got = sw }))
	require.Equal(t, transport.StatusNoContent, got.StatusText)
}

// First login with remote_copy=true and a valid creation token pushes a
// brand-new record to the server.
func TestFirstLoginCreatesRemoteRecordWhenTokenAndRemoteCopyTrue(t *testing.T) {
	srv := memtransport.NewServer()
	pub := pubKeyFor(t, "a@x", "alice", "pw")
	token := srv.IssueToken(pub)

	c, s := newTransportTestContainer(srv)
	require.NoError(t, s.SetState(map[string]*string{
		fieldRemoteCopy:  strPtr("true"),
		fieldRemoteURL:   strPtr("mem://server"),
		fieldRemoteToken: &token,
	}))

	require.NoError(t, c.Login(context.Background(), "a@x", "alice", "pw", "chainA"))

	require.True(t, s.Has(fieldEncryptedWallet))
	require.True(t, s.Has(fieldRemoteHash))
	require.False(t, s.Has(fieldRemoteToken))
}

// Scenario 3: a second container, same credentials, configured to keep a
// remote copy but never given a creation token, pulls the first
// container's pushed state wholesale.
func TestPullOverwriteAcrossContainers(t *testing.T) {
	srv := memtransport.NewServer()
	pub := pubKeyFor(t, "a@x", "alice", "pw")
	token := srv.IssueToken(pub)

	a, aStore := newTransportTestContainer(srv)
	require.NoError(t, aStore.SetState(map[string]*string{
		fieldRemoteCopy:  strPtr("true"),
		fieldRemoteURL:   strPtr("mem://server"),
		fieldRemoteToken: &token,
	}))
	require.NoError(t, a.Login(context.Background(), "a@x", "alice", "pw", "chainA"))
	require.NoError(t, a.SetState(context.Background(), valuetree.EmptyObject().WithField("k", valuetree.NumberValue(1))))

	b, bStore := newTransportTestContainer(srv)
	require.NoError(t, bStore.SetState(map[string]*string{
		fieldRemoteCopy: strPtr("true"),
		fieldRemoteURL:  strPtr("mem://server"),
	}))
	require.NoError(t, b.Login(context.Background(), "a@x", "alice", "pw", "chainA"))

	state, err := b.GetState(context.Background())
	require.NoError(t, err)
	k, ok := state.Field("k")
	require.True(t, ok)
	kv, _ := k.Number()
	require.Equal(t, float64(1), kv)
}

// Scenario 4: a container that misses a server-side update (the way a
// disconnected client would) tries to push against its now-stale
// remote_hash and gets rejected; its own edit is not lost in the process.
func TestSetStateConflictWhenRemoteHashIsStale(t *testing.T) {
	srv := memtransport.NewServer()
	pub := pubKeyFor(t, "a@x", "alice", "pw")
	token := srv.IssueToken(pub)

	a, aStore := newTransportTestContainer(srv)
	require.NoError(t, aStore.SetState(map[string]*string{
		fieldRemoteCopy:  strPtr("true"),
		fieldRemoteURL:   strPtr("mem://server"),
		fieldRemoteToken: &token,
	}))
	require.NoError(t, a.Login(context.Background(), "a@x", "alice", "pw", "chainA"))

	b, bStore := newTransportTestContainer(srv)
	require.NoError(t, bStore.SetState(map[string]*string{
		fieldRemoteCopy: strPtr("true"),
		fieldRemoteURL:  strPtr("mem://server"),
	}))
	require.NoError(t, b.Login(context.Background(), "a@x", "alice", "pw", "chainA"))

	// Drop B from the live push list so it misses A's upcoming update and
	// keeps the remote_hash it already cached from its own login.
	require.NoError(t, b.transport.FetchWalletUnsubscribe(context.Background(), pub))

	require.NoError(t, a.SetState(context.Background(), valuetree.EmptyObject().WithField("k", valuetree.StringValue("from-a"))))

	err := b.SetState(context.Background(), valuetree.EmptyObject().WithField("k", valuetree.StringValue("from-b")))
	require.Error(t, err)
	var walletErr *Error
	require.ErrorAs(t, err, &walletErr)
	require.Equal(t, KindTransportError, walletErr.Kind)
	require.Equal(t, transport.StatusConflict, b.RemoteStatus())

	// B's own local edit is preserved even though the push was rejected.
	b.mu.RLock()
	kVal, ok := b.walletObject.Field("k")
	b.mu.RUnlock()
	require.True(t, ok)
	kStr, _ := kVal.String()
	require.Equal(t, "from-b", kStr)
}

// Scenario 6: turning remote_copy off while holding a remote copy deletes
// the server's record and clears local remote bookkeeping.
func TestKeepRemoteCopyFalseDeletesServerRecord(t *testing.T) {
	srv := memtransport.NewServer()
	pub := pubKeyFor(t, "a@x", "alice", "pw")
	token := srv.IssueToken(pub)

	c, s := newTransportTestContainer(srv)
	require.NoError(t, s.SetState(map[string]*string{
		fieldRemoteCopy:  strPtr("true"),
		fieldRemoteURL:   strPtr("mem://server"),
		fieldRemoteToken: &token,
	}))
	require.NoError(t, c.Login(context.Background(), "a@x", "alice", "pw", "chainA"))
	require.True(t, s.Has(fieldRemoteHash))

	require.NoError(t, c.KeepRemoteCopy(context.Background(), false))
	require.False(t, s.Has(fieldRemoteHash))

	// the server itself no longer has a record for this key
	raw := memtransport.Dial(srv)
	defer raw.Close()
	var got transport.ServerWallet
	require.NoError(t, raw.FetchWallet(context.Background(), pub, nil, func(sw transport.ServerWallet) { got = sw }))
	require.Equal(t, transport.StatusNoContent, got.StatusText)
}

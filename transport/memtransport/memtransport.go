// Package memtransport is an in-process reference/test double for
// transport.Transport. It plays the role other wallet stacks fill with a
// "memwallet"-style fake (see other_examples' JFixby-dcrtest memwallet):
// a single shared Server stands in for the remote service, and each
// Client is the per-container connection to it, so the engine's own tests
// can drive the full fetch/create/save/delete/change-password state
// machine without a network.
package memtransport

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"sync"

	"github.com/threefoldtech/walletcore/transport"
)

type record struct {
	ciphertext []byte
	hash       []byte
	created    string
	updated    string
}

// Server is the shared authoritative store every Client in a test talks to.
type Server struct {
	mu      sync.Mutex
	seq     int
	records map[string]*record            // keyed by hex(pubkey)
	tokens  map[string]string              // token -> hex(pubkey)
	subs    map[string][]transport.PushFunc // keyed by hex(pubkey)
}

// NewServer returns an empty Server.
func NewServer() *Server {
	return &Server{
		records: map[string]*record{},
		tokens:  map[string]string{},
		subs:    map[string][]transport.PushFunc{},
	}
}

// IssueToken mints a one-time creation token for pub, the server-side
// analogue of the invitation link a real backend would email a new user.
func (s *Server) IssueToken(pub []byte) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	token := hex.EncodeToString(pub) + "-token-" + strconv.Itoa(s.seq)
	s.tokens[token] = hex.EncodeToString(pub)
	return token
}

// notify snapshots the current subscribers for key and pushes to them with
// s.mu released. Callers must not hold s.mu when calling this: a pushed
// subscriber may call back into the Server (e.g. DeleteWallet on a
// !remote_copy row of the decision table) on the same goroutine, and s.mu
// is not reentrant.
func (s *Server) notify(key string, sw transport.ServerWallet) {
	s.mu.Lock()
	pushes := append([]transport.PushFunc(nil), s.subs[key]...)
	s.mu.Unlock()
	for _, push := range pushes {
		push(sw)
	}
}

// Client is a per-container connection to a Server.
type Client struct {
	server *Server
	pub    string
	mu     sync.Mutex
	closed bool
}

// Dial returns a Client bound to server, ready to FetchWallet for any
// public key.
func Dial(server *Server) *Client {
	return &Client{server: server}
}

var errClosed = errors.New("memtransport: client is closed")

func (c *Client) FetchWallet(ctx context.Context, pub []byte, localHash []byte, push transport.PushFunc) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errClosed
	}
	c.pub = hex.EncodeToString(pub)
	c.mu.Unlock()

	s := c.server
	s.mu.Lock()
	s.subs[c.pub] = append(s.subs[c.pub], push)

	rec, ok := s.records[c.pub]
	var sw transport.ServerWallet
	switch {
	case !ok:
		sw = transport.ServerWallet{StatusText: transport.StatusNoContent}
	case bytes.Equal(rec.hash, localHash):
		sw = transport.ServerWallet{StatusText: transport.StatusNotModified, LocalHash: rec.hash, Created: rec.created, Updated: rec.updated}
	default:
		sw = transport.ServerWallet{
			StatusText:    transport.StatusOK,
			LocalHash:     rec.hash,
			EncryptedData: rec.ciphertext,
			Created:       rec.created,
			Updated:       rec.updated,
		}
	}
	s.mu.Unlock()

	// push runs with s.mu released: the initial fetch response can drive
	// the decision table straight into DeleteWallet on this same goroutine
	// (hasRemote && !remote_copy), which needs s.mu itself.
	push(sw)
	return nil
}

func (c *Client) FetchWalletUnsubscribe(ctx context.Context, pub []byte) error {
	s := c.server
	s.mu.Lock()
	defer s.mu.Unlock()
	key := hex.EncodeToString(pub)
	delete(s.subs, key)
	return nil
}

func (c *Client) CreateWallet(ctx context.Context, token string, ciphertext, sig []byte) (transport.CreateResult, error) {
	s := c.server
	s.mu.Lock()
	key, ok := s.tokens[token]
	if !ok {
		s.mu.Unlock()
		return transport.CreateResult{}, errors.New("memtransport: unknown or already-used token")
	}
	delete(s.tokens, token)

	s.seq++
	ts := "2024-01-01T00:00:00Z#" + strconv.Itoa(s.seq)
	hash := sha256Sig(ciphertext)
	s.records[key] = &record{ciphertext: ciphertext, hash: hash, created: ts, updated: ts}
	s.mu.Unlock()

	s.notify(key, transport.ServerWallet{LocalHash: hash, EncryptedData: ciphertext, Created: ts, Updated: ts})
	return transport.CreateResult{LocalHash: hash, Created: ts}, nil
}

func (c *Client) SaveWallet(ctx context.Context, prevHash, ciphertext, sig []byte) (transport.SaveResult, error) {
	s := c.server
	s.mu.Lock()
	rec, ok := s.records[c.pub]
	if !ok {
		s.mu.Unlock()
		return transport.SaveResult{StatusText: transport.StatusNoContent}, nil
	}
	if !bytes.Equal(rec.hash, prevHash) {
		conflict := transport.SaveResult{StatusText: transport.StatusConflict, LocalHash: rec.hash}
		s.mu.Unlock()
		return conflict, nil
	}
	s.seq++
	ts := "2024-01-01T00:00:00Z#" + strconv.Itoa(s.seq)
	hash := sha256Sig(ciphertext)
	rec.ciphertext = ciphertext
	rec.hash = hash
	rec.updated = ts
	created := rec.created
	s.mu.Unlock()

	s.notify(c.pub, transport.ServerWallet{LocalHash: hash, EncryptedData: ciphertext, Created: created, Updated: ts})
	return transport.SaveResult{StatusText: transport.StatusOK, LocalHash: hash, Updated: ts}, nil
}

func (c *Client) DeleteWallet(ctx context.Context, hash, sig []byte) error {
	s := c.server
	s.mu.Lock()
	delete(s.records, c.pub)
	s.mu.Unlock()

	s.notify(c.pub, transport.ServerWallet{})
	return nil
}

func (c *Client) ChangePassword(ctx context.Context, oldHash, oldSig, newCiphertext, newSig []byte) (transport.SaveResult, error) {
	s := c.server
	s.mu.Lock()
	rec, ok := s.records[c.pub]
	if !ok {
		s.mu.Unlock()
		return transport.SaveResult{StatusText: transport.StatusNoContent}, nil
	}
	if !bytes.Equal(rec.hash, oldHash) {
		conflict := transport.SaveResult{StatusText: transport.StatusConflict, LocalHash: rec.hash}
		s.mu.Unlock()
		return conflict, nil
	}
	s.seq++
	ts := "2024-01-01T00:00:00Z#" + strconv.Itoa(s.seq)
	hash := sha256Sig(newCiphertext)
	rec.ciphertext = newCiphertext
	rec.hash = hash
	rec.updated = ts
	created := rec.created
	s.mu.Unlock()

	s.notify(c.pub, transport.ServerWallet{LocalHash: hash, EncryptedData: newCiphertext, Created: created, Updated: ts})
	return transport.SaveResult{StatusText: transport.StatusOK, LocalHash: hash, Updated: ts}, nil
}

func (c *Client) GetSubscriptionID(op string, pub []byte) (string, bool) {
	s := c.server
	s.mu.Lock()
	defer s.mu.Unlock()
	key := hex.EncodeToString(pub)
	if len(s.subs[key]) == 0 {
		return "", false
	}
	return op + ":" + key, true
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// sha256Sig mints the server's notion of a wallet's content hash. The real
// engine computes the identical digest locally (wallet/hash.go); the server
// side recomputing it independently is exactly what lets SaveWallet detect
// a stale prevHash.
func sha256Sig(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

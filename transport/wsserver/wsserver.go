// Package wsserver is the reference server side of the wallet transport
// contract: one github.com/julienschmidt/httprouter endpoint upgrades to a
// github.com/gorilla/websocket connection per client, multiplexing the
// same msgpack frame protocol transport/wsclient speaks.
//
// Record storage is abstracted behind the Backend interface so the same
// router can run against PQBackend (a Postgres-backed deployment) or
// MemBackend (an in-memory map, for tests), mirroring the teacher's own split between the
// wallet's in-memory state and its persist.BoltDatabase-backed disk image.
package wsserver

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/sirupsen/logrus"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/threefoldtech/walletcore/transport"
)

// Record is the server's persisted view of one wallet.
type Record struct {
	Ciphertext []byte
	Hash       []byte
	Created    string
	Updated    string
}

// Backend is the storage contract wsserver needs: lookup/create/
// compare-and-swap/delete on a wallet record keyed by the owner's public
// key. MemBackend and PQBackend implement it. One-time creation tokens are
// not part of Backend; Server keeps them in-process.
type Backend interface {
	Get(pub []byte) (Record, bool, error)
	Create(pub []byte, rec Record) error
	CompareAndSwap(pub []byte, prevHash []byte, rec Record) (ok bool, current Record, err error)
	Delete(pub []byte) error
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type frame struct {
	ID       uint64 `msgpack:"id,omitempty"`
	Op       string `msgpack:"op,omitempty"`
	Args     []byte `msgpack:"args,omitempty"`
	Result   []byte `msgpack:"result,omitempty"`
	Err      string `msgpack:"err,omitempty"`
	PushPub  []byte `msgpack:"push_pub,omitempty"`
	PushBody []byte `msgpack:"push_body,omitempty"`
}

// Server is the reference wallet transport server.
type Server struct {
	backend Backend
	log     *logrus.Entry

	tokensMu sync.Mutex
	tokens   map[string][]byte // token -> pub

	subsMu sync.Mutex
	subs   map[string]map[*conn]struct{} // hex(pub) -> set of connections subscribed
}

// New returns a Server backed by backend, logging through log (or a
// default logrus.New() logger if log is nil).
func New(backend Backend, log *logrus.Logger) *Server {
	if log == nil {
		log = logrus.New()
	}
	return &Server{
		backend: backend,
		log:     log.WithField("component", "wsserver"),
		tokens:  map[string][]byte{},
		subs:    map[string]map[*conn]struct{}{},
	}
}

// IssueToken mints a one-time wallet-creation token for pub. Out-of-band
// issuance (email link, admin console) is outside this package's scope;
// this is the seam a caller wires that workflow into.
func (s *Server) IssueToken(pub []byte) string {
	s.tokensMu.Lock()
	defer s.tokensMu.Unlock()
	token := hex.EncodeToString(pub) + "." + hex.EncodeToString([]byte{byte(len(s.tokens))})
	s.tokens[token] = append([]byte(nil), pub...)
	return token
}

// Router builds the httprouter.Router exposing the websocket endpoint.
func (s *Server) Router() *httprouter.Router {
	r := httprouter.New()
	r.GET("/ws", s.handleUpgrade)
	return r
}

// conn is one upgraded websocket connection. subscribedPub records which
// wallet this connection last fetched, the implicit target of a subsequent
// save_wallet/delete_wallet/change_password call on the same socket.
type conn struct {
	ws *websocket.Conn

	mu            sync.Mutex
	subscribedPub string // hex-encoded, empty if none
}

func (c *conn) writeFrame(f frame) error {
	data, err := msgpack.Marshal(f)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteMessage(websocket.BinaryMessage, data)
}

func (c *conn) pub() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscribedPub
}

func (c *conn) setPub(pub string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribedPub = pub
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	c := &conn{ws: ws}
	defer s.cleanupConn(c)

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var f frame
		if err := msgpack.Unmarshal(data, &f); err != nil {
			continue
		}
		s.dispatch(c, f)
	}
}

func (s *Server) cleanupConn(c *conn) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for key, set := range s.subs {
		delete(set, c)
		if len(set) == 0 {
			delete(s.subs, key)
		}
	}
	c.ws.Close()
}

func (s *Server) dispatch(c *conn, f frame) {
	var result interface{}
	var rpcErr error

	switch f.Op {
	case "fetch_wallet":
		var args struct {
			Pub       []byte
			LocalHash []byte
		}
		if err := msgpack.Unmarshal(f.Args, &args); err != nil {
			rpcErr = err
			break
		}
		result, rpcErr = s.fetchWallet(c, args.Pub, args.LocalHash)

	case "fetch_wallet_unsubscribe":
		var pub []byte
		if err := msgpack.Unmarshal(f.Args, &pub); err != nil {
			rpcErr = err
			break
		}
		s.unsubscribe(c, pub)

	case "create_wallet":
		var args struct {
			Token      string
			Ciphertext []byte
			Sig        []byte
		}
		if err := msgpack.Unmarshal(f.Args, &args); err != nil {
			rpcErr = err
			break
		}
		result, rpcErr = s.createWallet(args.Token, args.Ciphertext)

	case "save_wallet":
		var args struct {
			PrevHash   []byte
			Ciphertext []byte
			Sig        []byte
		}
		if err := msgpack.Unmarshal(f.Args, &args); err != nil {
			rpcErr = err
			break
		}
		result, rpcErr = s.saveWallet(c, args.PrevHash, args.Ciphertext)

	case "delete_wallet":
		var args struct {
			Hash []byte
			Sig  []byte
		}
		if err := msgpack.Unmarshal(f.Args, &args); err != nil {
			rpcErr = err
			break
		}
		rpcErr = s.deleteWallet(c, args.Hash)

	case "change_password":
		var args struct {
			OldHash       []byte
			OldSig        []byte
			NewCiphertext []byte
			NewSig        []byte
		}
		if err := msgpack.Unmarshal(f.Args, &args); err != nil {
			rpcErr = err
			break
		}
		result, rpcErr = s.saveWallet(c, args.OldHash, args.NewCiphertext)

	default:
		rpcErr = &unknownOpError{op: f.Op}
	}

	reply := frame{ID: f.ID}
	if rpcErr != nil {
		reply.Err = rpcErr.Error()
	} else if result != nil {
		resultBytes, err := msgpack.Marshal(result)
		if err != nil {
			reply.Err = err.Error()
		} else {
			reply.Result = resultBytes
		}
	}
	if err := c.writeFrame(reply); err != nil {
		s.log.WithError(err).Debug("write reply failed, connection likely gone")
	}
}

type unknownOpError struct{ op string }

func (e *unknownOpError) Error() string { return "wsserver: unknown op " + e.op }

func (s *Server) fetchWallet(c *conn, pub, localHash []byte) (transport.ServerWallet, error) {
	key := hex.EncodeToString(pub)
	c.setPub(key)

	s.subsMu.Lock()
	if s.subs[key] == nil {
		s.subs[key] = map[*conn]struct{}{}
	}
	s.subs[key][c] = struct{}{}
	s.subsMu.Unlock()

	rec, ok, err := s.backend.Get(pub)
	if err != nil {
		return transport.ServerWallet{}, err
	}
	if !ok {
		return transport.ServerWallet{StatusText: transport.StatusNoContent}, nil
	}
	if hex.EncodeToString(rec.Hash) == hex.EncodeToString(localHash) {
		return transport.ServerWallet{StatusText: transport.StatusNotModified, LocalHash: rec.Hash, Created: rec.Created, Updated: rec.Updated}, nil
	}
	return transport.ServerWallet{
		StatusText:    transport.StatusOK,
		LocalHash:     rec.Hash,
		EncryptedData: rec.Ciphertext,
		Created:       rec.Created,
		Updated:       rec.Updated,
	}, nil
}

func (s *Server) unsubscribe(c *conn, pub []byte) {
	key := hex.EncodeToString(pub)
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	delete(s.subs[key], c)
}

func (s *Server) createWallet(token string, ciphertext []byte) (transport.CreateResult, error) {
	s.tokensMu.Lock()
	pub, ok := s.tokens[token]
	if ok {
		delete(s.tokens, token)
	}
	s.tokensMu.Unlock()
	if !ok {
		return transport.CreateResult{}, &unknownOpError{op: "create_wallet: invalid or used token"}
	}

	hash := sha256Hash(ciphertext)
	rec := Record{Ciphertext: ciphertext, Hash: hash}
	if err := s.backend.Create(pub, rec); err != nil {
		return transport.CreateResult{}, err
	}
	updated, _, _ := s.backend.Get(pub)
	s.broadcast(pub, transport.ServerWallet{LocalHash: updated.Hash, EncryptedData: ciphertext, Created: updated.Created, Updated: updated.Updated})
	return transport.CreateResult{LocalHash: updated.Hash, Created: updated.Created}, nil
}

func (s *Server) saveWallet(c *conn, prevHash, ciphertext []byte) (transport.SaveResult, error) {
	if c.pub() == "" {
		return transport.SaveResult{}, &unknownOpError{op: "save_wallet: no active subscription"}
	}
	pub, _ := hex.DecodeString(c.pub())
	hash := sha256Hash(ciphertext)
	rec := Record{Ciphertext: ciphertext, Hash: hash}

	ok, current, err := s.backend.CompareAndSwap(pub, prevHash, rec)
	if err != nil {
		return transport.SaveResult{}, err
	}
	if !ok {
		return transport.SaveResult{StatusText: transport.StatusConflict, LocalHash: current.Hash}, nil
	}
	s.broadcast(pub, transport.ServerWallet{LocalHash: current.Hash, EncryptedData: ciphertext, Created: current.Created, Updated: current.Updated})
	return transport.SaveResult{StatusText: transport.StatusOK, LocalHash: current.Hash, Updated: current.Updated}, nil
}

func (s *Server) deleteWallet(c *conn, hash []byte) error {
	if c.pub() == "" {
		return &unknownOpError{op: "delete_wallet: no active subscription"}
	}
	pub, _ := hex.DecodeString(c.pub())
	if err := s.backend.Delete(pub); err != nil {
		return err
	}
	s.broadcast(pub, transport.ServerWallet{})
	return nil
}

func (s *Server) broadcast(pub []byte, sw transport.ServerWallet) {
	key := hex.EncodeToString(pub)
	body, err := msgpack.Marshal(sw)
	if err != nil {
		s.log.WithError(err).Error("marshal push body")
		return
	}

	s.subsMu.Lock()
	targets := make([]*conn, 0, len(s.subs[key]))
	for c := range s.subs[key] {
		targets = append(targets, c)
	}
	s.subsMu.Unlock()

	for _, c := range targets {
		_ = c.writeFrame(frame{PushPub: pub, PushBody: body})
	}
}

func sha256Hash(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

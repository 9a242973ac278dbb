// Package wallet implements the core wallet storage engine: the in-memory
// container, the reconciliation state machine, the session manager and the
// notification dispatcher (§2, §4 of the engine spec). It depends only on
// the store, cryptoapi and transport contracts — never on a concrete
// adapter.
package wallet

import "encoding/base64"

// Internal contracts (store, cryptoapi, transport) all use []byte; the
// base64 duality only exists at the store/transport wire boundary (§9).
// These two helpers are the single place that crosses it.

func encodeB64(b []byte) string {
	if b == nil {
		return ""
	}
	return base64.StdEncoding.EncodeToString(b)
}

func decodeB64(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	return base64.StdEncoding.DecodeString(s)
}

package wsserver

import (
	"bytes"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PQBackend is the production Backend, one row per wallet in a Postgres
// table. Distinct from store/pqstore's generic key/value schema: the
// transport server's compare-and-swap needs a single atomic row, not a
// per-field key space.
type PQBackend struct {
	db *sql.DB
}

// OpenPQBackend connects to dsn and ensures the backing table exists.
func OpenPQBackend(dsn string) (*PQBackend, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("wsserver: open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("wsserver: ping postgres: %w", err)
	}
	const schema = `
CREATE TABLE IF NOT EXISTS wallet_records (
	pub        TEXT PRIMARY KEY,
	ciphertext BYTEA NOT NULL,
	hash       BYTEA NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("wsserver: create schema: %w", err)
	}
	return &PQBackend{db: db}, nil
}

func (b *PQBackend) Close() error { return b.db.Close() }

func (b *PQBackend) Get(pub []byte) (Record, bool, error) {
	var rec Record
	var created, updated time.Time
	row := b.db.QueryRow(`SELECT ciphertext, hash, created_at, updated_at FROM wallet_records WHERE pub = $1`, hex.EncodeToString(pub))
	if err := row.Scan(&rec.Ciphertext, &rec.Hash, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, false, nil
		}
		return Record{}, false, err
	}
	rec.Created = created.Format(time.RFC3339)
	rec.Updated = updated.Format(time.RFC3339)
	return rec, true, nil
}

func (b *PQBackend) Create(pub []byte, rec Record) error {
	now := time.Now().UTC()
	_, err := b.db.Exec(
		`INSERT INTO wallet_records (pub, ciphertext, hash, created_at, updated_at) VALUES ($1, $2, $3, $4, $4)`,
		hex.EncodeToString(pub), rec.Ciphertext, rec.Hash, now,
	)
	return err
}

func (b *PQBackend) CompareAndSwap(pub []byte, prevHash []byte, rec Record) (bool, Record, error) {
	tx, err := b.db.Begin()
	if err != nil {
		return false, Record{}, err
	}
	defer tx.Rollback()

	var currentHash []byte
	var created, updated time.Time
	var currentCiphertext []byte
	row := tx.QueryRow(`SELECT ciphertext, hash, created_at, updated_at FROM wallet_records WHERE pub = $1 FOR UPDATE`, hex.EncodeToString(pub))
	if err := row.Scan(&currentCiphertext, &currentHash, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, Record{}, nil
		}
		return false, Record{}, err
	}
	if !bytes.Equal(currentHash, prevHash) {
		return false, Record{Ciphertext: currentCiphertext, Hash: currentHash, Created: created.Format(time.RFC3339), Updated: updated.Format(time.RFC3339)}, nil
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(`UPDATE wallet_records SET ciphertext = $2, hash = $3, updated_at = $4 WHERE pub = $1`, hex.EncodeToString(pub), rec.Ciphertext, rec.Hash, now); err != nil {
		return false, Record{}, err
	}
	if err := tx.Commit(); err != nil {
		return false, Record{}, err
	}
	rec.Created = created.Format(time.RFC3339)
	rec.Updated = now.Format(time.RFC3339)
	return true, rec, nil
}

func (b *PQBackend) Delete(pub []byte) error {
	_, err := b.db.Exec(`DELETE FROM wallet_records WHERE pub = $1`, hex.EncodeToString(pub))
	return err
}

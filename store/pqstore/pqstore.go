// Package pqstore is a shared, database-backed store.Store for server-side
// deployments of the engine that want each owner's storage state in one
// Postgres table rather than a per-process file. The reference transport
// server in transport/wsserver does not use it: its PQBackend keeps one row
// per wallet in a separate table.
package pqstore

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// Store is a Postgres-backed store.Store, scoped to a single owner key
// (e.g. a wallet's public key) via the table's owner column.
type Store struct {
	db    *sql.DB
	owner string
}

// Open connects to a Postgres instance and ensures the backing table
// exists, scoping subsequent operations to owner.
func Open(dsn, owner string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	const schema = `
CREATE TABLE IF NOT EXISTS wallet_state (
	owner TEXT NOT NULL,
	key   TEXT NOT NULL,
	value TEXT NOT NULL,
	PRIMARY KEY (owner, key)
)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, owner: owner}, nil
}

func (s *Store) Get(key string) (string, bool) {
	var v string
	err := s.db.QueryRow(`SELECT value FROM wallet_state WHERE owner = $1 AND key = $2`, s.owner, key).Scan(&v)
	if err != nil {
		return "", false
	}
	return v, true
}

func (s *Store) Has(key string) bool {
	_, ok := s.Get(key)
	return ok
}

func (s *Store) IsEmpty() bool {
	var n int
	err := s.db.QueryRow(`SELECT count(*) FROM wallet_state WHERE owner = $1`, s.owner).Scan(&n)
	return err != nil || n == 0
}

func (s *Store) SetState(partial map[string]*string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	for k, v := range partial {
		if v == nil {
			if _, err := tx.Exec(`DELETE FROM wallet_state WHERE owner = $1 AND key = $2`, s.owner, k); err != nil {
				tx.Rollback()
				return err
			}
			continue
		}
		const upsert = `
INSERT INTO wallet_state (owner, key, value) VALUES ($1, $2, $3)
ON CONFLICT (owner, key) DO UPDATE SET value = EXCLUDED.value`
		if _, err := tx.Exec(upsert, s.owner, k, *v); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// SetSaveToDisk is a no-op: a Postgres-backed store is always durable.
func (s *Store) SetSaveToDisk(bool) error { return nil }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) String() string { return fmt.Sprintf("pqstore(owner=%s)", s.owner) }

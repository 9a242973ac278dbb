// Package boltstore is an embedded, disk-backed store.Store. It is the
// default adapter for a desktop/CLI deployment of the wallet engine: one
// file on disk, no external service.
//
// It is grounded in the teacher's persist/boltdb.go, which opens a
// *bolt.DB with a bounded open timeout and keeps a small metadata bucket
// alongside the data. Rather than talk to bbolt's bucket/cursor API
// directly for a flat string/string map, this adapter layers
// github.com/asdine/storm/v3 on top (itself a thin ORM over bbolt) and uses
// its key/value convenience methods, which is exactly the shape storm was
// built for.
package boltstore

import (
	"time"

	"github.com/asdine/storm/v3"
	bolt "go.etcd.io/bbolt"
)

const bucket = "wallet_state"

// Store is a disk-backed store.Store.
type Store struct {
	db         *storm.DB
	saveToDisk bool
}

// Open opens (creating if absent) a bolt-backed store at path.
func Open(path string) (*Store, error) {
	db, err := storm.Open(path, storm.BoltOptions(0600, &bolt.Options{Timeout: 3 * time.Second}))
	if err != nil {
		return nil, err
	}
	return &Store{db: db, saveToDisk: true}, nil
}

func (s *Store) Get(key string) (string, bool) {
	var v string
	if err := s.db.Get(bucket, key, &v); err != nil {
		return "", false
	}
	return v, true
}

func (s *Store) Has(key string) bool {
	_, ok := s.Get(key)
	return ok
}

func (s *Store) IsEmpty() bool {
	keys, err := s.keys()
	if err != nil {
		return true
	}
	return len(keys) == 0
}

func (s *Store) keys() ([]string, error) {
	var keys []string
	err := s.db.Bolt.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	return keys, err
}

func (s *Store) SetState(partial map[string]*string) error {
	for k, v := range partial {
		if v == nil {
			if err := s.db.Delete(bucket, k); err != nil && err != storm.ErrNotFound {
				return err
			}
			continue
		}
		if err := s.db.Set(bucket, k, *v); err != nil {
			return err
		}
	}
	return nil
}

// SetSaveToDisk has no effect on durability once a file-backed store has
// been opened: it is already durable. It records the toggle in a field that
// nothing else in this package reads.
func (s *Store) SetSaveToDisk(save bool) error {
	s.saveToDisk = save
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

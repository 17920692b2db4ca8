// Package localstore is the embedded single-file client database: one
// bbolt file holding the local document replica, the offline mutation
// queue, a mirror of applied change events, and per-user sync state.
// Adapted from this codebase's generic bbolt helper (db/bolt/bolt.go
// PutJSON/GetJSON/ForEachJSON) into the specific buckets and operations
// the sync engines need. Every exported method runs in its own bbolt
// transaction; none lets a caller group several of them into one.
package localstore

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/evalgo/docsync/internal/obs"
)

// Store wraps a bbolt database with the sync-specific bucket layout.
type Store struct {
	db *bolt.DB
}

// Open opens or creates the local database at path and ensures every
// bucket this package needs exists, see migrations.go.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, obs.New(obs.KindFatal, "localstore.Open", fmt.Errorf("open bbolt database: %w", err))
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying file handle.
func (s *Store) Close() error { return s.db.Close() }

func putJSON(tx *bolt.Tx, bucket []byte, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return obs.New(obs.KindInvalidInput, "localstore.putJSON", err)
	}
	b := tx.Bucket(bucket)
	if b == nil {
		return obs.New(obs.KindFatal, "localstore.putJSON", fmt.Errorf("bucket not found: %s", bucket))
	}
	return b.Put([]byte(key), data)
}

func getJSON(tx *bolt.Tx, bucket []byte, key string, value interface{}) (bool, error) {
	b := tx.Bucket(bucket)
	if b == nil {
		return false, obs.New(obs.KindFatal, "localstore.getJSON", fmt.Errorf("bucket not found: %s", bucket))
	}
	data := b.Get([]byte(key))
	if data == nil {
		return false, nil
	}
	if err := json.Unmarshal(data, value); err != nil {
		return false, obs.New(obs.KindInvalidInput, "localstore.getJSON", err)
	}
	return true, nil
}

package localstore

import (
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/evalgo/docsync/internal/obs"
)

var (
	bucketDocuments    = []byte("documents")
	bucketSyncQueue    = []byte("sync_queue")
	bucketChangeEvents = []byte("change_events")
	bucketSyncState    = []byte("sync_state")
	bucketUserConfig   = []byte("user_config")
)

var allBuckets = [][]byte{bucketDocuments, bucketSyncQueue, bucketChangeEvents, bucketSyncState, bucketUserConfig}

// migrate is the client-side equivalent of serverstore's golang-migrate
// runner: there is no schema versioning to speak of for a bucket store, so
// "applying migrations" just means ensuring every bucket this version of
// the code expects is present, matching the bolt.go teacher helper's
// CreateBucketIfNotExists semantics.
func (s *Store) migrate() error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		return obs.New(obs.KindFatal, "localstore.migrate", err)
	}
	return nil
}

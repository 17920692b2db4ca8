package localstore

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/google/uuid"

	"github.com/evalgo/docsync/internal/obs"
)

// OperationType discriminates the three mutation shapes the offline queue
// can carry.
type OperationType string

const (
	OpCreate OperationType = "create"
	OpUpdate OperationType = "update"
	OpDelete OperationType = "delete"
)

// QueueEntry is a pending, not-yet-acknowledged local mutation.
type QueueEntry struct {
	ID             uint64
	DocumentID     uuid.UUID
	Operation      OperationType
	Patch          []byte // forward patch, set for OpUpdate
	OldContentHash string // hash of the document before this local edit
	BaseVersion    int64  // version before this local edit, used for delete conflict checks
	RetryCount     int
	CreatedAt      time.Time
}

// EnqueueMutation appends entry to the offline queue, assigning it the next
// sequential id.
func (s *Store) EnqueueMutation(entry *QueueEntry) (uint64, error) {
	var id uint64
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSyncQueue)
		next, err := b.NextSequence()
		if err != nil {
			return fmt.Errorf("allocate queue id: %w", err)
		}
		id = next
		entry.ID = id
		return putJSON(tx, bucketSyncQueue, keyForID(id), entry)
	})
	if err != nil {
		return 0, obs.New(obs.KindFatal, "localstore.EnqueueMutation", err)
	}
	return id, nil
}

// PeekPending returns up to limit queue entries in creation order, without
// removing them.
func (s *Store) PeekPending(limit int) ([]QueueEntry, error) {
	var out []QueueEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketSyncQueue).Cursor()
		for k, v := c.First(); k != nil && (limit <= 0 || len(out) < limit); k, v = c.Next() {
			var e QueueEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			out = append(out, e)
		}
		return nil
	})
	if err != nil {
		return nil, obs.New(obs.KindFatal, "localstore.PeekPending", err)
	}
	return out, nil
}

// Dequeue removes entryID from the queue once the server has acknowledged
// the mutation it represents.
func (s *Store) Dequeue(entryID uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSyncQueue).Delete([]byte(keyForID(entryID)))
	})
}

// IncrementRetry bumps entryID's retry count after a transient transport
// failure, leaving the entry in place and in order.
func (s *Store) IncrementRetry(entryID uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		var e QueueEntry
		found, err := getJSON(tx, bucketSyncQueue, keyForID(entryID), &e)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("queue entry not found: %d", entryID)
		}
		e.RetryCount++
		return putJSON(tx, bucketSyncQueue, keyForID(entryID), &e)
	})
}

// CountPendingSync returns the number of entries currently in the offline
// queue, backing the embedder API's count_pending_sync().
func (s *Store) CountPendingSync() (int, error) {
	var count int
	err := s.db.View(func(tx *bolt.Tx) error {
		count = tx.Bucket(bucketSyncQueue).Stats().KeyN
		return nil
	})
	if err != nil {
		return 0, obs.New(obs.KindFatal, "localstore.CountPendingSync", err)
	}
	return count, nil
}

func keyForID(id uint64) string {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, id)
	return string(buf)
}

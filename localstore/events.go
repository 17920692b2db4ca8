package localstore

import (
	"encoding/json"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/google/uuid"

	"github.com/evalgo/docsync/changelog"
	"github.com/evalgo/docsync/internal/obs"
)

// MirrorEvent records a change event this replica has applied, keyed by
// sequence so it can be replayed for offline clients without a server
// round trip.
type MirrorEvent struct {
	Sequence        int64               `json:"sequence"`
	DocumentID      uuid.UUID           `json:"document_id"`
	EventType       changelog.EventType `json:"event_type"`
	ForwardPatch    []byte              `json:"forward_patch,omitempty"`
	ReversePatch    []byte              `json:"reverse_patch,omitempty"`
	ServerTimestamp time.Time           `json:"server_timestamp"`
}

// AppendMirrorEvent records e in the local change-event mirror.
func (s *Store) AppendMirrorEvent(e *MirrorEvent) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx, bucketChangeEvents, sequenceKey(e.Sequence), e)
	})
	if err != nil {
		return obs.New(obs.KindFatal, "localstore.AppendMirrorEvent", err)
	}
	return nil
}

// MirrorEventsSince returns every mirrored event with sequence > after, in
// ascending order, used for local offline replay of recent history.
func (s *Store) MirrorEventsSince(after int64) ([]MirrorEvent, error) {
	var out []MirrorEvent
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketChangeEvents).ForEach(func(k, v []byte) error {
			var e MirrorEvent
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			if e.Sequence > after {
				out = append(out, e)
			}
			return nil
		})
	})
	if err != nil {
		return nil, obs.New(obs.KindFatal, "localstore.MirrorEventsSince", err)
	}
	return out, nil
}

func sequenceKey(seq int64) string {
	return keyForID(uint64(seq))
}

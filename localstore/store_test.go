package localstore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evalgo/docsync/docmodel"
)

func newTestStore(t *testing.T) *Store {
	path := filepath.Join(t.TempDir(), "docsync-client.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestUpsertAndGetDocument(t *testing.T) {
	s := newTestStore(t)

	doc, err := docmodel.NewDocument(uuid.New(), uuid.New(), map[string]interface{}{"title": "x"}, time.Now().UTC())
	require.NoError(t, err)

	require.NoError(t, s.UpsertDocument(doc))

	got, err := s.GetDocument(doc.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, doc.ContentHash, got.ContentHash)
}

func TestUpsertDocumentRejectsHashMismatch(t *testing.T) {
	s := newTestStore(t)

	doc, err := docmodel.NewDocument(uuid.New(), uuid.New(), map[string]interface{}{"title": "x"}, time.Now().UTC())
	require.NoError(t, err)
	doc.ContentHash = "deliberately-wrong"

	err = s.UpsertDocument(doc)
	assert.Error(t, err)
}

func TestGetDocumentMissingReturnsNil(t *testing.T) {
	s := newTestStore(t)

	got, err := s.GetDocument(uuid.New())
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSoftDeleteDocument(t *testing.T) {
	s := newTestStore(t)

	doc, err := docmodel.NewDocument(uuid.New(), uuid.New(), map[string]interface{}{"title": "x"}, time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, s.UpsertDocument(doc))

	require.NoError(t, s.SoftDeleteDocument(doc.ID))

	got, err := s.GetDocument(doc.ID)
	require.NoError(t, err)
	assert.True(t, got.Deleted)

	all, err := s.GetAllDocuments()
	require.NoError(t, err)
	assert.Empty(t, all, "deleted documents excluded from GetAllDocuments")
}

func TestCountDocuments(t *testing.T) {
	s := newTestStore(t)
	userID := uuid.New()

	for i := 0; i < 3; i++ {
		doc, err := docmodel.NewDocument(uuid.New(), userID, map[string]interface{}{"n": i}, time.Now().UTC())
		require.NoError(t, err)
		require.NoError(t, s.UpsertDocument(doc))
	}

	count, err := s.CountDocuments()
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestQueueEnqueueOrderPreserved(t *testing.T) {
	s := newTestStore(t)
	docID := uuid.New()

	var ids []uint64
	for i := 0; i < 5; i++ {
		id, err := s.EnqueueMutation(&QueueEntry{
			DocumentID: docID,
			Operation:  OpUpdate,
			CreatedAt:  time.Now().UTC(),
		})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	pending, err := s.PeekPending(0)
	require.NoError(t, err)
	require.Len(t, pending, 5)
	for i, entry := range pending {
		assert.Equal(t, ids[i], entry.ID, "entries must be returned in creation order")
	}
}

func TestQueuePeekLimit(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 5; i++ {
		_, err := s.EnqueueMutation(&QueueEntry{DocumentID: uuid.New(), Operation: OpCreate})
		require.NoError(t, err)
	}

	pending, err := s.PeekPending(2)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestQueueDequeue(t *testing.T) {
	s := newTestStore(t)
	id, err := s.EnqueueMutation(&QueueEntry{DocumentID: uuid.New(), Operation: OpCreate})
	require.NoError(t, err)

	require.NoError(t, s.Dequeue(id))

	pending, err := s.PeekPending(0)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestQueueIncrementRetry(t *testing.T) {
	s := newTestStore(t)
	id, err := s.EnqueueMutation(&QueueEntry{DocumentID: uuid.New(), Operation: OpCreate})
	require.NoError(t, err)

	require.NoError(t, s.IncrementRetry(id))
	require.NoError(t, s.IncrementRetry(id))

	pending, err := s.PeekPending(0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 2, pending[0].RetryCount)
}

func TestCountPendingSync(t *testing.T) {
	s := newTestStore(t)
	count, err := s.CountPendingSync()
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	_, err = s.EnqueueMutation(&QueueEntry{DocumentID: uuid.New(), Operation: OpCreate})
	require.NoError(t, err)

	count, err = s.CountPendingSync()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestLastSyncedRoundTrip(t *testing.T) {
	s := newTestStore(t)
	userID := uuid.New()

	seq, err := s.GetLastSynced(userID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), seq)

	require.NoError(t, s.SetLastSynced(userID, 42))

	seq, err = s.GetLastSynced(userID)
	require.NoError(t, err)
	assert.Equal(t, int64(42), seq)
}

func TestUserConfigRoundTrip(t *testing.T) {
	s := newTestStore(t)

	cfg, err := s.LoadUserConfig()
	require.NoError(t, err)
	assert.Nil(t, cfg)

	require.NoError(t, s.SaveUserConfig(&UserConfig{Email: "a@example.com", ServerURL: "wss://sync.example.com"}))

	cfg, err = s.LoadUserConfig()
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, "a@example.com", cfg.Email)
}

func TestMirrorEventsSince(t *testing.T) {
	s := newTestStore(t)
	docID := uuid.New()

	for i := int64(1); i <= 3; i++ {
		require.NoError(t, s.AppendMirrorEvent(&MirrorEvent{
			Sequence:        i,
			DocumentID:      docID,
			ServerTimestamp: time.Now().UTC(),
		}))
	}

	events, err := s.MirrorEventsSince(1)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, int64(2), events[0].Sequence)
	assert.Equal(t, int64(3), events[1].Sequence)
}

package syncengine

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evalgo/docsync/config"
	"github.com/evalgo/docsync/dispatcher"
	"github.com/evalgo/docsync/docmodel"
	"github.com/evalgo/docsync/localstore"
	"github.com/evalgo/docsync/protocol"
)

func newTestEngine(t *testing.T) (*ClientEngine, *localstore.Store, *dispatcher.Dispatcher) {
	t.Helper()
	store, err := localstore.Open(t.TempDir() + "/docsync-syncengine-test.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	disp := dispatcher.New(0)
	engine := New(store, disp, config.ClientConfig{})
	engine.userID = uuid.New()
	return engine, store, disp
}

func TestCreateDocumentQueuesForUpload(t *testing.T) {
	engine, store, _ := newTestEngine(t)

	id, err := engine.CreateDocument(map[string]interface{}{"title": "hello"})
	require.NoError(t, err)

	doc, err := store.GetDocument(id)
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, int64(1), doc.Version)

	n, err := store.CountPendingSync()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	entries, err := store.PeekPending(0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, localstore.OpCreate, entries[0].Operation)
}

func TestUpdateDocumentRejectsUnknownID(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	err := engine.UpdateDocument(uuid.New(), map[string]interface{}{"title": "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, errDocumentNotFound)
}

func TestUpdateDocumentBumpsVersionAndQueuesPatch(t *testing.T) {
	engine, store, _ := newTestEngine(t)

	id, err := engine.CreateDocument(map[string]interface{}{"title": "v1"})
	require.NoError(t, err)

	require.NoError(t, engine.UpdateDocument(id, map[string]interface{}{"title": "v2"}))

	doc, err := store.GetDocument(id)
	require.NoError(t, err)
	assert.Equal(t, int64(2), doc.Version)
	assert.Equal(t, "v2", doc.Content["title"])

	n, err := store.CountPendingSync()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestDeleteDocumentSoftDeletesAndQueues(t *testing.T) {
	engine, store, _ := newTestEngine(t)

	id, err := engine.CreateDocument(map[string]interface{}{"title": "v1"})
	require.NoError(t, err)

	require.NoError(t, engine.DeleteDocument(id))

	doc, err := store.GetDocument(id)
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.True(t, doc.Deleted)

	n, err := store.CountDocuments()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestApplyEventCreateInsertsDocument(t *testing.T) {
	engine, store, disp := newTestEngine(t)

	var emitted []dispatcher.DocumentEvent
	disp.RegisterDocument(func(e dispatcher.DocumentEvent) { emitted = append(emitted, e) }, nil)

	id := uuid.New()
	forward, err := docmodel.MarshalFullContent(map[string]interface{}{"title": "remote"})
	require.NoError(t, err)

	require.NoError(t, engine.applyEvent(protocol.WireEvent{
		Sequence: 1, DocumentID: id, EventType: "create", ForwardPatch: forward,
	}))

	doc, err := store.GetDocument(id)
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, "remote", doc.Content["title"])

	disp.ProcessEvents()
	require.Len(t, emitted, 1)
	assert.Equal(t, dispatcher.DocumentCreated, emitted[0].Kind)
}

func TestApplyEventUpdateAppliesPatch(t *testing.T) {
	engine, store, _ := newTestEngine(t)

	id, err := engine.CreateDocument(map[string]interface{}{"title": "v1"})
	require.NoError(t, err)
	require.NoError(t, store.SetLastSynced(engine.userID, 0))

	patch := []byte(`[{"op":"replace","path":"/title","value":"v2-from-server"}]`)
	require.NoError(t, engine.applyEvent(protocol.WireEvent{
		Sequence: 1, DocumentID: id, EventType: "update", ForwardPatch: patch,
	}))

	doc, err := store.GetDocument(id)
	require.NoError(t, err)
	assert.Equal(t, "v2-from-server", doc.Content["title"])
	assert.Equal(t, int64(2), doc.Version)
}

func TestHandleConflictAdoptsServerContentAndDiscardsQueueEntry(t *testing.T) {
	engine, store, disp := newTestEngine(t)

	var conflicts []dispatcher.ConflictEvent
	disp.RegisterConflict(func(e dispatcher.ConflictEvent) { conflicts = append(conflicts, e) }, nil)

	id, err := engine.CreateDocument(map[string]interface{}{"title": "mine"})
	require.NoError(t, err)

	engine.handleConflict(protocol.Conflict{
		DocumentID: id,
		ServerDoc:  map[string]interface{}{"title": "theirs"},
		Reason:     "base_content_hash stale",
	})

	doc, err := store.GetDocument(id)
	require.NoError(t, err)
	assert.Equal(t, "theirs", doc.Content["title"])

	n, err := store.CountPendingSync()
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	disp.ProcessEvents()
	require.Len(t, conflicts, 1)
	assert.Equal(t, "mine", conflicts[0].LosingContent["title"])
	assert.Equal(t, "theirs", conflicts[0].WinningContent["title"])
}

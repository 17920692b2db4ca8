package embedder

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evalgo/docsync/config"
	"github.com/evalgo/docsync/dispatcher"
	"github.com/evalgo/docsync/localstore"
	"github.com/evalgo/docsync/syncengine"
)

// newTestHandle builds a Handle against a scratch local database without
// starting the background connection loop, so tests exercise local
// document operations deterministically.
func newTestHandle(t *testing.T) *Handle {
	t.Helper()
	store, err := localstore.Open(t.TempDir() + "/docsync-embedder-test.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	cfg := config.LoadClientConfig()
	disp := dispatcher.New(cfg.DispatcherQueue)
	engine := syncengine.New(store, disp, cfg)
	_, cancel := context.WithCancel(context.Background())

	return &Handle{store: store, disp: disp, engine: engine, cancel: cancel}
}

func TestCreateGetUpdateDeleteRoundTrip(t *testing.T) {
	h := newTestHandle(t)

	id, err := h.CreateDocument(`{"title":"hello"}`)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	got, err := h.GetDocument(id)
	require.NoError(t, err)
	assert.JSONEq(t, `{"title":"hello"}`, got)

	require.NoError(t, h.UpdateDocument(id, `{"title":"updated"}`))
	got, err = h.GetDocument(id)
	require.NoError(t, err)
	assert.JSONEq(t, `{"title":"updated"}`, got)

	n, err := h.CountDocuments()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)

	require.NoError(t, h.DeleteDocument(id))
	n, err = h.CountDocuments()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), n)
}

func TestCreateDocumentRejectsMalformedJSON(t *testing.T) {
	h := newTestHandle(t)
	_, err := h.CreateDocument(`not json`)
	require.Error(t, err)
	assert.Equal(t, 1, int(ErrorCode(err)))
}

func TestGetDocumentNotFound(t *testing.T) {
	h := newTestHandle(t)
	_, err := h.GetDocument("00000000-0000-0000-0000-000000000001")
	require.Error(t, err)
	assert.ErrorIs(t, err, errNotFound)
}

func TestGetAllDocumentsReturnsJSONArray(t *testing.T) {
	h := newTestHandle(t)

	_, err := h.CreateDocument(`{"title":"a"}`)
	require.NoError(t, err)
	_, err = h.CreateDocument(`{"title":"b"}`)
	require.NoError(t, err)

	all, err := h.GetAllDocuments()
	require.NoError(t, err)
	assert.Contains(t, all, `"title":"a"`)
	assert.Contains(t, all, `"title":"b"`)
}

func TestCountPendingSyncReflectsQueuedMutations(t *testing.T) {
	h := newTestHandle(t)

	_, err := h.CreateDocument(`{"title":"queued"}`)
	require.NoError(t, err)

	n, err := h.CountPendingSync()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)
}

func TestIsConnectedFalseBeforeRun(t *testing.T) {
	h := newTestHandle(t)
	assert.False(t, h.IsConnected())
}

func TestProcessEventsDrainsRegisteredCallback(t *testing.T) {
	h := newTestHandle(t)

	var received []string
	h.RegisterDocumentCallback(func(e dispatcher.DocumentEvent) {
		received = append(received, e.DocumentID)
	})

	_, err := h.CreateDocument(`{"title":"cb"}`)
	require.NoError(t, err)

	n := h.ProcessEvents()
	assert.Equal(t, uint32(1), n)
	require.Len(t, received, 1)
}

func TestErrorCodeNilIsSuccess(t *testing.T) {
	assert.Equal(t, 0, int(ErrorCode(nil)))
}

// Package embedder is the Go-native embedding API: a host application links
// this package directly (rather than crossing an FFI boundary) to get a
// local-first document store that stays synchronized with a server over an
// authenticated websocket connection. Every method returns an ordinary Go
// error; callers that need the discriminated code an FFI layer would expose
// can recover it with ErrorCode.
package embedder

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/evalgo/docsync/config"
	"github.com/evalgo/docsync/dispatcher"
	"github.com/evalgo/docsync/internal/obs"
	"github.com/evalgo/docsync/localstore"
	"github.com/evalgo/docsync/syncengine"
)

// Handle is one embedded client engine instance, returned by New and
// released by Destroy.
type Handle struct {
	store  *localstore.Store
	disp   *dispatcher.Dispatcher
	engine *syncengine.ClientEngine
	cancel context.CancelFunc
}

// New opens or creates the local database at dbURL, registers with
// serverURL using email/apiKey/apiSecret, and starts the background
// connection loop, returning a live Handle.
func New(dbURL, serverURL, email, apiKey, apiSecret string) (*Handle, error) {
	store, err := localstore.Open(dbURL)
	if err != nil {
		return nil, err
	}

	cfg := config.LoadClientConfig()
	cfg.DatabasePath = dbURL
	cfg.ServerURL = serverURL
	cfg.Email = email
	cfg.APIKey = apiKey
	cfg.APISecret = apiSecret

	if err := store.SaveUserConfig(&localstore.UserConfig{
		Email: email, ServerURL: serverURL, APIKey: apiKey, APISecret: apiSecret,
	}); err != nil {
		store.Close()
		return nil, err
	}

	disp := dispatcher.New(cfg.DispatcherQueue)
	engine := syncengine.New(store, disp, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	go engine.Run(ctx, serverURL)

	return &Handle{store: store, disp: disp, engine: engine, cancel: cancel}, nil
}

// Destroy stops the background connection loop and releases the local
// database handle.
func (h *Handle) Destroy() error {
	h.cancel()
	return h.store.Close()
}

// CreateDocument creates a new document from contentJSON, returning its id
// as a string.
func (h *Handle) CreateDocument(contentJSON string) (string, error) {
	content, err := decodeContent(contentJSON)
	if err != nil {
		return "", err
	}
	id, err := h.engine.CreateDocument(content)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// UpdateDocument replaces id's content with contentJSON.
func (h *Handle) UpdateDocument(id, contentJSON string) error {
	docID, err := parseID(id)
	if err != nil {
		return err
	}
	content, err := decodeContent(contentJSON)
	if err != nil {
		return err
	}
	return h.engine.UpdateDocument(docID, content)
}

// DeleteDocument soft-deletes id.
func (h *Handle) DeleteDocument(id string) error {
	docID, err := parseID(id)
	if err != nil {
		return err
	}
	return h.engine.DeleteDocument(docID)
}

// GetDocument returns id's content as a JSON string.
func (h *Handle) GetDocument(id string) (string, error) {
	docID, err := parseID(id)
	if err != nil {
		return "", err
	}
	doc, err := h.engine.GetDocument(docID)
	if err != nil {
		return "", err
	}
	if doc == nil {
		return "", obs.New(obs.KindInvalidInput, "embedder.GetDocument", errNotFound)
	}
	return encodeContent(doc.Content)
}

// GetAllDocuments returns every non-deleted document as a JSON array.
func (h *Handle) GetAllDocuments() (string, error) {
	docs, err := h.engine.GetAllDocuments()
	if err != nil {
		return "", err
	}
	out := make([]map[string]interface{}, 0, len(docs))
	for _, d := range docs {
		out = append(out, map[string]interface{}{
			"id": d.ID.String(), "content": d.Content, "version": d.Version,
			"content_hash": d.ContentHash, "title": d.Title(),
		})
	}
	b, err := json.Marshal(out)
	if err != nil {
		return "", serializationError(err)
	}
	return string(b), nil
}

// CountDocuments returns the number of local documents.
func (h *Handle) CountDocuments() (uint64, error) {
	n, err := h.engine.CountDocuments()
	return uint64(n), err
}

// CountPendingSync returns the number of queued, not-yet-acknowledged
// mutations.
func (h *Handle) CountPendingSync() (uint64, error) {
	n, err := h.engine.CountPendingSync()
	return uint64(n), err
}

// IsConnected reports whether the engine currently holds a live connection.
func (h *Handle) IsConnected() bool { return h.engine.IsConnected() }

// ProcessEvents drains and dispatches queued events, returning the count
// processed.
func (h *Handle) ProcessEvents() uint32 { return h.disp.ProcessEvents() }

// RegisterDocumentCallback registers fn for every Document event.
func (h *Handle) RegisterDocumentCallback(fn dispatcher.DocumentCallback) {
	h.disp.RegisterDocument(fn, nil)
}

// RegisterSyncCallback registers fn for every Sync event.
func (h *Handle) RegisterSyncCallback(fn dispatcher.SyncCallback) { h.disp.RegisterSync(fn, nil) }

// RegisterErrorCallback registers fn for every Error event.
func (h *Handle) RegisterErrorCallback(fn dispatcher.ErrorCallback) { h.disp.RegisterError(fn, nil) }

// RegisterConnectionCallback registers fn for every Connection event.
func (h *Handle) RegisterConnectionCallback(fn dispatcher.ConnectionCallback) {
	h.disp.RegisterConnection(fn, nil)
}

// RegisterConflictCallback registers fn for every Conflict event.
func (h *Handle) RegisterConflictCallback(fn dispatcher.ConflictCallback) {
	h.disp.RegisterConflict(fn, nil)
}

func decodeContent(contentJSON string) (map[string]interface{}, error) {
	var content map[string]interface{}
	if err := json.Unmarshal([]byte(contentJSON), &content); err != nil {
		return nil, obs.New(obs.KindInvalidInput, "embedder.decodeContent", err)
	}
	return content, nil
}

func encodeContent(content map[string]interface{}) (string, error) {
	b, err := json.Marshal(content)
	if err != nil {
		return "", serializationError(err)
	}
	return string(b), nil
}

func parseID(id string) (uuid.UUID, error) {
	docID, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil, obs.New(obs.KindInvalidInput, "embedder.parseID", err)
	}
	return docID, nil
}

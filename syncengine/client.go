// Package syncengine implements the client and server reconciliation
// engines: ClientEngine queues offline mutations and reconciles
// them with server state; ServerEngine admits mutations, resolves
// conflicts, and broadcasts to every live session of the mutating user.
package syncengine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/evalgo/docsync/config"
	"github.com/evalgo/docsync/dispatcher"
	"github.com/evalgo/docsync/docmodel"
	"github.com/evalgo/docsync/internal/obs"
	"github.com/evalgo/docsync/localstore"
	"github.com/evalgo/docsync/protocol"
)

// ClientEngine is the client-side reconciliation engine: the embedder
// mutates documents through its methods, which write the document and then
// its offline-queue entry to the local store, each in its own local
// transaction (the two writes are not atomic together), and emit dispatcher
// events; a background connection loop drains the offline queue and applies
// inbound changes.
type ClientEngine struct {
	store *localstore.Store
	disp  *dispatcher.Dispatcher
	cfg   config.ClientConfig

	mu        sync.Mutex
	conn      *protocol.Conn // nil while disconnected
	userID    uuid.UUID
	connected bool

	wake chan struct{} // signals the uploader that new work is pending

	pendingMu sync.Mutex
	pending   map[uuid.UUID]uint64 // document_id -> in-flight queue entry id awaiting server echo
}

// New constructs a ClientEngine backed by store, emitting events into disp.
func New(store *localstore.Store, disp *dispatcher.Dispatcher, cfg config.ClientConfig) *ClientEngine {
	return &ClientEngine{
		store:   store,
		disp:    disp,
		cfg:     cfg,
		wake:    make(chan struct{}, 1),
		pending: make(map[uuid.UUID]uint64),
	}
}

// IsConnected reports whether the engine currently holds a live connection.
func (c *ClientEngine) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *ClientEngine) signalUpload() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// CreateDocument creates a new document locally, queues it for upload, and
// emits DocumentCreated.
func (c *ClientEngine) CreateDocument(content map[string]interface{}) (uuid.UUID, error) {
	id := uuid.New()
	now := time.Now().UTC()
	doc, err := docmodel.NewDocument(id, c.userID, content, now)
	if err != nil {
		return uuid.Nil, err
	}

	if err := c.store.UpsertDocument(doc); err != nil {
		return uuid.Nil, err
	}
	if _, err := c.store.EnqueueMutation(&localstore.QueueEntry{
		DocumentID:     id,
		Operation:      localstore.OpCreate,
		OldContentHash: "",
		BaseVersion:    0,
		CreatedAt:      now,
	}); err != nil {
		return uuid.Nil, err
	}

	c.disp.EmitDocument(dispatcher.DocumentEvent{
		Kind: dispatcher.DocumentCreated, DocumentID: id.String(), Title: doc.Title(), Content: content,
	})
	c.signalUpload()
	return id, nil
}

// UpdateDocument applies a local edit (the embedder's intended full new
// content), computing the patch against the current local state, queuing
// it for upload with the pre-edit content hash for optimistic locking.
func (c *ClientEngine) UpdateDocument(id uuid.UUID, content map[string]interface{}) error {
	current, err := c.store.GetDocument(id)
	if err != nil {
		return err
	}
	if current == nil {
		return obs.New(obs.KindInvalidInput, "syncengine.UpdateDocument", errDocumentNotFound)
	}

	forward, _, err := docmodel.GenerateUpdatePatch(current.Content, content)
	if err != nil {
		return err
	}
	newHash, err := docmodel.ContentHash(content)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	updated := *current
	updated.Content = content
	updated.Version = current.Version + 1
	updated.ContentHash = newHash
	updated.UpdatedAt = now

	if err := c.store.UpsertDocument(&updated); err != nil {
		return err
	}
	if _, err := c.store.EnqueueMutation(&localstore.QueueEntry{
		DocumentID:     id,
		Operation:      localstore.OpUpdate,
		Patch:          forward,
		OldContentHash: current.ContentHash,
		BaseVersion:    current.Version,
		CreatedAt:      now,
	}); err != nil {
		return err
	}

	c.disp.EmitDocument(dispatcher.DocumentEvent{
		Kind: dispatcher.DocumentUpdated, DocumentID: id.String(), Title: updated.Title(), Content: content,
	})
	c.signalUpload()
	return nil
}

// DeleteDocument soft-deletes id locally and queues the delete for upload.
func (c *ClientEngine) DeleteDocument(id uuid.UUID) error {
	current, err := c.store.GetDocument(id)
	if err != nil {
		return err
	}
	if current == nil {
		return obs.New(obs.KindInvalidInput, "syncengine.DeleteDocument", errDocumentNotFound)
	}

	if err := c.store.SoftDeleteDocument(id); err != nil {
		return err
	}
	if _, err := c.store.EnqueueMutation(&localstore.QueueEntry{
		DocumentID:  id,
		Operation:   localstore.OpDelete,
		BaseVersion: current.Version,
		CreatedAt:   time.Now().UTC(),
	}); err != nil {
		return err
	}

	c.disp.EmitDocument(dispatcher.DocumentEvent{
		Kind: dispatcher.DocumentDeleted, DocumentID: id.String(), Title: current.Title(),
	})
	c.signalUpload()
	return nil
}

// GetDocument returns the local replica's content for id.
func (c *ClientEngine) GetDocument(id uuid.UUID) (*docmodel.Document, error) {
	return c.store.GetDocument(id)
}

// GetAllDocuments returns every non-deleted document in the local replica.
func (c *ClientEngine) GetAllDocuments() ([]docmodel.Document, error) {
	return c.store.GetAllDocuments()
}

// CountDocuments returns the number of non-deleted local documents.
func (c *ClientEngine) CountDocuments() (int, error) { return c.store.CountDocuments() }

// CountPendingSync returns the number of queued, not-yet-acknowledged
// mutations.
func (c *ClientEngine) CountPendingSync() (int, error) { return c.store.CountPendingSync() }

func (c *ClientEngine) trackPending(docID uuid.UUID, entryID uint64) {
	c.pendingMu.Lock()
	c.pending[docID] = entryID
	c.pendingMu.Unlock()
}

func (c *ClientEngine) untrackPending(docID uuid.UUID, entryID uint64) bool {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	if current, ok := c.pending[docID]; ok && current == entryID {
		delete(c.pending, docID)
		return true
	}
	return false
}

// Run drives the client engine's connection lifecycle: dial, authenticate,
// start the uploader/applier/heartbeat for as long as the connection holds,
// and reconnect with back-off on failure. It blocks until ctx is
// cancelled.
func (c *ClientEngine) Run(ctx context.Context, serverURL string) {
	sup := protocol.NewSupervisor(
		func(dialCtx context.Context) (*protocol.Conn, error) {
			return protocol.Dial(dialCtx, serverURL, nil)
		},
		func(authCtx context.Context, conn *protocol.Conn) error {
			var writeMu sync.Mutex
			return c.authenticate(conn, &writeMu, uuid.New().String())
		},
		c.cfg.BackoffMin, c.cfg.BackoffMax,
	)

	go c.watchLifecycle(ctx, sup)

	sup.Run(ctx, func(connCtx context.Context, conn *protocol.Conn) error {
		return c.runConnection(connCtx, conn)
	})
}

func (c *ClientEngine) watchLifecycle(ctx context.Context, sup *protocol.Supervisor) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sup.Events():
			if !ok {
				return
			}
			c.onLifecycleEvent(ev)
		}
	}
}

func (c *ClientEngine) onLifecycleEvent(ev protocol.LifecycleEvent) {
	switch ev.State {
	case protocol.StateConnecting, protocol.StateAuthenticating:
		c.disp.EmitConnection(dispatcher.ConnectionEvent{Kind: dispatcher.ConnectionAttempted, Attempt: ev.Attempt})
	case protocol.StateConnected:
		c.mu.Lock()
		c.connected = true
		c.mu.Unlock()
		c.disp.EmitConnection(dispatcher.ConnectionEvent{Kind: dispatcher.ConnectionSucceeded, Connected: true, Attempt: ev.Attempt})
	case protocol.StateDisconnected:
		c.mu.Lock()
		wasConnected := c.connected
		c.connected = false
		c.conn = nil
		c.mu.Unlock()
		if wasConnected {
			c.disp.EmitConnection(dispatcher.ConnectionEvent{Kind: dispatcher.ConnectionLost, Connected: false})
		}
		if ev.Err != nil {
			c.disp.EmitError(dispatcher.ErrorEvent{Kind: dispatcher.SyncError, Message: ev.Err.Error()})
		}
	}
}

package syncengine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/evalgo/docsync/changelog"
	"github.com/evalgo/docsync/dispatcher"
	"github.com/evalgo/docsync/docmodel"
	"github.com/evalgo/docsync/internal/obs"
	"github.com/evalgo/docsync/localstore"
	"github.com/evalgo/docsync/protocol"
)

// readLoop is the single goroutine that receives frames on conn, applying
// inbound changes/broadcasts and resolving conflicts. It demultiplexes by message type; the uploader goroutine only
// ever writes, never reads, conn.
func (c *ClientEngine) readLoop(ctx context.Context, conn *protocol.Conn, writeMu *sync.Mutex) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		env, err := conn.Recv()
		if err != nil {
			return err
		}

		switch env.Type {
		case protocol.TypeChanges:
			if err := c.handleChanges(conn, writeMu, env); err != nil {
				return err
			}
		case protocol.TypeDocumentCreated:
			var m protocol.DocumentCreated
			if err := protocol.Decode(env, &m); err != nil {
				continue
			}
			c.applyBroadcastCreate(m)
		case protocol.TypeDocumentUpdated:
			var m protocol.DocumentUpdated
			if err := protocol.Decode(env, &m); err != nil {
				continue
			}
			c.applyBroadcastUpdate(m)
		case protocol.TypeDocumentDeleted:
			var m protocol.DocumentDeleted
			if err := protocol.Decode(env, &m); err != nil {
				continue
			}
			c.applyBroadcastDelete(m)
		case protocol.TypeConflict:
			var m protocol.Conflict
			if err := protocol.Decode(env, &m); err != nil {
				continue
			}
			c.handleConflict(m)
		case protocol.TypeChangesAcknowledged:
			// informational only; nothing to reconcile locally.
		case protocol.TypePong:
			// application-level pong; transport liveness is tracked via
			// SetPingHandler in runHeartbeat, not this frame.
		case protocol.TypeError:
			var m protocol.ErrorFrame
			_ = protocol.Decode(env, &m)
			c.disp.EmitError(dispatcher.ErrorEvent{Kind: dispatcher.SyncError, Message: m.Message})
		}
	}
}

// handleChanges applies every event in a Changes reply whose sequence is
// strictly greater than last_synced_sequence, gated in order, then
// acknowledges up to the latest applied sequence.
func (c *ClientEngine) handleChanges(conn *protocol.Conn, writeMu *sync.Mutex, env protocol.Envelope) error {
	var m protocol.Changes
	if err := protocol.Decode(env, &m); err != nil {
		return err
	}

	applied := 0
	for _, e := range m.Events {
		last, err := c.store.GetLastSynced(c.userID)
		if err != nil {
			return err
		}
		if e.Sequence <= last {
			continue // idempotent replay guard
		}
		if err := c.applyEvent(e); err != nil {
			return err
		}
		if err := c.store.SetLastSynced(c.userID, e.Sequence); err != nil {
			return err
		}
		applied++
	}
	if applied > 0 {
		c.disp.EmitSync(dispatcher.SyncEvent{Kind: dispatcher.SyncCompleted, Count: applied})
	}

	latest, err := c.store.GetLastSynced(c.userID)
	if err != nil {
		return err
	}
	writeMu.Lock()
	err = conn.Send(protocol.TypeAckChanges, protocol.AckChanges{UpToSequence: latest})
	writeMu.Unlock()
	if err != nil {
		return err
	}

	if m.HasMore {
		writeMu.Lock()
		err := conn.Send(protocol.TypeGetChangesSince, protocol.GetChangesSince{LastSequence: latest})
		writeMu.Unlock()
		return err
	}
	return nil
}

func (c *ClientEngine) applyEvent(e protocol.WireEvent) error {
	switch changelog.EventType(e.EventType) {
	case changelog.EventCreate:
		content, err := docmodel.UnmarshalFullContent(e.ForwardPatch)
		if err != nil {
			return err
		}
		doc, err := docmodel.NewDocument(e.DocumentID, c.userID, content, time.Now().UTC())
		if err != nil {
			return err
		}
		doc.Version = 1
		if err := c.store.UpsertDocument(doc); err != nil {
			return err
		}
		c.mirrorAndEmit(e, dispatcher.DocumentCreated, doc.Title(), content)
	case changelog.EventUpdate:
		current, err := c.store.GetDocument(e.DocumentID)
		if err != nil {
			return err
		}
		if current == nil {
			return nil // nothing local to patch against; the event is skipped
		}
		newContent, err := docmodel.Apply(current.Content, e.ForwardPatch)
		if err != nil {
			return err
		}
		newHash, err := docmodel.ContentHash(newContent)
		if err != nil {
			return err
		}
		updated := *current
		updated.Content = newContent
		updated.Version++
		updated.ContentHash = newHash
		updated.UpdatedAt = time.Now().UTC()
		if err := c.store.UpsertDocument(&updated); err != nil {
			return err
		}
		c.mirrorAndEmit(e, dispatcher.DocumentUpdated, updated.Title(), newContent)
	case changelog.EventDelete:
		if err := c.store.SoftDeleteDocument(e.DocumentID); err != nil {
			return err
		}
		c.mirrorAndEmit(e, dispatcher.DocumentDeleted, "", nil)
	}
	return nil
}

func (c *ClientEngine) mirrorAndEmit(e protocol.WireEvent, kind dispatcher.DocumentKind, title string, content map[string]interface{}) {
	_ = c.store.AppendMirrorEvent(&localstore.MirrorEvent{
		Sequence:     e.Sequence,
		DocumentID:   e.DocumentID,
		EventType:    changelog.EventType(e.EventType),
		ForwardPatch: e.ForwardPatch,
	})
	c.disp.EmitDocument(dispatcher.DocumentEvent{Kind: kind, DocumentID: e.DocumentID.String(), Title: title, Content: content})
}

// applyBroadcastCreate/Update/Delete handle pushed document_* frames while
// connected, sharing applyEvent's guard. They also dequeue the originating
// queue entry if this connection is the one that uploaded the mutation.
func (c *ClientEngine) applyBroadcastCreate(m protocol.DocumentCreated) {
	id, err := uuid.Parse(stringField(m.Document, "id"))
	if err != nil {
		return
	}
	content, _ := m.Document["content"].(map[string]interface{})

	last, err := c.store.GetLastSynced(c.userID)
	if err == nil && m.Sequence > last {
		forward, _ := docmodel.MarshalFullContent(content)
		_ = c.applyEvent(protocol.WireEvent{Sequence: m.Sequence, DocumentID: id, EventType: string(changelog.EventCreate), ForwardPatch: forward})
		_ = c.store.SetLastSynced(c.userID, m.Sequence)
	}
	c.acknowledgeUpload(id)
}

func (c *ClientEngine) applyBroadcastUpdate(m protocol.DocumentUpdated) {
	last, err := c.store.GetLastSynced(c.userID)
	if err == nil && m.Sequence > last {
		_ = c.applyEvent(protocol.WireEvent{Sequence: m.Sequence, DocumentID: m.DocumentID, EventType: string(changelog.EventUpdate), ForwardPatch: m.Patch})
		_ = c.store.SetLastSynced(c.userID, m.Sequence)
	}
	c.acknowledgeUpload(m.DocumentID)
}

func (c *ClientEngine) applyBroadcastDelete(m protocol.DocumentDeleted) {
	last, err := c.store.GetLastSynced(c.userID)
	if err == nil && m.Sequence > last {
		_ = c.applyEvent(protocol.WireEvent{Sequence: m.Sequence, DocumentID: m.DocumentID, EventType: string(changelog.EventDelete)})
		_ = c.store.SetLastSynced(c.userID, m.Sequence)
	}
	c.acknowledgeUpload(m.DocumentID)
}

// handleConflict adopts the server's content, discards the offending queue
// entry and any later queued entries on the same document whose
// old_content_hash no longer matches, and reports ConflictDetected.
func (c *ClientEngine) handleConflict(m protocol.Conflict) {
	losing, _ := c.store.GetDocument(m.DocumentID)
	var losingContent map[string]interface{}
	if losing != nil {
		losingContent = losing.Content
	}

	hash, err := docmodel.ContentHash(m.ServerDoc)
	if err == nil {
		version := int64(1)
		if losing != nil {
			version = losing.Version
		}
		doc := &docmodel.Document{
			ID: m.DocumentID, UserID: c.userID, Content: m.ServerDoc,
			Version: version, ContentHash: hash, UpdatedAt: time.Now().UTC(),
		}
		if losing != nil {
			doc.CreatedAt = losing.CreatedAt
		} else {
			doc.CreatedAt = doc.UpdatedAt
		}
		_ = c.store.UpsertDocument(doc)
	}

	c.discardQueueEntriesFor(m.DocumentID)

	c.disp.EmitConflict(dispatcher.ConflictEvent{
		Kind: dispatcher.ConflictDetected, DocumentID: m.DocumentID.String(),
		WinningContent: m.ServerDoc, LosingContent: losingContent,
	})
	c.disp.EmitDocument(dispatcher.DocumentEvent{
		Kind: dispatcher.DocumentUpdated, DocumentID: m.DocumentID.String(), Content: m.ServerDoc,
	})
}

func (c *ClientEngine) discardQueueEntriesFor(docID uuid.UUID) {
	entries, err := c.store.PeekPending(0)
	if err != nil {
		return
	}
	doc, _ := c.store.GetDocument(docID)
	currentHash := ""
	if doc != nil {
		currentHash = doc.ContentHash
	}
	for _, e := range entries {
		if e.DocumentID != docID {
			continue
		}
		if e.OldContentHash != currentHash {
			_ = c.store.Dequeue(e.ID)
		}
	}
	c.pendingMu.Lock()
	delete(c.pending, docID)
	c.pendingMu.Unlock()
}

func (c *ClientEngine) acknowledgeUpload(docID uuid.UUID) {
	c.pendingMu.Lock()
	entryID, ok := c.pending[docID]
	c.pendingMu.Unlock()
	if !ok {
		return
	}
	if c.untrackPending(docID, entryID) {
		if err := c.store.Dequeue(entryID); err != nil {
			obs.Logger.WithError(err).Warn("syncengine: failed dequeuing acknowledged mutation")
		}
	}
}

func stringField(content map[string]interface{}, key string) string {
	if content == nil {
		return ""
	}
	if v, ok := content[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

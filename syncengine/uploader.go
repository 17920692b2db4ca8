package syncengine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/evalgo/docsync/dispatcher"
	"github.com/evalgo/docsync/localstore"
	"github.com/evalgo/docsync/protocol"
)

// drainInterval bounds how long the uploader waits for a wake signal
// before re-checking the queue anyway, covering the case where a mutation
// was enqueued just before this connection came up.
const drainInterval = 2 * time.Second

// runUploader drains the offline queue in creation order for as long as
// conn is live. It never reorders entries: each pass sends, in queue
// order, every entry not already in flight on this connection (in-flight
// entries are skipped, not resent). A send failure bumps that entry's retry
// count, keeps it queued, and returns the error, which ends the connection
// so the supervisor reconnects.
func (c *ClientEngine) runUploader(ctx context.Context, conn *protocol.Conn, writeMu *sync.Mutex) error {
	ticker := time.NewTicker(drainInterval)
	defer ticker.Stop()

	for {
		if err := c.drainOnce(conn, writeMu); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-c.wake:
		case <-ticker.C:
		}
	}
}

func (c *ClientEngine) drainOnce(conn *protocol.Conn, writeMu *sync.Mutex) error {
	entries, err := c.store.PeekPending(0)
	if err != nil {
		return err
	}
	if len(entries) > 0 {
		c.disp.EmitSync(dispatcher.SyncEvent{Kind: dispatcher.SyncStarted, Count: len(entries)})
	}

	for _, e := range entries {
		if c.isInFlight(e.DocumentID, e.ID) {
			continue // already sent on this connection, awaiting the server's echo
		}
		if err := c.uploadEntry(conn, writeMu, e); err != nil {
			if err := c.store.IncrementRetry(e.ID); err != nil {
				return err
			}
			return err // transient transport failure: reconnect, preserve queue
		}
	}
	return nil
}

// isInFlight reports whether entryID for docID was already sent on the
// current connection and is awaiting the server's echo, so drainOnce
// never resends a mutation purely because the round trip outlasted
// drainInterval. Cleared at the start of every new connection (see
// runConnection), so a reconnect always resends anything not yet
// acknowledged.
func (c *ClientEngine) isInFlight(docID uuid.UUID, entryID uint64) bool {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	return c.pending[docID] == entryID
}

func (c *ClientEngine) uploadEntry(conn *protocol.Conn, writeMu *sync.Mutex, e localstore.QueueEntry) error {
	writeMu.Lock()
	defer writeMu.Unlock()

	var err error
	switch e.Operation {
	case localstore.OpCreate:
		doc, getErr := c.store.GetDocument(e.DocumentID)
		if getErr != nil || doc == nil {
			return getErr
		}
		err = conn.Send(protocol.TypeCreateDocument, protocol.CreateDocument{DocumentID: e.DocumentID, Content: doc.Content})
	case localstore.OpUpdate:
		err = conn.Send(protocol.TypeUpdateDocument, protocol.UpdateDocument{
			DocumentID: e.DocumentID, Patch: e.Patch, BaseContentHash: e.OldContentHash, BaseVersion: e.BaseVersion,
		})
	case localstore.OpDelete:
		err = conn.Send(protocol.TypeDeleteDocument, protocol.DeleteDocument{DocumentID: e.DocumentID, BaseVersion: e.BaseVersion})
	}
	if err != nil {
		return err
	}
	c.trackPending(e.DocumentID, e.ID)
	return nil
}

package syncengine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/evalgo/docsync/docmodel"
	"github.com/evalgo/docsync/internal/obs"
	"github.com/evalgo/docsync/protocol"
	"github.com/evalgo/docsync/serverstore"
)

func (se *ServerEngine) handleCreate(ctx context.Context, conn *protocol.Conn, userID uuid.UUID, env protocol.Envelope) error {
	var req protocol.CreateDocument
	if err := protocol.Decode(env, &req); err != nil {
		return err
	}
	id := req.DocumentID
	if id == uuid.Nil {
		id = uuid.New()
	}

	now := time.Now().UTC()
	doc, err := docmodel.NewDocument(id, userID, req.Content, now)
	if err != nil {
		return err
	}

	var sequence int64
	err = se.store.WithTx(ctx, func(tx *serverstore.Tx) error {
		var txErr error
		sequence, txErr = tx.CreateDocument(ctx, doc)
		return txErr
	})
	if err != nil {
		return err
	}

	se.registry.Broadcast(userID, mustEnvelope(protocol.TypeDocumentCreated, protocol.DocumentCreated{
		Document: documentSummary(doc), Sequence: sequence,
	}))
	se.notifyChange(ctx, userID, sequence)
	return nil
}

func (se *ServerEngine) handleUpdate(ctx context.Context, conn *protocol.Conn, userID uuid.UUID, env protocol.Envelope) error {
	var req protocol.UpdateDocument
	if err := protocol.Decode(env, &req); err != nil {
		return err
	}

	var result *serverstore.UpdateResult
	err := se.store.WithTx(ctx, func(tx *serverstore.Tx) error {
		var txErr error
		result, txErr = tx.UpdateDocument(ctx, userID, req.DocumentID, req.Patch, req.BaseContentHash, time.Now().UTC())
		if txErr != nil {
			return txErr
		}
		if result.Conflict {
			return tx.RejectUpdate(ctx, userID, req.DocumentID, req.Patch)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if result.Conflict {
		return conn.Send(protocol.TypeConflict, protocol.Conflict{
			DocumentID: req.DocumentID, ServerDoc: result.Document.Content, Reason: "base_content_hash stale",
		})
	}

	se.registry.Broadcast(userID, mustEnvelope(protocol.TypeDocumentUpdated, protocol.DocumentUpdated{
		DocumentID: req.DocumentID, Patch: req.Patch, Version: result.Document.Version,
		ContentHash: result.Document.ContentHash, Sequence: result.Sequence,
	}))
	se.notifyChange(ctx, userID, result.Sequence)
	return nil
}

func (se *ServerEngine) handleDelete(ctx context.Context, conn *protocol.Conn, userID uuid.UUID, env protocol.Envelope) error {
	var req protocol.DeleteDocument
	if err := protocol.Decode(env, &req); err != nil {
		return err
	}

	var result *serverstore.DeleteResult
	err := se.store.WithTx(ctx, func(tx *serverstore.Tx) error {
		var txErr error
		result, txErr = tx.DeleteDocument(ctx, userID, req.DocumentID, req.BaseVersion, time.Now().UTC())
		return txErr
	})
	if err != nil {
		return err
	}

	if result.Conflict {
		current, err := se.store.GetDocument(ctx, userID, req.DocumentID)
		if err != nil {
			return err
		}
		return conn.Send(protocol.TypeConflict, protocol.Conflict{
			DocumentID: req.DocumentID, ServerDoc: current.Content, Reason: "base_version stale",
		})
	}

	se.registry.Broadcast(userID, mustEnvelope(protocol.TypeDocumentDeleted, protocol.DocumentDeleted{
		DocumentID: req.DocumentID, Sequence: result.Sequence,
	}))
	se.notifyChange(ctx, userID, result.Sequence)
	return nil
}

// notifyChange publishes a cross-process NOTIFY for a committed change, so
// sibling server instances behind a load balancer observe it through
// serverstore.Listener (the serve command's handler only logs it; no
// session is sent anything from a notification). Best-effort: the
// in-memory registry broadcast above already reached every session on this
// instance, so a publish failure here only narrows, never breaks, delivery
// (the client falls back to get_changes_since on reconnect either way).
func (se *ServerEngine) notifyChange(ctx context.Context, userID uuid.UUID, sequence int64) {
	err := se.store.NotifyChange(ctx, serverstore.ChangeNotification{UserID: userID.String(), Sequence: sequence})
	if err != nil {
		obs.Logger.WithError(err).WithField("user_id", userID).Debug("syncengine: cross-process change notification failed")
	}
}

func (se *ServerEngine) handleGetChangesSince(ctx context.Context, conn *protocol.Conn, userID uuid.UUID, env protocol.Envelope) error {
	var req protocol.GetChangesSince
	if err := protocol.Decode(env, &req); err != nil {
		return err
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 500
	}

	events, err := se.store.Log().Range(ctx, se.store.Pool(), userID, req.LastSequence, limit)
	if err != nil {
		return err
	}
	latest, err := se.store.Log().LatestSequence(ctx, se.store.Pool(), userID)
	if err != nil {
		return err
	}

	wire := make([]protocol.WireEvent, 0, len(events))
	for _, e := range events {
		wire = append(wire, protocol.WireEvent{
			Sequence: e.Sequence, DocumentID: e.DocumentID, EventType: string(e.EventType), ForwardPatch: e.ForwardPatch,
		})
	}
	hasMore := len(events) == limit && (len(events) == 0 || events[len(events)-1].Sequence < latest)

	return conn.Send(protocol.TypeChanges, protocol.Changes{Events: wire, LatestSequence: latest, HasMore: hasMore})
}

func documentSummary(doc *docmodel.Document) map[string]interface{} {
	return map[string]interface{}{
		"id":           doc.ID.String(),
		"content":      doc.Content,
		"version":      doc.Version,
		"content_hash": doc.ContentHash,
		"created_at":   doc.CreatedAt,
		"updated_at":   doc.UpdatedAt,
	}
}

func mustEnvelope(msgType string, payload interface{}) protocol.Envelope {
	env, err := protocol.Encode(msgType, payload)
	if err != nil {
		obs.Logger.WithError(err).Error("syncengine: failed encoding broadcast envelope")
		return protocol.Envelope{Type: msgType}
	}
	return env
}

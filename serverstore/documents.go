package serverstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/evalgo/docsync/changelog"
	"github.com/evalgo/docsync/docmodel"
	"github.com/evalgo/docsync/internal/obs"
)

// GetDocument loads a document by id, scoped to userID for ownership
// enforcement.
func (t *Tx) GetDocument(ctx context.Context, userID, documentID uuid.UUID) (*docmodel.Document, error) {
	return getDocument(ctx, t.tx, userID, documentID)
}

// GetDocument is the non-transactional read path, used by the server engine
// for plain lookups that don't need to participate in a mutation (e.g. the
// current content sent back with a delete conflict).
func (s *Store) GetDocument(ctx context.Context, userID, documentID uuid.UUID) (*docmodel.Document, error) {
	return getDocument(ctx, s.pool, userID, documentID)
}

func getDocument(ctx context.Context, q changelog.Querier, userID, documentID uuid.UUID) (*docmodel.Document, error) {
	var d docmodel.Document
	var raw []byte
	err := q.QueryRow(ctx, `
		SELECT id, user_id, content, version, content_hash, created_at, updated_at, deleted
		FROM documents WHERE id = $1 AND user_id = $2
	`, documentID, userID).Scan(&d.ID, &d.UserID, &raw, &d.Version, &d.ContentHash, &d.CreatedAt, &d.UpdatedAt, &d.Deleted)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, obs.New(obs.KindInvalidInput, "serverstore.GetDocument", err)
		}
		return nil, obs.New(obs.KindTransient, "serverstore.GetDocument", err)
	}
	if err := json.Unmarshal(raw, &d.Content); err != nil {
		return nil, obs.New(obs.KindInvalidInput, "serverstore.GetDocument", err)
	}
	return &d, nil
}

// ListDocuments returns every non-deleted document owned by userID.
func (s *Store) ListDocuments(ctx context.Context, userID uuid.UUID) ([]docmodel.Document, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, content, version, content_hash, created_at, updated_at, deleted
		FROM documents WHERE user_id = $1 AND deleted = false ORDER BY created_at
	`, userID)
	if err != nil {
		return nil, obs.New(obs.KindTransient, "serverstore.ListDocuments", err)
	}
	defer rows.Close()

	var out []docmodel.Document
	for rows.Next() {
		var d docmodel.Document
		var raw []byte
		if err := rows.Scan(&d.ID, &d.UserID, &raw, &d.Version, &d.ContentHash, &d.CreatedAt, &d.UpdatedAt, &d.Deleted); err != nil {
			return nil, obs.New(obs.KindTransient, "serverstore.ListDocuments", err)
		}
		if err := json.Unmarshal(raw, &d.Content); err != nil {
			return nil, obs.New(obs.KindInvalidInput, "serverstore.ListDocuments", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// CreateDocument inserts a brand-new document and appends its create change
// event inside the same transaction. It is idempotent on id: a resent
// CreateDocument for an id this user already owns (the client retried an
// upload whose first response never arrived) is a no-op that echoes the
// original create's sequence rather than failing the unique-key insert.
func (t *Tx) CreateDocument(ctx context.Context, doc *docmodel.Document) (sequence int64, err error) {
	raw, err := json.Marshal(doc.Content)
	if err != nil {
		return 0, obs.New(obs.KindInvalidInput, "serverstore.CreateDocument", err)
	}

	tag, err := t.tx.Exec(ctx, `
		INSERT INTO documents (id, user_id, content, version, content_hash, created_at, updated_at, deleted)
		VALUES ($1, $2, $3, $4, $5, $6, $7, false)
		ON CONFLICT (id) DO NOTHING
	`, doc.ID, doc.UserID, raw, doc.Version, doc.ContentHash, doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		return 0, obs.New(obs.KindTransient, "serverstore.CreateDocument", err)
	}
	if tag.RowsAffected() == 0 {
		// getDocument scopes by user_id, so this also rejects an id collision
		// with another user's document as not-found rather than silently
		// handing back their content.
		if _, err := getDocument(ctx, t.tx, doc.UserID, doc.ID); err != nil {
			return 0, err
		}
		return sequenceOfEvent(ctx, t.tx, doc.ID, changelog.EventCreate)
	}

	if err := insertRevision(ctx, t.tx, doc.ID, doc.Version, raw, doc.ContentHash); err != nil {
		return 0, err
	}

	forward, err := docmodel.MarshalFullContent(doc.Content)
	if err != nil {
		return 0, err
	}
	seq, err := t.log.Append(ctx, t.tx, doc.UserID, doc.ID, changelog.EventCreate, forward, nil, true)
	if err != nil {
		return 0, err
	}
	return seq, nil
}

func sequenceOfEvent(ctx context.Context, q changelog.Querier, documentID uuid.UUID, eventType changelog.EventType) (int64, error) {
	var seq int64
	err := q.QueryRow(ctx, `
		SELECT sequence FROM change_events WHERE document_id = $1 AND event_type = $2 ORDER BY sequence LIMIT 1
	`, documentID, string(eventType)).Scan(&seq)
	if err != nil {
		return 0, obs.New(obs.KindTransient, "serverstore.sequenceOfEvent", err)
	}
	return seq, nil
}

// UpdateResult reports the outcome of an update attempt.
type UpdateResult struct {
	Document *docmodel.Document
	Sequence int64
	Conflict bool
}

// UpdateDocument applies patch to the current server document if
// baseContentHash matches the stored hash; otherwise it is a conflict and
// the caller should respond with the current server document.
func (t *Tx) UpdateDocument(ctx context.Context, userID, documentID uuid.UUID, patch []byte, baseContentHash string, now time.Time) (*UpdateResult, error) {
	current, err := getDocument(ctx, t.tx, userID, documentID)
	if err != nil {
		return nil, err
	}
	if current.Deleted {
		return nil, obs.New(obs.KindInvalidInput, "serverstore.UpdateDocument", errDocumentDeleted)
	}
	if current.ContentHash != baseContentHash {
		return &UpdateResult{Document: current, Conflict: true}, nil
	}

	newContent, err := docmodel.Apply(current.Content, patch)
	if err != nil {
		return nil, err
	}
	newHash, err := docmodel.ContentHash(newContent)
	if err != nil {
		return nil, err
	}
	_, reverse, err := docmodel.GenerateUpdatePatch(current.Content, newContent)
	if err != nil {
		return nil, err
	}
	// forward patch stored in the change event is exactly the patch the
	// client sent — it is already minimal and already validated by Apply.

	newVersion := current.Version + 1
	raw, err := json.Marshal(newContent)
	if err != nil {
		return nil, obs.New(obs.KindInvalidInput, "serverstore.UpdateDocument", err)
	}

	_, err = t.tx.Exec(ctx, `
		UPDATE documents SET content = $1, version = $2, content_hash = $3, updated_at = $4
		WHERE id = $5 AND user_id = $6
	`, raw, newVersion, newHash, now, documentID, userID)
	if err != nil {
		return nil, obs.New(obs.KindTransient, "serverstore.UpdateDocument", err)
	}

	if err := insertRevision(ctx, t.tx, documentID, newVersion, raw, newHash); err != nil {
		return nil, err
	}

	seq, err := t.log.Append(ctx, t.tx, userID, documentID, changelog.EventUpdate, patch, reverse, true)
	if err != nil {
		return nil, err
	}

	updated := *current
	updated.Content = newContent
	updated.Version = newVersion
	updated.ContentHash = newHash
	updated.UpdatedAt = now
	return &UpdateResult{Document: &updated, Sequence: seq}, nil
}

// RejectUpdate writes a non-applied audit change event for a rejected
// update, preserving the losing intent in the change log.
func (t *Tx) RejectUpdate(ctx context.Context, userID, documentID uuid.UUID, patch []byte) error {
	_, err := t.log.Append(ctx, t.tx, userID, documentID, changelog.EventUpdate, patch, nil, false)
	return err
}

// DeleteResult reports the outcome of a delete attempt.
type DeleteResult struct {
	Sequence int64
	Conflict bool
}

// DeleteDocument soft-deletes a document if baseVersion is current;
// otherwise it is a conflict.
func (t *Tx) DeleteDocument(ctx context.Context, userID, documentID uuid.UUID, baseVersion int64, now time.Time) (*DeleteResult, error) {
	current, err := getDocument(ctx, t.tx, userID, documentID)
	if err != nil {
		return nil, err
	}
	if current.Deleted {
		return nil, obs.New(obs.KindInvalidInput, "serverstore.DeleteDocument", errDocumentDeleted)
	}
	if baseVersion < current.Version {
		return &DeleteResult{Conflict: true}, nil
	}

	_, err = t.tx.Exec(ctx, `UPDATE documents SET deleted = true, updated_at = $1 WHERE id = $2 AND user_id = $3`, now, documentID, userID)
	if err != nil {
		return nil, obs.New(obs.KindTransient, "serverstore.DeleteDocument", err)
	}

	reverse, err := docmodel.MarshalFullContent(current.Content)
	if err != nil {
		return nil, err
	}
	seq, err := t.log.Append(ctx, t.tx, userID, documentID, changelog.EventDelete, nil, reverse, true)
	if err != nil {
		return nil, err
	}
	return &DeleteResult{Sequence: seq}, nil
}

func insertRevision(ctx context.Context, q changelog.Querier, documentID uuid.UUID, version int64, content []byte, hash string) error {
	_, err := q.Exec(ctx, `
		INSERT INTO document_revisions (document_id, version, content, content_hash)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (document_id, version) DO NOTHING
	`, documentID, version, content, hash)
	if err != nil {
		return obs.New(obs.KindTransient, "serverstore.insertRevision", err)
	}
	return nil
}

package localstore

import (
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/google/uuid"

	"github.com/evalgo/docsync/docmodel"
	"github.com/evalgo/docsync/internal/obs"
)

// UpsertDocument inserts or replaces doc in the local replica. Callers are
// responsible for computing ContentHash beforehand (docmodel.NewDocument /
// docmodel.ContentHash); this enforces it matches the canonical hash of
// Content before persisting.
func (s *Store) UpsertDocument(doc *docmodel.Document) error {
	hash, err := docmodel.ContentHash(doc.Content)
	if err != nil {
		return err
	}
	if hash != doc.ContentHash {
		return obs.New(obs.KindInvalidInput, "localstore.UpsertDocument", fmt.Errorf("content_hash mismatch: got %s, computed %s", doc.ContentHash, hash))
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx, bucketDocuments, doc.ID.String(), doc)
	})
}

// GetDocument returns the local replica of id, or (nil, nil) if absent.
func (s *Store) GetDocument(id uuid.UUID) (*docmodel.Document, error) {
	var doc docmodel.Document
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		found, err = getJSON(tx, bucketDocuments, id.String(), &doc)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &doc, nil
}

// GetAllDocuments returns every non-deleted document in the replica.
func (s *Store) GetAllDocuments() ([]docmodel.Document, error) {
	var out []docmodel.Document
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDocuments)
		return b.ForEach(func(k, v []byte) error {
			var doc docmodel.Document
			if err := json.Unmarshal(v, &doc); err != nil {
				return err
			}
			if !doc.Deleted {
				out = append(out, doc)
			}
			return nil
		})
	})
	if err != nil {
		return nil, obs.New(obs.KindFatal, "localstore.GetAllDocuments", err)
	}
	return out, nil
}

// CountDocuments returns the number of non-deleted documents in the replica.
func (s *Store) CountDocuments() (int, error) {
	docs, err := s.GetAllDocuments()
	if err != nil {
		return 0, err
	}
	return len(docs), nil
}

// SoftDeleteDocument marks a document deleted in place, preserving its last
// known content for potential conflict display.
func (s *Store) SoftDeleteDocument(id uuid.UUID) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		var doc docmodel.Document
		found, err := getJSON(tx, bucketDocuments, id.String(), &doc)
		if err != nil {
			return err
		}
		if !found {
			return obs.New(obs.KindInvalidInput, "localstore.SoftDeleteDocument", fmt.Errorf("document not found: %s", id))
		}
		doc.Deleted = true
		return putJSON(tx, bucketDocuments, id.String(), &doc)
	})
}

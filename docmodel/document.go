// Package docmodel implements the canonical document shape, content
// canonicalization/hashing, and JSON-patch generation/application that
// every other component in this module builds on.
package docmodel

import (
	"time"

	"github.com/google/uuid"
)

// Document is the canonical document shape shared by the client local store
// and the server authoritative store.
type Document struct {
	ID          uuid.UUID              `json:"id"`
	UserID      uuid.UUID              `json:"user_id"`
	Content     map[string]interface{} `json:"content"`
	Version     int64                  `json:"version"`
	ContentHash string                 `json:"content_hash"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
	Deleted     bool                   `json:"deleted"`
}

// maxTitleLen is the truncation length for the derived title.
const maxTitleLen = 128

// Title derives the document's display title from content.title, truncated
// to 128 characters, falling back to the creation timestamp. It is never
// synced independently — it is always recomputed from content.
func (d *Document) Title() string {
	if d.Content != nil {
		if raw, ok := d.Content["title"]; ok {
			if s, ok := raw.(string); ok && s != "" {
				if r := []rune(s); len(r) > maxTitleLen {
					return string(r[:maxTitleLen])
				}
				return s
			}
		}
	}
	return d.CreatedAt.UTC().Format(time.RFC3339)
}

// NewDocument builds a fresh document at version 1 with a computed content
// hash, used by both the client engine's local create and the server
// engine's create admission path.
func NewDocument(id, userID uuid.UUID, content map[string]interface{}, now time.Time) (*Document, error) {
	hash, err := ContentHash(content)
	if err != nil {
		return nil, err
	}
	return &Document{
		ID:          id,
		UserID:      userID,
		Content:     content,
		Version:     1,
		ContentHash: hash,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

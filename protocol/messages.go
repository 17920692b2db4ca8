// Package protocol implements the bidirectional, frame-oriented, ordered,
// authenticated message stream between a client replica and the server.
// Messages are JSON objects discriminated by a "type" field, carried over
// gorilla/websocket, with HMAC-SHA256 authentication and a
// cenkalti/backoff/v4 reconnect supervisor on the client side.
package protocol

import (
	"encoding/json"
	"strconv"

	"github.com/google/uuid"
)

// Envelope is the wire shape every message shares: a discriminator plus a
// raw payload decoded according to Type.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Client-to-server message types.
const (
	TypeAuthenticate     = "authenticate"
	TypeCreateDocument   = "create_document"
	TypeUpdateDocument   = "update_document"
	TypeDeleteDocument   = "delete_document"
	TypeGetChangesSince  = "get_changes_since"
	TypeAckChanges       = "ack_changes"
	TypePing             = "ping"
)

// Server-to-client message types.
const (
	TypeAuthSuccess         = "auth_success"
	TypeAuthFailure         = "auth_failure"
	TypeDocumentCreated     = "document_created"
	TypeDocumentUpdated     = "document_updated"
	TypeDocumentDeleted     = "document_deleted"
	TypeChanges             = "changes"
	TypeConflict            = "conflict"
	TypeChangesAcknowledged = "changes_acknowledged"
	TypePong                = "pong"
	TypeError               = "error"
)

// Authenticate is the mandatory first client frame.
type Authenticate struct {
	Email     string `json:"email"`
	ClientID  string `json:"client_id"`
	APIKey    string `json:"api_key"`
	Timestamp int64  `json:"timestamp"`
	Signature string `json:"signature"`
	Body      string `json:"body"`
}

// CreateDocument requests creation of a brand-new document.
type CreateDocument struct {
	DocumentID uuid.UUID              `json:"document_id"`
	Content    map[string]interface{} `json:"content"`
}

// UpdateDocument requests a patch be applied, contingent on the client's
// view of the pre-edit state still being current server-side.
type UpdateDocument struct {
	DocumentID      uuid.UUID       `json:"document_id"`
	Patch           json.RawMessage `json:"patch"`
	BaseContentHash string          `json:"base_content_hash"`
	BaseVersion     int64           `json:"base_version"`
}

// DeleteDocument requests a soft delete, contingent on BaseVersion still
// being current server-side.
type DeleteDocument struct {
	DocumentID  uuid.UUID `json:"document_id"`
	BaseVersion int64     `json:"base_version"`
}

// GetChangesSince requests a pull of events after LastSequence.
type GetChangesSince struct {
	LastSequence int64 `json:"last_sequence"`
	Limit        int   `json:"limit,omitempty"`
}

// AckChanges advances the server's view of the client's acknowledged
// position.
type AckChanges struct {
	UpToSequence int64 `json:"up_to_sequence"`
}

// AuthSuccess is returned when authentication resolves or creates a user.
type AuthSuccess struct {
	UserID uuid.UUID `json:"user_id"`
}

// AuthFailure is returned when authentication is rejected; the connection
// is closed immediately afterward.
type AuthFailure struct {
	Reason string `json:"reason"`
}

// DocumentCreated is broadcast to every session of the owning user.
type DocumentCreated struct {
	Document map[string]interface{} `json:"doc"`
	Sequence int64                  `json:"sequence"`
}

// DocumentUpdated is broadcast to every session of the owning user.
type DocumentUpdated struct {
	DocumentID  uuid.UUID       `json:"document_id"`
	Patch       json.RawMessage `json:"patch"`
	Version     int64           `json:"version"`
	ContentHash string          `json:"content_hash"`
	Sequence    int64           `json:"sequence"`
}

// DocumentDeleted is broadcast to every session of the owning user.
type DocumentDeleted struct {
	DocumentID uuid.UUID `json:"document_id"`
	Sequence   int64     `json:"sequence"`
}

// WireEvent is one entry in a Changes reply.
type WireEvent struct {
	Sequence     int64           `json:"sequence"`
	DocumentID   uuid.UUID       `json:"document_id"`
	EventType    string          `json:"event_type"`
	ForwardPatch json.RawMessage `json:"forward_patch,omitempty"`
}

// Changes answers a GetChangesSince request.
type Changes struct {
	Events         []WireEvent `json:"events"`
	LatestSequence int64       `json:"latest_sequence"`
	HasMore        bool        `json:"has_more"`
}

// Conflict is returned when an update/delete was rejected because the
// client's base state was stale.
type Conflict struct {
	DocumentID uuid.UUID              `json:"document_id"`
	ServerDoc  map[string]interface{} `json:"server_doc"`
	Reason     string                 `json:"reason"`
}

// ChangesAcknowledged confirms the server recorded an ack_changes frame.
type ChangesAcknowledged struct {
	Sequence int64 `json:"sequence"`
}

// ErrorFrame reports a protocol-level failure not tied to a specific
// request, e.g. malformed JSON.
type ErrorFrame struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Encode wraps payload in an Envelope of the given type.
func Encode(msgType string, payload interface{}) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: msgType, Payload: raw}, nil
}

// SigningString builds the exact string HMAC-signed by the client and
// recomputed by the server: "{timestamp}.{email}.{api_key}.{body}".
func SigningString(timestamp int64, email, apiKey, body string) string {
	return strconv.FormatInt(timestamp, 10) + "." + email + "." + apiKey + "." + body
}

// Package changelog implements the durable, per-user-ordered change-event
// log. It is the append-only record of every accepted document
// mutation on the server, written with forward and reverse JSON patches so
// any replica can replay or invert a change.
package changelog

import (
	"time"

	"github.com/google/uuid"
)

// EventType discriminates the kind of mutation a ChangeEvent records.
type EventType string

const (
	EventCreate EventType = "create"
	EventUpdate EventType = "update"
	EventDelete EventType = "delete"
)

// ChangeEvent is a single per-user append-only record. ForwardPatch/ReversePatch hold either a full-content JSON payload
// (create/delete) or an RFC-6902 patch array (update); see docmodel.Apply
// and docmodel.MarshalFullContent for interpretation.
type ChangeEvent struct {
	Sequence        int64
	DocumentID      uuid.UUID
	UserID          uuid.UUID
	EventType       EventType
	ForwardPatch    []byte // null for delete
	ReversePatch    []byte // null for create
	ServerTimestamp time.Time
	// Applied is true for normal events. False marks a non-applied
	// conflict-logging entry written for audit when an update was rejected
	// (a rejected delete writes no such entry).
	Applied bool
}

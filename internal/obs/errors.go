package obs

import (
	"errors"
	"fmt"
)

// Kind discriminates error categories so callers can branch on handling
// policy (retry, surface, abort) without string matching, matching the
// sentinel-error style this codebase already uses for authentication
// failures.
type Kind int

const (
	// KindUnknown is the zero value; never returned deliberately.
	KindUnknown Kind = iota
	// KindInvalidInput marks malformed JSON, bad patch paths, or missing
	// required fields. Always surfaced to the caller, never retried.
	KindInvalidInput
	// KindAuthentication marks expired timestamps, bad signatures, or
	// inactive credentials. The connection is closed, not retried.
	KindAuthentication
	// KindConflict marks a stale base hash/version rejected by the server.
	// Recovered automatically by the client adopting server state.
	KindConflict
	// KindTransient marks network drops, pool exhaustion, or slow-consumer
	// eviction. Recovered by retrying with back-off.
	KindTransient
	// KindFatal marks corrupt local state or migration failure. Aborts
	// engine startup.
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindAuthentication:
		return "authentication"
	case KindConflict:
		return "conflict"
	case KindTransient:
		return "transient"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error wraps a cause with a Kind, giving every component a uniform type to
// branch on. Use errors.As to recover it.
type Error struct {
	Kind  Kind
	Op    string // component/operation that raised the error, e.g. "localstore.UpsertDocument"
	Cause error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs a classified Error.
func New(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Cause: cause}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Code is the discriminated error code surfaced across the embedder API
// boundary: {Success, InvalidInput, Connection, Database,
// Serialization, Unknown}.
type Code int

const (
	Success Code = iota
	InvalidInputCode
	ConnectionCode
	DatabaseCode
	SerializationCode
	UnknownCode
)

func (c Code) String() string {
	switch c {
	case Success:
		return "success"
	case InvalidInputCode:
		return "invalid_input"
	case ConnectionCode:
		return "connection"
	case DatabaseCode:
		return "database"
	case SerializationCode:
		return "serialization"
	default:
		return "unknown"
	}
}

// CodeFor maps an internal Kind to the embedder-facing Code set. Database
// and Serialization are finer distinctions the embedder API needs that Kind
// alone doesn't carry; CodeFor sees only the Kind (not Op), maps KindFatal
// to DatabaseCode, and never returns SerializationCode. The embedder
// package attaches a Code explicitly where that matters (embedder.CodedError).
func CodeFor(kind Kind) Code {
	switch kind {
	case KindInvalidInput:
		return InvalidInputCode
	case KindAuthentication, KindTransient:
		return ConnectionCode
	case KindConflict:
		return Success // conflicts are reconciled automatically, not surfaced as failure
	case KindFatal:
		return DatabaseCode
	default:
		return UnknownCode
	}
}

// CodeForErr recovers the Kind carried by err, if any, and maps it through
// CodeFor; an err that isn't a classified *Error maps to UnknownCode.
func CodeForErr(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return CodeFor(e.Kind)
	}
	return UnknownCode
}

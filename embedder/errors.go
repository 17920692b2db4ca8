package embedder

import (
	"errors"

	"github.com/evalgo/docsync/internal/obs"
)

var errNotFound = errors.New("document not found")

// CodedError pairs the embedder-facing discriminated Code
// with the underlying cause, for the cases internal/obs.CodeFor's Kind-only
// heuristic can't distinguish (e.g. JSON marshal failures, which are
// InvalidInput-shaped but belong to the Serialization code at this
// boundary).
type CodedError struct {
	Code obs.Code
	Err  error
}

func (e *CodedError) Error() string { return e.Err.Error() }
func (e *CodedError) Unwrap() error { return e.Err }

func serializationError(err error) error {
	return &CodedError{Code: obs.SerializationCode, Err: err}
}

// ErrorCode returns the discriminated Code for err, resolving a CodedError
// first and falling back to obs.CodeFor for a plain *obs.Error, and
// obs.Success/obs.UnknownCode for nil/unrecognized errors respectively.
func ErrorCode(err error) obs.Code {
	if err == nil {
		return obs.Success
	}
	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}
	var classified *obs.Error
	if errors.As(err, &classified) {
		return obs.CodeFor(classified.Kind)
	}
	return obs.UnknownCode
}

package syncengine

import "errors"

var (
	errDocumentNotFound = errors.New("document not found in local replica")
	errAuthRejected     = errors.New("server rejected authentication")
	errUnexpectedFrame  = errors.New("unexpected frame before authentication completed")
)

package serverstore

import (
	"time"

	"github.com/google/uuid"
)

// User is the server-side principal record. Created
// lazily when a never-seen email first authenticates.
type User struct {
	ID        uuid.UUID
	Email     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Credential is an API credential set. One
// credential set may serve arbitrarily many users; the credential
// identifies the calling application, the authenticate frame's email
// identifies the principal.
type Credential struct {
	APIKey     string
	Name       string
	Active     bool
	LastUsedAt *time.Time
	CreatedAt  time.Time
}

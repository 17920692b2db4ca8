package serverstore

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/evalgo/docsync/internal/obs"
)

var errDocumentDeleted = errors.New("document is deleted")
var errCredentialInactive = errors.New("credential is inactive")

// GenerateCredential mints a new API key/secret pair for name (typically an
// embedding application), seals the secret, and persists it. The raw secret
// is returned exactly once; only the sealed form is stored.
func (s *Store) GenerateCredential(ctx context.Context, name string) (apiKey, secret string, err error) {
	apiKey, err = randomToken("rpa_")
	if err != nil {
		return "", "", err
	}
	secret, err = randomToken("rps_")
	if err != nil {
		return "", "", err
	}

	sealed, err := s.sealer.seal(secret)
	if err != nil {
		return "", "", err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO api_credentials (api_key, secret_sealed, name, active)
		VALUES ($1, $2, $3, true)
	`, apiKey, sealed, name)
	if err != nil {
		return "", "", obs.New(obs.KindTransient, "serverstore.GenerateCredential", err)
	}
	return apiKey, secret, nil
}

// ResolveCredential looks up apiKey and returns the credential metadata
// along with the unsealed raw secret, needed to recompute the HMAC over an
// incoming authenticate frame.
func (s *Store) ResolveCredential(ctx context.Context, apiKey string) (*Credential, string, error) {
	var c Credential
	var sealed []byte
	err := s.pool.QueryRow(ctx, `
		SELECT api_key, secret_sealed, name, active, last_used_at, created_at
		FROM api_credentials WHERE api_key = $1
	`, apiKey).Scan(&c.APIKey, &sealed, &c.Name, &c.Active, &c.LastUsedAt, &c.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, "", obs.New(obs.KindAuthentication, "serverstore.ResolveCredential", err)
		}
		return nil, "", obs.New(obs.KindTransient, "serverstore.ResolveCredential", err)
	}
	if !c.Active {
		return nil, "", obs.New(obs.KindAuthentication, "serverstore.ResolveCredential", errCredentialInactive)
	}

	secret, err := s.sealer.open(sealed)
	if err != nil {
		return nil, "", err
	}
	return &c, secret, nil
}

// TouchCredential records the credential's most recent successful use.
func (s *Store) TouchCredential(ctx context.Context, apiKey string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `UPDATE api_credentials SET last_used_at = $1 WHERE api_key = $2`, at, apiKey)
	if err != nil {
		return obs.New(obs.KindTransient, "serverstore.TouchCredential", err)
	}
	return nil
}

func randomToken(prefix string) (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", obs.New(obs.KindFatal, "serverstore.randomToken", fmt.Errorf("generate token: %w", err))
	}
	return prefix + hex.EncodeToString(buf), nil
}

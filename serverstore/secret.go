package serverstore

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"

	"github.com/evalgo/docsync/internal/obs"
)

// sealer seals API secrets at rest under a master key. Unlike a login password, an API
// credential's secret must be recoverable server-side — it is the HMAC key
// the server uses to verify every authenticate frame — so it
// cannot be stored as a one-way password hash. It is instead sealed with
// NaCl secretbox (authenticated encryption) under a server-held master key,
// the closest fit this codebase's crypto stack (golang.org/x/crypto) offers
// for "encrypted but recoverable" storage.
type sealer struct {
	key [32]byte
}

func newSealer(masterKey []byte) (*sealer, error) {
	if len(masterKey) != 32 {
		return nil, obs.New(obs.KindFatal, "serverstore.newSealer", fmt.Errorf("master key must be 32 bytes, got %d", len(masterKey)))
	}
	s := &sealer{}
	copy(s.key[:], masterKey)
	return s, nil
}

func (s *sealer) seal(plaintext string) ([]byte, error) {
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, obs.New(obs.KindFatal, "serverstore.seal", err)
	}
	return secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &s.key), nil
}

func (s *sealer) open(sealed []byte) (string, error) {
	if len(sealed) < 24 {
		return "", obs.New(obs.KindFatal, "serverstore.open", fmt.Errorf("sealed secret too short"))
	}
	var nonce [24]byte
	copy(nonce[:], sealed[:24])
	plaintext, ok := secretbox.Open(nil, sealed[24:], &nonce, &s.key)
	if !ok {
		return "", obs.New(obs.KindFatal, "serverstore.open", fmt.Errorf("secret authentication failed"))
	}
	return string(plaintext), nil
}

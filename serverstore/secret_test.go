package serverstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealerRoundTrip(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	s, err := newSealer(key)
	require.NoError(t, err)

	sealed, err := s.seal("super-secret-value")
	require.NoError(t, err)

	plaintext, err := s.open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "super-secret-value", plaintext)
}

func TestSealerRejectsTamperedCiphertext(t *testing.T) {
	key := make([]byte, 32)
	s, err := newSealer(key)
	require.NoError(t, err)

	sealed, err := s.seal("super-secret-value")
	require.NoError(t, err)
	sealed[len(sealed)-1] ^= 0xFF

	_, err = s.open(sealed)
	assert.Error(t, err)
}

func TestNewSealerRejectsWrongKeyLength(t *testing.T) {
	_, err := newSealer(make([]byte, 16))
	assert.Error(t, err)
}

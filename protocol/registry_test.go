package protocol

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryRegisterAndBroadcast(t *testing.T) {
	r := NewRegistry()
	userID := uuid.New()

	sess := r.Register(userID, "client-1")
	require.Equal(t, 1, r.SessionCount(userID))

	env := Envelope{Type: TypePong}
	r.Broadcast(userID, env)

	select {
	case got := <-sess.Outbound():
		assert.Equal(t, TypePong, got.Type)
	default:
		t.Fatal("expected envelope in outbound queue")
	}
}

func TestRegistryUnregister(t *testing.T) {
	r := NewRegistry()
	userID := uuid.New()

	r.Register(userID, "client-1")
	r.Unregister(userID, "client-1")

	assert.Equal(t, 0, r.SessionCount(userID))
}

func TestRegistryBroadcastOnlyReachesOwningUser(t *testing.T) {
	r := NewRegistry()
	userA, userB := uuid.New(), uuid.New()

	sessA := r.Register(userA, "a-1")
	sessB := r.Register(userB, "b-1")

	r.Broadcast(userA, Envelope{Type: TypeDocumentCreated})

	select {
	case <-sessA.Outbound():
	default:
		t.Fatal("expected envelope for user A")
	}
	select {
	case <-sessB.Outbound():
		t.Fatal("user B should not receive user A's broadcast")
	default:
	}
}

func TestRegistryEjectsSlowConsumer(t *testing.T) {
	r := NewRegistry()
	userID := uuid.New()
	sess := r.Register(userID, "client-1")

	for i := 0; i < outboundBuffer; i++ {
		assert.True(t, sess.Send(Envelope{Type: TypePing}))
	}

	r.Broadcast(userID, Envelope{Type: TypePing}) // fills past capacity, ejects
	assert.Equal(t, 0, r.SessionCount(userID))
}

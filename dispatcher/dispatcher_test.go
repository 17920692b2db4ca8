package dispatcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessEventsDeliversOnCallingGoroutine(t *testing.T) {
	d := New(0)

	var got []DocumentEvent
	d.RegisterDocument(func(e DocumentEvent) { got = append(got, e) }, nil)

	d.EmitDocument(DocumentEvent{Kind: DocumentCreated, DocumentID: "d1"})
	d.EmitDocument(DocumentEvent{Kind: DocumentUpdated, DocumentID: "d1"})

	require.Equal(t, 2, d.Pending())
	n := d.ProcessEvents()
	assert.Equal(t, uint32(2), n)
	assert.Equal(t, 0, d.Pending())
	require.Len(t, got, 2)
	assert.Equal(t, DocumentCreated, got[0].Kind)
	assert.Equal(t, DocumentUpdated, got[1].Kind)
}

func TestProcessEventsNoCallbackDrainsSilently(t *testing.T) {
	d := New(0)
	d.EmitSync(SyncEvent{Kind: SyncStarted})
	n := d.ProcessEvents()
	assert.Equal(t, uint32(1), n)
}

func TestFilterExcludesOtherKinds(t *testing.T) {
	d := New(0)
	var count int
	d.RegisterConnection(func(ConnectionEvent) { count++ }, func(k ConnectionKind) bool {
		return k == ConnectionLost
	})

	d.EmitConnection(ConnectionEvent{Kind: ConnectionAttempted})
	d.EmitConnection(ConnectionEvent{Kind: ConnectionLost})
	d.ProcessEvents()

	assert.Equal(t, 1, count)
}

func TestRegistrationDuringDrainIsDeferred(t *testing.T) {
	d := New(0)
	var secondCallbackFired bool
	var firstCallbackFired bool

	d.RegisterError(func(ErrorEvent) {
		firstCallbackFired = true
		// Registering mid-drain must not affect this same drain.
		d.RegisterError(func(ErrorEvent) { secondCallbackFired = true }, nil)
	}, nil)

	d.EmitError(ErrorEvent{Kind: SyncError, Message: "boom"})
	d.ProcessEvents()
	assert.True(t, firstCallbackFired)
	assert.False(t, secondCallbackFired)

	d.EmitError(ErrorEvent{Kind: SyncError, Message: "boom again"})
	d.ProcessEvents()
	assert.True(t, secondCallbackFired)
}

func TestBoundedQueueDropsOldestOnOverflow(t *testing.T) {
	d := New(2)
	d.EmitSync(SyncEvent{Count: 1})
	d.EmitSync(SyncEvent{Count: 2})
	d.EmitSync(SyncEvent{Count: 3})

	var got []int
	d.RegisterSync(func(e SyncEvent) { got = append(got, e.Count) }, nil)
	d.ProcessEvents()

	assert.Equal(t, []int{2, 3}, got)
}

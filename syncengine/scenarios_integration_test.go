//go:build integration

package syncengine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/evalgo/docsync/protocol"
	"github.com/evalgo/docsync/serverstore"
)

func parseUUID(t *testing.T, s string) uuid.UUID {
	t.Helper()
	id, err := uuid.Parse(s)
	require.NoError(t, err)
	return id
}

func setupServer(t *testing.T) (*httptest.Server, *serverstore.Store, string) {
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("docsync_test"),
		postgres.WithUsername("docsync"),
		postgres.WithPassword("docsync"),
		postgres.WithWaitStrategy(wait.ForLog("database system is ready to accept connections").WithOccurrence(2)),
	)
	require.NoError(t, err, "failed to start postgres container")
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	masterKey := make([]byte, 32)
	store, err := serverstore.Open(ctx, dsn, masterKey)
	require.NoError(t, err)
	t.Cleanup(store.Close)

	apiKey, secret, err := store.GenerateCredential(ctx, "scenario-test")
	require.NoError(t, err)

	registry := protocol.NewRegistry()
	engine := NewServerEngine(store, registry)

	mux := http.NewServeMux()
	mux.HandleFunc("/sync", func(w http.ResponseWriter, r *http.Request) {
		conn, err := protocol.Upgrade(w, r)
		if err != nil {
			return
		}
		go func() { _ = engine.HandleConnection(r.Context(), conn) }()
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return srv, store, strings.Join([]string{apiKey, secret}, "|")
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/sync"
}

func dialAuthenticated(t *testing.T, srv *httptest.Server, email, apiKey, secret string) *protocol.Conn {
	t.Helper()
	conn, err := protocol.Dial(context.Background(), wsURL(srv), nil)
	require.NoError(t, err)

	ts := time.Now().Unix()
	sig := protocol.Sign(secret, email, apiKey, "", ts)
	require.NoError(t, conn.Send(protocol.TypeAuthenticate, protocol.Authenticate{
		Email: email, ClientID: email + "-client", APIKey: apiKey, Timestamp: ts, Signature: sig,
	}))

	env, err := conn.Recv()
	require.NoError(t, err)
	require.Equal(t, protocol.TypeAuthSuccess, env.Type)
	return conn
}

// TestBasicCreateAndSync exercises a single client creating a document and
// observing the server's broadcast of it back.
func TestBasicCreateAndSync(t *testing.T) {
	srv, _, cred := setupServer(t)
	parts := strings.SplitN(cred, "|", 2)
	apiKey, secret := parts[0], parts[1]

	conn := dialAuthenticated(t, srv, "alice@example.com", apiKey, secret)
	defer conn.Close()

	require.NoError(t, conn.Send(protocol.TypeCreateDocument, protocol.CreateDocument{
		Content: map[string]interface{}{"title": "first note"},
	}))

	env, err := conn.Recv()
	require.NoError(t, err)
	require.Equal(t, protocol.TypeDocumentCreated, env.Type)

	var created protocol.DocumentCreated
	require.NoError(t, protocol.Decode(env, &created))
	assert.Equal(t, int64(1), created.Sequence)
	assert.Equal(t, "first note", created.Document["content"].(map[string]interface{})["title"])
}

// TestConcurrentConflictingUpdates has two sessions of the same user race
// to update the same document; the second writer must receive a conflict
// carrying the server's winning content.
func TestConcurrentConflictingUpdates(t *testing.T) {
	srv, _, cred := setupServer(t)
	parts := strings.SplitN(cred, "|", 2)
	apiKey, secret := parts[0], parts[1]

	owner := dialAuthenticated(t, srv, "bob@example.com", apiKey, secret)
	defer owner.Close()

	require.NoError(t, owner.Send(protocol.TypeCreateDocument, protocol.CreateDocument{
		Content: map[string]interface{}{"title": "v1"},
	}))
	env, err := owner.Recv()
	require.NoError(t, err)
	var created protocol.DocumentCreated
	require.NoError(t, protocol.Decode(env, &created))
	docID := created.Document["id"].(string)
	baseHash := created.Document["content_hash"].(string)

	second := dialAuthenticated(t, srv, "bob@example.com", apiKey, secret)
	defer second.Close()

	id := parseUUID(t, docID)
	patch := []byte(`[{"op":"replace","path":"/title","value":"from-owner"}]`)
	require.NoError(t, owner.Send(protocol.TypeUpdateDocument, protocol.UpdateDocument{
		DocumentID: id, Patch: patch, BaseContentHash: baseHash, BaseVersion: 1,
	}))

	ownerEnv, err := owner.Recv()
	require.NoError(t, err)
	require.Equal(t, protocol.TypeDocumentUpdated, ownerEnv.Type)

	// second is registered for the same user, so it also receives the
	// broadcast of owner's successful update before its own conflict.
	broadcastEnv, err := second.Recv()
	require.NoError(t, err)
	require.Equal(t, protocol.TypeDocumentUpdated, broadcastEnv.Type)

	staleDecoded := []byte(`[{"op":"replace","path":"/title","value":"from-second"}]`)
	require.NoError(t, second.Send(protocol.TypeUpdateDocument, protocol.UpdateDocument{
		DocumentID: id, Patch: staleDecoded, BaseContentHash: baseHash, BaseVersion: 1,
	}))

	secondEnv, err := second.Recv()
	require.NoError(t, err)
	require.Equal(t, protocol.TypeConflict, secondEnv.Type)

	var conflict protocol.Conflict
	require.NoError(t, protocol.Decode(secondEnv, &conflict))
	assert.Equal(t, "from-owner", conflict.ServerDoc["title"])
}

// TestPullCatchUp has a client reconnect and request changes since before
// it went offline, verifying it receives every event it missed in order.
func TestPullCatchUp(t *testing.T) {
	srv, _, cred := setupServer(t)
	parts := strings.SplitN(cred, "|", 2)
	apiKey, secret := parts[0], parts[1]

	writer := dialAuthenticated(t, srv, "carol@example.com", apiKey, secret)
	defer writer.Close()

	for i := 0; i < 3; i++ {
		require.NoError(t, writer.Send(protocol.TypeCreateDocument, protocol.CreateDocument{
			Content: map[string]interface{}{"title": "note"},
		}))
		_, err := writer.Recv()
		require.NoError(t, err)
	}

	reader := dialAuthenticated(t, srv, "carol@example.com", apiKey, secret)
	defer reader.Close()

	require.NoError(t, reader.Send(protocol.TypeGetChangesSince, protocol.GetChangesSince{LastSequence: 0}))
	env, err := reader.Recv()
	require.NoError(t, err)
	require.Equal(t, protocol.TypeChanges, env.Type)

	var changes protocol.Changes
	require.NoError(t, protocol.Decode(env, &changes))
	require.Len(t, changes.Events, 3)
	assert.False(t, changes.HasMore)
	for i, e := range changes.Events {
		assert.Equal(t, int64(i+1), e.Sequence)
	}
}

//go:build integration

package changelog

import (
	"context"
	"database/sql"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/evalgo/docsync/serverstore"
)

func setupPool(t *testing.T) *pgxpool.Pool {
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("docsync_test"),
		postgres.WithUsername("docsync"),
		postgres.WithPassword("docsync"),
		postgres.WithWaitStrategy(wait.ForLog("database system is ready to accept connections").WithOccurrence(2)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	sdb, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	require.NoError(t, serverstore.RunMigrations(sdb))
	require.NoError(t, sdb.Close())

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func insertTestUser(t *testing.T, pool *pgxpool.Pool, email string) uuid.UUID {
	id := uuid.New()
	_, err := pool.Exec(context.Background(), `INSERT INTO users (id, email) VALUES ($1, $2)`, id, email)
	require.NoError(t, err)
	return id
}

// TestAppend_MonotonicGaplessSequence verifies property #1: per-user
// sequence numbers are strictly increasing with no gaps, even under
// concurrent appends.
func TestAppend_MonotonicGaplessSequence(t *testing.T) {
	pool := setupPool(t)
	userID := insertTestUser(t, pool, "concurrent@example.com")
	docID := insertTestDocument(t, pool, userID)

	log := NewLog()
	ctx := context.Background()

	const n = 20
	sequences := make([]int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			seq, err := log.Append(ctx, pool, userID, docID, EventUpdate, []byte(`[]`), []byte(`[]`), true)
			require.NoError(t, err)
			sequences[i] = seq
		}(i)
	}
	wg.Wait()

	seen := make(map[int64]bool, n)
	for _, s := range sequences {
		assert.False(t, seen[s], "sequence %d allocated twice", s)
		seen[s] = true
	}
	for i := int64(1); i <= n; i++ {
		assert.True(t, seen[i], "sequence %d missing, gap detected", i)
	}
}

func TestRange_ReturnsOnlyAppliedEventsInOrder(t *testing.T) {
	pool := setupPool(t)
	userID := insertTestUser(t, pool, "ranger@example.com")
	docID := insertTestDocument(t, pool, userID)

	log := NewLog()
	ctx := context.Background()

	_, err := log.Append(ctx, pool, userID, docID, EventCreate, []byte(`{}`), nil, true)
	require.NoError(t, err)
	_, err = log.Append(ctx, pool, userID, docID, EventUpdate, []byte(`[]`), []byte(`[]`), false) // conflict audit, not applied
	require.NoError(t, err)
	_, err = log.Append(ctx, pool, userID, docID, EventUpdate, []byte(`[]`), []byte(`[]`), true)
	require.NoError(t, err)

	events, err := log.Range(ctx, pool, userID, 0, 10)
	require.NoError(t, err)
	require.Len(t, events, 2, "non-applied audit event must be excluded")
	assert.Equal(t, int64(1), events[0].Sequence)
	assert.Equal(t, int64(3), events[1].Sequence)
}

func TestLatestSequence_ZeroForUnknownUser(t *testing.T) {
	pool := setupPool(t)
	log := NewLog()

	seq, err := log.LatestSequence(context.Background(), pool, uuid.New())
	require.NoError(t, err)
	assert.Equal(t, int64(0), seq)
}

func insertTestDocument(t *testing.T, pool *pgxpool.Pool, userID uuid.UUID) uuid.UUID {
	id := uuid.New()
	_, err := pool.Exec(context.Background(), `
		INSERT INTO documents (id, user_id, content, version, content_hash)
		VALUES ($1, $2, '{}', 1, 'x')
	`, id, userID)
	require.NoError(t, err)
	return id
}

// Package serverstore implements the multi-user authoritative database:
// documents, revision history, users, and API credentials, backed
// directly by pgx/pgxpool with explicit SQL in the style of this
// codebase's existing Postgres state store, rather than an ORM.
package serverstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx" database/sql driver for migrations

	"github.com/evalgo/docsync/changelog"
	"github.com/evalgo/docsync/internal/obs"
)

// Store is the authoritative server-side database handle.
type Store struct {
	pool   *pgxpool.Pool
	log    *changelog.Log
	sealer *sealer
}

// Open connects to Postgres, applies pending migrations, and returns a
// ready Store. masterKey seals API credential secrets at rest (32 bytes).
func Open(ctx context.Context, databaseURL string, masterKey []byte) (*Store, error) {
	sdb, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, obs.New(obs.KindFatal, "serverstore.Open", fmt.Errorf("open migration connection: %w", err))
	}
	defer sdb.Close()
	if err := RunMigrations(sdb); err != nil {
		return nil, obs.New(obs.KindFatal, "serverstore.Open", err)
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, obs.New(obs.KindFatal, "serverstore.Open", fmt.Errorf("open pool: %w", err))
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, obs.New(obs.KindFatal, "serverstore.Open", fmt.Errorf("ping: %w", err))
	}

	sl, err := newSealer(masterKey)
	if err != nil {
		pool.Close()
		return nil, err
	}

	return &Store{pool: pool, log: changelog.NewLog(), sealer: sl}, nil
}

// Close releases the connection pool.
func (s *Store) Close() { s.pool.Close() }

// Pool exposes the underlying connection pool for components (the server
// engine's change-log reads, LISTEN/NOTIFY) that need direct access.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Log returns the change-event log bound to this store's pool.
func (s *Store) Log() *changelog.Log { return s.log }

// Tx wraps an in-flight transaction with the document/changelog operations
// that must commit atomically.
type Tx struct {
	tx  pgx.Tx
	log *changelog.Log
}

// WithTx runs fn inside a single database transaction, committing on
// success and rolling back on error or panic.
func (s *Store) WithTx(ctx context.Context, fn func(*Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return obs.New(obs.KindTransient, "serverstore.WithTx", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op if already committed

	if err := fn(&Tx{tx: tx, log: s.log}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return obs.New(obs.KindTransient, "serverstore.WithTx", err)
	}
	return nil
}

// GetOrCreateUserByEmail resolves a user by email, creating one lazily on
// first sight.
func (s *Store) GetOrCreateUserByEmail(ctx context.Context, email string) (*User, error) {
	var u User
	err := s.pool.QueryRow(ctx, `SELECT id, email, created_at, updated_at FROM users WHERE email = $1`, email).
		Scan(&u.ID, &u.Email, &u.CreatedAt, &u.UpdatedAt)
	if err == nil {
		return &u, nil
	}
	if err != pgx.ErrNoRows {
		return nil, obs.New(obs.KindTransient, "serverstore.GetOrCreateUserByEmail", err)
	}

	id := uuid.New()
	err = s.pool.QueryRow(ctx, `
		INSERT INTO users (id, email) VALUES ($1, $2)
		ON CONFLICT (email) DO UPDATE SET email = EXCLUDED.email
		RETURNING id, email, created_at, updated_at
	`, id, email).Scan(&u.ID, &u.Email, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, obs.New(obs.KindTransient, "serverstore.GetOrCreateUserByEmail", err)
	}
	return &u, nil
}

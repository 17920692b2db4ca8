package changelog

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/evalgo/docsync/internal/obs"
)

// Querier is satisfied by both *pgxpool.Pool and pgx.Tx, so Append can run
// either standalone or as part of the caller's document-mutation
// transaction,
// following the explicit-SQL, no-ORM style of this codebase's state store.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

// Log provides append/range/latest_sequence over the change-event table.
type Log struct{}

// NewLog constructs a Log. It holds no state of its own — every method
// takes the Querier (pool or in-flight transaction) to operate against, so
// the caller controls atomicity.
func NewLog() *Log { return &Log{} }

// Append allocates a fresh per-user sequence number and writes a change
// event, atomically with whatever document mutation q's transaction also
// contains. The per-user sequence source is a row in change_sequences,
// incremented with an INSERT ... ON CONFLICT DO UPDATE ... RETURNING upsert
// whose row lock makes concurrent appends for the same user serialize
// without gaps.
func (l *Log) Append(ctx context.Context, q Querier, userID, documentID uuid.UUID, eventType EventType, forward, reverse []byte, applied bool) (int64, error) {
	var seq int64
	err := q.QueryRow(ctx, `
		INSERT INTO change_sequences (user_id, last_sequence)
		VALUES ($1, 1)
		ON CONFLICT (user_id) DO UPDATE SET last_sequence = change_sequences.last_sequence + 1
		RETURNING last_sequence
	`, userID).Scan(&seq)
	if err != nil {
		return 0, obs.New(obs.KindFatal, "changelog.Append", fmt.Errorf("allocate sequence: %w", err))
	}

	_, err = q.Exec(ctx, `
		INSERT INTO change_events
			(sequence, user_id, document_id, event_type, forward_patch, reverse_patch, server_timestamp, applied)
		VALUES ($1, $2, $3, $4, $5, $6, now(), $7)
	`, seq, userID, documentID, string(eventType), nullable(forward), nullable(reverse), applied)
	if err != nil {
		return 0, obs.New(obs.KindFatal, "changelog.Append", fmt.Errorf("insert change event: %w", err))
	}

	return seq, nil
}

// Range returns events with sequence > afterSequence in ascending order, up
// to limit. Only applied=true events are returned — non-applied
// conflict-audit entries are an internal record, never replayed.
func (l *Log) Range(ctx context.Context, q Querier, userID uuid.UUID, afterSequence int64, limit int) ([]ChangeEvent, error) {
	rows, err := q.Query(ctx, `
		SELECT sequence, document_id, event_type, forward_patch, reverse_patch, server_timestamp, applied
		FROM change_events
		WHERE user_id = $1 AND sequence > $2 AND applied = true
		ORDER BY sequence ASC
		LIMIT $3
	`, userID, afterSequence, limit)
	if err != nil {
		return nil, obs.New(obs.KindTransient, "changelog.Range", err)
	}
	defer rows.Close()

	var events []ChangeEvent
	for rows.Next() {
		var e ChangeEvent
		var eventType string
		var forward, reverse []byte
		if err := rows.Scan(&e.Sequence, &e.DocumentID, &eventType, &forward, &reverse, &e.ServerTimestamp, &e.Applied); err != nil {
			return nil, obs.New(obs.KindTransient, "changelog.Range", err)
		}
		e.UserID = userID
		e.EventType = EventType(eventType)
		e.ForwardPatch = forward
		e.ReversePatch = reverse
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, obs.New(obs.KindTransient, "changelog.Range", err)
	}
	return events, nil
}

// LatestSequence returns the highest sequence recorded for userID, or 0 if
// none exists yet.
func (l *Log) LatestSequence(ctx context.Context, q Querier, userID uuid.UUID) (int64, error) {
	var seq int64
	err := q.QueryRow(ctx, `SELECT COALESCE(last_sequence, 0) FROM change_sequences WHERE user_id = $1`, userID).Scan(&seq)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, nil
		}
		return 0, obs.New(obs.KindTransient, "changelog.LatestSequence", err)
	}
	return seq, nil
}

func nullable(b []byte) interface{} {
	if b == nil {
		return nil
	}
	return b
}

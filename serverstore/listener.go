package serverstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/evalgo/docsync/internal/obs"
)

const changeEventsChannel = "docsync_change_events"

// ChangeNotification is the payload broadcast over Postgres NOTIFY whenever
// a change event is committed, letting every server process (not just the
// one holding the writer's websocket connection) learn of the change. It
// carries only the user id and sequence; delivering the change to sessions
// is up to the registered ChangeHandlers.
type ChangeNotification struct {
	UserID   string `json:"user_id"`
	Sequence int64  `json:"sequence"`
}

// ChangeHandler is invoked for each notification received.
type ChangeHandler func(n ChangeNotification)

// Listener subscribes to the change-event NOTIFY channel and hands every
// notification, including those committed by a different instance behind a
// load balancer, to the handlers registered with OnChange.
type Listener struct {
	pool     *pgxpool.Pool
	mu       sync.RWMutex
	handlers []ChangeHandler
}

// NewListener constructs a Listener bound to pool. Call Start to begin
// consuming notifications.
func NewListener(pool *pgxpool.Pool) *Listener {
	return &Listener{pool: pool}
}

// OnChange registers a handler invoked for every notification.
func (l *Listener) OnChange(handler ChangeHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers = append(l.handlers, handler)
}

// Start runs the LISTEN loop until ctx is cancelled, reconnecting on error.
func (l *Listener) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			if err := l.listen(ctx); err != nil {
				obs.Logger.WithError(err).Warn("serverstore: notification listener disconnected, retrying")
				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Second):
				}
			}
		}
	}
}

func (l *Listener) listen(ctx context.Context) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listen connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+changeEventsChannel); err != nil {
		return fmt.Errorf("LISTEN %s: %w", changeEventsChannel, err)
	}

	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait for notification: %w", err)
		}
		var n ChangeNotification
		if err := json.Unmarshal([]byte(notification.Payload), &n); err != nil {
			continue
		}
		l.dispatch(n)
	}
}

func (l *Listener) dispatch(n ChangeNotification) {
	l.mu.RLock()
	handlers := make([]ChangeHandler, len(l.handlers))
	copy(handlers, l.handlers)
	l.mu.RUnlock()

	for _, h := range handlers {
		go h(n)
	}
}

// NotifyChange publishes n to the change-events channel. Called by
// syncengine's ServerEngine after a mutation's transaction has committed
// (outside the transaction, since NOTIFY payloads sent inside a
// rolled-back transaction are discarded anyway, and the caller already
// knows the commit succeeded by the time it calls this).
func (s *Store) NotifyChange(ctx context.Context, n ChangeNotification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return obs.New(obs.KindInvalidInput, "serverstore.NotifyChange", err)
	}
	_, err = s.pool.Exec(ctx, "SELECT pg_notify($1, $2)", changeEventsChannel, string(payload))
	if err != nil {
		return obs.New(obs.KindTransient, "serverstore.NotifyChange", err)
	}
	return nil
}

package protocol

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/evalgo/docsync/internal/obs"
)

// State is a client connection's position in the lifecycle state machine:
// Disconnected → Connecting → Authenticating → Connected ⇄ Disconnected,
// with Stopped as the terminal state reachable from any of the above on
// shutdown.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateAuthenticating
	StateConnected
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateConnected:
		return "connected"
	case StateStopped:
		return "stopped"
	default:
		return "disconnected"
	}
}

// LifecycleEvent describes a state transition the supervisor wants
// observed, consumed by syncengine to drive dispatcher.Connection events.
type LifecycleEvent struct {
	State   State
	Attempt int
	Err     error
}

// DialFunc establishes the raw transport for one connection attempt,
// returning the live Conn on success. Authentication is a separate step
// (see AuthFunc) so the supervisor can report StateAuthenticating while
// it runs.
type DialFunc func(ctx context.Context) (*Conn, error)

// AuthFunc performs the handshake on a freshly dialed Conn. A non-nil
// error means the connection is unusable and must be closed and retried
// with back-off like a dial failure.
type AuthFunc func(ctx context.Context, conn *Conn) error

// Supervisor owns the client-side reconnect loop: capped exponential
// back-off on failure, reset on success, emitting LifecycleEvent
// transitions as it goes.
type Supervisor struct {
	dial       DialFunc
	auth       AuthFunc
	backoffMin time.Duration
	backoffMax time.Duration
	events     chan LifecycleEvent

	mu    sync.Mutex
	state State
}

// NewSupervisor constructs a Supervisor that calls dial to (re)connect and
// auth to authenticate each freshly dialed connection before it is handed
// to onConnected. backoffMin/backoffMax bound the reconnect delay; a
// zero value for either falls back to 1s/30s.
func NewSupervisor(dial DialFunc, auth AuthFunc, backoffMin, backoffMax time.Duration) *Supervisor {
	if backoffMin <= 0 {
		backoffMin = 1 * time.Second
	}
	if backoffMax <= 0 {
		backoffMax = 30 * time.Second
	}
	return &Supervisor{
		dial:       dial,
		auth:       auth,
		backoffMin: backoffMin,
		backoffMax: backoffMax,
		events:     make(chan LifecycleEvent, 32),
		state:      StateDisconnected,
	}
}

// Events returns the channel of lifecycle transitions.
func (s *Supervisor) Events() <-chan LifecycleEvent { return s.events }

// State returns the current connection state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Supervisor) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Run drives the connect/reconnect loop until ctx is cancelled, invoking
// onConnected with each newly established Conn. It blocks
// until the connection drops or ctx ends, then reconnects with back-off.
func (s *Supervisor) Run(ctx context.Context, onConnected func(ctx context.Context, conn *Conn) error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.backoffMin
	bo.MaxInterval = s.backoffMax
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0 // retry forever

	attempt := 0
	for {
		select {
		case <-ctx.Done():
			s.setState(StateStopped)
			s.emit(LifecycleEvent{State: StateStopped})
			return
		default:
		}

		attempt++
		s.setState(StateConnecting)
		s.emit(LifecycleEvent{State: StateConnecting, Attempt: attempt})

		conn, err := s.dial(ctx)
		if err != nil {
			s.setState(StateDisconnected)
			s.emit(LifecycleEvent{State: StateDisconnected, Attempt: attempt, Err: err})
			obs.Logger.WithError(err).WithField("attempt", attempt).Warn("protocol: dial failed, backing off")
			select {
			case <-ctx.Done():
				s.setState(StateStopped)
				return
			case <-time.After(bo.NextBackOff()):
				continue
			}
		}

		if s.auth != nil {
			s.setState(StateAuthenticating)
			s.emit(LifecycleEvent{State: StateAuthenticating, Attempt: attempt})

			if err := s.auth(ctx, conn); err != nil {
				conn.Close()
				s.setState(StateDisconnected)
				s.emit(LifecycleEvent{State: StateDisconnected, Attempt: attempt, Err: err})
				obs.Logger.WithError(err).WithField("attempt", attempt).Warn("protocol: authentication failed, backing off")
				select {
				case <-ctx.Done():
					s.setState(StateStopped)
					return
				case <-time.After(bo.NextBackOff()):
					continue
				}
			}
		}

		s.setState(StateConnected)
		s.emit(LifecycleEvent{State: StateConnected, Attempt: attempt})
		bo.Reset()
		attempt = 0

		if err := onConnected(ctx, conn); err != nil {
			obs.Logger.WithError(err).Warn("protocol: connection lost")
		}
		conn.Close()

		s.setState(StateDisconnected)
		s.emit(LifecycleEvent{State: StateDisconnected})
	}
}

func (s *Supervisor) emit(e LifecycleEvent) {
	select {
	case s.events <- e:
	default: // slow consumer: drop rather than block the connection loop
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true }, // embedding applications, not browsers
}

// Upgrade promotes an incoming HTTP request to a websocket connection for
// the server's sync endpoint.
func Upgrade(w http.ResponseWriter, r *http.Request) (*Conn, error) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, obs.New(obs.KindTransient, "protocol.Upgrade", err)
	}
	return NewConn(ws), nil
}

package syncengine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/evalgo/docsync/internal/obs"
	"github.com/evalgo/docsync/protocol"
	"github.com/evalgo/docsync/serverstore"
)

// ServerEngine is the server-side reconciliation engine: it admits mutation
// frames from authenticated connections, resolves conflicts against the
// authoritative store, and broadcasts accepted mutations to every live
// session of the same user, the originating one included, via the
// in-memory session registry.
type ServerEngine struct {
	store    *serverstore.Store
	registry *protocol.Registry
}

// NewServerEngine constructs a ServerEngine bound to store, broadcasting
// through registry.
func NewServerEngine(store *serverstore.Store, registry *protocol.Registry) *ServerEngine {
	return &ServerEngine{store: store, registry: registry}
}

// HandleConnection owns one accepted websocket connection end to end:
// authenticate, register in the session registry, spawn the outbound
// writer, and dispatch inbound frames until the connection ends. It
// always unregisters the session before returning.
func (se *ServerEngine) HandleConnection(ctx context.Context, conn *protocol.Conn) error {
	defer conn.Close()

	userID, clientID, err := se.authenticate(ctx, conn)
	if err != nil {
		return err
	}

	session := se.registry.Register(userID, clientID)
	defer se.registry.Unregister(userID, clientID)

	pongWait := 2 * protocol.PingInterval
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return err
	}

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	writerDone := make(chan error, 1)
	go func() { writerDone <- se.runWriter(connCtx, conn, session) }()

	heartbeatDone := make(chan error, 1)
	go func() { heartbeatDone <- se.runHeartbeat(connCtx, conn) }()

	readErr := se.readLoop(connCtx, conn, userID)
	cancel()
	<-writerDone
	<-heartbeatDone
	return readErr
}

// runHeartbeat originates periodic transport-level pings for the lifetime
// of the connection. A missing pong surfaces when the read deadline armed
// by SetPongHandler above expires: readLoop's blocking Recv then fails and
// HandleConnection tears the session down, covering the spec's "two
// consecutive missed pongs closes the connection" since the deadline is
// twice the ping interval.
func (se *ServerEngine) runHeartbeat(ctx context.Context, conn *protocol.Conn) error {
	ticker := time.NewTicker(protocol.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := conn.Ping(time.Now().Add(protocol.PingInterval)); err != nil {
				return err
			}
		}
	}
}

func (se *ServerEngine) authenticate(ctx context.Context, conn *protocol.Conn) (uuid.UUID, string, error) {
	env, err := conn.Recv()
	if err != nil {
		return uuid.Nil, "", err
	}
	if env.Type != protocol.TypeAuthenticate {
		_ = conn.Send(protocol.TypeAuthFailure, protocol.AuthFailure{Reason: "authenticate must be the first frame"})
		return uuid.Nil, "", obs.New(obs.KindAuthentication, "syncengine.authenticate", errUnexpectedFrame)
	}

	var frame protocol.Authenticate
	if err := protocol.Decode(env, &frame); err != nil {
		_ = conn.Send(protocol.TypeAuthFailure, protocol.AuthFailure{Reason: "malformed authenticate frame"})
		return uuid.Nil, "", err
	}

	if !protocol.VerifyTimestamp(frame, time.Now()) {
		_ = conn.Send(protocol.TypeAuthFailure, protocol.AuthFailure{Reason: "timestamp skew exceeds allowed window"})
		return uuid.Nil, "", obs.New(obs.KindAuthentication, "syncengine.authenticate", protocol.ErrClockSkew)
	}

	_, secret, err := se.store.ResolveCredential(ctx, frame.APIKey)
	if err != nil {
		_ = conn.Send(protocol.TypeAuthFailure, protocol.AuthFailure{Reason: "unknown or inactive credential"})
		return uuid.Nil, "", err
	}

	if !protocol.VerifySignature(frame, secret) {
		_ = conn.Send(protocol.TypeAuthFailure, protocol.AuthFailure{Reason: "signature mismatch"})
		return uuid.Nil, "", obs.New(obs.KindAuthentication, "syncengine.authenticate", protocol.ErrBadSignature)
	}

	user, err := se.store.GetOrCreateUserByEmail(ctx, frame.Email)
	if err != nil {
		_ = conn.Send(protocol.TypeAuthFailure, protocol.AuthFailure{Reason: "could not resolve user"})
		return uuid.Nil, "", err
	}
	_ = se.store.TouchCredential(ctx, frame.APIKey, time.Now().UTC())

	if err := conn.Send(protocol.TypeAuthSuccess, protocol.AuthSuccess{UserID: user.ID}); err != nil {
		return uuid.Nil, "", err
	}
	return user.ID, frame.ClientID, nil
}

// runWriter drains session's outbound channel onto the wire until ctx ends
// or the channel is closed (the registry ejected this session).
func (se *ServerEngine) runWriter(ctx context.Context, conn *protocol.Conn, session *protocol.Session) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case env, ok := <-session.Outbound():
			if !ok {
				return nil
			}
			if err := conn.Send(env.Type, env.Payload); err != nil {
				return err
			}
		}
	}
}

func (se *ServerEngine) readLoop(ctx context.Context, conn *protocol.Conn, userID uuid.UUID) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		env, err := conn.Recv()
		if err != nil {
			return err
		}

		if err := se.dispatch(ctx, conn, userID, env); err != nil {
			obs.Logger.WithError(err).WithField("user_id", userID).Warn("syncengine: frame handling failed")
			if sendErr := conn.Send(protocol.TypeError, protocol.ErrorFrame{
				Code: obs.CodeForErr(err).String(), Message: err.Error(),
			}); sendErr != nil {
				return sendErr
			}
		}
	}
}

func (se *ServerEngine) dispatch(ctx context.Context, conn *protocol.Conn, userID uuid.UUID, env protocol.Envelope) error {
	switch env.Type {
	case protocol.TypeCreateDocument:
		return se.handleCreate(ctx, conn, userID, env)
	case protocol.TypeUpdateDocument:
		return se.handleUpdate(ctx, conn, userID, env)
	case protocol.TypeDeleteDocument:
		return se.handleDelete(ctx, conn, userID, env)
	case protocol.TypeGetChangesSince:
		return se.handleGetChangesSince(ctx, conn, userID, env)
	case protocol.TypeAckChanges:
		return nil // advisory only; server already owns the durable sequence
	case protocol.TypePing:
		return conn.Send(protocol.TypePong, struct{}{})
	default:
		return conn.Send(protocol.TypeError, protocol.ErrorFrame{Code: "unknown_type", Message: "unrecognized frame type: " + env.Type})
	}
}

package syncengine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/evalgo/docsync/internal/obs"
	"github.com/evalgo/docsync/protocol"
)

// runConnection runs the heartbeat, uploader, and inbound-frame read loop
// for the lifetime of conn, returning when any of them fails so the
// supervisor reconnects. The supervisor has already authenticated conn
// (see Supervisor.auth) before handing it here.
func (c *ClientEngine) runConnection(ctx context.Context, conn *protocol.Conn) error {
	var writeMu sync.Mutex

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	// A fresh connection means any entry the uploader marked in-flight on a
	// prior connection will never receive its echo on this one: clear the
	// tracking so the uploader resends everything still queued.
	c.pendingMu.Lock()
	c.pending = make(map[uuid.UUID]uint64)
	c.pendingMu.Unlock()

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errc := make(chan error, 2)

	go func() { errc <- c.runHeartbeat(connCtx, conn) }()
	go func() { errc <- c.runUploader(connCtx, conn, &writeMu) }()

	// Catch up on history accumulated while disconnected before handling
	// live broadcasts.
	last, err := c.store.GetLastSynced(c.userID)
	if err != nil {
		return err
	}
	if err := c.requestChangesSince(conn, &writeMu, last); err != nil {
		return err
	}

	go func() { errc <- c.readLoop(connCtx, conn, &writeMu) }()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errc:
		return err
	}
}

func (c *ClientEngine) authenticate(conn *protocol.Conn, writeMu *sync.Mutex, clientID string) error {
	timestamp := time.Now().Unix()
	body := ""
	sig := protocol.Sign(c.cfg.APISecret, c.cfg.Email, c.cfg.APIKey, body, timestamp)

	frame := protocol.Authenticate{
		Email:     c.cfg.Email,
		ClientID:  clientID,
		APIKey:    c.cfg.APIKey,
		Timestamp: timestamp,
		Signature: sig,
		Body:      body,
	}

	writeMu.Lock()
	err := conn.Send(protocol.TypeAuthenticate, frame)
	writeMu.Unlock()
	if err != nil {
		return err
	}

	env, err := conn.Recv()
	if err != nil {
		return err
	}
	switch env.Type {
	case protocol.TypeAuthSuccess:
		var ok protocol.AuthSuccess
		if err := protocol.Decode(env, &ok); err != nil {
			return err
		}
		c.userID = ok.UserID
		return nil
	case protocol.TypeAuthFailure:
		var fail protocol.AuthFailure
		_ = protocol.Decode(env, &fail)
		return obs.New(obs.KindAuthentication, "syncengine.authenticate", errAuthRejected)
	default:
		return obs.New(obs.KindAuthentication, "syncengine.authenticate", errUnexpectedFrame)
	}
}

func (c *ClientEngine) requestChangesSince(conn *protocol.Conn, writeMu *sync.Mutex, last int64) error {
	writeMu.Lock()
	defer writeMu.Unlock()
	return conn.Send(protocol.TypeGetChangesSince, protocol.GetChangesSince{LastSequence: last})
}

// runHeartbeat arms liveness tracking for the server-originated ping
// (ping origination is the server's job; see ServerEngine.runHeartbeat).
// Each inbound ping refreshes the read deadline and is answered with a
// pong; a server that goes silent for two ping intervals lets that
// deadline expire, which fails the blocking Recv in readLoop and tears
// the connection down for the supervisor to reconnect.
func (c *ClientEngine) runHeartbeat(ctx context.Context, conn *protocol.Conn) error {
	interval := c.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = protocol.PingInterval
	}
	wait := 2 * interval

	conn.SetPingHandler(func(appData string) error {
		if err := conn.SetReadDeadline(time.Now().Add(wait)); err != nil {
			return err
		}
		return conn.Pong(appData)
	})
	if err := conn.SetReadDeadline(time.Now().Add(wait)); err != nil {
		return err
	}

	<-ctx.Done()
	return nil
}

package protocol

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/evalgo/docsync/internal/obs"
)

// PingInterval is how often the server sends a liveness ping; two
// consecutive missed pongs closes the connection.
const PingInterval = 30 * time.Second

// controlWriteWait bounds how long a control frame (ping/pong) write may
// block.
const controlWriteWait = 10 * time.Second

// Conn wraps a gorilla/websocket connection with framed Envelope
// send/receive, used identically by both the client supervisor and the
// server's per-connection reader/writer goroutines. writeMu serializes the
// underlying websocket writes (data frames and control frames alike), since
// a Conn's Send/Ping/Pong are each called from more than one goroutine
// over its lifetime (the broadcast writer, the heartbeat task, and direct
// request/response replies).
type Conn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

// NewConn wraps an already-established websocket connection.
func NewConn(ws *websocket.Conn) *Conn { return &Conn{ws: ws} }

// Dial connects to a docsync server over ws/wss.
func Dial(ctx context.Context, url string, header http.Header) (*Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	ws, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, obs.New(obs.KindTransient, "protocol.Dial", err)
	}
	return NewConn(ws), nil
}

// Send writes one Envelope as a single text frame.
func (c *Conn) Send(msgType string, payload interface{}) error {
	env, err := Encode(msgType, payload)
	if err != nil {
		return obs.New(obs.KindInvalidInput, "protocol.Conn.Send", err)
	}
	c.writeMu.Lock()
	err = c.ws.WriteJSON(env)
	c.writeMu.Unlock()
	if err != nil {
		return obs.New(obs.KindTransient, "protocol.Conn.Send", err)
	}
	return nil
}

// Recv blocks until the next Envelope arrives.
func (c *Conn) Recv() (Envelope, error) {
	var env Envelope
	if err := c.ws.ReadJSON(&env); err != nil {
		return Envelope{}, obs.New(obs.KindTransient, "protocol.Conn.Recv", err)
	}
	return env, nil
}

// Ping sends a transport-level ping frame; deadline bounds the write.
// Waiting for the matching pong is armed separately through
// SetPongHandler and SetReadDeadline.
func (c *Conn) Ping(deadline time.Time) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteControl(websocket.PingMessage, nil, deadline)
}

// Pong replies to an inbound ping, echoing appData per the websocket
// control-frame protocol.
func (c *Conn) Pong(appData string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(controlWriteWait))
}

// SetPongHandler registers fn to run whenever a pong control frame arrives.
func (c *Conn) SetPongHandler(fn func(appData string) error) {
	c.ws.SetPongHandler(fn)
}

// SetPingHandler registers fn to run whenever a ping control frame arrives,
// replacing gorilla's default auto-reply so the caller can also refresh its
// own liveness deadline before replying.
func (c *Conn) SetPingHandler(fn func(appData string) error) {
	c.ws.SetPingHandler(fn)
}

// SetReadDeadline bounds how long Recv may block before failing, used to
// detect a silently dead peer between heartbeats.
func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.ws.SetReadDeadline(t)
}

// Close terminates the underlying connection.
func (c *Conn) Close() error { return c.ws.Close() }

// Decode unmarshals env.Payload into v.
func Decode(env Envelope, v interface{}) error {
	if err := json.Unmarshal(env.Payload, v); err != nil {
		return obs.New(obs.KindInvalidInput, "protocol.Decode", err)
	}
	return nil
}

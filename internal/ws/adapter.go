// Package ws adapts gofiber websocket connections to the relay core's
// Transport interface and pumps inbound frames into the coordinator. It is the
// only package that touches the websocket library; the core stays
// transport-agnostic.
package ws

import (
	"errors"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/fathima-sithara/relay-service/internal/auth"
	"github.com/fathima-sithara/relay-service/internal/connection"
	"github.com/fathima-sithara/relay-service/internal/coordinator"
)

var errConnClosed = errors.New("ws: connection closed")

// Transport wraps one websocket connection. Writes are serialized; the
// websocket protocol forbids concurrent writers.
type Transport struct {
	conn          *websocket.Conn
	writeDeadline time.Duration

	mu     sync.Mutex
	closed bool
}

func newTransport(conn *websocket.Conn, writeDeadline time.Duration) *Transport {
	return &Transport{conn: conn, writeDeadline: writeDeadline}
}

// Write pushes one text frame to the peer.
func (t *Transport) Write(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errConnClosed
	}
	_ = t.conn.SetWriteDeadline(time.Now().Add(t.writeDeadline))
	if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.closed = true
		return err
	}
	return nil
}

// Close sends a close frame and tears the socket down. Idempotent.
func (t *Transport) Close(code int, reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	msg := websocket.FormatCloseMessage(code, reason)
	_ = t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return t.conn.Close()
}

// Alive reports whether the socket is still usable.
func (t *Transport) Alive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.closed
}

// markClosed records that the peer ended the connection, so later writes fail
// fast instead of hitting a dead socket.
func (t *Transport) markClosed() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
}

// Gateway turns accepted websocket upgrades into coordinator connections.
type Gateway struct {
	coord      *coordinator.Coordinator
	validator  *auth.Validator // nil disables upgrade auth
	deadline   time.Duration
	maxMsgSize int64
	logger     *zap.SugaredLogger
}

// NewGateway builds the upgrade gateway.
func NewGateway(coord *coordinator.Coordinator, validator *auth.Validator, writeDeadline time.Duration, maxMsgSize int64, logger *zap.SugaredLogger) *Gateway {
	return &Gateway{
		coord:      coord,
		validator:  validator,
		deadline:   writeDeadline,
		maxMsgSize: maxMsgSize,
		logger:     logger,
	}
}

// Handler returns the function to mount under websocket.New. It validates the
// optional upgrade token, registers the connection with the coordinator, and
// runs the read loop until the peer goes away.
func (g *Gateway) Handler() func(*websocket.Conn) {
	return func(conn *websocket.Conn) {
		var claims *auth.Claims
		if g.validator != nil {
			var err error
			claims, err = g.validator.Validate(conn.Query("token"))
			if err != nil {
				g.logger.Warnw("rejected upgrade: invalid token", "error", err)
				_ = conn.Close()
				return
			}
		}

		t := newTransport(conn, g.deadline)
		h := g.coord.HandleConnect(t)
		if claims != nil {
			h.SetMetadata("user_uuid", claims.UserUUID)
		}

		conn.SetReadLimit(g.maxMsgSize)
		g.readLoop(conn, t, h)
	}
}

func (g *Gateway) readLoop(conn *websocket.Conn, t *Transport, h *connection.Handle) {
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			// read errors and close frames both end the connection; the
			// coordinator issues the resumption token either way
			t.markClosed()
			g.coord.HandleClose(h)
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		g.coord.HandleMessage(h, data)
	}
}

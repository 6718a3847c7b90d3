// Package coordinator orchestrates the relay core around transport events: it
// owns the live connection table and wires the room registry, broadcaster,
// heartbeat monitor, and reconnection store together behind the public API the
// rest of the server uses.
package coordinator

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/fathima-sithara/relay-service/internal/broadcast"
	"github.com/fathima-sithara/relay-service/internal/connection"
	"github.com/fathima-sithara/relay-service/internal/events"
	"github.com/fathima-sithara/relay-service/internal/heartbeat"
	"github.com/fathima-sithara/relay-service/internal/presence"
	"github.com/fathima-sithara/relay-service/internal/room"
	"github.com/fathima-sithara/relay-service/internal/session"
)

// DisconnectReason classifies why a connection left.
type DisconnectReason string

const (
	ReasonClientClose      DisconnectReason = "client_close"
	ReasonHeartbeatTimeout DisconnectReason = "heartbeat_timeout"
	ReasonTransportError   DisconnectReason = "transport_error"
)

// DisconnectEvent is handed to application collaborators when a connection is
// torn down. ResumeToken lets the client resume its room membership.
type DisconnectEvent struct {
	Connection  *connection.Handle
	Reason      DisconnectReason
	ResumeToken string
}

// Handler processes one inbound message of a custom type. Fields is the full
// decoded JSON object.
type Handler func(conn *connection.Handle, fields map[string]any)

// Config carries the construction-time tunables of the relay core.
type Config struct {
	PingInterval     time.Duration
	HeartbeatTimeout time.Duration
	ReconnectTTL     time.Duration
	ReconnectRetries int
	MaxConnsPerRoom  int
	MaxRoomsPerConn  int
	BroadcastBatch   int
	CleanupInterval  time.Duration
}

// StatsSnapshot aggregates every component's counters plus uptime.
type StatsSnapshot struct {
	UptimeSeconds    float64               `json:"uptime_seconds"`
	Connections      int                   `json:"connections"`
	Rooms            map[string]room.Stats `json:"rooms"`
	Heartbeat        heartbeat.Stats       `json:"heartbeat"`
	Sessions         session.Stats         `json:"sessions"`
	Broadcast        broadcast.Stats       `json:"broadcast"`
	MessagesReceived int64                 `json:"messages_received"`
	HandlerErrors    int64                 `json:"handler_errors"`
}

// Coordinator is the root of the relay core. One instance per server process;
// all state hangs off it, nothing is package-global.
type Coordinator struct {
	cfg    Config
	logger *zap.SugaredLogger

	mu       sync.RWMutex
	conns    map[string]*connection.Handle
	handlers map[string]Handler

	registry    *room.Registry
	broadcaster *broadcast.Broadcaster
	monitor     *heartbeat.Monitor
	sessions    *session.Store

	publisher    events.Publisher // optional
	presence     *presence.Store  // optional
	onDisconnect func(DisconnectEvent)

	startedAt        time.Time
	messagesReceived atomic.Int64
	handlerErrors    atomic.Int64
}

// New builds a coordinator and its sub-components from cfg.
func New(cfg Config, logger *zap.SugaredLogger) *Coordinator {
	c := &Coordinator{
		cfg:      cfg,
		logger:   logger,
		conns:    make(map[string]*connection.Handle),
		handlers: make(map[string]Handler),
		registry: room.NewRegistry(cfg.MaxConnsPerRoom, cfg.MaxRoomsPerConn, logger),
		sessions: session.NewStore(cfg.ReconnectTTL, cfg.ReconnectRetries, logger),
	}
	c.broadcaster = broadcast.NewBroadcaster(c.registry, cfg.BroadcastBatch, logger)
	c.monitor = heartbeat.NewMonitor(cfg.PingInterval, cfg.HeartbeatTimeout, c.handleDead, logger)
	c.startedAt = time.Now().UTC()
	return c
}

// SetPublisher attaches a lifecycle event publisher. Nil disables publishing.
func (c *Coordinator) SetPublisher(p events.Publisher) { c.publisher = p }

// SetPresence attaches a presence mirror. Nil disables mirroring.
func (c *Coordinator) SetPresence(p *presence.Store) { c.presence = p }

// OnDisconnect registers the application callback invoked for every teardown.
func (c *Coordinator) OnDisconnect(fn func(DisconnectEvent)) { c.onDisconnect = fn }

// RegisterHandler maps a custom message type to a handler. Built-in types
// cannot be overridden; registering one of them is ignored.
func (c *Coordinator) RegisterHandler(msgType string, h Handler) {
	switch msgType {
	case "join", "leave", "broadcast", "reconnect", "ping", "pong":
		c.logger.Warnw("refusing to override built-in message type", "type", msgType)
		return
	}
	c.mu.Lock()
	c.handlers[msgType] = h
	c.mu.Unlock()
}

// Rooms exposes the room registry for application code.
func (c *Coordinator) Rooms() *room.Registry { return c.registry }

// Broadcaster exposes the broadcaster for application code.
func (c *Coordinator) Broadcaster() *broadcast.Broadcaster { return c.broadcaster }

// Sessions exposes the reconnection store for application code.
func (c *Coordinator) Sessions() *session.Store { return c.sessions }

// Heartbeat exposes the heartbeat monitor for application code.
func (c *Coordinator) Heartbeat() *heartbeat.Monitor { return c.monitor }

// Start launches the heartbeat and session-cleanup background loops.
func (c *Coordinator) Start() {
	c.monitor.Start()
	interval := c.cfg.CleanupInterval
	if interval <= 0 {
		interval = time.Minute
	}
	c.sessions.StartCleanup(interval)
}

// Stop cancels the background loops and closes every live connection.
func (c *Coordinator) Stop() {
	c.monitor.Stop()
	c.sessions.StopCleanup()

	for _, h := range c.Connections() {
		h.Close(connection.CloseNormal, "server shutdown")
	}
}

// HandleConnect registers a fresh transport socket: it creates a handle, puts
// it under heartbeat monitoring, and greets the client.
func (c *Coordinator) HandleConnect(t connection.Transport) *connection.Handle {
	h := connection.NewHandle(t)

	c.mu.Lock()
	c.conns[h.ID()] = h
	total := len(c.conns)
	c.mu.Unlock()

	c.monitor.Add(h)
	h.Send(connectedGreeting(h.ID()))
	c.mirrorOnline(h)
	c.publish(events.Event{Type: "connected", ConnectionID: h.ID(), Timestamp: time.Now().UTC().Unix()})
	c.logger.Infow("connection established", "connection_id", h.ID(), "total", total)
	return h
}

// HandleMessage routes one inbound frame. Pongs are consumed by the heartbeat
// monitor before dispatch; malformed payloads fall through to the echo path.
// A panicking handler is recovered and logged, never allowed to tear down the
// event loop or unrelated connections.
func (c *Coordinator) HandleMessage(h *connection.Handle, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			c.handlerErrors.Add(1)
			c.logger.Errorw("recovered panic in message handler", "connection_id", h.ID(), "panic", r)
		}
	}()

	c.messagesReceived.Add(1)
	h.Touch()

	if c.monitor.IsPong(data) {
		c.monitor.HandlePong(h)
		return
	}

	kind, env := decodeEnvelope(data)
	switch kind {
	case KindJoin:
		c.handleJoin(h, env)
	case KindLeave:
		c.handleLeave(h, env)
	case KindBroadcast:
		c.handleBroadcast(h, env)
	case KindReconnect:
		c.handleReconnect(h, env)
	case KindPing:
		h.Send(pongReply())
	default:
		c.handleCustom(h, env)
	}
}

func (c *Coordinator) handleJoin(h *connection.Handle, env *Envelope) {
	if env.Room == "" {
		h.Send(errorReply("join requires a room"))
		return
	}
	if !c.registry.Join(h, env.Room) {
		h.Send(errorReply("room is full or connection at room limit"))
		return
	}
	h.Send(joinedReply(env.Room, c.registry.Size(env.Room)))
}

func (c *Coordinator) handleLeave(h *connection.Handle, env *Envelope) {
	if env.Room == "" {
		h.Send(errorReply("leave requires a room"))
		return
	}
	if !c.registry.Leave(h, env.Room) {
		h.Send(errorReply("not a member of room"))
		return
	}
	h.Send(leftReply(env.Room))
}

func (c *Coordinator) handleBroadcast(h *connection.Handle, env *Envelope) {
	if env.Room == "" {
		h.Send(errorReply("broadcast requires a room"))
		return
	}
	// Only members may broadcast into a room.
	if !c.registry.IsInRoom(h, env.Room) {
		h.Send(errorReply("not a member of room"))
		return
	}
	out := map[string]any{
		"type":      "broadcast",
		"room":      env.Room,
		"from":      h.ID(),
		"data":      json.RawMessage(env.Data),
		"timestamp": time.Now().UTC().Unix(),
	}
	n := c.broadcaster.ToRoom(env.Room, out, h.ID())
	h.Send(broadcastReply(env.Room, n))
}

func (c *Coordinator) handleReconnect(h *connection.Handle, env *Envelope) {
	if env.Token == "" {
		h.Send(errorReply("reconnect requires a token"))
		return
	}
	sess := c.sessions.Reconnect(env.Token, h)
	if sess == nil {
		h.Send(errorReply("invalid, expired, or exhausted reconnection token"))
		return
	}
	rejoined := make([]string, 0, len(sess.Rooms))
	for _, name := range sess.Rooms {
		if c.registry.Join(h, name) {
			rejoined = append(rejoined, name)
		}
	}
	c.mirrorOnline(h)
	h.Send(reconnectedReply(rejoined, sess.ConnectionID))
}

func (c *Coordinator) handleCustom(h *connection.Handle, env *Envelope) {
	c.mu.RLock()
	handler, ok := c.handlers[env.Type]
	c.mu.RUnlock()
	if ok {
		handler(h, env.Fields)
		return
	}
	// Unregistered and malformed payloads are echoed back, never a hard
	// failure of the connection.
	var data any
	if env.Fields != nil {
		data = env.Fields
	} else {
		data = string(env.Data)
	}
	h.Send(echoReply(env.Type, data))
}

// HandleClose tears a connection down after the client closed the transport.
func (c *Coordinator) HandleClose(h *connection.Handle) {
	c.disconnect(h, ReasonClientClose)
}

// HandleError tears a connection down after a transport-level error.
func (c *Coordinator) HandleError(h *connection.Handle, code int, msg string) {
	c.logger.Warnw("transport error", "connection_id", h.ID(), "code", code, "error", msg)
	c.disconnect(h, ReasonTransportError)
}

// handleDead is the heartbeat monitor's dead-connection callback.
func (c *Coordinator) handleDead(h *connection.Handle) {
	c.disconnect(h, ReasonHeartbeatTimeout)
}

// disconnect runs the teardown sequence exactly once per connection: snapshot
// a reconnection session while the room set is still intact, then unwind
// membership, monitoring, and the connection table.
func (c *Coordinator) disconnect(h *connection.Handle, reason DisconnectReason) {
	c.mu.Lock()
	if _, live := c.conns[h.ID()]; !live {
		c.mu.Unlock()
		return
	}
	delete(c.conns, h.ID())
	remaining := len(c.conns)
	c.mu.Unlock()

	token := c.sessions.Create(h, nil)
	c.registry.LeaveAll(h)
	c.monitor.Remove(h)
	c.mirrorOffline(h)

	c.publish(events.Event{
		Type:         "disconnected",
		ConnectionID: h.ID(),
		Reason:       string(reason),
		ResumeToken:  token,
		Timestamp:    time.Now().UTC().Unix(),
	})
	if c.onDisconnect != nil {
		c.onDisconnect(DisconnectEvent{Connection: h, Reason: reason, ResumeToken: token})
	}
	c.logger.Infow("connection closed",
		"connection_id", h.ID(), "reason", reason, "remaining", remaining)
}

// Connection looks up a live connection by id.
func (c *Coordinator) Connection(id string) (*connection.Handle, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.conns[id]
	return h, ok
}

// Connections returns a snapshot of every live connection.
func (c *Coordinator) Connections() []*connection.Handle {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*connection.Handle, 0, len(c.conns))
	for _, h := range c.conns {
		out = append(out, h)
	}
	return out
}

// Count returns the number of live connections.
func (c *Coordinator) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.conns)
}

// JoinRoom joins a connection to a room by id. Part of the public server API.
func (c *Coordinator) JoinRoom(connectionID, roomName string) bool {
	h, ok := c.Connection(connectionID)
	if !ok {
		return false
	}
	return c.registry.Join(h, roomName)
}

// LeaveRoom removes a connection from a room by id.
func (c *Coordinator) LeaveRoom(connectionID, roomName string) bool {
	h, ok := c.Connection(connectionID)
	if !ok {
		return false
	}
	return c.registry.Leave(h, roomName)
}

// SendTo delivers a message to one connection by id.
func (c *Coordinator) SendTo(connectionID string, message any) bool {
	h, ok := c.Connection(connectionID)
	if !ok {
		return false
	}
	return c.broadcaster.ToConnection(h, message)
}

// BroadcastToRoom fans a message out to a room, minus excluded ids.
func (c *Coordinator) BroadcastToRoom(roomName string, message any, exclude ...string) int {
	return c.broadcaster.ToRoom(roomName, message, exclude...)
}

// BroadcastToAll fans a message out to every live connection.
func (c *Coordinator) BroadcastToAll(message any, exclude ...string) int {
	return c.broadcaster.ToAll(c.Connections(), message, exclude...)
}

// Stats aggregates every component's counters into one snapshot.
func (c *Coordinator) Stats() StatsSnapshot {
	return StatsSnapshot{
		UptimeSeconds:    time.Since(c.startedAt).Seconds(),
		Connections:      c.Count(),
		Rooms:            c.registry.AllStats(),
		Heartbeat:        c.monitor.Stats(),
		Sessions:         c.sessions.Stats(),
		Broadcast:        c.broadcaster.Stats(),
		MessagesReceived: c.messagesReceived.Load(),
		HandlerErrors:    c.handlerErrors.Load(),
	}
}

func (c *Coordinator) publish(ev events.Event) {
	if c.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.publisher.Publish(ctx, ev); err != nil {
		c.logger.Debugw("event publish failed", "type", ev.Type, "error", err)
	}
}

func (c *Coordinator) mirrorOnline(h *connection.Handle) {
	if c.presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.presence.Online(ctx, h.ID(), h.Rooms()); err != nil {
		c.logger.Debugw("presence update failed", "connection_id", h.ID(), "error", err)
	}
}

func (c *Coordinator) mirrorOffline(h *connection.Handle) {
	if c.presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.presence.Offline(ctx, h.ID()); err != nil {
		c.logger.Debugw("presence update failed", "connection_id", h.ID(), "error", err)
	}
}

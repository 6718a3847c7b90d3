// Package heartbeat probes idle connections with application-level pings and
// reaps the ones that stay silent past the configured timeout.
package heartbeat

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/fathima-sithara/relay-service/internal/connection"
)

// DefaultPingPayload is what the monitor writes to an idle connection when no
// custom payload is configured.
var DefaultPingPayload = []byte(`{"type":"ping"}`)

// Stats is a snapshot of the monitor's counters.
type Stats struct {
	Monitored     int   `json:"monitored"`
	PingsSent     int64 `json:"pings_sent"`
	PongsReceived int64 `json:"pongs_received"`
	Timeouts      int64 `json:"timeouts"`
}

// Monitor tracks a set of connections and, on a fixed tick, pings the idle
// ones and force-closes the dead ones. Timeout decisions are wall-clock based:
// elapsed time since the handle's last activity.
type Monitor struct {
	mu           sync.Mutex
	conns        map[string]*connection.Handle
	pingInterval time.Duration
	timeout      time.Duration
	pingPayload  []byte
	onDead       func(*connection.Handle)
	stop         chan struct{}
	running      bool

	pingsSent     atomic.Int64
	pongsReceived atomic.Int64
	timeouts      atomic.Int64

	logger *zap.SugaredLogger
}

// NewMonitor builds a stopped monitor. onDead is invoked, outside the monitor
// lock, for every connection reaped by a timeout, before the connection is
// closed.
func NewMonitor(pingInterval, timeout time.Duration, onDead func(*connection.Handle), logger *zap.SugaredLogger) *Monitor {
	return &Monitor{
		conns:        make(map[string]*connection.Handle),
		pingInterval: pingInterval,
		timeout:      timeout,
		pingPayload:  DefaultPingPayload,
		onDead:       onDead,
		logger:       logger,
	}
}

// SetPingPayload overrides the frame written as a ping probe.
func (m *Monitor) SetPingPayload(payload []byte) {
	m.mu.Lock()
	m.pingPayload = payload
	m.mu.Unlock()
}

// Add puts a connection under monitoring. Idempotent.
func (m *Monitor) Add(conn *connection.Handle) {
	m.mu.Lock()
	m.conns[conn.ID()] = conn
	m.mu.Unlock()
}

// Remove takes a connection out of monitoring. Idempotent.
func (m *Monitor) Remove(conn *connection.Handle) {
	m.mu.Lock()
	delete(m.conns, conn.ID())
	m.mu.Unlock()
}

// Monitored returns how many connections are currently watched.
func (m *Monitor) Monitored() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}

// Check runs one monitoring pass: connections idle past the timeout are
// removed, reported dead, and closed; connections idle past the ping interval
// receive a ping probe.
func (m *Monitor) Check() {
	now := time.Now().UTC()

	m.mu.Lock()
	payload := m.pingPayload
	var dead []*connection.Handle
	var toPing []*connection.Handle
	for id, c := range m.conns {
		elapsed := now.Sub(c.LastActivity())
		switch {
		case elapsed >= m.timeout:
			delete(m.conns, id)
			dead = append(dead, c)
		case elapsed >= m.pingInterval:
			toPing = append(toPing, c)
		}
	}
	m.mu.Unlock()

	for _, c := range dead {
		m.timeouts.Add(1)
		m.logger.Infow("connection timed out", "connection_id", c.ID())
		if m.onDead != nil {
			m.onDead(c)
		}
		c.Close(connection.CloseTimeout, "heartbeat timeout")
	}

	for _, c := range toPing {
		// WriteRaw keeps the activity clock untouched; a silent peer must
		// still time out even after we probed it.
		if c.WriteRaw(payload) {
			m.pingsSent.Add(1)
		}
	}
}

// HandlePong refreshes a connection's activity clock in response to a pong.
func (m *Monitor) HandlePong(conn *connection.Handle) {
	conn.Touch()
	m.pongsReceived.Add(1)
}

// IsPong reports whether a raw inbound frame matches the pong convention:
// either the configured ping payload echoed back, or a JSON object whose type
// field is "pong".
func (m *Monitor) IsPong(data []byte) bool {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return false
	}
	return probe.Type == "pong"
}

// Start launches the periodic check loop. Idempotent.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	m.running = true
	m.stop = make(chan struct{})
	go m.loop(m.stop, m.pingInterval)
	m.logger.Infow("heartbeat monitor started", "ping_interval", m.pingInterval, "timeout", m.timeout)
}

// Stop cancels the periodic check loop. Idempotent.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	m.running = false
	close(m.stop)
}

// SetInterval changes the ping interval. If the loop is running it restarts
// with the new period; the timeout is unchanged.
func (m *Monitor) SetInterval(interval time.Duration) {
	m.mu.Lock()
	m.pingInterval = interval
	if m.running {
		close(m.stop)
		m.stop = make(chan struct{})
		go m.loop(m.stop, interval)
	}
	m.mu.Unlock()
}

func (m *Monitor) loop(stop <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.Check()
		}
	}
}

// Stats returns a snapshot of the monitor's counters.
func (m *Monitor) Stats() Stats {
	return Stats{
		Monitored:     m.Monitored(),
		PingsSent:     m.pingsSent.Load(),
		PongsReceived: m.pongsReceived.Load(),
		Timeouts:      m.timeouts.Load(),
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.App.Port)
	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, 30*time.Second, cfg.PingInterval)
	assert.Equal(t, 60*time.Second, cfg.HeartbeatTimeout)
	assert.Equal(t, 120*time.Second, cfg.ReconnectTTL)
	assert.Equal(t, 3, cfg.Reconnect.MaxAttempts)
	assert.Equal(t, 50, cfg.Broadcast.BatchSize)
	assert.Equal(t, int64(65536), cfg.WS.MaxMessageSizeBytes)
	assert.Equal(t, "relay", cfg.Redis.Prefix)
	assert.Equal(t, "relay.connection-events", cfg.Kafka.Topic)
}

func TestLoad_FromFile(t *testing.T) {
	path := writeConfig(t, `
app:
  port: 9000
  env: production
heartbeat:
  ping_interval_seconds: 15
  timeout_seconds: 45
reconnect:
  ttl_seconds: 300
  max_attempts: 5
room:
  max_connections_per_room: 100
  max_rooms_per_connection: 10
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.App.Port)
	assert.Equal(t, "production", cfg.App.Env)
	assert.Equal(t, 15*time.Second, cfg.PingInterval)
	assert.Equal(t, 45*time.Second, cfg.HeartbeatTimeout)
	assert.Equal(t, 5*time.Minute, cfg.ReconnectTTL)
	assert.Equal(t, 5, cfg.Reconnect.MaxAttempts)
	assert.Equal(t, 100, cfg.Room.MaxConnectionsPerRoom)
	assert.Equal(t, 10, cfg.Room.MaxRoomsPerConnection)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/does/not/exist.yaml")
	assert.Error(t, err)
}

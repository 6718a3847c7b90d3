// Package config loads the relay service configuration from a file plus
// environment overrides. Values are read once at construction; the running
// service never re-validates them.
package config

import (
	"time"

	"github.com/spf13/viper"
)

type AppConfig struct {
	Env      string `mapstructure:"env"`
	Port     int    `mapstructure:"port"`
	LogLevel string `mapstructure:"log_level"`
}

type HeartbeatConfig struct {
	PingIntervalSeconds int `mapstructure:"ping_interval_seconds"`
	TimeoutSeconds      int `mapstructure:"timeout_seconds"`
}

type ReconnectConfig struct {
	TTLSeconds             int `mapstructure:"ttl_seconds"`
	MaxAttempts            int `mapstructure:"max_attempts"`
	CleanupIntervalSeconds int `mapstructure:"cleanup_interval_seconds"`
}

type RoomConfig struct {
	MaxConnectionsPerRoom int `mapstructure:"max_connections_per_room"`
	MaxRoomsPerConnection int `mapstructure:"max_rooms_per_connection"`
}

type BroadcastConfig struct {
	BatchSize int `mapstructure:"batch_size"`
}

type WSConfig struct {
	WriteDeadlineSeconds int   `mapstructure:"write_deadline_seconds"`
	MaxMessageSizeBytes  int64 `mapstructure:"max_message_size_bytes"`
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"` // empty disables upgrade auth
}

type RedisConfig struct {
	Addr   string `mapstructure:"addr"` // empty disables the presence mirror
	Pass   string `mapstructure:"password"`
	DB     int    `mapstructure:"db"`
	Prefix string `mapstructure:"prefix"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"` // empty disables event publishing
	Topic   string   `mapstructure:"topic"`
}

type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Heartbeat HeartbeatConfig `mapstructure:"heartbeat"`
	Reconnect ReconnectConfig `mapstructure:"reconnect"`
	Room      RoomConfig      `mapstructure:"room"`
	Broadcast BroadcastConfig `mapstructure:"broadcast"`
	WS        WSConfig        `mapstructure:"ws"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`

	// derived durations
	PingInterval     time.Duration
	HeartbeatTimeout time.Duration
	ReconnectTTL     time.Duration
	CleanupInterval  time.Duration
	WriteDeadline    time.Duration
}

// Load reads the config file at path (optional) and applies environment
// overrides, then fills defaults and derived durations.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, err
	}

	if c.App.Port == 0 {
		c.App.Port = 8080
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.Heartbeat.PingIntervalSeconds == 0 {
		c.Heartbeat.PingIntervalSeconds = 30
	}
	if c.Heartbeat.TimeoutSeconds == 0 {
		c.Heartbeat.TimeoutSeconds = 60
	}
	if c.Reconnect.TTLSeconds == 0 {
		c.Reconnect.TTLSeconds = 120
	}
	if c.Reconnect.MaxAttempts == 0 {
		c.Reconnect.MaxAttempts = 3
	}
	if c.Reconnect.CleanupIntervalSeconds == 0 {
		c.Reconnect.CleanupIntervalSeconds = 60
	}
	if c.Broadcast.BatchSize == 0 {
		c.Broadcast.BatchSize = 50
	}
	if c.WS.WriteDeadlineSeconds == 0 {
		c.WS.WriteDeadlineSeconds = 10
	}
	if c.WS.MaxMessageSizeBytes == 0 {
		c.WS.MaxMessageSizeBytes = 65536
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = "relay"
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "relay.connection-events"
	}

	c.PingInterval = time.Duration(c.Heartbeat.PingIntervalSeconds) * time.Second
	c.HeartbeatTimeout = time.Duration(c.Heartbeat.TimeoutSeconds) * time.Second
	c.ReconnectTTL = time.Duration(c.Reconnect.TTLSeconds) * time.Second
	c.CleanupInterval = time.Duration(c.Reconnect.CleanupIntervalSeconds) * time.Second
	c.WriteDeadline = time.Duration(c.WS.WriteDeadlineSeconds) * time.Second
	return &c, nil
}

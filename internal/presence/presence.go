// Package presence mirrors connection liveness into Redis so dashboards and
// sibling services can see who is online. The mirror is advisory only: the
// relay core never consults it for control-flow decisions.
package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store writes presence records keyed by connection id.
type Store struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewStore wraps a Redis client. Records expire after ttl so a crashed relay
// instance cannot leave permanent ghosts.
func NewStore(client *redis.Client, prefix string, ttl time.Duration) *Store {
	return &Store{client: client, prefix: prefix, ttl: ttl}
}

func (s *Store) key(connectionID string) string {
	return fmt.Sprintf("%s:presence:%s", s.prefix, connectionID)
}

// Online records a connection as online with its current room list.
func (s *Store) Online(ctx context.Context, connectionID string, rooms []string) error {
	rec := map[string]any{
		"status":    "online",
		"rooms":     rooms,
		"last_seen": time.Now().UTC().Unix(),
	}
	b, _ := json.Marshal(rec)
	return s.client.Set(ctx, s.key(connectionID), b, s.ttl).Err()
}

// Offline marks a connection offline. The record keeps its TTL so the final
// state remains visible briefly after disconnect.
func (s *Store) Offline(ctx context.Context, connectionID string) error {
	rec := map[string]any{
		"status":    "offline",
		"last_seen": time.Now().UTC().Unix(),
	}
	b, _ := json.Marshal(rec)
	return s.client.Set(ctx, s.key(connectionID), b, s.ttl).Err()
}

// Get returns the raw presence record for a connection.
func (s *Store) Get(ctx context.Context, connectionID string) (map[string]any, error) {
	b, err := s.client.Get(ctx, s.key(connectionID)).Bytes()
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

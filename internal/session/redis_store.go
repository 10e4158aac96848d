// Package session holds short-lived editing state: auto-save windows,
// request counters and presence records.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "lexdesk:"

// Presence is the last known position of a participant in a document.
type Presence struct {
	DocumentID string    `json:"document_id"`
	UserID     string    `json:"user_id"`
	Username   string    `json:"username"`
	Color      string    `json:"color"`
	Cursor     int       `json:"cursor_position"`
	Selection  [2]int    `json:"selection"`
	LastSeen   time.Time `json:"last_seen"`
}

// RedisStore implements the editing caches on Redis so that several API
// nodes share rate limits and presence.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisStore{client: client, prefix: defaultPrefix}, nil
}

func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: defaultPrefix}
}

// Client exposes the connection for the collaboration relay.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

func (s *RedisStore) autosaveKey(documentID, userID string) string {
	return s.prefix + "autosave:" + documentID + ":" + userID
}

func (s *RedisStore) presenceKey(documentID, userID string) string {
	return s.prefix + "presence:" + documentID + ":" + userID
}

// TryAcquireWindow claims the auto-save window for (document, user). It
// returns false while a previous claim is still live.
func (s *RedisStore) TryAcquireWindow(ctx context.Context, documentID, userID string, window time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.autosaveKey(documentID, userID), time.Now().UTC().Format(time.RFC3339), window).Result()
	if err != nil {
		return false, fmt.Errorf("claim autosave window: %w", err)
	}
	return ok, nil
}

// ReleaseWindow gives the auto-save window back, so the next call may save.
func (s *RedisStore) ReleaseWindow(ctx context.Context, documentID, userID string) error {
	if err := s.client.Del(ctx, s.autosaveKey(documentID, userID)).Err(); err != nil {
		return fmt.Errorf("release autosave window: %w", err)
	}
	return nil
}

// Incr bumps a fixed-window counter and returns the new value. The window
// starts with the first increment.
func (s *RedisStore) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	fullKey := s.prefix + "rate:" + key
	n, err := s.client.Incr(ctx, fullKey).Result()
	if err != nil {
		return 0, fmt.Errorf("incr %s: %w", key, err)
	}
	if n == 1 {
		if err := s.client.Expire(ctx, fullKey, window).Err(); err != nil {
			return n, fmt.Errorf("expire %s: %w", key, err)
		}
	}
	return n, nil
}

func (s *RedisStore) TouchPresence(ctx context.Context, presence Presence, ttl time.Duration) error {
	payload, err := json.Marshal(presence)
	if err != nil {
		return fmt.Errorf("marshal presence: %w", err)
	}
	if err := s.client.Set(ctx, s.presenceKey(presence.DocumentID, presence.UserID), payload, ttl).Err(); err != nil {
		return fmt.Errorf("save presence: %w", err)
	}
	return nil
}

func (s *RedisStore) RemovePresence(ctx context.Context, documentID, userID string) error {
	if err := s.client.Del(ctx, s.presenceKey(documentID, userID)).Err(); err != nil {
		return fmt.Errorf("remove presence: %w", err)
	}
	return nil
}

func (s *RedisStore) ListPresence(ctx context.Context, documentID string) ([]Presence, error) {
	pattern := s.presenceKey(documentID, "*")
	items := make([]Presence, 0)
	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		raw, err := s.client.Get(ctx, iter.Val()).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load presence: %w", err)
		}
		var presence Presence
		if err := json.Unmarshal(raw, &presence); err != nil {
			return nil, fmt.Errorf("decode presence: %w", err)
		}
		items = append(items, presence)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan presence: %w", err)
	}
	sortPresence(items)
	return items, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

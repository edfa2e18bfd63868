package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/zhouzirui/agent-relay/internal/model/chat"
)

const redisKeyPrefix = "relay:session:"

// RedisRegistry stores sessions in Redis so that every worker process sees
// the sessions created by the others.
type RedisRegistry struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedisRegistry wraps a Redis client. ttl <= 0 stores keys without expiry.
func NewRedisRegistry(client redis.Cmdable, ttl time.Duration) *RedisRegistry {
	if ttl < 0 {
		ttl = 0
	}
	return &RedisRegistry{client: client, ttl: ttl}
}

// Put inserts or overwrites the session stored under id.
func (r *RedisRegistry) Put(ctx context.Context, id string, session chat.Session) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", id, err)
	}
	if err := r.client.Set(ctx, redisKeyPrefix+id, payload, r.ttl).Err(); err != nil {
		return fmt.Errorf("store session %s: %w", id, err)
	}
	return nil
}

// Get retrieves a session by identifier.
func (r *RedisRegistry) Get(ctx context.Context, id string) (chat.Session, error) {
	payload, err := r.client.Get(ctx, redisKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return chat.Session{}, ErrSessionNotFound
	}
	if err != nil {
		return chat.Session{}, fmt.Errorf("load session %s: %w", id, err)
	}

	var session chat.Session
	if err := json.Unmarshal(payload, &session); err != nil {
		return chat.Session{}, fmt.Errorf("decode session %s: %w", id, err)
	}
	return session, nil
}

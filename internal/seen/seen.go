package seen

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyPrefix = "cinechat:seen:"

// DefaultTTL bounds how long a session remembers what it was shown.
const DefaultTTL = 24 * time.Hour

// Tracker remembers which titles a chat session has already been recommended.
type Tracker interface {
	Titles(ctx context.Context, sessionID string) ([]string, error)
	Add(ctx context.Context, sessionID string, titles ...string) error
}

type sessionKey struct{}

// WithSession binds a chat session to the request context.
func WithSession(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionKey{}, sessionID)
}

// SessionFrom returns the session bound to ctx, or "".
func SessionFrom(ctx context.Context) string {
	id, _ := ctx.Value(sessionKey{}).(string)
	return id
}

// RedisTracker keeps one Redis set per session.
type RedisTracker struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisTracker connects to redisURL and verifies the connection.
func NewRedisTracker(redisURL string, ttl time.Duration, logger *zap.Logger) (*RedisTracker, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisTracker{rdb: rdb, ttl: ttl, logger: logger}, nil
}

// Titles returns every title recorded for the session.
func (t *RedisTracker) Titles(ctx context.Context, sessionID string) ([]string, error) {
	if sessionID == "" {
		return nil, nil
	}
	titles, err := t.rdb.SMembers(ctx, keyPrefix+sessionID).Result()
	if err != nil {
		return nil, fmt.Errorf("seen titles %s: %w", sessionID, err)
	}
	return titles, nil
}

// Add records titles for the session and refreshes its expiry.
func (t *RedisTracker) Add(ctx context.Context, sessionID string, titles ...string) error {
	if sessionID == "" || len(titles) == 0 {
		return nil
	}
	key := keyPrefix + sessionID
	members := make([]interface{}, len(titles))
	for i, title := range titles {
		members[i] = title
	}
	pipe := t.rdb.TxPipeline()
	pipe.SAdd(ctx, key, members...)
	pipe.Expire(ctx, key, t.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("seen add %s: %w", sessionID, err)
	}
	t.logger.Debug("recorded seen titles", zap.String("session", sessionID), zap.Int("count", len(titles)))
	return nil
}

// Close releases the Redis connection.
func (t *RedisTracker) Close() error {
	return t.rdb.Close()
}

// Noop is a Tracker that remembers nothing.
type Noop struct{}

func (Noop) Titles(context.Context, string) ([]string, error) { return nil, nil }
func (Noop) Add(context.Context, string, ...string) error { return nil }

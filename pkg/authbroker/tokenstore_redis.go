package authbroker

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisTokenStoreConfig configures a RedisTokenStore, mirroring the
// teacher's persistence.RedisCacheConfig field set.
type RedisTokenStoreConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	// TTL bounds how long a saved token survives before Redis expires it.
	// Zero selects DefaultTokenTTL.
	TTL time.Duration
}

// DefaultTokenTTL is applied when RedisTokenStoreConfig.TTL is zero.
const DefaultTokenTTL = 24 * time.Hour

// RedisTokenStore is a TokenStore backend for a multi-instance auth broker:
// several Baltica server processes sharing one Redis so a client's cached
// online-auth token is visible regardless of which instance handles its
// next connection. Adapted directly from the teacher's
// pkg/persistence/redis.go RedisCache (same client construction, same
// Ping-on-connect, same fmt.Sprintf key-namespacing convention), replacing
// its peer/session cache keys with a token namespace.
type RedisTokenStore struct {
	client *redis.Client
	ctx    context.Context
	ttl    time.Duration
}

// NewRedisTokenStore connects to Redis per cfg, verifying the connection
// with a Ping before returning, exactly as the teacher's NewRedisCache does.
func NewRedisTokenStore(cfg RedisTokenStoreConfig) (*RedisTokenStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("authbroker: connect to redis: %w", err)
	}

	ttl := cfg.TTL
	if ttl == 0 {
		ttl = DefaultTokenTTL
	}
	return &RedisTokenStore{client: client, ctx: ctx, ttl: ttl}, nil
}

func tokenKey(key string) string { return fmt.Sprintf("baltica:token:%s", key) }

// Save stores token under key with the store's configured TTL.
func (s *RedisTokenStore) Save(key string, token []byte) error {
	encoded := base64.StdEncoding.EncodeToString(token)
	return s.client.Set(s.ctx, tokenKey(key), encoded, s.ttl).Err()
}

// Load returns the token stored under key, or ErrNotFound if it has expired
// or was never saved.
func (s *RedisTokenStore) Load(key string) ([]byte, error) {
	encoded, err := s.client.Get(s.ctx, tokenKey(key)).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("authbroker: redis get: %w", err)
	}
	return base64.StdEncoding.DecodeString(encoded)
}

// Delete removes key. Deleting an absent key is not an error.
func (s *RedisTokenStore) Delete(key string) error {
	return s.client.Del(s.ctx, tokenKey(key)).Err()
}

// Close releases the underlying Redis connection.
func (s *RedisTokenStore) Close() error {
	return s.client.Close()
}

// Package redis stores mailbox snapshots as Redis string values.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/V3R0N1C4/MailSystem/internal/store"
)

// Config holds the connection settings for a Redis backend.
type Config struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// KV is the subset of the Redis client used by the backend.
type KV interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *goredis.StatusCmd
}

// Backend implements store.Backend on Redis.
type Backend struct {
	client KV
	prefix string
	closer func() error
}

// New connects to Redis and verifies the connection with a PING.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Addr, err)
	}

	b := NewWithClient(client, cfg.Prefix)
	b.closer = client.Close
	return b, nil
}

// NewWithClient creates a Backend with a custom client, used for testing.
func NewWithClient(client KV, prefix string) *Backend {
	return &Backend{client: client, prefix: prefix}
}

// Close releases the connection pool when the backend owns it.
func (b *Backend) Close() error {
	if b.closer == nil {
		return nil
	}
	return b.closer()
}

// Read implements store.Backend.
func (b *Backend) Read(ctx context.Context, key string) ([]byte, error) {
	data, err := b.client.Get(ctx, b.prefix+key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, store.ErrNotExist
	}
	if err != nil {
		return nil, fmt.Errorf("redis GET %s: %w", b.prefix+key, err)
	}
	return data, nil
}

// Write implements store.Backend. Snapshots never expire.
func (b *Backend) Write(ctx context.Context, key string, data []byte) error {
	if err := b.client.Set(ctx, b.prefix+key, data, 0).Err(); err != nil {
		return fmt.Errorf("redis SET %s: %w", b.prefix+key, err)
	}
	return nil
}

// Name implements store.Backend.
func (b *Backend) Name() string {
	return "redis"
}

// Package mirror publishes freshly fetched exchange payloads to Redis so the
// dashboard process can read them without going through the gateway.
//
// Keys are gw:<cache class>:<fingerprint> and expire with the class TTL.
// Private (signed) responses and uncached classes are never mirrored.
package mirror

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rickgao/exchange-gateway/internal/request"
)

// KeyPrefix is the namespace of every mirrored key.
const KeyPrefix = "gw"

// Store is the subset of the Redis client the publisher uses.
type Store interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// Config holds Redis connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
	Timeout  time.Duration // Per-write timeout (default: 500ms)
}

// Connect opens a Redis client and verifies it with PING.
func Connect(ctx context.Context, cfg Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return client, nil
}

// Key returns the mirror key for a payload.
func Key(class, fingerprint string) string {
	return fmt.Sprintf("%s:%s:%s", KeyPrefix, class, fingerprint)
}

// Publisher writes payloads to Redis.
type Publisher struct {
	store   Store
	ttl     func(class string) time.Duration
	timeout time.Duration
	logger  *slog.Logger
}

// NewPublisher creates a Publisher. ttl maps a cache class to its expiry.
func NewPublisher(store Store, ttl func(class string) time.Duration, timeout time.Duration, logger *slog.Logger) *Publisher {
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		store:   store,
		ttl:     ttl,
		timeout: timeout,
		logger:  logger,
	}
}

// Publish stores payload for spec. It returns false if spec is not mirrored.
func (p *Publisher) Publish(ctx context.Context, spec request.Spec, payload []byte) (bool, error) {
	if spec.IsPrivate() {
		return false, nil
	}
	ttl := p.ttl(spec.CacheClass())
	if ttl <= 0 {
		return false, nil
	}

	key := Key(spec.CacheClass(), spec.Fingerprint())
	if err := p.store.Set(ctx, key, payload, ttl).Err(); err != nil {
		return false, fmt.Errorf("mirror %s: %w", key, err)
	}
	return true, nil
}

// Hook returns a function suitable for queue.WithResultHook. Failures are
// logged and otherwise ignored.
func (p *Publisher) Hook() func(spec request.Spec, payload []byte) {
	return func(spec request.Spec, payload []byte) {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()

		if _, err := p.Publish(ctx, spec, payload); err != nil {
			p.logger.Warn("mirror publish failed", "route", spec.Route(), "error", err)
		}
	}
}

package cacheinfra

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"github.com/goliatone/go-entity-cache/store"
)

// RedisConfig holds the connection settings for the distributed tier.
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	KeyPrefix    string
}

// DefaultRedisConfig returns a RedisConfig with sensible defaults.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		KeyPrefix:    "entitycache",
	}
}

// Validate checks the configuration values.
func (c RedisConfig) Validate() error {
	if c.Addr == "" {
		return &ConfigError{Field: "Addr", Message: "must not be empty"}
	}
	return nil
}

// TransportError wraps a distributed-tier transport failure. Callers that
// need to distinguish "the cache is unreachable" from other failures match
// on it with errors.As; the tier manager treats every one as a miss.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("cacheinfra: redis %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// RedisTier is the distributed row cache. Rows are stored as msgpack
// envelopes under a prefixed key with the entity type's TTL. Transport
// failures surface as errors here; the tier manager downgrades them to
// misses so the system stays correct with redis entirely unavailable.
type RedisTier struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewRedisTier connects a distributed tier. The connection is verified
// with a bounded ping so misconfiguration fails at startup, not on the
// first lookup.
func NewRedisTier(cfg RedisConfig, logger *zap.Logger) (*RedisTier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, errors.Wrap(err, "cacheinfra: redis ping failed")
	}

	return &RedisTier{
		client: client,
		prefix: cfg.KeyPrefix,
		logger: logger,
	}, nil
}

func (t *RedisTier) fullKey(key string) string {
	if t.prefix == "" {
		return key
	}
	return fmt.Sprintf("%s:%s", t.prefix, key)
}

// Get returns the row stored under key. Absence and expiry both report a
// miss. A stored value that no longer decodes is dropped and reported as
// a miss so a poisoned entry cannot wedge a key.
func (t *RedisTier) Get(ctx context.Context, key string) (store.Row, bool, error) {
	data, err := t.client.Get(ctx, t.fullKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, &TransportError{Op: "get", Err: err}
	}

	var row store.Row
	if err := msgpack.Unmarshal(data, &row); err != nil {
		t.logger.Warn("dropping undecodable cache entry",
			zap.String("key", key), zap.Error(err))
		t.client.Del(ctx, t.fullKey(key))
		return nil, false, nil
	}
	return row, true, nil
}

// Set stores a row under key for the given TTL.
func (t *RedisTier) Set(ctx context.Context, key string, row store.Row, ttl time.Duration) error {
	data, err := msgpack.Marshal(row)
	if err != nil {
		return errors.Wrap(err, "cacheinfra: encode row")
	}
	if err := t.client.Set(ctx, t.fullKey(key), data, ttl).Err(); err != nil {
		return &TransportError{Op: "set", Err: err}
	}
	return nil
}

// Delete removes the entry for key. Deleting an absent key is a no-op.
func (t *RedisTier) Delete(ctx context.Context, key string) error {
	if err := t.client.Del(ctx, t.fullKey(key)).Err(); err != nil {
		return &TransportError{Op: "delete", Err: err}
	}
	return nil
}

// Close releases the underlying client.
func (t *RedisTier) Close() error {
	return t.client.Close()
}

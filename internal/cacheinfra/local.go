// Package cacheinfra adapts third-party cache backends to the tier
// interfaces the cache package consumes: sturdyc for the process-local tier
// and redis for the distributed tier.
package cacheinfra

import (
	"time"

	"github.com/viccon/sturdyc"

	"github.com/goliatone/go-entity-cache/store"
)

// LocalConfig holds the configuration for the sturdyc-backed local tier.
type LocalConfig struct {
	// Capacity is the maximum number of raw rows the tier can hold.
	// Must be greater than 0.
	Capacity int

	// NumShards determines the number of cache shards for concurrent
	// access. Reads and writes are independent per shard, so there is no
	// single lock over the tier. Must be greater than 0.
	NumShards int

	// TTL is the process-local retention for cached rows. The local tier
	// is always used, including for entity types whose distributed TTL
	// is zero. Must be greater than 0.
	TTL time.Duration

	// EvictionPercentage specifies what percentage of entries to evict
	// when the tier reaches capacity. Must be between 1-100.
	EvictionPercentage int

	// EvictionInterval sets how often the tier checks for expired
	// entries. Zero uses the sturdyc default.
	EvictionInterval time.Duration
}

// DefaultLocalConfig returns a LocalConfig with sensible defaults.
func DefaultLocalConfig() LocalConfig {
	return LocalConfig{
		Capacity:           10000,
		NumShards:          256,
		TTL:                5 * time.Minute,
		EvictionPercentage: 10,
	}
}

// Validate checks the configuration values.
func (c LocalConfig) Validate() error {
	if c.Capacity <= 0 {
		return &ConfigError{Field: "Capacity", Message: "must be greater than 0"}
	}
	if c.NumShards <= 0 {
		return &ConfigError{Field: "NumShards", Message: "must be greater than 0"}
	}
	if c.TTL <= 0 {
		return &ConfigError{Field: "TTL", Message: "must be greater than 0"}
	}
	if c.EvictionPercentage < 1 || c.EvictionPercentage > 100 {
		return &ConfigError{Field: "EvictionPercentage", Message: "must be between 1 and 100"}
	}
	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "config error in field " + e.Field + ": " + e.Message
}

// LocalTier is the process-local row cache backed by a sharded sturdyc
// client. Raw rows stored here are treated as immutable; the tier manager
// copies on read before handing rows to the lifecycle layer.
type LocalTier struct {
	client *sturdyc.Client[store.Row]
}

// NewLocalTier validates the configuration and initializes the sturdyc
// client with the provided settings.
func NewLocalTier(cfg LocalConfig) (*LocalTier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var options []sturdyc.Option
	if cfg.EvictionInterval > 0 {
		options = append(options, sturdyc.WithEvictionInterval(cfg.EvictionInterval))
	}

	client := sturdyc.New[store.Row](
		cfg.Capacity,
		cfg.NumShards,
		cfg.TTL,
		cfg.EvictionPercentage,
		options...,
	)

	return &LocalTier{client: client}, nil
}

// Get returns the cached row for key, if present and unexpired.
func (t *LocalTier) Get(key string) (store.Row, bool) {
	return t.client.Get(key)
}

// Set stores a row under key.
func (t *LocalTier) Set(key string, row store.Row) {
	t.client.Set(key, row)
}

// Delete removes the entry for key. Deleting an absent key is a no-op.
func (t *LocalTier) Delete(key string) {
	t.client.Delete(key)
}

// Size reports the number of cached entries.
func (t *LocalTier) Size() int {
	return t.client.Size()
}

package cache

import (
	"time"

	"go.uber.org/zap"

	"github.com/goliatone/go-entity-cache/internal/cacheinfra"
)

// Config exposes cache configuration options for consumers of the cache
// package.
type Config struct {
	// Local configures the process-local tier.
	Local LocalConfig
	// Redis configures the distributed tier. Nil disables it entirely;
	// the manager then runs local-plus-loader.
	Redis *RedisConfig
	// RemoteTimeout bounds every distributed-tier call. Zero uses
	// DefaultRemoteTimeout.
	RemoteTimeout time.Duration
}

// LocalConfig mirrors the underlying sturdyc tier options.
type LocalConfig struct {
	Capacity           int
	NumShards          int
	TTL                time.Duration
	EvictionPercentage int
	EvictionInterval   time.Duration
}

// RedisConfig mirrors the distributed tier connection options.
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

// DefaultConfig returns a Config populated with sensible defaults and the
// distributed tier disabled.
func DefaultConfig() Config {
	return Config{
		Local:         localFromInternal(cacheinfra.DefaultLocalConfig()),
		RemoteTimeout: DefaultRemoteTimeout,
	}
}

// Validate checks whether the configuration values are valid.
func (c Config) Validate() error {
	if err := c.Local.toInternal().Validate(); err != nil {
		return err
	}
	if c.Redis != nil {
		return c.Redis.toInternal().Validate()
	}
	return nil
}

// NewTierManagerFromConfig constructs the default tier stack: a sturdyc
// local tier and, when configured, a redis distributed tier.
func NewTierManagerFromConfig(cfg Config, logger *zap.Logger) (*TierManager, error) {
	local, err := cacheinfra.NewLocalTier(cfg.Local.toInternal())
	if err != nil {
		return nil, err
	}

	var remote DistributedTier
	if cfg.Redis != nil {
		rt, err := cacheinfra.NewRedisTier(cfg.Redis.toInternal(), logger)
		if err != nil {
			return nil, err
		}
		remote = rt
	}

	return NewTierManager(local, remote, cfg.RemoteTimeout, logger), nil
}

func (c LocalConfig) toInternal() cacheinfra.LocalConfig {
	return cacheinfra.LocalConfig{
		Capacity:           c.Capacity,
		NumShards:          c.NumShards,
		TTL:                c.TTL,
		EvictionPercentage: c.EvictionPercentage,
		EvictionInterval:   c.EvictionInterval,
	}
}

func localFromInternal(cfg cacheinfra.LocalConfig) LocalConfig {
	return LocalConfig{
		Capacity:           cfg.Capacity,
		NumShards:          cfg.NumShards,
		TTL:                cfg.TTL,
		EvictionPercentage: cfg.EvictionPercentage,
		EvictionInterval:   cfg.EvictionInterval,
	}
}

func (c *RedisConfig) toInternal() cacheinfra.RedisConfig {
	return cacheinfra.RedisConfig{
		Addr:         c.Addr,
		Password:     c.Password,
		DB:           c.DB,
		PoolSize:     c.PoolSize,
		MinIdleConns: c.MinIdleConns,
		DialTimeout:  c.DialTimeout,
		ReadTimeout:  c.ReadTimeout,
		WriteTimeout: c.WriteTimeout,
		KeyPrefix:    c.KeyPrefix,
	}
}

// Package di wires the entity cache stack together: schema registry, cache
// tiers, row store and lifecycle manager, each constructed once and shared.
package di

import (
	"database/sql"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/goliatone/go-entity-cache/cache"
	"github.com/goliatone/go-entity-cache/entity"
	"github.com/goliatone/go-entity-cache/schema"
	"github.com/goliatone/go-entity-cache/store"
)

// Config collects everything the container needs to assemble the stack.
type Config struct {
	// Cache configures the local and distributed tiers.
	Cache cache.Config
	// DB is the system-of-record connection. Required.
	DB *sql.DB
	// Dialect selects placeholder and upsert syntax for DB.
	Dialect store.Dialect
	// Authorizer gates saves. Nil allows everything.
	Authorizer entity.Authorizer
	// Logger may be nil to disable logging.
	Logger *zap.Logger
}

// Validate checks whether the configuration values are valid.
func (c Config) Validate() error {
	if c.DB == nil {
		return errors.New("di: config requires a database connection")
	}
	return c.Cache.Validate()
}

// Container provides dependency injection for the entity cache components.
// It manages singleton instances of the registry, the cache tiers, the row
// store and the lifecycle manager.
type Container struct {
	config   Config
	registry *schema.Registry
	tiers    *cache.TierManager
	rows     store.RowStore
	manager  *entity.Manager
}

// NewContainer creates a new DI container with the provided configuration.
// Schemas are registered against Registry() after construction; lookups
// for unregistered types fail until then.
func NewContainer(cfg Config) (*Container, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	tiers, err := cache.NewTierManagerFromConfig(cfg.Cache, logger)
	if err != nil {
		return nil, err
	}

	registry := schema.NewRegistry(logger)
	rows := store.NewSQLStore(cfg.DB, cfg.Dialect, logger)

	manager, err := entity.NewManager(entity.Config{
		Registry:   registry,
		Tiers:      tiers,
		Rows:       rows,
		Authorizer: cfg.Authorizer,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	return &Container{
		config:   cfg,
		registry: registry,
		tiers:    tiers,
		rows:     rows,
		manager:  manager,
	}, nil
}

// NewContainerWithDefaults creates a container with default cache settings
// and no distributed tier. This is the convenience constructor for typical
// single-process use.
func NewContainerWithDefaults(db *sql.DB, dialect store.Dialect) (*Container, error) {
	return NewContainer(Config{
		Cache:   cache.DefaultConfig(),
		DB:      db,
		Dialect: dialect,
	})
}

// Registry returns the singleton schema registry.
func (c *Container) Registry() *schema.Registry {
	return c.registry
}

// Tiers returns the singleton cache tier manager.
func (c *Container) Tiers() *cache.TierManager {
	return c.tiers
}

// Rows returns the singleton row store.
func (c *Container) Rows() store.RowStore {
	return c.rows
}

// Manager returns the singleton entity lifecycle manager.
func (c *Container) Manager() *entity.Manager {
	return c.manager
}

// Config returns a copy of the configuration used by this container.
func (c *Container) Config() Config {
	return c.config
}

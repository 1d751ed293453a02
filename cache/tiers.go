package cache

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/goliatone/go-entity-cache/store"
)

// Loader fetches the system-of-record row for a key on a full cache miss.
// It is the only tier allowed to fail the operation: (row, true, nil) on a
// hit, (nil, false, nil) when the row does not exist.
type Loader func(ctx context.Context) (store.Row, bool, error)

// LocalTier is the process-local cache layer.
type LocalTier interface {
	Get(key string) (store.Row, bool)
	Set(key string, row store.Row)
	Delete(key string)
}

// DistributedTier is the cross-process cache layer. Implementations report
// transport failures as errors; the tier manager downgrades those to
// misses, never to operation failures.
type DistributedTier interface {
	Get(ctx context.Context, key string) (store.Row, bool, error)
	Set(ctx context.Context, key string, row store.Row, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// TierManager is the single source of truth for where the current raw data
// of a row lives: process-local map, distributed cache, then the supplied
// loader, with read-through population and write-through invalidation.
//
// Cached rows are owned by the manager and immutable once stored; every
// row handed back to callers is a copy.
type TierManager struct {
	local   LocalTier
	remote  DistributedTier
	timeout time.Duration
	logger  *zap.Logger
}

// DefaultRemoteTimeout bounds distributed-tier calls when no explicit
// timeout is configured.
const DefaultRemoteTimeout = 250 * time.Millisecond

// NewTierManager wires the tiers together. The remote tier may be nil,
// which degrades the manager to local-plus-loader; a nil logger disables
// logging.
func NewTierManager(local LocalTier, remote DistributedTier, remoteTimeout time.Duration, logger *zap.Logger) *TierManager {
	if remoteTimeout <= 0 {
		remoteTimeout = DefaultRemoteTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TierManager{
		local:   local,
		remote:  remote,
		timeout: remoteTimeout,
		logger:  logger,
	}
}

// Get answers "where is the current raw data for this key", tier by tier.
// On a distributed hit the local tier is back-filled; on a loader hit both
// tiers are populated before returning, so a repeated Get within TTL never
// re-queries the store. A ttl of zero disables the distributed tier for
// this key (no-store policy); the local tier is still used. Distributed
// failures and timeouts degrade to misses. A row found nowhere returns
// absent, not an error.
func (m *TierManager) Get(ctx context.Context, key Key, ttl time.Duration, load Loader) (store.Row, bool, error) {
	k := string(key)

	if row, ok := m.local.Get(k); ok {
		m.logger.Debug("cache hit: local tier", zap.String("key", k))
		return row.Clone(), true, nil
	}

	if m.remote != nil && ttl > 0 {
		rctx, cancel := context.WithTimeout(ctx, m.timeout)
		row, ok, err := m.remote.Get(rctx, k)
		cancel()
		switch {
		case err != nil:
			m.logger.Warn("distributed tier read failed, treating as miss",
				zap.String("key", k), zap.Error(err))
		case ok:
			m.logger.Debug("cache hit: distributed tier", zap.String("key", k))
			m.local.Set(k, row)
			return row.Clone(), true, nil
		}
	}

	if load == nil {
		return nil, false, nil
	}
	row, found, err := load(ctx)
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}

	m.logger.Debug("cache miss: loaded from store", zap.String("key", k))
	m.backfill(ctx, k, row, ttl)
	return row.Clone(), true, nil
}

// Refresh bypasses both cache tiers, fetches straight from the loader and
// re-populates the tiers with the fresh row. A loader miss evicts the key.
func (m *TierManager) Refresh(ctx context.Context, key Key, ttl time.Duration, load Loader) (store.Row, bool, error) {
	row, found, err := load(ctx)
	if err != nil {
		return nil, false, err
	}
	if !found {
		m.Invalidate(ctx, key)
		return nil, false, nil
	}
	m.backfill(ctx, string(key), row, ttl)
	return row.Clone(), true, nil
}

// Invalidate deletes the key from both tiers. It is idempotent and never
// fails the caller: a distributed delete error is logged and swallowed,
// since the entry expires on its own TTL anyway.
func (m *TierManager) Invalidate(ctx context.Context, key Key) {
	k := string(key)
	m.local.Delete(k)

	if m.remote == nil {
		return
	}
	rctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	if err := m.remote.Delete(rctx, k); err != nil {
		m.logger.Warn("distributed tier invalidation failed",
			zap.String("key", k), zap.Error(err))
	}
}

func (m *TierManager) backfill(ctx context.Context, key string, row store.Row, ttl time.Duration) {
	if m.remote != nil && ttl > 0 {
		rctx, cancel := context.WithTimeout(ctx, m.timeout)
		if err := m.remote.Set(rctx, key, row, ttl); err != nil {
			m.logger.Warn("distributed tier population failed",
				zap.String("key", key), zap.Error(err))
		}
		cancel()
	}
	m.local.Set(key, row)
}

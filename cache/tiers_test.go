package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-entity-cache/store"
)

type fakeLocalTier struct {
	mu      sync.Mutex
	rows    map[string]store.Row
	gets    int
	sets    int
	deletes int
}

func newFakeLocalTier() *fakeLocalTier {
	return &fakeLocalTier{rows: make(map[string]store.Row)}
}

func (f *fakeLocalTier) Get(key string) (store.Row, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	row, ok := f.rows[key]
	return row, ok
}

func (f *fakeLocalTier) Set(key string, row store.Row) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sets++
	f.rows[key] = row
}

func (f *fakeLocalTier) Delete(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes++
	delete(f.rows, key)
}

type fakeDistributedTier struct {
	mu      sync.Mutex
	rows    map[string]store.Row
	getErr  error
	setErr  error
	delErr  error
	gets    int
	sets    int
	deletes int
	lastTTL time.Duration
}

func newFakeDistributedTier() *fakeDistributedTier {
	return &fakeDistributedTier{rows: make(map[string]store.Row)}
}

func (f *fakeDistributedTier) Get(_ context.Context, key string) (store.Row, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if f.getErr != nil {
		return nil, false, f.getErr
	}
	row, ok := f.rows[key]
	return row, ok, nil
}

func (f *fakeDistributedTier) Set(_ context.Context, key string, row store.Row, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sets++
	if f.setErr != nil {
		return f.setErr
	}
	f.rows[key] = row
	f.lastTTL = ttl
	return nil
}

func (f *fakeDistributedTier) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes++
	if f.delErr != nil {
		return f.delErr
	}
	delete(f.rows, key)
	return nil
}

func staticLoader(row store.Row) Loader {
	return func(context.Context) (store.Row, bool, error) {
		return row, true, nil
	}
}

func missLoader() Loader {
	return func(context.Context) (store.Row, bool, error) {
		return nil, false, nil
	}
}

func countingLoader(row store.Row, calls *int) Loader {
	return func(context.Context) (store.Row, bool, error) {
		*calls++
		return row, true, nil
	}
}

func TestTierManager_LoaderHitBackfillsBothTiers(t *testing.T) {
	local := newFakeLocalTier()
	remote := newFakeDistributedTier()
	mgr := NewTierManager(local, remote, 0, nil)

	key := Fingerprint("Account", NewPredicate().Eq("id", "1"))
	want := store.Row{"id": "1", "balance": int64(100)}

	row, found, err := mgr.Get(context.Background(), key, time.Minute, staticLoader(want))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !found {
		t.Fatal("expected a hit from the loader")
	}
	if row["balance"] != int64(100) {
		t.Errorf("unexpected row: %v", row)
	}

	if _, ok := local.rows[string(key)]; !ok {
		t.Error("expected local tier to be back-filled")
	}
	if _, ok := remote.rows[string(key)]; !ok {
		t.Error("expected distributed tier to be back-filled")
	}
	if remote.lastTTL != time.Minute {
		t.Errorf("expected distributed entry TTL of 1m, got %v", remote.lastTTL)
	}
}

func TestTierManager_RepeatedGetNeverReloadsWithinTTL(t *testing.T) {
	local := newFakeLocalTier()
	remote := newFakeDistributedTier()
	mgr := NewTierManager(local, remote, 0, nil)

	key := Fingerprint("Account", NewPredicate().Eq("id", "1"))
	calls := 0
	load := countingLoader(store.Row{"id": "1"}, &calls)

	for i := 0; i < 3; i++ {
		if _, found, err := mgr.Get(context.Background(), key, time.Minute, load); err != nil || !found {
			t.Fatalf("get %d: found=%v err=%v", i, found, err)
		}
	}
	if calls != 1 {
		t.Errorf("expected exactly one loader call, got %d", calls)
	}
}

func TestTierManager_ZeroTTLSkipsDistributedTier(t *testing.T) {
	local := newFakeLocalTier()
	remote := newFakeDistributedTier()
	mgr := NewTierManager(local, remote, 0, nil)

	key := Fingerprint("Session", NewPredicate().Eq("id", "s1"))

	_, found, err := mgr.Get(context.Background(), key, 0, staticLoader(store.Row{"id": "s1"}))
	if err != nil || !found {
		t.Fatalf("found=%v err=%v", found, err)
	}

	if remote.gets != 0 || remote.sets != 0 {
		t.Errorf("expected zero distributed calls, got gets=%d sets=%d", remote.gets, remote.sets)
	}
	if _, ok := local.rows[string(key)]; !ok {
		t.Error("expected the local tier to still be populated")
	}
}

func TestTierManager_DistributedHitBackfillsLocal(t *testing.T) {
	local := newFakeLocalTier()
	remote := newFakeDistributedTier()
	key := Fingerprint("Account", NewPredicate().Eq("id", "1"))
	remote.rows[string(key)] = store.Row{"id": "1", "balance": int64(7)}

	mgr := NewTierManager(local, remote, 0, nil)

	row, found, err := mgr.Get(context.Background(), key, time.Minute, missLoader())
	if err != nil || !found {
		t.Fatalf("found=%v err=%v", found, err)
	}
	if row["balance"] != int64(7) {
		t.Errorf("unexpected row: %v", row)
	}
	if _, ok := local.rows[string(key)]; !ok {
		t.Error("expected local tier back-fill on a distributed hit")
	}
}

func TestTierManager_DistributedFailureDegradesToMiss(t *testing.T) {
	local := newFakeLocalTier()
	remote := newFakeDistributedTier()
	remote.getErr = errors.New("connection refused")
	mgr := NewTierManager(local, remote, 0, nil)

	key := Fingerprint("Account", NewPredicate().Eq("id", "1"))
	want := store.Row{"id": "1"}

	row, found, err := mgr.Get(context.Background(), key, time.Minute, staticLoader(want))
	if err != nil {
		t.Fatalf("distributed failure must not fail the operation: %v", err)
	}
	if !found || row["id"] != "1" {
		t.Fatalf("expected loader fallthrough, got found=%v row=%v", found, row)
	}
	if _, ok := local.rows[string(key)]; !ok {
		t.Error("expected local tier to be populated despite the distributed failure")
	}
}

// stalledRemote never answers; every call blocks until its context is
// cancelled, standing in for a distributed tier that is up but not
// responding.
type stalledRemote struct{}

func (stalledRemote) Get(ctx context.Context, _ string) (store.Row, bool, error) {
	<-ctx.Done()
	return nil, false, ctx.Err()
}

func (stalledRemote) Set(ctx context.Context, _ string, _ store.Row, _ time.Duration) error {
	<-ctx.Done()
	return ctx.Err()
}

func (stalledRemote) Delete(ctx context.Context, _ string) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestTierManager_DistributedTimeoutDegradesToMiss(t *testing.T) {
	local := newFakeLocalTier()
	mgr := NewTierManager(local, stalledRemote{}, 10*time.Millisecond, nil)

	key := Fingerprint("Account", NewPredicate().Eq("id", "1"))
	want := store.Row{"id": "1"}

	start := time.Now()
	row, found, err := mgr.Get(context.Background(), key, time.Minute, staticLoader(want))
	if err != nil {
		t.Fatalf("a stalled distributed tier must not fail the operation: %v", err)
	}
	if !found || row["id"] != "1" {
		t.Fatalf("expected loader fallthrough, got found=%v row=%v", found, row)
	}
	// One bounded read plus one bounded back-fill attempt; the caller must
	// not wait on the stalled tier beyond those.
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("stalled tier was not bounded by the remote timeout: %v", elapsed)
	}
	if _, ok := local.rows[string(key)]; !ok {
		t.Error("expected local tier population despite the stalled distributed tier")
	}

	// Invalidation is bounded the same way and swallows the timeout.
	mgr.Invalidate(context.Background(), key)
	if _, ok := local.rows[string(key)]; ok {
		t.Error("expected local eviction despite the stalled distributed tier")
	}
}

func TestTierManager_NilRemoteDegradesToLocalPlusLoader(t *testing.T) {
	local := newFakeLocalTier()
	mgr := NewTierManager(local, nil, 0, nil)

	key := Fingerprint("Account", NewPredicate().Eq("id", "1"))

	_, found, err := mgr.Get(context.Background(), key, time.Minute, staticLoader(store.Row{"id": "1"}))
	if err != nil || !found {
		t.Fatalf("found=%v err=%v", found, err)
	}
	if _, ok := local.rows[string(key)]; !ok {
		t.Error("expected local tier population without a distributed tier")
	}

	// Invalidate must not panic without a remote tier.
	mgr.Invalidate(context.Background(), key)
	if _, ok := local.rows[string(key)]; ok {
		t.Error("expected the key to be evicted locally")
	}
}

func TestTierManager_LoaderMissIsAbsentNotError(t *testing.T) {
	mgr := NewTierManager(newFakeLocalTier(), newFakeDistributedTier(), 0, nil)

	key := Fingerprint("Account", NewPredicate().Eq("id", "ghost"))
	row, found, err := mgr.Get(context.Background(), key, time.Minute, missLoader())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found || row != nil {
		t.Errorf("expected absent, got found=%v row=%v", found, row)
	}
}

func TestTierManager_LoaderErrorPropagates(t *testing.T) {
	mgr := NewTierManager(newFakeLocalTier(), newFakeDistributedTier(), 0, nil)

	wantErr := errors.New("row store down")
	load := func(context.Context) (store.Row, bool, error) {
		return nil, false, wantErr
	}

	_, found, err := mgr.Get(context.Background(), Key("Account::x"), time.Minute, load)
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected loader error, got %v", err)
	}
	if found {
		t.Error("expected no hit on loader error")
	}
}

func TestTierManager_CopyOnRead(t *testing.T) {
	local := newFakeLocalTier()
	mgr := NewTierManager(local, nil, 0, nil)

	key := Fingerprint("Account", NewPredicate().Eq("id", "1"))
	load := staticLoader(store.Row{"id": "1", "balance": int64(100)})

	first, _, err := mgr.Get(context.Background(), key, time.Minute, load)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	first["balance"] = int64(-1)

	second, _, err := mgr.Get(context.Background(), key, time.Minute, load)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second["balance"] != int64(100) {
		t.Errorf("caller mutation leaked into the cache: %v", second)
	}
}

func TestTierManager_InvalidateRemovesBothTiers(t *testing.T) {
	local := newFakeLocalTier()
	remote := newFakeDistributedTier()
	mgr := NewTierManager(local, remote, 0, nil)

	key := Fingerprint("Account", NewPredicate().Eq("id", "1"))
	if _, _, err := mgr.Get(context.Background(), key, time.Minute, staticLoader(store.Row{"id": "1"})); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mgr.Invalidate(context.Background(), key)

	if _, ok := local.rows[string(key)]; ok {
		t.Error("expected local eviction")
	}
	if _, ok := remote.rows[string(key)]; ok {
		t.Error("expected distributed eviction")
	}
}

func TestTierManager_InvalidateSwallowsDistributedError(t *testing.T) {
	local := newFakeLocalTier()
	remote := newFakeDistributedTier()
	remote.delErr = errors.New("timeout")
	mgr := NewTierManager(local, remote, 0, nil)

	key := Fingerprint("Account", NewPredicate().Eq("id", "1"))
	local.Set(string(key), store.Row{"id": "1"})

	// Must not panic or surface the error; the entry expires on TTL.
	mgr.Invalidate(context.Background(), key)

	if _, ok := local.rows[string(key)]; ok {
		t.Error("local eviction must happen regardless of the distributed failure")
	}
}

func TestTierManager_RefreshBypassesTiers(t *testing.T) {
	local := newFakeLocalTier()
	remote := newFakeDistributedTier()
	mgr := NewTierManager(local, remote, 0, nil)

	key := Fingerprint("Account", NewPredicate().Eq("id", "1"))
	local.Set(string(key), store.Row{"id": "1", "balance": int64(1)})
	remote.rows[string(key)] = store.Row{"id": "1", "balance": int64(1)}

	fresh := store.Row{"id": "1", "balance": int64(2)}
	row, found, err := mgr.Refresh(context.Background(), key, time.Minute, staticLoader(fresh))
	if err != nil || !found {
		t.Fatalf("found=%v err=%v", found, err)
	}
	if row["balance"] != int64(2) {
		t.Errorf("expected the freshly loaded row, got %v", row)
	}
	if local.rows[string(key)]["balance"] != int64(2) {
		t.Error("expected the local tier to carry the fresh row")
	}
	if remote.rows[string(key)]["balance"] != int64(2) {
		t.Error("expected the distributed tier to carry the fresh row")
	}
}

func TestTierManager_RefreshMissEvicts(t *testing.T) {
	local := newFakeLocalTier()
	remote := newFakeDistributedTier()
	mgr := NewTierManager(local, remote, 0, nil)

	key := Fingerprint("Account", NewPredicate().Eq("id", "1"))
	local.Set(string(key), store.Row{"id": "1"})
	remote.rows[string(key)] = store.Row{"id": "1"}

	_, found, err := mgr.Refresh(context.Background(), key, time.Minute, missLoader())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found {
		t.Error("expected a miss for a row deleted underneath the cache")
	}
	if _, ok := local.rows[string(key)]; ok {
		t.Error("expected local eviction on refresh miss")
	}
	if _, ok := remote.rows[string(key)]; ok {
		t.Error("expected distributed eviction on refresh miss")
	}
}

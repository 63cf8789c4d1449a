package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"testing/synctest"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quaketrack/quaketrack/internal/markers"
	"github.com/quaketrack/quaketrack/internal/quake"
)

type entry struct {
	value    []byte
	deadline time.Time
}

// fakeRedis is an in-memory Client with key expiry.
type fakeRedis struct {
	mu     sync.Mutex
	data   map[string]entry
	sets   int
	failOn string
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: make(map[string]entry)}
}

func (f *fakeRedis) Set(_ context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn == "set" {
		return redis.NewStatusResult("", errors.New("connection refused"))
	}
	f.sets++
	e := entry{value: value.([]byte)}
	if expiration > 0 {
		e.deadline = time.Now().Add(expiration)
	}
	f.data[key] = e
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.data[key]
	if !ok || (!e.deadline.IsZero() && !time.Now().Before(e.deadline)) {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(string(e.value), nil)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := f.data[k]; ok {
			delete(f.data, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

type failCounter struct {
	mu sync.Mutex
	n  int
}

func (c *failCounter) StoreFailed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
}

func replaced(at time.Time, ttl time.Duration, events ...quake.Event) markers.Change {
	return markers.Change{Kind: markers.ChangeReplaced, Markers: events, At: at, ExpiresAt: at.Add(ttl)}
}

func TestApply_ReplacedThenLoad(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		rdb := newFakeRedis()
		m := New(rdb, "quakes", 28*time.Second)
		ctx := context.Background()

		now := time.Now()
		ev := quake.Event{ID: "us7000", Latitude: 34, Longitude: -118.2, Magnitude: 4.5}
		require.NoError(t, m.Apply(ctx, replaced(now, 28*time.Second, ev)))

		snap, err := m.Load(ctx)
		require.NoError(t, err)
		require.NotNil(t, snap)
		assert.Equal(t, []quake.Event{ev}, snap.Markers)
		assert.True(t, snap.ExpiresAt.Equal(now.Add(28*time.Second)))

		// The key expires together with the markers.
		time.Sleep(28 * time.Second)
		snap, err = m.Load(ctx)
		require.NoError(t, err)
		assert.Nil(t, snap)
	})
}

func TestApply_LateWriteUsesRemainingTTL(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		rdb := newFakeRedis()
		m := New(rdb, "quakes", 28*time.Second)
		ctx := context.Background()

		installed := time.Now()
		change := replaced(installed, 28*time.Second, quake.Event{ID: "a", Magnitude: 5})

		// The write lands 10s after the markers were installed.
		time.Sleep(10 * time.Second)
		require.NoError(t, m.Apply(ctx, change))

		rdb.mu.Lock()
		deadline := rdb.data["quakes"].deadline
		rdb.mu.Unlock()
		assert.True(t, deadline.Equal(change.ExpiresAt), "key deadline %v, want %v", deadline, change.ExpiresAt)

		time.Sleep(18 * time.Second)
		snap, err := m.Load(ctx)
		require.NoError(t, err)
		assert.Nil(t, snap, "key must expire with the markers")
	})
}

func TestApply_AlreadyExpiredSetIsNotWritten(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		rdb := newFakeRedis()
		m := New(rdb, "quakes", 28*time.Second)
		ctx := context.Background()

		require.NoError(t, m.Apply(ctx, replaced(time.Now(), 28*time.Second, quake.Event{ID: "old"})))
		stale := replaced(time.Now(), 5*time.Second, quake.Event{ID: "stale"})

		time.Sleep(6 * time.Second)
		require.NoError(t, m.Apply(ctx, stale))

		rdb.mu.Lock()
		sets := rdb.sets
		rdb.mu.Unlock()
		assert.Equal(t, 1, sets)

		snap, err := m.Load(ctx)
		require.NoError(t, err)
		assert.Nil(t, snap)
	})
}

func TestApply_ExpiredDeletesKey(t *testing.T) {
	rdb := newFakeRedis()
	m := New(rdb, "quakes", time.Minute)
	ctx := context.Background()

	require.NoError(t, m.Apply(ctx, replaced(time.Now(), time.Minute, quake.Event{ID: "a"})))
	require.NoError(t, m.Apply(ctx, markers.Change{Kind: markers.ChangeExpired, At: time.Now()}))

	snap, err := m.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestApply_Errors(t *testing.T) {
	rdb := newFakeRedis()
	rdb.failOn = "set"
	m := New(rdb, "quakes", time.Minute)

	err := m.Apply(context.Background(), replaced(time.Now(), time.Minute))
	assert.ErrorContains(t, err, "redis SET quakes")

	err = m.Apply(context.Background(), markers.Change{})
	assert.ErrorContains(t, err, "unknown change kind")
}

func TestLoad_CorruptValue(t *testing.T) {
	rdb := newFakeRedis()
	rdb.data["quakes"] = entry{value: []byte("not json")}
	m := New(rdb, "quakes", time.Minute)

	_, err := m.Load(context.Background())
	assert.ErrorContains(t, err, "decode quakes")
}

func TestRun_WritesLatestChange(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		rdb := newFakeRedis()
		m := New(rdb, "quakes", time.Minute)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		now := time.Now()
		// Queued before Run starts: only the last one is written.
		m.Handle(replaced(now, time.Minute, quake.Event{ID: "first"}))
		m.Handle(replaced(now, time.Minute, quake.Event{ID: "second"}))
		go m.Run(ctx)
		synctest.Wait()

		snap, err := m.Load(ctx)
		require.NoError(t, err)
		require.NotNil(t, snap)
		assert.Equal(t, "second", snap.Markers[0].ID)
		rdb.mu.Lock()
		assert.Equal(t, 1, rdb.sets)
		rdb.mu.Unlock()

		m.Handle(markers.Change{Kind: markers.ChangeExpired, At: now})
		synctest.Wait()
		snap, err = m.Load(ctx)
		require.NoError(t, err)
		assert.Nil(t, snap)
	})
}

func TestRun_CountsFailures(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		rdb := newFakeRedis()
		rdb.failOn = "set"
		obs := &failCounter{}
		m := New(rdb, "quakes", time.Minute, WithObserver(obs))
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go m.Run(ctx)

		m.Handle(replaced(time.Now(), time.Minute, quake.Event{ID: "a"}))
		synctest.Wait()

		obs.mu.Lock()
		defer obs.mu.Unlock()
		assert.Equal(t, 1, obs.n)
	})
}

func TestMirrorFollowsManager(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		rdb := newFakeRedis()
		mgr := markers.New(10 * time.Second)
		defer mgr.Close()
		m := New(rdb, "quakes", mgr.TTL())
		mgr.Subscribe(m.Handle)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go m.Run(ctx)

		mgr.OnFetchSuccess([]quake.Event{{ID: "a", Magnitude: 2}})
		synctest.Wait()
		snap, err := m.Load(ctx)
		require.NoError(t, err)
		require.NotNil(t, snap)
		assert.Len(t, snap.Markers, 1)

		time.Sleep(10 * time.Second)
		synctest.Wait()
		snap, err = m.Load(ctx)
		require.NoError(t, err)
		assert.Nil(t, snap)
	})
}

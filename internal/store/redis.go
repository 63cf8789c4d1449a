// Package store mirrors the displayed marker set into Redis so that other
// processes can read it. The key expires with the same TTL as the markers.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/quaketrack/quaketrack/internal/markers"
	"github.com/quaketrack/quaketrack/internal/quake"
)

// Client is the subset of redis.Cmdable the mirror uses.
type Client interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Observer counts failed writes. metrics.Collector implements it.
type Observer interface {
	StoreFailed()
}

type nopObserver struct{}

func (nopObserver) StoreFailed() {}

// Snapshot is the stored value.
type Snapshot struct {
	Markers   []quake.Event `json:"markers"`
	UpdatedAt time.Time     `json:"updatedAt"`
	ExpiresAt time.Time     `json:"expiresAt"`
}

// Mirror writes the latest marker change to Redis from its own goroutine;
// Handle never blocks the caller. Only the most recent pending change is
// written.
type Mirror struct {
	rdb      Client
	key      string
	ttl      time.Duration
	log      zerolog.Logger
	observer Observer
	timeout  time.Duration

	mu      sync.Mutex
	pending *markers.Change
	wake    chan struct{}
}

type Option func(*Mirror)

func WithLogger(l zerolog.Logger) Option {
	return func(m *Mirror) { m.log = l }
}

func WithObserver(o Observer) Option {
	return func(m *Mirror) {
		if o != nil {
			m.observer = o
		}
	}
}

// Dial connects to addr and checks it with PING.
func Dial(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

// New creates a mirror writing to key with the given TTL.
func New(rdb Client, key string, ttl time.Duration, opts ...Option) *Mirror {
	m := &Mirror{
		rdb:      rdb,
		key:      key,
		ttl:      ttl,
		log:      zerolog.Nop(),
		observer: nopObserver{},
		timeout:  5 * time.Second,
		wake:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Handle queues c for writing. It is meant to be passed to
// markers.Manager.Subscribe.
func (m *Mirror) Handle(c markers.Change) {
	m.mu.Lock()
	m.pending = &c
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Run writes queued changes until ctx is cancelled.
func (m *Mirror) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.wake:
		}

		m.mu.Lock()
		c := m.pending
		m.pending = nil
		m.mu.Unlock()
		if c == nil {
			continue
		}

		wctx, cancel := context.WithTimeout(ctx, m.timeout)
		err := m.Apply(wctx, *c)
		cancel()
		if err != nil {
			m.observer.StoreFailed()
			m.log.Warn().Err(err).Str("key", m.key).Msg("Redis mirror write failed")
		}
	}
}

// Apply writes c synchronously. A replaced set is stored with the time left
// until its ExpiresAt at the moment of the write, so a late write never
// outlives the markers. A set that has already expired, and an expired
// change, delete the key.
func (m *Mirror) Apply(ctx context.Context, c markers.Change) error {
	switch c.Kind {
	case markers.ChangeExpired:
		return m.del(ctx)
	case markers.ChangeReplaced:
		ttl := m.ttl
		if !c.ExpiresAt.IsZero() {
			ttl = time.Until(c.ExpiresAt)
		}
		if ttl <= 0 {
			return m.del(ctx)
		}
		data, err := json.Marshal(Snapshot{Markers: c.Markers, UpdatedAt: c.At, ExpiresAt: c.ExpiresAt})
		if err != nil {
			return err
		}
		if err := m.rdb.Set(ctx, m.key, data, ttl).Err(); err != nil {
			return fmt.Errorf("redis SET %s: %w", m.key, err)
		}
		return nil
	default:
		return fmt.Errorf("unknown change kind %d", c.Kind)
	}
}

func (m *Mirror) del(ctx context.Context) error {
	if err := m.rdb.Del(ctx, m.key).Err(); err != nil {
		return fmt.Errorf("redis DEL %s: %w", m.key, err)
	}
	return nil
}

// Load reads the mirrored snapshot. A missing or expired key yields
// (nil, nil).
func (m *Mirror) Load(ctx context.Context) (*Snapshot, error) {
	data, err := m.rdb.Get(ctx, m.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis GET %s: %w", m.key, err)
	}
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode %s: %w", m.key, err)
	}
	return &s, nil
}

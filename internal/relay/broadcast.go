package relay

import (
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// ErrTooManyConnections is returned by AddClient when the limit is reached.
var ErrTooManyConnections = errors.New("too many websocket connections")

const writeWait = 10 * time.Second

type client struct {
	conn *websocket.Conn
	b    *Broadcaster
	send chan []byte
	zoom atomic.Int64
	once sync.Once
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			c.b.RemoveClient(c)
			return
		}
	}
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// SnapshotFunc renders the current view state at zoom.
type SnapshotFunc func(zoom int) SnapshotPayload

// Broadcaster pushes snapshots to WebSocket clients. Notify coalesces bursts
// of changes into one push per throttle window; every client receives the
// layout at its own zoom.
type Broadcaster struct {
	mu       sync.RWMutex
	clients  map[*client]bool
	snapshot SnapshotFunc
	zoom     int
	maxConns int
	throttle time.Duration
	log      zerolog.Logger

	flushMu    sync.Mutex
	flushTimer *time.Timer
	stopped    bool

	snapshotTicker *time.Ticker
	done           chan struct{}
	stopOnce       sync.Once
}

// NewBroadcaster creates a broadcaster. New clients start at zoom. A
// snapshotInterval above zero also re-sends a full snapshot periodically.
// maxConns of zero means unlimited.
func NewBroadcaster(snapshot SnapshotFunc, zoom int, throttle, snapshotInterval time.Duration, maxConns int, log zerolog.Logger) *Broadcaster {
	b := &Broadcaster{
		clients:  make(map[*client]bool),
		snapshot: snapshot,
		zoom:     zoom,
		maxConns: maxConns,
		throttle: throttle,
		log:      log,
		done:     make(chan struct{}),
	}
	if snapshotInterval > 0 {
		b.snapshotTicker = time.NewTicker(snapshotInterval)
		go b.snapshotLoop()
	}
	return b
}

func (b *Broadcaster) AddClient(conn *websocket.Conn) (*client, error) {
	c := &client{
		conn: conn,
		b:    b,
		send: make(chan []byte, 64),
	}
	c.zoom.Store(int64(b.zoom))

	b.mu.Lock()
	if b.maxConns > 0 && len(b.clients) >= b.maxConns {
		b.mu.Unlock()
		return nil, ErrTooManyConnections
	}
	b.clients[c] = true
	b.mu.Unlock()

	go c.writePump()
	b.sendTo(c, b.zoom)
	return c, nil
}

func (b *Broadcaster) RemoveClient(c *client) {
	b.mu.Lock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		c.close()
	}
	b.mu.Unlock()
}

// SetZoom changes the zoom a client is rendered at and sends it a fresh
// snapshot.
func (b *Broadcaster) SetZoom(c *client, zoom int) {
	c.zoom.Store(int64(zoom))
	b.sendTo(c, zoom)
}

// Notify schedules a push of the current state to every client.
func (b *Broadcaster) Notify() {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	if b.stopped || b.flushTimer != nil {
		return
	}
	b.flushTimer = time.AfterFunc(b.throttle, b.flush)
}

func (b *Broadcaster) flush() {
	b.flushMu.Lock()
	b.flushTimer = nil
	stopped := b.stopped
	b.flushMu.Unlock()

	if !stopped {
		b.broadcastSnapshot()
	}
}

func (b *Broadcaster) snapshotLoop() {
	for {
		select {
		case <-b.done:
			return
		case <-b.snapshotTicker.C:
			b.broadcastSnapshot()
		}
	}
}

// broadcastSnapshot renders once per distinct client zoom.
func (b *Broadcaster) broadcastSnapshot() {
	byZoom := make(map[int][]*client)
	b.mu.RLock()
	for c := range b.clients {
		z := int(c.zoom.Load())
		byZoom[z] = append(byZoom[z], c)
	}
	b.mu.RUnlock()

	for zoom, clients := range byZoom {
		data, err := json.Marshal(WSMessage{Type: MsgSnapshot, Payload: b.snapshot(zoom)})
		if err != nil {
			b.log.Error().Err(err).Msg("Broadcast marshal error")
			continue
		}
		for _, c := range clients {
			b.deliver(c, data)
		}
	}
}

func (b *Broadcaster) sendTo(c *client, zoom int) {
	data, err := json.Marshal(WSMessage{Type: MsgSnapshot, Payload: b.snapshot(zoom)})
	if err != nil {
		b.log.Error().Err(err).Msg("Snapshot marshal error")
		return
	}
	b.deliver(c, data)
}

func (b *Broadcaster) sendError(c *client, msg string) {
	data, err := json.Marshal(WSMessage{Type: MsgError, Payload: ErrorPayload{Message: msg}})
	if err != nil {
		return
	}
	b.deliver(c, data)
}

func (b *Broadcaster) deliver(c *client, data []byte) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.clients[c] {
		return
	}
	select {
	case c.send <- data:
	default:
		// Client can't keep up, disconnect it
		b.log.Warn().Msg("WebSocket client too slow, disconnecting")
		go b.RemoveClient(c)
	}
}

func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Stop cancels pending pushes and disconnects every client.
func (b *Broadcaster) Stop() {
	b.stopOnce.Do(func() {
		b.flushMu.Lock()
		b.stopped = true
		if b.flushTimer != nil {
			b.flushTimer.Stop()
			b.flushTimer = nil
		}
		b.flushMu.Unlock()

		if b.snapshotTicker != nil {
			b.snapshotTicker.Stop()
		}
		close(b.done)

		b.mu.Lock()
		for c := range b.clients {
			delete(b.clients, c)
			c.close()
		}
		b.mu.Unlock()
	})
}

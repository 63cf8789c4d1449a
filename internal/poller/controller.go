// Package poller drives the fetch loop: an immediate fetch on Start, then one
// per interval, never more than one in flight.
package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/quaketrack/quaketrack/internal/fetch"
	"github.com/quaketrack/quaketrack/internal/quake"
)

var (
	ErrInvalidInterval = errors.New("poll interval must be > 0")
	ErrAlreadyRunning  = errors.New("controller already running")
	ErrNilFetcher      = errors.New("fetcher is nil")
)

// Fetcher performs one fetch. *fetch.Client satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context) ([]quake.Event, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context) ([]quake.Event, error)

func (f FetcherFunc) Fetch(ctx context.Context) ([]quake.Event, error) { return f(ctx) }

// Observer receives loop instrumentation. metrics.Collector implements it.
type Observer interface {
	FetchCompleted(result string, d time.Duration)
	TickSkipped()
}

type nopObserver struct{}

func (nopObserver) FetchCompleted(string, time.Duration) {}
func (nopObserver) TickSkipped()                         {}

type fetchResult struct {
	gen      uint64
	events   []quake.Event
	err      error
	duration time.Duration
}

// Controller owns the FetchState. All transitions happen on a single loop
// goroutine; fetches run on their own goroutine and post results back, and
// the loop re-checks that a result is still current before applying it.
type Controller struct {
	log      zerolog.Logger
	observer Observer

	mu        sync.Mutex // protects everything below
	state     State
	subs      map[int]func(State)
	nextSub   int
	onSuccess func([]quake.Event)
	cancel    context.CancelFunc
	done      chan struct{}
	refresh   chan struct{}
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the controller's logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Controller) { c.log = l }
}

// WithObserver installs loop instrumentation.
func WithObserver(o Observer) Option {
	return func(c *Controller) {
		if o != nil {
			c.observer = o
		}
	}
}

// New creates an idle controller.
func New(opts ...Option) *Controller {
	c := &Controller{
		log:      zerolog.Nop(),
		observer: nopObserver{},
		subs:     make(map[int]func(State)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnSuccess registers the sink that receives every successful fetch result
// before the Success transition is published. Set it before Start.
func (c *Controller) OnSuccess(fn func([]quake.Event)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onSuccess = fn
}

// Subscribe registers fn to be called with every new State. fn runs on the
// loop goroutine and must not block or call Stop. The returned func removes
// the subscription.
func (c *Controller) Subscribe(fn func(State)) (cancel func()) {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

// State returns the current FetchState.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.clone()
}

// Running reports whether the loop is active.
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancel != nil
}

// Start fetches immediately and then every interval until Stop.
func (c *Controller) Start(interval time.Duration, f Fetcher) error {
	if interval <= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidInterval, interval)
	}
	if f == nil {
		return ErrNilFetcher
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	c.refresh = make(chan struct{}, 1)

	go c.run(ctx, interval, f, c.refresh, c.done)

	c.log.Info().Dur("interval", interval).Msg("Polling started")
	return nil
}

// Stop cancels the ticker and any in-flight fetch; a result that completes
// afterwards is discarded. Stop returns once the loop has exited. It is safe
// to call more than once.
func (c *Controller) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done

	c.mu.Lock()
	if c.done == done {
		c.cancel, c.done, c.refresh = nil, nil, nil
	}
	c.mu.Unlock()
	c.log.Info().Msg("Polling stopped")
}

// Refresh requests an immediate tick. Like a regular tick it is skipped
// while a fetch is in flight.
func (c *Controller) Refresh() {
	c.mu.Lock()
	ch := c.refresh
	c.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (c *Controller) run(ctx context.Context, interval time.Duration, f Fetcher, refresh <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Per-run channel: results from a previous run can never reach this loop.
	results := make(chan fetchResult)
	var gen uint64
	loading := false

	tick := func() {
		if loading {
			c.observer.TickSkipped()
			c.log.Debug().Msg("Tick skipped, fetch still in flight")
			return
		}
		loading = true
		gen++
		c.transition(func(s *State) {
			s.Phase = Loading
			s.Events, s.Kind, s.Err = nil, 0, nil
		})
		go c.fetch(ctx, f, gen, results)
	}

	tick()
	for {
		select {
		case <-ctx.Done():
			if loading {
				c.transition(func(s *State) { s.Phase = Idle })
			}
			return
		case <-ticker.C:
			tick()
		case <-refresh:
			tick()
		case r := <-results:
			if ctx.Err() != nil || r.gen != gen {
				c.log.Debug().Uint64("gen", r.gen).Msg("Discarding stale fetch result")
				continue
			}
			loading = false
			c.apply(r)
		}
	}
}

func (c *Controller) fetch(ctx context.Context, f Fetcher, gen uint64, results chan<- fetchResult) {
	start := time.Now()
	r := fetchResult{gen: gen}
	func() {
		defer func() {
			if p := recover(); p != nil {
				r.events, r.err = nil, &fetch.Error{Kind: fetch.KindNetwork, Err: fmt.Errorf("fetcher panic: %v", p)}
			}
		}()
		r.events, r.err = f.Fetch(ctx)
	}()
	r.duration = time.Since(start)

	select {
	case results <- r:
	case <-ctx.Done():
	}
}

func (c *Controller) apply(r fetchResult) {
	now := time.Now()

	if r.err != nil {
		kind, ok := fetch.KindOf(r.err)
		if !ok {
			kind = fetch.KindNetwork
		}
		c.observer.FetchCompleted(kind.String(), r.duration)
		c.log.Warn().Err(r.err).Str("kind", kind.String()).Msg("Fetch failed")
		c.transition(func(s *State) {
			s.Phase = Error
			s.Events = nil
			s.FetchedAt = now
			s.Kind = kind
			s.Err = r.err
			s.ConsecutiveFailures++
		})
		return
	}

	c.observer.FetchCompleted("success", r.duration)
	c.log.Debug().Int("events", len(r.events)).Dur("took", r.duration).Msg("Fetch succeeded")

	c.mu.Lock()
	sink := c.onSuccess
	c.mu.Unlock()
	if sink != nil {
		sink(quake.Clone(r.events))
	}

	c.transition(func(s *State) {
		s.Phase = Success
		s.Events = r.events
		s.FetchedAt = now
		s.Kind = 0
		s.Err = nil
		s.ConsecutiveFailures = 0
	})
}

// transition mutates the state under the lock and then notifies subscribers
// outside it.
func (c *Controller) transition(mutate func(*State)) {
	c.mu.Lock()
	mutate(&c.state)
	c.state.Seq++
	snap := c.state.clone()
	subs := make([]func(State), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.mu.Unlock()

	for _, fn := range subs {
		fn(snap.clone())
	}
}

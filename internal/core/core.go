// Package core wires the polling loop to the marker lifecycle from a
// Config. Both binaries build their pipeline through it.
package core

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/quaketrack/quaketrack/internal/config"
	"github.com/quaketrack/quaketrack/internal/fetch"
	"github.com/quaketrack/quaketrack/internal/markers"
	"github.com/quaketrack/quaketrack/internal/poller"
)

// Observer receives instrumentation from both halves of the pipeline.
// metrics.Collector implements it.
type Observer interface {
	poller.Observer
	markers.Observer
}

// Core owns a Controller whose successful fetches feed a marker Manager.
type Core struct {
	Controller *poller.Controller
	Markers    *markers.Manager

	fetcher  poller.Fetcher
	interval time.Duration
	log      zerolog.Logger
}

// Option configures a Core.
type Option func(*options)

type options struct {
	log      zerolog.Logger
	observer Observer
	fetcher  poller.Fetcher
}

// WithLogger sets the parent logger; components log with their own
// "component" field.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithObserver installs instrumentation on both components.
func WithObserver(obs Observer) Option {
	return func(o *options) { o.observer = obs }
}

// WithFetcher replaces the HTTP feed client.
func WithFetcher(f poller.Fetcher) Option {
	return func(o *options) { o.fetcher = f }
}

// New builds the pipeline described by cfg. Nothing runs until Start.
func New(cfg *config.Config, opts ...Option) *Core {
	o := options{log: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.fetcher == nil {
		o.fetcher = fetch.New(cfg.Feed.URL,
			fetch.WithTimeout(cfg.Feed.Timeout),
			fetch.WithMinMagnitude(cfg.Feed.MinMagnitude),
		)
	}

	var pollOpts []poller.Option
	var markerOpts []markers.Option
	pollOpts = append(pollOpts, poller.WithLogger(o.log.With().Str("component", "poller").Logger()))
	markerOpts = append(markerOpts, markers.WithLogger(o.log.With().Str("component", "markers").Logger()))
	if o.observer != nil {
		pollOpts = append(pollOpts, poller.WithObserver(o.observer))
		markerOpts = append(markerOpts, markers.WithObserver(o.observer))
	}

	c := &Core{
		Controller: poller.New(pollOpts...),
		Markers:    markers.New(cfg.Markers.TTL, markerOpts...),
		fetcher:    o.fetcher,
		interval:   cfg.Poll.Interval,
		log:        o.log,
	}
	c.Controller.OnSuccess(c.Markers.OnFetchSuccess)
	return c
}

// Start begins polling; the first fetch is immediate.
func (c *Core) Start() error {
	c.log.Info().
		Dur("interval", c.interval).
		Dur("ttl", c.Markers.TTL()).
		Msg("Starting earthquake feed")
	return c.Controller.Start(c.interval, c.fetcher)
}

// Stop halts polling and the expiry timer.
func (c *Core) Stop() {
	c.Controller.Stop()
	c.Markers.Close()
}

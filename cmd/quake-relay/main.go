package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/quaketrack/quaketrack/internal/cluster"
	"github.com/quaketrack/quaketrack/internal/config"
	"github.com/quaketrack/quaketrack/internal/core"
	"github.com/quaketrack/quaketrack/internal/logging"
	"github.com/quaketrack/quaketrack/internal/markers"
	"github.com/quaketrack/quaketrack/internal/metrics"
	"github.com/quaketrack/quaketrack/internal/mock"
	"github.com/quaketrack/quaketrack/internal/poller"
	"github.com/quaketrack/quaketrack/internal/relay"
	"github.com/quaketrack/quaketrack/internal/store"
)

func main() {
	configPath := flag.String("config", "quaketrack.yaml", "Path to config file")
	feedURL := flag.String("url", "", "Override feed URL")
	interval := flag.Duration("interval", 0, "Override poll interval")
	ttl := flag.Duration("ttl", 0, "Override marker TTL")
	minMag := flag.Float64("min-mag", -1, "Override minimum magnitude kept from each fetch")
	port := flag.Int("port", 0, "Override server port")
	mockMode := flag.Bool("mock", false, "Poll a local synthetic feed")
	flag.Parse()

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *feedURL != "" {
		cfg.Feed.URL = *feedURL
	}
	if *interval != 0 {
		cfg.Poll.Interval = *interval
	}
	if *ttl != 0 {
		cfg.Markers.TTL = *ttl
	}
	if *minMag >= 0 {
		cfg.Feed.MinMagnitude = *minMag
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	log, closer, err := logging.Setup(logging.Options{
		Level:   cfg.Log.Level,
		Console: os.Stderr,
		File:    cfg.Log.File,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open log: %v\n", err)
		os.Exit(1)
	}
	defer closer.Close()

	if err := run(cfg, *mockMode, log); err != nil {
		log.Error().Err(err).Msg("Relay stopped")
		closer.Close()
		os.Exit(1)
	}
}

func run(cfg *config.Config, mockMode bool, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if mockMode {
		log.Info().Msg("Starting in mock mode")
		gen := mock.NewGenerator(uint64(time.Now().UnixNano()),
			mock.WithLogger(log.With().Str("component", "mock").Logger()),
			mock.WithOutages(),
		)
		gen.Start(ctx)
		url, err := gen.Listen(ctx, "127.0.0.1:0")
		if err != nil {
			return fmt.Errorf("mock feed: %w", err)
		}
		cfg.Feed.URL = url
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.New(reg)

	c := core.New(cfg, core.WithLogger(log), core.WithObserver(collector))

	srv := relay.NewServer(c.Controller, c.Markers, relay.Options{
		Zoom:             cfg.Cluster.Zoom,
		Renderer:         cluster.Renderer{Radius: cfg.Cluster.RadiusPx},
		SnapshotInterval: 30 * time.Second,
		MaxConnections:   64,
		Gatherer:         reg,
		Logger:           log.With().Str("component", "relay").Logger(),
	})
	defer srv.Close()
	c.Controller.Subscribe(func(poller.State) { srv.Notify() })
	c.Markers.Subscribe(func(markers.Change) { srv.Notify() })

	if cfg.Redis.Addr != "" {
		startMirror(ctx, cfg, c.Markers, collector, log)
	}

	if err := c.Start(); err != nil {
		return err
	}
	defer c.Stop()

	return relay.ListenAndServe(ctx, cfg.Server.Addr(), srv.Handler(), log)
}

// startMirror connects to Redis and mirrors every marker change. A Redis
// outage at startup only disables the mirror.
func startMirror(ctx context.Context, cfg *config.Config, m *markers.Manager, obs store.Observer, log zerolog.Logger) {
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rdb, err := store.Dial(dialCtx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("Redis unavailable, mirror disabled")
		return
	}
	go func() {
		<-ctx.Done()
		rdb.Close()
	}()

	mirror := store.New(rdb, cfg.Redis.Key, cfg.Markers.TTL,
		store.WithLogger(log.With().Str("component", "store").Logger()),
		store.WithObserver(obs),
	)
	if snap, err := mirror.Load(dialCtx); err != nil {
		log.Warn().Err(err).Msg("Reading previous snapshot failed")
	} else if snap != nil {
		log.Info().
			Int("markers", len(snap.Markers)).
			Time("updatedAt", snap.UpdatedAt).
			Msg("Previous snapshot still live in Redis")
	}

	m.Subscribe(mirror.Handle)
	go mirror.Run(ctx)
	log.Info().Str("addr", cfg.Redis.Addr).Str("key", cfg.Redis.Key).Msg("Mirroring markers to Redis")
}

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/quaketrack/quaketrack/internal/cluster"
	"github.com/quaketrack/quaketrack/internal/config"
	"github.com/quaketrack/quaketrack/internal/core"
	"github.com/quaketrack/quaketrack/internal/logging"
	"github.com/quaketrack/quaketrack/internal/mock"
	"github.com/quaketrack/quaketrack/internal/tui/app"
)

const defaultLogFile = "quaketrack.log"

func main() {
	configPath := flag.String("config", "quaketrack.yaml", "Path to config file")
	feedURL := flag.String("url", "", "Override feed URL")
	interval := flag.Duration("interval", 0, "Override poll interval")
	ttl := flag.Duration("ttl", 0, "Override marker TTL")
	minMag := flag.Float64("min-mag", -1, "Override minimum magnitude kept from each fetch")
	zoom := flag.Int("zoom", -1, "Override initial zoom level")
	mockMode := flag.Bool("mock", false, "Poll a local synthetic feed")
	style := flag.String("style", "dark", "Popup style (dark, light, notty)")
	lat := flag.Float64("lat", 20, "Initial map center latitude")
	lon := flag.Float64("lon", 0, "Initial map center longitude")
	flag.Parse()

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
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
	if *zoom >= 0 {
		cfg.Cluster.Zoom = *zoom
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// The terminal belongs to the UI; logs only go to a file.
	if cfg.Log.File == "" {
		cfg.Log.File = defaultLogFile
	}
	log, closer, err := logging.Setup(logging.Options{Level: cfg.Log.Level, File: cfg.Log.File})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer closer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *mockMode {
		gen := mock.NewGenerator(uint64(time.Now().UnixNano()),
			mock.WithLogger(log.With().Str("component", "mock").Logger()),
			mock.WithOutages(),
		)
		gen.Start(ctx)
		url, err := gen.Listen(ctx, "127.0.0.1:0")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		cfg.Feed.URL = url
	}

	c := core.New(cfg, core.WithLogger(log))
	bridge := app.NewBridge(c.Controller, c.Markers)
	defer bridge.Close()

	if err := c.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer c.Stop()

	m := app.New(bridge, app.Config{
		Zoom:      cfg.Cluster.Zoom,
		Center:    cluster.LatLon{Latitude: *lat, Longitude: *lon},
		Radius:    cfg.Cluster.RadiusPx,
		TTL:       cfg.Markers.TTL,
		GlamStyle: *style,
	})
	p := tea.NewProgram(m, tea.WithAltScreen())

	if _, err := p.Run(); err != nil {
		log.Error().Err(err).Msg("TUI exited with error")
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

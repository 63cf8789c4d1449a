package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultFeedURL is the USGS summary feed of every event in the past day.
const DefaultFeedURL = "https://earthquake.usgs.gov/earthquakes/feed/v1.0/summary/all_day.geojson"

type Config struct {
	Feed    FeedConfig    `yaml:"feed"`
	Poll    PollConfig    `yaml:"poll"`
	Markers MarkersConfig `yaml:"markers"`
	Cluster ClusterConfig `yaml:"cluster"`
	Server  ServerConfig  `yaml:"server"`
	Redis   RedisConfig   `yaml:"redis"`
	Log     LogConfig     `yaml:"log"`
}

type FeedConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
	// MinMagnitude drops weaker events from every fetch; 0 keeps all.
	MinMagnitude float64 `yaml:"min_magnitude"`
}

type PollConfig struct {
	Interval time.Duration `yaml:"interval"`
}

type MarkersConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

type ClusterConfig struct {
	RadiusPx float64 `yaml:"radius_px"`
	Zoom     int     `yaml:"zoom"`
}

type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// RedisConfig enables the snapshot mirror when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Key      string `yaml:"key"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

func defaultConfig() *Config {
	return &Config{
		Feed: FeedConfig{
			URL:     DefaultFeedURL,
			Timeout: 10 * time.Second,
		},
		Poll: PollConfig{
			Interval: 30 * time.Second,
		},
		Markers: MarkersConfig{
			TTL: 28 * time.Second,
		},
		Cluster: ClusterConfig{
			RadiusPx: 60,
			Zoom:     2,
		},
		Server: ServerConfig{
			Port: 8080,
			Host: "127.0.0.1",
		},
		Redis: RedisConfig{
			Key: "quaketrack:markers",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Default returns the built-in configuration.
func Default() *Config {
	return defaultConfig()
}

// Load reads a YAML file over the defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault is Load, except a missing file yields the defaults.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return defaultConfig(), nil
	}
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return defaultConfig(), nil
	}
	return cfg, err
}

var (
	ErrFeedURL    = errors.New("feed.url must be an absolute http(s) URL")
	ErrInterval   = errors.New("poll.interval must be positive")
	ErrTTL        = errors.New("markers.ttl must be positive")
	ErrTimeout    = errors.New("feed.timeout must not be negative")
	ErrRadius     = errors.New("cluster.radius_px must be positive")
	ErrZoom       = errors.New("cluster.zoom must be within [0, 22]")
	ErrServerPort = errors.New("server.port must be within [1, 65535]")
	ErrRedisKey   = errors.New("redis.key must be set when redis.addr is")
	ErrMinMag     = errors.New("feed.min_magnitude must not be negative")
)

// Validate reports every invalid setting, joined.
func (c *Config) Validate() error {
	var errs []error
	if u, err := url.Parse(c.Feed.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, ErrFeedURL)
	}
	if c.Feed.Timeout < 0 {
		errs = append(errs, ErrTimeout)
	}
	if c.Feed.MinMagnitude < 0 {
		errs = append(errs, ErrMinMag)
	}
	if c.Poll.Interval <= 0 {
		errs = append(errs, ErrInterval)
	}
	if c.Markers.TTL <= 0 {
		errs = append(errs, ErrTTL)
	}
	if c.Cluster.RadiusPx <= 0 {
		errs = append(errs, ErrRadius)
	}
	if c.Cluster.Zoom < 0 || c.Cluster.Zoom > 22 {
		errs = append(errs, ErrZoom)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, ErrServerPort)
	}
	if c.Redis.Addr != "" && c.Redis.Key == "" {
		errs = append(errs, ErrRedisKey)
	}
	return errors.Join(errs...)
}

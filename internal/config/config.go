// Package config loads projectd configuration from a YAML file and
// PROJECTD_* environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/fyrsmithlabs/projectd/internal/logging"
	"github.com/fyrsmithlabs/projectd/internal/telemetry"
)

// Remote transports.
const (
	TransportHTTP   = "http"
	TransportNATS   = "nats"
	TransportMemory = "memory"
)

// Config holds the complete projectd configuration.
type Config struct {
	Server    ServerConfig     `koanf:"server"`
	Store     StoreConfig      `koanf:"store"`
	Sync      SyncConfig       `koanf:"sync"`
	Remote    RemoteConfig     `koanf:"remote"`
	NATS      NATSConfig       `koanf:"nats"`
	Cloud     CloudConfig      `koanf:"cloud"`
	Telemetry telemetry.Config `koanf:"telemetry"`
	Logging   logging.Config   `koanf:"logging"`
}

// ServerConfig configures the local HTTP surface.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// StoreConfig configures the local project table. An empty Path keeps the
// table in memory only.
type StoreConfig struct {
	Path string `koanf:"path"`
}

// SyncConfig configures the sync engine and the background scheduler.
type SyncConfig struct {
	// Interval between background passes. Zero disables the timer; passes
	// still run on request.
	Interval         Duration `koanf:"interval"`
	CallTimeout      Duration `koanf:"call_timeout"`
	MaxRetries       int      `koanf:"max_retries"`
	BreakerThreshold int      `koanf:"breaker_threshold"`
	BreakerReset     Duration `koanf:"breaker_reset"`
}

// RemoteConfig selects and configures the cloud remote.
type RemoteConfig struct {
	Transport string  `koanf:"transport"`
	URL       string  `koanf:"url"`
	Token     Secret  `koanf:"token"`
	RateLimit float64 `koanf:"rate_limit"`
	Burst     int     `koanf:"burst"`
}

// NATSConfig configures the NATS connection used by the nats transport and
// by sync pass events.
type NATSConfig struct {
	URL           string `koanf:"url"`
	SubjectPrefix string `koanf:"subject_prefix"`
	Events        bool   `koanf:"events"`
	EventsPrefix  string `koanf:"events_prefix"`
}

// CloudConfig configures `projectd cloud`, the reference remote.
type CloudConfig struct {
	Host  string `koanf:"host"`
	Port  int    `koanf:"port"`
	Token Secret `koanf:"token"`
	// ServeNATS also answers the NATS wire protocol on NATS.URL.
	ServeNATS bool `koanf:"serve_nats"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8787,
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Sync: SyncConfig{
			Interval:         Duration(5 * time.Minute),
			CallTimeout:      Duration(10 * time.Second),
			MaxRetries:       3,
			BreakerThreshold: 5,
			BreakerReset:     Duration(30 * time.Second),
		},
		Remote: RemoteConfig{
			Transport: TransportHTTP,
			URL:       "http://localhost:8788",
			RateLimit: 20,
			Burst:     10,
		},
		NATS: NATSConfig{
			URL:           "nats://127.0.0.1:4222",
			SubjectPrefix: "projectd.remote",
			EventsPrefix:  "projectd.sync",
		},
		Cloud: CloudConfig{
			Host: "localhost",
			Port: 8788,
		},
		Telemetry: *telemetry.NewDefaultConfig(),
		Logging:   *logging.NewDefaultConfig(),
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	if c.Cloud.Port < 0 || c.Cloud.Port > 65535 {
		errs = append(errs, fmt.Errorf("cloud.port out of range: %d", c.Cloud.Port))
	}
	if c.Sync.CallTimeout.Duration() <= 0 {
		errs = append(errs, errors.New("sync.call_timeout must be positive"))
	}
	if c.Sync.MaxRetries < 0 {
		errs = append(errs, errors.New("sync.max_retries cannot be negative"))
	}
	if c.Sync.BreakerThreshold < 0 {
		errs = append(errs, errors.New("sync.breaker_threshold cannot be negative"))
	}
	if c.Sync.BreakerThreshold > 0 && c.Sync.BreakerReset.Duration() <= 0 {
		errs = append(errs, errors.New("sync.breaker_reset must be positive when the breaker is enabled"))
	}

	switch c.Remote.Transport {
	case TransportHTTP:
		u, err := url.Parse(c.Remote.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("remote.url must be an http(s) URL, got %q", c.Remote.URL))
		}
	case TransportNATS:
		if c.NATS.URL == "" || c.NATS.SubjectPrefix == "" {
			errs = append(errs, errors.New("nats.url and nats.subject_prefix are required for the nats transport"))
		}
	case TransportMemory:
	default:
		errs = append(errs, fmt.Errorf("remote.transport must be http, nats or memory, got %q", c.Remote.Transport))
	}
	if c.NATS.Events && c.NATS.URL == "" {
		errs = append(errs, errors.New("nats.url is required when nats.events is enabled"))
	}

	if err := c.Telemetry.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("telemetry: %w", err))
	}
	if err := c.Logging.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("logging: %w", err))
	}
	return errors.Join(errs...)
}

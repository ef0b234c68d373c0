// Package config loads the playout configuration: a YAML file listing the
// streams to play plus API and logging settings, overridden from the
// environment.
package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zsiec/playout/internal/certs"
	"github.com/zsiec/playout/internal/playout"
	"github.com/zsiec/playout/internal/session"
	"github.com/zsiec/playout/internal/transport"
)

// Environment variables read by Load.
const (
	EnvConfig   = "PLAYOUT_CONFIG"
	EnvAPIAddr  = "API_ADDR"
	EnvDebug    = "DEBUG"
	EnvURL      = "PLAYOUT_URL"
	EnvLogLevel = "LOG_LEVEL"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("config: invalid")

// Config is the top-level configuration.
type Config struct {
	API      APIConfig      `yaml:"api"`
	Logging  LoggingConfig  `yaml:"logging"`
	Defaults StreamDefaults `yaml:"defaults"`
	Streams  []StreamConfig `yaml:"streams"`
}

type APIConfig struct {
	// Addr is the listen address of the status API. Empty disables it.
	Addr string `yaml:"addr"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// StreamDefaults apply to every stream that leaves the field unset.
type StreamDefaults struct {
	Framing            string        `yaml:"framing"`
	NegotiationTimeout time.Duration `yaml:"negotiation_timeout"`
	DialTimeout        time.Duration `yaml:"dial_timeout"`
	Queue              QueueConfig   `yaml:"queue"`
}

type QueueConfig struct {
	MaxPackets int `yaml:"max_packets"`
	MaxBytes   int `yaml:"max_bytes"`
}

// StreamConfig describes one stream to play.
type StreamConfig struct {
	ID           string       `yaml:"id"`
	URL          string       `yaml:"url"`
	Framing      string       `yaml:"framing"`
	Captions     bool         `yaml:"captions"`
	DisableAudio bool         `yaml:"disable_audio"`
	Queue        *QueueConfig `yaml:"queue"`
	// Fingerprint pins the server certificate (SHA-256, hex or base64).
	Fingerprint string `yaml:"fingerprint"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		API:     APIConfig{Addr: ":4444"},
		Logging: LoggingConfig{Level: "info"},
		Defaults: StreamDefaults{
			Framing:            string(session.FramingProtocol),
			NegotiationTimeout: session.DefaultNegotiationTimeout,
			DialTimeout:        10 * time.Second,
			Queue: QueueConfig{
				MaxPackets: playout.DefaultMaxPackets,
				MaxBytes:   playout.DefaultMaxBytes,
			},
		},
	}
}

// Load reads path (if non-empty), applies environment overrides and
// validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML on top of the defaults and validates it. Environment
// overrides are not applied.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.API.Addr = envOr(EnvAPIAddr, c.API.Addr)
	c.Logging.Level = envOr(EnvLogLevel, c.Logging.Level)
	if os.Getenv(EnvDebug) != "" {
		c.Logging.Level = "debug"
	}
	if u := os.Getenv(EnvURL); u != "" {
		c.Streams = append(c.Streams, StreamConfig{URL: u})
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Validate checks every field and returns the first problem found.
func (c *Config) Validate() error {
	if _, err := parseLevel(c.Logging.Level); err != nil {
		return err
	}
	if err := validFraming(c.Defaults.Framing); err != nil {
		return err
	}
	if c.Defaults.NegotiationTimeout < 0 {
		return fmt.Errorf("%w: negative negotiation_timeout %v", ErrInvalid, c.Defaults.NegotiationTimeout)
	}
	if c.Defaults.DialTimeout < 0 {
		return fmt.Errorf("%w: negative dial_timeout %v", ErrInvalid, c.Defaults.DialTimeout)
	}
	if err := c.Defaults.Queue.validate("defaults"); err != nil {
		return err
	}

	ids := make(map[string]bool)
	for i, s := range c.Streams {
		name := s.ID
		if name == "" {
			name = fmt.Sprintf("streams[%d]", i)
		}
		if s.ID != "" {
			if ids[s.ID] {
				return fmt.Errorf("%w: duplicate stream id %q", ErrInvalid, s.ID)
			}
			ids[s.ID] = true
		}
		if s.URL == "" {
			return fmt.Errorf("%w: %s: url is required", ErrInvalid, name)
		}
		u, err := url.Parse(s.URL)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalid, name, err)
		}
		switch u.Scheme {
		case "ws", "wss", "quic", "srt":
		default:
			return fmt.Errorf("%w: %s: unsupported scheme %q (want ws, wss, quic or srt)", ErrInvalid, name, u.Scheme)
		}
		if s.Framing != "" {
			if err := validFraming(s.Framing); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
		}
		if s.Queue != nil {
			if err := s.Queue.validate(name); err != nil {
				return err
			}
		}
		if s.Fingerprint != "" {
			if _, err := certs.ParseFingerprint(s.Fingerprint); err != nil {
				return fmt.Errorf("%w: %s: %v", ErrInvalid, name, err)
			}
		}
	}
	return nil
}

func (q QueueConfig) validate(name string) error {
	if q.MaxPackets < 0 || q.MaxBytes < 0 {
		return fmt.Errorf("%w: %s: queue bounds must be non-negative", ErrInvalid, name)
	}
	return nil
}

func validFraming(f string) error {
	switch session.Framing(f) {
	case session.FramingRaw, session.FramingProtocol:
		return nil
	}
	return fmt.Errorf("%w: framing %q (want raw or protocol)", ErrInvalid, f)
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("%w: log level %q", ErrInvalid, s)
}

// SlogLevel returns the configured log level.
func (c *Config) SlogLevel() slog.Level {
	level, _ := parseLevel(c.Logging.Level)
	return level
}

// Sessions converts the stream list to session configs with defaults
// filled in. Each stream gets its own dialer carrying its TLS settings.
func (c *Config) Sessions(log *slog.Logger) []session.Config {
	out := make([]session.Config, 0, len(c.Streams))
	for _, s := range c.Streams {
		framing := s.Framing
		if framing == "" {
			framing = c.Defaults.Framing
		}
		q := c.Defaults.Queue
		if s.Queue != nil {
			q = *s.Queue
		}
		out = append(out, session.Config{
			ID:                 s.ID,
			URL:                s.URL,
			Framing:            session.Framing(framing),
			Queue:              playout.QueueConfig{MaxPackets: q.MaxPackets, MaxBytes: q.MaxBytes},
			NegotiationTimeout: c.Defaults.NegotiationTimeout,
			Captions:           s.Captions,
			DisableAudio:       s.DisableAudio,
			Dial: transport.NewDialer(transport.DialOptions{
				TLSConfig: s.TLSConfig(),
				Timeout:   c.Defaults.DialTimeout,
				Logger:    log,
			}),
		})
	}
	return out
}

// TLSConfig returns the client TLS config for the stream. A fingerprint
// pins the server certificate; otherwise quic:// verifies against the
// system roots and the other schemes use the transport defaults (nil).
// Only QUIC negotiates the playout ALPN.
func (s StreamConfig) TLSConfig() *tls.Config {
	u, err := url.Parse(s.URL)
	if err != nil {
		return nil
	}
	quic := u.Scheme == "quic"
	if s.Fingerprint != "" {
		if fp, err := certs.ParseFingerprint(s.Fingerprint); err == nil {
			tc := certs.PinnedClientConfig(fp)
			if !quic {
				tc.NextProtos = nil
			}
			return tc
		}
	}
	if quic {
		return certs.ClientConfig()
	}
	return nil
}

package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Sink  SinkConfig  `yaml:"sink"`
	Feed  FeedConfig  `yaml:"feed"`
	Relay RelayConfig `yaml:"relay"`
	Sweep SweepConfig `yaml:"sweep"`
	Log   LogConfig   `yaml:"log"`
	Ops   OpsConfig   `yaml:"ops"`
	TLS   TLSConfig   `yaml:"tls"`
}

type SinkConfig struct {
	URL     string        `yaml:"url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

type FeedConfig struct {
	URL              string        `yaml:"url"`
	Username         string        `yaml:"username"`
	Password         string        `yaml:"password"`
	ReconnectInitial time.Duration `yaml:"reconnect_initial"`
	ReconnectMax     time.Duration `yaml:"reconnect_max"`
}

type RelayConfig struct {
	MonitorTypes   []string      `yaml:"monitor_types"`
	RoutingTag     string        `yaml:"routing_tag"`
	MaxPingTag     string        `yaml:"max_ping_tag"`
	DefaultMaxPing float64       `yaml:"default_max_ping"`
	StaleAfter     time.Duration `yaml:"stale_after"`
	Workers        int           `yaml:"workers"`
	QueueSize      int           `yaml:"queue_size"`
	RatePerSecond  float64       `yaml:"rate_per_second"`
	Burst          int           `yaml:"burst"`
}

type SweepConfig struct {
	Schedule string `yaml:"schedule"`
	Timezone string `yaml:"timezone"`
}

type LogConfig struct {
	Debug  bool   `yaml:"debug"`
	Format string `yaml:"format"`
}

type OpsConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

type TLSConfig struct {
	CAFile             string `yaml:"ca_file"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

// Default returns the configuration used when no file or variable overrides a
// setting.
func Default() Config {
	return Config{
		Sink: SinkConfig{
			Timeout: mustDuration(DefaultSinkTimeout),
		},
		Feed: FeedConfig{
			ReconnectInitial: mustDuration(DefaultReconnectInit),
			ReconnectMax:     mustDuration(DefaultReconnectMaxDur),
		},
		Relay: RelayConfig{
			MonitorTypes:   []string{"push", "http", "port", "gamedig"},
			RoutingTag:     DefaultRoutingTag,
			MaxPingTag:     DefaultMaxPingTag,
			DefaultMaxPing: DefaultMaxPing,
			StaleAfter:     mustDuration(DefaultStaleAfter),
			Workers:        DefaultWorkers,
			QueueSize:      DefaultQueueSize,
			RatePerSecond:  DefaultRate,
			Burst:          DefaultBurst,
		},
		Sweep: SweepConfig{
			Schedule: DefaultSweepSchedule,
			Timezone: DefaultTimezone,
		},
		Ops: OpsConfig{
			ListenAddr: DefaultListenAddr,
		},
	}
}

// Options controls where Resolve looks for settings.
type Options struct {
	// Path is an optional YAML file. When empty, BRIDGE_CONFIG is consulted,
	// then DefaultConfigPath if it exists.
	Path string
	// EnvFile is an optional dotenv file read with lower precedence than the
	// process environment.
	EnvFile string
	// Sources overrides the environment lookup chain (tests).
	Sources []Source
}

// Resolve builds the effective configuration: defaults, then the YAML file,
// then dotenv values, then process environment. The result is validated.
func Resolve(ctx context.Context, opts Options) (Config, error) {
	cfg := Default()

	path := opts.Path
	if path == "" {
		path = os.Getenv(envConfigPath)
	}
	if path == "" {
		if _, err := os.Stat(DefaultConfigPath); err == nil {
			path = DefaultConfigPath
		}
	}
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, err
		}
	}

	sources := opts.Sources
	if sources == nil {
		sources = []Source{EnvSource{}}
		if opts.EnvFile != "" {
			dotenv, err := ReadDotEnv(opts.EnvFile)
			if err != nil {
				return cfg, err
			}
			sources = append(sources, dotenv)
		}
	}
	if err := ApplySources(&cfg, sources...); err != nil {
		return cfg, err
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Load reads a YAML file on top of the defaults without consulting the
// environment or validating.
func Load(ctx context.Context, path string) (Config, error) {
	cfg := Default()
	if err := loadFile(path, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadFromEnv resolves configuration from BRIDGE_CONFIG, ./.env and the
// process environment.
func LoadFromEnv(ctx context.Context) (Config, error) {
	return Resolve(ctx, Options{EnvFile: DefaultEnvFile})
}

func loadFile(path string, cfg *Config) error {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("open config %q: %w", path, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("read config %q: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %q: %w", path, err)
	}
	return nil
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var errs []error
	require := func(value, key string) {
		if strings.TrimSpace(value) == "" {
			errs = append(errs, fmt.Errorf("%s is required", key))
		}
	}

	require(c.Sink.URL, KeySinkURL)
	require(c.Sink.Token, KeySinkToken)
	require(c.Feed.URL, KeyFeedURL)
	require(c.Feed.Username, KeyFeedUsername)
	require(c.Feed.Password, KeyFeedPassword)

	if c.Sink.URL != "" {
		if err := checkURL(c.Sink.URL, "http", "https"); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", KeySinkURL, err))
		}
	}
	if c.Feed.URL != "" {
		if err := checkURL(c.Feed.URL, "http", "https", "ws", "wss"); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", KeyFeedURL, err))
		}
	}
	if c.Sink.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive", KeySinkTimeout))
	}
	if c.Relay.StaleAfter < 0 {
		errs = append(errs, fmt.Errorf("%s must not be negative", KeyStaleAfter))
	}
	if len(c.Relay.MonitorTypes) == 0 {
		errs = append(errs, fmt.Errorf("%s must list at least one type", KeyMonitorTypes))
	}
	if c.Relay.DefaultMaxPing <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive", KeyDefaultMaxPing))
	}
	if strings.TrimSpace(c.Sweep.Schedule) == "" {
		errs = append(errs, fmt.Errorf("%s is required", KeySweepSchedule))
	}
	if _, err := c.Sweep.Location(); err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", KeySweepTimezone, err))
	}
	if c.Feed.ReconnectMax > 0 && c.Feed.ReconnectInitial > c.Feed.ReconnectMax {
		errs = append(errs, fmt.Errorf("%s must not exceed %s", KeyFeedReconnectInitial, KeyFeedReconnectMax))
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("%s must be text or json", KeyLogFormat))
	}

	return errors.Join(errs...)
}

// Location loads the sweep timezone.
func (s SweepConfig) Location() (*time.Location, error) {
	if s.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(s.Timezone)
}

// Redacted returns a copy safe to print.
func (c Config) Redacted() Config {
	out := c
	out.Relay.MonitorTypes = append([]string(nil), c.Relay.MonitorTypes...)
	if out.Sink.Token != "" {
		out.Sink.Token = redactedMarker
	}
	if out.Feed.Password != "" {
		out.Feed.Password = redactedMarker
	}
	return out
}

const redactedMarker = "REDACTED"

func checkURL(raw string, schemes ...string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Host == "" {
		return fmt.Errorf("missing host in %q", raw)
	}
	for _, s := range schemes {
		if strings.EqualFold(parsed.Scheme, s) {
			return nil
		}
	}
	return fmt.Errorf("unsupported scheme %q", parsed.Scheme)
}

func mustDuration(raw string) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil {
		panic(err)
	}
	return d
}

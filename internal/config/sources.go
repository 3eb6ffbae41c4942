package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Source supplies raw configuration values by key.
type Source interface {
	Lookup(key string) (string, bool)
}

// EnvSource reads the process environment. Empty values count as unset.
type EnvSource struct{}

func (EnvSource) Lookup(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return "", false
	}
	return value, true
}

// MapSource serves values from a map, e.g. a parsed dotenv file.
type MapSource map[string]string

func (m MapSource) Lookup(key string) (string, bool) {
	value, ok := m[key]
	if !ok || strings.TrimSpace(value) == "" {
		return "", false
	}
	return value, true
}

// ReadDotEnv parses a dotenv file without touching the process environment.
// A missing file yields an empty source.
func ReadDotEnv(path string) (MapSource, error) {
	values, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return MapSource{}, nil
		}
		return nil, fmt.Errorf("read env file %q: %w", path, err)
	}
	return MapSource(values), nil
}

type resolver struct {
	sources []Source
	errs    []error
}

func (r *resolver) lookup(keys ...string) (string, bool) {
	for _, src := range r.sources {
		for _, key := range keys {
			if value, ok := src.Lookup(key); ok {
				return strings.TrimSpace(value), true
			}
		}
	}
	return "", false
}

func (r *resolver) str(dst *string, keys ...string) {
	if v, ok := r.lookup(keys...); ok {
		*dst = v
	}
}

func (r *resolver) secret(dst *string, key string) {
	for _, src := range r.sources {
		if v, ok := src.Lookup(key); ok {
			*dst = v
			return
		}
	}
}

func (r *resolver) integer(dst *int, key string) {
	v, ok := r.lookup(key)
	if !ok {
		return
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: invalid integer %q", key, v))
		return
	}
	*dst = i
}

func (r *resolver) float(dst *float64, key string) {
	v, ok := r.lookup(key)
	if !ok {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: invalid number %q", key, v))
		return
	}
	*dst = f
}

func (r *resolver) boolean(dst *bool, key string) {
	v, ok := r.lookup(key)
	if !ok {
		return
	}
	b, err := parseBool(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = b
}

func (r *resolver) duration(dst *time.Duration, key string) {
	v, ok := r.lookup(key)
	if !ok {
		return
	}
	d, err := ParseDuration(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = d
}

func (r *resolver) list(dst *[]string, key string) {
	v, ok := r.lookup(key)
	if !ok {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dst = out
}

// ApplySources overlays values found in sources onto cfg. Earlier sources take
// precedence over later ones.
func ApplySources(cfg *Config, sources ...Source) error {
	r := &resolver{sources: sources}

	r.str(&cfg.Sink.URL, KeySinkURL)
	r.secret(&cfg.Sink.Token, KeySinkToken)
	r.duration(&cfg.Sink.Timeout, KeySinkTimeout)

	r.str(&cfg.Feed.URL, KeyFeedURL)
	r.str(&cfg.Feed.Username, KeyFeedUsername)
	r.secret(&cfg.Feed.Password, KeyFeedPassword)
	r.duration(&cfg.Feed.ReconnectInitial, KeyFeedReconnectInitial)
	r.duration(&cfg.Feed.ReconnectMax, KeyFeedReconnectMax)

	r.list(&cfg.Relay.MonitorTypes, KeyMonitorTypes)
	r.str(&cfg.Relay.RoutingTag, KeyRoutingTag)
	r.str(&cfg.Relay.MaxPingTag, KeyMaxPingTag)
	r.float(&cfg.Relay.DefaultMaxPing, KeyDefaultMaxPing)
	r.duration(&cfg.Relay.StaleAfter, KeyStaleAfter)
	r.integer(&cfg.Relay.Workers, KeyWorkers)
	r.integer(&cfg.Relay.QueueSize, KeyQueueSize)
	r.float(&cfg.Relay.RatePerSecond, KeyRate)
	r.integer(&cfg.Relay.Burst, KeyBurst)

	r.str(&cfg.Sweep.Schedule, KeySweepSchedule)
	r.str(&cfg.Sweep.Timezone, KeySweepTimezone, KeyTZ)

	r.boolean(&cfg.Log.Debug, KeyDebug)
	r.str(&cfg.Log.Format, KeyLogFormat)

	r.str(&cfg.Ops.ListenAddr, KeyListenAddr)

	r.str(&cfg.TLS.CAFile, KeyCAFile)
	r.boolean(&cfg.TLS.InsecureSkipVerify, KeyInsecureSkipVerify)

	return errors.Join(r.errs...)
}

// ParseDuration accepts Go duration strings and bare integers, the latter
// read as milliseconds.
func ParseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", raw)
	}
	return d, nil
}

// parseBool is lenient: any non-empty value other than an explicit false
// enables the flag, matching how DEBUG has always been read.
func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "0", "false", "no", "off":
		return false, nil
	case "":
		return false, fmt.Errorf("empty boolean")
	default:
		return true, nil
	}
}

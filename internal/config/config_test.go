package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
sink:
  url: https://status.example.com
  token: file-token
  timeout: 2s
feed:
  url: https://kuma.example.com
  username: bridge
  password: file-pass
relay:
  monitor_types: [http, push]
  stale_after: 45s
  default_max_ping: 1500
sweep:
  schedule: "30 */2 * * * *"
  timezone: Europe/Paris
ops:
  listen_addr: ":9400"
`

func writeSample(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bridge.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(context.Background(), writeSample(t))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Sink.URL != "https://status.example.com" || cfg.Sink.Timeout != 2*time.Second {
		t.Fatalf("unexpected sink: %+v", cfg.Sink)
	}
	if len(cfg.Relay.MonitorTypes) != 2 || cfg.Relay.MonitorTypes[1] != "push" {
		t.Fatalf("unexpected monitor types: %#v", cfg.Relay.MonitorTypes)
	}
	if cfg.Relay.StaleAfter != 45*time.Second {
		t.Fatalf("unexpected stale after: %s", cfg.Relay.StaleAfter)
	}
	// Unset keys keep their defaults.
	if cfg.Relay.Workers != DefaultWorkers || cfg.Relay.RoutingTag != DefaultRoutingTag {
		t.Fatalf("defaults not preserved: %+v", cfg.Relay)
	}
}

func TestResolveEnvOverridesFile(t *testing.T) {
	env := MapSource{
		KeySinkToken:    "env-token",
		KeyStaleAfter:   "10s",
		KeySinkTimeout:  "1500",
		KeyDebug:        "1",
		KeyMonitorTypes: "http, port ,",
	}

	cfg, err := Resolve(context.Background(), Options{Path: writeSample(t), Sources: []Source{env}})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cfg.Sink.Token != "env-token" {
		t.Fatalf("expected env token, got %q", cfg.Sink.Token)
	}
	if cfg.Feed.Password != "file-pass" {
		t.Fatalf("expected file password, got %q", cfg.Feed.Password)
	}
	if cfg.Relay.StaleAfter != 10*time.Second {
		t.Fatalf("expected 10s stale after, got %s", cfg.Relay.StaleAfter)
	}
	if cfg.Sink.Timeout != 1500*time.Millisecond {
		t.Fatalf("bare integers are milliseconds, got %s", cfg.Sink.Timeout)
	}
	if !cfg.Log.Debug {
		t.Fatalf("expected debug enabled")
	}
	if strings.Join(cfg.Relay.MonitorTypes, ",") != "http,port" {
		t.Fatalf("unexpected types %#v", cfg.Relay.MonitorTypes)
	}
}

func TestResolveSourcePrecedence(t *testing.T) {
	first := MapSource{KeySinkURL: "https://first.example.com"}
	second := MapSource{KeySinkURL: "https://second.example.com", KeySinkToken: "t", KeyFeedURL: "https://kuma", KeyFeedUsername: "u", KeyFeedPassword: "p"}

	cfg, err := Resolve(context.Background(), Options{Sources: []Source{first, second}})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cfg.Sink.URL != "https://first.example.com" {
		t.Fatalf("first source must win, got %s", cfg.Sink.URL)
	}
}

func TestResolveTimezoneFallsBackToTZ(t *testing.T) {
	src := MapSource{
		KeySinkURL: "https://s", KeySinkToken: "t", KeyFeedURL: "https://k", KeyFeedUsername: "u", KeyFeedPassword: "p",
		KeyTZ: "America/New_York",
	}
	cfg, err := Resolve(context.Background(), Options{Sources: []Source{src}})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cfg.Sweep.Timezone != "America/New_York" {
		t.Fatalf("expected TZ fallback, got %s", cfg.Sweep.Timezone)
	}
}

func TestResolveReportsAllMissingKeys(t *testing.T) {
	_, err := Resolve(context.Background(), Options{Sources: []Source{MapSource{}}})
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, key := range []string{KeySinkURL, KeySinkToken, KeyFeedURL, KeyFeedUsername, KeyFeedPassword} {
		if !strings.Contains(err.Error(), key) {
			t.Fatalf("expected %s in error %q", key, err)
		}
	}
}

func TestResolveRejectsMalformedValues(t *testing.T) {
	src := MapSource{KeyWorkers: "many", KeyStaleAfter: "soon"}
	_, err := Resolve(context.Background(), Options{Sources: []Source{src}})
	if err == nil {
		t.Fatalf("expected parse error")
	}
	if !strings.Contains(err.Error(), KeyWorkers) || !strings.Contains(err.Error(), KeyStaleAfter) {
		t.Fatalf("expected both keys in error, got %q", err)
	}
}

func TestResolveMissingExplicitFile(t *testing.T) {
	_, err := Resolve(context.Background(), Options{Path: filepath.Join(t.TempDir(), "absent.yaml"), Sources: []Source{MapSource{}}})
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.Sink.URL = "ftp://status"
	cfg.Sink.Token = "t"
	cfg.Feed.URL = "kuma.local"
	cfg.Feed.Username = "u"
	cfg.Feed.Password = "p"
	cfg.Sweep.Timezone = "Mars/Olympus"
	cfg.Log.Format = "xml"

	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected error")
	}
	for _, key := range []string{KeySinkURL, KeyFeedURL, KeySweepTimezone, KeyLogFormat} {
		if !strings.Contains(err.Error(), key) {
			t.Fatalf("expected %s in %q", key, err)
		}
	}
}

func TestReadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("KENER_URL=https://dotenv.example.com\nKUMA_USER=admin\n"), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}

	src, err := ReadDotEnv(path)
	if err != nil {
		t.Fatalf("ReadDotEnv: %v", err)
	}
	if v, ok := src.Lookup(KeySinkURL); !ok || v != "https://dotenv.example.com" {
		t.Fatalf("unexpected value %q", v)
	}

	missing, err := ReadDotEnv(filepath.Join(dir, "nope.env"))
	if err != nil || len(missing) != 0 {
		t.Fatalf("missing dotenv should be empty, got %v %v", missing, err)
	}
}

func TestLoadFromEnvUsesProcessEnvironment(t *testing.T) {
	t.Setenv(envConfigPath, writeSample(t))
	t.Setenv(KeySinkToken, "process-token")
	t.Setenv(KeySweepTimezone, "")
	t.Setenv(KeyTZ, "")
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := LoadFromEnv(context.Background())
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.Sink.Token != "process-token" {
		t.Fatalf("expected process env token, got %q", cfg.Sink.Token)
	}
	if cfg.Sweep.Timezone != "Europe/Paris" {
		t.Fatalf("expected file timezone, got %s", cfg.Sweep.Timezone)
	}
}

func TestRedacted(t *testing.T) {
	cfg := Default()
	cfg.Sink.Token = "secret"
	cfg.Feed.Password = "hunter2"
	red := cfg.Redacted()
	if red.Sink.Token != redactedMarker || red.Feed.Password != redactedMarker {
		t.Fatalf("secrets not redacted: %+v", red)
	}
	if cfg.Sink.Token != "secret" {
		t.Fatalf("Redacted must not mutate the receiver")
	}
}

func TestParseDuration(t *testing.T) {
	cases := map[string]time.Duration{
		"1000":  time.Second,
		"250ms": 250 * time.Millisecond,
		"2m":    2 * time.Minute,
	}
	for raw, want := range cases {
		got, err := ParseDuration(raw)
		if err != nil || got != want {
			t.Fatalf("ParseDuration(%q) = %s, %v; want %s", raw, got, err, want)
		}
	}
	if _, err := ParseDuration("later"); err == nil {
		t.Fatalf("expected error")
	}
}

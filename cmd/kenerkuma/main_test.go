package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/des-barres-dev/kenerkuma/internal/config"
	"github.com/des-barres-dev/kenerkuma/pkg/types"
)

func sources(sinkURL string) []config.Source {
	return []config.Source{config.MapSource{
		config.KeySinkURL:      sinkURL,
		config.KeySinkToken:    "tok-123",
		config.KeyFeedURL:      "https://kuma.example.com",
		config.KeyFeedUsername: "admin",
		config.KeyFeedPassword: "pw-456",
	}}
}

func TestSendPostsManualStatus(t *testing.T) {
	type request struct {
		auth   string
		status types.RelayedStatus
	}
	requests := make(chan request, 1)
	sink := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/status" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var status types.RelayedStatus
		if err := json.NewDecoder(r.Body).Decode(&status); err != nil {
			t.Errorf("decode: %v", err)
		}
		requests <- request{auth: r.Header.Get("Authorization"), status: status}
	}))
	defer sink.Close()

	var out bytes.Buffer
	now := time.Unix(1700000000, 0)
	err := send(context.Background(), []string{"--tag", "api", "--status", "degraded", "--latency", "812"}, cliDeps{
		Stdout:     &out,
		HTTPClient: sink.Client(),
		Sources:    sources(sink.URL),
		Now:        func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	req := <-requests
	if req.auth != "Bearer tok-123" {
		t.Fatalf("unexpected authorization %q", req.auth)
	}
	want := types.RelayedStatus{Status: types.StatusDegraded, Latency: 812, TimestampInSeconds: 1700000000, Tag: "api"}
	if req.status != want {
		t.Fatalf("sink got %+v, want %+v", req.status, want)
	}
	if !strings.Contains(out.String(), "api Updated status DEGRADED") {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestSendValidatesFlags(t *testing.T) {
	deps := cliDeps{Sources: sources("http://127.0.0.1:1"), Stdout: &bytes.Buffer{}}
	if err := send(context.Background(), []string{"--status", "UP"}, deps); err == nil {
		t.Fatalf("expected missing tag error")
	}
	if err := send(context.Background(), []string{"--tag", "x", "--status", "SIDEWAYS"}, deps); err == nil {
		t.Fatalf("expected invalid status error")
	}
}

func TestPrintConfigRedactsSecrets(t *testing.T) {
	var out bytes.Buffer
	if err := printConfig(context.Background(), nil, cliDeps{Stdout: &out, Sources: sources("https://kener.example.com")}); err != nil {
		t.Fatalf("printConfig: %v", err)
	}
	text := out.String()
	if strings.Contains(text, "tok-123") || strings.Contains(text, "pw-456") {
		t.Fatalf("secrets leaked:\n%s", text)
	}
	if !strings.Contains(text, "https://kener.example.com") {
		t.Fatalf("sink url missing:\n%s", text)
	}
}

func TestPrintConfigWritesReloadableFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.yaml")
	var out bytes.Buffer
	err := printConfig(context.Background(), []string{"--write", path}, cliDeps{Stdout: &out, Sources: sources("https://kener.example.com")})
	if err != nil {
		t.Fatalf("printConfig: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config not written: %v", err)
	}
	cfg, err := config.Load(context.Background(), path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if cfg.Sink.Token != "tok-123" || cfg.Feed.Password != "pw-456" {
		t.Fatalf("written config lost secrets: %+v", cfg.Sink)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("written config invalid: %v", err)
	}
}

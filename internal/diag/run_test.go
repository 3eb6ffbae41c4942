package diag

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/des-barres-dev/kenerkuma/internal/config"
)

// serveFeed answers one login and then publishes a two-monitor list.
func serveFeed(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		defer conn.CloseNow()
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		frames := []string{
			`0{"sid":"eio","upgrades":[],"pingInterval":25000,"pingTimeout":20000,"maxPayload":1000000}`,
			"", // expect 40
			`40{"sid":"sock"}`,
			"", // expect login
			`430[{"ok":true}]`,
			`42["monitorList",{"1":{"id":1,"name":"Web","type":"http","active":true,"tags":[]},"2":{"id":2,"name":"DB","type":"port","active":true,"tags":[]}}]`,
		}
		for _, frame := range frames {
			if frame == "" {
				if _, _, err := conn.Read(ctx); err != nil {
					return
				}
				continue
			}
			if err := conn.Write(ctx, websocket.MessageText, []byte(frame)); err != nil {
				return
			}
		}
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	})
}

func readBundle(t *testing.T, path string) map[string][]byte {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open bundle: %v", err)
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	defer gz.Close()
	tr := tar.NewReader(gz)
	files := map[string][]byte{}
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("read tar: %v", err)
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			t.Fatalf("read %s: %v", header.Name, err)
		}
		files[header.Name] = data
	}
	return files
}

func TestRunWritesReportAndBundle(t *testing.T) {
	var sinkAuth atomic.Value
	sink := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sinkAuth.Store(r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusMethodNotAllowed)
	}))
	defer sink.Close()
	feedServer := httptest.NewServer(serveFeed(t))
	defer feedServer.Close()
	metricsServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "# TYPE kenerkuma_ready gauge\nkenerkuma_ready 1\nkenerkuma_monitors_in_scope 2\nkenerkuma_dispatch_dropped_total 3\n")
	}))
	defer metricsServer.Close()

	output := filepath.Join(t.TempDir(), "out", "diag.tar.gz")
	var stdout bytes.Buffer
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	err := Run(context.Background(), []string{"--output", output, "--metrics-url", metricsServer.URL, "--timeout", "3s"}, Dependencies{
		Now:    func() time.Time { return fixed },
		Stdout: &stdout,
		Sources: []config.Source{config.MapSource{
			config.KeySinkURL:      sink.URL,
			config.KeySinkToken:    "s3cret",
			config.KeyFeedURL:      feedServer.URL,
			config.KeyFeedUsername: "admin",
			config.KeyFeedPassword: "hunter2",
		}},
	})
	if err != nil {
		t.Fatalf("Run: %v\n%s", err, stdout.String())
	}
	if got, _ := sinkAuth.Load().(string); got != "Bearer s3cret" {
		t.Fatalf("sink saw authorization %q", got)
	}

	var rep report
	if err := json.Unmarshal(stdout.Bytes(), &rep); err != nil {
		t.Fatalf("decode stdout report: %v", err)
	}
	if !rep.OK {
		t.Fatalf("expected ok report, got %+v", rep)
	}
	if rep.GeneratedAt != "2026-03-01T12:00:00Z" {
		t.Fatalf("generated_at = %q", rep.GeneratedAt)
	}
	if rep.Sink.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("sink status = %d", rep.Sink.StatusCode)
	}
	if !rep.Feed.Probe.Authenticated || rep.Feed.Probe.Monitors != 2 {
		t.Fatalf("unexpected probe %+v", rep.Feed.Probe)
	}
	if rep.Metrics == nil || rep.Metrics.Ready == nil || *rep.Metrics.Ready != 1 {
		t.Fatalf("metrics summary missing ready gauge: %+v", rep.Metrics)
	}
	if rep.Metrics.DispatchDropped == nil || *rep.Metrics.DispatchDropped != 3 {
		t.Fatalf("metrics summary missing dropped counter: %+v", rep.Metrics)
	}

	files := readBundle(t, output)
	for _, name := range []string{reportFileName, configFileName, metricsFileName} {
		if _, ok := files[name]; !ok {
			t.Fatalf("bundle missing %s (have %d files)", name, len(files))
		}
	}
	cfgText := string(files[configFileName])
	if strings.Contains(cfgText, "s3cret") || strings.Contains(cfgText, "hunter2") {
		t.Fatalf("bundle config leaks secrets:\n%s", cfgText)
	}
	if !strings.Contains(cfgText, "REDACTED") {
		t.Fatalf("bundle config not redacted:\n%s", cfgText)
	}
}

func TestRunReportsUnreachableFeed(t *testing.T) {
	sink := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer sink.Close()
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	var stdout bytes.Buffer
	err := Run(context.Background(), []string{"--timeout", "1s"}, Dependencies{
		Stdout: &stdout,
		Sources: []config.Source{config.MapSource{
			config.KeySinkURL:      sink.URL,
			config.KeySinkToken:    "tok",
			config.KeyFeedURL:      deadURL,
			config.KeyFeedUsername: "admin",
			config.KeyFeedPassword: "pw",
		}},
	})
	if !errors.Is(err, ErrChecksFailed) {
		t.Fatalf("expected ErrChecksFailed, got %v", err)
	}
	var rep report
	if err := json.Unmarshal(stdout.Bytes(), &rep); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if rep.OK || rep.Feed.Error == "" {
		t.Fatalf("expected feed error, got %+v", rep.Feed)
	}
	if rep.Sink.Error != "" {
		t.Fatalf("sink should be reachable: %+v", rep.Sink)
	}
}

func TestRunWarnsOnInvalidConfig(t *testing.T) {
	var stdout bytes.Buffer
	err := Run(context.Background(), nil, Dependencies{
		Stdout:  &stdout,
		Sources: []config.Source{config.MapSource{}},
	})
	if !errors.Is(err, ErrChecksFailed) {
		t.Fatalf("expected ErrChecksFailed, got %v", err)
	}
	var rep report
	if err := json.Unmarshal(stdout.Bytes(), &rep); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if len(rep.Warnings) == 0 || !strings.HasPrefix(rep.Warnings[0], "config:") {
		t.Fatalf("expected config warning, got %v", rep.Warnings)
	}
}

func TestSummarizeMetrics(t *testing.T) {
	data := []byte("kenerkuma_heartbeats_stored 4\nkenerkuma_ready nope\nother_metric 9\n")
	summary, warnings := summarizeMetrics(data, "http://127.0.0.1:9320/metrics")
	if summary.HeartbeatsStored == nil || *summary.HeartbeatsStored != 4 {
		t.Fatalf("heartbeats not parsed: %+v", summary)
	}
	if summary.Ready != nil {
		t.Fatalf("unparsable ready should stay unset")
	}
	if len(warnings) != 1 {
		t.Fatalf("expected one warning, got %v", warnings)
	}
}

package diag

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/des-barres-dev/kenerkuma/internal/certs"
	"github.com/des-barres-dev/kenerkuma/internal/config"
	"github.com/des-barres-dev/kenerkuma/internal/feed"
	"github.com/des-barres-dev/kenerkuma/internal/relay"
)

const (
	reportFileName  = "diagnostics/report.json"
	configFileName  = "config/bridge.yaml"
	metricsFileName = "observability/metrics.prom"
)

// ErrChecksFailed is returned after the report is written when the sink or
// the feed could not be reached.
var ErrChecksFailed = errors.New("diagnostics checks failed")

// Dependencies provides optional overrides for testing.
type Dependencies struct {
	Now        func() time.Time
	HTTPClient *http.Client
	Stdout     io.Writer
	Sources    []config.Source
}

// Run checks connectivity to both ends of the bridge and prints a JSON report.
// With --output the report is also packed into a tar.gz bundle together with
// the redacted configuration and a metrics snapshot.
func Run(ctx context.Context, args []string, deps Dependencies) error {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Stdout == nil {
		deps.Stdout = os.Stdout
	}

	fs := flag.NewFlagSet("diag", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to bridge configuration file")
	envFile := fs.String("env-file", config.DefaultEnvFile, "Dotenv file read below the process environment")
	timeout := fs.Duration("timeout", 5*time.Second, "Timeout applied to each check")
	outputPath := fs.String("output", "", "Optional path for a diagnostics tarball")
	metricsURL := fs.String("metrics-url", "", "Metrics endpoint of a running bridge to snapshot")
	if err := fs.Parse(args); err != nil {
		return err
	}

	now := deps.Now().UTC()
	rep := report{
		GeneratedAt: now.Format(time.RFC3339),
		ConfigPath:  *configPath,
		OutputPath:  *outputPath,
		Warnings:    make([]string, 0, 4),
		GoVersion:   runtime.Version(),
	}

	env := *envFile
	if _, err := os.Stat(env); err != nil {
		env = ""
	}
	cfg, err := config.Resolve(ctx, config.Options{Path: *configPath, EnvFile: env, Sources: deps.Sources})
	if err != nil {
		rep.Warnings = append(rep.Warnings, fmt.Sprintf("config: %v", err))
	}

	tlsConfig, err := certs.ClientTLSConfig(cfg.TLS.CAFile, cfg.TLS.InsecureSkipVerify)
	if err != nil {
		rep.Warnings = append(rep.Warnings, fmt.Sprintf("tls: %v", err))
		tlsConfig = nil
	}
	if cfg.TLS.CAFile != "" {
		if expiry, err := certs.BundleExpiry(cfg.TLS.CAFile); err != nil {
			rep.Warnings = append(rep.Warnings, fmt.Sprintf("ca bundle: %v", err))
		} else {
			rep.CABundle = &caSummary{Path: cfg.TLS.CAFile, NotAfter: expiry, Expired: !now.Before(expiry)}
		}
	}

	httpClient := deps.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Transport: &http.Transport{
			Proxy:           http.ProxyFromEnvironment,
			TLSClientConfig: tlsConfig,
		}}
	}

	rep.Sink = checkSink(ctx, cfg, httpClient, *timeout, deps.Now)
	rep.Feed = checkFeed(ctx, cfg, tlsConfig, *timeout)
	rep.TLS = checkPeers(ctx, cfg, tlsConfig, *timeout, &rep.Warnings)

	var metricsData []byte
	if *metricsURL != "" {
		scrapeCtx, cancel := context.WithTimeout(ctx, *timeout)
		metricsData, err = scrapeMetrics(scrapeCtx, httpClient, *metricsURL)
		cancel()
		if err != nil {
			rep.Warnings = append(rep.Warnings, fmt.Sprintf("metrics scrape failed: %v", err))
		} else {
			summary, warns := summarizeMetrics(metricsData, *metricsURL)
			rep.Metrics = summary
			rep.Warnings = append(rep.Warnings, warns...)
		}
	}

	rep.OK = rep.Sink.Error == "" && rep.Feed.Error == ""

	payload, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal diagnostics report: %w", err)
	}
	if _, err := fmt.Fprintln(deps.Stdout, string(payload)); err != nil {
		return fmt.Errorf("write report: %w", err)
	}

	if *outputPath != "" {
		if err := writeBundle(*outputPath, now, payload, cfg.Redacted(), metricsData); err != nil {
			return err
		}
	}

	if !rep.OK {
		return ErrChecksFailed
	}
	return nil
}

func checkSink(ctx context.Context, cfg config.Config, httpClient *http.Client, timeout time.Duration, now func() time.Time) sinkSummary {
	summary := sinkSummary{URL: cfg.Sink.URL}
	client, err := relay.NewClient(relay.Config{BaseURL: cfg.Sink.URL, Token: cfg.Sink.Token}, relay.Dependencies{HTTPClient: httpClient})
	if err != nil {
		summary.Error = err.Error()
		return summary
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	started := now()
	code, err := client.Ping(pingCtx)
	summary.Elapsed = now().Sub(started).String()
	summary.StatusCode = code
	if err != nil {
		summary.Error = err.Error()
	}
	return summary
}

func checkFeed(ctx context.Context, cfg config.Config, tlsConfig *tls.Config, timeout time.Duration) feedSummary {
	summary := feedSummary{URL: cfg.Feed.URL}
	client, err := feed.NewClient(feed.Config{
		URL:          cfg.Feed.URL,
		Username:     cfg.Feed.Username,
		Password:     cfg.Feed.Password,
		LoginTimeout: timeout,
		TLS:          tlsConfig,
	})
	if err != nil {
		summary.Error = err.Error()
		return summary
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	probe, err := client.Probe(probeCtx)
	summary.Probe = probe
	if err != nil {
		summary.Error = err.Error()
	}
	return summary
}

func checkPeers(ctx context.Context, cfg config.Config, tlsConfig *tls.Config, timeout time.Duration, warnings *[]string) map[string]certs.PeerInfo {
	peers := map[string]certs.PeerInfo{}
	for name, raw := range map[string]string{"sink": cfg.Sink.URL, "feed": cfg.Feed.URL} {
		if !strings.HasPrefix(raw, "https://") && !strings.HasPrefix(raw, "wss://") {
			continue
		}
		verifyCtx, cancel := context.WithTimeout(ctx, timeout)
		info, err := certs.VerifyEndpoint(verifyCtx, raw, tlsConfig)
		cancel()
		if err != nil {
			*warnings = append(*warnings, fmt.Sprintf("tls handshake with %s: %v", name, err))
			continue
		}
		peers[name] = info
	}
	if len(peers) == 0 {
		return nil
	}
	return peers
}

func writeBundle(path string, now time.Time, reportData []byte, cfg config.Config, metricsData []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("ensure output directory %q: %w", filepath.Dir(path), err)
	}
	outFile, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create diagnostics file %q: %w", path, err)
	}
	defer outFile.Close()

	gw := gzip.NewWriter(outFile)
	tw := tar.NewWriter(gw)

	cfgData, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := addBytes(tw, now, cfgData, configFileName); err != nil {
		return err
	}
	if len(metricsData) > 0 {
		if err := addBytes(tw, now, metricsData, metricsFileName); err != nil {
			return err
		}
	}
	if err := addBytes(tw, now, reportData, reportFileName); err != nil {
		return err
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("finalise tar: %w", err)
	}
	if err := gw.Close(); err != nil {
		return fmt.Errorf("finalise gzip: %w", err)
	}
	return outFile.Close()
}

func addBytes(tw *tar.Writer, modTime time.Time, data []byte, name string) error {
	header := &tar.Header{
		Name:    name,
		Mode:    0o600,
		Size:    int64(len(data)),
		ModTime: modTime,
	}
	if err := tw.WriteHeader(header); err != nil {
		return fmt.Errorf("write tar header for %q: %w", name, err)
	}
	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("write tar content for %q: %w", name, err)
	}
	return nil
}

func scrapeMetrics(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/plain")
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}

func summarizeMetrics(data []byte, url string) (*metricsSummary, []string) {
	summary := &metricsSummary{URL: url}
	var warnings []string
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		var dst **float64
		switch fields[0] {
		case "kenerkuma_ready":
			dst = &summary.Ready
		case "kenerkuma_monitors_in_scope":
			dst = &summary.MonitorsInScope
		case "kenerkuma_heartbeats_stored":
			dst = &summary.HeartbeatsStored
		case "kenerkuma_dispatch_dropped_total":
			dst = &summary.DispatchDropped
		default:
			continue
		}
		val, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("parse %s: %v", fields[0], err))
			continue
		}
		*dst = &val
	}
	return summary, warnings
}

type report struct {
	GeneratedAt string                    `json:"generated_at"`
	ConfigPath  string                    `json:"config_path,omitempty"`
	OutputPath  string                    `json:"output_path,omitempty"`
	OK          bool                      `json:"ok"`
	Sink        sinkSummary               `json:"sink"`
	Feed        feedSummary               `json:"feed"`
	TLS         map[string]certs.PeerInfo `json:"tls,omitempty"`
	CABundle    *caSummary                `json:"ca_bundle,omitempty"`
	Metrics     *metricsSummary           `json:"metrics,omitempty"`
	Warnings    []string                  `json:"warnings,omitempty"`
	GoVersion   string                    `json:"go_version"`
}

type sinkSummary struct {
	URL        string `json:"url"`
	StatusCode int    `json:"status_code,omitempty"`
	Elapsed    string `json:"elapsed,omitempty"`
	Error      string `json:"error,omitempty"`
}

type feedSummary struct {
	URL   string           `json:"url"`
	Probe feed.ProbeReport `json:"probe"`
	Error string           `json:"error,omitempty"`
}

type caSummary struct {
	Path     string    `json:"path"`
	NotAfter time.Time `json:"not_after"`
	Expired  bool      `json:"expired"`
}

type metricsSummary struct {
	URL              string   `json:"url"`
	Ready            *float64 `json:"ready,omitempty"`
	MonitorsInScope  *float64 `json:"monitors_in_scope,omitempty"`
	HeartbeatsStored *float64 `json:"heartbeats_stored,omitempty"`
	DispatchDropped  *float64 `json:"dispatch_dropped_total,omitempty"`
}

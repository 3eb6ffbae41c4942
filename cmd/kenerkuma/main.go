package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"

	"github.com/des-barres-dev/kenerkuma/internal/certs"
	"github.com/des-barres-dev/kenerkuma/internal/config"
	"github.com/des-barres-dev/kenerkuma/internal/diag"
	"github.com/des-barres-dev/kenerkuma/internal/logging"
	"github.com/des-barres-dev/kenerkuma/internal/relay"
	"github.com/des-barres-dev/kenerkuma/internal/runtime"
	"github.com/des-barres-dev/kenerkuma/internal/worker"
	"github.com/des-barres-dev/kenerkuma/pkg/types"
)

var version = "dev"

// cliDeps lets tests replace the process environment and network.
type cliDeps struct {
	Stdout     io.Writer
	HTTPClient *http.Client
	Sources    []config.Source
	Now        func() time.Time
}

func (d cliDeps) withDefaults() cliDeps {
	if d.Stdout == nil {
		d.Stdout = os.Stdout
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return d
}

func main() {
	ctx := context.Background()

	cmd := "run"
	args := []string{}
	if len(os.Args) >= 2 {
		cmd = os.Args[1]
		args = os.Args[2:]
	}
	if strings.HasPrefix(cmd, "-") && cmd != "-h" && cmd != "--help" {
		cmd, args = "run", os.Args[1:]
	}

	var err error
	switch cmd {
	case "run":
		err = run(ctx, args)
	case "diag":
		err = diag.Run(ctx, args, diag.Dependencies{})
	case "send":
		err = send(ctx, args, cliDeps{})
	case "config":
		err = printConfig(ctx, args, cliDeps{})
	case "version":
		fmt.Println(version)
		return
	case "-h", "--help", "help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "command %s failed: %v\n", cmd, err)
		os.Exit(1)
	}
}

func configFlags(fs *flag.FlagSet) (*string, *string) {
	configPath := fs.String("config", "", "Path to bridge configuration file (default $BRIDGE_CONFIG or "+config.DefaultConfigPath+")")
	envFile := fs.String("env-file", config.DefaultEnvFile, "Dotenv file read below the process environment")
	return configPath, envFile
}

func resolveConfig(ctx context.Context, path, envFile string, deps cliDeps) (config.Config, error) {
	cfg, err := config.Resolve(ctx, config.Options{Path: path, EnvFile: envFile, Sources: deps.Sources})
	if err != nil {
		return cfg, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath, envFile := configFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := resolveConfig(ctx, *configPath, *envFile, cliDeps{})
	if err != nil {
		return err
	}

	logger := logging.New(logging.Options{Debug: cfg.Log.Debug, Format: cfg.Log.Format})
	logger.Infof("bridge %s starting (feed=%s, sink=%s)", version, cfg.Feed.URL, cfg.Sink.URL)

	rt, err := runtime.New(cfg, runtime.WithLogger(logger))
	if err != nil {
		return err
	}

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rt.Start(runCtx)(); err != nil {
		return err
	}
	logger.Info("bridge stopped")
	return nil
}

// send relays one status by hand, bypassing the feed.
func send(ctx context.Context, args []string, deps cliDeps) error {
	deps = deps.withDefaults()
	fs := flag.NewFlagSet("send", flag.ContinueOnError)
	configPath, envFile := configFlags(fs)
	tag := fs.String("tag", "", "Sink monitor tag to update")
	statusFlag := fs.String("status", string(types.StatusUp), "UP, DEGRADED or DOWN")
	latency := fs.Float64("latency", 0, "Latency in milliseconds")
	timestamp := fs.Int64("timestamp", 0, "Unix seconds (default now)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*tag) == "" {
		return errors.New("--tag is required")
	}
	st, ok := types.ParseStatus(strings.ToUpper(*statusFlag))
	if !ok {
		return fmt.Errorf("invalid status %q", *statusFlag)
	}

	cfg, err := resolveConfig(ctx, *configPath, *envFile, deps)
	if err != nil {
		return err
	}

	httpClient := deps.HTTPClient
	if httpClient == nil {
		tlsConfig, err := certs.ClientTLSConfig(cfg.TLS.CAFile, cfg.TLS.InsecureSkipVerify)
		if err != nil {
			return err
		}
		httpClient = &http.Client{Transport: &http.Transport{
			Proxy:           http.ProxyFromEnvironment,
			TLSClientConfig: tlsConfig,
		}}
	}
	logger := logging.New(logging.Options{Debug: cfg.Log.Debug, Format: cfg.Log.Format, Output: os.Stderr})
	client, err := relay.NewClient(
		relay.Config{BaseURL: cfg.Sink.URL, Token: cfg.Sink.Token},
		relay.Dependencies{HTTPClient: httpClient, Logger: logger},
	)
	if err != nil {
		return err
	}

	ts := *timestamp
	if ts == 0 {
		ts = deps.Now().Unix()
	}
	payload := types.RelayedStatus{Status: st, Latency: *latency, TimestampInSeconds: ts, Tag: *tag}

	sendCtx, cancel := context.WithTimeout(ctx, cfg.Sink.Timeout)
	defer cancel()
	if err := client.Send(sendCtx, payload); err != nil {
		return err
	}
	logger.WithField("reason", worker.ReasonManual).Debugf("relayed %s for %s", st, *tag)
	fmt.Fprintf(deps.Stdout, "%s Updated status %s\n", *tag, st)
	return nil
}

// printConfig shows the effective configuration with secrets masked, or
// stores it unmasked with --write.
func printConfig(ctx context.Context, args []string, deps cliDeps) error {
	deps = deps.withDefaults()
	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	configPath, envFile := configFlags(fs)
	writePath := fs.String("write", "", "Write the effective configuration to this path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := resolveConfig(ctx, *configPath, *envFile, deps)
	if err != nil {
		return err
	}
	if *writePath != "" {
		if err := config.WriteFile(*writePath, cfg); err != nil {
			return err
		}
		fmt.Fprintf(deps.Stdout, "configuration written to %s\n", *writePath)
		return nil
	}

	data, err := yaml.Marshal(cfg.Redacted())
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	_, err = deps.Stdout.Write(data)
	return err
}

func printUsage() {
	fmt.Println("Uptime Kuma to Kener status bridge")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  kenerkuma [run] [--config path] [--env-file .env]")
	fmt.Println("  kenerkuma diag [--config path] [--timeout 5s] [--output file.tar.gz] [--metrics-url URL]")
	fmt.Println("  kenerkuma send --tag TAG [--status UP|DEGRADED|DOWN] [--latency ms] [--timestamp unix]")
	fmt.Println("  kenerkuma config [--config path] [--write path]")
	fmt.Println("  kenerkuma version")
}

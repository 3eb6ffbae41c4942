package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/des-barres-dev/kenerkuma/internal/bridge"
	"github.com/des-barres-dev/kenerkuma/internal/certs"
	"github.com/des-barres-dev/kenerkuma/internal/config"
	"github.com/des-barres-dev/kenerkuma/internal/events"
	"github.com/des-barres-dev/kenerkuma/internal/feed"
	"github.com/des-barres-dev/kenerkuma/internal/health"
	"github.com/des-barres-dev/kenerkuma/internal/logging"
	"github.com/des-barres-dev/kenerkuma/internal/metrics"
	"github.com/des-barres-dev/kenerkuma/internal/opsserver"
	"github.com/des-barres-dev/kenerkuma/internal/relay"
	"github.com/des-barres-dev/kenerkuma/internal/scheduler"
	"github.com/des-barres-dev/kenerkuma/internal/status"
	"github.com/des-barres-dev/kenerkuma/pkg/types"
)

const eventBuffer = 256

type Option func(*options)

type options struct {
	logger     logrus.FieldLogger
	sinkClient *http.Client
	feedClient *http.Client
	now        func() time.Time
}

func WithLogger(logger logrus.FieldLogger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithSinkHTTPClient overrides the client used for status deliveries.
func WithSinkHTTPClient(client *http.Client) Option {
	return func(o *options) {
		o.sinkClient = client
	}
}

// WithFeedHTTPClient overrides the client used to dial the feed websocket.
func WithFeedHTTPClient(client *http.Client) Option {
	return func(o *options) {
		o.feedClient = client
	}
}

func WithNow(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// Runtime owns every long-running component of the bridge.
type Runtime struct {
	logger     logrus.FieldLogger
	metrics    *metrics.Store
	health     *health.Checker
	dispatcher *relay.Dispatcher
	engine     *bridge.Engine
	feed       *feed.Client
	scheduler  *scheduler.Scheduler
	ops        *opsserver.Server

	events chan feed.Event
	ticks  chan time.Time
}

// New assembles the runtime from a validated configuration.
func New(cfg config.Config, opts ...Option) (*Runtime, error) {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logging.New(logging.Options{Debug: cfg.Log.Debug, Format: cfg.Log.Format})
	}

	tlsConfig, err := certs.ClientTLSConfig(cfg.TLS.CAFile, cfg.TLS.InsecureSkipVerify)
	if err != nil {
		return nil, err
	}
	if o.sinkClient == nil {
		o.sinkClient = &http.Client{Transport: &http.Transport{
			Proxy:           http.ProxyFromEnvironment,
			TLSClientConfig: tlsConfig,
		}}
	}

	store := metrics.NewStore()
	checker := health.NewChecker(store, 0, 0)
	if cfg.TLS.CAFile != "" {
		expiry, err := certs.BundleExpiry(cfg.TLS.CAFile)
		if err != nil {
			return nil, err
		}
		checker.SetCertExpiry(expiry)
	}
	recorder := events.NewMulti(store, checker)

	sink, err := relay.NewClient(
		relay.Config{BaseURL: cfg.Sink.URL, Token: cfg.Sink.Token},
		relay.Dependencies{HTTPClient: o.sinkClient, Logger: o.logger},
	)
	if err != nil {
		return nil, fmt.Errorf("sink client: %w", err)
	}
	dispatcher := relay.NewDispatcher(sink,
		relay.WithWorkers(cfg.Relay.Workers),
		relay.WithQueueSize(cfg.Relay.QueueSize),
		relay.WithTimeout(cfg.Sink.Timeout),
		relay.WithRate(cfg.Relay.RatePerSecond, cfg.Relay.Burst),
		relay.WithLogger(o.logger),
		relay.WithMetrics(store.DispatchRecorder()),
		relay.WithEvents(recorder),
		relay.WithNow(o.now),
	)

	relayable := make([]types.MonitorType, 0, len(cfg.Relay.MonitorTypes))
	for _, t := range cfg.Relay.MonitorTypes {
		relayable = append(relayable, types.NormalizeMonitorType(t))
	}
	engine := bridge.NewEngine(bridge.NewState(relayable...), dispatcher, bridge.Options{
		Resolver: status.Resolver{
			RoutingTag:     cfg.Relay.RoutingTag,
			MaxPingTag:     cfg.Relay.MaxPingTag,
			DefaultMaxPing: cfg.Relay.DefaultMaxPing,
		},
		StaleAfter: cfg.Relay.StaleAfter,
		Verbose:    cfg.Log.Debug,
		Logger:     o.logger,
		Events:     recorder,
		Metrics:    store.StateRecorder(),
		Now:        o.now,
	})

	feedClient, err := feed.NewClient(feed.Config{
		URL:              cfg.Feed.URL,
		Username:         cfg.Feed.Username,
		Password:         cfg.Feed.Password,
		ReconnectInitial: cfg.Feed.ReconnectInitial,
		ReconnectMax:     cfg.Feed.ReconnectMax,
		TLS:              tlsConfig,
	},
		feed.WithLogger(o.logger),
		feed.WithMessageObserver(store.ObserveFeedMessage),
		feed.WithHTTPClient(o.feedClient),
		feed.WithNow(o.now),
	)
	if err != nil {
		return nil, fmt.Errorf("feed client: %w", err)
	}

	loc, err := cfg.Sweep.Location()
	if err != nil {
		return nil, err
	}
	ticks := make(chan time.Time, 1)
	sched, err := scheduler.New(cfg.Sweep.Schedule, loc, ticks,
		scheduler.WithLogger(o.logger),
		scheduler.WithNow(o.now),
	)
	if err != nil {
		return nil, err
	}

	rt := &Runtime{
		logger:     logging.For(o.logger, logging.ComponentBridge),
		metrics:    store,
		health:     checker,
		dispatcher: dispatcher,
		engine:     engine,
		feed:       feedClient,
		scheduler:  sched,
		events:     make(chan feed.Event, eventBuffer),
		ticks:      ticks,
	}
	if cfg.Ops.ListenAddr != "" {
		rt.ops = opsserver.New(opsserver.Config{Addr: cfg.Ops.ListenAddr}, opsserver.Dependencies{
			Logger:   o.logger,
			Metrics:  store,
			Health:   checker,
			Monitors: engine,
			Now:      o.now,
		})
	}
	return rt, nil
}

// Start launches every component and returns a wait function. The wait
// function returns nil after ctx is cancelled, or the first component error
// otherwise. The bridge core never exits on its own; a rejected feed login
// surfaces here so the process can exit and leave restarts to its supervisor.
func (r *Runtime) Start(ctx context.Context) func() error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return quiet(gctx, r.dispatcher.Run(gctx)) })
	g.Go(func() error { return quiet(gctx, r.engine.Run(gctx, r.events, r.ticks)) })
	g.Go(func() error {
		r.scheduler.Start(gctx)
		return nil
	})
	g.Go(func() error {
		err := r.feed.Run(gctx, r.events)
		if err != nil && gctx.Err() == nil {
			r.logger.WithError(err).Error("monitor feed stopped")
			return fmt.Errorf("monitor feed: %w", err)
		}
		return nil
	})
	if r.ops != nil {
		g.Go(func() error { return quiet(gctx, r.ops.Run(gctx)) })
	}

	r.logger.WithField("feed", r.feed.Endpoint()).Info("bridge started")
	return func() error {
		err := g.Wait()
		if err != nil && errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return nil
		}
		return err
	}
}

func (r *Runtime) Metrics() *metrics.Store {
	return r.metrics
}

func (r *Runtime) Health() *health.Checker {
	return r.health
}

func (r *Runtime) Engine() *bridge.Engine {
	return r.engine
}

func quiet(ctx context.Context, err error) error {
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return nil
	}
	return err
}

package bridge

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/des-barres-dev/kenerkuma/internal/events"
	"github.com/des-barres-dev/kenerkuma/internal/feed"
	"github.com/des-barres-dev/kenerkuma/internal/heartbeat"
	"github.com/des-barres-dev/kenerkuma/internal/logging"
	"github.com/des-barres-dev/kenerkuma/internal/metrics"
	"github.com/des-barres-dev/kenerkuma/internal/status"
	"github.com/des-barres-dev/kenerkuma/internal/worker"
	"github.com/des-barres-dev/kenerkuma/pkg/types"
)

const defaultStaleAfter = 30 * time.Second

// Dispatcher accepts status deliveries without blocking.
type Dispatcher interface {
	Dispatch(job worker.Job) error
}

// Options tunes an Engine. Zero values select defaults.
type Options struct {
	Resolver   status.Resolver
	StaleAfter time.Duration
	// Verbose logs every received heartbeat and uptime signal at info level.
	Verbose bool
	Logger  logrus.FieldLogger
	Events  events.Recorder
	Metrics metrics.StateRecorder
	Now     func() time.Time
}

// Engine applies feed events and sweep ticks to State, one at a time, and
// hands resulting statuses to the Dispatcher.
type Engine struct {
	state      *State
	dispatcher Dispatcher
	resolver   status.Resolver
	staleAfter time.Duration
	verbose    bool
	logger     logrus.FieldLogger
	events     events.Recorder
	metrics    metrics.StateRecorder
	now        func() time.Time
	queries    chan chan []MonitorState
	inScope    int
}

func NewEngine(state *State, dispatcher Dispatcher, opts Options) *Engine {
	if state == nil {
		state = NewState()
	}
	e := &Engine{
		state:      state,
		dispatcher: dispatcher,
		resolver:   opts.Resolver,
		staleAfter: opts.StaleAfter,
		verbose:    opts.Verbose,
		logger:     opts.Logger,
		events:     opts.Events,
		metrics:    opts.Metrics,
		now:        opts.Now,
		queries:    make(chan chan []MonitorState),
	}
	e.resolver = e.resolver.WithDefaults()
	if e.staleAfter <= 0 {
		e.staleAfter = defaultStaleAfter
	}
	if e.logger == nil {
		e.logger = logging.Discard()
	}
	if e.events == nil {
		e.events = events.NoopRecorder{}
	}
	if e.metrics == nil {
		e.metrics = metrics.NoopStateRecorder{}
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// Run consumes feed events and sweep ticks until ctx is cancelled. It is the
// only goroutine that touches the engine's state.
func (e *Engine) Run(ctx context.Context, in <-chan feed.Event, ticks <-chan time.Time) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-in:
			if !ok {
				in = nil
				continue
			}
			e.Handle(ev)
		case ts, ok := <-ticks:
			if !ok {
				ticks = nil
				continue
			}
			e.Sweep(ts)
		case reply := <-e.queries:
			reply <- e.state.snapshot(e.resolver)
		}
	}
}

// Monitors asks the running loop for a view of every relayable monitor.
func (e *Engine) Monitors(ctx context.Context) ([]MonitorState, error) {
	reply := make(chan []MonitorState, 1)
	select {
	case e.queries <- reply:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case out := <-reply:
		return out, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Handle applies a single feed event.
func (e *Engine) Handle(ev feed.Event) {
	switch ev := ev.(type) {
	case feed.Connected:
		e.log(logging.ComponentFeed).WithField("sid", ev.SessionID).Info("Connected to the socket server")
		events.Emit(e.events, types.EventFeedConnected, "", ev.ReceivedAt(), nil)
	case feed.Authenticated:
		e.log(logging.ComponentFeed).Info("Logged In")
		events.Emit(e.events, types.EventAuthenticated, "", ev.ReceivedAt(), nil)
	case feed.AuthFailed:
		e.log(logging.ComponentFeed).WithError(ev.Err).Error("Login rejected")
		events.Emit(e.events, types.EventAuthFailed, "", ev.ReceivedAt(), errDetails(ev.Err))
	case feed.Disconnected:
		e.log(logging.ComponentFeed).WithError(ev.Err).Error("Disconnected from the socket server")
		events.Emit(e.events, types.EventFeedDisconnected, "", ev.ReceivedAt(), errDetails(ev.Err))
	case feed.MonitorList:
		e.applySnapshot(ev)
	case feed.HeartbeatList:
		e.handleHeartbeatList(ev)
	case feed.HeartbeatEvent:
		e.handleHeartbeat(ev)
	case feed.Uptime:
		e.handleUptime(ev)
	}
}

func (e *Engine) applySnapshot(ev feed.MonitorList) {
	e.state.Registry.ReplaceAll(ev.Monitors)
	e.inScope = e.state.countInScope(e.resolver)
	e.log(logging.ComponentBridge).Infof("Receive %d Monitors from UptimeKuma", len(ev.Monitors))
	events.Emit(e.events, types.EventSnapshotApplied, "", ev.ReceivedAt(), map[string]any{
		"monitors": len(ev.Monitors),
		"in_scope": e.inScope,
	})
	e.observe()
}

func (e *Engine) handleHeartbeatList(ev feed.HeartbeatList) {
	def, ok := e.state.Registry.Lookup(ev.MonitorID)
	if !ok {
		e.log(logging.ComponentList).WithField("monitor_id", ev.MonitorID).Debug("ignoring list for unknown monitor")
		return
	}
	if e.verbose {
		e.log(logging.ComponentList).Infof("Receive list for monitor #%s (%s)", def.ID, def.Name)
	}
	if len(ev.Heartbeats) == 0 {
		return
	}
	last := ev.Heartbeats[len(ev.Heartbeats)-1]
	last.MonitorID = def.ID
	e.store(def, last, ev.ReceivedAt(), worker.ReasonHeartbeatList)
}

func (e *Engine) handleHeartbeat(ev feed.HeartbeatEvent) {
	def, ok := e.state.Registry.Lookup(ev.Heartbeat.MonitorID)
	if !ok {
		e.log(logging.ComponentHeartbeat).WithField("monitor_id", ev.Heartbeat.MonitorID).Debug("ignoring heartbeat for unknown monitor")
		return
	}
	if e.verbose {
		e.log(logging.ComponentHeartbeat).Infof("Receive for monitor #%s (%s)", def.ID, def.Name)
	}
	e.store(def, ev.Heartbeat, ev.ReceivedAt(), worker.ReasonHeartbeat)
}

func (e *Engine) store(def types.MonitorDefinition, hb types.Heartbeat, receivedAt time.Time, reason string) {
	entry := e.state.Heartbeats.Update(hb, receivedAt)
	defer e.observe()
	routing, ok := e.resolver.Resolve(def)
	if !ok {
		return
	}
	e.relay(def, entry, routing, reason, e.now())
}

func (e *Engine) handleUptime(ev feed.Uptime) {
	def, ok := e.state.Registry.Lookup(ev.MonitorID)
	if !ok {
		return
	}
	if e.verbose {
		e.log(logging.ComponentUptime).Infof("Receive for monitor #%s (%s)", def.ID, def.Name)
	}
	entry, ok := e.state.Heartbeats.Get(def.ID)
	if !ok {
		return
	}
	routing, ok := e.resolver.Resolve(def)
	if !ok {
		return
	}
	now := e.now()
	if age, _ := e.state.Heartbeats.Since(def.ID, now); age < e.staleAfter {
		return
	}
	e.relay(def, entry, routing, worker.ReasonUptime, now)
}

// Sweep re-relays the last heartbeat of every in-scope monitor and returns how
// many statuses were queued.
func (e *Engine) Sweep(now time.Time) int {
	e.log(logging.ComponentCron).Info("Cron as triggered")
	dispatched := 0
	for _, entry := range e.state.Heartbeats.Entries() {
		def, ok := e.state.Registry.Lookup(entry.Heartbeat.MonitorID)
		if !ok {
			continue
		}
		routing, ok := e.resolver.Resolve(def)
		if !ok {
			continue
		}
		if e.relay(def, entry, routing, worker.ReasonSweep, now) {
			dispatched++
		}
	}
	e.metrics.IncSweeps(dispatched)
	events.Emit(e.events, types.EventSweepCompleted, "", now, map[string]any{"dispatched": dispatched})
	return dispatched
}

func (e *Engine) relay(def types.MonitorDefinition, entry heartbeat.Entry, routing status.Routing, reason string, now time.Time) bool {
	res := status.Translate(entry.Heartbeat, routing.MaxPing)
	job := worker.Job{
		MonitorID:   def.ID,
		MonitorName: def.Name,
		MaxPing:     routing.MaxPing,
		Reason:      reason,
		Status: types.RelayedStatus{
			Status:             res.Status,
			Latency:            res.Latency,
			TimestampInSeconds: now.Unix(),
			Tag:                routing.Tag,
		},
	}
	if e.dispatcher == nil {
		return false
	}
	if err := e.dispatcher.Dispatch(job); err != nil {
		e.log(logging.ComponentBridge).WithError(err).WithField("monitor_id", def.ID).Warn("status not queued")
		return false
	}
	e.state.Heartbeats.MarkRelayed(def.ID, now)
	return true
}

// Snapshot returns the current monitor view. It must only be called from the
// goroutine running the engine, or when the engine is not running.
func (e *Engine) Snapshot() []MonitorState {
	return e.state.snapshot(e.resolver)
}

func (e *Engine) observe() {
	e.metrics.ObserveState(e.state.Registry.Len(), e.inScope, e.state.Heartbeats.Len())
}

func (e *Engine) log(component string) logrus.FieldLogger {
	return logging.For(e.logger, component)
}

func errDetails(err error) map[string]any {
	if err == nil {
		return nil
	}
	return map[string]any{"error": err.Error()}
}

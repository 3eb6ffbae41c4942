package metrics

import (
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/des-barres-dev/kenerkuma/pkg/types"
)

const namespace = "kenerkuma"

// Store maintains the bridge's Prometheus collectors and a plain snapshot of
// the values readiness checks need.
type Store struct {
	registry *prometheus.Registry

	feedEvents       *prometheus.CounterVec
	feedConnected    prometheus.Gauge
	dispatches       *prometheus.CounterVec
	dispatchDropped  prometheus.Counter
	dispatchDuration prometheus.Histogram
	monitorsKnown    prometheus.Gauge
	monitorsInScope  prometheus.Gauge
	heartbeatsStored prometheus.Gauge
	sweeps           prometheus.Counter
	sweepDispatched  prometheus.Counter
	ready            prometheus.Gauge
	readyTransitions *prometheus.CounterVec
	readyCategories  *prometheus.GaugeVec
	categoryDegrades *prometheus.CounterVec

	dispatchOK          atomic.Uint64
	dispatchFailed      atomic.Uint64
	droppedTotal        atomic.Uint64
	consecutiveFailures atomic.Int64
	lastSuccess         atomic.Int64
	known               atomic.Int64
	inScope             atomic.Int64
	stored              atomic.Int64
	sweepCount          atomic.Uint64
	readinessState      atomic.Int64
	readinessReason     atomic.Value
	readyCount          atomic.Uint64
	notReadyCount       atomic.Uint64

	categoriesMu sync.Mutex
	categories   []ReadinessCategory
}

// ReadinessCategory captures a categorized readiness reason with severity.
type ReadinessCategory struct {
	Name     string
	Severity string
}

// NewStore constructs a Store with its own registry.
func NewStore() *Store {
	s := &Store{
		registry: prometheus.NewRegistry(),
		feedEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "feed_events_total",
			Help: "Events received from the monitor feed by type.",
		}, []string{"event"}),
		feedConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "feed_connected",
			Help: "Whether the monitor feed connection is up (1=connected).",
		}),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "dispatch_total",
			Help: "Status deliveries to the sink by result and trigger.",
		}, []string{"result", "reason"}),
		dispatchDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "dispatch_dropped_total",
			Help: "Statuses dropped because the dispatch queue was full.",
		}),
		dispatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "dispatch_duration_seconds",
			Help:    "Time spent delivering one status to the sink.",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2},
		}),
		monitorsKnown: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "monitors_known",
			Help: "Monitor definitions in the latest snapshot.",
		}),
		monitorsInScope: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "monitors_in_scope",
			Help: "Relayable monitors carrying a routing tag.",
		}),
		heartbeatsStored: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "heartbeats_stored",
			Help: "Monitors with a last known heartbeat.",
		}),
		sweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "sweeps_total",
			Help: "Reconciliation sweeps executed.",
		}),
		sweepDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "sweep_dispatched_total",
			Help: "Statuses queued by reconciliation sweeps.",
		}),
		ready: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "ready",
			Help: "Whether the bridge considers itself ready (1=ready).",
		}),
		readyTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "ready_transitions_total",
			Help: "Count of readiness state transitions by resulting state.",
		}, []string{"state"}),
		readyCategories: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "ready_categories_info",
			Help: "Categories associated with the most recent readiness evaluation.",
		}, []string{"category", "severity"}),
		categoryDegrades: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "ready_category_transitions_total",
			Help: "Count of readiness degradations annotated by category.",
		}, []string{"category", "severity"}),
	}
	s.readinessReason.Store("")
	s.registry.MustRegister(
		s.feedEvents, s.feedConnected, s.dispatches, s.dispatchDropped, s.dispatchDuration,
		s.monitorsKnown, s.monitorsInScope, s.heartbeatsStored, s.sweeps, s.sweepDispatched,
		s.ready, s.readyTransitions, s.readyCategories, s.categoryDegrades,
	)
	return s
}

// Registry exposes the underlying registry.
func (s *Store) Registry() *prometheus.Registry {
	return s.registry
}

// Snapshot captures the current metric values in a plain struct.
type Snapshot struct {
	DispatchSucceeded           uint64
	DispatchFailed              uint64
	DispatchDropped             uint64
	ConsecutiveDispatchFailures int64
	LastDispatchSuccess         time.Time
	MonitorsKnown               int64
	MonitorsInScope             int64
	HeartbeatsStored            int64
	Sweeps                      uint64
	Ready                       bool
	ReadyReason                 string
	ReadyTransitions            uint64
	NotReadyTransitions         uint64
	ReadyCategories             []ReadinessCategory
}

// Snapshot returns a point-in-time copy of the metrics.
func (s *Store) Snapshot() Snapshot {
	reason, _ := s.readinessReason.Load().(string)
	var last time.Time
	if ns := s.lastSuccess.Load(); ns > 0 {
		last = time.Unix(0, ns).UTC()
	}
	s.categoriesMu.Lock()
	categories := append([]ReadinessCategory(nil), s.categories...)
	s.categoriesMu.Unlock()
	return Snapshot{
		DispatchSucceeded:           s.dispatchOK.Load(),
		DispatchFailed:              s.dispatchFailed.Load(),
		DispatchDropped:             s.droppedTotal.Load(),
		ConsecutiveDispatchFailures: s.consecutiveFailures.Load(),
		LastDispatchSuccess:         last,
		MonitorsKnown:               s.known.Load(),
		MonitorsInScope:             s.inScope.Load(),
		HeartbeatsStored:            s.stored.Load(),
		Sweeps:                      s.sweepCount.Load(),
		Ready:                       s.readinessState.Load() == 1,
		ReadyReason:                 reason,
		ReadyTransitions:            s.readyCount.Load(),
		NotReadyTransitions:         s.notReadyCount.Load(),
		ReadyCategories:             categories,
	}
}

// Record implements events.Recorder, counting feed lifecycle events.
func (s *Store) Record(event types.Event) {
	if event.Type.IsDispatch() {
		// counted through DispatchRecorder
		return
	}
	switch event.Type {
	case types.EventFeedConnected:
		s.feedConnected.Set(1)
	case types.EventFeedDisconnected, types.EventAuthFailed:
		s.feedConnected.Set(0)
	}
	s.feedEvents.WithLabelValues(string(event.Type)).Inc()
}

// ObserveFeedMessage counts a decoded feed message by name.
func (s *Store) ObserveFeedMessage(name string) {
	s.feedEvents.WithLabelValues(name).Inc()
}

// DispatchRecorder returns an implementation of DispatchRecorder backed by the store.
func (s *Store) DispatchRecorder() DispatchRecorder {
	return dispatchRecorder{store: s}
}

// StateRecorder returns an implementation of StateRecorder backed by the store.
func (s *Store) StateRecorder() StateRecorder {
	return stateRecorder{store: s}
}

type dispatchRecorder struct {
	store *Store
}

func (r dispatchRecorder) ObserveDispatch(reason string, err error, took time.Duration) {
	if reason == "" {
		reason = "unknown"
	}
	r.store.dispatchDuration.Observe(took.Seconds())
	if err != nil {
		r.store.dispatches.WithLabelValues("failure", reason).Inc()
		r.store.dispatchFailed.Add(1)
		r.store.consecutiveFailures.Add(1)
		return
	}
	r.store.dispatches.WithLabelValues("success", reason).Inc()
	r.store.dispatchOK.Add(1)
	r.store.consecutiveFailures.Store(0)
	r.store.lastSuccess.Store(time.Now().UnixNano())
}

func (r dispatchRecorder) IncDispatchDropped() {
	r.store.dispatchDropped.Inc()
	r.store.droppedTotal.Add(1)
}

type stateRecorder struct {
	store *Store
}

func (r stateRecorder) ObserveState(known, inScope, stored int) {
	r.store.monitorsKnown.Set(float64(known))
	r.store.monitorsInScope.Set(float64(inScope))
	r.store.heartbeatsStored.Set(float64(stored))
	r.store.known.Store(int64(known))
	r.store.inScope.Store(int64(inScope))
	r.store.stored.Store(int64(stored))
}

func (r stateRecorder) IncSweeps(dispatched int) {
	r.store.sweeps.Inc()
	r.store.sweepCount.Add(1)
	if dispatched > 0 {
		r.store.sweepDispatched.Add(float64(dispatched))
	}
}

// ObserveReadiness records the outcome of a readiness evaluation.
func (s *Store) ObserveReadiness(ready bool, reason string, categories []ReadinessCategory) {
	s.categoriesMu.Lock()
	defer s.categoriesMu.Unlock()

	prev := s.readinessState.Load()
	s.readyCategories.Reset()
	s.categories = nil
	if ready {
		if prev == 0 {
			s.readyTransitions.WithLabelValues("ready").Inc()
			s.readyCount.Add(1)
		}
		s.readinessState.Store(1)
		s.readinessReason.Store("")
		s.ready.Set(1)
		return
	}
	if prev == 1 {
		s.readyTransitions.WithLabelValues("not_ready").Inc()
		s.notReadyCount.Add(1)
	}
	s.readinessState.Store(0)
	s.readinessReason.Store(reason)
	s.ready.Set(0)
	s.categories = dedupeCategories(categories)
	for _, cat := range s.categories {
		s.readyCategories.WithLabelValues(cat.Name, cat.Severity).Set(1)
		if prev == 1 {
			s.categoryDegrades.WithLabelValues(cat.Name, cat.Severity).Inc()
		}
	}
}

func dedupeCategories(categories []ReadinessCategory) []ReadinessCategory {
	if len(categories) == 0 {
		return nil
	}
	seen := make(map[ReadinessCategory]struct{}, len(categories))
	result := make([]ReadinessCategory, 0, len(categories))
	for _, c := range categories {
		if strings.TrimSpace(c.Name) == "" {
			continue
		}
		key := ReadinessCategory{Name: strings.TrimSpace(c.Name), Severity: normalizeSeverity(c.Severity)}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		result = append(result, key)
	}
	return result
}

func normalizeSeverity(severity string) string {
	severity = strings.TrimSpace(strings.ToLower(severity))
	switch severity {
	case "":
		return "unknown"
	case "info", "informational":
		return "info"
	case "warn", "warning":
		return "warning"
	case "critical", "crit":
		return "critical"
	default:
		return severity
	}
}

// NewHTTPHandler returns an http.Handler that serves the store in the
// Prometheus exposition format.
func NewHTTPHandler(store *Store) http.Handler {
	return promhttp.HandlerFor(store.registry, promhttp.HandlerOpts{})
}

package health

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/des-barres-dev/kenerkuma/internal/metrics"
	"github.com/des-barres-dev/kenerkuma/pkg/types"
)

const (
	defaultSinkFailures = 5
	defaultSweepStale   = 3 * time.Minute
	certExpiryWarnAhead = 7 * 24 * time.Hour
)

const (
	categoryFeedDisconnected    = "FEED_DISCONNECTED"
	categoryFeedUnauthenticated = "FEED_UNAUTHENTICATED"
	categoryAuthFailed          = "AUTH_FAILED"
	categoryMonitorsPending     = "MONITORS_PENDING"
	categorySinkFailing         = "SINK_FAILING"
	categorySweepStale          = "SWEEP_STALE"
	categoryCertExpiring        = "CERT_EXPIRING"
	categoryCertExpired         = "CERT_EXPIRED"
)

const (
	severityInfo     = "info"
	severityWarning  = "warning"
	severityCritical = "critical"
)

// Checker evaluates readiness of the bridge from the lifecycle events it is
// fed and the dispatch counters in the metrics store.
type Checker struct {
	metrics      *metrics.Store
	sinkFailures int64
	sweepStale   time.Duration

	mu            sync.RWMutex
	connected     bool
	authenticated bool
	authErr       string
	lastSnapshot  time.Time
	lastSweep     time.Time
	certExpiry    time.Time
}

// NewChecker constructs a readiness checker bound to the provided metrics store.
// sinkFailures is the number of consecutive failed deliveries that marks the
// sink unhealthy; sweepStale bounds the gap between reconciliation sweeps.
func NewChecker(store *metrics.Store, sinkFailures int, sweepStale time.Duration) *Checker {
	if sinkFailures <= 0 {
		sinkFailures = defaultSinkFailures
	}
	if sweepStale <= 0 {
		sweepStale = defaultSweepStale
	}
	return &Checker{
		metrics:      store,
		sinkFailures: int64(sinkFailures),
		sweepStale:   sweepStale,
	}
}

// Record implements events.Recorder.
func (c *Checker) Record(event types.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch event.Type {
	case types.EventFeedConnected:
		c.connected = true
		c.authenticated = false
	case types.EventFeedDisconnected:
		c.connected = false
		c.authenticated = false
	case types.EventAuthenticated:
		c.authenticated = true
		c.authErr = ""
	case types.EventAuthFailed:
		c.authenticated = false
		c.authErr = "login rejected"
		if msg, ok := event.Details["error"].(string); ok && msg != "" {
			c.authErr = msg
		}
	case types.EventSnapshotApplied:
		c.lastSnapshot = event.Timestamp
	case types.EventSweepCompleted:
		c.lastSweep = event.Timestamp
	}
}

// SetCertExpiry records the earliest expiry of the configured CA bundle.
func (c *Checker) SetCertExpiry(expiry time.Time) {
	c.mu.Lock()
	c.certExpiry = expiry
	c.mu.Unlock()
}

// Ready evaluates all readiness conditions and returns the overall status and reasons for failure.
func (c *Checker) Ready(now time.Time) (bool, []string) {
	reasons := make([]string, 0, 4)
	categories := make([]metrics.ReadinessCategory, 0, 4)
	add := func(reason, name, severity string) {
		reasons = append(reasons, reason)
		categories = append(categories, metrics.ReadinessCategory{Name: name, Severity: severity})
	}

	c.mu.RLock()
	connected := c.connected
	authenticated := c.authenticated
	authErr := c.authErr
	lastSnapshot := c.lastSnapshot
	lastSweep := c.lastSweep
	certExpiry := c.certExpiry
	c.mu.RUnlock()

	switch {
	case authErr != "":
		add(fmt.Sprintf("feed authentication failed: %s", authErr), categoryAuthFailed, severityCritical)
	case !connected:
		add("monitor feed disconnected", categoryFeedDisconnected, severityCritical)
	case !authenticated:
		add("monitor feed not authenticated", categoryFeedUnauthenticated, severityWarning)
	}

	if lastSnapshot.IsZero() {
		add("monitor list not yet received", categoryMonitorsPending, severityInfo)
	}

	if c.metrics != nil {
		snap := c.metrics.Snapshot()
		if snap.ConsecutiveDispatchFailures >= c.sinkFailures {
			add(fmt.Sprintf("sink failing (%d consecutive errors)", snap.ConsecutiveDispatchFailures), categorySinkFailing, severityCritical)
		}
	}

	if !lastSweep.IsZero() && now.Sub(lastSweep) > c.sweepStale {
		add(fmt.Sprintf("reconciliation sweep stale (%s)", now.Sub(lastSweep).Round(time.Second)), categorySweepStale, severityWarning)
	}

	if !certExpiry.IsZero() {
		if !certExpiry.After(now) {
			add("CA bundle expired", categoryCertExpired, severityCritical)
		} else if certExpiry.Sub(now) < certExpiryWarnAhead {
			add("CA bundle expiring soon", categoryCertExpiring, severityWarning)
		}
	}

	ready := len(reasons) == 0
	if c.metrics != nil {
		if ready {
			c.metrics.ObserveReadiness(true, "", nil)
		} else {
			c.metrics.ObserveReadiness(false, strings.Join(reasons, "; "), categories)
		}
	}
	if !ready {
		return false, reasons
	}
	return true, nil
}

package relay

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/des-barres-dev/kenerkuma/internal/events"
	"github.com/des-barres-dev/kenerkuma/internal/logging"
	"github.com/des-barres-dev/kenerkuma/internal/metrics"
	"github.com/des-barres-dev/kenerkuma/internal/worker"
	"github.com/des-barres-dev/kenerkuma/pkg/types"
)

// ErrQueueFull is returned by Dispatch when the pending queue is at capacity.
var ErrQueueFull = errors.New("dispatch queue full")

// Sink defines the downstream consumer for relayed statuses.
type Sink interface {
	Send(ctx context.Context, status types.RelayedStatus) error
}

// Result captures the outcome of one delivery attempt.
type Result struct {
	Job      worker.Job
	Err      error
	Duration time.Duration
}

// Option configures a Dispatcher instance.
type Option func(*Dispatcher)

// WithWorkers sets how many deliveries may be in flight at once.
func WithWorkers(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithQueueSize bounds the number of pending jobs.
func WithQueueSize(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queueSize = n
		}
	}
}

// WithTimeout bounds each sink call.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// WithRate limits deliveries to perSecond with the given burst. A non-positive
// rate disables limiting.
func WithRate(perSecond float64, burst int) Option {
	return func(d *Dispatcher) {
		if perSecond <= 0 {
			d.limiter = nil
			return
		}
		if burst <= 0 {
			burst = int(perSecond)
			if burst < 1 {
				burst = 1
			}
		}
		d.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

func WithLogger(logger logrus.FieldLogger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logging.For(logger, logging.ComponentSink)
		}
	}
}

func WithMetrics(rec metrics.DispatchRecorder) Option {
	return func(d *Dispatcher) {
		if rec != nil {
			d.metrics = rec
		}
	}
}

func WithEvents(rec events.Recorder) Option {
	return func(d *Dispatcher) {
		if rec != nil {
			d.events = rec
		}
	}
}

// WithResultHook observes every completed delivery (tests, diagnostics).
func WithResultHook(fn func(Result)) Option {
	return func(d *Dispatcher) {
		d.onResult = fn
	}
}

func WithNow(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// Dispatcher delivers statuses to a Sink asynchronously. Dispatch never blocks
// the caller; delivery failures are logged and recorded, never returned.
type Dispatcher struct {
	sink      Sink
	jobs      chan worker.Job
	workers   int
	queueSize int
	timeout   time.Duration
	limiter   *rate.Limiter
	logger    logrus.FieldLogger
	metrics   metrics.DispatchRecorder
	events    events.Recorder
	onResult  func(Result)
	now       func() time.Time
}

// NewDispatcher constructs a Dispatcher. The sink is required.
func NewDispatcher(sink Sink, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		sink:      sink,
		workers:   4,
		queueSize: 256,
		timeout:   time.Second,
		limiter:   rate.NewLimiter(rate.Limit(20), 40),
		logger:    logging.For(nil, logging.ComponentSink),
		metrics:   metrics.NoopDispatchRecorder{},
		events:    events.NoopRecorder{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.jobs = make(chan worker.Job, d.queueSize)
	return d
}

// Dispatch queues job for delivery.
func (d *Dispatcher) Dispatch(job worker.Job) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = d.now()
	}
	select {
	case d.jobs <- job:
		return nil
	default:
		d.metrics.IncDispatchDropped()
		events.Emit(d.events, types.EventDispatchDropped, job.MonitorID, d.now(), map[string]any{"reason": job.Reason})
		d.logger.WithFields(logrus.Fields{"monitor_id": job.MonitorID, "tag": job.Status.Tag}).Warn("dispatch queue full, status dropped")
		return ErrQueueFull
	}
}

// Pending returns the number of queued jobs.
func (d *Dispatcher) Pending() int {
	return len(d.jobs)
}

// Run blocks until the context is cancelled, delivering queued jobs.
func (d *Dispatcher) Run(ctx context.Context) error {
	if d.sink == nil {
		return errors.New("dispatcher sink is nil")
	}
	pool := worker.NewPool(d.jobs, d.deliver,
		worker.WithWorkerCount(d.workers),
		worker.WithPanicHandler(d.recovered),
	)
	wg := pool.Start(ctx)
	<-ctx.Done()
	wg.Wait()
	return ctx.Err()
}

func (d *Dispatcher) deliver(ctx context.Context, job worker.Job) {
	started := d.now()
	err := d.send(ctx, job)
	res := Result{Job: job, Err: err, Duration: d.now().Sub(started)}

	d.metrics.ObserveDispatch(job.Reason, err, res.Duration)
	log := d.logger.WithFields(logrus.Fields{
		"monitor_id": job.MonitorID,
		"tag":        job.Status.Tag,
		"status":     job.Status.Status,
		"reason":     job.Reason,
	})
	if err != nil {
		events.Emit(d.events, types.EventDispatchFailed, job.MonitorID, d.now(), map[string]any{"error": err.Error()})
		log.WithError(err).Debug("status update failed")
	} else {
		events.Emit(d.events, types.EventDispatchOK, job.MonitorID, d.now(), nil)
		log.Infof("%s Updated status (maxPing: %v)", job.MonitorName, job.MaxPing)
	}
	if d.onResult != nil {
		d.onResult(res)
	}
}

func (d *Dispatcher) recovered(job worker.Job, err error) {
	d.metrics.ObserveDispatch(job.Reason, err, 0)
	events.Emit(d.events, types.EventDispatchFailed, job.MonitorID, d.now(), map[string]any{"error": err.Error()})
	d.logger.WithField("monitor_id", job.MonitorID).WithError(err).Error("status delivery aborted")
}

func (d *Dispatcher) send(ctx context.Context, job worker.Job) error {
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	return d.sink.Send(callCtx, job.Status)
}

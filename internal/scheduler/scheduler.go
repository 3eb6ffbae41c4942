package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/des-barres-dev/kenerkuma/internal/logging"
)

// parser accepts both five-field and six-field (leading seconds) expressions
// as well as descriptors such as @every 1m.
var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Scheduler emits a tick on a channel each time the sweep schedule fires.
type Scheduler struct {
	cron     *cron.Cron
	schedule cron.Schedule
	location *time.Location
	ticks    chan<- time.Time
	logger   logrus.FieldLogger
	now      func() time.Time
}

type Option func(*Scheduler)

func WithLogger(logger logrus.FieldLogger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logging.For(logger, logging.ComponentCron)
		}
	}
}

func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// Parse validates a schedule expression.
func Parse(expr string) (cron.Schedule, error) {
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse sweep schedule %q: %w", expr, err)
	}
	return sched, nil
}

// New builds a scheduler for expr evaluated in loc. Ticks are delivered
// without blocking; a tick that finds the channel full is skipped.
func New(expr string, loc *time.Location, ticks chan<- time.Time, opts ...Option) (*Scheduler, error) {
	if loc == nil {
		loc = time.UTC
	}
	sched, err := Parse(expr)
	if err != nil {
		return nil, err
	}
	s := &Scheduler{
		schedule: sched,
		location: loc,
		ticks:    ticks,
		logger:   logging.For(nil, logging.ComponentCron),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cron = cron.New(
		cron.WithLocation(loc),
		cron.WithParser(parser),
		cron.WithLogger(cron.PrintfLogger(s.logger)),
	)
	s.cron.Schedule(sched, cron.FuncJob(s.fire))
	return s, nil
}

// Next returns the next activation after the given time.
func (s *Scheduler) Next(after time.Time) time.Time {
	return s.schedule.Next(after.In(s.location))
}

// Start runs the schedule until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.cron.Start()
	s.logger.WithField("next", s.Next(s.now())).Debug("sweep schedule started")
	<-ctx.Done()
	<-s.cron.Stop().Done()
}

func (s *Scheduler) fire() {
	now := s.now()
	select {
	case s.ticks <- now:
	default:
		s.logger.Warn("previous sweep still pending, tick skipped")
	}
}

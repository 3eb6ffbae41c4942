package metrics

import "time"

// DispatchRecorder observes relay deliveries.
type DispatchRecorder interface {
	ObserveDispatch(reason string, err error, took time.Duration)
	IncDispatchDropped()
}

// StateRecorder observes the size of the bridge state after each change.
type StateRecorder interface {
	ObserveState(known, inScope, stored int)
	IncSweeps(dispatched int)
}

type NoopDispatchRecorder struct{}

func (NoopDispatchRecorder) ObserveDispatch(string, error, time.Duration) {}
func (NoopDispatchRecorder) IncDispatchDropped()                          {}

type NoopStateRecorder struct{}

func (NoopStateRecorder) ObserveState(int, int, int) {}
func (NoopStateRecorder) IncSweeps(int)              {}

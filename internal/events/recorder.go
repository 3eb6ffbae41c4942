package events

import (
	"time"

	"github.com/des-barres-dev/kenerkuma/pkg/types"
)

type Recorder interface {
	Record(event types.Event)
}

type NoopRecorder struct{}

func (NoopRecorder) Record(event types.Event) {}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(types.Event)

func (f RecorderFunc) Record(event types.Event) { f(event) }

type Multi struct {
	recorders []Recorder
}

func NewMulti(recorders ...Recorder) Multi {
	return Multi{recorders: recorders}
}

func (m Multi) Record(event types.Event) {
	for _, rec := range m.recorders {
		if rec != nil {
			rec.Record(event)
		}
	}
}

// Emit records an event stamped with ts. A nil recorder is ignored.
func Emit(rec Recorder, typ types.EventType, monitorID string, ts time.Time, details map[string]any) {
	if rec == nil {
		return
	}
	rec.Record(types.Event{
		Type:      typ,
		Timestamp: ts.UTC(),
		MonitorID: monitorID,
		Details:   details,
	})
}

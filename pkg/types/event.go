package types

import "time"

// EventType names a bridge lifecycle event.
type EventType string

const (
	EventFeedConnected    EventType = "FeedConnected"
	EventFeedDisconnected EventType = "FeedDisconnected"
	EventAuthenticated    EventType = "Authenticated"
	EventAuthFailed       EventType = "AuthFailed"
	EventSnapshotApplied  EventType = "SnapshotApplied"
	EventSweepCompleted   EventType = "SweepCompleted"
	EventDispatchOK       EventType = "DispatchSucceeded"
	EventDispatchFailed   EventType = "DispatchFailed"
	EventDispatchDropped  EventType = "DispatchDropped"
)

// IsDispatch reports whether the event describes a sink delivery outcome.
func (t EventType) IsDispatch() bool {
	switch t {
	case EventDispatchOK, EventDispatchFailed, EventDispatchDropped:
		return true
	}
	return false
}

// Event is emitted by the engine and the dispatcher and consumed by
// recorders such as the metrics store and the readiness checker.
type Event struct {
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"ts"`
	MonitorID string         `json:"monitor_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

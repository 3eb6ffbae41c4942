package feed

import (
	"time"

	"github.com/des-barres-dev/kenerkuma/pkg/types"
)

// Event is a typed notification produced by the feed client. The set is closed:
// only types in this package implement it.
type Event interface {
	ReceivedAt() time.Time
	feedEvent()
}

// Stamp records when the client decoded an event.
type Stamp struct {
	At time.Time
}

func (s Stamp) ReceivedAt() time.Time { return s.At }
func (Stamp) feedEvent()              {}

// Connected is emitted once the namespace handshake completes.
type Connected struct {
	Stamp
	SessionID string
}

// Authenticated is emitted when the login acknowledgement reports success.
type Authenticated struct {
	Stamp
}

// Disconnected is emitted when an established session ends for any reason
// other than shutdown.
type Disconnected struct {
	Stamp
	Err error
}

// AuthFailed is emitted when the feed rejects the login. The client stops after
// emitting it.
type AuthFailed struct {
	Stamp
	Err error
}

// MonitorList carries a complete snapshot of monitor definitions.
type MonitorList struct {
	Stamp
	Monitors []types.MonitorDefinition
}

// HeartbeatList carries the recent heartbeats for one monitor, oldest first.
type HeartbeatList struct {
	Stamp
	MonitorID  string
	Heartbeats []types.Heartbeat
	Overwrite  bool
}

// HeartbeatEvent carries a single live heartbeat.
type HeartbeatEvent struct {
	Stamp
	Heartbeat types.Heartbeat
}

// Uptime is the periodic per-monitor uptime signal.
type Uptime struct {
	Stamp
	MonitorID string
	Period    int
	Value     float64
}

func at(ts time.Time) Stamp { return Stamp{At: ts} }

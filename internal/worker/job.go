package worker

import (
	"time"

	"github.com/des-barres-dev/kenerkuma/pkg/types"
)

// Reasons a status is relayed.
const (
	ReasonHeartbeat     = "heartbeat"
	ReasonHeartbeatList = "heartbeat_list"
	ReasonUptime        = "uptime"
	ReasonSweep         = "sweep"
	ReasonManual        = "manual"
)

// Job is a single status delivery to the sink.
type Job struct {
	ID          string
	MonitorID   string
	MonitorName string
	MaxPing     float64
	Reason      string
	Status      types.RelayedStatus
	EnqueuedAt  time.Time
}

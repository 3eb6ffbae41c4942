package types

import "time"

// StatusCode is the binary state reported by a heartbeat.
type StatusCode int

const (
	StatusCodeDown StatusCode = 0
	StatusCodeUp   StatusCode = 1
)

// IsUp reports whether the heartbeat counts as up. Codes other than up (pending,
// maintenance) are treated as down.
func (c StatusCode) IsUp() bool {
	return c == StatusCodeUp
}

// Heartbeat is a single up/down + latency observation for one monitor.
type Heartbeat struct {
	MonitorID  string     `json:"monitor_id"`
	Status     StatusCode `json:"status"`
	Latency    float64    `json:"latency"`
	Message    string     `json:"msg,omitempty"`
	Time       string     `json:"time,omitempty"`
	ReceivedAt time.Time  `json:"received_at"`
}

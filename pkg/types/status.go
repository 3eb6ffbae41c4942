package types

// Status is the downstream status vocabulary of the sink.
type Status string

const (
	StatusUp       Status = "UP"
	StatusDegraded Status = "DEGRADED"
	StatusDown     Status = "DOWN"
)

// ParseStatus validates a raw status string.
func ParseStatus(raw string) (Status, bool) {
	switch Status(raw) {
	case StatusUp, StatusDegraded, StatusDown:
		return Status(raw), true
	default:
		return "", false
	}
}

// RelayedStatus is the payload delivered to the sink's status endpoint.
type RelayedStatus struct {
	Status             Status  `json:"status"`
	Latency            float64 `json:"latency"`
	TimestampInSeconds int64   `json:"timestampInSeconds"`
	Tag                string  `json:"tag"`
}

package status

import "github.com/des-barres-dev/kenerkuma/pkg/types"

// Result is the translated downstream status of a heartbeat.
type Result struct {
	Status  types.Status
	Latency float64
}

// Translate maps a heartbeat onto the sink vocabulary. Down always wins; an up
// heartbeat is degraded only when its latency is strictly above maxPing.
func Translate(hb types.Heartbeat, maxPing float64) Result {
	res := Result{Latency: hb.Latency}
	switch {
	case !hb.Status.IsUp():
		res.Status = types.StatusDown
	case hb.Latency > maxPing:
		res.Status = types.StatusDegraded
	default:
		res.Status = types.StatusUp
	}
	return res
}

package status

import (
	"math"
	"strconv"
	"strings"

	"github.com/des-barres-dev/kenerkuma/pkg/types"
)

const (
	DefaultRoutingTag = "Kener"
	DefaultMaxPingTag = "MaxPing"
	DefaultMaxPing    = 2000
)

// Routing is the relay destination and latency threshold for one monitor.
type Routing struct {
	Tag     string
	MaxPing float64
}

// Resolver extracts routing information from monitor tags.
type Resolver struct {
	RoutingTag     string
	MaxPingTag     string
	DefaultMaxPing float64
}

// DefaultResolver uses the Kener/MaxPing tag convention with a 2000 threshold.
func DefaultResolver() Resolver {
	return Resolver{
		RoutingTag:     DefaultRoutingTag,
		MaxPingTag:     DefaultMaxPingTag,
		DefaultMaxPing: DefaultMaxPing,
	}
}

// ResolveRouting applies DefaultResolver to def.
func ResolveRouting(def types.MonitorDefinition) (Routing, bool) {
	return DefaultResolver().Resolve(def)
}

// Resolve returns ok=false when def carries no routing tag or the tag has no
// usable value; such monitors are out of scope. When several tags share a
// name the first one wins.
func (r Resolver) Resolve(def types.MonitorDefinition) (Routing, bool) {
	r = r.WithDefaults()

	tag, ok := def.FindTag(r.RoutingTag)
	if !ok || tag.Value == nil {
		return Routing{}, false
	}
	dest := strings.TrimSpace(*tag.Value)
	if dest == "" {
		return Routing{}, false
	}

	routing := Routing{Tag: dest, MaxPing: r.DefaultMaxPing}
	if maxPing, ok := def.FindTag(r.MaxPingTag); ok && maxPing.Value != nil {
		if v, ok := parseMaxPing(*maxPing.Value); ok {
			routing.MaxPing = v
		}
	}
	return routing, true
}

// parseMaxPing accepts finite positive thresholds only.
func parseMaxPing(raw string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return 0, false
	}
	return v, true
}

// WithDefaults fills unset fields with the Kener/MaxPing convention.
func (r Resolver) WithDefaults() Resolver {
	if r.RoutingTag == "" {
		r.RoutingTag = DefaultRoutingTag
	}
	if r.MaxPingTag == "" {
		r.MaxPingTag = DefaultMaxPingTag
	}
	if r.DefaultMaxPing <= 0 {
		r.DefaultMaxPing = DefaultMaxPing
	}
	return r
}

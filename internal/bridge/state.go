package bridge

import (
	"time"

	"github.com/des-barres-dev/kenerkuma/internal/heartbeat"
	"github.com/des-barres-dev/kenerkuma/internal/registry"
	"github.com/des-barres-dev/kenerkuma/internal/status"
	"github.com/des-barres-dev/kenerkuma/pkg/types"
)

// State is everything the bridge remembers between events. It is created once
// per process and only touched from the engine loop.
type State struct {
	Registry   *registry.Registry
	Heartbeats *heartbeat.Store
}

// NewState builds empty state that relays monitors of the given types.
func NewState(relayable ...types.MonitorType) *State {
	return &State{
		Registry:   registry.New(relayable...),
		Heartbeats: heartbeat.NewStore(),
	}
}

// MonitorState is a read-only view of one relayable monitor.
type MonitorState struct {
	ID              string       `json:"id"`
	Name            string       `json:"name"`
	Type            string       `json:"type"`
	Tag             string       `json:"tag,omitempty"`
	MaxPing         float64      `json:"max_ping,omitempty"`
	InScope         bool         `json:"in_scope"`
	Status          types.Status `json:"status,omitempty"`
	Latency         float64      `json:"latency,omitempty"`
	LastHeartbeatAt *time.Time   `json:"last_heartbeat_at,omitempty"`
	LastRelayedAt   *time.Time   `json:"last_relayed_at,omitempty"`
}

func (s *State) snapshot(resolver status.Resolver) []MonitorState {
	defs := s.Registry.Definitions()
	out := make([]MonitorState, 0, len(defs))
	for _, def := range defs {
		ms := MonitorState{ID: def.ID, Name: def.Name, Type: string(def.Kind())}
		routing, inScope := resolver.Resolve(def)
		if inScope {
			ms.InScope = true
			ms.Tag = routing.Tag
			ms.MaxPing = routing.MaxPing
		}
		if entry, ok := s.Heartbeats.Get(def.ID); ok {
			received := entry.ReceivedAt
			ms.LastHeartbeatAt = &received
			maxPing := routing.MaxPing
			if !inScope {
				maxPing = resolver.DefaultMaxPing
			}
			res := status.Translate(entry.Heartbeat, maxPing)
			ms.Status = res.Status
			ms.Latency = res.Latency
			if entry.Relayed() {
				relayed := entry.LastRelayedAt
				ms.LastRelayedAt = &relayed
			}
		}
		out = append(out, ms)
	}
	return out
}

func (s *State) countInScope(resolver status.Resolver) int {
	n := 0
	for _, def := range s.Registry.Definitions() {
		if _, ok := resolver.Resolve(def); ok {
			n++
		}
	}
	return n
}

package registry

import (
	"sort"

	"github.com/des-barres-dev/kenerkuma/pkg/types"
)

// DefaultRelayableTypes lists the monitor types the bridge relays unless
// configured otherwise.
var DefaultRelayableTypes = []types.MonitorType{
	types.MonitorTypePush,
	types.MonitorTypeHTTP,
	types.MonitorTypePort,
	types.MonitorTypeGamedig,
}

// Registry holds the monitor definitions from the latest snapshot. It is owned
// by the bridge loop and is not safe for concurrent use.
type Registry struct {
	relayable   map[types.MonitorType]struct{}
	definitions map[string]types.MonitorDefinition
}

// New builds an empty registry that only exposes monitors of the given types.
// Types are compared against the upstream type name, case-insensitively. With
// no types, DefaultRelayableTypes is used.
func New(relayable ...types.MonitorType) *Registry {
	if len(relayable) == 0 {
		relayable = DefaultRelayableTypes
	}
	allowed := make(map[types.MonitorType]struct{}, len(relayable))
	for _, t := range relayable {
		if t = types.NormalizeMonitorType(string(t)); t != "" {
			allowed[t] = struct{}{}
		}
	}
	return &Registry{
		relayable:   allowed,
		definitions: map[string]types.MonitorDefinition{},
	}
}

// ReplaceAll swaps the whole table for the given snapshot. Definitions absent
// from the snapshot are discarded.
func (r *Registry) ReplaceAll(definitions []types.MonitorDefinition) {
	next := make(map[string]types.MonitorDefinition, len(definitions))
	for _, def := range definitions {
		if def.ID == "" {
			continue
		}
		next[def.ID] = def.Clone()
	}
	r.definitions = next
}

// Lookup returns the current definition for id when it exists and its type is
// relayable.
func (r *Registry) Lookup(id string) (types.MonitorDefinition, bool) {
	def, ok := r.definitions[id]
	if !ok {
		return types.MonitorDefinition{}, false
	}
	if !r.Relayable(def.Kind()) {
		return types.MonitorDefinition{}, false
	}
	return def, true
}

// Relayable reports whether monitors of type t are eligible for relaying.
func (r *Registry) Relayable(t types.MonitorType) bool {
	_, ok := r.relayable[types.NormalizeMonitorType(string(t))]
	return ok
}

// Len returns the number of definitions in the current snapshot, relayable or not.
func (r *Registry) Len() int {
	return len(r.definitions)
}

// Definitions returns the relayable definitions ordered by id.
func (r *Registry) Definitions() []types.MonitorDefinition {
	out := make([]types.MonitorDefinition, 0, len(r.definitions))
	for _, def := range r.definitions {
		if r.Relayable(def.Kind()) {
			out = append(out, def.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

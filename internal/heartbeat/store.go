package heartbeat

import (
	"sort"
	"time"

	"github.com/des-barres-dev/kenerkuma/pkg/types"
)

// Entry is the most recent heartbeat for a monitor together with the local
// bookkeeping the sweep needs.
type Entry struct {
	Heartbeat     types.Heartbeat
	ReceivedAt    time.Time
	LastRelayedAt time.Time
}

// Relayed reports whether the entry has been dispatched at least once.
func (e Entry) Relayed() bool {
	return !e.LastRelayedAt.IsZero()
}

// Store keeps one entry per monitor id, last write wins. It is owned by the
// bridge loop and is not safe for concurrent use.
type Store struct {
	entries map[string]*Entry
}

func NewStore() *Store {
	return &Store{entries: map[string]*Entry{}}
}

// Update replaces the entry for hb.MonitorID. The relay timestamp is carried
// over so an incoming heartbeat alone does not reset staleness.
func (s *Store) Update(hb types.Heartbeat, receivedAt time.Time) Entry {
	hb.ReceivedAt = receivedAt
	next := &Entry{Heartbeat: hb, ReceivedAt: receivedAt}
	if prev, ok := s.entries[hb.MonitorID]; ok {
		next.LastRelayedAt = prev.LastRelayedAt
	}
	s.entries[hb.MonitorID] = next
	return *next
}

// Get returns the entry for id.
func (s *Store) Get(id string) (Entry, bool) {
	e, ok := s.entries[id]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// MarkRelayed records that the entry for id was dispatched at ts.
func (s *Store) MarkRelayed(id string, ts time.Time) bool {
	e, ok := s.entries[id]
	if !ok {
		return false
	}
	e.LastRelayedAt = ts
	return true
}

// Since returns how long ago the entry for id was last relayed, or received
// when it was never relayed. Missing entries report ok=false.
func (s *Store) Since(id string, now time.Time) (time.Duration, bool) {
	e, ok := s.entries[id]
	if !ok {
		return 0, false
	}
	ref := e.LastRelayedAt
	if ref.IsZero() {
		ref = e.ReceivedAt
	}
	return now.Sub(ref), true
}

func (s *Store) Len() int {
	return len(s.entries)
}

// IDs returns the stored monitor ids in ascending order.
func (s *Store) IDs() []string {
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Entries returns a copy of every entry ordered by monitor id.
func (s *Store) Entries() []Entry {
	ids := s.IDs()
	out := make([]Entry, 0, len(ids))
	for _, id := range ids {
		out = append(out, *s.entries[id])
	}
	return out
}

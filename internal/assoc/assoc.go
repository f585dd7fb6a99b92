// Package assoc implements the pending-query association map: the
// table that lets one shared upstream socket serve many concurrent
// client queries by matching an asynchronous upstream reply back to
// the client that is waiting for it.
//
// Grounded on original_source/crates/dns-block-tokio/src/resolution.rs's
// RequestKey/RequestAssociationMap, translated into Go's sync.RWMutex
// idiom the way the teacher guards its own shared maps
// (internal/cache, internal/engine/rpz.go).
package assoc

import (
	"net"
	"sync"
	"time"

	"github.com/dnsrelay/dnsrelayd/internal/wire"
)

// Key identifies one pending upstream query. Unlike the reply cache's
// fingerprinted key, this key is kept as the literal comparable triple
// — (id, type, name) — on purpose: the whole point of including type
// and name alongside the 16-bit id is to make collisions between
// distinct in-flight queries vanishingly unlikely, and hashing it down
// to a smaller key would reintroduce exactly the collision risk this
// design avoids.
type Key struct {
	RequestID uint16
	Type      wire.RecordType
	Name      string
}

// Entry is what is recalled when the matching upstream reply arrives.
type Entry struct {
	ClientAddr  *net.UDPAddr
	ArrivalTime time.Time
	CacheKey    wire.RRKey
}

// Map is the association table. A single reader/writer lock guards it,
// per spec.md §4.4/§5 — contention is acceptable because the
// dominating cost on this path is upstream RTT, not lock hold time.
type Map struct {
	mu      sync.RWMutex
	entries map[Key]Entry
}

// New creates an empty association map.
func New() *Map {
	return &Map{entries: make(map[Key]Entry)}
}

// Insert records a pending query. If key already has an entry (the
// same id/type/name was already in flight), the new entry replaces it
// and the prior waiter is silently orphaned — spec.md §3 invariant:
// the map never holds two entries for the same key at once.
func (m *Map) Insert(key Key, entry Entry) {
	m.mu.Lock()
	m.entries[key] = entry
	m.mu.Unlock()
}

// LookupAndRemove finds and removes the entry for key, if present. A
// reply that matches no entry (already answered, replaced by a later
// insert for the same key, or simply never requested) must be logged
// and dropped by the caller, never guessed at. Entries are never swept;
// one whose reply never arrives stays in the map.
func (m *Map) LookupAndRemove(key Key) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if ok {
		delete(m.entries, key)
	}
	return e, ok
}

// Len reports the number of pending queries, for stats reporting.
func (m *Map) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

package membership

import (
	"maps"
	"slices"
	"sync"

	"github.com/rmacdonaldsmith/roomadapter-go/internal/wildcard"
	"github.com/rmacdonaldsmith/roomadapter-go/pkg/membership"
	wildcardpkg "github.com/rmacdonaldsmith/roomadapter-go/pkg/wildcard"
)

type set map[string]struct{}

// InMemoryRegistry implements the membership.Registry interface with two maps,
// room -> members and socket -> rooms, guarded by one RWMutex.
// Pattern bookkeeping is delegated to a wildcard index; the lock order is
// registry first, index second.
type InMemoryRegistry struct {
	mu      sync.RWMutex
	config  membership.Config
	index   wildcardpkg.Index
	rooms   map[string]set // room -> socket ids
	sockets map[string]set // socket id -> rooms
}

// NewInMemoryRegistry creates an empty registry with its own wildcard index,
// enabled according to config.Wildcard.
func NewInMemoryRegistry(config membership.Config) *InMemoryRegistry {
	return &InMemoryRegistry{
		config:  config,
		index:   wildcard.NewInMemoryIndex(config.Wildcard),
		rooms:   make(map[string]set),
		sockets: make(map[string]set),
	}
}

// Config returns the registry configuration
func (r *InMemoryRegistry) Config() membership.Config {
	return r.config
}

// Add puts id into room
func (r *InMemoryRegistry) Add(id, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rooms, ok := r.sockets[id]
	if !ok {
		rooms = make(set)
		r.sockets[id] = rooms
	}
	rooms[room] = struct{}{}

	members, ok := r.rooms[room]
	if !ok {
		members = make(set)
		r.rooms[room] = members
	}
	members[id] = struct{}{}

	r.index.Add(room)
}

// Set is an alias of Add
func (r *InMemoryRegistry) Set(id, room string) {
	r.Add(id, room)
}

// Get returns the rooms of id, or every known room when id is empty
func (r *InMemoryRegistry) Get(id string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if id == "" {
		return slices.Sorted(maps.Keys(r.rooms))
	}
	rooms, ok := r.sockets[id]
	if !ok {
		return []string{}
	}
	return slices.Sorted(maps.Keys(rooms))
}

// Del removes id from room, or from every room when room is empty
func (r *InMemoryRegistry) Del(id, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	joined, ok := r.sockets[id]

	switch {
	case room == "":
		if !ok {
			return
		}
		for _, rm := range slices.Collect(maps.Keys(joined)) {
			r.prune(id, rm)
		}

	case r.config.WildcardDelete && wildcardpkg.IsPattern(room):
		var candidates []string
		if ok {
			candidates = slices.Sorted(maps.Keys(joined))
		} else {
			candidates = []string{}
		}
		r.index.Find(room, candidates, func(rm string) {
			r.prune(id, rm)
		})

	default:
		if _, member := joined[room]; member {
			r.prune(id, room)
		}
	}
}

// prune removes the single (id, room) pair and cleans up whatever became empty.
// Caller must hold the write lock.
func (r *InMemoryRegistry) prune(id, room string) {
	if rooms, ok := r.sockets[id]; ok {
		delete(rooms, room)
		if len(rooms) == 0 {
			delete(r.sockets, id)
		}
	}

	if members, ok := r.rooms[room]; ok {
		delete(members, id)
		if len(members) == 0 {
			delete(r.rooms, room)
			r.index.Remove(room)
		}
	}
}

// Clients returns the members of room
func (r *InMemoryRegistry) Clients(room string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members, ok := r.rooms[room]
	if !ok {
		return []string{}
	}
	return slices.Sorted(maps.Keys(members))
}

// Empty detaches every member of each room and deletes the rooms
func (r *InMemoryRegistry) Empty(rooms ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, room := range rooms {
		members, ok := r.rooms[room]
		if !ok {
			continue
		}
		for id := range members {
			if joined, ok := r.sockets[id]; ok {
				delete(joined, room)
				if len(joined) == 0 {
					delete(r.sockets, id)
				}
			}
		}
		delete(r.rooms, room)
		r.index.Remove(room)
	}
}

// IsEmpty reports whether room has no members
func (r *InMemoryRegistry) IsEmpty(room string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.rooms[room]) == 0
}

// Clear resets both maps and the pattern index
func (r *InMemoryRegistry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.rooms = make(map[string]set)
	r.sockets = make(map[string]set)
	r.index.Clear()
}

// Read runs fn under the read lock
func (r *InMemoryRegistry) Read(fn func(membership.View)) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fn(view{r})
}

// Stats returns current counters
func (r *InMemoryRegistry) Stats() membership.Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return membership.Stats{
		Rooms:    len(r.rooms),
		Sockets:  len(r.sockets),
		Patterns: len(r.index.Patterns()),
	}
}

// view exposes the registry maps to a reader holding the read lock
type view struct {
	r *InMemoryRegistry
}

func (v view) Sockets(visit func(id string)) {
	for id := range v.r.sockets {
		visit(id)
	}
}

func (v view) Members(room string, visit func(id string)) bool {
	members, ok := v.r.rooms[room]
	if !ok {
		return false
	}
	for id := range members {
		visit(id)
	}
	return true
}

func (v view) MatchPatterns(room string, visit func(pattern string)) {
	v.r.index.Match(room, visit)
}

// Verify that InMemoryRegistry implements the Registry interface at compile time
var _ membership.Registry = (*InMemoryRegistry)(nil)

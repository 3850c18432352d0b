package wildcard

import (
	"sync"

	"github.com/rmacdonaldsmith/roomadapter-go/pkg/wildcard"
)

// InMemoryIndex implements the wildcard.Index interface.
// Patterns are kept in registration order for deterministic iteration.
// It is safe for concurrent use; visitors run after the lock is released.
type InMemoryIndex struct {
	mu       sync.RWMutex
	enabled  bool
	patterns []string
	present  map[string]struct{}
}

// NewInMemoryIndex creates a new pattern index. A disabled index never
// registers anything and Find passes its query straight through.
func NewInMemoryIndex(enabled bool) *InMemoryIndex {
	return &InMemoryIndex{
		enabled: enabled,
		present: make(map[string]struct{}),
	}
}

// Enabled reports whether pattern indexing is active
func (idx *InMemoryIndex) Enabled() bool {
	return idx.enabled
}

// Add registers name as a pattern
func (idx *InMemoryIndex) Add(name string) {
	if !idx.enabled || !wildcard.IsPattern(name) {
		return
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, exists := idx.present[name]; exists {
		return
	}
	idx.present[name] = struct{}{}
	idx.patterns = append(idx.patterns, name)
}

// Remove deregisters name if it is registered
func (idx *InMemoryIndex) Remove(name string) {
	if !idx.enabled || !wildcard.IsPattern(name) {
		return
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, exists := idx.present[name]; !exists {
		return
	}
	delete(idx.present, name)
	for i, p := range idx.patterns {
		if p == name {
			idx.patterns = append(idx.patterns[:i], idx.patterns[i+1:]...)
			break
		}
	}
}

// Match visits every registered pattern that fully matches room
func (idx *InMemoryIndex) Match(room string, visit func(pattern string)) {
	if !idx.enabled {
		return
	}

	for _, p := range idx.Patterns() {
		if Matches(p, room) {
			visit(p)
		}
	}
}

// Find visits every candidate fully matched by pattern.
// Nil candidates means the registered pattern set.
func (idx *InMemoryIndex) Find(pattern string, candidates []string, visit func(name string)) {
	if !idx.enabled {
		visit(pattern)
		return
	}

	if candidates == nil {
		candidates = idx.Patterns()
	}
	for _, c := range candidates {
		if Matches(pattern, c) {
			visit(c)
		}
	}
}

// Patterns returns a copy of the registered patterns in registration order
func (idx *InMemoryIndex) Patterns() []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	out := make([]string, len(idx.patterns))
	copy(out, idx.patterns)
	return out
}

// Clear deregisters every pattern
func (idx *InMemoryIndex) Clear() {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.patterns = nil
	idx.present = make(map[string]struct{})
}

// Verify that InMemoryIndex implements the Index interface at compile time
var _ wildcard.Index = (*InMemoryIndex)(nil)

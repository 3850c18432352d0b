package wildcard

import "strings"

// Token is the reserved character that marks a room name as a pattern
const Token = "*"

// IsPattern reports whether name contains the wildcard token
func IsPattern(name string) bool {
	return strings.Contains(name, Token)
}

// Index maintains the set of registered room patterns.
// Implementations must be safe for concurrent use.
//
// When the index is disabled every mutation is a no-op, Match visits nothing and
// Find degrades to visiting the query string once.
type Index interface {
	// Add registers name as a pattern if the index is enabled and name contains Token.
	// Re-adding an existing pattern is a no-op.
	Add(name string)

	// Remove deregisters name. Absent names, non-patterns and a disabled index are no-ops.
	Remove(name string)

	// Match invokes visit for every registered pattern that fully matches room,
	// in registration order.
	Match(room string, visit func(pattern string))

	// Find invokes visit for every candidate fully matched by pattern.
	// A nil candidates slice means the registered pattern set.
	Find(pattern string, candidates []string, visit func(name string))

	// Patterns returns a copy of the registered patterns in registration order.
	Patterns() []string

	// Clear deregisters every pattern.
	Clear()

	// Enabled reports whether pattern indexing is active.
	Enabled() bool
}

package membership

// Config controls wildcard behaviour of a Registry.
// The two switches are independent.
type Config struct {
	// Wildcard enables pattern registration for rooms containing the wildcard token.
	Wildcard bool

	// WildcardDelete makes Del treat a room containing the wildcard token as a pattern
	// resolved against the socket's current rooms.
	WildcardDelete bool
}

// DefaultConfig returns the default registry configuration:
// wildcard matching on, wildcard deletion off.
func DefaultConfig() Config {
	return Config{
		Wildcard:       true,
		WildcardDelete: false,
	}
}

// Stats holds registry counters
type Stats struct {
	Rooms    int
	Sockets  int
	Patterns int
}

// View is read access to a Registry while its read lock is held.
// A View must not be retained after the function it was passed to returns,
// and must not be used to call back into the Registry.
type View interface {
	// Sockets visits every tracked socket id.
	Sockets(visit func(id string))

	// Members visits every member of room. It reports whether the room exists.
	Members(room string, visit func(id string)) bool

	// MatchPatterns visits every registered pattern room that room matches.
	MatchPatterns(room string, visit func(pattern string))
}

// Registry is the bidirectional socket <-> room index.
// Implementations must be safe for concurrent use.
type Registry interface {
	// Add puts id into room, creating either entry if needed. Idempotent.
	Add(id, room string)

	// Set is an alias of Add.
	Set(id, room string)

	// Get returns the rooms id has joined, or every known room when id is empty.
	Get(id string) []string

	// Del removes id from room. An empty room removes id from every room it has joined.
	// With WildcardDelete enabled a room containing the wildcard token is resolved as a
	// pattern against id's rooms and every match is removed.
	Del(id, room string)

	// Clients returns the members of room, or nothing if it does not exist.
	Clients(room string) []string

	// Empty detaches every member from each of rooms and deletes the rooms.
	Empty(rooms ...string)

	// IsEmpty reports whether room has no members.
	IsEmpty(room string) bool

	// Clear resets the registry, including registered patterns.
	Clear()

	// Read runs fn with a consistent View of the registry.
	// No mutation can interleave with fn.
	Read(fn func(View))

	// Stats returns current counters.
	Stats() Stats
}

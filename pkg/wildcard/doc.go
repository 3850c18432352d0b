// Package wildcard provides interfaces for glob-like room patterns.
//
// This package defines the core abstractions for the wildcard component:
//   - Index: the set of registered room patterns and the matching operations over it
//   - Token: the reserved character that turns a room name into a pattern
//
// A room whose name contains Token is registered as a pattern when it gains its first
// member and deregistered when its last member leaves. Broadcasting to a concrete room
// name then also reaches every registered pattern room that matches the name.
//
// Example usage:
//
//	index.Add("chat.*")
//
//	// Which registered patterns does a concrete room name match?
//	index.Match("chat.general", func(pattern string) {
//		fmt.Println(pattern) // "chat.*"
//	})
//
//	// Which of these names does a pattern match?
//	index.Find("chat.*", []string{"chat.general", "news"}, func(name string) {
//		fmt.Println(name) // "chat.general"
//	})
//
// Pattern semantics:
//   - "*" matches zero or more characters (any character, including ".")
//   - every other character matches itself literally
//   - a pattern must consume the whole candidate string
package wildcard

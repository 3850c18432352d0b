package wildcard

import (
	"regexp"
	"strings"
	"sync"

	"github.com/rmacdonaldsmith/roomadapter-go/pkg/wildcard"
)

// maxCachedPatterns bounds the compiled matcher cache. Find accepts caller supplied
// patterns, so the cache must not grow without limit.
const maxCachedPatterns = 4096

var matchers = newMatcherCache(maxCachedPatterns)

// Matches reports whether pattern fully matches name.
// The compiled matcher for pattern is cached.
func Matches(pattern, name string) bool {
	return matchers.get(pattern).MatchString(name)
}

// Compile translates a room pattern into an anchored regular expression.
// Every Token becomes a non-greedy "match anything" group and all other
// characters are quoted.
func Compile(pattern string) *regexp.Regexp {
	parts := strings.Split(pattern, wildcard.Token)
	for i, part := range parts {
		parts[i] = regexp.QuoteMeta(part)
	}
	return regexp.MustCompile("^" + strings.Join(parts, "(.*?)") + "$")
}

// matcherCache is a bounded pattern -> compiled matcher map.
// When full it is reset rather than evicted piecemeal.
type matcherCache struct {
	mu    sync.RWMutex
	limit int
	byKey map[string]*regexp.Regexp
}

func newMatcherCache(limit int) *matcherCache {
	return &matcherCache{
		limit: limit,
		byKey: make(map[string]*regexp.Regexp),
	}
}

func (c *matcherCache) get(pattern string) *regexp.Regexp {
	c.mu.RLock()
	re, ok := c.byKey[pattern]
	c.mu.RUnlock()
	if ok {
		return re
	}

	re = Compile(pattern)

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.byKey) >= c.limit {
		c.byKey = make(map[string]*regexp.Regexp)
	}
	c.byKey[pattern] = re
	return re
}

func (c *matcherCache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byKey)
}

package wildcard

import (
	"fmt"
	"testing"
)

// BenchmarkInMemoryIndex_Match measures pattern lookup during broadcast resolution
func BenchmarkInMemoryIndex_Match(b *testing.B) {
	idx := NewInMemoryIndex(true)
	for i := 0; i < 100; i++ {
		idx.Add(fmt.Sprintf("tenant-%d.*", i))
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		idx.Match("tenant-42.chat", func(string) {})
	}
}

// BenchmarkCompile measures uncached compilation cost
func BenchmarkCompile(b *testing.B) {
	for i := 0; i < b.N; i++ {
		Compile("orders.*.event.*")
	}
}

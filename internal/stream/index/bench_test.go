package index

import (
	"context"
	"fmt"
	"testing"

	"github.com/lmco/activitysearch/internal/stream/query"
)

const benchContent = "weekly engineering report covering indexing throughput, query latency and the release checklist"

func benchIndex(b *testing.B, n int) *Memory {
	b.Helper()
	m := NewMemory()
	ctx := context.Background()
	for i := 1; i <= n; i++ {
		doc := Document{ID: int64(i), Content: benchContent, Recipient: fmt.Sprintf("g%d", i%50+1), ParentOrgID: int64(i%5 + 1), Public: i%3 != 0}
		if err := m.Index(ctx, doc); err != nil {
			b.Fatalf("Index: %v", err)
		}
	}
	return m
}

func BenchmarkMemoryIndex(b *testing.B) {
	m := NewMemory()
	ctx := context.Background()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.Index(ctx, Document{ID: int64(i + 1), Content: benchContent, Recipient: "g1", Public: true})
	}
}

// BenchmarkMemorySearch measures one window at increasing depth into a
// 10 000 document index.
func BenchmarkMemorySearch(b *testing.B) {
	m := benchIndex(b, 10000)
	q := query.And(query.Keywords("report"), query.Security([]int64{3, 7}))
	for _, offset := range []int{0, 100, 5000} {
		b.Run(fmt.Sprintf("offset_%d", offset), func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				if _, err := m.Search(context.Background(), Request{Query: q, Offset: offset, Limit: 20}); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkMemorySearchParallel(b *testing.B) {
	m := benchIndex(b, 10000)
	q := query.Keywords("release")
	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			m.Search(context.Background(), Request{Query: q, Limit: 10})
		}
	})
}

func BenchmarkAnalyze(b *testing.B) {
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		analyze(benchContent)
	}
}

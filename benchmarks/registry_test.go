package benchmarks

import (
	"testing"

	"github.com/randalmurphal/dispatchkit/pkg/dispatchkit/registry"
)

// BenchmarkRegistry_RegisterDispose measures a register/dispose round trip
// against a populated registry.
func BenchmarkRegistry_RegisterDispose(b *testing.B) {
	r := registry.New[int]()
	for i := 0; i < 1000; i++ {
		r.Register(i%10, i)
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		r.Register(i%10, i).Dispose()
	}
}

// BenchmarkRegistry_Snapshot measures the ordered snapshot a publish
// takes.
func BenchmarkRegistry_Snapshot(b *testing.B) {
	for _, n := range []int{10, 100, 1000} {
		r := registry.New[int]()
		for i := 0; i < n; i++ {
			r.Register(n-i, i)
		}
		b.Run(itoa(n), func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				_ = r.Snapshot()
			}
		})
	}
}

// BenchmarkRegistry_Range measures ordered iteration.
func BenchmarkRegistry_Range(b *testing.B) {
	r := registry.New[int]()
	for i := 0; i < 100; i++ {
		r.Register(i, i)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		sum := 0
		r.Range(func(e *registry.Entry[int]) bool {
			sum += e.Value
			return true
		})
	}
}

// BenchmarkRegistry_ConcurrentChurn registers and disposes from many
// goroutines.
func BenchmarkRegistry_ConcurrentChurn(b *testing.B) {
	r := registry.New[int]()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			r.Register(i%16, i).Dispose()
			i++
		}
	})
}

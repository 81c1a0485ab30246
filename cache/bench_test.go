package cache

import (
	"context"
	"fmt"
	"testing"
)

func newBenchStore(b *testing.B, cfg Config) *Store[[]byte] {
	b.Helper()
	cfg.CleanupInterval = -1
	s, err := New[[]byte](cfg, BytesCodec{})
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { _ = s.Close() })
	return s
}

func BenchmarkStore_Get(b *testing.B) {
	s := newBenchStore(b, Config{})
	ctx := context.Background()
	s.Set(ctx, "present", []byte("value"), SetOptions{})

	for _, key := range []string{"present", "absent"} {
		b.Run(key, func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				_, _ = s.Get(ctx, key)
			}
		})
	}
}

func BenchmarkStore_Set(b *testing.B) {
	s := newBenchStore(b, Config{MaxEntries: 1 << 30})
	ctx := context.Background()
	value := []byte("test value")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.Set(ctx, fmt.Sprintf("key-%d", i), value, SetOptions{})
	}
}

// BenchmarkStore_Set_Evicting measures writes into a full store, where each
// insert scans for a victim.
func BenchmarkStore_Set_Evicting(b *testing.B) {
	for _, size := range []int{100, 1000} {
		b.Run(fmt.Sprintf("entries=%d", size), func(b *testing.B) {
			s := newBenchStore(b, Config{MaxEntries: size})
			ctx := context.Background()
			value := []byte("test value")
			for i := 0; i < size; i++ {
				s.Set(ctx, fmt.Sprintf("seed-%d", i), value, SetOptions{})
			}

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				s.Set(ctx, fmt.Sprintf("key-%d", i), value, SetOptions{})
			}
		})
	}
}

func BenchmarkStore_Get_Parallel(b *testing.B) {
	s := newBenchStore(b, Config{})
	ctx := context.Background()
	for i := 0; i < 100; i++ {
		s.Set(ctx, fmt.Sprintf("key-%d", i), []byte("value"), SetOptions{})
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			_, _ = s.Get(ctx, fmt.Sprintf("key-%d", i%100))
			i++
		}
	})
}

func BenchmarkKeyer_Key(b *testing.B) {
	keyer := NewDefaultKeyer("request")
	input := map[string]any{
		"query":   "test",
		"limit":   10,
		"filters": map[string]any{"type": "a", "status": "active"},
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = keyer.Key("/search", input)
	}
}

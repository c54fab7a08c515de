package storage

import (
	"testing"
	"time"

	"github.com/vjranagit/historian/pkg/types"
)

func TestBlockCache(t *testing.T) {
	cache := NewBlockCache(100, time.Minute)

	// Test cache miss
	if _, ok := cache.Get(1, 0, 1); ok {
		t.Error("Expected cache miss, got hit")
	}

	samples := []types.Sample{
		{SeriesID: 1, Timestamp: 1000, Value: types.NumericValue(42.0)},
	}
	cache.Put(1, 0, 1, samples)

	cached, ok := cache.Get(1, 0, 1)
	if !ok {
		t.Fatal("Expected cache hit, got miss")
	}
	if len(cached) != 1 || cached[0].Value.Numeric() != 42.0 {
		t.Errorf("Unexpected cached block %+v", cached)
	}

	// A newer version visible to the reader must not be served from cache
	if _, ok := cache.Get(1, 0, 2); ok {
		t.Error("Expected miss for newer version")
	}

	stats := cache.Stats()
	if stats.Hits != 1 || stats.Misses != 2 {
		t.Errorf("Expected 1 hit and 2 misses, got %+v", stats)
	}
}

func TestBlockCacheVersionOrdering(t *testing.T) {
	cache := NewBlockCache(10, time.Minute)

	newer := []types.Sample{{SeriesID: 1, Timestamp: 1, Value: types.NumericValue(2)}}
	older := []types.Sample{{SeriesID: 1, Timestamp: 1, Value: types.NumericValue(1)}}

	cache.Put(1, 0, 5, newer)
	cache.Put(1, 0, 3, older)

	if _, ok := cache.Get(1, 0, 3); ok {
		t.Error("Older version should not replace newer")
	}
	got, ok := cache.Get(1, 0, 5)
	if !ok || got[0].Value.Numeric() != 2 {
		t.Errorf("Expected newer block, got %+v (hit=%v)", got, ok)
	}

	cache.Invalidate(1, 0)
	if cache.Size() != 0 {
		t.Errorf("Expected empty cache after invalidate, got %d", cache.Size())
	}
}

func TestBlockCacheTTL(t *testing.T) {
	cache := NewBlockCache(100, 50*time.Millisecond)

	cache.Put(1, 0, 1, []types.Sample{{SeriesID: 1}})
	if _, ok := cache.Get(1, 0, 1); !ok {
		t.Fatal("Expected cache hit immediately after put")
	}

	time.Sleep(100 * time.Millisecond)

	if _, ok := cache.Get(1, 0, 1); ok {
		t.Error("Expected cache miss after TTL expiration")
	}
}

func TestBlockCacheLRUEviction(t *testing.T) {
	cache := NewBlockCache(3, time.Minute)

	for i := int64(0); i < 3; i++ {
		cache.Put(1, i, 1, nil)
	}

	// Access block 0 to make it recently used
	cache.Get(1, 0, 1)

	// Add a fourth block, evicting block 1
	cache.Put(1, 3, 1, nil)

	if _, ok := cache.Get(1, 0, 1); !ok {
		t.Error("Block 0 should still be cached")
	}
	if _, ok := cache.Get(1, 1, 1); ok {
		t.Error("Block 1 should have been evicted")
	}
	if cache.Size() != 3 {
		t.Errorf("Expected size 3, got %d", cache.Size())
	}
}

func TestBlockCacheDisabled(t *testing.T) {
	cache := NewBlockCache(0, time.Minute)

	cache.Put(1, 0, 1, []types.Sample{{SeriesID: 1}})
	if _, ok := cache.Get(1, 0, 1); ok {
		t.Error("Disabled cache should never hit")
	}
	if cache.HitRate() != 0 {
		t.Errorf("Expected zero hit rate, got %f", cache.HitRate())
	}
}

package storage

import (
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/vjranagit/historian/pkg/metrics"
	"github.com/vjranagit/historian/pkg/types"
)

// blockKey identifies one decoded block of one series
type blockKey struct {
	series int32
	block  int64
}

// cachedBlock is a decoded block tagged with the store version it was read at
type cachedBlock struct {
	version uint64
	samples []types.Sample
}

// BlockCache keeps recently decoded blocks so overlapping queries skip
// decompression. A lookup only hits when the stored version matches the
// version visible to the reader.
type BlockCache struct {
	lru    *expirable.LRU[blockKey, cachedBlock]
	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewBlockCache creates a block cache. A non-positive capacity disables it.
func NewBlockCache(capacity int, ttl time.Duration) *BlockCache {
	if capacity <= 0 {
		return nil
	}
	return &BlockCache{
		lru: expirable.NewLRU[blockKey, cachedBlock](capacity, nil, ttl),
	}
}

// Get returns the decoded samples of a block at the given version. The slice
// must not be modified.
func (bc *BlockCache) Get(series int32, block int64, version uint64) ([]types.Sample, bool) {
	if bc == nil {
		return nil, false
	}
	cb, ok := bc.lru.Get(blockKey{series, block})
	ok = ok && cb.version == version
	if ok {
		bc.hits.Add(1)
		metrics.BlockCacheRequests.WithLabelValues("hit").Inc()
	} else {
		bc.misses.Add(1)
		metrics.BlockCacheRequests.WithLabelValues("miss").Inc()
	}
	return cb.samples, ok
}

// Put stores a decoded block. An older version never replaces a newer one.
func (bc *BlockCache) Put(series int32, block int64, version uint64, samples []types.Sample) {
	if bc == nil {
		return
	}
	key := blockKey{series, block}
	if cur, ok := bc.lru.Peek(key); ok && cur.version > version {
		return
	}
	bc.lru.Add(key, cachedBlock{version: version, samples: samples})
}

// Invalidate drops a block after it was rewritten
func (bc *BlockCache) Invalidate(series int32, block int64) {
	if bc == nil {
		return
	}
	bc.lru.Remove(blockKey{series, block})
}

// Size returns the current cache size
func (bc *BlockCache) Size() int {
	if bc == nil {
		return 0
	}
	return bc.lru.Len()
}

// CacheStats contains cache statistics
type CacheStats struct {
	Size   int
	Hits   uint64
	Misses uint64
}

// Stats returns cache statistics
func (bc *BlockCache) Stats() CacheStats {
	if bc == nil {
		return CacheStats{}
	}
	return CacheStats{
		Size:   bc.lru.Len(),
		Hits:   bc.hits.Load(),
		Misses: bc.misses.Load(),
	}
}

// HitRate returns the cache hit rate as a percentage
func (bc *BlockCache) HitRate() float64 {
	st := bc.Stats()
	total := st.Hits + st.Misses
	if total == 0 {
		return 0.0
	}
	return float64(st.Hits) / float64(total) * 100.0
}

package embedding

import (
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultQueryCacheSize is the default number of query embeddings to keep.
const DefaultQueryCacheSize = 256

// QueryCache is an LRU cache of query embeddings keyed by text and provider identity.
type QueryCache struct {
	cache *lru.Cache[string, []float32]
}

// NewQueryCache creates a cache with the given capacity.
func NewQueryCache(capacity int) *QueryCache {
	if capacity <= 0 {
		capacity = DefaultQueryCacheSize
	}
	cache, _ := lru.New[string, []float32](capacity)
	return &QueryCache{cache: cache}
}

func cacheKey(id ProviderIdentity, text string) string {
	sum := sha256.Sum256([]byte(id.Name + "\x00" + id.Version + "\x00" + text))
	return hex.EncodeToString(sum[:])
}

// Get returns the cached embedding for text under id.
func (c *QueryCache) Get(id ProviderIdentity, text string) ([]float32, bool) {
	return c.cache.Get(cacheKey(id, text))
}

// Add stores the embedding for text under id, evicting the oldest entry if at capacity.
func (c *QueryCache) Add(id ProviderIdentity, text string, vec []float32) {
	c.cache.Add(cacheKey(id, text), vec)
}

// Len returns the number of cached entries.
func (c *QueryCache) Len() int {
	return c.cache.Len()
}

// Purge drops every entry.
func (c *QueryCache) Purge() {
	c.cache.Purge()
}

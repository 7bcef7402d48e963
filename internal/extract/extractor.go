package extract

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// result caches both scores for one input text.
type result struct {
	topics     []string
	importance float64
}

// Extractor wraps the pure scoring functions behind an LRU cache.
//
// The chunker and the session manager score the same message text several
// times per pipeline pass; the cache keeps repeated extraction cheap
// without changing any observable result.
type Extractor struct {
	cache *lru.Cache[string, result]
}

// DefaultCacheSize is the number of distinct texts kept in the cache.
const DefaultCacheSize = 2048

// NewExtractor creates an Extractor with the given cache size. Sizes < 1
// fall back to DefaultCacheSize.
func NewExtractor(cacheSize int) *Extractor {
	if cacheSize < 1 {
		cacheSize = DefaultCacheSize
	}
	// lru.New only fails for size < 1, which is excluded above.
	cache, _ := lru.New[string, result](cacheSize)
	return &Extractor{cache: cache}
}

// Topics returns the topic set for text, from cache when available.
func (e *Extractor) Topics(text string) []string {
	if r, ok := e.cache.Get(text); ok {
		return r.topics
	}
	r := result{topics: Topics(text), importance: Importance(text)}
	e.cache.Add(text, r)
	return r.topics
}

// Importance returns the importance score for text, from cache when available.
func (e *Extractor) Importance(text string) float64 {
	if r, ok := e.cache.Get(text); ok {
		return r.importance
	}
	r := result{topics: Topics(text), importance: Importance(text)}
	e.cache.Add(text, r)
	return r.importance
}

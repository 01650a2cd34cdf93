package embedding

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"grimoire/internal/corpus"
)

// CorpusVectors is an embedded corpus snapshot: vectors index-aligned with
// records, all produced by the same model. Read-only once built.
type CorpusVectors struct {
	Records []corpus.Record
	Vectors [][]float32
	Hash    string
}

// Cache memoizes corpus embeddings keyed by corpus content hash plus model
// name. Population is single-flight: concurrent first requests for the same
// snapshot share one embedding pass instead of each paying for it. Reads
// after population take an RLock only.
type Cache struct {
	svc   *Service
	group singleflight.Group

	mu      sync.RWMutex
	entries map[string]*CorpusVectors
}

// NewCache creates a Cache over the given embedding service.
func NewCache(svc *Service) *Cache {
	return &Cache{
		svc:     svc,
		entries: make(map[string]*CorpusVectors),
	}
}

// Get returns the embedded vectors for the given corpus snapshot, computing
// and storing them on first use.
func (c *Cache) Get(ctx context.Context, records []corpus.Record) (*CorpusVectors, error) {
	hash := corpus.Hash(records)
	key := hash + "|" + c.svc.Model()

	c.mu.RLock()
	cv, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		return cv, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		// Re-check under the group: a previous flight may have stored it.
		c.mu.RLock()
		cv, ok := c.entries[key]
		c.mu.RUnlock()
		if ok {
			return cv, nil
		}

		vectors, err := c.svc.EmbedCorpus(ctx, records)
		if err != nil {
			return nil, err
		}

		cv = &CorpusVectors{Records: records, Vectors: vectors, Hash: hash}
		c.mu.Lock()
		c.entries[key] = cv
		c.mu.Unlock()
		return cv, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*CorpusVectors), nil
}

// Len reports how many corpus snapshots are cached.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

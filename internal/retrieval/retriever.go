package retrieval

import (
	"context"

	"grimoire/internal/corpus"
	"grimoire/internal/embedding"
)

// Retriever combines query embedding, the cached corpus vector table, and
// cosine ranking to find the records most relevant to a query.
type Retriever struct {
	embedder *embedding.Service
	cache    *embedding.Cache
	records  []corpus.Record
	topK     int
}

// NewRetriever creates a Retriever over a fixed corpus snapshot.
// topK is the default result count (DefaultTopK if <= 0).
func NewRetriever(embedder *embedding.Service, cache *embedding.Cache, records []corpus.Record, topK int) *Retriever {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Retriever{
		embedder: embedder,
		cache:    cache,
		records:  records,
		topK:     topK,
	}
}

// Retrieve embeds the query and returns the top-K most similar corpus
// records. Pass topK <= 0 to use the retriever's default.
func (r *Retriever) Retrieve(ctx context.Context, query string, topK int) ([]Result, error) {
	queryVec, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	cv, err := r.cache.Get(ctx, r.records)
	if err != nil {
		return nil, err
	}

	if topK <= 0 {
		topK = r.topK
	}
	return Rank(queryVec, cv.Vectors, cv.Records, topK)
}

// Warm populates the corpus vector cache so the first query doesn't pay
// for a full corpus embedding pass.
func (r *Retriever) Warm(ctx context.Context) error {
	_, err := r.cache.Get(ctx, r.records)
	return err
}

// Size reports how many records the retriever searches over.
func (r *Retriever) Size() int {
	return len(r.records)
}

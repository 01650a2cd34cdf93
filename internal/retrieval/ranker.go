package retrieval

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"grimoire/internal/corpus"
)

// ErrEmptyCorpus is returned when ranking is attempted against an empty
// vector set. This is a data/configuration error, not a crash: cosine
// similarity over zero vectors is an explicit boundary.
var ErrEmptyCorpus = errors.New("empty corpus")

// DefaultTopK is used when the caller passes a non-positive k.
const DefaultTopK = 3

// Result is a corpus record ranked against a query, with its cosine
// similarity in [-1, 1]. Derived per query, never persisted.
type Result struct {
	Title string
	Text  string
	Score float32
}

// Rank scores every corpus vector against the query vector and returns the
// top-K records in descending similarity order. vectors and records must be
// index-aligned. Ties keep original corpus order so results are
// deterministic. The brute-force scan is O(n·d); swapping in an approximate
// index later only requires honoring the same contract.
func Rank(query []float32, vectors [][]float32, records []corpus.Record, topK int) ([]Result, error) {
	if len(vectors) == 0 {
		return nil, ErrEmptyCorpus
	}
	if len(vectors) != len(records) {
		return nil, fmt.Errorf("vectors (%d) and records (%d) are not index-aligned", len(vectors), len(records))
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	if topK > len(records) {
		topK = len(records)
	}

	queryNorm := norm(query)

	scores := make([]float32, len(vectors))
	order := make([]int, len(vectors))
	for i, v := range vectors {
		scores[i] = cosine(query, v, queryNorm)
		order[i] = i
	}

	// Stable sort keeps corpus order for equal scores.
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})

	results := make([]Result, topK)
	for i := 0; i < topK; i++ {
		idx := order[i]
		results[i] = Result{
			Title: records[idx].Title,
			Text:  records[idx].Text,
			Score: scores[idx],
		}
	}
	return results, nil
}

// norm returns the L2 norm of a vector.
func norm(v []float32) float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return float32(math.Sqrt(sum))
}

// cosine computes dot(a,b) / (aNorm * |b|). aNorm is the precomputed L2
// norm of a. Vectors are not assumed normalized; a zero vector on either
// side scores 0.
func cosine(a, b []float32, aNorm float32) float32 {
	if len(a) != len(b) || aNorm == 0 {
		return 0
	}
	var dot float64
	var bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	bNorm := math.Sqrt(bNormSq)
	if bNorm == 0 {
		return 0
	}
	return float32(dot / (float64(aNorm) * bNorm))
}

package embedding

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"grimoire/internal/corpus"
)

// ErrUnavailable is returned when the embedding backend cannot be reached
// or rejects a request. Callers surface it as service-unavailable.
var ErrUnavailable = errors.New("embedding backend unavailable")

// Backend abstracts the sentence-embedding API.
type Backend interface {
	Embed(ctx context.Context, model string, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, model string, texts []string) ([][]float32, error)
}

// Service maps text to fixed-length vectors using one embedding model.
// It holds no mutable state and is safe for concurrent use; construct it
// once at startup and pass it by reference to the pipeline stages.
type Service struct {
	backend Backend
	model   string
}

// NewService creates a Service using the given backend and model name.
func NewService(b Backend, model string) *Service {
	return &Service{backend: b, model: model}
}

// Model returns the embedding model name. It participates in corpus cache
// keys: vectors from different models are never interchangeable.
func (s *Service) Model() string {
	return s.model
}

// EmbedQuery returns the embedding vector for a single query text.
func (s *Service) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vec, err := s.backend.Embed(ctx, s.model, text)
	if err != nil {
		return nil, fmt.Errorf("%w: embedding query: %v", ErrUnavailable, err)
	}
	return vec, nil
}

// batchSize is how many records go into one backend call.
const batchSize = 16

// EmbedCorpus embeds every record and returns vectors index-aligned with
// the input. Records are embedded as "title\ntext". Batches run with
// bounded concurrency; any failure aborts the whole call with no partial
// result.
func (s *Service) EmbedCorpus(ctx context.Context, records []corpus.Record) ([][]float32, error) {
	if len(records) == 0 {
		return nil, nil
	}

	texts := make([]string, len(records))
	for i, r := range records {
		texts[i] = r.Title + "\n" + r.Text
	}

	vectors := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4) // Bound concurrency to avoid overwhelming the backend.

	for start := 0; start < len(texts); start += batchSize {
		start := start
		end := min(start+batchSize, len(texts))
		g.Go(func() error {
			batch, err := s.backend.EmbedBatch(gCtx, s.model, texts[start:end])
			if err != nil {
				return fmt.Errorf("%w: embedding records %d-%d: %v", ErrUnavailable, start, end-1, err)
			}
			copy(vectors[start:end], batch)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}

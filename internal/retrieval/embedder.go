package retrieval

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/xviolet/violetmem/internal/storage"
)

// EmbeddingClient produces raw embedding vectors for text. Implemented by
// internal/ollama.Client.
type EmbeddingClient interface {
	Embed(ctx context.Context, model, text string) ([]float32, error)
}

// Embedder binds an EmbeddingClient to the store's fixed model and
// dimension. Every vector leaving here has the right width; switching to a
// model with a different width surfaces as ErrDimensionMismatch instead of
// quietly poisoning the index.
type Embedder struct {
	client EmbeddingClient
	model  string
	dim    int
}

// NewEmbedder creates an Embedder for the given model and dimension.
func NewEmbedder(client EmbeddingClient, model string, dim int) *Embedder {
	return &Embedder{client: client, model: model, dim: dim}
}

// Embed returns the embedding vector for a single text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.client.Embed(ctx, e.model, text)
	if err != nil {
		return nil, fmt.Errorf("embedding text: %w", err)
	}
	if len(vec) != e.dim {
		return nil, fmt.Errorf("model %s returned %d dimensions, store expects %d: %w",
			e.model, len(vec), e.dim, storage.ErrDimensionMismatch)
	}
	return vec, nil
}

// EmbedBatch returns embedding vectors for multiple texts concurrently.
// Returns nil (not error) for empty/nil input.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	results := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4) // Bound concurrency to avoid overwhelming the embedding backend.

	for i, text := range texts {
		g.Go(func() error {
			vec, err := e.Embed(gCtx, text)
			if err != nil {
				return fmt.Errorf("text %d: %w", i, err)
			}
			results[i] = vec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Dimension returns the vector width this embedder produces.
func (e *Embedder) Dimension() int {
	return e.dim
}

package retrieval

import (
	"context"
	"fmt"

	"github.com/xviolet/violetmem/internal/storage"
)

// Result is one recalled tweet with its distance to the query.
type Result struct {
	Tweet    storage.Tweet `json:"tweet"`
	Distance float32       `json:"distance"`
}

// TweetSource hydrates match ids back into full tweet records. Implemented
// by *storage.Store.
type TweetSource interface {
	GetTweets(ids []string) ([]storage.Tweet, error)
}

// Retriever answers similarity queries end to end: embed the query text (or
// take a caller-supplied vector), search the index, hydrate the winners from
// the relational store.
type Retriever struct {
	embedder *Embedder
	index    Index
	source   TweetSource
}

// NewRetriever wires an embedder, an index, and the tweet store together.
func NewRetriever(embedder *Embedder, index Index, source TweetSource) *Retriever {
	return &Retriever{embedder: embedder, index: index, source: source}
}

// FindSimilar returns up to k stored tweets nearest to the given vector,
// ordered by ascending cosine distance, most recent first on ties.
func (r *Retriever) FindSimilar(ctx context.Context, vector []float32, k int, f Filter) ([]Result, error) {
	matches, err := r.index.Search(ctx, vector, k, f)
	if err != nil {
		return nil, err
	}
	return r.hydrate(matches)
}

// FindSimilarText embeds the query text first, then searches.
func (r *Retriever) FindSimilarText(ctx context.Context, text string, k int, f Filter) ([]Result, error) {
	vec, err := r.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	return r.FindSimilar(ctx, vec, k, f)
}

// hydrate resolves match ids against the relational store, preserving the
// index order. Ids the store no longer knows are dropped rather than
// surfaced as holes.
func (r *Retriever) hydrate(matches []Match) ([]Result, error) {
	if len(matches) == 0 {
		return nil, nil
	}
	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.TweetID
	}
	tweets, err := r.source.GetTweets(ids)
	if err != nil {
		return nil, fmt.Errorf("hydrating %d matches: %w", len(matches), err)
	}
	byID := make(map[string]storage.Tweet, len(tweets))
	for _, t := range tweets {
		byID[t.ID] = t
	}

	results := make([]Result, 0, len(matches))
	for _, m := range matches {
		t, ok := byID[m.TweetID]
		if !ok {
			continue
		}
		results = append(results, Result{Tweet: t, Distance: m.Distance})
	}
	return results, nil
}

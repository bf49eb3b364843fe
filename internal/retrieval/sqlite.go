package retrieval

import (
	"container/heap"
	"context"
	"fmt"
	"math"
	"time"

	"github.com/xviolet/violetmem/internal/storage"
)

// Compile-time check that SQLiteIndex implements Index.
var _ Index = (*SQLiteIndex)(nil)

// SQLiteIndex answers similarity queries with a brute-force cosine scan over
// the embeddings the relational store already holds. Exact results, no extra
// infrastructure, O(N) per query; past roughly 100K embeddings put qdrant in
// front and keep this as the fallback.
type SQLiteIndex struct {
	store *storage.Store
}

// NewSQLiteIndex wraps the relational store for vector search.
func NewSQLiteIndex(store *storage.Store) *SQLiteIndex {
	return &SQLiteIndex{store: store}
}

func (s *SQLiteIndex) Name() string { return "sqlite" }

// Add is a no-op: AttachEmbedding writes the vector into tweet_embeddings in
// its own transaction, so the scan always sees current data.
func (s *SQLiteIndex) Add(ctx context.Context, points []Point) error {
	return nil
}

// Search scans every attached embedding, tracking the k best candidates in a
// heap rooted at the current worst so each losing row costs one comparison.
func (s *SQLiteIndex) Search(ctx context.Context, vector []float32, k int, f Filter) ([]Match, error) {
	if k <= 0 {
		return nil, nil
	}
	queryNorm := norm(vector)
	if queryNorm == 0 {
		return nil, nil
	}

	h := &matchHeap{}
	heap.Init(h)

	filter := storage.EmbeddingFilter{ConversationID: f.ConversationID, UserID: f.UserID}
	err := s.store.ScanEmbeddings(filter, func(tweetID string, createdAt time.Time, vec []float32) error {
		m := Match{
			TweetID:   tweetID,
			Distance:  1 - cosine(vector, vec, queryNorm),
			CreatedAt: createdAt,
		}
		if h.Len() < k {
			heap.Push(h, m)
		} else if better(m, (*h)[0]) {
			(*h)[0] = m
			heap.Fix(h, 0)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning embeddings: %w", err)
	}

	// Pop yields worst-first; fill the result back to front.
	matches := make([]Match, h.Len())
	for i := len(matches) - 1; i >= 0; i-- {
		matches[i] = heap.Pop(h).(Match)
	}
	return matches, nil
}

// Count returns the number of stored embeddings.
func (s *SQLiteIndex) Count(ctx context.Context) (int, error) {
	return s.store.EmbeddingCount()
}

// norm returns the L2 norm of a vector.
func norm(v []float32) float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return float32(math.Sqrt(sum))
}

// cosine computes cosine similarity as dot(a,b) / (aNorm * bNorm).
// aNorm is the precomputed L2 norm of vector a.
func cosine(a, b []float32, aNorm float32) float32 {
	if len(a) != len(b) {
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

// matchHeap keeps the k best matches seen so far, worst at the root so it
// can be evicted in O(log k).
type matchHeap []Match

func (h matchHeap) Len() int           { return len(h) }
func (h matchHeap) Less(i, j int) bool { return better(h[j], h[i]) }
func (h matchHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *matchHeap) Push(x any)        { *h = append(*h, x.(Match)) }
func (h *matchHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

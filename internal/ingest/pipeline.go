package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xviolet/violetmem/internal/retrieval"
	"github.com/xviolet/violetmem/internal/storage"
)

// TweetStore abstracts the storage operations the pipeline needs.
type TweetStore interface {
	AttachEmbedding(tweetID string, vector []float32) (int64, error)
	GetUnprocessed(limit int) ([]storage.Tweet, error)
	GetTweets(ids []string) ([]storage.Tweet, error)
	ScanEmbeddings(f storage.EmbeddingFilter, fn func(tweetID string, createdAt time.Time, vector []float32) error) error
}

// ContentEmbedder generates embeddings for tweet text.
type ContentEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// reindexBatch caps how many embeddings are hydrated and re-added per flush.
const reindexBatch = 256

// Pipeline attaches embeddings to stored tweets and mirrors them into the
// vector index. The sqlite row is the durable write; a mirror failure is
// logged and repaired later by Reindex rather than failing the attach.
type Pipeline struct {
	store  TweetStore
	index  retrieval.Index
	logger *slog.Logger
}

// NewPipeline creates a Pipeline over the given store and index.
func NewPipeline(store TweetStore, index retrieval.Index) *Pipeline {
	return &Pipeline{
		store:  store,
		index:  index,
		logger: slog.Default(),
	}
}

// Attach stores the vector for a tweet and mirrors it into the index.
// Returns the new embedding row id.
func (p *Pipeline) Attach(ctx context.Context, t storage.Tweet, vector []float32) (int64, error) {
	id, err := p.store.AttachEmbedding(t.ID, vector)
	if err != nil {
		return 0, err
	}

	point := retrieval.Point{
		TweetID:        t.ID,
		Vector:         vector,
		Text:           t.Text,
		UserID:         t.UserID,
		ConversationID: t.ConversationID,
		CreatedAt:      t.CreatedAt,
	}
	if err := p.index.Add(ctx, []retrieval.Point{point}); err != nil {
		p.logger.Warn("index mirror write failed", "tweet_id", t.ID, "backend", p.index.Name(), "error", err)
	}
	return id, nil
}

// Reindex streams every stored embedding out of sqlite and re-adds it to the
// index backends. Returns the number of embeddings written. Used to repair
// mirrors after downtime or to populate a freshly configured backend.
func (p *Pipeline) Reindex(ctx context.Context) (int, error) {
	var (
		ids     []string
		vectors [][]float32
		total   int
	)

	flush := func() error {
		if len(ids) == 0 {
			return nil
		}
		tweets, err := p.store.GetTweets(ids)
		if err != nil {
			return fmt.Errorf("hydrating %d tweets: %w", len(ids), err)
		}
		byID := make(map[string]storage.Tweet, len(tweets))
		for _, t := range tweets {
			byID[t.ID] = t
		}

		points := make([]retrieval.Point, 0, len(ids))
		for i, id := range ids {
			t, ok := byID[id]
			if !ok {
				continue
			}
			points = append(points, retrieval.Point{
				TweetID:        t.ID,
				Vector:         vectors[i],
				Text:           t.Text,
				UserID:         t.UserID,
				ConversationID: t.ConversationID,
				CreatedAt:      t.CreatedAt,
			})
		}
		if err := p.index.Add(ctx, points); err != nil {
			return fmt.Errorf("re-adding %d points: %w", len(points), err)
		}
		total += len(points)
		ids = ids[:0]
		vectors = vectors[:0]
		return nil
	}

	err := p.store.ScanEmbeddings(storage.EmbeddingFilter{}, func(tweetID string, _ time.Time, vector []float32) error {
		vec := make([]float32, len(vector))
		copy(vec, vector)
		ids = append(ids, tweetID)
		vectors = append(vectors, vec)
		if len(ids) >= reindexBatch {
			return flush()
		}
		return nil
	})
	if err != nil {
		return total, fmt.Errorf("scanning embeddings: %w", err)
	}
	if err := flush(); err != nil {
		return total, err
	}
	return total, nil
}

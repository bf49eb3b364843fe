package retrieval

import (
	"context"
	"fmt"
	"time"

	chromem "github.com/philippgille/chromem-go"
)

// Compile-time check that ChromemIndex implements Index.
var _ Index = (*ChromemIndex)(nil)

// ChromemIndex keeps embeddings in chromem-go, an embedded pure-Go vector
// database. In-memory by default; given a path it persists documents under
// that directory. A middle ground when the sqlite scan is too slow but
// running qdrant is too much infrastructure.
type ChromemIndex struct {
	col *chromem.Collection
}

// NewChromemIndex opens an embedded index. An empty path keeps everything in
// memory.
func NewChromemIndex(path, collection string) (*ChromemIndex, error) {
	var db *chromem.DB
	var err error
	if path == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(path, false)
		if err != nil {
			return nil, fmt.Errorf("opening chromem db at %s: %w", path, err)
		}
	}
	// Embeddings arrive precomputed, so no embedding func is registered.
	col, err := db.GetOrCreateCollection(collection, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("opening chromem collection %q: %w", collection, err)
	}
	return &ChromemIndex{col: col}, nil
}

func (c *ChromemIndex) Name() string { return "chromem" }

// Add stores one document per tweet with the filterable fields as metadata.
// Same-id adds replace the document.
func (c *ChromemIndex) Add(ctx context.Context, points []Point) error {
	for _, p := range points {
		doc := chromem.Document{
			ID:        p.TweetID,
			Content:   p.Text,
			Embedding: p.Vector,
			Metadata: map[string]string{
				"user_id":         p.UserID,
				"conversation_id": p.ConversationID,
				"created_at":      p.CreatedAt.UTC().Format(time.RFC3339),
			},
		}
		if err := c.col.AddDocument(ctx, doc); err != nil {
			return fmt.Errorf("adding document %s: %w", p.TweetID, err)
		}
	}
	return nil
}

// Search queries by embedding with metadata where-filters. chromem rejects
// result counts above the collection size, so k is clamped first.
func (c *ChromemIndex) Search(ctx context.Context, vector []float32, k int, f Filter) ([]Match, error) {
	if k <= 0 {
		return nil, nil
	}
	if n := c.col.Count(); k > n {
		k = n
	}
	if k == 0 {
		return nil, nil
	}

	var where map[string]string
	if f.ConversationID != "" || f.UserID != "" {
		where = make(map[string]string)
		if f.ConversationID != "" {
			where["conversation_id"] = f.ConversationID
		}
		if f.UserID != "" {
			where["user_id"] = f.UserID
		}
	}

	results, err := c.col.QueryEmbedding(ctx, vector, k, where, nil)
	if err != nil {
		return nil, fmt.Errorf("querying chromem: %w", err)
	}

	matches := make([]Match, 0, len(results))
	for _, r := range results {
		m := Match{TweetID: r.ID, Distance: 1 - r.Similarity}
		if t, err := time.Parse(time.RFC3339, r.Metadata["created_at"]); err == nil {
			m.CreatedAt = t
		}
		matches = append(matches, m)
	}
	sortMatches(matches)
	return matches, nil
}

// Count returns the number of stored documents.
func (c *ChromemIndex) Count(ctx context.Context) (int, error) {
	return c.col.Count(), nil
}

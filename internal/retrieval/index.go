package retrieval

import (
	"context"
	"time"
)

// Index is a similarity-search backend over tweet embeddings. The relational
// store stays the source of truth; an Index only answers which stored tweets
// lie nearest to a query vector. Three implementations exist: sqlite (exact
// scan, default), qdrant (remote ANN), chromem (embedded). Fallback chains
// them.
//
// Distance is cosine distance (1 - cosine similarity): 0 for identical
// direction, 1 for orthogonal, 2 for opposite. Search results come back in
// ascending distance, ties broken by most-recent tweet.
type Index interface {
	// Name identifies the backend in logs and config.
	Name() string

	// Add upserts points. Re-adding a tweet's point replaces its vector.
	Add(ctx context.Context, points []Point) error

	// Search returns up to k nearest points, optionally narrowed by a filter.
	Search(ctx context.Context, vector []float32, k int, f Filter) ([]Match, error)

	// Count returns the number of indexed points.
	Count(ctx context.Context) (int, error)
}

// Point is one tweet's embedding plus the payload fields filters run on.
type Point struct {
	TweetID        string
	Vector         []float32
	Text           string
	UserID         string
	ConversationID string
	CreatedAt      time.Time
}

// Match is a single search hit.
type Match struct {
	TweetID   string
	Distance  float32
	CreatedAt time.Time
}

// Filter narrows a search to one conversation or one author. The zero value
// matches everything.
type Filter struct {
	ConversationID string
	UserID         string
}

// better reports whether a should rank ahead of b: smaller distance first,
// more recent tweet on a tie.
func better(a, b Match) bool {
	if a.Distance != b.Distance {
		return a.Distance < b.Distance
	}
	return a.CreatedAt.After(b.CreatedAt)
}

// sortMatches orders matches by ascending distance, most recent first on
// ties. Insertion sort; result sets are k-sized.
func sortMatches(matches []Match) {
	for i := 1; i < len(matches); i++ {
		for j := i; j > 0 && better(matches[j], matches[j-1]); j-- {
			matches[j], matches[j-1] = matches[j-1], matches[j]
		}
	}
}

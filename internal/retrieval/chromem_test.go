package retrieval

import (
	"context"
	"math"
	"testing"
	"time"
)

func chromemSeeds() []Point {
	return []Point{
		{TweetID: "a", Vector: []float32{1, 0, 0}, Text: "alpha", UserID: "u1", ConversationID: "c1", CreatedAt: seedBase},
		{TweetID: "b", Vector: []float32{0.6, 0.8, 0}, Text: "beta", UserID: "u2", ConversationID: "c1", CreatedAt: seedBase.Add(time.Minute)},
		{TweetID: "c", Vector: []float32{0, 1, 0}, Text: "gamma", UserID: "u1", ConversationID: "c2", CreatedAt: seedBase.Add(2 * time.Minute)},
	}
}

func openChromem(t *testing.T) *ChromemIndex {
	t.Helper()
	idx, err := NewChromemIndex("", "tweets")
	if err != nil {
		t.Fatalf("NewChromemIndex: %v", err)
	}
	if err := idx.Add(context.Background(), chromemSeeds()); err != nil {
		t.Fatalf("Add: %v", err)
	}
	return idx
}

// TestChromemSearchOrder verifies cosine ranking against known unit vectors.
func TestChromemSearchOrder(t *testing.T) {
	idx := openChromem(t)

	matches, err := idx.Search(context.Background(), []float32{1, 0, 0}, 3, Filter{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if got := matchIDs(matches); len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("matches = %v, want [a b c]", got)
	}
	if matches[0].Distance > 1e-3 {
		t.Errorf("exact match distance = %v, want ~0", matches[0].Distance)
	}
	if math.Abs(float64(matches[1].Distance)-0.4) > 1e-3 {
		t.Errorf("b distance = %v, want ~0.4", matches[1].Distance)
	}
}

// TestChromemSearchClampsK asks for more results than documents exist.
func TestChromemSearchClampsK(t *testing.T) {
	idx := openChromem(t)

	matches, err := idx.Search(context.Background(), []float32{1, 0, 0}, 50, Filter{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 3 {
		t.Errorf("got %d matches, want 3", len(matches))
	}

	matches, err = idx.Search(context.Background(), []float32{1, 0, 0}, 0, Filter{})
	if err != nil {
		t.Fatalf("Search k=0: %v", err)
	}
	if matches != nil {
		t.Errorf("k=0 returned %v, want nil", matches)
	}
}

// TestChromemSearchEmptyCollection returns no matches without error.
func TestChromemSearchEmptyCollection(t *testing.T) {
	idx, err := NewChromemIndex("", "empty")
	if err != nil {
		t.Fatalf("NewChromemIndex: %v", err)
	}

	matches, err := idx.Search(context.Background(), []float32{1, 0, 0}, 5, Filter{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if matches != nil {
		t.Errorf("matches = %v, want nil", matches)
	}
}

// TestChromemSearchFilters restricts matches by metadata.
func TestChromemSearchFilters(t *testing.T) {
	idx := openChromem(t)

	matches, err := idx.Search(context.Background(), []float32{1, 0, 0}, 10, Filter{ConversationID: "c1"})
	if err != nil {
		t.Fatalf("Search (conversation): %v", err)
	}
	if got := matchIDs(matches); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("conversation filter = %v, want [a b]", got)
	}

	matches, err = idx.Search(context.Background(), []float32{1, 0, 0}, 10, Filter{UserID: "u1"})
	if err != nil {
		t.Fatalf("Search (user): %v", err)
	}
	if got := matchIDs(matches); len(got) != 2 || got[0] != "a" || got[1] != "c" {
		t.Errorf("user filter = %v, want [a c]", got)
	}
}

// TestChromemCount reports the number of stored documents.
func TestChromemCount(t *testing.T) {
	idx := openChromem(t)

	n, err := idx.Count(context.Background())
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 3 {
		t.Errorf("Count = %d, want 3", n)
	}
}

// TestChromemPersistence reopens a persistent collection and finds the
// previously written documents.
func TestChromemPersistence(t *testing.T) {
	dir := t.TempDir()

	idx, err := NewChromemIndex(dir, "tweets")
	if err != nil {
		t.Fatalf("NewChromemIndex: %v", err)
	}
	if err := idx.Add(context.Background(), chromemSeeds()); err != nil {
		t.Fatalf("Add: %v", err)
	}

	reopened, err := NewChromemIndex(dir, "tweets")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	n, err := reopened.Count(context.Background())
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 3 {
		t.Errorf("Count after reopen = %d, want 3", n)
	}

	matches, err := reopened.Search(context.Background(), []float32{0, 1, 0}, 1, Filter{})
	if err != nil {
		t.Fatalf("Search after reopen: %v", err)
	}
	if len(matches) != 1 || matches[0].TweetID != "c" {
		t.Errorf("matches = %v, want [c]", matches)
	}
}

// TestChromemOverwrite re-adds a tweet with a new vector and expects the
// replacement to win.
func TestChromemOverwrite(t *testing.T) {
	idx := openChromem(t)

	err := idx.Add(context.Background(), []Point{
		{TweetID: "a", Vector: []float32{0, 0, 1}, Text: "alpha v2", UserID: "u1", ConversationID: "c1", CreatedAt: seedBase},
	})
	if err != nil {
		t.Fatalf("Add (overwrite): %v", err)
	}

	n, err := idx.Count(context.Background())
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 3 {
		t.Errorf("Count = %d, want 3 (same document id replaced)", n)
	}

	matches, err := idx.Search(context.Background(), []float32{0, 0, 1}, 1, Filter{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 1 || matches[0].TweetID != "a" {
		t.Errorf("matches = %v, want [a]", matches)
	}
	if matches[0].Distance > 1e-3 {
		t.Errorf("distance = %v, want ~0 for replaced vector", matches[0].Distance)
	}
}

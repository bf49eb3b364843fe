package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when inserting a record whose key is already stored.
var ErrDuplicate = errors.New("duplicate key")

// ErrDimensionMismatch is returned when an embedding's width does not match
// the dimension the store was opened with.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// ErrUnavailable is returned when a storage or index backend cannot be reached.
var ErrUnavailable = errors.New("storage unavailable")

type Tweet struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	Username       string    `json:"username"`
	CreatedAt      time.Time `json:"created_at"`
	ConversationID string    `json:"conversation_id"`
	InReplyTo      string    `json:"in_reply_to,omitempty"` // empty for top-level tweets
	Text           string    `json:"text"`
	Processed      bool      `json:"processed"`
	EmbeddingID    int64     `json:"embedding_id,omitempty"` // 0 until an embedding is attached
}

type Conversation struct {
	ID          string    `json:"id"`
	RootTweetID string    `json:"root_tweet_id"`
	LastUpdated time.Time `json:"last_updated"`
}

type Embedding struct {
	ID        int64     `json:"id"`
	TweetID   string    `json:"tweet_id"`
	Vector    []float32 `json:"vector"`
	CreatedAt time.Time `json:"created_at"`
}

// Stats summarizes the store for the /stats endpoint and CLI.
type Stats struct {
	Tweets        int `json:"tweets"`
	Conversations int `json:"conversations"`
	Embeddings    int `json:"embeddings"`
	Unprocessed   int `json:"unprocessed"`
	Interactions  int `json:"interactions"`
	Dimension     int `json:"dimension"`
}

// EmbeddingFilter narrows an embedding scan to one conversation or author.
// Zero value scans everything.
type EmbeddingFilter struct {
	ConversationID string
	UserID         string
}

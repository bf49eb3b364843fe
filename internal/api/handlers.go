package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/xviolet/violetmem/internal/ingest"
	"github.com/xviolet/violetmem/internal/interactions"
	"github.com/xviolet/violetmem/internal/retrieval"
	"github.com/xviolet/violetmem/internal/storage"
)

// EmbeddingBackend reports the state of the embedding service for /health.
// Implemented by ollama.Client.
type EmbeddingBackend interface {
	IsRunning(ctx context.Context) bool
	Version(ctx context.Context) (string, error)
}

// AppDeps holds everything the HTTP handlers need.
type AppDeps struct {
	Store        *storage.Store
	Embedder     *retrieval.Embedder
	Retriever    *retrieval.Retriever
	Pipeline     *ingest.Pipeline
	Interactions *interactions.Manager
	Index        retrieval.Index  // optional; /stats reports backend point counts
	Ollama       EmbeddingBackend // optional; /health reports embedding backend state
	Notify       func()           // optional; wakes the embedding worker after a record
	Token        string
	Started      time.Time
}

// NewAppHandler builds the HTTP API. Everything except /health sits behind
// bearer auth.
func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth(deps))

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/tweets", handleRecordTweet(deps))
		r.Get("/tweets/unprocessed", handleUnprocessed(deps))
		r.Get("/tweets/{id}", handleGetTweet(deps))
		r.Get("/tweets/{id}/embedding", handleGetEmbedding(deps))
		r.Post("/tweets/{id}/embedding", handleAttachEmbedding(deps))
		r.Get("/conversations/{id}", handleGetConversation(deps))
		r.Post("/search", handleSearch(deps))
		r.Get("/interactions", handleListInteractions(deps))
		r.Put("/interactions/{id}", handleMarkInteraction(deps))
		r.Get("/interactions/{id}", handleCheckInteraction(deps))
		r.Delete("/interactions/{id}", handleUnmarkInteraction(deps))
		r.Delete("/interactions", handleClearInteractions(deps))
		r.Post("/admin/reindex", handleReindex(deps))
		r.Get("/stats", handleStats(deps))
	})

	return r
}

type recordTweetRequest struct {
	ID             string `json:"id"`
	UserID         string `json:"user_id"`
	Username       string `json:"username"`
	CreatedAt      string `json:"created_at"`
	ConversationID string `json:"conversation_id"`
	InReplyTo      string `json:"in_reply_to"`
	Text           string `json:"text"`
}

func handleRecordTweet(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req recordTweetRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		if req.ID == "" || req.UserID == "" || req.Text == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "id, user_id and text are required")
			return
		}

		var createdAt time.Time
		if req.CreatedAt != "" {
			t, err := time.Parse(time.RFC3339, req.CreatedAt)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid created_at: %v", err)
				return
			}
			createdAt = t
		}

		tweet := storage.Tweet{
			ID:             req.ID,
			UserID:         req.UserID,
			Username:       req.Username,
			CreatedAt:      createdAt,
			ConversationID: req.ConversationID,
			InReplyTo:      req.InReplyTo,
			Text:           req.Text,
		}
		if err := deps.Store.RecordTweet(tweet); err != nil {
			storeError(w, err)
			return
		}

		if deps.Notify != nil {
			deps.Notify()
		}

		// Re-read so the response carries the resolved conversation id and
		// normalized timestamp.
		stored, err := deps.Store.GetTweet(req.ID)
		if err != nil {
			storeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, stored)
	}
}

func handleGetTweet(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tweet, err := deps.Store.GetTweet(chi.URLParam(r, "id"))
		if err != nil {
			storeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, tweet)
	}
}

func handleGetEmbedding(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		emb, err := deps.Store.GetEmbedding(chi.URLParam(r, "id"))
		if err != nil {
			storeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, emb)
	}
}

type attachEmbeddingRequest struct {
	Vector []float32 `json:"vector"`
}

type attachEmbeddingResponse struct {
	TweetID     string `json:"tweet_id"`
	EmbeddingID int64  `json:"embedding_id"`
	Dimension   int    `json:"dimension"`
}

func handleAttachEmbedding(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req attachEmbeddingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		tweet, err := deps.Store.GetTweet(chi.URLParam(r, "id"))
		if err != nil {
			storeError(w, err)
			return
		}

		vec := req.Vector
		if len(vec) == 0 {
			// No vector supplied: embed the stored text server-side.
			vec, err = deps.Embedder.Embed(r.Context(), tweet.Text)
			if err != nil {
				if errors.Is(err, storage.ErrDimensionMismatch) {
					storeError(w, err)
					return
				}
				httpError(w, http.StatusServiceUnavailable, "embedding_unavailable", "embedding text: %v", err)
				return
			}
		}

		id, err := deps.Pipeline.Attach(r.Context(), tweet, vec)
		if err != nil {
			storeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, attachEmbeddingResponse{
			TweetID:     tweet.ID,
			EmbeddingID: id,
			Dimension:   len(vec),
		})
	}
}

func handleUnprocessed(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 50, 500)

		tweets, err := deps.Store.GetUnprocessed(limit)
		if err != nil {
			storeError(w, err)
			return
		}
		if tweets == nil {
			tweets = []storage.Tweet{}
		}
		writeJSON(w, http.StatusOK, tweets)
	}
}

type conversationResponse struct {
	Conversation storage.Conversation `json:"conversation"`
	Tweets       []storage.Tweet      `json:"tweets"`
}

func handleGetConversation(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conv, tweets, err := deps.Store.GetConversation(chi.URLParam(r, "id"))
		if err != nil {
			storeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, conversationResponse{Conversation: conv, Tweets: tweets})
	}
}

type searchRequest struct {
	Text           string    `json:"text"`
	Vector         []float32 `json:"vector"`
	K              int       `json:"k"`
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
}

type searchResponse struct {
	Results []retrieval.Result `json:"results"`
}

func handleSearch(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req searchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		if len(req.Vector) == 0 && req.Text == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "either text or vector is required")
			return
		}

		k := req.K
		if k <= 0 {
			k = 10
		}
		if k > 50 {
			k = 50
		}

		vec := req.Vector
		if len(vec) == 0 {
			var err error
			vec, err = deps.Embedder.Embed(r.Context(), req.Text)
			if err != nil {
				if errors.Is(err, storage.ErrDimensionMismatch) {
					storeError(w, err)
					return
				}
				httpError(w, http.StatusServiceUnavailable, "embedding_unavailable", "embedding query: %v", err)
				return
			}
		}

		filter := retrieval.Filter{ConversationID: req.ConversationID, UserID: req.UserID}
		results, err := deps.Retriever.FindSimilar(r.Context(), vec, k, filter)
		if err != nil {
			storeError(w, err)
			return
		}
		if results == nil {
			results = []retrieval.Result{}
		}
		writeJSON(w, http.StatusOK, searchResponse{Results: results})
	}
}

func handleListInteractions(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ids, err := deps.Interactions.All()
		if err != nil {
			storeError(w, err)
			return
		}
		if ids == nil {
			ids = []string{}
		}
		writeJSON(w, http.StatusOK, ids)
	}
}

func handleMarkInteraction(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := deps.Interactions.Mark(id); err != nil {
			storeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "marked", "tweet_id": id})
	}
}

func handleCheckInteraction(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		ok, err := deps.Interactions.Has(id)
		if err != nil {
			storeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"tweet_id": id, "interacted": ok})
	}
}

func handleUnmarkInteraction(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := deps.Interactions.Unmark(id); err != nil {
			storeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "tweet_id": id})
	}
}

func handleClearInteractions(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Interactions.Clear(); err != nil {
			storeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
	}
}

func handleReindex(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := deps.Pipeline.Reindex(r.Context())
		if err != nil {
			storeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"reindexed": n})
	}
}

type indexStats struct {
	Backend string `json:"backend"`
	Points  int    `json:"points"`
}

type statsResponse struct {
	storage.Stats
	Index *indexStats `json:"index,omitempty"`
}

func handleStats(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := deps.Store.Stats()
		if err != nil {
			storeError(w, err)
			return
		}

		resp := statsResponse{Stats: st}
		if deps.Index != nil {
			if n, err := deps.Index.Count(r.Context()); err == nil {
				resp.Index = &indexStats{Backend: deps.Index.Name(), Points: n}
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

type ollamaHealth struct {
	Running bool   `json:"running"`
	Version string `json:"version,omitempty"`
}

type healthResponse struct {
	Status        string        `json:"status"`
	UptimeSeconds int64         `json:"uptime_seconds,omitempty"`
	IndexBackend  string        `json:"index_backend,omitempty"`
	Ollama        *ollamaHealth `json:"ollama,omitempty"`
}

func handleHealth(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "ok"}
		if !deps.Started.IsZero() {
			resp.UptimeSeconds = int64(time.Since(deps.Started).Seconds())
		}
		if deps.Index != nil {
			resp.IndexBackend = deps.Index.Name()
		}
		if deps.Ollama != nil {
			oh := &ollamaHealth{Running: deps.Ollama.IsRunning(r.Context())}
			if oh.Running {
				if v, err := deps.Ollama.Version(r.Context()); err == nil {
					oh.Version = v
				}
			}
			resp.Ollama = oh
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

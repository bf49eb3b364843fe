package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/xviolet/violetmem/internal/ingest"
	"github.com/xviolet/violetmem/internal/interactions"
	"github.com/xviolet/violetmem/internal/retrieval"
	"github.com/xviolet/violetmem/internal/storage"
)

const testToken = "test-token-12345"

type mockEmbedClient struct {
	embedFn func(ctx context.Context, model, text string) ([]float32, error)
}

func (m *mockEmbedClient) Embed(ctx context.Context, model, text string) ([]float32, error) {
	if m.embedFn != nil {
		return m.embedFn(ctx, model, text)
	}
	return []float32{1, 0, 0}, nil
}

func setupAppHandler(t *testing.T, token string) (http.Handler, *storage.Store) {
	return setupAppHandlerWithEmbed(t, token, nil)
}

func setupAppHandlerWithEmbed(t *testing.T, token string, embedFn func(ctx context.Context, model, text string) ([]float32, error)) (http.Handler, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:", 3)
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	index := retrieval.NewFallback(retrieval.NewSQLiteIndex(store))
	embedder := retrieval.NewEmbedder(&mockEmbedClient{embedFn: embedFn}, "test-model", 3)
	retriever := retrieval.NewRetriever(embedder, index, store)
	pipeline := ingest.NewPipeline(store, index)

	handler := NewAppHandler(AppDeps{
		Store:        store,
		Embedder:     embedder,
		Retriever:    retriever,
		Pipeline:     pipeline,
		Interactions: interactions.NewManager(store),
		Index:        index,
		Token:        token,
		Started:      time.Now(),
	})
	return handler, store
}

func authReq(method, url, body, token string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func errType(t *testing.T, body io.Reader) string {
	t.Helper()
	var resp struct {
		Error struct {
			Type string `json:"type"`
		} `json:"error"`
	}
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		t.Fatalf("decoding error body: %v", err)
	}
	return resp.Error.Type
}

func recordViaAPI(t *testing.T, h http.Handler, id, convo, text string) {
	t.Helper()
	body := fmt.Sprintf(`{"id":%q,"user_id":"u1","conversation_id":%q,"text":%q}`, id, convo, text)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/tweets", body, testToken))
	if rr.Code != http.StatusCreated {
		t.Fatalf("recording %s: status = %d; body = %s", id, rr.Code, rr.Body.String())
	}
}

func attachViaAPI(t *testing.T, h http.Handler, id string, vec []float32) {
	t.Helper()
	b, _ := json.Marshal(map[string][]float32{"vector": vec})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/tweets/"+id+"/embedding", string(b), testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("attaching to %s: status = %d; body = %s", id, rr.Code, rr.Body.String())
	}
}

func TestHealth_NoAuthRequired(t *testing.T) {
	h, _ := setupAppHandler(t, testToken)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}

	var resp healthResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("status = %q, want %q", resp.Status, "ok")
	}
	if resp.IndexBackend != "sqlite" {
		t.Errorf("index_backend = %q, want %q", resp.IndexBackend, "sqlite")
	}
}

func TestRecordTweet(t *testing.T) {
	h, store := setupAppHandler(t, testToken)

	body := `{"id":"t1","user_id":"u1","username":"tester","created_at":"2026-04-01T12:00:00Z","text":"hello world"}`
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/tweets", body, testToken))

	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d; body = %s", rr.Code, http.StatusCreated, rr.Body.String())
	}

	var got storage.Tweet
	if err := json.NewDecoder(rr.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.ID != "t1" {
		t.Errorf("ID = %q, want %q", got.ID, "t1")
	}
	// Without an explicit conversation the tweet roots its own thread.
	if got.ConversationID != "t1" {
		t.Errorf("ConversationID = %q, want %q", got.ConversationID, "t1")
	}
	if got.Processed {
		t.Error("new tweet should be unprocessed")
	}

	stored, err := store.GetTweet("t1")
	if err != nil {
		t.Fatalf("GetTweet failed: %v", err)
	}
	if stored.Text != "hello world" {
		t.Errorf("Text = %q, want %q", stored.Text, "hello world")
	}
}

func TestRecordTweet_MissingFields(t *testing.T) {
	h, _ := setupAppHandler(t, testToken)

	body := `{"id":"t1","user_id":"u1"}`
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/tweets", body, testToken))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestRecordTweet_InvalidTimestamp(t *testing.T) {
	h, _ := setupAppHandler(t, testToken)

	body := `{"id":"t1","user_id":"u1","text":"hi","created_at":"yesterday"}`
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/tweets", body, testToken))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestRecordTweet_Duplicate(t *testing.T) {
	h, _ := setupAppHandler(t, testToken)

	body := `{"id":"t1","user_id":"u1","text":"hello"}`
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/tweets", body, testToken))
	if rr.Code != http.StatusCreated {
		t.Fatalf("first record: status = %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/tweets", body, testToken))
	if rr.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusConflict)
	}
	if typ := errType(t, rr.Body); typ != "duplicate_error" {
		t.Errorf("error type = %q, want %q", typ, "duplicate_error")
	}
}

func TestRecordTweet_NoAuth(t *testing.T) {
	h, _ := setupAppHandler(t, testToken)

	body := `{"id":"t1","user_id":"u1","text":"hello"}`
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/tweets", body, ""))

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusUnauthorized)
	}
}

func TestRecordTweet_Notifies(t *testing.T) {
	store, err := storage.Open(":memory:", 3)
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	notified := false
	h := NewAppHandler(AppDeps{
		Store:        store,
		Interactions: interactions.NewManager(store),
		Notify:       func() { notified = true },
		Token:        testToken,
	})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/tweets", `{"id":"t1","user_id":"u1","text":"hi"}`, testToken))

	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	if !notified {
		t.Error("expected worker notification after record")
	}
}

func TestGetTweet(t *testing.T) {
	h, _ := setupAppHandler(t, testToken)
	recordViaAPI(t, h, "t1", "c1", "stored text")

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/tweets/t1", "", testToken))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}

	var got storage.Tweet
	json.NewDecoder(rr.Body).Decode(&got)
	if got.Text != "stored text" {
		t.Errorf("Text = %q, want %q", got.Text, "stored text")
	}
}

func TestGetTweet_NotFound(t *testing.T) {
	h, _ := setupAppHandler(t, testToken)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/tweets/ghost", "", testToken))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusNotFound)
	}
	if typ := errType(t, rr.Body); typ != "not_found" {
		t.Errorf("error type = %q, want %q", typ, "not_found")
	}
}

func TestGetUnprocessed(t *testing.T) {
	h, _ := setupAppHandler(t, testToken)
	recordViaAPI(t, h, "t1", "c1", "first")
	recordViaAPI(t, h, "t2", "c1", "second")
	recordViaAPI(t, h, "t3", "c1", "third")
	attachViaAPI(t, h, "t2", []float32{1, 0, 0})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/tweets/unprocessed", "", testToken))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}

	var tweets []storage.Tweet
	json.NewDecoder(rr.Body).Decode(&tweets)
	if len(tweets) != 2 {
		t.Fatalf("got %d tweets, want 2", len(tweets))
	}
	for _, tw := range tweets {
		if tw.ID == "t2" {
			t.Error("t2 already has an embedding, should not be listed")
		}
	}
}

func TestGetUnprocessed_Limit(t *testing.T) {
	h, _ := setupAppHandler(t, testToken)
	for i := 0; i < 5; i++ {
		recordViaAPI(t, h, fmt.Sprintf("t%d", i), "c1", "text")
	}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/tweets/unprocessed?limit=2", "", testToken))

	var tweets []storage.Tweet
	json.NewDecoder(rr.Body).Decode(&tweets)
	if len(tweets) != 2 {
		t.Fatalf("got %d tweets, want 2", len(tweets))
	}
}

func TestGetUnprocessed_Empty(t *testing.T) {
	h, _ := setupAppHandler(t, testToken)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/tweets/unprocessed", "", testToken))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	if body := strings.TrimSpace(rr.Body.String()); body != "[]" {
		t.Errorf("body = %q, want %q", body, "[]")
	}
}

func TestAttachEmbedding(t *testing.T) {
	h, store := setupAppHandler(t, testToken)
	recordViaAPI(t, h, "t1", "c1", "hello")

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/tweets/t1/embedding", `{"vector":[0.5,0.5,0]}`, testToken))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body = %s", rr.Code, http.StatusOK, rr.Body.String())
	}

	var resp attachEmbeddingResponse
	json.NewDecoder(rr.Body).Decode(&resp)
	if resp.TweetID != "t1" {
		t.Errorf("TweetID = %q, want %q", resp.TweetID, "t1")
	}
	if resp.EmbeddingID == 0 {
		t.Error("expected nonzero embedding id")
	}
	if resp.Dimension != 3 {
		t.Errorf("Dimension = %d, want 3", resp.Dimension)
	}

	tweet, err := store.GetTweet("t1")
	if err != nil {
		t.Fatalf("GetTweet failed: %v", err)
	}
	if !tweet.Processed {
		t.Error("tweet should be processed after attach")
	}
}

func TestAttachEmbedding_ServerSideEmbed(t *testing.T) {
	h, store := setupAppHandler(t, testToken)
	recordViaAPI(t, h, "t1", "c1", "hello")

	// Empty vector asks the server to embed the stored text itself.
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/tweets/t1/embedding", `{}`, testToken))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body = %s", rr.Code, http.StatusOK, rr.Body.String())
	}

	emb, err := store.GetEmbedding("t1")
	if err != nil {
		t.Fatalf("GetEmbedding failed: %v", err)
	}
	if len(emb.Vector) != 3 {
		t.Errorf("vector length = %d, want 3", len(emb.Vector))
	}
}

func TestAttachEmbedding_WrongDimension(t *testing.T) {
	h, _ := setupAppHandler(t, testToken)
	recordViaAPI(t, h, "t1", "c1", "hello")

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/tweets/t1/embedding", `{"vector":[1,0]}`, testToken))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d; body = %s", rr.Code, http.StatusBadRequest, rr.Body.String())
	}
	if typ := errType(t, rr.Body); typ != "dimension_mismatch" {
		t.Errorf("error type = %q, want %q", typ, "dimension_mismatch")
	}
}

func TestAttachEmbedding_TweetNotFound(t *testing.T) {
	h, _ := setupAppHandler(t, testToken)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/tweets/ghost/embedding", `{"vector":[1,0,0]}`, testToken))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestAttachEmbedding_EmbedderDown(t *testing.T) {
	h, _ := setupAppHandlerWithEmbed(t, testToken, func(_ context.Context, _, _ string) ([]float32, error) {
		return nil, errors.New("connection refused")
	})
	recordViaAPI(t, h, "t1", "c1", "hello")

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/tweets/t1/embedding", `{}`, testToken))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d; body = %s", rr.Code, http.StatusServiceUnavailable, rr.Body.String())
	}
	if typ := errType(t, rr.Body); typ != "embedding_unavailable" {
		t.Errorf("error type = %q, want %q", typ, "embedding_unavailable")
	}
}

func TestGetEmbedding(t *testing.T) {
	h, _ := setupAppHandler(t, testToken)
	recordViaAPI(t, h, "t1", "c1", "hello")
	attachViaAPI(t, h, "t1", []float32{0.5, 0.5, 0})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/tweets/t1/embedding", "", testToken))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}

	var emb storage.Embedding
	json.NewDecoder(rr.Body).Decode(&emb)
	if emb.TweetID != "t1" {
		t.Errorf("TweetID = %q, want %q", emb.TweetID, "t1")
	}
	if len(emb.Vector) != 3 || emb.Vector[0] != 0.5 {
		t.Errorf("unexpected vector: %v", emb.Vector)
	}
}

func TestGetEmbedding_NotFound(t *testing.T) {
	h, _ := setupAppHandler(t, testToken)
	recordViaAPI(t, h, "t1", "c1", "no embedding yet")

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/tweets/t1/embedding", "", testToken))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestGetConversation(t *testing.T) {
	h, _ := setupAppHandler(t, testToken)

	base := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	for i, text := range []string{"first", "second", "third"} {
		body := fmt.Sprintf(`{"id":"t%d","user_id":"u1","conversation_id":"c1","created_at":%q,"text":%q}`,
			i+1, base.Add(time.Duration(i)*time.Minute).Format(time.RFC3339), text)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, authReq(http.MethodPost, "/tweets", body, testToken))
		if rr.Code != http.StatusCreated {
			t.Fatalf("recording t%d: status = %d", i+1, rr.Code)
		}
	}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/conversations/c1", "", testToken))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body = %s", rr.Code, http.StatusOK, rr.Body.String())
	}

	var resp conversationResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Conversation.ID != "c1" {
		t.Errorf("conversation ID = %q, want %q", resp.Conversation.ID, "c1")
	}
	if len(resp.Tweets) != 3 {
		t.Fatalf("got %d tweets, want 3", len(resp.Tweets))
	}
	if resp.Tweets[0].Text != "first" || resp.Tweets[2].Text != "third" {
		t.Errorf("tweets out of order: %s ... %s", resp.Tweets[0].Text, resp.Tweets[2].Text)
	}
}

func TestGetConversation_NotFound(t *testing.T) {
	h, _ := setupAppHandler(t, testToken)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/conversations/ghost", "", testToken))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func seedSearchCorpus(t *testing.T, h http.Handler) {
	t.Helper()
	recordViaAPI(t, h, "t1", "c1", "about the moon")
	recordViaAPI(t, h, "t2", "c1", "about the sea")
	recordViaAPI(t, h, "t3", "c2", "about the stars")
	attachViaAPI(t, h, "t1", []float32{1, 0, 0})
	attachViaAPI(t, h, "t2", []float32{0.6, 0.8, 0})
	attachViaAPI(t, h, "t3", []float32{0, 1, 0})
}

func TestSearch_ByVector(t *testing.T) {
	h, _ := setupAppHandler(t, testToken)
	seedSearchCorpus(t, h)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/search", `{"vector":[1,0,0],"k":2}`, testToken))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body = %s", rr.Code, http.StatusOK, rr.Body.String())
	}

	var resp searchResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Results) != 2 {
		t.Fatalf("got %d results, want 2", len(resp.Results))
	}
	if resp.Results[0].Tweet.ID != "t1" {
		t.Errorf("closest = %q, want %q", resp.Results[0].Tweet.ID, "t1")
	}
	if resp.Results[1].Tweet.ID != "t2" {
		t.Errorf("second = %q, want %q", resp.Results[1].Tweet.ID, "t2")
	}
	if resp.Results[0].Distance > resp.Results[1].Distance {
		t.Error("results not ordered by distance")
	}
}

func TestSearch_ByText(t *testing.T) {
	h, _ := setupAppHandlerWithEmbed(t, testToken, func(_ context.Context, _, text string) ([]float32, error) {
		if text == "stars" {
			return []float32{0, 1, 0}, nil
		}
		return []float32{1, 0, 0}, nil
	})
	seedSearchCorpus(t, h)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/search", `{"text":"stars","k":1}`, testToken))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body = %s", rr.Code, http.StatusOK, rr.Body.String())
	}

	var resp searchResponse
	json.NewDecoder(rr.Body).Decode(&resp)
	if len(resp.Results) != 1 || resp.Results[0].Tweet.ID != "t3" {
		t.Fatalf("unexpected results: %+v", resp.Results)
	}
}

func TestSearch_FilterByConversation(t *testing.T) {
	h, _ := setupAppHandler(t, testToken)
	seedSearchCorpus(t, h)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/search", `{"vector":[1,0,0],"k":10,"conversation_id":"c2"}`, testToken))

	var resp searchResponse
	json.NewDecoder(rr.Body).Decode(&resp)
	if len(resp.Results) != 1 || resp.Results[0].Tweet.ID != "t3" {
		t.Fatalf("unexpected results: %+v", resp.Results)
	}
}

func TestSearch_MissingQuery(t *testing.T) {
	h, _ := setupAppHandler(t, testToken)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/search", `{"k":5}`, testToken))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestSearch_EmbedderDown(t *testing.T) {
	h, _ := setupAppHandlerWithEmbed(t, testToken, func(_ context.Context, _, _ string) ([]float32, error) {
		return nil, errors.New("connection refused")
	})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/search", `{"text":"moon"}`, testToken))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d; body = %s", rr.Code, http.StatusServiceUnavailable, rr.Body.String())
	}
}

func TestSearch_EmptyStore(t *testing.T) {
	h, _ := setupAppHandler(t, testToken)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/search", `{"vector":[1,0,0]}`, testToken))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body = %s", rr.Code, http.StatusOK, rr.Body.String())
	}

	var resp searchResponse
	json.NewDecoder(rr.Body).Decode(&resp)
	if resp.Results == nil || len(resp.Results) != 0 {
		t.Fatalf("expected empty results array, got %+v", resp.Results)
	}
}

func TestInteractions_Flow(t *testing.T) {
	h, _ := setupAppHandler(t, testToken)

	// Mark.
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPut, "/interactions/t9", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("mark: status = %d; body = %s", rr.Code, rr.Body.String())
	}

	// Check.
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/interactions/t9", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("check: status = %d", rr.Code)
	}
	var check map[string]any
	json.NewDecoder(rr.Body).Decode(&check)
	if check["interacted"] != true {
		t.Errorf("interacted = %v, want true", check["interacted"])
	}

	// List.
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/interactions", "", testToken))
	var ids []string
	json.NewDecoder(rr.Body).Decode(&ids)
	if len(ids) != 1 || ids[0] != "t9" {
		t.Fatalf("list = %v, want [t9]", ids)
	}

	// Unmark.
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodDelete, "/interactions/t9", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("unmark: status = %d", rr.Code)
	}

	// Unmark again is a 404.
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodDelete, "/interactions/t9", "", testToken))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("second unmark: status = %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestInteractions_Empty(t *testing.T) {
	h, _ := setupAppHandler(t, testToken)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/interactions", "", testToken))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	if body := strings.TrimSpace(rr.Body.String()); body != "[]" {
		t.Errorf("body = %q, want %q", body, "[]")
	}
}

func TestInteractions_Clear(t *testing.T) {
	h, _ := setupAppHandler(t, testToken)

	for _, id := range []string{"t1", "t2"} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, authReq(http.MethodPut, "/interactions/"+id, "", testToken))
		if rr.Code != http.StatusOK {
			t.Fatalf("mark %s: status = %d", id, rr.Code)
		}
	}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodDelete, "/interactions", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("clear: status = %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/interactions", "", testToken))
	var ids []string
	json.NewDecoder(rr.Body).Decode(&ids)
	if len(ids) != 0 {
		t.Fatalf("expected no interactions after clear, got %v", ids)
	}
}

func TestReindex(t *testing.T) {
	h, _ := setupAppHandler(t, testToken)
	seedSearchCorpus(t, h)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/admin/reindex", "", testToken))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body = %s", rr.Code, http.StatusOK, rr.Body.String())
	}

	var resp map[string]int
	json.NewDecoder(rr.Body).Decode(&resp)
	if resp["reindexed"] != 3 {
		t.Errorf("reindexed = %d, want 3", resp["reindexed"])
	}
}

func TestStats(t *testing.T) {
	h, _ := setupAppHandler(t, testToken)
	recordViaAPI(t, h, "t1", "c1", "one")
	recordViaAPI(t, h, "t2", "c1", "two")
	attachViaAPI(t, h, "t1", []float32{1, 0, 0})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/stats", "", testToken))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body = %s", rr.Code, http.StatusOK, rr.Body.String())
	}

	var resp statsResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Tweets != 2 {
		t.Errorf("tweets = %d, want 2", resp.Tweets)
	}
	if resp.Embeddings != 1 {
		t.Errorf("embeddings = %d, want 1", resp.Embeddings)
	}
	if resp.Unprocessed != 1 {
		t.Errorf("unprocessed = %d, want 1", resp.Unprocessed)
	}
	if resp.Dimension != 3 {
		t.Errorf("dimension = %d, want 3", resp.Dimension)
	}
	if resp.Index == nil {
		t.Fatal("expected index stats")
	}
	if resp.Index.Backend != "sqlite" {
		t.Errorf("backend = %q, want %q", resp.Index.Backend, "sqlite")
	}
	if resp.Index.Points != 1 {
		t.Errorf("points = %d, want 1", resp.Index.Points)
	}
}

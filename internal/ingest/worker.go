package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xviolet/violetmem/internal/storage"
)

// Worker embeds unprocessed tweets in the background. A Notify call wakes it
// right after a record; the poll interval is the backstop that catches
// anything recorded while the worker was busy or the process was down.
type Worker struct {
	store    TweetStore
	embedder ContentEmbedder
	pipeline *Pipeline
	batch    int
	poll     time.Duration
	notify   chan struct{}
	logger   *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If batchSize is <= 0 it defaults to 16; if pollInterval is <= 0, to 5s.
func NewWorker(store TweetStore, embedder ContentEmbedder, pipeline *Pipeline, batchSize int, pollInterval time.Duration) *Worker {
	if batchSize <= 0 {
		batchSize = 16
	}
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	return &Worker{
		store:    store,
		embedder: embedder,
		pipeline: pipeline,
		batch:    batchSize,
		poll:     pollInterval,
		notify:   make(chan struct{}, 1),
		logger:   slog.Default(),
	}
}

// Notify wakes the worker without blocking the caller. Safe to call from
// any goroutine; redundant wake-ups coalesce.
func (w *Worker) Notify() {
	select {
	case w.notify <- struct{}{}:
	default:
	}
}

// Run drains the unprocessed queue until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		n, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if n > 0 && err == nil {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-w.notify:
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims one batch of unprocessed tweets and attaches embeddings.
// Returns how many tweets were embedded.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	tweets, err := w.store.GetUnprocessed(w.batch)
	if err != nil {
		return 0, fmt.Errorf("claiming unprocessed tweets: %w", err)
	}
	if len(tweets) == 0 {
		return 0, nil
	}

	texts := make([]string, len(tweets))
	for i, t := range tweets {
		texts[i] = t.Text
	}

	vectors, err := w.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		// One bad text fails the whole batch; retry tweet by tweet so the
		// rest still make progress.
		return w.salvage(ctx, tweets, err)
	}

	processed := 0
	for i, t := range tweets {
		if _, err := w.pipeline.Attach(ctx, t, vectors[i]); err != nil {
			w.logger.Warn("attach failed", "tweet_id", t.ID, "error", err)
			continue
		}
		processed++
	}
	return processed, nil
}

// salvage embeds each tweet of a failed batch individually. Tweets that
// still fail stay unprocessed and are picked up again on the next poll.
func (w *Worker) salvage(ctx context.Context, tweets []storage.Tweet, batchErr error) (int, error) {
	w.logger.Warn("batch embed failed, retrying individually", "batch", len(tweets), "error", batchErr)

	processed := 0
	var lastErr error
	for _, t := range tweets {
		if ctx.Err() != nil {
			return processed, ctx.Err()
		}
		vec, err := w.embedder.Embed(ctx, t.Text)
		if err != nil {
			w.logger.Warn("embed failed", "tweet_id", t.ID, "error", err)
			lastErr = err
			continue
		}
		if _, err := w.pipeline.Attach(ctx, t, vec); err != nil {
			w.logger.Warn("attach failed", "tweet_id", t.ID, "error", err)
			lastErr = err
			continue
		}
		processed++
	}
	if processed == 0 && lastErr != nil {
		return 0, fmt.Errorf("embedding batch of %d: %w", len(tweets), lastErr)
	}
	return processed, nil
}

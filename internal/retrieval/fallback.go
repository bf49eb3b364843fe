package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/xviolet/violetmem/internal/storage"
)

// Compile-time check that Fallback implements Index.
var _ Index = (*Fallback)(nil)

// Fallback chains index backends in priority order. Reads go to the first
// backend that answers; writes fan out to every backend so a lower-priority
// backend is always ready to take over. Typical chain: qdrant first, the
// sqlite scan last.
type Fallback struct {
	backends []Index
}

// NewFallback builds a chain from the given backends, tried in order.
func NewFallback(backends ...Index) *Fallback {
	return &Fallback{backends: backends}
}

func (f *Fallback) Name() string {
	names := make([]string, len(f.backends))
	for i, b := range f.backends {
		names[i] = b.Name()
	}
	return strings.Join(names, ",")
}

// Add upserts into every backend. Any backend failing fails the whole write:
// a silently stale mirror would serve wrong neighbors after a failover.
func (f *Fallback) Add(ctx context.Context, points []Point) error {
	var errs []error
	for _, b := range f.backends {
		if err := b.Add(ctx, points); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", b.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Search asks each backend in order and returns the first successful answer.
// When every backend fails the error carries ErrUnavailable.
func (f *Fallback) Search(ctx context.Context, vector []float32, k int, flt Filter) ([]Match, error) {
	var errs []error
	for _, b := range f.backends {
		matches, err := b.Search(ctx, vector, k, flt)
		if err != nil {
			slog.Warn("index backend failed, trying next", "backend", b.Name(), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", b.Name(), err))
			continue
		}
		return matches, nil
	}
	return nil, fmt.Errorf("all index backends failed (%v): %w", errors.Join(errs...), storage.ErrUnavailable)
}

// Count returns the first backend's successful count.
func (f *Fallback) Count(ctx context.Context) (int, error) {
	var errs []error
	for _, b := range f.backends {
		n, err := b.Count(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", b.Name(), err))
			continue
		}
		return n, nil
	}
	return 0, fmt.Errorf("all index backends failed (%v): %w", errors.Join(errs...), storage.ErrUnavailable)
}

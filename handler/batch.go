package handler

import (
	"context"

	"github.com/assaka/daino-jobs/batch"
)

// BatchProcess runs items through fn in chunks of size, checking for
// cancellation before every chunk and reporting overall progress after
// it. onChunk, when non-nil, runs after the generic progress update.
func BatchProcess[T, R any](hc *Context, items []T, size int, fn func(ctx context.Context, item T, index int) (R, error), onChunk func(processed, total int, chunk []batch.Outcome[R])) ([]batch.Outcome[R], error) {
	return batch.Process(hc.Context(), items, fn, batch.Options[R]{
		Size:       size,
		Checkpoint: func(context.Context) error { return hc.CheckAbort() },
		Progress:   hc.UpdateProgress,
		OnChunk:    onChunk,
	})
}

// Package batch runs a sequence of work items in consecutive chunks.
//
// Items inside a chunk run concurrently and settle independently: one
// failing item never stops its siblings or later chunks. Between chunks
// the caller-supplied Checkpoint runs; it is the only point where a batch
// stops early, so cancellation is chunk-granular. Callers that need
// per-item cancellation loop themselves and check after every item.
package batch

import (
	"context"
	"errors"
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"
)

// DefaultSize is the chunk size used when Options.Size is not positive.
const DefaultSize = 10

// ErrNoCheckpoint is returned by Process when Options.Checkpoint is nil.
var ErrNoCheckpoint = errors.New("batch: checkpoint is required")

// Outcome is the settled result of one item.
type Outcome[R any] struct {
	// Index is the item's position in the input slice.
	Index int
	Value R
	Err   error
}

// OK reports whether the item succeeded.
func (o Outcome[R]) OK() bool { return o.Err == nil }

// Options configures Process.
type Options[R any] struct {
	// Size is the number of items per chunk.
	Size int

	// Concurrency caps parallel items within a chunk. Zero runs the whole
	// chunk at once.
	Concurrency int

	// Checkpoint runs before every chunk. A non-nil error stops the batch
	// and is returned alongside the outcomes settled so far.
	Checkpoint func(ctx context.Context) error

	// Progress receives floor(processed/total*100) after every chunk.
	Progress func(percent float64, message string)

	// OnChunk runs after Progress with the chunk's outcomes, for
	// handler-specific messaging.
	OnChunk func(processed, total int, chunk []Outcome[R])
}

// Process partitions items into chunks and runs fn over them. The
// returned outcomes are in input order. When Checkpoint or ctx stops the
// batch, the outcomes of completed chunks are returned with the error.
func Process[T, R any](ctx context.Context, items []T, fn func(ctx context.Context, item T, index int) (R, error), opts Options[R]) ([]Outcome[R], error) {
	if opts.Checkpoint == nil {
		return nil, ErrNoCheckpoint
	}
	size := opts.Size
	if size <= 0 {
		size = DefaultSize
	}

	total := len(items)
	outcomes := make([]Outcome[R], 0, total)

	for start := 0; start < total; start += size {
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}
		if err := opts.Checkpoint(ctx); err != nil {
			return outcomes, err
		}

		end := min(start+size, total)
		chunk := runChunk(ctx, items[start:end], start, fn, opts.Concurrency)
		outcomes = append(outcomes, chunk...)

		processed := len(outcomes)
		if opts.Progress != nil {
			pct := math.Floor(float64(processed) / float64(total) * 100)
			opts.Progress(pct, fmt.Sprintf("Processed %d of %d items", processed, total))
		}
		if opts.OnChunk != nil {
			opts.OnChunk(processed, total, chunk)
		}
	}
	return outcomes, nil
}

func runChunk[T, R any](ctx context.Context, items []T, offset int, fn func(ctx context.Context, item T, index int) (R, error), limit int) []Outcome[R] {
	out := make([]Outcome[R], len(items))

	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, item := range items {
		idx := offset + i
		g.Go(func() error {
			out[i] = settle(ctx, item, idx, fn)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func settle[T, R any](ctx context.Context, item T, idx int, fn func(ctx context.Context, item T, index int) (R, error)) (o Outcome[R]) {
	o.Index = idx
	defer func() {
		if r := recover(); r != nil {
			o.Err = fmt.Errorf("batch: item %d panicked: %v", idx, r)
		}
	}()
	o.Value, o.Err = fn(ctx, item, idx)
	return o
}

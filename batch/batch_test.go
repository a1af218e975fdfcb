package batch_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/assaka/daino-jobs/batch"
)

var errStop = errors.New("stop")

func noCheckpoint(context.Context) error { return nil }

func ints(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func TestProcessRequiresCheckpoint(t *testing.T) {
	_, err := batch.Process(context.Background(), ints(3),
		func(_ context.Context, v, _ int) (int, error) { return v, nil },
		batch.Options[int]{Size: 2},
	)
	if !errors.Is(err, batch.ErrNoCheckpoint) {
		t.Fatalf("err = %v, want ErrNoCheckpoint", err)
	}
}

func TestProcessIsolatesItemFailures(t *testing.T) {
	const n, bad = 7, 3
	outcomes, err := batch.Process(context.Background(), ints(n),
		func(_ context.Context, v, _ int) (int, error) {
			if v == bad {
				return 0, fmt.Errorf("item %d failed", v)
			}
			return v * 10, nil
		},
		batch.Options[int]{Size: 3, Checkpoint: noCheckpoint},
	)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(outcomes) != n {
		t.Fatalf("outcomes = %d, want %d", len(outcomes), n)
	}
	for i, o := range outcomes {
		if o.Index != i {
			t.Errorf("outcome %d has index %d", i, o.Index)
		}
		if i == bad {
			if o.OK() {
				t.Errorf("item %d: expected failure", i)
			}
			continue
		}
		if !o.OK() || o.Value != i*10 {
			t.Errorf("item %d: got (%d, %v), want (%d, nil)", i, o.Value, o.Err, i*10)
		}
	}

	s := batch.Summarize(outcomes)
	if s.Total != n || s.Succeeded != n-1 || s.Failed != 1 || len(s.Errors) != 1 {
		t.Errorf("summary = %+v", s)
	}
}

func TestProcessStopsAtChunkBoundary(t *testing.T) {
	var chunks atomic.Int32
	var started atomic.Int32
	checkpoint := func(context.Context) error {
		if chunks.Add(1) > 1 {
			return errStop
		}
		return nil
	}

	outcomes, err := batch.Process(context.Background(), ints(9),
		func(_ context.Context, v, _ int) (int, error) {
			started.Add(1)
			return v, nil
		},
		batch.Options[int]{Size: 3, Checkpoint: checkpoint},
	)
	if !errors.Is(err, errStop) {
		t.Fatalf("err = %v, want errStop", err)
	}
	if len(outcomes) != 3 {
		t.Fatalf("outcomes = %d, want 3 (first chunk only)", len(outcomes))
	}
	if got := started.Load(); got != 3 {
		t.Errorf("items started = %d, want 3", got)
	}
}

// A cancel signaled mid-chunk lets the rest of the chunk finish.
func TestProcessCancelIsChunkGranular(t *testing.T) {
	var cancelled atomic.Bool
	checkpoint := func(context.Context) error {
		if cancelled.Load() {
			return errStop
		}
		return nil
	}

	var processed atomic.Int32
	outcomes, err := batch.Process(context.Background(), ints(12),
		func(_ context.Context, v, _ int) (int, error) {
			if v == 6 {
				cancelled.Store(true)
			}
			time.Sleep(time.Millisecond)
			processed.Add(1)
			return v, nil
		},
		batch.Options[int]{Size: 10, Checkpoint: checkpoint},
	)
	if !errors.Is(err, errStop) {
		t.Fatalf("err = %v, want errStop", err)
	}
	if len(outcomes) != 10 || processed.Load() != 10 {
		t.Fatalf("outcomes = %d, processed = %d, want 10/10", len(outcomes), processed.Load())
	}
}

func TestProcessReportsFlooredProgress(t *testing.T) {
	var percents []float64
	var chunkSizes []int
	_, err := batch.Process(context.Background(), ints(7),
		func(_ context.Context, v, _ int) (int, error) { return v, nil },
		batch.Options[int]{
			Size:       3,
			Checkpoint: noCheckpoint,
			Progress:   func(p float64, _ string) { percents = append(percents, p) },
			OnChunk: func(_, _ int, chunk []batch.Outcome[int]) {
				chunkSizes = append(chunkSizes, len(chunk))
			},
		},
	)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	want := []float64{42, 85, 100}
	if len(percents) != len(want) {
		t.Fatalf("progress = %v, want %v", percents, want)
	}
	for i := range want {
		if percents[i] != want[i] {
			t.Errorf("progress[%d] = %v, want %v", i, percents[i], want[i])
		}
	}
	if len(chunkSizes) != 3 || chunkSizes[2] != 1 {
		t.Errorf("chunk sizes = %v, want [3 3 1]", chunkSizes)
	}
}

func TestProcessRecoversItemPanic(t *testing.T) {
	outcomes, err := batch.Process(context.Background(), ints(2),
		func(_ context.Context, v, _ int) (int, error) {
			if v == 1 {
				panic("kaboom")
			}
			return v, nil
		},
		batch.Options[int]{Checkpoint: noCheckpoint},
	)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if outcomes[1].OK() {
		t.Fatal("expected panicking item to fail")
	}
}

func TestProcessHonorsConcurrencyLimit(t *testing.T) {
	var inFlight, peak atomic.Int32
	_, err := batch.Process(context.Background(), ints(8),
		func(_ context.Context, v, _ int) (int, error) {
			cur := inFlight.Add(1)
			for {
				old := peak.Load()
				if cur <= old || peak.CompareAndSwap(old, cur) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			inFlight.Add(-1)
			return v, nil
		},
		batch.Options[int]{Size: 8, Concurrency: 2, Checkpoint: noCheckpoint},
	)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if peak.Load() > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", peak.Load())
	}
}

func TestSummarizeCapsErrors(t *testing.T) {
	outcomes := make([]batch.Outcome[int], 15)
	for i := range outcomes {
		outcomes[i] = batch.Outcome[int]{Index: i, Err: fmt.Errorf("e%d", i)}
	}
	s := batch.Summarize(outcomes)
	if s.Failed != 15 || len(s.Errors) != batch.ErrorPreviewLimit {
		t.Errorf("summary = %+v", s)
	}
}

func TestPreviewCapsErrors(t *testing.T) {
	errs := make([]string, 12)
	if got := batch.Preview(errs); len(got) != batch.ErrorPreviewLimit {
		t.Errorf("Preview(12) = %d entries, want %d", len(got), batch.ErrorPreviewLimit)
	}
	if got := batch.Preview(errs[:3]); len(got) != 3 {
		t.Errorf("Preview(3) = %d entries, want 3", len(got))
	}
}

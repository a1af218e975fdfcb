package worker_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	jobs "github.com/assaka/daino-jobs"
	"github.com/assaka/daino-jobs/ext"
	"github.com/assaka/daino-jobs/handler"
	"github.com/assaka/daino-jobs/job"
	"github.com/assaka/daino-jobs/middleware"
	"github.com/assaka/daino-jobs/queue"
	"github.com/assaka/daino-jobs/store/memory"
	"github.com/assaka/daino-jobs/worker"
)

func setupTestPool(t *testing.T, register func(*handler.Registry), opts ...worker.PoolOption) (*worker.Pool, *memory.Store) {
	t.Helper()
	logger := slog.Default()
	s := memory.New()
	reg := handler.NewRegistry()
	register(reg)
	extensions := ext.NewRegistry(logger)

	cfg := jobs.DefaultConfig()
	cfg.AbortCheckInterval = 10 * time.Millisecond
	executor := worker.NewExecutor(reg, extensions, s, s, cfg, logger, middleware.Recover(logger))

	opts = append([]worker.PoolOption{
		worker.WithPoolConcurrency(2),
		worker.WithPollInterval(10 * time.Millisecond),
	}, opts...)
	return worker.NewPool(s, executor, extensions, logger, opts...), s
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
}

func stopPool(t *testing.T, p *worker.Pool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestPool_StartStop(t *testing.T) {
	pool, _ := setupTestPool(t, func(*handler.Registry) {})

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	// Double start should be no-op.
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("unexpected double-start error: %v", err)
	}

	stopPool(t, pool)
	// Double stop should be no-op.
	stopPool(t, pool)
}

func TestPool_ProcessesJob(t *testing.T) {
	var processed atomic.Bool
	pool, s := setupTestPool(t, func(r *handler.Registry) {
		handler.Register(r, handler.NewDefinition(job.TypeCleanup,
			func(_ *handler.Context, p greetPayload) (any, error) {
				if p.Name != "Alice" {
					t.Errorf("payload.Name = %q, want %q", p.Name, "Alice")
				}
				processed.Store(true)
				return nil, nil
			}))
	})

	payload, _ := json.Marshal(greetPayload{Name: "Alice"})
	j := job.New(job.TypeCleanup, payload)
	if err := s.EnqueueJob(context.Background(), j); err != nil {
		t.Fatalf("enqueue error: %v", err)
	}

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	defer stopPool(t, pool)

	waitFor(t, "job completion", func() bool {
		got, _ := s.GetJob(context.Background(), j.ID)
		return got.State == job.StateCompleted
	})
	if !processed.Load() {
		t.Error("handler not invoked")
	}
	got, _ := s.GetJob(context.Background(), j.ID)
	if got.WorkerID != pool.WorkerID() {
		t.Errorf("WorkerID = %s, want %s", got.WorkerID, pool.WorkerID())
	}
}

func TestPool_CancelRunningJob(t *testing.T) {
	started := make(chan struct{})
	pool, s := setupTestPool(t, func(r *handler.Registry) {
		handler.Register(r, handler.NewDefinition(job.TypeAkeneoImport,
			func(hc *handler.Context, _ struct{}) (any, error) {
				close(started)
				for {
					if err := hc.CheckAbort(); err != nil {
						return nil, err
					}
					time.Sleep(time.Millisecond)
				}
			}))
	})

	j := job.New(job.TypeAkeneoImport, json.RawMessage(`{}`))
	if err := s.EnqueueJob(context.Background(), j); err != nil {
		t.Fatalf("enqueue error: %v", err)
	}
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	defer stopPool(t, pool)

	<-started
	got, err := pool.Cancel(context.Background(), j.ID, "customer request")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if got.State != job.StateCancelling {
		t.Errorf("Cancel state = %q, want cancelling", got.State)
	}

	waitFor(t, "cancelled state", func() bool {
		cur, _ := s.GetJob(context.Background(), j.ID)
		return cur.State == job.StateCancelled
	})
	cur, _ := s.GetJob(context.Background(), j.ID)
	if cur.CancelReason != "customer request" {
		t.Errorf("CancelReason = %q, want %q", cur.CancelReason, "customer request")
	}
}

func TestPool_CancelPendingJob(t *testing.T) {
	pool, s := setupTestPool(t, func(*handler.Registry) {})
	j := job.New(job.TypeCleanup, nil)
	if err := s.EnqueueJob(context.Background(), j); err != nil {
		t.Fatalf("enqueue error: %v", err)
	}

	got, err := pool.Cancel(context.Background(), j.ID, "not needed")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if got.State != job.StateCancelled {
		t.Errorf("state = %q, want cancelled", got.State)
	}
	entries, _ := s.ListHistory(context.Background(), j.ID)
	if len(entries) != 1 || entries[0].Message != "not needed" {
		t.Errorf("history = %+v, want one cancelled entry", entries)
	}
}

func TestPool_AdmissionLimitsConcurrency(t *testing.T) {
	var active, peak atomic.Int32
	admission := queue.NewManager()
	admission.SetTypeLimits(job.TypeWebhookDelivery, queue.Limits{MaxConcurrency: 1})

	pool, s := setupTestPool(t, func(r *handler.Registry) {
		handler.Register(r, handler.NewDefinition(job.TypeWebhookDelivery,
			func(*handler.Context, struct{}) (any, error) {
				n := active.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(20 * time.Millisecond)
				active.Add(-1)
				return nil, nil
			}))
	}, worker.WithPoolConcurrency(4), worker.WithAdmission(admission))

	const total = 4
	for range total {
		j := job.New(job.TypeWebhookDelivery, json.RawMessage(`{}`))
		if err := s.EnqueueJob(context.Background(), j); err != nil {
			t.Fatalf("enqueue error: %v", err)
		}
	}

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	defer stopPool(t, pool)

	waitFor(t, "all jobs", func() bool {
		n, _ := s.CountJobs(context.Background(), job.ListOpts{State: job.StateCompleted})
		return n == total
	})
	if got := peak.Load(); got != 1 {
		t.Errorf("peak concurrency = %d, want 1", got)
	}
}

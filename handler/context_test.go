package handler_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	jobs "github.com/assaka/daino-jobs"
	"github.com/assaka/daino-jobs/ext"
	"github.com/assaka/daino-jobs/handler"
	"github.com/assaka/daino-jobs/history"
	"github.com/assaka/daino-jobs/id"
	"github.com/assaka/daino-jobs/job"
)

// stateStub serves a fixed job state and counts reads.
type stateStub struct {
	state atomic.Value
	reads atomic.Int32
}

func newStateStub(s job.State) *stateStub {
	st := &stateStub{}
	st.state.Store(s)
	return st
}

func (s *stateStub) set(st job.State) { s.state.Store(st) }

func (s *stateStub) JobState(context.Context, id.JobID) (job.State, error) {
	s.reads.Add(1)
	return s.state.Load().(job.State), nil
}

// historyStub records entries in memory.
type historyStub struct {
	mu      sync.Mutex
	entries []*history.Entry
}

func (h *historyStub) RecordHistory(_ context.Context, e *history.Entry) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, e)
	return nil
}

func (h *historyStub) ListHistory(_ context.Context, jobID id.JobID) ([]*history.Entry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []*history.Entry
	for _, e := range h.entries {
		if e.JobID == jobID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (h *historyStub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// abortRecorder collects aborted events.
type abortRecorder struct {
	mu      sync.Mutex
	reasons []string
}

func (a *abortRecorder) Name() string { return "abort-recorder" }

func (a *abortRecorder) OnJobAborted(_ context.Context, _ *job.Job, reason string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reasons = append(a.reasons, reason)
	return nil
}

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func queuedJob(payload string) *job.Job {
	return job.New(job.TypeAkeneoImport, []byte(payload), job.WithStoreID("store-1"))
}

func TestUpdateProgressClamps(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{-5, 0},
		{0, 0},
		{42.5, 42.5},
		{100, 100},
		{150, 100},
		{math.NaN(), 0},
		{math.Inf(1), 100},
		{math.Inf(-1), 0},
	}
	hc := handler.NewContext(context.Background(), job.NewSystem(job.TypeCleanup, nil))
	for _, tt := range tests {
		hc.UpdateProgress(tt.in, "step")
		got, msg := hc.Progress()
		if got != tt.want {
			t.Errorf("UpdateProgress(%v) stored %v, want %v", tt.in, got, tt.want)
		}
		if msg != "step" {
			t.Errorf("message = %q, want %q", msg, "step")
		}
		if hc.Job().Progress != tt.want {
			t.Errorf("job progress = %v, want %v", hc.Job().Progress, tt.want)
		}
	}
}

func TestUpdateProgressNoopAfterAbort(t *testing.T) {
	hc := handler.NewContext(context.Background(), queuedJob(`{}`))
	hc.UpdateProgress(30, "before")
	_ = hc.Abort("stop")
	hc.UpdateProgress(80, "after")

	got, msg := hc.Progress()
	if got != 30 || msg != "before" {
		t.Errorf("progress = (%v, %q), want (30, %q)", got, msg, "before")
	}
}

func TestUpdateProgressHistoryOnlyForQueuedJobs(t *testing.T) {
	hist := &historyStub{}

	sys := handler.NewContext(context.Background(), job.NewSystem(job.TypeCleanup, nil),
		handler.WithHistory(hist), handler.WithProgressPersistInterval(0))
	sys.UpdateProgress(10, "a")
	sys.UpdateProgress(20, "b")
	if n := hist.count(); n != 0 {
		t.Fatalf("synthetic job wrote %d history entries, want 0", n)
	}

	queued := handler.NewContext(context.Background(), queuedJob(`{}`),
		handler.WithHistory(hist), handler.WithProgressPersistInterval(0))
	queued.UpdateProgress(10, "a")
	queued.UpdateProgress(20, "b")
	entries, _ := hist.ListHistory(context.Background(), queued.Job().ID)
	if len(entries) != 2 {
		t.Fatalf("history entries = %d, want 2", len(entries))
	}
	if entries[1].Kind != history.KindProgress || entries[1].Progress != 20 {
		t.Errorf("entry = %+v", entries[1])
	}
}

func TestUpdateProgressThrottlesHistory(t *testing.T) {
	hist := &historyStub{}
	hc := handler.NewContext(context.Background(), queuedJob(`{}`),
		handler.WithHistory(hist), handler.WithProgressPersistInterval(time.Hour))
	for i := range 50 {
		hc.UpdateProgress(float64(i), "tick")
	}
	if n := hist.count(); n != 1 {
		t.Errorf("history entries = %d, want 1", n)
	}
	if got, _ := hc.Progress(); got != 49 {
		t.Errorf("local progress = %v, want 49", got)
	}
}

func TestCheckAbortNoIOAfterDetection(t *testing.T) {
	states := newStateStub(job.StateCancelling)
	events := ext.NewRegistry(nil)
	rec := &abortRecorder{}
	events.Register(rec)

	hc := handler.NewContext(context.Background(), queuedJob(`{}`),
		handler.WithStateReader(states), handler.WithEvents(events))

	err := hc.CheckAbort()
	if !jobs.IsCancelled(err) {
		t.Fatalf("first CheckAbort = %v, want cancelled", err)
	}
	if n := states.reads.Load(); n != 1 {
		t.Fatalf("reads after detection = %d, want 1", n)
	}

	for range 100 {
		if err := hc.CheckAbort(); !jobs.IsCancelled(err) {
			t.Fatalf("CheckAbort = %v, want cancelled", err)
		}
	}
	if n := states.reads.Load(); n != 1 {
		t.Errorf("reads = %d, want 1 (no I/O once flagged)", n)
	}
	if len(rec.reasons) != 1 {
		t.Errorf("aborted events = %d, want 1", len(rec.reasons))
	}
}

func TestCheckAbortRateLimitsStoreReads(t *testing.T) {
	states := newStateStub(job.StateRunning)
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	hc := handler.NewContext(context.Background(), queuedJob(`{}`),
		handler.WithStateReader(states),
		handler.WithClock(clock.Now),
		handler.WithAbortCheckInterval(5*time.Second),
	)

	for range 10 {
		if err := hc.CheckAbort(); err != nil {
			t.Fatalf("CheckAbort: %v", err)
		}
	}
	if n := states.reads.Load(); n != 1 {
		t.Fatalf("reads within interval = %d, want 1", n)
	}

	states.set(job.StateCancelling)
	clock.Advance(4 * time.Second)
	if err := hc.CheckAbort(); err != nil {
		t.Fatalf("cancellation detected before interval elapsed: %v", err)
	}

	clock.Advance(time.Second)
	if err := hc.CheckAbort(); !jobs.IsCancelled(err) {
		t.Fatalf("CheckAbort after interval = %v, want cancelled", err)
	}
	if n := states.reads.Load(); n != 2 {
		t.Errorf("reads = %d, want 2", n)
	}
}

func TestCheckAbortSyntheticJobNeverReadsStore(t *testing.T) {
	states := newStateStub(job.StateCancelled)
	hc := handler.NewContext(context.Background(), job.NewSystem(job.TypeCleanup, nil),
		handler.WithStateReader(states))
	if err := hc.CheckAbort(); err != nil {
		t.Fatalf("CheckAbort: %v", err)
	}
	if states.reads.Load() != 0 {
		t.Error("synthetic job read the store")
	}
}

func TestRequestAbortIsObservedAtNextCheck(t *testing.T) {
	hc := handler.NewContext(context.Background(), queuedJob(`{}`))
	hc.RequestAbort("admin")
	if !hc.Aborted() {
		t.Fatal("expected aborted flag")
	}
	err := hc.CheckAbort()
	if !jobs.IsCancelled(err) {
		t.Fatalf("CheckAbort = %v, want cancelled", err)
	}
	var je *jobs.Error
	if !errors.As(err, &je) || je.Msg != "admin" {
		t.Errorf("reason = %v, want admin", err)
	}
}

func TestRequiredPayload(t *testing.T) {
	hc := handler.NewContext(context.Background(), queuedJob(`{"integration_id":"akeneo-1","empty":null}`))

	v, err := hc.RequiredPayload("integration_id")
	if err != nil || v != "akeneo-1" {
		t.Fatalf("RequiredPayload = (%v, %v)", v, err)
	}

	for _, field := range []string{"missing", "empty"} {
		_, err := hc.RequiredPayload(field)
		if jobs.KindOf(err) != jobs.KindMissingPayloadField {
			t.Errorf("RequiredPayload(%q) = %v, want missing field", field, err)
		}
	}
}

func TestRelayProgressUsesBands(t *testing.T) {
	hc := handler.NewContext(context.Background(), job.NewSystem(job.TypeAkeneoImport, nil))
	relay := hc.RelayProgress(handler.ImportBands)

	relay(handler.ProgressUpdate{Stage: "fetching_products", Current: 5, Total: 10})
	if got, _ := hc.Progress(); got != 10 {
		t.Errorf("fetching 5/10 = %v, want 10", got)
	}

	relay(handler.ProgressUpdate{Stage: "importing_products", Current: 50, Total: 100, Item: "SKU-1"})
	got, msg := hc.Progress()
	if got != 57.5 {
		t.Errorf("importing 50/100 = %v, want 57.5", got)
	}
	if msg != "importing products 50/100: SKU-1" {
		t.Errorf("message = %q", msg)
	}

	relay(handler.ProgressUpdate{Stage: "finalizing", Current: 1, Total: 1})
	if got, _ := hc.Progress(); got != 100 {
		t.Errorf("finalizing = %v, want 100", got)
	}
}

package ext_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/assaka/daino-jobs/ext"
	"github.com/assaka/daino-jobs/id"
	"github.com/assaka/daino-jobs/job"
)

// allHooksExt implements every lifecycle hook.
type allHooksExt struct {
	calls []string
}

func (e *allHooksExt) Name() string { return "all-hooks" }

func (e *allHooksExt) record(name string) error {
	e.calls = append(e.calls, name)
	return nil
}

func (e *allHooksExt) OnJobEnqueued(context.Context, *job.Job) error {
	return e.record("OnJobEnqueued")
}

func (e *allHooksExt) OnJobStarted(context.Context, *job.Job) error {
	return e.record("OnJobStarted")
}

func (e *allHooksExt) OnJobProgress(context.Context, *job.Job, float64, string) error {
	return e.record("OnJobProgress")
}

func (e *allHooksExt) OnJobCompleted(context.Context, *job.Job, time.Duration) error {
	return e.record("OnJobCompleted")
}

func (e *allHooksExt) OnJobFailed(context.Context, *job.Job, error) error {
	return e.record("OnJobFailed")
}

func (e *allHooksExt) OnJobRetrying(context.Context, *job.Job, *job.Job) error {
	return e.record("OnJobRetrying")
}

func (e *allHooksExt) OnJobAborted(context.Context, *job.Job, string) error {
	return e.record("OnJobAborted")
}

func (e *allHooksExt) OnJobCancelled(context.Context, *job.Job, string) error {
	return e.record("OnJobCancelled")
}

func (e *allHooksExt) OnCronFired(context.Context, string, id.CronID, id.JobID) error {
	return e.record("OnCronFired")
}

func (e *allHooksExt) OnShutdown(context.Context) error {
	return e.record("OnShutdown")
}

// completedOnly opts into a single hook.
type completedOnly struct{ n int }

func (c *completedOnly) Name() string { return "completed-only" }

func (c *completedOnly) OnJobCompleted(context.Context, *job.Job, time.Duration) error {
	c.n++
	return nil
}

// failingExt returns an error from its hook.
type failingExt struct{}

func (failingExt) Name() string { return "failing" }

func (failingExt) OnJobStarted(context.Context, *job.Job) error {
	return errors.New("boom")
}

func TestRegistryEmitsAllHooks(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}
	r.Register(all)

	ctx := context.Background()
	j := job.New(job.TypeWebhookDelivery, nil)

	r.EmitJobEnqueued(ctx, j)
	r.EmitJobStarted(ctx, j)
	r.EmitJobProgress(ctx, j, 50, "halfway")
	r.EmitJobCompleted(ctx, j, time.Second)
	r.EmitJobFailed(ctx, j, errors.New("x"))
	r.EmitJobRetrying(ctx, j, job.NextAttempt(j))
	r.EmitJobAborted(ctx, j, "stop")
	r.EmitJobCancelled(ctx, j, "stop")
	r.EmitCronFired(ctx, "nightly", id.NewCronID(), j.ID)
	r.EmitShutdown(ctx)

	want := []string{
		"OnJobEnqueued", "OnJobStarted", "OnJobProgress", "OnJobCompleted",
		"OnJobFailed", "OnJobRetrying", "OnJobAborted", "OnJobCancelled",
		"OnCronFired", "OnShutdown",
	}
	if len(all.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", all.calls, want)
	}
	for i := range want {
		if all.calls[i] != want[i] {
			t.Errorf("call %d = %q, want %q", i, all.calls[i], want[i])
		}
	}
}

func TestRegistryOnlyCachesImplementedHooks(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	c := &completedOnly{}
	r.Register(c)

	ctx := context.Background()
	j := job.New(job.TypeTokenRefresh, nil)
	r.EmitJobStarted(ctx, j)
	r.EmitJobCompleted(ctx, j, time.Millisecond)
	r.EmitJobCompleted(ctx, j, time.Millisecond)

	if c.n != 2 {
		t.Errorf("completed hook calls = %d, want 2", c.n)
	}
	if len(r.Extensions()) != 1 {
		t.Errorf("extensions = %d, want 1", len(r.Extensions()))
	}
}

func TestRegistryLogsHookErrors(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	r := ext.NewRegistry(logger)
	r.Register(failingExt{})
	after := &allHooksExt{}
	r.Register(after)

	r.EmitJobStarted(context.Background(), job.New(job.TypeCleanup, nil))

	if !strings.Contains(buf.String(), "extension hook error") {
		t.Errorf("expected hook error to be logged, got %q", buf.String())
	}
	if len(after.calls) != 1 {
		t.Errorf("later extension not notified after earlier hook error")
	}
}

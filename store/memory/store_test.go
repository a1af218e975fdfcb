package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	jobs "github.com/assaka/daino-jobs"
	"github.com/assaka/daino-jobs/backoff"
	"github.com/assaka/daino-jobs/cron"
	"github.com/assaka/daino-jobs/history"
	"github.com/assaka/daino-jobs/id"
	"github.com/assaka/daino-jobs/importstats"
	"github.com/assaka/daino-jobs/job"
	"github.com/assaka/daino-jobs/plugin"
)

// ──────────────────────────────────────────────────
// Lifecycle tests
// ──────────────────────────────────────────────────

func TestLifecycle(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if err := s.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Ping(ctx); !errors.Is(err, jobs.ErrStoreClosed) {
		t.Fatalf("Ping after close = %v, want ErrStoreClosed", err)
	}
	if _, err := s.ClaimNextJob(ctx, nil, id.NewWorkerID()); !errors.Is(err, jobs.ErrStoreClosed) {
		t.Fatalf("ClaimNextJob after close = %v, want ErrStoreClosed", err)
	}
}

// ──────────────────────────────────────────────────
// Job Store tests
// ──────────────────────────────────────────────────

func newJob(t job.Type, priority int) *job.Job {
	return job.New(t, []byte(`{"test":true}`),
		job.WithPriority(priority),
		job.WithScheduledAt(time.Now().UTC().Add(-time.Second)),
	)
}

func TestJobEnqueueAndGet(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	j := newJob(job.TypeCleanup, 0)
	if err := s.EnqueueJob(ctx, j); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if err := s.EnqueueJob(ctx, j); !errors.Is(err, jobs.ErrJobAlreadyExists) {
		t.Fatalf("duplicate EnqueueJob = %v, want ErrJobAlreadyExists", err)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Type != job.TypeCleanup || got.State != job.StatePending {
		t.Errorf("got type=%q state=%q, want cleanup/pending", got.Type, got.State)
	}

	got.Message = "mutated"
	again, _ := s.GetJob(ctx, j.ID)
	if again.Message != "" {
		t.Error("GetJob returned shared memory")
	}

	if _, err := s.GetJob(ctx, id.NewJobID()); !errors.Is(err, jobs.ErrJobNotFound) {
		t.Fatalf("GetJob(missing) = %v, want ErrJobNotFound", err)
	}
}

func TestClaimNextJobOrdering(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	low := newJob(job.TypeCleanup, 1)
	high := newJob(job.TypeCleanup, 5)
	future := newJob(job.TypeCleanup, 10)
	future.ScheduledAt = time.Now().UTC().Add(time.Hour)
	other := newJob(job.TypeTokenRefresh, 20)

	for _, j := range []*job.Job{low, high, future, other} {
		if err := s.EnqueueJob(ctx, j); err != nil {
			t.Fatalf("EnqueueJob: %v", err)
		}
	}

	worker := id.NewWorkerID()
	types := []job.Type{job.TypeCleanup}

	first, err := s.ClaimNextJob(ctx, types, worker)
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if first.ID != high.ID {
		t.Fatalf("first claim = %s, want high priority job %s", first.ID, high.ID)
	}
	if first.State != job.StateRunning || first.WorkerID != worker || first.StartedAt == nil {
		t.Errorf("claimed job not marked running: %+v", first)
	}

	second, _ := s.ClaimNextJob(ctx, types, worker)
	if second == nil || second.ID != low.ID {
		t.Fatalf("second claim = %v, want low priority job", second)
	}

	third, err := s.ClaimNextJob(ctx, types, worker)
	if err != nil || third != nil {
		t.Fatalf("third claim = %v, %v; want nil, nil", third, err)
	}
}

func TestRequestCancel(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	pending := newJob(job.TypeCleanup, 0)
	running := newJob(job.TypeCleanup, 0)
	done := newJob(job.TypeCleanup, 0)
	done.State = job.StateCompleted
	running.State = job.StateRunning
	for _, j := range []*job.Job{pending, running, done} {
		if err := s.EnqueueJob(ctx, j); err != nil {
			t.Fatalf("EnqueueJob: %v", err)
		}
	}

	got, err := s.RequestCancel(ctx, pending.ID, "operator")
	if err != nil {
		t.Fatalf("cancel pending: %v", err)
	}
	if got.State != job.StateCancelled || got.CancelledAt == nil || got.CancelReason != "operator" {
		t.Errorf("pending -> %q (reason %q), want cancelled", got.State, got.CancelReason)
	}

	got, err = s.RequestCancel(ctx, running.ID, "operator")
	if err != nil {
		t.Fatalf("cancel running: %v", err)
	}
	if got.State != job.StateCancelling {
		t.Errorf("running -> %q, want cancelling", got.State)
	}
	state, _ := s.JobState(ctx, running.ID)
	if !state.AbortRequested() {
		t.Errorf("JobState = %q, want abort requested", state)
	}

	if _, err := s.RequestCancel(ctx, done.ID, "late"); !errors.Is(err, jobs.ErrInvalidState) {
		t.Fatalf("cancel completed = %v, want ErrInvalidState", err)
	}
}

func TestScheduleRetry(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := New(
		WithClock(func() time.Time { return now }),
		WithRetryBackoff(backoff.NewExponential(time.Minute, time.Hour)),
	)
	ctx := context.Background()

	failed := newJob(job.TypeWebhookDelivery, 3)
	failed.StoreID = "store-1"
	failed.RetryCount = 1
	failed.State = job.StateFailed
	if err := s.EnqueueJob(ctx, failed); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	next, err := s.ScheduleRetry(ctx, failed)
	if err != nil {
		t.Fatalf("ScheduleRetry: %v", err)
	}
	if next.ID == failed.ID {
		t.Fatal("retry reused the failed row")
	}
	if next.RetryCount != 2 || next.ParentID != failed.ID || next.StoreID != "store-1" || next.Priority != 3 {
		t.Errorf("retry = %+v", next)
	}
	if want := now.Add(2 * time.Minute); !next.ScheduledAt.Equal(want) {
		t.Errorf("ScheduledAt = %v, want %v", next.ScheduledAt, want)
	}
	if next.State != job.StatePending {
		t.Errorf("State = %q, want pending", next.State)
	}

	n, _ := s.CountJobs(ctx, job.ListOpts{Type: job.TypeWebhookDelivery})
	if n != 2 {
		t.Errorf("CountJobs = %d, want 2", n)
	}
}

func TestListJobsFilters(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	for i := range 5 {
		j := newJob(job.TypeCleanup, 0)
		if i%2 == 0 {
			j.StoreID = "a"
		}
		j.CreatedAt = time.Now().UTC().Add(time.Duration(i) * time.Second)
		if err := s.EnqueueJob(ctx, j); err != nil {
			t.Fatalf("EnqueueJob: %v", err)
		}
	}

	got, err := s.ListJobs(ctx, job.ListOpts{StoreID: "a"})
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if !got[0].CreatedAt.After(got[1].CreatedAt) {
		t.Error("ListJobs is not newest first")
	}

	page, _ := s.ListJobs(ctx, job.ListOpts{Limit: 2, Offset: 4})
	if len(page) != 1 {
		t.Errorf("page len = %d, want 1", len(page))
	}
}

// ──────────────────────────────────────────────────
// History, cron, stats and script tests
// ──────────────────────────────────────────────────

func TestHistoryOrder(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	jobID := id.NewJobID()

	kinds := []history.Kind{history.KindStarted, history.KindProgress, history.KindCompleted}
	for _, k := range kinds {
		if err := s.RecordHistory(ctx, history.NewEntry(jobID, k)); err != nil {
			t.Fatalf("RecordHistory: %v", err)
		}
	}

	got, _ := s.ListHistory(ctx, jobID)
	if len(got) != len(kinds) {
		t.Fatalf("len = %d, want %d", len(got), len(kinds))
	}
	for i, k := range kinds {
		if got[i].Kind != k {
			t.Errorf("entry %d = %q, want %q", i, got[i].Kind, k)
		}
	}
}

func TestCronLifecycle(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	d := cron.NewDefinition("nightly", cron.JobTypeCleanup, "@daily")
	d.StoreID = "store-1"
	past := time.Now().UTC().Add(-time.Minute)
	d.NextRunAt = &past
	if err := s.CreateCron(ctx, d); err != nil {
		t.Fatalf("CreateCron: %v", err)
	}

	dup := cron.NewDefinition("nightly", cron.JobTypeWebhook, "@daily")
	dup.StoreID = "store-1"
	if err := s.CreateCron(ctx, dup); !errors.Is(err, jobs.ErrDuplicateCron) {
		t.Fatalf("duplicate CreateCron = %v, want ErrDuplicateCron", err)
	}

	due, _ := s.ListDueCrons(ctx, time.Now().UTC())
	if len(due) != 1 {
		t.Fatalf("due = %d, want 1", len(due))
	}

	if err := s.RecordCronFired(ctx, d.ID, time.Now().UTC(), nil); err != nil {
		t.Fatalf("RecordCronFired: %v", err)
	}
	if err := s.RecordCronOutcome(ctx, d.ID, false); err != nil {
		t.Fatalf("RecordCronOutcome: %v", err)
	}

	got, _ := s.GetCron(ctx, d.ID)
	if got.RunCount != 1 || got.FailureCount != 1 || got.ConsecutiveFailures != 1 {
		t.Errorf("counters = run %d fail %d streak %d, want 1/1/1",
			got.RunCount, got.FailureCount, got.ConsecutiveFailures)
	}
	if got.NextRunAt != nil {
		t.Error("NextRunAt should be cleared")
	}

	exec := cron.NewExecution(got, id.NewJobID())
	if err := s.CreateExecution(ctx, exec); err != nil {
		t.Fatalf("CreateExecution: %v", err)
	}
	exec.Finish(cron.StatusSuccess, []byte(`{}`), nil)
	if err := s.UpdateExecution(ctx, exec); err != nil {
		t.Fatalf("UpdateExecution: %v", err)
	}
	runs, _ := s.ListExecutions(ctx, d.ID, 10)
	if len(runs) != 1 || runs[0].Status != cron.StatusSuccess {
		t.Errorf("runs = %+v, want one success", runs)
	}

	if err := s.DeleteCron(ctx, d.ID); err != nil {
		t.Fatalf("DeleteCron: %v", err)
	}
	if _, err := s.GetCron(ctx, d.ID); !errors.Is(err, jobs.ErrCronNotFound) {
		t.Fatalf("GetCron after delete = %v, want ErrCronNotFound", err)
	}
}

func TestStatisticsAndScripts(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	for _, store := range []string{"a", "b", "a"} {
		st := importstats.New(id.NewJobID(), store, "akeneo", importstats.EntityProducts)
		if err := s.RecordStatistics(ctx, st); err != nil {
			t.Fatalf("RecordStatistics: %v", err)
		}
	}
	got, _ := s.ListStatistics(ctx, "a", "akeneo", 0)
	if len(got) != 2 {
		t.Errorf("stats len = %d, want 2", len(got))
	}

	scr := &plugin.Script{Entity: jobs.NewEntity(), ID: id.NewScriptID(), StoreID: "a", Name: "sync", Enabled: true}
	if err := s.SaveScript(ctx, scr); err != nil {
		t.Fatalf("SaveScript: %v", err)
	}
	if _, err := s.GetScript(ctx, "a", scr.ID); err != nil {
		t.Fatalf("GetScript(owner): %v", err)
	}
	if _, err := s.GetScript(ctx, "b", scr.ID); !errors.Is(err, jobs.ErrScriptNotFound) {
		t.Fatalf("GetScript(other tenant) = %v, want ErrScriptNotFound", err)
	}
}

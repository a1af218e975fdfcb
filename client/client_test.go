package client_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"

	jobs "github.com/assaka/daino-jobs"
	"github.com/assaka/daino-jobs/api"
	"github.com/assaka/daino-jobs/client"
	"github.com/assaka/daino-jobs/cron"
	"github.com/assaka/daino-jobs/engine"
	"github.com/assaka/daino-jobs/id"
	"github.com/assaka/daino-jobs/job"
	"github.com/assaka/daino-jobs/store/memory"
)

// ── Test Helpers ──────────────────────────────────────

func setupClientTest(t *testing.T) (*client.Client, *memory.Store) {
	t.Helper()
	s := memory.New()
	eng, err := engine.New(s, engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	srv := httptest.NewServer(api.New(eng, api.WithToken("test-token")).Handler())
	t.Cleanup(srv.Close)
	return client.New(srv.URL, client.WithToken("test-token")), s
}

// ── Jobs ──────────────────────────────────────────────

func TestEnqueueAndGet(t *testing.T) {
	c, _ := setupClientTest(t)
	ctx := context.Background()

	j, err := c.Enqueue(ctx, job.TypeTokenRefresh, map[string]any{"batch_size": 5},
		client.WithStoreID("store-1"),
		client.WithPriority(3),
		client.WithMaxRetries(1),
	)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if j.Type != job.TypeTokenRefresh || j.StoreID != "store-1" || j.Priority != 3 || j.MaxRetries != 1 {
		t.Errorf("enqueued = %+v", j)
	}

	got, err := c.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.ID != j.ID || got.State != job.StatePending {
		t.Errorf("GetJob = %s/%s, want %s/pending", got.ID, got.State, j.ID)
	}

	list, err := c.ListJobs(ctx, job.ListOpts{StoreID: "store-1", Type: job.TypeTokenRefresh})
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("ListJobs = %d jobs, want 1", len(list))
	}
}

func TestGetMissingJob(t *testing.T) {
	c, _ := setupClientTest(t)
	_, err := c.GetJob(context.Background(), id.NewJobID())
	if !errors.Is(err, jobs.ErrJobNotFound) {
		t.Fatalf("GetJob = %v, want ErrJobNotFound", err)
	}
	if !client.IsNotFound(err) {
		t.Error("IsNotFound = false, want true")
	}
}

func TestCancelAndHistory(t *testing.T) {
	c, _ := setupClientTest(t)
	ctx := context.Background()

	j, err := c.Enqueue(ctx, job.TypeCleanup, map[string]any{"table": "sessions"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	got, err := c.CancelJob(ctx, j.ID, "not needed")
	if err != nil {
		t.Fatalf("CancelJob: %v", err)
	}
	if got.State != job.StateCancelled {
		t.Errorf("state = %s, want cancelled", got.State)
	}

	_, err = c.CancelJob(ctx, j.ID, "again")
	if !errors.Is(err, jobs.ErrInvalidState) {
		t.Fatalf("second CancelJob = %v, want ErrInvalidState", err)
	}

	entries, err := c.History(ctx, j.ID)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(entries) != 1 || entries[0].Message != "not needed" {
		t.Errorf("history = %+v, want one cancelled entry", entries)
	}
}

// ── Crons ─────────────────────────────────────────────

func TestCronActions(t *testing.T) {
	c, s := setupClientTest(t)
	ctx := context.Background()

	d := cron.NewDefinition("hourly-sync", cron.JobTypeShopifySync, "0 * * * *")
	d.StoreID = "store-7"
	if err := s.CreateCron(ctx, d); err != nil {
		t.Fatalf("CreateCron: %v", err)
	}

	paused, err := c.PauseCron(ctx, d.ID)
	if err != nil {
		t.Fatalf("PauseCron: %v", err)
	}
	if !paused.IsPaused {
		t.Error("PauseCron: definition not paused")
	}
	resumed, err := c.ResumeCron(ctx, d.ID)
	if err != nil {
		t.Fatalf("ResumeCron: %v", err)
	}
	if resumed.IsPaused {
		t.Error("ResumeCron: definition still paused")
	}

	jobID, err := c.RunCron(ctx, d.ID)
	if err != nil {
		t.Fatalf("RunCron: %v", err)
	}
	j, err := s.GetJob(ctx, jobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if j.Type != job.TypeDynamicCron || j.StoreID != "store-7" {
		t.Errorf("job = %s/%s, want dynamic_cron/store-7", j.Type, j.StoreID)
	}

	if _, err := c.RunCron(ctx, id.NewCronID()); !errors.Is(err, jobs.ErrCronNotFound) {
		t.Errorf("RunCron missing = %v, want ErrCronNotFound", err)
	}
}

func TestUnauthorized(t *testing.T) {
	eng, err := engine.New(memory.New(), engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	srv := httptest.NewServer(api.New(eng, api.WithToken("right")).Handler())
	defer srv.Close()

	c := client.New(srv.URL, client.WithToken("wrong"))
	_, err = c.GetJob(context.Background(), id.NewJobID())
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) || apiErr.Status != 401 {
		t.Fatalf("GetJob = %v, want 401 APIError", err)
	}
}

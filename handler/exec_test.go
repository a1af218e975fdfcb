package handler_test

import (
	"context"
	"errors"
	"testing"
	"time"

	jobs "github.com/assaka/daino-jobs"
	"github.com/assaka/daino-jobs/backoff"
	"github.com/assaka/daino-jobs/handler"
	"github.com/assaka/daino-jobs/job"
)

func TestExecuteWithTimeoutReturnsResult(t *testing.T) {
	v, err := handler.ExecuteWithTimeout(context.Background(), time.Second,
		func(context.Context) (string, error) { return "ok", nil })
	if err != nil || v != "ok" {
		t.Fatalf("ExecuteWithTimeout = (%q, %v)", v, err)
	}
}

func TestExecuteWithTimeoutTimesOut(t *testing.T) {
	opCtxDone := make(chan struct{})
	_, err := handler.ExecuteWithTimeout(context.Background(), 10*time.Millisecond,
		func(ctx context.Context) (int, error) {
			<-ctx.Done()
			close(opCtxDone)
			return 0, ctx.Err()
		})
	if jobs.KindOf(err) != jobs.KindTimeout {
		t.Fatalf("err = %v, want timeout", err)
	}
	if !handler.IsTimeout(err) {
		t.Error("IsTimeout = false")
	}
	select {
	case <-opCtxDone:
	case <-time.After(time.Second):
		t.Fatal("operation context was not cancelled")
	}
}

func TestExecuteWithTimeoutParentCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := handler.ExecuteWithTimeout(ctx, time.Second,
		func(ctx context.Context) (int, error) {
			<-ctx.Done()
			return 0, nil
		})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestContextWithTimeout(t *testing.T) {
	hc := handler.NewContext(context.Background(), job.NewSystem(job.TypeCleanup, nil))
	err := hc.WithTimeout(5*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})
	if !handler.IsTimeout(err) {
		t.Fatalf("err = %v, want timeout", err)
	}
}

func TestRetryOperationBacksOffExponentially(t *testing.T) {
	var sleeps []time.Duration
	sleep := func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}
	errs := []error{errors.New("first"), errors.New("second"), errors.New("third")}
	attempts := 0

	_, err := handler.RetryOperation(context.Background(), 3, time.Second,
		func(_ context.Context, attempt int) (int, error) {
			attempts++
			if attempt != attempts {
				t.Errorf("attempt = %d, want %d", attempt, attempts)
			}
			return 0, errs[attempt-1]
		},
		handler.WithSleep(sleep),
	)
	if err != errs[2] { //nolint:errorlint // identity check: the last error is returned unwrapped
		t.Fatalf("err = %v, want the third error unchanged", err)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
	want := []time.Duration{time.Second, 2 * time.Second}
	if len(sleeps) != len(want) {
		t.Fatalf("sleeps = %v, want %v", sleeps, want)
	}
	for i := range want {
		if sleeps[i] != want[i] {
			t.Errorf("sleep %d = %v, want %v", i, sleeps[i], want[i])
		}
	}
}

func TestRetryOperationSucceedsEventually(t *testing.T) {
	v, err := handler.RetryOperation(context.Background(), 5, time.Millisecond,
		func(_ context.Context, attempt int) (int, error) {
			if attempt < 3 {
				return 0, errors.New("flaky")
			}
			return attempt, nil
		},
	)
	if err != nil || v != 3 {
		t.Fatalf("RetryOperation = (%d, %v), want (3, nil)", v, err)
	}
}

func TestRetryOperationDoesNotRetryCancellation(t *testing.T) {
	calls := 0
	_, err := handler.RetryOperation(context.Background(), 5, time.Millisecond,
		func(context.Context, int) (int, error) {
			calls++
			return 0, jobs.Cancelled("stop")
		},
	)
	if !jobs.IsCancelled(err) || calls != 1 {
		t.Fatalf("calls = %d err = %v, want 1 cancelled", calls, err)
	}
}

func TestRetryOperationCustomStrategy(t *testing.T) {
	var sleeps []time.Duration
	_, _ = handler.RetryOperation(context.Background(), 3, time.Second,
		func(context.Context, int) (int, error) { return 0, errors.New("x") },
		handler.WithStrategy(backoff.NewConstant(7*time.Millisecond)),
		handler.WithSleep(func(_ context.Context, d time.Duration) error {
			sleeps = append(sleeps, d)
			return nil
		}),
	)
	if len(sleeps) != 2 || sleeps[0] != 7*time.Millisecond || sleeps[1] != 7*time.Millisecond {
		t.Errorf("sleeps = %v", sleeps)
	}
}

func TestRetryOperationRetryIf(t *testing.T) {
	calls := 0
	permanent := errors.New("permanent")
	_, err := handler.RetryOperation(context.Background(), 4, time.Millisecond,
		func(context.Context, int) (int, error) {
			calls++
			return 0, permanent
		},
		handler.WithRetryIf(func(err error) bool { return !errors.Is(err, permanent) }),
	)
	if !errors.Is(err, permanent) || calls != 1 {
		t.Fatalf("calls = %d err = %v", calls, err)
	}
}

func TestValidateDependencies(t *testing.T) {
	ran := []string{}
	ok := func(name string) handler.Dependency {
		return handler.Dependency{Name: name, Check: func(context.Context) (bool, error) {
			ran = append(ran, name)
			return true, nil
		}}
	}
	fail := handler.Dependency{
		Name:    "akeneo_configured",
		Message: "Akeneo integration is not configured",
		Check: func(context.Context) (bool, error) {
			ran = append(ran, "akeneo_configured")
			return false, nil
		},
	}

	err := handler.ValidateDependencies(context.Background(), ok("db"), fail, ok("never"))
	if jobs.KindOf(err) != jobs.KindDependencyUnsatisfied {
		t.Fatalf("err = %v, want dependency unsatisfied", err)
	}
	var je *jobs.Error
	if !errors.As(err, &je) || je.Field != "akeneo_configured" {
		t.Errorf("err = %#v", err)
	}
	if len(ran) != 2 {
		t.Errorf("checks run = %v, want fail-fast after second", ran)
	}

	if err := handler.ValidateDependencies(context.Background(), ok("a"), ok("b")); err != nil {
		t.Errorf("all satisfied: %v", err)
	}
}

func TestValidateDependenciesMalformed(t *testing.T) {
	for _, d := range []handler.Dependency{
		{Name: "no-check"},
		{Check: func(context.Context) (bool, error) { return true, nil }},
	} {
		err := handler.ValidateDependencies(context.Background(), d)
		if jobs.KindOf(err) != jobs.KindDependencyUnsatisfied {
			t.Errorf("malformed %+v: err = %v", d.Name, err)
		}
	}
}

func TestValidateDependenciesCheckError(t *testing.T) {
	boom := errors.New("db down")
	err := handler.ValidateDependencies(context.Background(), handler.Dependency{
		Name:  "db",
		Check: func(context.Context) (bool, error) { return false, boom },
	})
	if !errors.Is(err, boom) || jobs.KindOf(err) != jobs.KindDependencyUnsatisfied {
		t.Fatalf("err = %v", err)
	}
}

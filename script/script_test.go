package script_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	jobs "github.com/assaka/daino-jobs"
	"github.com/assaka/daino-jobs/httpclient"
	"github.com/assaka/daino-jobs/id"
	"github.com/assaka/daino-jobs/job"
	"github.com/assaka/daino-jobs/script"
)

type stubFetcher struct {
	got  httpclient.Request
	resp *httpclient.Response
}

func (f *stubFetcher) Do(ctx context.Context, req httpclient.Request) (*httpclient.Response, error) {
	f.got = req
	if f.resp == nil {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.resp, nil
}

type stubQuerier struct {
	storeID string
	q       script.Query
}

func (s *stubQuerier) Query(_ context.Context, storeID string, q script.Query) (any, error) {
	s.storeID, s.q = storeID, q
	return []any{map[string]any{"id": int64(1)}}, nil
}

func mustParse(t *testing.T, src string) *script.Program {
	t.Helper()
	p, err := script.Parse(json.RawMessage(src))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return p
}

func TestParseRejectsInvalidPrograms(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"empty", ``},
		{"no steps", `{"steps":[]}`},
		{"unknown action", `{"steps":[{"action":"exec","params":{"cmd":"rm"}}]}`},
		{"unknown field", `{"steps":[{"action":"log","code":"x"}]}`},
		{"set without as", `{"steps":[{"action":"set","params":{"value":1}}]}`},
		{"reserved var", `{"steps":[{"action":"set","as":"params","params":{"value":1}}]}`},
		{"bad var name", `{"steps":[{"action":"set","as":"a-b","params":{"value":1}}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := script.Parse(json.RawMessage(tt.src))
			if got := jobs.KindOf(err); got != jobs.KindConfiguration {
				t.Fatalf("kind = %q, want configuration (err %v)", got, err)
			}
		})
	}
}

func TestRunInterpolationAndGuards(t *testing.T) {
	p := mustParse(t, `{"steps":[
		{"action":"set","as":"greeting","params":{"value":"hello ${storeId}"}},
		{"action":"set","as":"limit","params":{"value":"${params.limit * 2}"}},
		{"action":"set","as":"skipped","when":"limit > 100","params":{"value":true}},
		{"action":"set","as":"result","params":{"greeting":"${greeting}","limit":"${limit}"}}
	]}`)

	res, err := script.New().Run(context.Background(), p, script.Input{
		StoreID: "store-7",
		Params:  map[string]any{"limit": int64(5)},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.StepsRun != 3 || res.Skipped != 1 {
		t.Errorf("steps run %d skipped %d, want 3 and 1", res.StepsRun, res.Skipped)
	}
	out, ok := res.Output.(map[string]any)
	if !ok {
		t.Fatalf("output = %T, want map", res.Output)
	}
	if out["greeting"] != "hello store-7" {
		t.Errorf("greeting = %v", out["greeting"])
	}
	if out["limit"] != int64(10) {
		t.Errorf("limit = %v (%T), want 10", out["limit"], out["limit"])
	}
	if _, set := res.Vars["skipped"]; set {
		t.Error("guarded step ran")
	}
}

func TestRunHTTPFetch(t *testing.T) {
	f := &stubFetcher{resp: &httpclient.Response{
		Status: 200,
		Body:   []byte(`{"orders":[{"id":1},{"id":2}]}`),
	}}
	p := mustParse(t, `{"steps":[
		{"action":"http_fetch","as":"res","params":{"url":"${apiBaseUrl + '/stores/' + storeId}","headers":{"X-Store":"${storeId}"}}},
		{"action":"fail","when":"res.status != 200","params":{"message":"bad status"}},
		{"action":"set","as":"result","params":{"value":"${size(res.body.orders)}"}}
	]}`)

	res, err := script.New(script.WithFetcher(f)).Run(context.Background(), p, script.Input{
		StoreID:    "s1",
		APIBaseURL: "https://api.example.test",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if f.got.URL != "https://api.example.test/stores/s1" || f.got.Method != "GET" {
		t.Errorf("request = %+v", f.got)
	}
	if f.got.Headers["X-Store"] != "s1" {
		t.Errorf("headers = %v", f.got.Headers)
	}
	if res.Output != int64(2) {
		t.Errorf("output = %v, want 2", res.Output)
	}
}

func TestRunFailAction(t *testing.T) {
	p := mustParse(t, `{"steps":[{"action":"fail","params":{"message":"inventory feed missing"}}]}`)
	_, err := script.New().Run(context.Background(), p, script.Input{})
	if jobs.KindOf(err) != jobs.KindDownstream {
		t.Fatalf("err = %v, want downstream", err)
	}
}

func TestRunMissingCapability(t *testing.T) {
	p := mustParse(t, `{"steps":[{"action":"db_query","as":"rows","params":{"table":"sessions"}}]}`)
	_, err := script.New().Run(context.Background(), p, script.Input{})
	if jobs.KindOf(err) != jobs.KindConfiguration {
		t.Fatalf("err = %v, want configuration", err)
	}
}

func TestRunDBQueryUsesTenant(t *testing.T) {
	q := &stubQuerier{}
	p := mustParse(t, `{"steps":[{"action":"db_query","as":"result",
		"params":{"table":"abandoned_carts","operation":"count","where":{"store_id":"${storeId}"},"limit":50}}]}`)
	_, err := script.New(script.WithQuerier(q)).Run(context.Background(), p, script.Input{StoreID: "s9"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if q.storeID != "s9" || q.q.Table != "abandoned_carts" || q.q.Operation != "count" || q.q.Limit != 50 {
		t.Errorf("query = %+v on %q", q.q, q.storeID)
	}
	if q.q.Where["store_id"] != "s9" {
		t.Errorf("where = %v", q.q.Where)
	}
}

func TestRunEnqueueJob(t *testing.T) {
	var gotType job.Type
	var gotStore string
	enq := func(_ context.Context, tp job.Type, payload json.RawMessage, opts ...job.Option) (id.JobID, error) {
		j := job.New(tp, payload, opts...)
		gotType, gotStore = tp, j.StoreID
		return j.ID, nil
	}
	rt := script.New(script.WithEnqueuer(enq))

	ok := mustParse(t, `{"steps":[{"action":"enqueue_job","as":"result","params":{"job_type":"token_refresh","payload":{"batch_size":5}}}]}`)
	res, err := rt.Run(context.Background(), ok, script.Input{StoreID: "s2"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if gotType != job.TypeTokenRefresh || gotStore != "s2" {
		t.Errorf("enqueued %q for %q", gotType, gotStore)
	}
	if s, _ := res.Output.(string); s == "" {
		t.Error("output should be the job id")
	}

	loop := mustParse(t, `{"steps":[{"action":"enqueue_job","params":{"job_type":"dynamic_cron"}}]}`)
	if _, err := rt.Run(context.Background(), loop, script.Input{}); jobs.KindOf(err) != jobs.KindConfiguration {
		t.Fatalf("dynamic_cron enqueue err = %v, want configuration", err)
	}
}

func TestRunLimits(t *testing.T) {
	t.Run("steps", func(t *testing.T) {
		p := mustParse(t, `{"steps":[{"action":"log"},{"action":"log"},{"action":"log"}]}`)
		limits := script.DefaultLimits()
		limits.MaxSteps = 2
		_, err := script.New(script.WithLimits(limits)).Run(context.Background(), p, script.Input{})
		if jobs.KindOf(err) != jobs.KindConfiguration {
			t.Fatalf("err = %v, want configuration", err)
		}
	})

	t.Run("cost", func(t *testing.T) {
		p := mustParse(t, `{"steps":[{"action":"set","as":"x",
			"params":{"value":"${[1,2,3,4,5,6,7,8,9,10].map(a, [1,2,3,4,5,6,7,8,9,10].map(b, a * b))}"}}]}`)
		limits := script.DefaultLimits()
		limits.CostLimit = 10
		_, err := script.New(script.WithLimits(limits)).Run(context.Background(), p, script.Input{})
		if err == nil {
			t.Fatal("expected cost limit error")
		}
	})

	t.Run("timeout", func(t *testing.T) {
		p := mustParse(t, `{"steps":[{"action":"http_fetch","params":{"url":"http://slow.test"}}]}`)
		limits := script.DefaultLimits()
		limits.Timeout = 20 * time.Millisecond
		rt := script.New(script.WithLimits(limits), script.WithFetcher(&stubFetcher{}))
		_, err := rt.Run(context.Background(), p, script.Input{})
		if jobs.KindOf(err) != jobs.KindTimeout {
			t.Fatalf("err = %v, want timeout", err)
		}
	})
}

func TestRunHTTPFetchCapsResponseBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"blob":"` + strings.Repeat("x", 64<<10) + `"}`))
	}))
	defer srv.Close()

	limits := script.DefaultLimits()
	limits.MaxResponseBytes = 1024
	p := mustParse(t, `{"steps":[{"action":"http_fetch","as":"res","params":{"url":"${params.url}"}}]}`)
	rt := script.New(script.WithLimits(limits), script.WithFetcher(httpclient.New()))
	_, err := rt.Run(context.Background(), p, script.Input{Params: map[string]any{"url": srv.URL}})
	if !errors.Is(err, httpclient.ErrBodyTooLarge) {
		t.Fatalf("Run err = %v, want ErrBodyTooLarge", err)
	}

	f := &stubFetcher{resp: &httpclient.Response{Status: 200, Body: []byte(`{}`)}}
	if _, err := script.New(script.WithLimits(limits), script.WithFetcher(f)).Run(context.Background(), p,
		script.Input{Params: map[string]any{"url": "https://api.example.test"}}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if f.got.MaxBodyBytes != 1024 {
		t.Errorf("MaxBodyBytes = %d, want 1024", f.got.MaxBodyBytes)
	}
}

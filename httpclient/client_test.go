package httpclient_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/assaka/daino-jobs/httpclient"
)

func TestDoSendsJSONAndHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if got := r.Header.Get("X-Token"); got != "abc" {
			t.Errorf("X-Token = %q, want abc", got)
		}
		if got := r.Header.Get("Content-Type"); got != "application/json" {
			t.Errorf("Content-Type = %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != `{"a":1}` {
			t.Errorf("body = %s", body)
		}
		w.Header().Set("X-Reply", "yes")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`ok`))
	}))
	defer srv.Close()

	resp, err := httpclient.New().Do(context.Background(), httpclient.Request{
		Method:  "post",
		URL:     srv.URL,
		Headers: map[string]string{"X-Token": "abc"},
		Body:    map[string]int{"a": 1},
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if resp.Status != http.StatusCreated || !resp.OK() {
		t.Errorf("status = %d", resp.Status)
	}
	if string(resp.Body) != "ok" || resp.Headers["X-Reply"] != "yes" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestDoReturnsServerErrorsAsResponses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	resp, err := httpclient.New().Do(context.Background(), httpclient.Request{URL: srv.URL})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if resp.OK() || resp.Status != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", resp.Status)
	}
}

func TestDoTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	_, err := httpclient.New().Do(context.Background(), httpclient.Request{URL: srv.URL, Timeout: 20 * time.Millisecond})
	if err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestDoStopsReadingAtBodyLimit(t *testing.T) {
	chunk := make([]byte, 1024)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		// Stream far more than the limit; the client hangs up early.
		for i := 0; i < 1024; i++ {
			if _, err := w.Write(chunk); err != nil {
				return
			}
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
		}
	}))
	defer srv.Close()

	c := httpclient.New()
	_, err := c.Do(context.Background(), httpclient.Request{URL: srv.URL, MaxBodyBytes: 4096})
	if !errors.Is(err, httpclient.ErrBodyTooLarge) {
		t.Fatalf("Do err = %v, want ErrBodyTooLarge", err)
	}

	resp, err := c.Do(context.Background(), httpclient.Request{URL: srv.URL, MaxBodyBytes: 2 << 20})
	if err != nil {
		t.Fatalf("Do under limit: %v", err)
	}
	if len(resp.Body) != 1024*1024 {
		t.Errorf("body = %d bytes, want %d", len(resp.Body), 1024*1024)
	}
}

package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/mlsync/internal/models"
)

type fakeRuns struct {
	runs  []*models.SyncRun
	err   error
	limit int
}

func (f *fakeRuns) Recent(ctx context.Context, limit int) ([]*models.SyncRun, error) {
	f.limit = limit
	return f.runs, f.err
}

func TestBasicRouter(t *testing.T) {
	t.Run("Handle filters by method", func(t *testing.T) {
		r := NewBasicRouter()
		r.Handle(http.MethodGet, "/ping", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			io.WriteString(w, "pong")
		}))

		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
		if rec.Body.String() != "pong" {
			t.Errorf("expected pong, got %q", rec.Body.String())
		}

		rec = httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/ping", nil))
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("expected 405, got %d", rec.Code)
		}
	})

	t.Run("middleware order", func(t *testing.T) {
		var order []string
		mark := func(name string) Middleware {
			return func(next http.Handler) http.Handler {
				return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
					order = append(order, name)
					next.ServeHTTP(w, req)
				})
			}
		}

		r := NewBasicRouter()
		r.Use(mark("first"), mark("second"))
		r.Handle(http.MethodGet, "/", http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			order = append(order, "handler")
		}))
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

		if strings.Join(order, ",") != "first,second,handler" {
			t.Errorf("unexpected order %v", order)
		}
	})

	t.Run("Recover", func(t *testing.T) {
		r := NewBasicRouter()
		r.Use(Recover(log.New(io.Discard)), Logging(log.New(io.Discard)))
		r.Handle(http.MethodGet, "/boom", http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			panic("boom")
		}))

		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
		if rec.Code != http.StatusInternalServerError {
			t.Errorf("expected 500, got %d", rec.Code)
		}
	})
}

func TestStatusHandler(t *testing.T) {
	runs := &fakeRuns{runs: []*models.SyncRun{{ID: "r1", StartedAt: 1700000000, Successful: true}}}

	tests := []struct {
		name       string
		method     string
		target     string
		wantStatus int
		wantBody   string
	}{
		{"healthz", http.MethodGet, "/healthz", http.StatusOK, `"syncing":true`},
		{"runs", http.MethodGet, "/runs", http.StatusOK, `"id":"r1"`},
		{"runs with limit", http.MethodGet, "/runs?limit=5", http.StatusOK, `"id":"r1"`},
		{"bad limit", http.MethodGet, "/runs?limit=zero", http.StatusBadRequest, "positive integer"},
		{"wrong method", http.MethodPost, "/runs", http.StatusMethodNotAllowed, ""},
	}

	h := NewStatusHandler(runs, func() bool { return true })
	r := NewBasicRouter()
	r.Handler(h)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.target, nil))

			if rec.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
			if !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("expected body to contain %q, got %s", tt.wantBody, rec.Body.String())
			}
		})
	}

	if runs.limit != 5 {
		t.Errorf("expected last limit 5, got %d", runs.limit)
	}

	t.Run("empty history is an array", func(t *testing.T) {
		h := NewStatusHandler(&fakeRuns{}, nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs", nil))
		if strings.TrimSpace(rec.Body.String()) != "[]" {
			t.Errorf("expected [], got %s", rec.Body.String())
		}
	})

	t.Run("store error", func(t *testing.T) {
		h := NewStatusHandler(&fakeRuns{err: errors.New("db gone")}, nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs", nil))
		if rec.Code != http.StatusInternalServerError {
			t.Errorf("expected 500, got %d", rec.Code)
		}
	})
}

func TestSyncHandler(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		target     string
		wantStatus int
		wantCalls  []bool
	}{
		{"incremental", http.MethodPost, "/sync", http.StatusAccepted, []bool{false}},
		{"repair", http.MethodPost, "/sync?repair=true", http.StatusAccepted, []bool{true}},
		{"bad repair", http.MethodPost, "/sync?repair=maybe", http.StatusBadRequest, nil},
		{"get", http.MethodGet, "/sync", http.StatusMethodNotAllowed, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls []bool
			h := NewSyncHandler(func(repair bool) { calls = append(calls, repair) })

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.target, nil))

			if rec.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
			if len(calls) != len(tt.wantCalls) {
				t.Fatalf("expected %d trigger calls, got %d", len(tt.wantCalls), len(calls))
			}
			for i := range calls {
				if calls[i] != tt.wantCalls[i] {
					t.Errorf("call %d: expected repair=%v", i, tt.wantCalls[i])
				}
			}
			if tt.wantStatus == http.StatusAccepted {
				var body map[string]any
				if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
					t.Fatalf("invalid JSON: %v", err)
				}
				if body["queued"] != true {
					t.Errorf("expected queued=true, got %v", body)
				}
			}
		})
	}
}

func TestServeListener(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { io.WriteString(w, "ok") })
	go func() { done <- ServeListener(ctx, ln, handler, log.New(io.Discard)) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "ok" {
		t.Errorf("expected ok, got %q", body)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

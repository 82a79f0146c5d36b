package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/desertthunder/witx/internal/models"
	"github.com/desertthunder/witx/internal/state"
	"github.com/desertthunder/witx/internal/tasks"
)

func TestBasicRouter(t *testing.T) {
	t.Run("MethodFiltering", func(t *testing.T) {
		router := NewBasicRouter()
		router.Handle(http.MethodGet, "/ping", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte("pong"))
		}))

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
		if rec.Code != http.StatusOK || rec.Body.String() != "pong" {
			t.Errorf("expected 200 pong, got %d %q", rec.Code, rec.Body.String())
		}

		rec = httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/ping", nil))
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("expected 405, got %d", rec.Code)
		}
	})

	t.Run("MiddlewareOrder", func(t *testing.T) {
		var order []string
		mark := func(name string) Middleware {
			return func(next http.Handler) http.Handler {
				return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					order = append(order, name)
					next.ServeHTTP(w, r)
				})
			}
		}

		router := NewBasicRouter()
		router.Use(mark("first"), mark("second"))
		router.Handler(HealthHandler{})

		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
		if strings.Join(order, ",") != "first,second" {
			t.Errorf("expected first,second, got %v", order)
		}
	})

	t.Run("Recoverer", func(t *testing.T) {
		router := NewBasicRouter()
		router.Use(Recoverer(log.New(io.Discard)))
		router.Handle(http.MethodGet, "/boom", http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			panic("boom")
		}))

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
		if rec.Code != http.StatusInternalServerError {
			t.Errorf("expected 500 after panic, got %d", rec.Code)
		}
	})
}

func TestTracker(t *testing.T) {
	t.Run("WithoutStore", func(t *testing.T) {
		tracker := NewTracker("run-1", models.RunModeMigrate, nil)
		tracker.Observe(tasks.ProgressUpdate{Phase: tasks.CoreFields, Step: 2, Total: 5, Message: "batch 2/5"})

		s := tracker.Snapshot()
		if s.RunID != "run-1" || s.Phase != "phase1" || s.Step != 2 || s.Total != 5 {
			t.Errorf("unexpected status: %+v", s)
		}
		if s.Records != nil {
			t.Error("records should be omitted without a store")
		}
		if s.Done {
			t.Error("run should not be done before the summary")
		}
	})

	t.Run("WithStore", func(t *testing.T) {
		store := state.NewStore()
		for id, action := range map[int]models.Action{1: models.ActionCreate, 2: models.ActionUpdate, 3: models.ActionNone} {
			if err := store.Upsert(models.MigrationRecord{SourceID: id, Action: action}); err != nil {
				t.Fatalf("Upsert failed: %v", err)
			}
		}
		if err := store.Complete(1, models.Phase1); err != nil {
			t.Fatalf("Complete failed: %v", err)
		}
		if err := store.Fail(2, models.FailureBadRequest); err != nil {
			t.Fatalf("Fail failed: %v", err)
		}

		tracker := NewTracker("run-1", models.RunModeMigrate, nil)
		tracker.SetStore(store)
		tracker.Observe(tasks.ProgressUpdate{Phase: tasks.Summarize, Message: "done"})

		s := tracker.Snapshot()
		if s.Records == nil {
			t.Fatal("expected record counts")
		}
		if s.Records.Total != 3 || s.Records.Create != 1 || s.Records.Update != 1 || s.Records.None != 1 {
			t.Errorf("unexpected action counts: %+v", s.Records)
		}
		if s.Records.Failed != 1 {
			t.Errorf("expected 1 failed record, got %d", s.Records.Failed)
		}
		if s.Records.Completed["Phase1"] != 1 {
			t.Errorf("expected Phase1 completed once, got %v", s.Records.Completed)
		}
		if !s.Done {
			t.Error("summary update should mark the run done")
		}
	})

	t.Run("Elapsed", func(t *testing.T) {
		tracker := NewTracker("run-1", models.RunModeValidate, nil)
		tracker.nowFunc = func() time.Time { return tracker.status.StartedAt.Add(90 * time.Second) }

		if got := tracker.Snapshot().Elapsed; got != "1m30s" {
			t.Errorf("expected elapsed 1m30s, got %s", got)
		}
	})
}

func TestStatusServer(t *testing.T) {
	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "witx_test_total", Help: "test counter"})
	registry.MustRegister(counter)
	counter.Inc()

	tracker := NewTracker("run-7", models.RunModeMigrate, state.NewStore())
	tracker.Observe(tasks.ProgressUpdate{Phase: tasks.Enrichment, Step: 1, Total: 3})

	srv := NewStatusServer("127.0.0.1:0", tracker, registry, log.New(io.Discard))
	if err := srv.Start(); err != nil {
		t.Fatalf("failed to start status server: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			t.Errorf("shutdown failed: %v", err)
		}
	}()

	base := "http://" + srv.Addr()
	get := func(path string) (int, string) {
		t.Helper()
		resp, err := http.Get(base + path)
		if err != nil {
			t.Fatalf("GET %s failed: %v", path, err)
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			t.Fatalf("failed to read %s body: %v", path, err)
		}
		return resp.StatusCode, string(body)
	}

	t.Run("Healthz", func(t *testing.T) {
		code, body := get("/healthz")
		if code != http.StatusOK || strings.TrimSpace(body) != "ok" {
			t.Errorf("expected 200 ok, got %d %q", code, body)
		}
	})

	t.Run("Status", func(t *testing.T) {
		code, body := get("/status")
		if code != http.StatusOK {
			t.Fatalf("expected 200, got %d", code)
		}
		var s Status
		if err := json.Unmarshal([]byte(body), &s); err != nil {
			t.Fatalf("status is not valid JSON: %v", err)
		}
		if s.RunID != "run-7" || s.Phase != "phase2" || s.Records == nil {
			t.Errorf("unexpected status: %+v", s)
		}
	})

	t.Run("Metrics", func(t *testing.T) {
		code, body := get("/metrics")
		if code != http.StatusOK {
			t.Fatalf("expected 200, got %d", code)
		}
		if !strings.Contains(body, "witx_test_total 1") {
			t.Errorf("expected test counter in exposition, got:\n%s", body)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		if code, _ := get("/missing"); code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", code)
		}
	})
}

func TestStatusServerBadAddr(t *testing.T) {
	srv := NewStatusServer("256.0.0.1:bad", NewTracker("r", models.RunModeMigrate, nil), nil, log.New(io.Discard))
	if err := srv.Start(); err == nil {
		t.Fatal("expected listen error for an invalid address")
	}
	if err := srv.Shutdown(context.Background()); err != nil {
		t.Errorf("shutdown of an unstarted server should be a no-op, got %v", err)
	}
}

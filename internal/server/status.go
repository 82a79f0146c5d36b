package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/desertthunder/witx/internal/state"
	"github.com/desertthunder/witx/internal/tasks"
)

// RecordCounts is the JSON form of [state.Counts].
type RecordCounts struct {
	Total     int            `json:"total"`
	Create    int            `json:"create"`
	Update    int            `json:"update"`
	None      int            `json:"none"`
	Failed    int            `json:"failed"`
	Completed map[string]int `json:"completed"`
}

// Status is the body of GET /status.
type Status struct {
	RunID     string        `json:"run_id"`
	Mode      string        `json:"mode"`
	Phase     string        `json:"phase"`
	Step      int           `json:"step"`
	Total     int           `json:"total"`
	Message   string        `json:"message"`
	StartedAt time.Time     `json:"started_at"`
	Elapsed   string        `json:"elapsed"`
	Records   *RecordCounts `json:"records,omitempty"`
	Done      bool          `json:"done"`
}

// Tracker remembers the latest progress update of a run and reads live counts from its store.
type Tracker struct {
	mu      sync.RWMutex
	store   *state.Store
	status  Status
	nowFunc func() time.Time
}

// NewTracker creates a tracker for the run; store may be nil until the engine exists.
func NewTracker(runID, mode string, store *state.Store) *Tracker {
	return &Tracker{
		store:   store,
		status:  Status{RunID: runID, Mode: mode, StartedAt: time.Now()},
		nowFunc: time.Now,
	}
}

// Observe records a progress update.
func (t *Tracker) Observe(u tasks.ProgressUpdate) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.Phase = u.Phase.String()
	t.status.Step = u.Step
	t.status.Total = u.Total
	t.status.Message = u.Message
	if u.Phase == tasks.Summarize {
		t.status.Done = true
	}
}

// SetStore attaches the record store once the engine has been built.
func (t *Tracker) SetStore(store *state.Store) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.store = store
}

// Snapshot returns the current status.
func (t *Tracker) Snapshot() Status {
	t.mu.RLock()
	s := t.status
	store := t.store
	t.mu.RUnlock()

	s.Elapsed = t.nowFunc().Sub(s.StartedAt).Round(time.Second).String()
	if store != nil {
		c := store.Counts()
		s.Records = &RecordCounts{
			Total:     c.Total,
			Create:    c.Create,
			Update:    c.Update,
			None:      c.None,
			Failed:    c.Failed,
			Completed: make(map[string]int, len(c.Completed)),
		}
		for phase, n := range c.Completed {
			s.Records.Completed[phase.String()] = n
		}
	}
	return s
}

// StatusHandler serves the tracker snapshot as JSON.
type StatusHandler struct {
	tracker *Tracker
}

func NewStatusHandler(tracker *Tracker) *StatusHandler {
	return &StatusHandler{tracker: tracker}
}

func (h *StatusHandler) Routes() []string { return []string{"/status"} }

func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.tracker.Snapshot()); err != nil {
		http.Error(w, "Failed to encode status", http.StatusInternalServerError)
	}
}

// HealthHandler answers liveness probes.
type HealthHandler struct{}

func (HealthHandler) Routes() []string { return []string{"/healthz"} }

func (HealthHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, "ok")
}

// StatusServer exposes health, run status and metrics over HTTP.
type StatusServer struct {
	srv      *http.Server
	listener net.Listener
	logger   *log.Logger
	done     chan struct{}
}

// NewStatusServer wires the status routes. A nil registry omits /metrics.
func NewStatusServer(addr string, tracker *Tracker, registry *prometheus.Registry, logger *log.Logger) *StatusServer {
	router := NewBasicRouter()
	router.Use(Recoverer(logger), RequestLogger(logger))
	router.Handler(HealthHandler{})
	router.Handler(NewStatusHandler(tracker))
	if registry != nil {
		router.Handle(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{
			ErrorHandling: promhttp.ContinueOnError,
		}))
	}

	return &StatusServer{
		srv: &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Start binds the listen address and serves in the background.
func (s *StatusServer) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.srv.Addr, err)
	}
	s.listener = ln

	go func() {
		defer close(s.done)
		s.logger.Info("status server listening", "addr", ln.Addr().String())
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("status server stopped", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address, which differs from the configured one for ":0".
func (s *StatusServer) Addr() string {
	if s.listener == nil {
		return s.srv.Addr
	}
	return s.listener.Addr().String()
}

// Shutdown stops the server and waits for the serve loop to exit.
func (s *StatusServer) Shutdown(ctx context.Context) error {
	if s.listener == nil {
		return nil
	}
	err := s.srv.Shutdown(ctx)
	select {
	case <-s.done:
	case <-ctx.Done():
	}
	return err
}

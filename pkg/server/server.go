package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/nstogner/tiered/pkg/agent"
	"github.com/nstogner/tiered/pkg/classify"
	"github.com/nstogner/tiered/pkg/domain"
	"github.com/nstogner/tiered/pkg/model"
	"github.com/nstogner/tiered/pkg/router"
	"github.com/nstogner/tiered/pkg/sandbox"
	"github.com/nstogner/tiered/pkg/store"
	"github.com/nstogner/tiered/pkg/tier"
	"github.com/nstogner/tiered/pkg/tools"
)

// PlanHeader carries the caller's subscription plan. It stands in for the
// authentication layer that normally resolves the plan.
const PlanHeader = "X-Subscription-Plan"

// Options configures a Server. Backend and Registry are required.
type Options struct {
	Backend  model.Backend
	Registry *tier.Registry
	// Production hides error details from responses.
	Production bool

	// Tools are bound to every session.
	Tools *tools.Registry
	// Memory backs the memory tools of sessions with enableMemory set.
	Memory store.MemoryStore
	Usage  store.UsageStore
	// Sandbox, when set, is stopped together with the session it serves.
	Sandbox sandbox.Runner

	ClassifierTimeout time.Duration
	ExecutorOptions   []agent.Option
}

// runtime is everything derived from one tier table.
type runtime struct {
	reg    *tier.Registry
	router *router.Router
	exec   *agent.Executor
}

// Server serves the chat API.
type Server struct {
	opts     Options
	rt       atomic.Pointer[runtime]
	sessions *sessionTable
	srv      *http.Server
}

// New creates a new Server.
func New(opts Options) *Server {
	if opts.Tools == nil {
		opts.Tools, _ = tools.NewRegistry()
	}
	s := &Server{opts: opts, sessions: newSessionTable()}
	s.SetRegistry(opts.Registry)
	return s
}

// SetRegistry swaps in a new tier table. Turns already running finish on
// the table they started with.
func (s *Server) SetRegistry(reg *tier.Registry) {
	execOpts := s.opts.ExecutorOptions
	if s.opts.Usage != nil {
		execOpts = append([]agent.Option{agent.WithUsageStore(s.opts.Usage)}, execOpts...)
	}
	var classifyOpts []classify.Option
	if s.opts.ClassifierTimeout > 0 {
		classifyOpts = append(classifyOpts, classify.WithTimeout(s.opts.ClassifierTimeout))
	}
	s.rt.Store(&runtime{
		reg:    reg,
		router: router.New(reg, classify.New(s.opts.Backend, reg, classifyOpts...)),
		exec:   agent.NewExecutor(s.opts.Backend, reg, execOpts...),
	})
	slog.Info("Tier table loaded", "tiers", len(reg.All()), "default", reg.DefaultKey())
}

func (s *Server) runtime() *runtime { return s.rt.Load() }

// Handler returns the HTTP handler with all routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("GET /api/chat/ws", s.handleChatWebSocket)

	mux.HandleFunc("GET /api/models", s.handleListModels)

	mux.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.handleDeleteSession)
	mux.HandleFunc("GET /api/sessions/{id}/usage", s.handleSessionUsage)
	mux.HandleFunc("GET /api/usage", s.handleUsage)

	return s.corsMiddleware(mux)
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		slog.Info("Starting web server", "addr", addr)
		errc <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := s.srv.Shutdown(shutdownCtx)
	s.Close()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Close releases every session.
func (s *Server) Close() {
	for _, e := range s.sessions.drain() {
		s.release(context.Background(), e)
	}
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+PlanHeader)

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// statusFor maps an error to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrEntitlementDenied):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

var genericMessages = map[int]string{
	http.StatusBadRequest:          "Invalid request",
	http.StatusForbidden:           "Access denied",
	http.StatusNotFound:            "Not found",
	http.StatusInternalServerError: "An internal error occurred",
}

// errorPayload builds the failure body. Details are only exposed outside
// production.
func (s *Server) errorPayload(status int, err error, requestID string, start time.Time) domain.ErrorPayload {
	msg := err.Error()
	if s.opts.Production {
		msg = genericMessages[status]
	}
	return domain.ErrorPayload{
		Success:          false,
		Error:            msg,
		RequestID:        requestID,
		ProcessingTimeMs: float64(time.Since(start).Microseconds()) / 1000,
	}
}

func (s *Server) errorResponse(w http.ResponseWriter, err error, requestID string, start time.Time) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("API Error", "requestID", requestID, "error", err)
	} else {
		slog.Debug("API request rejected", "requestID", requestID, "status", status, "error", err)
	}
	s.jsonResponse(w, status, s.errorPayload(status, err, requestID, start))
}

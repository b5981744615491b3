package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/nstogner/tiered/pkg/agent"
	"github.com/nstogner/tiered/pkg/domain"
	"github.com/nstogner/tiered/pkg/router"
	"github.com/nstogner/tiered/pkg/tier"
)

// chatResponse is a turn result plus the routing decision behind it.
type chatResponse struct {
	*domain.TurnResult
	Routing router.Decision `json:"routing"`
}

func validate(req *domain.ChatRequest) error {
	if strings.TrimSpace(req.Message) == "" {
		return fmt.Errorf("%w: message is required", domain.ErrInvalidRequest)
	}
	if n := utf8.RuneCountInString(req.Message); n > domain.MaxMessageChars {
		return fmt.Errorf("%w: message is %d characters, the limit is %d", domain.ErrInvalidRequest, n, domain.MaxMessageChars)
	}
	return nil
}

func decodeChatRequest(w http.ResponseWriter, r *http.Request) (domain.ChatRequest, error) {
	var req domain.ChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		return req, fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}
	return req, validate(&req)
}

// prepare resolves the tier for req and returns the session to run it on,
// moved to that tier. The entry is returned locked; the caller unlocks it
// once the turn is over.
func (s *Server) prepare(ctx context.Context, rt *runtime, req domain.ChatRequest, plan domain.Plan) (*sessionEntry, router.Decision, error) {
	d, err := rt.router.Resolve(ctx, req, plan)
	if err != nil {
		return nil, d, err
	}
	e := s.session(req.SessionID, rt.reg, d.TierKey)
	e.mu.Lock()
	e.sess.SwitchTier(rt.reg, d.TierKey)
	if req.EnableMemory {
		s.bindMemory(e.sess)
	}
	return e, d, nil
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := uuid.New().String()

	req, err := decodeChatRequest(w, r)
	if err != nil {
		s.errorResponse(w, err, requestID, start)
		return
	}
	plan := domain.ParsePlan(r.Header.Get(PlanHeader))

	rt := s.runtime()
	e, d, err := s.prepare(r.Context(), rt, req, plan)
	if err != nil {
		s.errorResponse(w, err, requestID, start)
		return
	}
	defer e.mu.Unlock()

	res := rt.exec.Execute(r.Context(), e.sess, agent.TurnRequest{
		Message:    req.Message,
		RequestID:  requestID,
		Structured: req.ForceStructured,
	})
	res.ProcessingTimeMs = float64(time.Since(start).Microseconds()) / 1000
	s.jsonResponse(w, http.StatusOK, chatResponse{TurnResult: res, Routing: d})
}

// modelView is a selectable tier as listed by the models endpoint.
type modelView struct {
	tier.Spec
	Thinking    tier.ThinkingPolicy `json:"thinking"`
	MinimumPlan domain.Plan         `json:"minimum_plan"`
	Default     bool                `json:"default,omitempty"`
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	rt := s.runtime()
	ent := rt.router.Entitlements()
	specs := rt.reg.Selectable()
	views := make([]modelView, 0, len(specs))
	for _, spec := range specs {
		views = append(views, modelView{
			Spec:        spec,
			Thinking:    spec.Thinking,
			MinimumPlan: ent.MinimumPlan(spec.Key),
			Default:     spec.Key == rt.reg.DefaultKey(),
		})
	}
	s.jsonResponse(w, http.StatusOK, views)
}

func (s *Server) lookupSession(r *http.Request) (*sessionEntry, error) {
	id := r.PathValue("id")
	e, ok := s.sessions.get(id)
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, domain.ErrNotFound)
	}
	return e, nil
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	e, err := s.lookupSession(r)
	if err != nil {
		s.errorResponse(w, err, "", start)
		return
	}
	e.mu.Lock()
	stats := s.runtime().exec.Stats(e.sess)
	e.mu.Unlock()
	s.jsonResponse(w, http.StatusOK, stats)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	e, ok := s.sessions.remove(id)
	if !ok {
		s.errorResponse(w, fmt.Errorf("session %s: %w", id, domain.ErrNotFound), "", time.Now())
		return
	}
	s.release(r.Context(), e)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSessionUsage(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	e, err := s.lookupSession(r)
	if err != nil {
		s.errorResponse(w, err, "", start)
		return
	}
	records := []domain.UsageRecord{}
	if s.opts.Usage != nil {
		recs, err := s.opts.Usage.ListUsage(r.Context(), e.sess.ID)
		if err != nil {
			s.errorResponse(w, err, "", start)
			return
		}
		if recs != nil {
			records = recs
		}
	}
	s.jsonResponse(w, http.StatusOK, records)
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	byTier := map[string]domain.UsageRecord{}
	if s.opts.Usage != nil {
		var err error
		if byTier, err = s.opts.Usage.UsageByTier(r.Context()); err != nil {
			s.errorResponse(w, err, "", time.Now())
			return
		}
	}
	s.jsonResponse(w, http.StatusOK, byTier)
}

package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nstogner/tiered/pkg/agent"
	"github.com/nstogner/tiered/pkg/domain"
)

var upgrader = websocket.Upgrader{
	// The API carries no cookies or ambient credentials; access is decided
	// by the plan header, so any origin may connect.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleChatWebSocket streams turns over a WebSocket. The client sends one
// ChatRequest per turn and receives StreamEvent frames until a done or error
// frame. Browsers cannot set headers on WebSocket requests, so the plan may
// also be passed as the "plan" query parameter.
func (s *Server) handleChatWebSocket(w http.ResponseWriter, r *http.Request) {
	planName := r.Header.Get(PlanHeader)
	if planName == "" {
		planName = r.URL.Query().Get("plan")
	}
	plan := domain.ParsePlan(planName)

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade websocket", "error", err)
		return
	}
	defer ws.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Reader loop. A closed connection cancels the turn in flight.
	requests := make(chan domain.ChatRequest)
	go func() {
		defer cancel()
		defer close(requests)
		for {
			var req domain.ChatRequest
			if err := ws.ReadJSON(&req); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					slog.Debug("WebSocket read error", "error", err)
				}
				return
			}
			select {
			case requests <- req:
			case <-ctx.Done():
				return
			}
		}
	}()

	for req := range requests {
		if err := s.streamTurn(ctx, ws, req, plan); err != nil {
			slog.Debug("WebSocket write failed", "error", err)
			return
		}
	}
}

func (s *Server) streamTurn(ctx context.Context, ws *websocket.Conn, req domain.ChatRequest, plan domain.Plan) error {
	start := time.Now()
	requestID := uuid.New().String()

	if err := validate(&req); err != nil {
		return s.writeError(ws, err, requestID, start)
	}
	rt := s.runtime()
	e, _, err := s.prepare(ctx, rt, req, plan)
	if err != nil {
		return s.writeError(ws, err, requestID, start)
	}
	defer e.mu.Unlock()

	st := rt.exec.ExecuteStream(ctx, e.sess, agent.TurnRequest{Message: req.Message, RequestID: requestID})
	defer st.Close()

	for ev := range st.Events() {
		switch ev.Kind {
		case domain.EventDone:
			if ev.Usage != nil {
				ev.Cost = rt.exec.Reconcile(ctx, e.sess, *ev.Usage)
			}
			ev.SessionID = e.sess.ID
		case domain.EventError:
			ev.SessionID = e.sess.ID
			if s.opts.Production {
				ev.Error = genericMessages[http.StatusInternalServerError]
			}
		}
		if err := ws.WriteJSON(ev); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) writeError(ws *websocket.Conn, err error, requestID string, start time.Time) error {
	p := s.errorPayload(statusFor(err), err, requestID, start)
	return ws.WriteJSON(domain.StreamEvent{Kind: domain.EventError, Error: p.Error, Sequence: 1})
}

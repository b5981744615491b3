package server

import (
	"context"
	"log/slog"
	"sync"

	"github.com/nstogner/tiered/pkg/agent"
	"github.com/nstogner/tiered/pkg/tier"
	"github.com/nstogner/tiered/pkg/tools"
)

// sessionEntry serializes the turns of one session.
type sessionEntry struct {
	mu   sync.Mutex
	sess *agent.Session
}

// sessionTable is the in-memory session map. Sessions are not persisted.
type sessionTable struct {
	mu       sync.Mutex
	sessions map[string]*sessionEntry
}

func newSessionTable() *sessionTable {
	return &sessionTable{sessions: make(map[string]*sessionEntry)}
}

func (t *sessionTable) get(id string) (*sessionEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.sessions[id]
	return e, ok
}

// getOrCreate returns the session with id, calling create when it does not
// exist. An empty id always creates a session with a fresh ID.
func (t *sessionTable) getOrCreate(id string, create func() *agent.Session) *sessionEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.sessions[id]; ok && id != "" {
		return e
	}
	e := &sessionEntry{sess: create()}
	t.sessions[e.sess.ID] = e
	return e
}

func (t *sessionTable) remove(id string) (*sessionEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.sessions[id]
	delete(t.sessions, id)
	return e, ok
}

func (t *sessionTable) drain() []*sessionEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*sessionEntry, 0, len(t.sessions))
	for id, e := range t.sessions {
		out = append(out, e)
		delete(t.sessions, id)
	}
	return out
}

// session finds or creates the session a request addresses.
func (s *Server) session(id string, reg *tier.Registry, tierKey string) *sessionEntry {
	return s.sessions.getOrCreate(id, func() *agent.Session {
		sess := agent.NewSession(reg, tierKey,
			agent.WithSessionID(id),
			agent.WithTools(s.opts.Tools.List()...),
		)
		slog.Info("Session created", "sessionID", sess.ID, "tier", sess.TierKey)
		return sess
	})
}

// bindMemory adds the memory tools to sess once memory is enabled for it.
func (s *Server) bindMemory(sess *agent.Session) {
	if s.opts.Memory == nil {
		return
	}
	for _, name := range sess.ToolNames() {
		if name == tools.NameSearchMemory {
			return
		}
	}
	sess.Tools = append(sess.Tools, tools.Memory(s.opts.Memory)...)
}

// release closes the session's backend connection and its sandbox.
func (s *Server) release(ctx context.Context, e *sessionEntry) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.sess.Close(); err != nil {
		slog.Warn("Failed to close session", "sessionID", e.sess.ID, "error", err)
	}
	if s.opts.Sandbox != nil {
		if err := s.opts.Sandbox.Stop(ctx, e.sess.ID); err != nil {
			slog.Warn("Failed to stop sandbox", "sessionID", e.sess.ID, "error", err)
		}
	}
}

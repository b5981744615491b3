package agent

import (
	"time"

	"github.com/google/uuid"

	"github.com/nstogner/tiered/pkg/cost"
	"github.com/nstogner/tiered/pkg/model"
	"github.com/nstogner/tiered/pkg/tier"
	"github.com/nstogner/tiered/pkg/tools"
)

// Session is one logical conversation. It is owned by a single caller;
// turns on the same session must not run concurrently.
type Session struct {
	ID           string
	TierKey      string
	ModelID      string
	SystemPrompt string
	Tools        []tools.Descriptor
	History      []model.Message
	Totals       cost.Totals
	CreatedAt    time.Time

	customPrompt bool
	conn         model.Conn
	connTier     string
}

type SessionOption func(*Session)

func WithSessionID(id string) SessionOption {
	return func(s *Session) {
		if id != "" {
			s.ID = id
		}
	}
}

// WithSystemPrompt overrides the tier's prompt variant.
func WithSystemPrompt(prompt string) SessionOption {
	return func(s *Session) {
		if prompt != "" {
			s.SystemPrompt = prompt
			s.customPrompt = true
		}
	}
}

func WithTools(ds ...tools.Descriptor) SessionOption {
	return func(s *Session) { s.Tools = append(s.Tools, ds...) }
}

// NewSession creates a session on tierKey. Unknown keys resolve to the
// registry's default tier, so a session's tier always exists.
func NewSession(reg *tier.Registry, tierKey string, opts ...SessionOption) *Session {
	spec := reg.Lookup(tierKey)
	s := &Session{
		ID:           uuid.New().String(),
		TierKey:      spec.Key,
		ModelID:      spec.ModelID,
		SystemPrompt: SystemPrompt(spec.Access.PromptVariant),
		CreatedAt:    time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SwitchTier moves the session to another tier. The backend connection is
// reopened on the next turn and reasoning fragments are dropped from the
// history because they are only valid for the model that produced them.
func (s *Session) SwitchTier(reg *tier.Registry, tierKey string) {
	spec := reg.Lookup(tierKey)
	if spec.Key == s.TierKey {
		return
	}
	s.TierKey = spec.Key
	s.ModelID = spec.ModelID
	if !s.customPrompt {
		s.SystemPrompt = SystemPrompt(spec.Access.PromptVariant)
	}
	for i := range s.History {
		s.History[i].Parts = stripThoughts(s.History[i].Parts)
	}
	s.closeConn()
}

func stripThoughts(parts []model.Part) []model.Part {
	out := parts[:0]
	for _, p := range parts {
		if p.Thought {
			continue
		}
		p.ThoughtSignature = nil
		out = append(out, p)
	}
	return out
}

// ToolNames lists the bound tools in binding order.
func (s *Session) ToolNames() []string {
	names := make([]string, len(s.Tools))
	for i, d := range s.Tools {
		names[i] = d.Name
	}
	return names
}

func (s *Session) tool(name string) (tools.Descriptor, bool) {
	for _, d := range s.Tools {
		if d.Name == name {
			return d, true
		}
	}
	return tools.Descriptor{}, false
}

// Close releases the backend connection, if any.
func (s *Session) Close() error {
	return s.closeConn()
}

func (s *Session) closeConn() error {
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	s.connTier = ""
	return err
}

package domain

import (
	"sort"
	"time"
)

// ReasoningStep is one entry in a structured answer's thought trace.
type ReasoningStep struct {
	StepNumber  int         `json:"step_number" jsonschema:"minimum=1" jsonschema_description:"Sequence number of this step"`
	ThoughtType ThoughtKind `json:"thought_type" jsonschema:"enum=analysis,enum=hypothesis,enum=evaluation,enum=decision,enum=reflection"`
	Thought     string      `json:"thought" jsonschema_description:"The reasoning content"`
	Confidence  float64     `json:"confidence" jsonschema:"minimum=0,maximum=1"`
	Action      string      `json:"action,omitempty" jsonschema_description:"Action taken, if any"`
}

// ToolInvocation records a tool that was actually executed during a turn.
type ToolInvocation struct {
	ToolName        string         `json:"tool_name"`
	Arguments       map[string]any `json:"arguments"`
	Result          any            `json:"result"`
	IsError         bool           `json:"is_error,omitempty"`
	ExecutionTimeMs float64        `json:"execution_time_ms"`
}

// TokenUsage holds the token counts of a turn. Values are never negative.
type TokenUsage struct {
	Input    int `json:"input"`
	Output   int `json:"output"`
	Thoughts int `json:"thoughts,omitempty"`
}

// Add accumulates other into u.
func (u *TokenUsage) Add(other TokenUsage) {
	u.Input += other.Input
	u.Output += other.Output
	u.Thoughts += other.Thoughts
}

// StructuredReply is the schema the model is asked to answer with. Metadata
// (model, tier, usage, cost) is attached by the executor, never by the model.
type StructuredReply struct {
	ReasoningTrace []ReasoningStep `json:"reasoning_trace" jsonschema_description:"Chain of thought steps"`
	FinalAnswer    string          `json:"final_answer" jsonschema:"required" jsonschema_description:"Synthesized response to user"`
}

// Normalize enforces the trace invariants: confidence in [0,1], a known
// thought kind, and strictly increasing step numbers. It returns
// ErrSchemaMismatch when the reply carries no answer.
func (r *StructuredReply) Normalize() error {
	if r.FinalAnswer == "" {
		return ErrSchemaMismatch
	}
	sort.SliceStable(r.ReasoningTrace, func(i, j int) bool {
		return r.ReasoningTrace[i].StepNumber < r.ReasoningTrace[j].StepNumber
	})
	for i := range r.ReasoningTrace {
		s := &r.ReasoningTrace[i]
		s.StepNumber = i + 1
		s.Confidence = ClampConfidence(s.Confidence)
		if !s.ThoughtType.valid() {
			s.ThoughtType = ThoughtAnalysis
		}
	}
	return nil
}

// ClampConfidence forces c into [0,1].
func ClampConfidence(c float64) float64 {
	switch {
	case c < 0 || c != c:
		return 0
	case c > 1:
		return 1
	}
	return c
}

// TurnResult is the outcome of one turn. Format tells whether FinalAnswer
// came from a structured reply, a raw-text fallback, or a degraded failure.
type TurnResult struct {
	Success          bool             `json:"success"`
	Format           string           `json:"format"`
	ReasoningTrace   []ReasoningStep  `json:"reasoning_trace"`
	FinalAnswer      string           `json:"final_answer"`
	ToolInvocations  []ToolInvocation `json:"tool_invocations,omitempty"`
	BackendModelID   string           `json:"model_version"`
	TierKey          string           `json:"mode"`
	SessionID        string           `json:"session_id,omitempty"`
	RequestID        string           `json:"request_id,omitempty"`
	TokenUsage       TokenUsage       `json:"token_usage"`
	EstimatedCost    float64          `json:"estimated_cost"`
	ProcessingTimeMs float64          `json:"processing_time_ms"`
	Attempts         int              `json:"attempts,omitempty"`

	// Err keeps the cause of a degraded result for the caller's logging.
	Err error `json:"-"`
}

// IntentClassification is the classifier's verdict on a user request.
type IntentClassification struct {
	Intent             string     `json:"intent" jsonschema_description:"Detected user intent"`
	Complexity         Complexity `json:"complexity" jsonschema:"enum=trivial,enum=simple,enum=moderate,enum=complex,enum=extreme"`
	RecommendedTierKey string     `json:"recommended_mode" jsonschema_description:"Suggested cognitive tier"`
	RequiredToolNames  []string   `json:"requires_tools,omitempty"`
	Confidence         float64    `json:"confidence" jsonschema:"minimum=0,maximum=1"`
}

// StreamEvent is one tagged event of a streaming turn. A stream ends with
// exactly one EventDone or EventError event.
type StreamEvent struct {
	Kind     string          `json:"kind"`
	Text     string          `json:"text,omitempty"`
	Tool     *ToolInvocation `json:"tool,omitempty"`
	Usage    *TokenUsage     `json:"usage,omitempty"`
	TierKey  string          `json:"mode,omitempty"`
	Error    string          `json:"error,omitempty"`
	Sequence int             `json:"seq"`

	// SessionID and Cost are filled in on the done event by the transport
	// after usage has been reconciled.
	SessionID string  `json:"session_id,omitempty"`
	Cost      float64 `json:"cost,omitempty"`
}

// ChatRequest is the request consumed from the web or CLI layer.
type ChatRequest struct {
	Message         string `json:"message"`
	Mode            string `json:"mode"`
	SessionID       string `json:"session_id,omitempty"`
	EnableMemory    bool   `json:"enable_memory"`
	ForceStructured bool   `json:"force_structured"`
}

// ModeAuto asks the router to pick the tier.
const ModeAuto = "auto"

// MaxMessageChars bounds ChatRequest.Message.
const MaxMessageChars = 32000

// ErrorPayload is the response body for failed requests.
type ErrorPayload struct {
	Success          bool    `json:"success"`
	Error            string  `json:"error"`
	RequestID        string  `json:"requestId"`
	ProcessingTimeMs float64 `json:"processingTimeMs"`
}

// UsageRecord is one ledger row: the accounted cost of a completed turn.
type UsageRecord struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"session_id"`
	TierKey      string    `json:"tier_key"`
	ModelID      string    `json:"model_id"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	Cost         float64   `json:"cost"`
	Timestamp    time.Time `json:"timestamp"`
}

// MemoryEntry is a stored memory snippet available to memory tools.
type MemoryEntry struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id,omitempty"`
	Content   string    `json:"content"`
	Category  string    `json:"category"`
	CreatedAt time.Time `json:"created_at"`
}

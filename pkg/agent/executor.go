package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/nstogner/tiered/pkg/classify"
	"github.com/nstogner/tiered/pkg/cost"
	"github.com/nstogner/tiered/pkg/domain"
	"github.com/nstogner/tiered/pkg/model"
	"github.com/nstogner/tiered/pkg/store"
	"github.com/nstogner/tiered/pkg/tier"
	"github.com/nstogner/tiered/pkg/tools"
)

const (
	// DefaultMaxToolCalls bounds the tool calls of a single turn. Once it is
	// reached the model is asked to answer without tools.
	DefaultMaxToolCalls = 10

	// Apology is the final answer of a degraded turn.
	Apology = "I encountered an error processing your request. Please try again."
)

// TurnRequest is the input of a single turn.
type TurnRequest struct {
	Message   string
	RequestID string
	// Structured asks for a schema-conformant reply for this turn.
	Structured bool
}

// Executor drives turns against a backend. It is safe for concurrent use
// across sessions.
type Executor struct {
	backend      model.Backend
	reg          *tier.Registry
	acct         *cost.Accountant
	retry        RetryPolicy
	usage        store.UsageStore
	tracker      *cost.Tracker
	limiters     map[string]*rate.Limiter
	maxToolCalls int
}

type Option func(*Executor)

func WithRetryPolicy(p RetryPolicy) Option {
	return func(e *Executor) { e.retry = p }
}

// WithUsageStore appends every accounted turn to us.
func WithUsageStore(us store.UsageStore) Option {
	return func(e *Executor) { e.usage = us }
}

// WithTracker aggregates accounted turns per tier in t.
func WithTracker(t *cost.Tracker) Option {
	return func(e *Executor) { e.tracker = t }
}

func WithMaxToolCalls(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.maxToolCalls = n
		}
	}
}

// WithoutRateLimits disables per-tier request pacing.
func WithoutRateLimits() Option {
	return func(e *Executor) { e.limiters = nil }
}

func NewExecutor(backend model.Backend, reg *tier.Registry, opts ...Option) *Executor {
	e := &Executor{
		backend:      backend,
		reg:          reg,
		acct:         cost.NewAccountant(reg),
		retry:        DefaultRetryPolicy(),
		limiters:     newLimiters(reg),
		maxToolCalls: DefaultMaxToolCalls,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// newLimiters paces each tier to its requests-per-minute limit. Tiers
// without a limit are not paced.
func newLimiters(reg *tier.Registry) map[string]*rate.Limiter {
	limiters := make(map[string]*rate.Limiter)
	for _, s := range reg.All() {
		if rpm := s.RateLimits.RPM; rpm > 0 {
			limiters[s.Key] = rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), max(1, rpm/10))
		}
	}
	return limiters
}

func (e *Executor) wait(ctx context.Context, tierKey string) error {
	if l, ok := e.limiters[tierKey]; ok {
		return l.Wait(ctx)
	}
	return nil
}

// Execute runs one blocking turn. It never returns an error: failures
// produce a degraded result whose Err field holds the cause.
func (e *Executor) Execute(ctx context.Context, s *Session, req TurnRequest) *domain.TurnResult {
	start := time.Now()
	spec := e.reg.Lookup(s.TierKey)
	t := newTurn(s.ID, req.RequestID, spec.Key)

	res, err := e.execute(ctx, t, s, spec, req)
	if err != nil {
		t.to(StateFailed)
		t.log.Error("Turn failed", "attempts", t.attempts, "error", err)
		res = degraded(s, spec, req, err)
	} else {
		t.to(StateCompleted)
	}
	res.Attempts = t.attempts
	res.ProcessingTimeMs = float64(time.Since(start).Microseconds()) / 1000
	return res
}

func (e *Executor) execute(ctx context.Context, t *turn, s *Session, spec tier.Spec, req TurnRequest) (*domain.TurnResult, error) {
	conn, err := e.ensureConn(ctx, s, spec)
	if err != nil {
		return nil, err
	}

	t.to(StateConfiguring)
	structured := req.Structured
	cfg := e.configFor(spec, s, structured)

	t.to(StateSending)
	msgs := append(append([]model.Message(nil), s.History...), userMessage(req.Message))

	t.to(StateAwaitingResponse)
	var (
		usage       domain.TokenUsage
		invocations []domain.ToolInvocation
		answer      strings.Builder
		calls       int
	)
	for {
		var resp *model.Response
		n, err := e.retry.Do(ctx, func(ctx context.Context) error {
			if err := e.wait(ctx, spec.Key); err != nil {
				return err
			}
			r, err := conn.Generate(ctx, msgs, cfg)
			if err != nil {
				return err
			}
			resp = r
			return nil
		})
		t.attempts += n
		if err != nil {
			return nil, err
		}
		addUsage(&usage, resp.Usage)
		msgs = append(msgs, model.Message{Role: domain.RoleAssistant, Parts: resp.Parts})
		// Text written alongside tool calls is part of the answer, as it is
		// when streamed.
		answer.WriteString(resp.Text())

		fcs := resp.FunctionCalls()
		if len(fcs) == 0 {
			break
		}
		if err := e.checkToolLimit(calls, fcs); err != nil {
			return nil, err
		}
		parts, recs := e.invokeTools(ctx, s, fcs)
		invocations = append(invocations, recs...)
		msgs = append(msgs, model.Message{Role: domain.RoleTool, Parts: parts})
		calls += len(fcs)
		if calls >= e.maxToolCalls && cfg.Tools != nil {
			t.log.Warn("Tool call limit reached, requesting final answer", "calls", calls)
			cfg = withoutTools(cfg)
		}
	}

	res := &domain.TurnResult{
		Success:         true,
		Format:          domain.FormatRaw,
		ReasoningTrace:  []domain.ReasoningStep{},
		ToolInvocations: invocations,
		BackendModelID:  spec.ModelID,
		TierKey:         spec.Key,
		SessionID:       s.ID,
		RequestID:       req.RequestID,
		TokenUsage:      usage,
	}
	text := answer.String()
	res.FinalAnswer = text
	if structured {
		reply, err := domain.ParseReply(text)
		if err != nil {
			t.log.Warn("Structured reply unavailable, returning raw text", "error", err)
		} else {
			res.Format = domain.FormatStructured
			res.ReasoningTrace = reply.ReasoningTrace
			res.FinalAnswer = reply.FinalAnswer
		}
	}

	res.EstimatedCost = e.account(ctx, s, spec, usage)
	s.History = msgs
	return res, nil
}

// Reconcile accounts a completed streaming turn, whose usage is reported on
// its done event, and returns the turn cost.
func (e *Executor) Reconcile(ctx context.Context, s *Session, usage domain.TokenUsage) float64 {
	return e.account(ctx, s, e.reg.Lookup(s.TierKey), usage)
}

func (e *Executor) account(ctx context.Context, s *Session, spec tier.Spec, usage domain.TokenUsage) float64 {
	c := e.acct.Accumulate(&s.Totals, spec.Key, usage.Input, usage.Output)
	if e.tracker != nil {
		e.tracker.Record(spec.Key, usage.Input, usage.Output)
	}
	if e.usage != nil {
		rec := &domain.UsageRecord{
			SessionID:    s.ID,
			TierKey:      spec.Key,
			ModelID:      spec.ModelID,
			InputTokens:  usage.Input,
			OutputTokens: usage.Output,
			Cost:         c,
		}
		// The ledger is best effort; a failed write never fails the turn.
		if err := e.usage.RecordUsage(context.WithoutCancel(ctx), rec); err != nil {
			slog.Warn("Failed to record usage", "sessionID", s.ID, "error", err)
		}
	}
	return c
}

// ensureConn opens the backend conversation on the session's first turn and
// reuses it afterwards.
func (e *Executor) ensureConn(ctx context.Context, s *Session, spec tier.Spec) (model.Conn, error) {
	if s.conn != nil && s.connTier == spec.Key {
		return s.conn, nil
	}
	s.closeConn()
	conn, err := e.backend.Open(ctx, model.SessionOptions{ModelID: spec.ModelID, SystemPrompt: s.SystemPrompt})
	if err != nil {
		return nil, fmt.Errorf("opening %s session: %w", e.backend.Name(), err)
	}
	s.conn = conn
	s.connTier = spec.Key
	return conn, nil
}

// configFor builds generation parameters from the tier. Structured turns
// carry a response schema and no tools.
func (e *Executor) configFor(spec tier.Spec, s *Session, structured bool) *model.GenerateConfig {
	cfg := &model.GenerateConfig{
		Temperature:     spec.Generation.Temperature,
		TopP:            spec.Generation.TopP,
		MaxOutputTokens: spec.Generation.MaxOutputTokens,
		Thinking:        spec.Thinking,
		IncludeThoughts: e.reg.HasCapability(spec.Key, tier.CapThinking),
	}
	if structured {
		cfg.ResponseSchema = domain.ReplySchema()
	} else {
		cfg.Tools = tools.Specs(s.Tools)
	}
	return cfg
}

// checkToolLimit fails a turn whose model keeps calling tools after they
// were withdrawn at the limit.
func (e *Executor) checkToolLimit(calls int, fcs []*model.FunctionCall) error {
	if calls < e.maxToolCalls {
		return nil
	}
	return fmt.Errorf("%w: model requested %d tool calls (%s) after the limit of %d", domain.ErrBackend, len(fcs), fcs[0].Name, e.maxToolCalls)
}

func withoutTools(cfg *model.GenerateConfig) *model.GenerateConfig {
	c := *cfg
	c.Tools = nil
	return &c
}

// userMessage builds the user turn. A message referencing a video becomes a
// media part followed by an instruction to analyze it.
func userMessage(text string) model.Message {
	if link, mime, ok := classify.FindVideoURL(text); ok {
		return model.Message{Role: domain.RoleUser, Parts: []model.Part{
			{Media: &model.Media{URI: link, MIMEType: mime}},
			model.TextPart(videoInstruction(text)),
		}}
	}
	return model.Message{Role: domain.RoleUser, Parts: []model.Part{model.TextPart(text)}}
}

func addUsage(u *domain.TokenUsage, m *model.Usage) {
	if m == nil {
		return
	}
	u.Add(domain.TokenUsage{
		Input:    max(m.InputTokens, 0),
		Output:   max(m.OutputTokens, 0),
		Thoughts: max(m.ThoughtsTokens, 0),
	})
}

// invokeTools runs the calls of one model response concurrently and returns
// the function responses in call order.
func (e *Executor) invokeTools(ctx context.Context, s *Session, fcs []*model.FunctionCall) ([]model.Part, []domain.ToolInvocation) {
	ctx = tools.WithSessionID(ctx, s.ID)
	parts := make([]model.Part, len(fcs))
	recs := make([]domain.ToolInvocation, len(fcs))

	var g errgroup.Group
	for i, fc := range fcs {
		g.Go(func() error {
			start := time.Now()
			result, err := e.invokeTool(ctx, s, fc)
			rec := domain.ToolInvocation{
				ToolName:        fc.Name,
				Arguments:       fc.Args,
				Result:          result,
				ExecutionTimeMs: float64(time.Since(start).Microseconds()) / 1000,
			}
			resp := map[string]any{"result": result}
			if m, ok := result.(map[string]any); ok {
				resp = m
			}
			if err != nil {
				slog.Warn("Tool failed", "tool", fc.Name, "error", err)
				rec.IsError = true
				rec.Result = err.Error()
				resp = map[string]any{"error": err.Error()}
			}
			recs[i] = rec
			parts[i] = model.Part{FunctionResponse: &model.FunctionResponse{ID: fc.ID, Name: fc.Name, Response: resp}}
			return nil
		})
	}
	g.Wait()
	return parts, recs
}

func (e *Executor) invokeTool(ctx context.Context, s *Session, fc *model.FunctionCall) (result any, err error) {
	d, ok := s.tool(fc.Name)
	if !ok {
		return nil, fmt.Errorf("tool %q not found", fc.Name)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool %q panicked: %v", fc.Name, r)
		}
	}()
	slog.Debug("Invoking tool", "tool", fc.Name, "sessionID", s.ID)
	return d.Invoke(ctx, fc.Args)
}

// degraded is the result of a failed turn.
func degraded(s *Session, spec tier.Spec, req TurnRequest, err error) *domain.TurnResult {
	return &domain.TurnResult{
		Success: false,
		Format:  domain.FormatDegraded,
		ReasoningTrace: []domain.ReasoningStep{{
			StepNumber:  1,
			ThoughtType: domain.ThoughtReflection,
			Thought:     "Encountered error: " + err.Error(),
			Confidence:  0,
		}},
		FinalAnswer:    Apology,
		BackendModelID: spec.ModelID,
		TierKey:        spec.Key,
		SessionID:      s.ID,
		RequestID:      req.RequestID,
		Err:            err,
	}
}

// Stats summarizes a session.
type Stats struct {
	SessionID       string            `json:"session_id"`
	TierKey         string            `json:"mode"`
	Class           tier.Class        `json:"tier"`
	ModelID         string            `json:"model_id"`
	TotalTokens     domain.TokenUsage `json:"total_tokens"`
	SessionCost     float64           `json:"session_cost"`
	Turns           int               `json:"turns"`
	Thinking        string            `json:"thinking"`
	ToolsRegistered []string          `json:"tools_registered"`
	CreatedAt       time.Time         `json:"created_at"`
}

func (e *Executor) Stats(s *Session) Stats {
	spec := e.reg.Lookup(s.TierKey)
	return Stats{
		SessionID:       s.ID,
		TierKey:         spec.Key,
		Class:           spec.Class,
		ModelID:         spec.ModelID,
		TotalTokens:     domain.TokenUsage{Input: s.Totals.InputTokens, Output: s.Totals.OutputTokens},
		SessionCost:     s.Totals.Cost,
		Turns:           s.Totals.Turns,
		Thinking:        spec.Thinking.String(),
		ToolsRegistered: s.ToolNames(),
		CreatedAt:       s.CreatedAt,
	}
}

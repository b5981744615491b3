package agent

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nstogner/tiered/pkg/classify"
	"github.com/nstogner/tiered/pkg/cost"
	"github.com/nstogner/tiered/pkg/domain"
	"github.com/nstogner/tiered/pkg/model"
	"github.com/nstogner/tiered/pkg/model/modeltest"
	"github.com/nstogner/tiered/pkg/router"
	"github.com/nstogner/tiered/pkg/store/sqlite"
	"github.com/nstogner/tiered/pkg/tier"
	"github.com/nstogner/tiered/pkg/tools"
)

var quotaErr = fmt.Errorf("%w: 429 RESOURCE_EXHAUSTED", domain.ErrQuotaExhausted)

func newTestExecutor(backend model.Backend, rec *sleepRecorder, opts ...Option) *Executor {
	if rec == nil {
		rec = &sleepRecorder{}
	}
	opts = append([]Option{WithoutRateLimits(), WithRetryPolicy(testPolicy(rec))}, opts...)
	return NewExecutor(backend, tier.Default(), opts...)
}

func TestHelloOnFreePlan(t *testing.T) {
	reg := tier.Default()
	backend := modeltest.New(
		modeltest.JSON(map[string]any{
			"intent": "greeting", "complexity": "simple", "recommended_mode": "default", "confidence": 0.95,
		}, 40, 12),
		modeltest.Text("Hello! How can I help?", 25, 8),
	)
	r := router.New(reg, classify.New(backend, reg))

	d, err := r.Resolve(context.Background(), domain.ChatRequest{Message: "hello", Mode: domain.ModeAuto}, domain.PlanFree)
	require.NoError(t, err)
	assert.Contains(t, []string{"default", "cost_saver"}, d.TierKey)

	exec := newTestExecutor(backend, nil)
	s := NewSession(reg, d.TierKey)
	res := exec.Execute(context.Background(), s, TurnRequest{Message: "hello", RequestID: "req-1"})

	require.True(t, res.Success, "unexpected failure: %v", res.Err)
	assert.Equal(t, "Hello! How can I help?", res.FinalAnswer)
	assert.Equal(t, domain.FormatRaw, res.Format)
	assert.NotNil(t, res.ReasoningTrace)
	assert.GreaterOrEqual(t, res.EstimatedCost, 0.0)
	assert.Equal(t, cost.NewAccountant(reg).Estimate(d.TierKey, 25, 8), res.EstimatedCost)
	assert.Equal(t, domain.TokenUsage{Input: 25, Output: 8}, res.TokenUsage)
	assert.Equal(t, reg.Lookup(d.TierKey).ModelID, res.BackendModelID)
	assert.Equal(t, "req-1", res.RequestID)
	assert.Equal(t, s.ID, res.SessionID)
	assert.Equal(t, 1, res.Attempts)

	assert.Len(t, s.History, 2)
	assert.Equal(t, 25, s.Totals.InputTokens)
	assert.Equal(t, res.EstimatedCost, s.Totals.Cost)
	assert.Equal(t, 1, s.Totals.Turns)
}

func TestConnectionIsReused(t *testing.T) {
	reg := tier.Default()
	backend := modeltest.New(modeltest.Text("one", 1, 1), modeltest.Text("two", 1, 1), modeltest.Text("three", 1, 1))
	exec := newTestExecutor(backend, nil)
	s := NewSession(reg, "default")

	exec.Execute(context.Background(), s, TurnRequest{Message: "a"})
	exec.Execute(context.Background(), s, TurnRequest{Message: "b"})
	assert.Len(t, backend.Opens(), 1)
	assert.Equal(t, s.SystemPrompt, backend.Opens()[0].SystemPrompt)

	// The second request carries the first exchange.
	reqs := backend.Requests()
	require.Len(t, reqs, 2)
	assert.Len(t, reqs[1], 3)

	s.SwitchTier(reg, "unk_mode")
	assert.Equal(t, 1, backend.Closed())
	assert.Equal(t, SystemPrompt(PromptUnkMode), s.SystemPrompt)
	res := exec.Execute(context.Background(), s, TurnRequest{Message: "c"})
	require.True(t, res.Success)
	require.Len(t, backend.Opens(), 2)
	assert.Equal(t, reg.Lookup("unk_mode").ModelID, backend.Opens()[1].ModelID)
	assert.Equal(t, "unk_mode", res.TierKey)
}

func TestQuotaRetriedWithIncreasingBackoff(t *testing.T) {
	backend := modeltest.New(modeltest.Fail(quotaErr), modeltest.Fail(quotaErr), modeltest.Text("finally", 5, 5))
	rec := &sleepRecorder{}
	exec := newTestExecutor(backend, rec)
	s := NewSession(tier.Default(), "default")

	res := exec.Execute(context.Background(), s, TurnRequest{Message: "hi"})

	require.True(t, res.Success)
	assert.Equal(t, "finally", res.FinalAnswer)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 3, backend.Calls())
	require.Len(t, rec.delays, 2)
	assert.Greater(t, rec.delays[1], rec.delays[0])
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, rec.delays)
}

func TestQuotaAttemptsCapped(t *testing.T) {
	backend := modeltest.New(
		modeltest.Fail(quotaErr), modeltest.Fail(quotaErr), modeltest.Fail(quotaErr), modeltest.Text("never", 1, 1),
	)
	exec := newTestExecutor(backend, nil)
	s := NewSession(tier.Default(), "default")

	res := exec.Execute(context.Background(), s, TurnRequest{Message: "hi"})

	assert.False(t, res.Success)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 3, backend.Calls())
	assert.Same(t, quotaErr, res.Err)
	assert.Equal(t, domain.FormatDegraded, res.Format)
}

func TestBackendFailureDegrades(t *testing.T) {
	boom := fmt.Errorf("%w: 500 internal", domain.ErrBackend)
	backend := modeltest.New(modeltest.Fail(boom), modeltest.Text("unused", 1, 1))
	exec := newTestExecutor(backend, nil)
	s := NewSession(tier.Default(), "default")

	res := exec.Execute(context.Background(), s, TurnRequest{Message: "hi", RequestID: "r"})

	assert.False(t, res.Success)
	assert.Equal(t, 1, backend.Calls())
	assert.Equal(t, Apology, res.FinalAnswer)
	require.Len(t, res.ReasoningTrace, 1)
	step := res.ReasoningTrace[0]
	assert.Equal(t, domain.ThoughtReflection, step.ThoughtType)
	assert.Equal(t, 1, step.StepNumber)
	assert.Equal(t, 0.0, step.Confidence)
	assert.True(t, strings.HasPrefix(step.Thought, "Encountered error: "))
	assert.Zero(t, res.EstimatedCost)
	assert.Zero(t, res.TokenUsage)
	assert.Empty(t, s.History)
	assert.Zero(t, s.Totals)
	assert.ErrorIs(t, res.Err, domain.ErrBackend)
	assert.Equal(t, "r", res.RequestID)
}

func TestStructuredReply(t *testing.T) {
	backend := modeltest.New(modeltest.JSON(map[string]any{
		"reasoning_trace": []map[string]any{
			{"step_number": 7, "thought_type": "decision", "thought": "pick 42", "confidence": 1.5},
			{"step_number": 3, "thought_type": "musing", "thought": "read the question", "confidence": 0.4},
		},
		"final_answer": "42",
	}, 10, 10))
	exec := newTestExecutor(backend, nil)
	s := NewSession(tier.Default(), "default", WithTools(tools.Builtins(nil)...))

	res := exec.Execute(context.Background(), s, TurnRequest{Message: "meaning of life?", Structured: true})

	require.True(t, res.Success)
	assert.Equal(t, domain.FormatStructured, res.Format)
	assert.Equal(t, "42", res.FinalAnswer)
	assert.Equal(t, []domain.ReasoningStep{
		{StepNumber: 1, ThoughtType: domain.ThoughtAnalysis, Thought: "read the question", Confidence: 0.4},
		{StepNumber: 2, ThoughtType: domain.ThoughtDecision, Thought: "pick 42", Confidence: 1},
	}, res.ReasoningTrace)

	cfg := backend.Configs()[0]
	assert.NotNil(t, cfg.ResponseSchema)
	assert.Nil(t, cfg.Tools)
}

func TestStructuredFallsBackToRawText(t *testing.T) {
	backend := modeltest.New(modeltest.Text("Sure! {not really json", 10, 10))
	exec := newTestExecutor(backend, nil)
	s := NewSession(tier.Default(), "default")

	res := exec.Execute(context.Background(), s, TurnRequest{Message: "hi", Structured: true})

	assert.True(t, res.Success)
	assert.Equal(t, domain.FormatRaw, res.Format)
	assert.Equal(t, "Sure! {not really json", res.FinalAnswer)
	assert.Empty(t, res.ReasoningTrace)
	assert.Nil(t, res.Err)
}

func TestGenerationConfigFromTier(t *testing.T) {
	reg := tier.Default()
	backend := modeltest.New(modeltest.Text("a", 1, 1), modeltest.Text("b", 1, 1), modeltest.Text("c", 1, 1))
	exec := newTestExecutor(backend, nil)

	for _, key := range []string{"default", "unk_mode", "pro_next"} {
		res := exec.Execute(context.Background(), NewSession(reg, key), TurnRequest{Message: "x"})
		require.True(t, res.Success)
	}
	cfgs := backend.Configs()
	require.Len(t, cfgs, 3)

	assert.Equal(t, tier.NoThinking(), cfgs[0].Thinking)
	assert.False(t, cfgs[0].IncludeThoughts)
	assert.Equal(t, reg.Lookup("default").Generation.Temperature, cfgs[0].Temperature)

	assert.Equal(t, tier.Budget(8192), cfgs[1].Thinking)
	assert.True(t, cfgs[1].IncludeThoughts)
	assert.Equal(t, 0.2, cfgs[1].Temperature)

	assert.Equal(t, tier.Level("high"), cfgs[2].Thinking)
	assert.True(t, cfgs[2].IncludeThoughts)
}

func TestVideoBecomesMultimodalMessage(t *testing.T) {
	backend := modeltest.New(modeltest.Text("It is a music video.", 100, 10))
	exec := newTestExecutor(backend, nil)
	s := NewSession(tier.Default(), "flash_thinking")

	res := exec.Execute(context.Background(), s, TurnRequest{Message: "what is in https://youtu.be/dQw4w9WgXcQ ?"})
	require.True(t, res.Success)

	msgs := backend.Requests()[0]
	user := msgs[len(msgs)-1]
	require.Len(t, user.Parts, 2)
	require.NotNil(t, user.Parts[0].Media)
	assert.Equal(t, "https://youtu.be/dQw4w9WgXcQ", user.Parts[0].Media.URI)
	assert.Contains(t, user.Parts[1].Text, "Analyze the video")
	assert.Contains(t, user.Parts[1].Text, "what is in")
}

func TestToolLoop(t *testing.T) {
	backend := modeltest.New(
		modeltest.Call(tools.NameGrowthMetrics, map[string]any{"revenue_current": 150.0, "revenue_previous": 100.0}),
		modeltest.Text("Revenue grew 50%.", 30, 6),
	)
	exec := newTestExecutor(backend, nil)
	s := NewSession(tier.Default(), "default", WithTools(tools.Builtins(nil)...))

	res := exec.Execute(context.Background(), s, TurnRequest{Message: "growth from 100 to 150?"})

	require.True(t, res.Success)
	assert.Equal(t, "Revenue grew 50%.", res.FinalAnswer)
	require.Len(t, res.ToolInvocations, 1)
	inv := res.ToolInvocations[0]
	assert.Equal(t, tools.NameGrowthMetrics, inv.ToolName)
	assert.False(t, inv.IsError)
	assert.Equal(t, 50.0, inv.Result.(map[string]any)["growth_percentage"])
	assert.GreaterOrEqual(t, inv.ExecutionTimeMs, 0.0)

	assert.Len(t, backend.Configs()[0].Tools, 3)
	reqs := backend.Requests()
	require.Len(t, reqs, 2)
	last := reqs[1][len(reqs[1])-1]
	assert.Equal(t, domain.RoleTool, last.Role)
	require.NotNil(t, last.Parts[0].FunctionResponse)
	assert.Equal(t, "positive", last.Parts[0].FunctionResponse.Response["status"])

	// user, call, tool result, answer
	assert.Len(t, s.History, 4)
}

func TestToolErrorsAreReportedToModel(t *testing.T) {
	backend := modeltest.New(
		modeltest.Call("does_not_exist", nil),
		modeltest.Text("Sorry, that tool is unavailable.", 1, 1),
	)
	exec := newTestExecutor(backend, nil)
	s := NewSession(tier.Default(), "default")

	res := exec.Execute(context.Background(), s, TurnRequest{Message: "x"})

	require.True(t, res.Success)
	require.Len(t, res.ToolInvocations, 1)
	assert.True(t, res.ToolInvocations[0].IsError)
	resp := backend.Requests()[1]
	assert.Contains(t, resp[len(resp)-1].Parts[0].FunctionResponse.Response["error"], "not found")
}

func TestToolCallLimit(t *testing.T) {
	args := map[string]any{"code": "x := 1"}
	backend := modeltest.New(
		modeltest.Call(tools.NameCodeComplexity, args),
		modeltest.Call(tools.NameCodeComplexity, args),
		modeltest.Text("done", 1, 1),
	)
	exec := newTestExecutor(backend, nil, WithMaxToolCalls(2))
	s := NewSession(tier.Default(), "default", WithTools(tools.Builtins(nil)...))

	res := exec.Execute(context.Background(), s, TurnRequest{Message: "x"})

	require.True(t, res.Success)
	assert.Len(t, res.ToolInvocations, 2)
	cfgs := backend.Configs()
	require.Len(t, cfgs, 3)
	assert.NotNil(t, cfgs[1].Tools)
	assert.Nil(t, cfgs[2].Tools)
}

func TestToolCallsAfterLimitFailTurn(t *testing.T) {
	backend := modeltest.NewFunc(func([]model.Message, *model.GenerateConfig) modeltest.Turn {
		return modeltest.Call(tools.NameCodeComplexity, map[string]any{"code": "x"})
	})
	exec := newTestExecutor(backend, nil, WithMaxToolCalls(2))
	s := NewSession(tier.Default(), "default", WithTools(tools.Builtins(nil)...))

	res := exec.Execute(context.Background(), s, TurnRequest{Message: "x"})

	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, domain.ErrBackend)
	assert.Equal(t, 3, backend.Calls())
	assert.Empty(t, s.History)
}

func TestTextAlongsideToolCallIsKept(t *testing.T) {
	backend := modeltest.New(textWithCall("Let me count. "), modeltest.Text("Two lines.", 1, 1))
	exec := newTestExecutor(backend, nil)
	s := NewSession(tier.Default(), "default", WithTools(tools.Builtins(nil)...))

	res := exec.Execute(context.Background(), s, TurnRequest{Message: "count"})

	require.True(t, res.Success)
	assert.Equal(t, "Let me count. Two lines.", res.FinalAnswer)
}

func textWithCall(text string) modeltest.Turn {
	return modeltest.Turn{Response: &model.Response{Parts: []model.Part{
		model.TextPart(text),
		{FunctionCall: &model.FunctionCall{ID: "c1", Name: tools.NameCodeComplexity, Args: map[string]any{"code": "a\nb"}}},
	}}}
}

func TestUsageLedgerAndTracker(t *testing.T) {
	st, err := sqlite.New(filepath.Join(t.TempDir(), "usage.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	reg := tier.Default()
	tracker := cost.NewTracker(cost.NewAccountant(reg))
	backend := modeltest.New(modeltest.Text("a", 1000, 500), modeltest.Text("b", 2000, 100))
	exec := newTestExecutor(backend, nil, WithUsageStore(st), WithTracker(tracker))
	s := NewSession(reg, "unk_mode")

	r1 := exec.Execute(context.Background(), s, TurnRequest{Message: "1"})
	r2 := exec.Execute(context.Background(), s, TurnRequest{Message: "2"})

	recs, err := st.ListUsage(context.Background(), s.ID)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, r1.EstimatedCost, recs[0].Cost)
	assert.Equal(t, 2000, recs[1].InputTokens)
	assert.Equal(t, "unk_mode", recs[1].TierKey)

	assert.Equal(t, 3000, tracker.Summary()["unk_mode"].InputTokens)
	assert.InDelta(t, r1.EstimatedCost+r2.EstimatedCost, s.Totals.Cost, 1e-9)

	stats := exec.Stats(s)
	assert.Equal(t, "unk_mode", stats.TierKey)
	assert.Equal(t, tier.ClassPro, stats.Class)
	assert.Equal(t, 2, stats.Turns)
	assert.Equal(t, domain.TokenUsage{Input: 3000, Output: 600}, stats.TotalTokens)
	assert.Equal(t, "budget(8192)", stats.Thinking)
}

func TestSessionResolvesUnknownTier(t *testing.T) {
	reg := tier.Default()
	s := NewSession(reg, "made_up", WithSessionID("fixed"), WithSystemPrompt("be brief"))
	assert.Equal(t, "default", s.TierKey)
	assert.Equal(t, "fixed", s.ID)
	assert.Equal(t, "be brief", s.SystemPrompt)

	s.SwitchTier(reg, "code_specialist")
	assert.Equal(t, "be brief", s.SystemPrompt, "custom prompts survive tier switches")

	code := NewSession(reg, "code_specialist")
	assert.Equal(t, SystemPrompt(PromptCodeExpert), code.SystemPrompt)
	assert.Equal(t, SystemPrompt(PromptDefault), SystemPrompt("nope"))
}

func TestTurnStates(t *testing.T) {
	tr := newTurn("s", "r", "default")
	tr.to(StateConfiguring)
	tr.to(StateSending)
	tr.to(StateAwaitingResponse)
	tr.to(StateCompleted)
	assert.Equal(t, []State{StateInit, StateConfiguring, StateSending, StateAwaitingResponse, StateCompleted}, tr.trace)
	assert.Equal(t, "AWAITING_RESPONSE", StateAwaitingResponse.String())
}

func TestRateLimitersFollowTable(t *testing.T) {
	reg := tier.Default()
	lims := newLimiters(reg)
	for _, s := range reg.All() {
		_, ok := lims[s.Key]
		assert.Equal(t, s.RateLimits.RPM > 0, ok, s.Key)
	}
	exec := NewExecutor(modeltest.New(), reg, WithoutRateLimits())
	assert.NoError(t, exec.wait(context.Background(), "default"))
}

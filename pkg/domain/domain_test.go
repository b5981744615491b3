package domain

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseReplyNormalizes(t *testing.T) {
	r, err := ParseReply("```json\n" + `{
		"reasoning_trace": [
			{"step_number": 7, "thought_type": "decision", "thought": "c", "confidence": 3},
			{"step_number": 2, "thought_type": "musing", "thought": "a", "confidence": -1},
			{"step_number": 2, "thought_type": "evaluation", "thought": "b", "confidence": 0.4}
		],
		"final_answer": "42"
	}` + "\n```")
	require.NoError(t, err)

	assert.Equal(t, "42", r.FinalAnswer)
	require.Len(t, r.ReasoningTrace, 3)
	for i, s := range r.ReasoningTrace {
		assert.Equal(t, i+1, s.StepNumber)
		assert.GreaterOrEqual(t, s.Confidence, 0.0)
		assert.LessOrEqual(t, s.Confidence, 1.0)
	}
	assert.Equal(t, "a", r.ReasoningTrace[0].Thought)
	assert.Equal(t, ThoughtAnalysis, r.ReasoningTrace[0].ThoughtType)
	assert.Equal(t, "b", r.ReasoningTrace[1].Thought)
	assert.Equal(t, "c", r.ReasoningTrace[2].Thought)
	assert.Equal(t, 1.0, r.ReasoningTrace[2].Confidence)
}

func TestParseReplyMismatch(t *testing.T) {
	for _, text := range []string{
		"Sure! The answer is 42.",
		`{"reasoning_trace": []}`,
		`{"final_answer": 42}`,
		"",
	} {
		_, err := ParseReply(text)
		assert.ErrorIs(t, err, ErrSchemaMismatch, text)
	}
}

func TestClampConfidence(t *testing.T) {
	assert.Equal(t, 0.0, ClampConfidence(-0.1))
	assert.Equal(t, 1.0, ClampConfidence(1.1))
	assert.Equal(t, 0.3, ClampConfidence(0.3))
	assert.Equal(t, 0.0, ClampConfidence(math.NaN()))
}

func TestSchemas(t *testing.T) {
	s := ReplySchema()
	assert.Empty(t, s.Version)
	assert.Empty(t, s.ID)
	assert.Equal(t, "object", s.Type)
	_, ok := s.Properties.Get("final_answer")
	assert.True(t, ok)
	assert.Contains(t, s.Required, "final_answer")

	c := ClassificationSchema()
	prop, ok := c.Properties.Get("complexity")
	require.True(t, ok)
	assert.Len(t, prop.Enum, len(Complexities))
}

func TestEntitlementError(t *testing.T) {
	err := fmt.Errorf("resolve: %w", &EntitlementError{Plan: PlanFree, TierKey: "ultrathink"})
	assert.True(t, errors.Is(err, ErrEntitlementDenied))

	var ee *EntitlementError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, "ultrathink", ee.TierKey)
}

func TestParsePlan(t *testing.T) {
	assert.Equal(t, PlanPro, ParsePlan("pro"))
	assert.Equal(t, PlanEnterprise, ParsePlan("enterprise"))
	assert.Equal(t, PlanFree, ParsePlan(""))
	assert.Equal(t, PlanFree, ParsePlan("platinum"))
}

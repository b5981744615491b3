package domain

// Role defines the sender of a conversation turn.
type Role string

const (
	// RoleUser indicates a message from the user.
	RoleUser Role = "user"
	// RoleAssistant indicates a message from the model.
	RoleAssistant Role = "assistant"
	// RoleTool indicates a tool result sent back to the model.
	RoleTool Role = "tool"
)

// Plan is the caller's subscription plan, resolved by the auth layer.
type Plan string

const (
	PlanFree       Plan = "free"
	PlanPro        Plan = "pro"
	PlanEnterprise Plan = "enterprise"
)

// ParsePlan maps a raw plan string to a Plan. Unknown or empty values are
// treated as free.
func ParsePlan(s string) Plan {
	switch Plan(s) {
	case PlanPro, PlanEnterprise:
		return Plan(s)
	default:
		return PlanFree
	}
}

// Complexity is one of the five ordered task complexity labels.
type Complexity string

const (
	ComplexityTrivial  Complexity = "trivial"
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
	ComplexityExtreme  Complexity = "extreme"
)

// Complexities lists all labels in ascending order.
var Complexities = []Complexity{
	ComplexityTrivial,
	ComplexitySimple,
	ComplexityModerate,
	ComplexityComplex,
	ComplexityExtreme,
}

// Valid reports whether c is one of the known labels.
func (c Complexity) Valid() bool {
	for _, k := range Complexities {
		if k == c {
			return true
		}
	}
	return false
}

// ThoughtKind tags a reasoning step.
type ThoughtKind string

const (
	ThoughtAnalysis   ThoughtKind = "analysis"
	ThoughtHypothesis ThoughtKind = "hypothesis"
	ThoughtEvaluation ThoughtKind = "evaluation"
	ThoughtDecision   ThoughtKind = "decision"
	ThoughtReflection ThoughtKind = "reflection"
)

func (k ThoughtKind) valid() bool {
	switch k {
	case ThoughtAnalysis, ThoughtHypothesis, ThoughtEvaluation, ThoughtDecision, ThoughtReflection:
		return true
	}
	return false
}

// Stream event kinds.
const (
	EventThinking = "thinking"
	EventAnswer   = "answer"
	EventTool     = "tool"
	EventDone     = "done"
	EventError    = "error"
)

// Result formats of a TurnResult.
const (
	FormatStructured = "structured"
	FormatRaw        = "raw"
	FormatDegraded   = "degraded"
)

package tier

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ThinkingMode selects the mechanism a tier uses to grant reasoning tokens.
type ThinkingMode int

const (
	ThinkingNone ThinkingMode = iota
	ThinkingBudget
	ThinkingLevel
)

func (m ThinkingMode) String() string {
	switch m {
	case ThinkingBudget:
		return "budget"
	case ThinkingLevel:
		return "level"
	}
	return "none"
}

// ThinkingPolicy is either a token budget, a qualitative level, or nothing.
// Exactly one of Tokens and Level is meaningful, selected by Mode.
type ThinkingPolicy struct {
	Mode   ThinkingMode
	Tokens int
	Level  string
}

func Budget(tokens int) ThinkingPolicy { return ThinkingPolicy{Mode: ThinkingBudget, Tokens: tokens} }
func Level(tag string) ThinkingPolicy  { return ThinkingPolicy{Mode: ThinkingLevel, Level: tag} }
func NoThinking() ThinkingPolicy       { return ThinkingPolicy{} }

func (p ThinkingPolicy) String() string {
	switch p.Mode {
	case ThinkingBudget:
		return fmt.Sprintf("budget(%d)", p.Tokens)
	case ThinkingLevel:
		return fmt.Sprintf("level(%s)", p.Level)
	}
	return "none"
}

func (p ThinkingPolicy) MarshalJSON() ([]byte, error) {
	v := map[string]any{"mode": p.Mode.String()}
	switch p.Mode {
	case ThinkingBudget:
		v["tokens"] = p.Tokens
	case ThinkingLevel:
		v["level"] = p.Level
	}
	return json.Marshal(v)
}

var thinkingLevels = map[string]bool{
	"minimal": true,
	"low":     true,
	"medium":  true,
	"high":    true,
}

func resolveThinking(a Access) (ThinkingPolicy, error) {
	level := strings.ToLower(strings.TrimSpace(a.ThinkingLevel))
	switch {
	case a.ThinkingBudget < 0:
		return ThinkingPolicy{}, fmt.Errorf("negative thinking budget %d", a.ThinkingBudget)
	case a.ThinkingBudget > 0 && level != "":
		return ThinkingPolicy{}, fmt.Errorf("thinking_budget and thinking_level are mutually exclusive")
	case a.ThinkingBudget > 0:
		if a.MaxThinkingBudget > 0 && a.ThinkingBudget > a.MaxThinkingBudget {
			return ThinkingPolicy{}, fmt.Errorf("thinking budget %d exceeds max %d", a.ThinkingBudget, a.MaxThinkingBudget)
		}
		return Budget(a.ThinkingBudget), nil
	case level != "":
		if !thinkingLevels[level] {
			return ThinkingPolicy{}, fmt.Errorf("unknown thinking level %q", a.ThinkingLevel)
		}
		return Level(level), nil
	}
	return NoThinking(), nil
}

package tools

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"
)

const (
	NameGrowthMetrics  = "calculate_growth_metrics"
	NameCodeComplexity = "analyze_code_complexity"
	NameTimestamp      = "get_current_timestamp"
)

type GrowthArgs struct {
	RevenueCurrent  float64 `json:"revenue_current" jsonschema:"description=Revenue for the current period"`
	RevenuePrevious float64 `json:"revenue_previous" jsonschema:"description=Revenue for the previous period"`
}

// GrowthMetrics computes period-over-period revenue growth. A zero previous
// revenue is reported in the result rather than as a tool failure.
func GrowthMetrics(args GrowthArgs) map[string]any {
	if args.RevenuePrevious == 0 {
		return map[string]any{"error": "Previous revenue cannot be zero"}
	}
	growth := (args.RevenueCurrent - args.RevenuePrevious) / args.RevenuePrevious * 100
	status := "negative"
	if growth > 0 {
		status = "positive"
	}
	return map[string]any{
		"growth_percentage": round2(growth),
		"status":            status,
		"absolute_change":   round2(args.RevenueCurrent - args.RevenuePrevious),
	}
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

type CodeArgs struct {
	Code string `json:"code" jsonschema:"description=The source code to analyze"`
}

// CodeComplexity counts lines and buckets the non-blank count.
func CodeComplexity(args CodeArgs) map[string]any {
	lines := strings.Split(strings.TrimSpace(args.Code), "\n")
	code := 0
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			code++
		}
	}
	level := "high"
	switch {
	case code < 50:
		level = "low"
	case code < 200:
		level = "medium"
	}
	return map[string]any{
		"total_lines":          len(lines),
		"code_lines":           code,
		"blank_lines":          len(lines) - code,
		"estimated_complexity": level,
	}
}

type noArgs struct{}

// Timestamp formats t (in UTC) the three ways the timestamp tool reports.
func Timestamp(t time.Time) map[string]string {
	t = t.UTC()
	return map[string]string{
		"iso":   t.Format("2006-01-02T15:04:05.000000") + "Z",
		"unix":  fmt.Sprintf("%d", t.Unix()),
		"human": t.Format("January 02, 2006 at 15:04 UTC"),
	}
}

// Builtins returns the stateless tools. now may be nil.
func Builtins(now func() time.Time) []Descriptor {
	if now == nil {
		now = time.Now
	}
	return []Descriptor{
		Typed(NameGrowthMetrics, "Calculate standard SaaS growth metrics from current and previous period revenue.",
			func(_ context.Context, a GrowthArgs) (any, error) { return GrowthMetrics(a), nil }),
		Typed(NameCodeComplexity, "Analyze code complexity metrics: total, code and blank lines plus an estimated complexity.",
			func(_ context.Context, a CodeArgs) (any, error) { return CodeComplexity(a), nil }),
		Typed(NameTimestamp, "Get the current UTC timestamp in ISO, unix and human readable formats.",
			func(_ context.Context, _ noArgs) (any, error) { return Timestamp(now()), nil }),
	}
}

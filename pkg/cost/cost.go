package cost

import (
	"math"
	"sync"

	"github.com/nstogner/tiered/pkg/tier"
)

// Totals is a running token and cost tally, typically owned by one session.
type Totals struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	Cost         float64 `json:"cost"`
	Turns        int     `json:"turns"`
}

// Accountant prices token usage against a tier table.
type Accountant struct {
	reg *tier.Registry
}

func NewAccountant(reg *tier.Registry) *Accountant {
	return &Accountant{reg: reg}
}

// Estimate returns the cost of a request on tierKey rounded to six decimal
// places. Unknown tiers are priced as the default tier and negative counts
// as zero.
func (a *Accountant) Estimate(tierKey string, inputTokens, outputTokens int) float64 {
	p := a.reg.Lookup(tierKey).Pricing
	in := float64(max(inputTokens, 0)) / 1_000_000 * p.InputPer1M
	out := float64(max(outputTokens, 0)) / 1_000_000 * p.OutputPer1M
	return round6(in + out)
}

// Accumulate adds one turn to t and returns the turn's cost. Only t is
// modified.
func (a *Accountant) Accumulate(t *Totals, tierKey string, inputTokens, outputTokens int) float64 {
	c := a.Estimate(tierKey, inputTokens, outputTokens)
	t.InputTokens += max(inputTokens, 0)
	t.OutputTokens += max(outputTokens, 0)
	t.Cost = round6(t.Cost + c)
	t.Turns++
	return c
}

func round6(x float64) float64 {
	return math.Round(x*1e6) / 1e6
}

// Tracker aggregates totals per tier across sessions. It is safe for
// concurrent use.
type Tracker struct {
	acct   *Accountant
	mu     sync.RWMutex
	totals map[string]Totals
}

func NewTracker(acct *Accountant) *Tracker {
	return &Tracker{acct: acct, totals: make(map[string]Totals)}
}

// Record accounts one turn on tierKey and returns its cost.
func (t *Tracker) Record(tierKey string, inputTokens, outputTokens int) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	tot := t.totals[tierKey]
	c := t.acct.Accumulate(&tot, tierKey, inputTokens, outputTokens)
	t.totals[tierKey] = tot
	return c
}

// Summary returns a copy of the per-tier totals.
func (t *Tracker) Summary() map[string]Totals {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]Totals, len(t.totals))
	for k, v := range t.totals {
		out[k] = v
	}
	return out
}

// Total sums every tier.
func (t *Tracker) Total() Totals {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var sum Totals
	for _, v := range t.totals {
		sum.InputTokens += v.InputTokens
		sum.OutputTokens += v.OutputTokens
		sum.Cost = round6(sum.Cost + v.Cost)
		sum.Turns += v.Turns
	}
	return sum
}

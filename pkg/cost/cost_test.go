package cost

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nstogner/tiered/pkg/tier"
)

func TestEstimate(t *testing.T) {
	reg := tier.Default()
	a := NewAccountant(reg)

	for _, s := range reg.All() {
		want := s.Pricing.InputPer1M + s.Pricing.OutputPer1M
		assert.InDelta(t, want, a.Estimate(s.Key, 1_000_000, 1_000_000), 1e-9, s.Key)
	}

	assert.Equal(t, 0.0, a.Estimate("default", 0, 0))
	assert.Equal(t, 0.0, a.Estimate("default", -10, -10))
	assert.Equal(t, a.Estimate("default", 1234, 5678), a.Estimate("no_such_tier", 1234, 5678))

	// 1000 in + 500 out on unk_mode: 0.0025 + 0.005.
	assert.Equal(t, 0.0075, a.Estimate("unk_mode", 1000, 500))
	// Rounded to six places.
	assert.Equal(t, 0.0, a.Estimate("cost_saver", 1, 1))
	assert.Equal(t, 0.000001, a.Estimate("default", 10, 0))
}

func TestAccumulateIsMonotonic(t *testing.T) {
	a := NewAccountant(tier.Default())
	var tot Totals

	prev := 0.0
	for i := 0; i < 20; i++ {
		c := a.Accumulate(&tot, "ultrathink", 100*i, 50*i)
		assert.GreaterOrEqual(t, c, 0.0)
		assert.GreaterOrEqual(t, tot.Cost, prev)
		prev = tot.Cost
	}
	assert.Equal(t, 20, tot.Turns)
	assert.Equal(t, 100*190, tot.InputTokens)
	assert.Equal(t, 50*190, tot.OutputTokens)

	a.Accumulate(&tot, "ultrathink", -5, -5)
	assert.Equal(t, 100*190, tot.InputTokens)
	assert.Equal(t, prev, tot.Cost)
}

func TestTrackerConcurrent(t *testing.T) {
	tr := NewTracker(NewAccountant(tier.Default()))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.Record("default", 1_000_000, 0)
			tr.Record("unk_mode", 0, 1_000_000)
		}()
	}
	wg.Wait()

	sum := tr.Summary()
	assert.Equal(t, 50, sum["default"].Turns)
	assert.InDelta(t, 5.0, sum["default"].Cost, 1e-9)
	assert.InDelta(t, 500.0, sum["unk_mode"].Cost, 1e-9)
	assert.Equal(t, 100, tr.Total().Turns)
	assert.InDelta(t, 505.0, tr.Total().Cost, 1e-9)
}

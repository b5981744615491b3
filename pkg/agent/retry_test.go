package agent

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/nstogner/tiered/pkg/domain"
)

func TestBackoff(t *testing.T) {
	p := DefaultRetryPolicy()
	assert.Equal(t, 2*time.Second, p.Backoff(1))
	assert.Equal(t, 4*time.Second, p.Backoff(2))
	assert.Equal(t, 8*time.Second, p.Backoff(3))
	assert.Equal(t, 32*time.Second, p.Backoff(5))
	assert.Equal(t, 60*time.Second, p.Backoff(6))
	assert.Equal(t, 60*time.Second, p.Backoff(200))
	assert.Equal(t, 2*time.Second, p.Backoff(0))
}

type sleepRecorder struct {
	delays []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return ctx.Err()
}

func testPolicy(r *sleepRecorder) RetryPolicy {
	p := DefaultRetryPolicy()
	p.Sleep = r.sleep
	return p
}

func TestDoRetriesQuotaOnly(t *testing.T) {
	quota := fmt.Errorf("%w: 429 Too Many Requests", domain.ErrQuotaExhausted)

	t.Run("capped at max attempts", func(t *testing.T) {
		rec := &sleepRecorder{}
		calls := 0
		n, err := testPolicy(rec).Do(context.Background(), func(context.Context) error {
			calls++
			return quota
		})
		assert.Equal(t, 3, n)
		assert.Equal(t, 3, calls)
		assert.Same(t, quota, err)
		assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, rec.delays)
	})

	t.Run("succeeds after transient failures", func(t *testing.T) {
		rec := &sleepRecorder{}
		calls := 0
		n, err := testPolicy(rec).Do(context.Background(), func(context.Context) error {
			calls++
			if calls < 3 {
				return quota
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 3, n)
	})

	t.Run("other errors fail immediately", func(t *testing.T) {
		rec := &sleepRecorder{}
		boom := fmt.Errorf("%w: 500", domain.ErrBackend)
		n, err := testPolicy(rec).Do(context.Background(), func(context.Context) error { return boom })
		assert.Equal(t, 1, n)
		assert.Same(t, boom, err)
		assert.Empty(t, rec.delays)
	})

	t.Run("cancelled during backoff", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		n, err := DefaultRetryPolicy().Do(ctx, func(context.Context) error { return quota })
		assert.Equal(t, 1, n)
		assert.True(t, errors.Is(err, domain.ErrQuotaExhausted))
	})

	t.Run("zero value makes one attempt", func(t *testing.T) {
		n, err := RetryPolicy{}.Do(context.Background(), func(context.Context) error { return quota })
		assert.Equal(t, 1, n)
		assert.Error(t, err)
	})

	t.Run("custom predicate", func(t *testing.T) {
		rec := &sleepRecorder{}
		p := testPolicy(rec)
		p.Retryable = func(error) bool { return true }
		n, _ := p.Do(context.Background(), func(context.Context) error { return errors.New("flaky") })
		assert.Equal(t, 3, n)
	})
}

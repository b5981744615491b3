package classify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nstogner/tiered/pkg/domain"
	"github.com/nstogner/tiered/pkg/model"
	"github.com/nstogner/tiered/pkg/model/modeltest"
	"github.com/nstogner/tiered/pkg/tier"
)

func TestClassify(t *testing.T) {
	reg := tier.Default()
	backend := modeltest.New(modeltest.JSON(map[string]any{
		"intent":           "architecture",
		"complexity":       "Complex",
		"recommended_mode": "something_made_up",
		"requires_tools":   []string{"run_python"},
		"confidence":       1.7,
	}, 30, 20))

	ic := New(backend, reg).Classify(context.Background(), "Design a distributed queue")

	assert.Equal(t, "architecture", ic.Intent)
	assert.Equal(t, domain.ComplexityComplex, ic.Complexity)
	assert.Equal(t, "unk_mode", ic.RecommendedTierKey)
	assert.Equal(t, []string{"run_python"}, ic.RequiredToolNames)
	assert.Equal(t, 1.0, ic.Confidence)

	require.Len(t, backend.Opens(), 1)
	assert.Equal(t, reg.Lookup("default").ModelID, backend.Opens()[0].ModelID)
	cfg := backend.Configs()[0]
	assert.Equal(t, 0.1, cfg.Temperature)
	assert.NotNil(t, cfg.ResponseSchema)
	assert.Equal(t, 1, backend.Closed())
}

func TestClassifyVideoForcesExtreme(t *testing.T) {
	backend := modeltest.New(modeltest.JSON(map[string]any{
		"intent": "chat", "complexity": "trivial", "recommended_mode": "cost_saver", "confidence": 0.9,
	}, 1, 1))

	ic := New(backend, tier.Default()).Classify(context.Background(), "what happens in https://youtu.be/dQw4w9WgXcQ ?")
	assert.Equal(t, domain.ComplexityExtreme, ic.Complexity)
	assert.Equal(t, "ultrathink", ic.RecommendedTierKey)
}

func TestClassifyFallback(t *testing.T) {
	reg := tier.Default()
	want := domain.IntentClassification{
		Intent:             "general",
		Complexity:         domain.ComplexitySimple,
		RecommendedTierKey: "default",
		Confidence:         0.5,
	}

	cases := map[string]*modeltest.Backend{
		"backend error":    modeltest.New(modeltest.Fail(errors.New("boom"))),
		"quota":            modeltest.New(modeltest.Fail(domain.ErrQuotaExhausted)),
		"not json":         modeltest.New(modeltest.Text("I think it's simple", 1, 1)),
		"bad label":        modeltest.New(modeltest.JSON(map[string]any{"complexity": "galactic"}, 1, 1)),
		"empty script":     modeltest.New(),
		"fenced bad label": modeltest.New(modeltest.Text("```json\n{\"complexity\":\"huge\"}\n```", 1, 1)),
	}
	for name, backend := range cases {
		t.Run(name, func(t *testing.T) {
			got := New(backend, reg).Classify(context.Background(), "hello")
			assert.Equal(t, want, got)
		})
	}
}

func TestClassifyTimeout(t *testing.T) {
	backend := modeltest.NewFunc(func(_ []model.Message, _ *model.GenerateConfig) modeltest.Turn {
		time.Sleep(200 * time.Millisecond)
		return modeltest.Fail(context.DeadlineExceeded)
	})
	start := time.Now()
	ic := New(backend, tier.Default(), WithTimeout(50*time.Millisecond)).Classify(context.Background(), "hello")
	assert.Equal(t, Fallback(tier.Default()), ic)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestClassifyAcceptsFencedJSON(t *testing.T) {
	backend := modeltest.New(modeltest.Text("```json\n{\"intent\":\"greeting\",\"complexity\":\"trivial\",\"confidence\":0.9}\n```", 1, 1))
	ic := New(backend, tier.Default()).Classify(context.Background(), "hi")
	assert.Equal(t, domain.ComplexityTrivial, ic.Complexity)
	assert.Equal(t, "cost_saver", ic.RecommendedTierKey)
}

func TestFindVideoURL(t *testing.T) {
	cases := []struct {
		text string
		link string
		mime string
	}{
		{"see https://www.youtube.com/watch?v=abc123 please", "https://www.youtube.com/watch?v=abc123", "video/*"},
		{"(https://youtu.be/abc123).", "https://youtu.be/abc123", "video/*"},
		{"https://youtube.com/shorts/xyz", "https://youtube.com/shorts/xyz", "video/*"},
		{"https://vimeo.com/76979871", "https://vimeo.com/76979871", "video/*"},
		{"clip at https://cdn.example.com/a/b/clip.MP4?sig=1", "https://cdn.example.com/a/b/clip.MP4?sig=1", "video/mp4"},
		{"https://example.com/x.webm", "https://example.com/x.webm", "video/webm"},
		{"https://example.com/x.mov", "https://example.com/x.mov", "video/quicktime"},
	}
	for _, tc := range cases {
		link, mime, ok := FindVideoURL(tc.text)
		require.True(t, ok, tc.text)
		assert.Equal(t, tc.link, link)
		assert.Equal(t, tc.mime, mime)
	}

	for _, text := range []string{
		"no links here",
		"https://youtube.com/",
		"https://www.youtube.com/watch",
		"https://example.com/page.html",
		"youtube.com/watch?v=abc without scheme",
	} {
		_, _, ok := FindVideoURL(text)
		assert.False(t, ok, text)
	}
}

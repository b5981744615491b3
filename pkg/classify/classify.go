package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nstogner/tiered/pkg/domain"
	"github.com/nstogner/tiered/pkg/model"
	"github.com/nstogner/tiered/pkg/tier"
)

// DefaultTimeout bounds a classification call.
const DefaultTimeout = 10 * time.Second

const promptTemplate = `Classify this user request:

%q

Determine:
1. The primary intent
2. Complexity level: trivial, simple, moderate, complex, or extreme
3. Recommended processing mode based on complexity
4. What tools might be needed

Requests that contain a video link are always extreme.

Respond with structured JSON.`

// Classifier estimates task complexity with a lightweight model call.
type Classifier struct {
	backend model.Backend
	reg     *tier.Registry
	timeout time.Duration
}

type Option func(*Classifier)

// WithTimeout overrides DefaultTimeout. Zero disables the timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Classifier) { c.timeout = d }
}

func New(backend model.Backend, reg *tier.Registry, opts ...Option) *Classifier {
	c := &Classifier{backend: backend, reg: reg, timeout: DefaultTimeout}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Fallback is the classification used whenever the classifier fails.
func Fallback(reg *tier.Registry) domain.IntentClassification {
	return domain.IntentClassification{
		Intent:             "general",
		Complexity:         domain.ComplexitySimple,
		RecommendedTierKey: reg.DefaultKey(),
		Confidence:         0.5,
	}
}

// Classify never fails: any error, timeout or unparsable reply yields
// Fallback. The recommended tier always comes from the registry's routing
// table, whatever the model suggested.
func (c *Classifier) Classify(ctx context.Context, input string) domain.IntentClassification {
	ic, err := c.classify(ctx, input)
	if err != nil {
		slog.Warn("Classification failed, using fallback", "error", err)
		return Fallback(c.reg)
	}
	return ic
}

func (c *Classifier) classify(ctx context.Context, input string) (domain.IntentClassification, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	spec := c.reg.Lookup(c.reg.DefaultKey())
	conn, err := c.backend.Open(ctx, model.SessionOptions{ModelID: spec.ModelID})
	if err != nil {
		return domain.IntentClassification{}, fmt.Errorf("%w: open: %w", domain.ErrClassification, err)
	}
	defer conn.Close()

	resp, err := conn.Generate(ctx, []model.Message{{
		Role:  domain.RoleUser,
		Parts: []model.Part{model.TextPart(fmt.Sprintf(promptTemplate, input))},
	}}, &model.GenerateConfig{
		Temperature:     0.1,
		MaxOutputTokens: 512,
		ResponseSchema:  domain.ClassificationSchema(),
	})
	if err != nil {
		return domain.IntentClassification{}, fmt.Errorf("%w: %w", domain.ErrClassification, err)
	}

	var ic domain.IntentClassification
	if err := json.Unmarshal([]byte(domain.TrimCodeFence(resp.Text())), &ic); err != nil {
		return domain.IntentClassification{}, fmt.Errorf("%w: %w", domain.ErrClassification, err)
	}
	ic.Complexity = domain.Complexity(strings.ToLower(strings.TrimSpace(string(ic.Complexity))))
	if !ic.Complexity.Valid() {
		return domain.IntentClassification{}, fmt.Errorf("%w: unknown complexity %q", domain.ErrClassification, ic.Complexity)
	}

	if _, _, ok := FindVideoURL(input); ok {
		ic.Complexity = domain.ComplexityExtreme
	}
	if ic.Intent == "" {
		ic.Intent = "general"
	}
	ic.RecommendedTierKey = c.reg.RecommendedForComplexity(ic.Complexity)
	ic.Confidence = domain.ClampConfidence(ic.Confidence)

	slog.Debug("Classified request", "intent", ic.Intent, "complexity", ic.Complexity, "tier", ic.RecommendedTierKey)
	return ic, nil
}

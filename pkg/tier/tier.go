package tier

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/nstogner/tiered/pkg/domain"
)

// Class is the coarse cognitive level of a tier.
type Class string

const (
	ClassLite    Class = "lite"
	ClassFlash   Class = "flash"
	ClassPro     Class = "pro"
	ClassUltra   Class = "ultra"
	ClassUtility Class = "utility"
)

// Rank orders classes from cheapest to deepest. Unknown classes rank lowest.
func (c Class) Rank() int {
	switch c {
	case ClassLite:
		return 1
	case ClassFlash:
		return 2
	case ClassPro:
		return 3
	case ClassUltra:
		return 4
	}
	return 0
}

// Well-known capability tags.
const (
	CapThinking   = "thinking_tokens"
	CapVideo      = "video_analysis"
	CapTools      = "tools"
	CapMultimodal = "multimodal"
)

type Pricing struct {
	InputPer1M  float64 `yaml:"input_per_1m" toml:"input_per_1m" json:"input_per_1m"`
	OutputPer1M float64 `yaml:"output_per_1m" toml:"output_per_1m" json:"output_per_1m"`
}

type RateLimits struct {
	RPM int `yaml:"rpm" toml:"rpm" json:"rpm"`
	TPM int `yaml:"tpm" toml:"tpm" json:"tpm"`
}

// Access holds the flags that gate and shape use of a tier. At most one of
// ThinkingBudget and ThinkingLevel may be set.
type Access struct {
	RequiresSubscription bool   `yaml:"requires_subscription" toml:"requires_subscription" json:"requires_subscription"`
	ThinkingBudget       int    `yaml:"thinking_budget" toml:"thinking_budget" json:"thinking_budget,omitempty"`
	MaxThinkingBudget    int    `yaml:"max_thinking_budget" toml:"max_thinking_budget" json:"max_thinking_budget,omitempty"`
	ThinkingLevel        string `yaml:"thinking_level" toml:"thinking_level" json:"thinking_level,omitempty"`
	PromptVariant        string `yaml:"prompt_variant" toml:"prompt_variant" json:"prompt_variant,omitempty"`
}

// Generation holds sampling defaults. Zero values are filled from the class
// when the registry is built.
type Generation struct {
	Temperature     float64 `yaml:"temperature" toml:"temperature" json:"temperature"`
	TopP            float64 `yaml:"top_p" toml:"top_p" json:"top_p"`
	MaxOutputTokens int     `yaml:"max_output_tokens" toml:"max_output_tokens" json:"max_output_tokens"`
}

// Spec describes one tier. Specs handed out by a Registry are copies.
type Spec struct {
	Key           string     `yaml:"key" toml:"key" json:"key"`
	ModelID       string     `yaml:"model_id" toml:"model_id" json:"model_id"`
	Class         Class      `yaml:"class" toml:"class" json:"class"`
	ReleaseDate   string     `yaml:"release_date" toml:"release_date" json:"release_date,omitempty"`
	Description   string     `yaml:"description" toml:"description" json:"description"`
	ContextWindow int        `yaml:"context_window" toml:"context_window" json:"context_window"`
	Capabilities  []string   `yaml:"capabilities" toml:"capabilities" json:"capabilities"`
	Pricing       Pricing    `yaml:"pricing" toml:"pricing" json:"pricing"`
	RateLimits    RateLimits `yaml:"rate_limits" toml:"rate_limits" json:"rate_limits"`
	Access        Access     `yaml:"access" toml:"access" json:"access"`
	Generation    Generation `yaml:"generation" toml:"generation" json:"generation"`
	UseCases      []string   `yaml:"use_cases" toml:"use_cases" json:"use_cases,omitempty"`

	// Thinking is resolved from Access by NewRegistry.
	Thinking ThinkingPolicy `yaml:"-" toml:"-" json:"-"`
}

func (s Spec) clone() Spec {
	s.Capabilities = slices.Clone(s.Capabilities)
	s.UseCases = slices.Clone(s.UseCases)
	return s
}

// Table is the serializable tier configuration.
type Table struct {
	DefaultTier string            `yaml:"default_tier" toml:"default_tier" json:"default_tier"`
	Routing     map[string]string `yaml:"routing" toml:"routing" json:"routing"`
	Tiers       []Spec            `yaml:"tiers" toml:"tiers" json:"tiers"`
}

// Registry is an immutable, validated view over a Table. It is safe for
// concurrent use.
type Registry struct {
	specs      map[string]Spec
	order      []string
	routing    map[domain.Complexity]string
	defaultKey string
}

// NewRegistry validates t and builds a Registry from it.
func NewRegistry(t Table) (*Registry, error) {
	r := &Registry{
		specs:      make(map[string]Spec, len(t.Tiers)),
		routing:    make(map[domain.Complexity]string, len(domain.Complexities)),
		defaultKey: t.DefaultTier,
	}
	for _, s := range t.Tiers {
		if s.Key == "" {
			return nil, fmt.Errorf("tier with model %q has no key", s.ModelID)
		}
		if _, dup := r.specs[s.Key]; dup {
			return nil, fmt.Errorf("duplicate tier %q", s.Key)
		}
		if s.ModelID == "" {
			return nil, fmt.Errorf("tier %q: model_id is required", s.Key)
		}
		if s.Class.Rank() == 0 && s.Class != ClassUtility {
			return nil, fmt.Errorf("tier %q: unknown class %q", s.Key, s.Class)
		}
		if s.Pricing.InputPer1M < 0 || s.Pricing.OutputPer1M < 0 {
			return nil, fmt.Errorf("tier %q: negative pricing", s.Key)
		}
		policy, err := resolveThinking(s.Access)
		if err != nil {
			return nil, fmt.Errorf("tier %q: %w", s.Key, err)
		}
		s.Thinking = policy
		s.Generation = withClassDefaults(s.Class, s.Generation)
		r.specs[s.Key] = s.clone()
		r.order = append(r.order, s.Key)
	}

	def, ok := r.specs[r.defaultKey]
	if !ok {
		return nil, fmt.Errorf("default tier %q is not defined", r.defaultKey)
	}
	if def.Class == ClassUtility {
		return nil, fmt.Errorf("default tier %q is a utility tier", r.defaultKey)
	}
	// The default tier is the last resort for every plan, so it must be
	// usable without a subscription.
	if def.Access.RequiresSubscription {
		return nil, fmt.Errorf("default tier %q requires a subscription", r.defaultKey)
	}

	for label, key := range t.Routing {
		c := domain.Complexity(label)
		if !c.Valid() {
			return nil, fmt.Errorf("routing: unknown complexity %q", label)
		}
		s, ok := r.specs[key]
		if !ok {
			return nil, fmt.Errorf("routing: %s maps to unknown tier %q", label, key)
		}
		if s.Class == ClassUtility {
			return nil, fmt.Errorf("routing: %s maps to utility tier %q", label, key)
		}
		r.routing[c] = key
	}
	for _, c := range domain.Complexities {
		if _, ok := r.routing[c]; !ok {
			return nil, fmt.Errorf("routing: no tier for complexity %q", c)
		}
	}
	return r, nil
}

func withClassDefaults(c Class, g Generation) Generation {
	if g.Temperature == 0 {
		g.Temperature = 0.7
		if c == ClassPro || c == ClassUltra {
			g.Temperature = 0.2
		}
	}
	if g.TopP == 0 {
		g.TopP = 0.95
	}
	if g.MaxOutputTokens == 0 {
		switch c {
		case ClassUltra:
			g.MaxOutputTokens = 16384
		case ClassPro:
			g.MaxOutputTokens = 8192
		default:
			g.MaxOutputTokens = 4096
		}
	}
	return g
}

// Lookup returns the spec for key, or the default tier's spec when key is
// unknown. It never fails.
func (r *Registry) Lookup(key string) Spec {
	if s, ok := r.specs[key]; ok {
		return s.clone()
	}
	return r.specs[r.defaultKey].clone()
}

// Has reports whether key names a configured tier.
func (r *Registry) Has(key string) bool {
	_, ok := r.specs[key]
	return ok
}

// DefaultKey is the fallback tier key.
func (r *Registry) DefaultKey() string { return r.defaultKey }

// HasCapability reports whether the tier (after fallback) carries capability.
func (r *Registry) HasCapability(key, capability string) bool {
	s, ok := r.specs[key]
	if !ok {
		s = r.specs[r.defaultKey]
	}
	return slices.Contains(s.Capabilities, capability)
}

// RequiresSubscription reports whether the tier (after fallback) is gated.
func (r *Registry) RequiresSubscription(key string) bool {
	s, ok := r.specs[key]
	if !ok {
		s = r.specs[r.defaultKey]
	}
	return s.Access.RequiresSubscription
}

// ListByClass returns the keys of all tiers of class c in table order.
func (r *Registry) ListByClass(c Class) []string {
	var keys []string
	for _, k := range r.order {
		if r.specs[k].Class == c {
			keys = append(keys, k)
		}
	}
	return keys
}

// RecommendedForComplexity maps a complexity label to a tier key. Unknown
// labels map to the default tier.
func (r *Registry) RecommendedForComplexity(c domain.Complexity) string {
	if k, ok := r.routing[domain.Complexity(strings.ToLower(string(c)))]; ok {
		return k
	}
	return r.defaultKey
}

// Selectable lists every non-utility tier, deepest class first and then by
// key.
func (r *Registry) Selectable() []Spec {
	var out []Spec
	for _, k := range r.order {
		if s := r.specs[k]; s.Class != ClassUtility {
			out = append(out, s.clone())
		}
	}
	sortByDepth(out)
	return out
}

// All returns every tier in table order.
func (r *Registry) All() []Spec {
	out := make([]Spec, 0, len(r.order))
	for _, k := range r.order {
		out = append(out, r.specs[k].clone())
	}
	return out
}

func sortByDepth(specs []Spec) {
	sort.SliceStable(specs, func(i, j int) bool {
		ri, rj := specs[i].Class.Rank(), specs[j].Class.Rank()
		if ri != rj {
			return ri > rj
		}
		return specs[i].Key < specs[j].Key
	})
}

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/nstogner/tiered/pkg/domain"
	"github.com/nstogner/tiered/pkg/model"
)

// Descriptor is an explicitly declared tool: a name, a description, a JSON
// schema for its arguments and the function that runs it.
type Descriptor struct {
	Name        string
	Description string
	// Parameters is a JSON schema value (typically *jsonschema.Schema).
	Parameters any
	Invoke     func(ctx context.Context, args map[string]any) (any, error)
}

// Spec returns the declaration sent to the model.
func (d Descriptor) Spec() model.ToolSpec {
	return model.ToolSpec{Name: d.Name, Description: d.Description, Parameters: d.Parameters}
}

// Typed builds a Descriptor whose schema is reflected from the argument type A
// and whose arguments are decoded into A before fn runs.
func Typed[A any](name, description string, fn func(ctx context.Context, args A) (any, error)) Descriptor {
	return Descriptor{
		Name:        name,
		Description: description,
		Parameters:  domain.SchemaFor(new(A)),
		Invoke: func(ctx context.Context, raw map[string]any) (any, error) {
			var args A
			if err := decodeArgs(raw, &args); err != nil {
				return nil, fmt.Errorf("%s: invalid arguments: %w", name, err)
			}
			return fn(ctx, args)
		},
	}
}

func decodeArgs(raw map[string]any, dst any) error {
	if raw == nil {
		raw = map[string]any{}
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, dst)
}

// Registry manages the available tools.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Descriptor
}

// NewRegistry creates a registry holding the given descriptors.
func NewRegistry(ds ...Descriptor) (*Registry, error) {
	r := &Registry{
		tools: make(map[string]Descriptor),
	}
	for _, d := range ds {
		if err := r.Register(d); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a tool to the registry.
func (r *Registry) Register(d Descriptor) error {
	if d.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if d.Invoke == nil {
		return fmt.Errorf("tool %q has no invoke function", d.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[d.Name]; ok {
		return fmt.Errorf("tool %q already registered", d.Name)
	}
	r.tools[d.Name] = d
	return nil
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.tools[name]
	return d, ok
}

// List returns all registered tools sorted by name.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := make([]Descriptor, 0, len(r.tools))
	for _, d := range r.tools {
		list = append(list, d)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list
}

// Names returns the sorted names of all registered tools.
func (r *Registry) Names() []string {
	list := r.List()
	names := make([]string, len(list))
	for i, d := range list {
		names[i] = d.Name
	}
	return names
}

// Bind selects the named descriptors for a session, in the given order.
// A nil slice binds every registered tool.
func (r *Registry) Bind(names []string) ([]Descriptor, error) {
	if names == nil {
		return r.List(), nil
	}
	out := make([]Descriptor, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if seen[n] {
			continue
		}
		seen[n] = true
		d, ok := r.Get(n)
		if !ok {
			return nil, fmt.Errorf("%w: unknown tool %q", domain.ErrInvalidRequest, n)
		}
		out = append(out, d)
	}
	return out, nil
}

// Specs converts descriptors to model declarations.
func Specs(ds []Descriptor) []model.ToolSpec {
	if len(ds) == 0 {
		return nil
	}
	specs := make([]model.ToolSpec, len(ds))
	for i, d := range ds {
		specs[i] = d.Spec()
	}
	return specs
}

type sessionKey struct{}

// WithSessionID attaches the calling session to ctx for session-scoped tools.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionKey{}, id)
}

// SessionID returns the session attached by WithSessionID, if any.
func SessionID(ctx context.Context) string {
	id, _ := ctx.Value(sessionKey{}).(string)
	return id
}

// Package modeltest provides a scripted model.Backend for tests.
package modeltest

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"sync"

	"github.com/nstogner/tiered/pkg/domain"
	"github.com/nstogner/tiered/pkg/model"
)

// Turn is one scripted backend reply. Err takes precedence; otherwise Chunks
// are streamed in order (Generate merges them) or Response is returned whole.
type Turn struct {
	Response *model.Response
	Chunks   []*model.Response
	Err      error
}

// Text is a turn answering s with the given usage.
func Text(s string, in, out int) Turn {
	return Turn{Response: &model.Response{
		Parts: []model.Part{model.TextPart(s)},
		Usage: &model.Usage{InputTokens: in, OutputTokens: out},
	}}
}

// JSON is a turn answering with v marshaled as JSON.
func JSON(v any, in, out int) Turn {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return Text(string(b), in, out)
}

// Call is a turn in which the model requests one function call.
func Call(name string, args map[string]any) Turn {
	return Turn{Response: &model.Response{Parts: []model.Part{{
		FunctionCall: &model.FunctionCall{ID: "call-" + name, Name: name, Args: args},
	}}}}
}

// Fail is a turn failing with err.
func Fail(err error) Turn { return Turn{Err: err} }

// Stream is a streamed turn. Thought fragments are prefixed with "~".
func Stream(usage *model.Usage, fragments ...string) Turn {
	var chunks []*model.Response
	for _, f := range fragments {
		p := model.TextPart(f)
		if len(f) > 0 && f[0] == '~' {
			p = model.Part{Text: f[1:], Thought: true}
		}
		chunks = append(chunks, &model.Response{Parts: []model.Part{p}})
	}
	if len(chunks) > 0 {
		chunks[len(chunks)-1].Usage = usage
	}
	return Turn{Chunks: chunks}
}

// Backend replays a script of turns. It is safe for concurrent use.
type Backend struct {
	mu       sync.Mutex
	script   []Turn
	handler  func([]model.Message, *model.GenerateConfig) Turn
	calls    int
	opens    []model.SessionOptions
	configs  []*model.GenerateConfig
	requests [][]model.Message
	closed   int
}

var _ model.Backend = (*Backend)(nil)

// New returns a backend that replays turns in order.
func New(turns ...Turn) *Backend {
	return &Backend{script: turns}
}

// NewFunc returns a backend that computes each turn with fn.
func NewFunc(fn func(msgs []model.Message, cfg *model.GenerateConfig) Turn) *Backend {
	return &Backend{handler: fn}
}

func (b *Backend) Name() string { return "modeltest" }

func (b *Backend) Open(ctx context.Context, opts model.SessionOptions) (model.Conn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.opens = append(b.opens, opts)
	return &conn{b: b}, nil
}

// Calls is the number of Generate and Stream requests served.
func (b *Backend) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

// Opens returns the options of every Open call.
func (b *Backend) Opens() []model.SessionOptions {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]model.SessionOptions(nil), b.opens...)
}

// Configs returns the generation config of every request.
func (b *Backend) Configs() []*model.GenerateConfig {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*model.GenerateConfig(nil), b.configs...)
}

// Requests returns the messages of every request.
func (b *Backend) Requests() [][]model.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]model.Message(nil), b.requests...)
}

// Closed is the number of closed conns.
func (b *Backend) Closed() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *Backend) next(msgs []model.Message, cfg *model.GenerateConfig) Turn {
	b.mu.Lock()
	b.calls++
	b.configs = append(b.configs, cfg)
	b.requests = append(b.requests, append([]model.Message(nil), msgs...))
	handler := b.handler
	var t Turn
	switch {
	case handler != nil:
	case len(b.script) == 0:
		t = Fail(fmt.Errorf("%w: modeltest script exhausted", domain.ErrBackend))
	default:
		t = b.script[0]
		b.script = b.script[1:]
	}
	b.mu.Unlock()

	if handler != nil {
		return handler(msgs, cfg)
	}
	return t
}

type conn struct {
	b *Backend
}

func (c *conn) Generate(ctx context.Context, msgs []model.Message, cfg *model.GenerateConfig) (*model.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t := c.b.next(msgs, cfg)
	if t.Err != nil {
		return nil, t.Err
	}
	if t.Response != nil {
		return t.Response, nil
	}
	merged := &model.Response{}
	for _, ch := range t.Chunks {
		merged.Parts = append(merged.Parts, ch.Parts...)
		if ch.Usage != nil {
			merged.Usage = ch.Usage
		}
	}
	return merged, nil
}

func (c *conn) Stream(ctx context.Context, msgs []model.Message, cfg *model.GenerateConfig) iter.Seq2[*model.Response, error] {
	return func(yield func(*model.Response, error) bool) {
		if err := ctx.Err(); err != nil {
			yield(nil, err)
			return
		}
		t := c.b.next(msgs, cfg)
		if t.Err != nil {
			yield(nil, t.Err)
			return
		}
		chunks := t.Chunks
		if chunks == nil && t.Response != nil {
			chunks = []*model.Response{t.Response}
		}
		for _, ch := range chunks {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			if !yield(ch, nil) {
				return
			}
		}
	}
}

func (c *conn) Close() error {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	c.b.closed++
	return nil
}

package model

import (
	"context"
	"iter"
	"strings"

	"github.com/nstogner/tiered/pkg/domain"
	"github.com/nstogner/tiered/pkg/tier"
)

// Message represents a message in the model's conversation context.
type Message struct {
	// Role indicates the sender (user, assistant, tool).
	Role domain.Role `json:"role"`
	// Parts holds the message parts in order.
	Parts []Part `json:"parts"`
}

// Part is a single component of a message. Exactly one of the payload fields
// is set.
type Part struct {
	Text string `json:"text,omitempty"`

	// Thought marks Text as a reasoning fragment rather than answer text.
	Thought bool `json:"thought,omitempty"`

	FunctionCall     *FunctionCall     `json:"function_call,omitempty"`
	FunctionResponse *FunctionResponse `json:"function_response,omitempty"`

	// Media references remote content such as a video by URI.
	Media *Media `json:"media,omitempty"`

	// ThoughtSignature is an opaque signature for the model's internal state.
	// Must be round-tripped back to the model on the next request.
	ThoughtSignature []byte `json:"thought_signature,omitempty"`
}

type FunctionCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

type FunctionResponse struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type Media struct {
	URI      string `json:"uri"`
	MIMEType string `json:"mime_type"`
}

// TextPart is a convenience constructor.
func TextPart(s string) Part { return Part{Text: s} }

// ToolSpec declares a function the model may call.
type ToolSpec struct {
	Name        string
	Description string
	// Parameters is a JSON schema value (typically *jsonschema.Schema).
	Parameters any
}

// GenerateConfig carries per-request generation parameters.
type GenerateConfig struct {
	Temperature     float64
	TopP            float64
	MaxOutputTokens int
	Thinking        tier.ThinkingPolicy
	// IncludeThoughts asks the backend to return reasoning fragments.
	IncludeThoughts bool
	Tools           []ToolSpec
	// ResponseSchema requests JSON output conforming to the schema. Nil
	// means free text.
	ResponseSchema any
}

// Usage holds the token counts reported by the backend.
type Usage struct {
	InputTokens    int
	OutputTokens   int
	ThoughtsTokens int
}

// Response is a complete reply, or one chunk of a streamed reply.
type Response struct {
	Parts []Part
	Usage *Usage
}

// Text concatenates the non-thought text parts.
func (r *Response) Text() string {
	var b strings.Builder
	for _, p := range r.Parts {
		if !p.Thought {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// FunctionCalls returns the function calls in the response.
func (r *Response) FunctionCalls() []*FunctionCall {
	var calls []*FunctionCall
	for _, p := range r.Parts {
		if p.FunctionCall != nil {
			calls = append(calls, p.FunctionCall)
		}
	}
	return calls
}

// SessionOptions configures a backend conversation.
type SessionOptions struct {
	ModelID      string
	SystemPrompt string
}

// Backend represents a service that provides LLMs (e.g. Gemini).
type Backend interface {
	// Name returns the backend identifier (e.g. "gemini").
	Name() string

	// Open establishes a conversation context for one model.
	Open(ctx context.Context, opts SessionOptions) (Conn, error)
}

// Conn is a backend conversation context. History is supplied by the caller
// on every request; the Conn holds only connection-level state.
type Conn interface {
	// Generate blocks until the complete response is available.
	Generate(ctx context.Context, messages []Message, cfg *GenerateConfig) (*Response, error)

	// Stream returns a lazy, forward-only sequence of response chunks.
	// Stopping iteration cancels the request.
	Stream(ctx context.Context, messages []Message, cfg *GenerateConfig) iter.Seq2[*Response, error]

	// Close releases resources associated with the conversation.
	Close() error
}

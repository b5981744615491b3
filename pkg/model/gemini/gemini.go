package gemini

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/nstogner/tiered/pkg/domain"
	"github.com/nstogner/tiered/pkg/model"
	"github.com/nstogner/tiered/pkg/tier"
)

// Config selects the Gemini API or Vertex AI.
type Config struct {
	APIKey string
	// Backend is "gemini" (default) or "vertex".
	Backend  string
	Project  string
	Location string
}

// Backend implements model.Backend using the Google Gen AI SDK.
type Backend struct {
	client *genai.Client
}

// Verify interface compliance.
var _ model.Backend = (*Backend)(nil)

// New creates a new Gemini backend.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: newHTTPClient(),
	}
	if cfg.Backend == "vertex" {
		cc.APIKey = ""
		cc.Backend = genai.BackendVertexAI
		cc.Project = cfg.Project
		cc.Location = cfg.Location
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &Backend{client: client}, nil
}

// Name returns the backend identifier.
func (b *Backend) Name() string { return "gemini" }

// Open returns a conversation bound to one model and system prompt. The genai
// client is stateless per request, so Open does no I/O.
func (b *Backend) Open(ctx context.Context, opts model.SessionOptions) (model.Conn, error) {
	if opts.ModelID == "" {
		return nil, fmt.Errorf("%w: model id is required", domain.ErrBackend)
	}
	slog.Debug("Gemini.Open", "model", opts.ModelID)
	c := &conn{models: b.client.Models, modelID: opts.ModelID}
	if opts.SystemPrompt != "" {
		c.system = genai.NewContentFromText(opts.SystemPrompt, genai.RoleUser)
	}
	return c, nil
}

type conn struct {
	models  *genai.Models
	modelID string
	system  *genai.Content
}

func (c *conn) Generate(ctx context.Context, messages []model.Message, cfg *model.GenerateConfig) (*model.Response, error) {
	slog.Debug("Gemini.Generate", "model", c.modelID, "messageCount", len(messages))
	resp, err := c.models.GenerateContent(ctx, c.modelID, toContents(messages), c.config(cfg))
	if err != nil {
		return nil, classifyError(err)
	}
	return fromResponse(resp), nil
}

func (c *conn) Stream(ctx context.Context, messages []model.Message, cfg *model.GenerateConfig) iter.Seq2[*model.Response, error] {
	slog.Debug("Gemini.Stream", "model", c.modelID, "messageCount", len(messages))
	return func(yield func(*model.Response, error) bool) {
		streamCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		for resp, err := range c.models.GenerateContentStream(streamCtx, c.modelID, toContents(messages), c.config(cfg)) {
			if err != nil {
				yield(nil, classifyError(err))
				return
			}
			if resp == nil {
				continue
			}
			if !yield(fromResponse(resp), nil) {
				return
			}
		}
	}
}

func (c *conn) Close() error { return nil }

func (c *conn) config(cfg *model.GenerateConfig) *genai.GenerateContentConfig {
	gc := toConfig(cfg)
	gc.SystemInstruction = c.system
	return gc
}

func toConfig(cfg *model.GenerateConfig) *genai.GenerateContentConfig {
	gc := &genai.GenerateContentConfig{}
	if cfg == nil {
		return gc
	}
	gc.Temperature = genai.Ptr(float32(cfg.Temperature))
	if cfg.TopP > 0 {
		gc.TopP = genai.Ptr(float32(cfg.TopP))
	}
	gc.MaxOutputTokens = int32(cfg.MaxOutputTokens)
	gc.ThinkingConfig = thinkingConfig(cfg.Thinking, cfg.IncludeThoughts)

	if len(cfg.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(cfg.Tools))
		for _, t := range cfg.Tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:                 t.Name,
				Description:          t.Description,
				ParametersJsonSchema: t.Parameters,
			})
		}
		gc.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
		gc.ToolConfig = &genai.ToolConfig{
			FunctionCallingConfig: &genai.FunctionCallingConfig{Mode: genai.FunctionCallingConfigModeAuto},
		}
	}

	if cfg.ResponseSchema != nil {
		gc.ResponseMIMEType = "application/json"
		gc.ResponseJsonSchema = cfg.ResponseSchema
	}
	return gc
}

// thinkingConfig sets exactly one of budget and level. A tier without a
// policy still declares the section when thoughts were requested.
func thinkingConfig(p tier.ThinkingPolicy, includeThoughts bool) *genai.ThinkingConfig {
	switch p.Mode {
	case tier.ThinkingBudget:
		return &genai.ThinkingConfig{
			IncludeThoughts: includeThoughts,
			ThinkingBudget:  genai.Ptr(int32(p.Tokens)),
		}
	case tier.ThinkingLevel:
		return &genai.ThinkingConfig{
			IncludeThoughts: includeThoughts,
			ThinkingLevel:   genai.ThinkingLevel(strings.ToUpper(p.Level)),
		}
	}
	if includeThoughts {
		return &genai.ThinkingConfig{IncludeThoughts: true}
	}
	return nil
}

func toContents(messages []model.Message) []*genai.Content {
	var contents []*genai.Content
	for _, msg := range messages {
		var parts []*genai.Part
		for _, p := range msg.Parts {
			switch {
			case p.FunctionCall != nil:
				parts = append(parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{
						ID:   p.FunctionCall.ID,
						Name: p.FunctionCall.Name,
						Args: p.FunctionCall.Args,
					},
					ThoughtSignature: p.ThoughtSignature,
				})
			case p.FunctionResponse != nil:
				parts = append(parts, &genai.Part{
					FunctionResponse: &genai.FunctionResponse{
						ID:       p.FunctionResponse.ID,
						Name:     p.FunctionResponse.Name,
						Response: p.FunctionResponse.Response,
					},
				})
			case p.Media != nil:
				parts = append(parts, genai.NewPartFromURI(p.Media.URI, p.Media.MIMEType))
			case p.Thought:
				// Thought summaries are not sent back, but their signature is.
				if len(p.ThoughtSignature) > 0 {
					parts = append(parts, &genai.Part{Thought: true, Text: p.Text, ThoughtSignature: p.ThoughtSignature})
				}
			case p.Text != "":
				parts = append(parts, &genai.Part{Text: p.Text, ThoughtSignature: p.ThoughtSignature})
			}
		}
		if len(parts) == 0 {
			continue
		}

		role := genai.RoleUser
		if msg.Role == domain.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, &genai.Content{Role: string(role), Parts: parts})
	}
	return contents
}

func fromResponse(resp *genai.GenerateContentResponse) *model.Response {
	out := &model.Response{}
	// Only the first candidate is used.
	if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			switch {
			case part.FunctionCall != nil:
				id := part.FunctionCall.ID
				if id == "" {
					id = "call-" + uuid.New().String()
				}
				out.Parts = append(out.Parts, model.Part{
					FunctionCall: &model.FunctionCall{
						ID:   id,
						Name: part.FunctionCall.Name,
						Args: part.FunctionCall.Args,
					},
					ThoughtSignature: part.ThoughtSignature,
				})
			case part.Text != "" || len(part.ThoughtSignature) > 0:
				out.Parts = append(out.Parts, model.Part{
					Text:             part.Text,
					Thought:          part.Thought,
					ThoughtSignature: part.ThoughtSignature,
				})
			}
		}
	}
	if um := resp.UsageMetadata; um != nil {
		out.Usage = &model.Usage{
			InputTokens:    max(int(um.PromptTokenCount), 0),
			OutputTokens:   max(int(um.CandidatesTokenCount), 0),
			ThoughtsTokens: max(int(um.ThoughtsTokenCount), 0),
		}
	}
	return out
}

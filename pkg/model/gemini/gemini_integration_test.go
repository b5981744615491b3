package gemini_test

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/nstogner/tiered/pkg/domain"
	"github.com/nstogner/tiered/pkg/model"
	"github.com/nstogner/tiered/pkg/model/gemini"
	"github.com/nstogner/tiered/pkg/tier"
)

func setupBackend(t *testing.T) *gemini.Backend {
	t.Helper()
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		t.Skip("Skipping: GEMINI_API_KEY not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	b, err := gemini.New(ctx, gemini.Config{APIKey: apiKey})
	if err != nil {
		t.Fatalf("gemini.New: %v", err)
	}
	return b
}

func openDefault(t *testing.T, b *gemini.Backend) model.Conn {
	t.Helper()
	spec := tier.Default().Lookup("default")
	c, err := b.Open(context.Background(), model.SessionOptions{ModelID: spec.ModelID, SystemPrompt: "Be terse."})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

// TestIntegrationGeminiGenerate verifies a simple blocking reply.
func TestIntegrationGeminiGenerate(t *testing.T) {
	c := openDefault(t, setupBackend(t))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	resp, err := c.Generate(ctx, []model.Message{
		{Role: domain.RoleUser, Parts: []model.Part{model.TextPart("Reply with exactly: HELLO")}},
	}, &model.GenerateConfig{Temperature: 0, MaxOutputTokens: 32})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !strings.Contains(strings.ToUpper(resp.Text()), "HELLO") {
		t.Errorf("Expected HELLO, got %q", resp.Text())
	}
	if resp.Usage == nil || resp.Usage.InputTokens == 0 {
		t.Errorf("Expected usage metadata, got %+v", resp.Usage)
	}
}

// TestIntegrationGeminiStructured verifies that a structured reply parses.
func TestIntegrationGeminiStructured(t *testing.T) {
	c := openDefault(t, setupBackend(t))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	resp, err := c.Generate(ctx, []model.Message{
		{Role: domain.RoleUser, Parts: []model.Part{model.TextPart("What is 2+2?")}},
	}, &model.GenerateConfig{Temperature: 0.2, MaxOutputTokens: 1024, ResponseSchema: domain.ReplySchema()})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	reply, err := domain.ParseReply(resp.Text())
	if err != nil {
		t.Fatalf("ParseReply(%q): %v", resp.Text(), err)
	}
	if !strings.Contains(reply.FinalAnswer, "4") {
		t.Errorf("Expected 4 in answer, got %q", reply.FinalAnswer)
	}
}

// TestIntegrationGeminiStream verifies streamed chunks reassemble to text.
func TestIntegrationGeminiStream(t *testing.T) {
	c := openDefault(t, setupBackend(t))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var b strings.Builder
	chunks := 0
	for resp, err := range c.Stream(ctx, []model.Message{
		{Role: domain.RoleUser, Parts: []model.Part{model.TextPart("Count from 1 to 5 separated by spaces.")}},
	}, &model.GenerateConfig{Temperature: 0, MaxOutputTokens: 64}) {
		if err != nil {
			t.Fatalf("Stream: %v", err)
		}
		chunks++
		b.WriteString(resp.Text())
	}
	if chunks == 0 || !strings.Contains(b.String(), "5") {
		t.Errorf("Unexpected stream output (%d chunks): %q", chunks, b.String())
	}
}

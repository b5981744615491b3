package domain

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
)

var reflector = &jsonschema.Reflector{
	DoNotReference:            true,
	ExpandedStruct:            true,
	AllowAdditionalProperties: true,
}

// SchemaFor reflects a JSON schema for v in the shape Gemini accepts as a
// response or parameters schema: fully inlined, without $schema or $id.
func SchemaFor(v any) *jsonschema.Schema {
	s := reflector.Reflect(v)
	s.Version = ""
	s.ID = ""
	return s
}

// ReplySchema is the response schema for structured turns.
func ReplySchema() *jsonschema.Schema { return SchemaFor(&StructuredReply{}) }

// ClassificationSchema is the response schema used by the classifier.
func ClassificationSchema() *jsonschema.Schema { return SchemaFor(&IntentClassification{}) }

// ParseReply decodes and normalizes a structured reply. Any decoding problem
// is reported as ErrSchemaMismatch.
func ParseReply(text string) (*StructuredReply, error) {
	var r StructuredReply
	if err := json.Unmarshal([]byte(TrimCodeFence(text)), &r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchemaMismatch, err)
	}
	if err := r.Normalize(); err != nil {
		return nil, err
	}
	return &r, nil
}

// TrimCodeFence removes a surrounding markdown code fence, which some models
// emit even when asked for bare JSON.
func TrimCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") || !strings.HasSuffix(s, "```") || len(s) < 6 {
		return s
	}
	s = strings.TrimSuffix(strings.TrimPrefix(s, "```"), "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(s)
}

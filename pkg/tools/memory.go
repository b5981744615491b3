package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/nstogner/tiered/pkg/domain"
	"github.com/nstogner/tiered/pkg/store"
)

const (
	NameSearchMemory = "search_memory"
	NameStoreMemory  = "store_memory"
	NameDeleteMemory = "delete_memory"

	defaultSearchLimit = 5
	maxSearchLimit     = 50
)

// MemoryCategories are the accepted store_memory categories. Anything else is
// filed as a fact.
var MemoryCategories = []string{"fact", "procedure", "preference", "knowledge"}

type SearchArgs struct {
	Query string `json:"query" jsonschema:"description=Text to look for in stored memories"`
	Limit int    `json:"limit,omitempty" jsonschema:"description=Maximum number of results (default 5),minimum=1,maximum=50"`
}

type StoreArgs struct {
	Content  string `json:"content" jsonschema:"description=The information to store"`
	Category string `json:"category,omitempty" jsonschema:"description=Type of information,enum=fact,enum=procedure,enum=preference,enum=knowledge"`
}

type DeleteArgs struct {
	ID string `json:"id" jsonschema:"description=ID of the memory to forget, as returned by search_memory"`
}

func normalizeCategory(c string) string {
	c = strings.ToLower(strings.TrimSpace(c))
	for _, known := range MemoryCategories {
		if c == known {
			return c
		}
	}
	return "fact"
}

// Memory returns the memory tools over ms. Entries are tagged with the
// calling session but searched and deleted across all sessions.
func Memory(ms store.MemoryStore) []Descriptor {
	return []Descriptor{
		Typed(NameSearchMemory, "Search the knowledge base for previously stored information relevant to a query.",
			func(ctx context.Context, a SearchArgs) (any, error) {
				if strings.TrimSpace(a.Query) == "" {
					return nil, fmt.Errorf("query is required")
				}
				limit := a.Limit
				if limit <= 0 {
					limit = defaultSearchLimit
				}
				limit = min(limit, maxSearchLimit)
				entries, err := ms.SearchMemory(ctx, a.Query, limit)
				if err != nil {
					return nil, fmt.Errorf("searching memory: %w", err)
				}
				results := make([]map[string]any, 0, len(entries))
				for _, e := range entries {
					results = append(results, map[string]any{
						"id":         e.ID,
						"content":    e.Content,
						"category":   e.Category,
						"created_at": e.CreatedAt,
					})
				}
				return map[string]any{"results": results, "count": len(results)}, nil
			}),
		Typed(NameStoreMemory, "Store new information in the knowledge base for future reference.",
			func(ctx context.Context, a StoreArgs) (any, error) {
				if strings.TrimSpace(a.Content) == "" {
					return nil, fmt.Errorf("content is required")
				}
				entry := &domain.MemoryEntry{
					SessionID: SessionID(ctx),
					Content:   a.Content,
					Category:  normalizeCategory(a.Category),
				}
				if err := ms.StoreMemory(ctx, entry); err != nil {
					return nil, fmt.Errorf("storing memory: %w", err)
				}
				return fmt.Sprintf("Successfully stored information (ID: %s)", entry.ID), nil
			}),
		Typed(NameDeleteMemory, "Forget a stored memory that is wrong or no longer relevant.",
			func(ctx context.Context, a DeleteArgs) (any, error) {
				if strings.TrimSpace(a.ID) == "" {
					return nil, fmt.Errorf("id is required")
				}
				if err := ms.DeleteMemory(ctx, a.ID); err != nil {
					return nil, fmt.Errorf("deleting memory: %w", err)
				}
				return fmt.Sprintf("Deleted memory %s", a.ID), nil
			}),
	}
}

package store

import (
	"context"

	"github.com/nstogner/tiered/pkg/domain"
)

// UsageStore is the append-only ledger of accounted turns.
type UsageStore interface {
	// RecordUsage appends a ledger row. The ID and Timestamp fields are set
	// by the store when empty.
	RecordUsage(ctx context.Context, rec *domain.UsageRecord) error

	// ListUsage returns the rows of one session in chronological order.
	ListUsage(ctx context.Context, sessionID string) ([]domain.UsageRecord, error)

	// UsageByTier sums tokens and cost per tier across all sessions.
	UsageByTier(ctx context.Context) (map[string]domain.UsageRecord, error)
}

// MemoryStore holds memory entries available to the memory tools.
type MemoryStore interface {
	// StoreMemory persists a new entry. The ID field is set by the store when
	// empty.
	StoreMemory(ctx context.Context, m *domain.MemoryEntry) error

	// SearchMemory returns entries whose content contains the query, newest
	// first. If limit > 0, returns at most that many.
	SearchMemory(ctx context.Context, query string, limit int) ([]domain.MemoryEntry, error)

	// DeleteMemory removes an entry by ID.
	DeleteMemory(ctx context.Context, id string) error
}

package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/nstogner/tiered/pkg/domain"
	"github.com/nstogner/tiered/pkg/store"
)

// Store implements UsageStore and MemoryStore using SQLite.
type Store struct {
	db *sql.DB
}

// Verify interface compliance at compile time.
var _ store.UsageStore = (*Store)(nil)
var _ store.MemoryStore = (*Store)(nil)

// New opens (or creates) a SQLite database at the given path and runs migrations.
func New(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS usage_records (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		tier_key TEXT NOT NULL,
		model_id TEXT NOT NULL DEFAULT '',
		input_tokens INTEGER NOT NULL DEFAULT 0,
		output_tokens INTEGER NOT NULL DEFAULT 0,
		cost REAL NOT NULL DEFAULT 0,
		timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		seq INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_usage_session_seq ON usage_records(session_id, seq);

	CREATE TABLE IF NOT EXISTS memories (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT 'fact',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// --- UsageStore ---

func (s *Store) RecordUsage(ctx context.Context, rec *domain.UsageRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO usage_records (id, session_id, tier_key, model_id, input_tokens, output_tokens, cost, timestamp, seq)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, COALESCE((SELECT MAX(seq) FROM usage_records WHERE session_id = ?), 0) + 1)`,
		rec.ID, rec.SessionID, rec.TierKey, rec.ModelID,
		rec.InputTokens, rec.OutputTokens, rec.Cost, rec.Timestamp, rec.SessionID,
	)
	if err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}
	return nil
}

func (s *Store) ListUsage(ctx context.Context, sessionID string) ([]domain.UsageRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, tier_key, model_id, input_tokens, output_tokens, cost, timestamp
		 FROM usage_records WHERE session_id = ? ORDER BY seq ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []domain.UsageRecord
	for rows.Next() {
		var r domain.UsageRecord
		if err := rows.Scan(&r.ID, &r.SessionID, &r.TierKey, &r.ModelID, &r.InputTokens, &r.OutputTokens, &r.Cost, &r.Timestamp); err != nil {
			return nil, err
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

func (s *Store) UsageByTier(ctx context.Context) (map[string]domain.UsageRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tier_key, SUM(input_tokens), SUM(output_tokens), SUM(cost)
		 FROM usage_records GROUP BY tier_key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]domain.UsageRecord)
	for rows.Next() {
		var r domain.UsageRecord
		if err := rows.Scan(&r.TierKey, &r.InputTokens, &r.OutputTokens, &r.Cost); err != nil {
			return nil, err
		}
		out[r.TierKey] = r
	}
	return out, rows.Err()
}

// --- MemoryStore ---

func (s *Store) StoreMemory(ctx context.Context, m *domain.MemoryEntry) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.Category == "" {
		m.Category = "fact"
	}
	m.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memories (id, session_id, content, category, created_at) VALUES (?, ?, ?, ?, ?)`,
		m.ID, m.SessionID, m.Content, m.Category, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}
	return nil
}

// likeEscaper makes LIKE wildcards in a search query match literally.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// SearchMemory returns entries containing query, newest first.
func (s *Store) SearchMemory(ctx context.Context, query string, limit int) ([]domain.MemoryEntry, error) {
	q := `SELECT id, session_id, content, category, created_at
		 FROM memories WHERE content LIKE '%' || ? || '%' ESCAPE '\'
		 ORDER BY created_at DESC, rowid DESC`
	args := []any{likeEscaper.Replace(query)}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.MemoryEntry
	for rows.Next() {
		var m domain.MemoryEntry
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Content, &m.Category, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) DeleteMemory(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("memory %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

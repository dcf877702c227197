// Package recall is the cross-session memory layer: short free-text
// facts embedded and stored in SQLite, recalled by cosine similarity.
// Where pkg/engine bounds what one session remembers, recall carries
// the durable residue between sessions.
package recall

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"
	_ "modernc.org/sqlite"

	"github.com/dotsetgreg/finitemem/pkg/embed"
	"github.com/dotsetgreg/finitemem/pkg/logger"
)

// DefaultMaxEntries caps the store before FIFO eviction kicks in.
const DefaultMaxEntries = 5000

var ErrNotFound = errors.New("memory not found")

// Memory is one stored fact.
type Memory struct {
	ID          string `json:"id"`
	SessionID   string `json:"session_id"`
	Text        string `json:"text"`
	CreatedAtMS int64  `json:"created_at_ms"`
}

// SearchResult pairs a memory with its similarity to the query.
type SearchResult struct {
	Memory
	Similarity float64 `json:"similarity"`
}

// Store persists embedded memories. Entries are content-deduplicated:
// remembering the same text twice refreshes the original instead of
// duplicating it.
type Store struct {
	db         *sql.DB
	embedder   embed.Provider
	maxEntries int
}

func NewStore(path string, embedder embed.Provider, maxEntries int) (*Store, error) {
	if embedder == nil {
		return nil, fmt.Errorf("open recall store: nil embedder")
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open recall store: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("recall store pragma: %w", err)
		}
	}

	schema := `
	CREATE TABLE IF NOT EXISTS memories (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL DEFAULT '',
		content_hash TEXT NOT NULL UNIQUE,
		text TEXT NOT NULL,
		model_id TEXT NOT NULL,
		embedding BLOB NOT NULL,
		created_at_ms INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_memories_created ON memories(created_at_ms);
	`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("recall store schema: %w", err)
	}

	return &Store{db: db, embedder: embedder, maxEntries: maxEntries}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func contentHash(text string) string {
	sum := blake3.Sum256([]byte(strings.TrimSpace(strings.ToLower(text))))
	return fmt.Sprintf("%x", sum[:16])
}

// Remember embeds and stores a fact. Duplicate content refreshes the
// existing row's timestamp and returns its ID.
func (s *Store) Remember(ctx context.Context, sessionID, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("remember: empty text")
	}

	hash := contentHash(text)
	now := time.Now().UnixMilli()

	var existing string
	err := s.db.QueryRow(`SELECT id FROM memories WHERE content_hash = ?`, hash).Scan(&existing)
	if err == nil {
		if _, err := s.db.Exec(`UPDATE memories SET created_at_ms = ? WHERE id = ?`, now, existing); err != nil {
			return "", fmt.Errorf("remember: %w", err)
		}
		return existing, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("remember: %w", err)
	}

	vecs, err := s.embedder.EncodeBatch(ctx, []string{text})
	if err != nil {
		return "", fmt.Errorf("remember: embed: %w", err)
	}
	blob, err := encodeVector(vecs[0])
	if err != nil {
		return "", fmt.Errorf("remember: %w", err)
	}

	id := "mem-" + uuid.New().String()[:8]
	_, err = s.db.Exec(
		`INSERT INTO memories (id, session_id, content_hash, text, model_id, embedding, created_at_ms) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, sessionID, hash, text, s.embedder.ModelID(), blob, now,
	)
	if err != nil {
		return "", fmt.Errorf("remember: %w", err)
	}

	if err := s.enforceCap(); err != nil {
		return "", err
	}
	logger.DebugCF("recall", "remembered", map[string]interface{}{"id": id})
	return id, nil
}

// enforceCap drops the oldest rows beyond maxEntries.
func (s *Store) enforceCap() error {
	_, err := s.db.Exec(`
		DELETE FROM memories WHERE id NOT IN (
			SELECT id FROM memories ORDER BY created_at_ms DESC, id DESC LIMIT ?
		)`, s.maxEntries)
	if err != nil {
		return fmt.Errorf("recall cap: %w", err)
	}
	return nil
}

// SearchOptions gate what counts as a recallable match.
type SearchOptions struct {
	Limit         int
	MinSimilarity float64
	MaxAgeMS      int64
}

// Search returns memories similar to the query, best first. Rows whose
// embedding was produced by a different model are skipped; their
// vector spaces are not comparable.
func (s *Store) Search(ctx context.Context, query string, opts SearchOptions) ([]SearchResult, error) {
	if opts.Limit <= 0 {
		opts.Limit = 5
	}

	vecs, err := s.embedder.EncodeBatch(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("recall search: embed: %w", err)
	}
	queryVec := vecs[0]

	cutoff := int64(0)
	if opts.MaxAgeMS > 0 {
		cutoff = time.Now().UnixMilli() - opts.MaxAgeMS
	}

	rows, err := s.db.Query(
		`SELECT id, session_id, text, model_id, embedding, created_at_ms FROM memories WHERE created_at_ms >= ?`,
		cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("recall search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []SearchResult
	for rows.Next() {
		var m Memory
		var modelID string
		var blob []byte
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Text, &modelID, &blob, &m.CreatedAtMS); err != nil {
			return nil, fmt.Errorf("recall search: %w", err)
		}
		if modelID != s.embedder.ModelID() {
			continue
		}
		vec, err := decodeVector(blob)
		if err != nil {
			logger.WarnCF("recall", "skipping corrupt embedding", map[string]interface{}{"id": m.ID})
			continue
		}
		sim := embed.CosineSimilarity(queryVec, vec)
		if sim < opts.MinSimilarity {
			continue
		}
		results = append(results, SearchResult{Memory: m, Similarity: sim})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("recall search: %w", err)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return results[i].CreatedAtMS > results[j].CreatedAtMS
	})
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// Forget deletes one memory by ID.
func (s *Store) Forget(id string) error {
	res, err := s.db.Exec(`DELETE FROM memories WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("forget: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("forget: %w: %s", ErrNotFound, id)
	}
	return nil
}

// Count returns the number of stored memories.
func (s *Store) Count() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM memories`).Scan(&n); err != nil {
		return 0, fmt.Errorf("recall count: %w", err)
	}
	return n, nil
}

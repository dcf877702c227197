// Package checkpoint archives engine checkpoints in a local SQLite
// database: labeled, timestamped, zstd-compressed snapshots with
// retention pruning. The file-based save in pkg/engine covers single
// snapshots; this store covers histories.
package checkpoint

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/dotsetgreg/finitemem/pkg/engine"
	"github.com/dotsetgreg/finitemem/pkg/logger"
)

// ErrNotFound is returned when no checkpoint matches the query.
var ErrNotFound = errors.New("checkpoint not found")

// Entry describes one archived checkpoint without its payload.
type Entry struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Version     int    `json:"version"`
	CreatedAtMS int64  `json:"created_at_ms"`
	SizeBytes   int    `json:"size_bytes"`
}

// Store is a SQLite-backed checkpoint archive.
type Store struct {
	db *sql.DB
}

func NewStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint store: %w", err)
	}
	// modernc sqlite is serialized per connection; a single connection
	// avoids SQLITE_BUSY under concurrent writers.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("checkpoint store pragma: %w", err)
		}
	}

	schema := `
	CREATE TABLE IF NOT EXISTS checkpoints (
		id TEXT PRIMARY KEY,
		label TEXT NOT NULL DEFAULT '',
		schema_version INTEGER NOT NULL,
		created_at_ms INTEGER NOT NULL,
		payload BLOB NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_checkpoints_created ON checkpoints(created_at_ms DESC);
	`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("checkpoint store schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Save archives a checkpoint under a fresh ID and returns it.
func (s *Store) Save(c engine.Checkpoint, label string) (string, error) {
	payload, err := engine.EncodeCheckpoint(c, true)
	if err != nil {
		return "", fmt.Errorf("save checkpoint: %w", err)
	}

	id := "ckpt-" + uuid.New().String()[:8]
	now := time.Now().UnixMilli()
	_, err = s.db.Exec(
		`INSERT INTO checkpoints (id, label, schema_version, created_at_ms, payload) VALUES (?, ?, ?, ?, ?)`,
		id, label, c.Version, now, payload,
	)
	if err != nil {
		return "", fmt.Errorf("save checkpoint: %w", err)
	}

	logger.InfoCF("checkpoint", "archived", map[string]interface{}{
		"id":    id,
		"label": label,
		"bytes": len(payload),
	})
	return id, nil
}

func (s *Store) decodeRow(id string, version int, payload []byte) (engine.Checkpoint, error) {
	if version != engine.CheckpointVersion {
		return engine.Checkpoint{}, fmt.Errorf("load checkpoint %s: %w: got version %d, want %d",
			id, engine.ErrCheckpointVersion, version, engine.CheckpointVersion)
	}
	c, err := engine.DecodeCheckpoint(payload, true)
	if err != nil {
		return engine.Checkpoint{}, fmt.Errorf("load checkpoint %s: %w", id, err)
	}
	return c, nil
}

// Load retrieves one archived checkpoint by ID.
func (s *Store) Load(id string) (engine.Checkpoint, error) {
	var version int
	var payload []byte
	err := s.db.QueryRow(
		`SELECT schema_version, payload FROM checkpoints WHERE id = ?`, id,
	).Scan(&version, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return engine.Checkpoint{}, fmt.Errorf("load checkpoint: %w: %s", ErrNotFound, id)
	}
	if err != nil {
		return engine.Checkpoint{}, fmt.Errorf("load checkpoint: %w", err)
	}
	return s.decodeRow(id, version, payload)
}

// LoadLatest retrieves the most recently archived checkpoint.
func (s *Store) LoadLatest() (engine.Checkpoint, string, error) {
	var id string
	var version int
	var payload []byte
	err := s.db.QueryRow(
		`SELECT id, schema_version, payload FROM checkpoints ORDER BY created_at_ms DESC, id DESC LIMIT 1`,
	).Scan(&id, &version, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return engine.Checkpoint{}, "", fmt.Errorf("load latest checkpoint: %w", ErrNotFound)
	}
	if err != nil {
		return engine.Checkpoint{}, "", fmt.Errorf("load latest checkpoint: %w", err)
	}
	c, err := s.decodeRow(id, version, payload)
	return c, id, err
}

// List returns all archive entries, newest first.
func (s *Store) List() ([]Entry, error) {
	rows, err := s.db.Query(
		`SELECT id, label, schema_version, created_at_ms, length(payload) FROM checkpoints ORDER BY created_at_ms DESC, id DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Label, &e.Version, &e.CreatedAtMS, &e.SizeBytes); err != nil {
			return nil, fmt.Errorf("list checkpoints: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	return out, nil
}

// Delete removes one archived checkpoint.
func (s *Store) Delete(id string) error {
	res, err := s.db.Exec(`DELETE FROM checkpoints WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("delete checkpoint: %w: %s", ErrNotFound, id)
	}
	return nil
}

// Prune keeps the newest keep checkpoints and deletes the rest,
// returning how many were removed.
func (s *Store) Prune(keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("prune checkpoints: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.Exec(`
		DELETE FROM checkpoints WHERE id NOT IN (
			SELECT id FROM checkpoints ORDER BY created_at_ms DESC, id DESC LIMIT ?
		)`, keep)
	if err != nil {
		return 0, fmt.Errorf("prune checkpoints: %w", err)
	}
	n, _ := res.RowsAffected()
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("prune checkpoints: %w", err)
	}

	if n > 0 {
		logger.InfoCF("checkpoint", "pruned", map[string]interface{}{
			"removed": n,
			"kept":    keep,
		})
	}
	return int(n), nil
}

package checkpoint

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/termhive/termhive/internal/db"
)

//go:embed migrations/*.sql
var migrations embed.FS

// SQLiteStore persists checkpoints as zstd-compressed JSON blobs with
// a session index for filtered listing.
type SQLiteStore struct {
	mu    sync.Mutex
	sqlDB *sql.DB
	path  string
}

// NewSQLiteStore opens (or creates) the indexed checkpoint store at
// path and runs its migrations. Use ":memory:" for tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	sqlDB, err := db.Open(path)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(sqlDB, migrations, "migrations"); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrate checkpoint store: %w", err)
	}
	return &SQLiteStore{sqlDB: sqlDB, path: path}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.sqlDB.Close()
}

// Save writes the checkpoint and its session index rows.
func (s *SQLiteStore) Save(ctx context.Context, c *Checkpoint) (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshal checkpoint: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()

	hasRegistry := 0
	if c.Registry != nil {
		hasRegistry = 1
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO checkpoints (id, created_at, version, "trigger", has_registry, blob) VALUES (?, ?, ?, ?, ?, ?)`,
		c.CheckpointID, c.CreatedAt.UTC().Format(time.RFC3339Nano), c.Version, c.Trigger, hasRegistry, compressBlob(data),
	); err != nil {
		return "", fmt.Errorf("insert checkpoint: %w", err)
	}
	for paneID := range c.Sessions {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO checkpoint_sessions (checkpoint_id, session_id) VALUES (?, ?)`,
			c.CheckpointID, paneID,
		); err != nil {
			return "", fmt.Errorf("insert checkpoint session: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	return c.CheckpointID, nil
}

// Load returns the checkpoint, or nil when missing or corrupt.
func (s *SQLiteStore) Load(ctx context.Context, id string) (*Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var blob []byte
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT blob FROM checkpoints WHERE id = ?`, id,
	).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeBlob(id, blob), nil
}

func decodeBlob(id string, blob []byte) *Checkpoint {
	data, err := decompressBlob(blob)
	if err != nil {
		slog.Warn("corrupt checkpoint blob", "checkpoint_id", id, "error", err)
		return nil
	}
	var c Checkpoint
	if err := json.Unmarshal(data, &c); err != nil {
		slog.Warn("corrupt checkpoint blob", "checkpoint_id", id, "error", err)
		return nil
	}
	return &c
}

// List returns summaries newest-first, optionally filtered by session.
func (s *SQLiteStore) List(ctx context.Context, sessionID string, limit int) ([]Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 50
	}

	var rows *sql.Rows
	var err error
	if sessionID == "" {
		rows, err = s.sqlDB.QueryContext(ctx, `
			SELECT id, created_at, "trigger", has_registry FROM checkpoints
			ORDER BY created_at DESC LIMIT ?`, limit)
	} else {
		rows, err = s.sqlDB.QueryContext(ctx, `
			SELECT c.id, c.created_at, c."trigger", c.has_registry
			FROM checkpoints c
			JOIN checkpoint_sessions cs ON cs.checkpoint_id = c.id
			WHERE cs.session_id = ?
			ORDER BY c.created_at DESC LIMIT ?`, sessionID, limit)
	}
	if err != nil {
		return nil, err
	}

	// db.Open caps the pool at one connection, so the cursor must be
	// fully drained and closed before the session-id queries run.
	var out []Summary
	for rows.Next() {
		var sum Summary
		var createdAt string
		if err := rows.Scan(&sum.CheckpointID, &createdAt, &sum.Trigger, &sum.HasRegistry); err != nil {
			rows.Close()
			return nil, err
		}
		if sum.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("decode created_at: %w", err)
		}
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range out {
		if err := s.fillSessionIDsLocked(ctx, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *SQLiteStore) fillSessionIDsLocked(ctx context.Context, sum *Summary) error {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT session_id FROM checkpoint_sessions WHERE checkpoint_id = ?`, sum.CheckpointID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var sid string
		if err := rows.Scan(&sid); err != nil {
			return err
		}
		sum.SessionIDs = append(sum.SessionIDs, sid)
	}
	return rows.Err()
}

// Delete removes a checkpoint; session rows cascade.
func (s *SQLiteStore) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.sqlDB.ExecContext(ctx, `DELETE FROM checkpoints WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Latest returns the newest checkpoint, or nil when there is none.
func (s *SQLiteStore) Latest(ctx context.Context, sessionID string) (*Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var id string
	var blob []byte
	var err error
	if sessionID == "" {
		err = s.sqlDB.QueryRowContext(ctx, `
			SELECT id, blob FROM checkpoints
			ORDER BY created_at DESC LIMIT 1`).Scan(&id, &blob)
	} else {
		err = s.sqlDB.QueryRowContext(ctx, `
			SELECT c.id, c.blob
			FROM checkpoints c
			JOIN checkpoint_sessions cs ON cs.checkpoint_id = c.id
			WHERE cs.session_id = ?
			ORDER BY c.created_at DESC LIMIT 1`, sessionID).Scan(&id, &blob)
	}
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeBlob(id, blob), nil
}

// Cleanup deletes checkpoints older than maxAgeDays, then trims the
// tail beyond maxCount, returning the number deleted.
func (s *SQLiteStore) Cleanup(ctx context.Context, maxAgeDays, maxCount int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	if maxAgeDays > 0 {
		cutoff := time.Now().UTC().AddDate(0, 0, -maxAgeDays).Format(time.RFC3339Nano)
		res, err := s.sqlDB.ExecContext(ctx,
			`DELETE FROM checkpoints WHERE created_at < ?`, cutoff)
		if err != nil {
			return deleted, err
		}
		n, _ := res.RowsAffected()
		deleted += int(n)
	}

	if maxCount > 0 {
		res, err := s.sqlDB.ExecContext(ctx, `
			DELETE FROM checkpoints WHERE id NOT IN (
				SELECT id FROM checkpoints ORDER BY created_at DESC LIMIT ?
			)`, maxCount)
		if err != nil {
			return deleted, err
		}
		n, _ := res.RowsAffected()
		deleted += int(n)
	}
	return deleted, nil
}

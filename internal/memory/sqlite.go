package memory

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/termhive/termhive/internal/db"
)

//go:embed migrations/*.sql
var migrations embed.FS

// SQLiteStore indexes memories with FTS5 for ranked search.
type SQLiteStore struct {
	mu     sync.Mutex
	sqlDB  *sql.DB
	path   string
	closed bool
}

// NewSQLiteStore opens (or creates) the indexed store at path and runs
// its migrations. Use ":memory:" for tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	sqlDB, err := db.Open(path)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(sqlDB, migrations, "migrations"); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrate memory store: %w", err)
	}
	return &SQLiteStore{sqlDB: sqlDB, path: path}, nil
}

// Store upserts a record and bumps its timestamp.
func (s *SQLiteStore) Store(ctx context.Context, ns Namespace, key string, value any, metadata map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	valueJSON, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal value: %w", err)
	}
	metaJSON := []byte("{}")
	if metadata != nil {
		if metaJSON, err = json.Marshal(metadata); err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	// The new timestamp must be strictly after any existing one.
	var prev time.Time
	var prevID int64
	exists := true
	err = tx.QueryRowContext(ctx,
		`SELECT id, created_at FROM memories WHERE namespace = ? AND key = ?`,
		ns.String(), key,
	).Scan(&prevID, &timeScanner{&prev})
	if err == sql.ErrNoRows {
		exists = false
	} else if err != nil {
		return err
	}
	ts := nextTimestamp(prev)

	if exists {
		if _, err := tx.ExecContext(ctx,
			`UPDATE memories SET value_json = ?, metadata_json = ?, created_at = ? WHERE id = ?`,
			string(valueJSON), string(metaJSON), ts.Format(time.RFC3339Nano), prevID,
		); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM memories_fts WHERE rowid = ?`, prevID); err != nil {
			return err
		}
		if err := insertFTS(ctx, tx, prevID, ns, key, valueJSON, metaJSON); err != nil {
			return err
		}
	} else {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO memories (namespace, key, value_json, metadata_json, created_at) VALUES (?, ?, ?, ?, ?)`,
			ns.String(), key, string(valueJSON), string(metaJSON), ts.Format(time.RFC3339Nano),
		)
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		if err := insertFTS(ctx, tx, id, ns, key, valueJSON, metaJSON); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func insertFTS(ctx context.Context, tx *sql.Tx, rowid int64, ns Namespace, key string, valueJSON, metaJSON []byte) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO memories_fts (rowid, key, value_text, metadata_text, namespace) VALUES (?, ?, ?, ?, ?)`,
		rowid, key, string(valueJSON), string(metaJSON), ns.String(),
	)
	return err
}

// Retrieve returns the record, or nil when absent.
func (s *SQLiteStore) Retrieve(ctx context.Context, ns Namespace, key string) (*Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT namespace, key, value_json, metadata_json, created_at FROM memories WHERE namespace = ? AND key = ?`,
		ns.String(), key,
	)
	m, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

// Delete removes a record, reporting whether it existed.
func (s *SQLiteStore) Delete(ctx context.Context, ns Namespace, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var id int64
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT id FROM memories WHERE namespace = ? AND key = ?`, ns.String(), key,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id); err != nil {
		return false, err
	}
	_, err = s.sqlDB.ExecContext(ctx, `DELETE FROM memories_fts WHERE rowid = ?`, id)
	return true, err
}

// ListKeys returns the namespace's keys sorted ascending.
func (s *SQLiteStore) ListKeys(ctx context.Context, ns Namespace) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT key FROM memories WHERE namespace = ? ORDER BY key ASC`, ns.String(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// ListNamespaces returns all namespaces under the given prefix, sorted.
func (s *SQLiteStore) ListNamespaces(ctx context.Context, prefix Namespace) ([]Namespace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT DISTINCT namespace FROM memories ORDER BY namespace ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Namespace
	for rows.Next() {
		var nsKey string
		if err := rows.Scan(&nsKey); err != nil {
			return nil, err
		}
		ns := ParseNamespace(nsKey)
		if ns.HasPrefix(prefix) {
			out = append(out, ns)
		}
	}
	return out, rows.Err()
}

// Search runs an FTS5 ranked query scoped to the namespace prefix. The
// prefix filter is applied on the namespace column rather than inside
// the MATCH expression so path separators need no escaping. On a MATCH
// failure (special characters in the query) it falls back to a LIKE
// scan with a flat 0.5 score.
func (s *SQLiteStore) Search(ctx context.Context, ns Namespace, query string, limit int) ([]SearchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 10
	}

	results, err := s.ftsSearchLocked(ctx, ns, query, limit)
	if err != nil {
		slog.Debug("fts query failed, falling back to LIKE scan", "query", query, "error", err)
		return s.likeSearchLocked(ctx, ns, query, limit)
	}
	return results, nil
}

// ftsSearchLocked runs the ranked FTS5 query. Caller holds s.mu.
// MATCH syntax errors can surface during row iteration, so every error
// on this path bubbles up for the caller's fallback.
func (s *SQLiteStore) ftsSearchLocked(ctx context.Context, ns Namespace, query string, limit int) ([]SearchResult, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `
		SELECT m.namespace, m.key, m.value_json, m.metadata_json, m.created_at, bm25(memories_fts) AS rank
		FROM memories_fts
		JOIN memories m ON m.id = memories_fts.rowid
		WHERE memories_fts MATCH ? AND (m.namespace = ? OR m.namespace LIKE ?)
		ORDER BY rank
		LIMIT ?`,
		query, ns.String(), nsLikePrefix(ns), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var m Memory
		var nsKey, valueJSON, metaJSON, createdAt string
		var rank float64
		if err := rows.Scan(&nsKey, &m.Key, &valueJSON, &metaJSON, &createdAt, &rank); err != nil {
			return nil, err
		}
		if err := hydrate(&m, nsKey, valueJSON, metaJSON, createdAt); err != nil {
			return nil, err
		}
		results = append(results, SearchResult{
			Memory: &m,
			Score:  1.0 / (1.0 + math.Abs(rank)),
		})
	}
	return results, rows.Err()
}

// likeSearchLocked is the fallback path. Caller holds s.mu.
func (s *SQLiteStore) likeSearchLocked(ctx context.Context, ns Namespace, query string, limit int) ([]SearchResult, error) {
	pattern := "%" + query + "%"
	rows, err := s.sqlDB.QueryContext(ctx, `
		SELECT namespace, key, value_json, metadata_json, created_at
		FROM memories
		WHERE (namespace = ? OR namespace LIKE ?)
		  AND (key LIKE ? OR value_json LIKE ? OR metadata_json LIKE ?)
		LIMIT ?`,
		ns.String(), nsLikePrefix(ns), pattern, pattern, pattern, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var m Memory
		var nsKey, valueJSON, metaJSON, createdAt string
		if err := rows.Scan(&nsKey, &m.Key, &valueJSON, &metaJSON, &createdAt); err != nil {
			return nil, err
		}
		if err := hydrate(&m, nsKey, valueJSON, metaJSON, createdAt); err != nil {
			return nil, err
		}
		results = append(results, SearchResult{Memory: &m, Score: 0.5})
	}
	return results, rows.Err()
}

// ClearNamespace bulk-deletes one namespace, returning the count.
func (s *SQLiteStore) ClearNamespace(ctx context.Context, ns Namespace) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM memories_fts WHERE rowid IN (SELECT id FROM memories WHERE namespace = ?)`,
		ns.String(),
	); err != nil {
		return 0, err
	}
	res, err := s.sqlDB.ExecContext(ctx, `DELETE FROM memories WHERE namespace = ?`, ns.String())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// Stats summarizes the store.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := &Stats{TopNamespaces: make(map[string]int), BackendPath: s.path}

	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT namespace, COUNT(*) FROM memories GROUP BY namespace`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var nsKey string
		var n int
		if err := rows.Scan(&nsKey, &n); err != nil {
			return nil, err
		}
		st.TotalNamespaces++
		st.TotalMemories += n
		st.TopNamespaces[nsKey] = n
	}
	return st, rows.Err()
}

// Close closes the database. Idempotent.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.sqlDB.Close()
}

// nsLikePrefix matches strict descendants of ns. The root matches
// everything.
func nsLikePrefix(ns Namespace) string {
	if len(ns) == 0 {
		return "%"
	}
	return ns.String() + "/%"
}

func hydrate(m *Memory, nsKey, valueJSON, metaJSON, createdAt string) error {
	m.Namespace = ParseNamespace(nsKey)
	if err := json.Unmarshal([]byte(valueJSON), &m.Value); err != nil {
		return fmt.Errorf("decode value: %w", err)
	}
	if metaJSON != "" && metaJSON != "{}" {
		if err := json.Unmarshal([]byte(metaJSON), &m.Metadata); err != nil {
			return fmt.Errorf("decode metadata: %w", err)
		}
	}
	ts, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return fmt.Errorf("decode timestamp: %w", err)
	}
	m.Timestamp = ts
	return nil
}

func scanMemory(row *sql.Row) (*Memory, error) {
	var m Memory
	var nsKey, valueJSON, metaJSON, createdAt string
	if err := row.Scan(&nsKey, &m.Key, &valueJSON, &metaJSON, &createdAt); err != nil {
		return nil, err
	}
	if err := hydrate(&m, nsKey, valueJSON, metaJSON, createdAt); err != nil {
		return nil, err
	}
	return &m, nil
}

// timeScanner parses RFC3339Nano TEXT columns into a time.Time.
type timeScanner struct{ t *time.Time }

func (ts *timeScanner) Scan(src any) error {
	switch v := src.(type) {
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return err
		}
		*ts.t = parsed
		return nil
	case time.Time:
		*ts.t = v
		return nil
	default:
		return fmt.Errorf("cannot scan %T as time", src)
	}
}

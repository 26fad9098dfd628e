package atlas

import (
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"webatlas/internal/logging"
)

// Store is the SQLite-backed atlas. A single exclusive lock guards every
// index and task-set mutation; the lock is scoped strictly to the store
// operation and is never held across a collaborator call.
type Store struct {
	db     *sql.DB
	mu     sync.Mutex
	dbPath string
}

// NewStore initializes the SQLite database at the given path.
// Use ":memory:" for an ephemeral store in tests.
func NewStore(path string) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "NewStore")
	defer timer.Stop()

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, &StorageError{Op: "create directory", Err: err}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &StorageError{Op: "open database", Err: err}
	}
	// Single connection: the in-process mutex already serializes writers,
	// and one connection keeps ":memory:" databases coherent.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("failed to set sqlite journal_mode=WAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		logging.StoreDebug("failed to enable sqlite foreign_keys: %v", err)
	}

	s := &Store{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logging.Store("atlas store ready at %s", path)
	return s, nil
}

// initialize creates the required tables.
func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS nodes (
		id             TEXT PRIMARY KEY,
		url            TEXT NOT NULL,
		summary        TEXT NOT NULL DEFAULT '',
		fingerprint    TEXT NOT NULL UNIQUE,
		screenshot_ref TEXT NOT NULL DEFAULT '',
		parent_id      TEXT,
		depth          INTEGER NOT NULL,
		visit_count    INTEGER NOT NULL DEFAULT 1,
		analyzed       INTEGER NOT NULL DEFAULT 0,
		tags           TEXT NOT NULL DEFAULT '[]',
		created_at     DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_nodes_parent ON nodes(parent_id);

	CREATE TABLE IF NOT EXISTS graph_index (
		node_id    TEXT PRIMARY KEY REFERENCES nodes(id),
		location   TEXT NOT NULL,
		url        TEXT NOT NULL,
		summary    TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS atlas_stats (
		id          INTEGER PRIMARY KEY CHECK (id = 1),
		total_nodes INTEGER NOT NULL DEFAULT 0,
		total_edges INTEGER NOT NULL DEFAULT 0,
		max_depth   INTEGER NOT NULL DEFAULT 0,
		root_id     TEXT NOT NULL DEFAULT '',
		root_url    TEXT NOT NULL DEFAULT ''
	);
	INSERT OR IGNORE INTO atlas_stats (id) VALUES (1);

	CREATE TABLE IF NOT EXISTS edges (
		source_id  TEXT NOT NULL REFERENCES nodes(id),
		label      TEXT NOT NULL,
		target_id  TEXT NOT NULL REFERENCES nodes(id),
		script     TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		PRIMARY KEY (source_id, label)
	);
	CREATE INDEX IF NOT EXISTS idx_edges_target ON edges(target_id);

	CREATE TABLE IF NOT EXISTS tasks (
		id          TEXT PRIMARY KEY,
		node_id     TEXT NOT NULL REFERENCES nodes(id),
		selector    TEXT NOT NULL DEFAULT '',
		kind        TEXT NOT NULL,
		params      TEXT NOT NULL DEFAULT '{}',
		priority    INTEGER NOT NULL DEFAULT 0,
		rationale   TEXT NOT NULL DEFAULT '',
		destructive INTEGER NOT NULL DEFAULT 0,
		status      TEXT NOT NULL DEFAULT 'pending',
		created_at  DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tasks_node_status ON tasks(node_id, status);

	CREATE TABLE IF NOT EXISTS ideas (
		id       TEXT PRIMARY KEY,
		node_id  TEXT NOT NULL REFERENCES nodes(id),
		name     TEXT NOT NULL,
		category TEXT NOT NULL,
		selector TEXT NOT NULL DEFAULT '',
		cases    TEXT NOT NULL DEFAULT '[]'
	);
	CREATE INDEX IF NOT EXISTS idx_ideas_node ON ideas(node_id);

	CREATE TABLE IF NOT EXISTS reports (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		idea_id    TEXT NOT NULL,
		node_id    TEXT NOT NULL,
		case_input TEXT NOT NULL,
		expected   TEXT NOT NULL,
		observed   TEXT NOT NULL,
		passed     INTEGER NOT NULL,
		created_at DATETIME NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return &StorageError{Op: "initialize schema", Err: err}
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// withRetry runs a storage operation, retrying once with backoff on
// failure before surfacing the error. Caller logic errors pass through
// without a retry.
func (s *Store) withRetry(op string, fn func() error) error {
	err := fn()
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNodeNotFound) || errors.Is(err, ErrLinkExists) {
		return err
	}
	logging.Get(logging.CategoryStore).Warn("%s failed, retrying once: %v", op, err)
	time.Sleep(100 * time.Millisecond)
	if err = fn(); err != nil {
		logging.Get(logging.CategoryStore).Error("%s failed after retry: %v", op, err)
		return &StorageError{Op: op, Err: err}
	}
	return nil
}

// Stats returns the aggregate counters from the graph index.
func (s *Store) Stats() (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statsLocked()
}

func (s *Store) statsLocked() (Stats, error) {
	var st Stats
	err := s.db.QueryRow(
		`SELECT total_nodes, total_edges, max_depth FROM atlas_stats WHERE id = 1`,
	).Scan(&st.TotalNodes, &st.TotalEdges, &st.MaxDepth)
	if err != nil {
		return Stats{}, &StorageError{Op: "read stats", Err: err}
	}
	return st, nil
}

// SetRootMeta records the root node identity and the clean-session start
// URL used by teleport replay.
func (s *Store) SetRootMeta(rootID, rootURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.withRetry("set root meta", func() error {
		_, err := s.db.Exec(
			`UPDATE atlas_stats SET root_id = ?, root_url = ? WHERE id = 1`,
			rootID, rootURL,
		)
		return err
	})
}

// RootMeta returns the root node identity and start URL.
func (s *Store) RootMeta() (rootID, rootURL string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	err = s.db.QueryRow(
		`SELECT root_id, root_url FROM atlas_stats WHERE id = 1`,
	).Scan(&rootID, &rootURL)
	if err != nil {
		return "", "", &StorageError{Op: "read root meta", Err: err}
	}
	return rootID, rootURL, nil
}

// VerifyIndex checks the graph index invariant: every persisted node
// appears in the index and vice versa. Returns the identities violating it.
func (s *Store) VerifyIndex() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`
		SELECT n.id FROM nodes n LEFT JOIN graph_index g ON n.id = g.node_id WHERE g.node_id IS NULL
		UNION
		SELECT g.node_id FROM graph_index g LEFT JOIN nodes n ON g.node_id = n.id WHERE n.id IS NULL`)
	if err != nil {
		return nil, &StorageError{Op: "verify index", Err: err}
	}
	defer rows.Close()

	var bad []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, &StorageError{Op: "verify index", Err: err}
		}
		bad = append(bad, id)
	}
	return bad, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableString(v string) interface{} {
	if v == "" {
		return nil
	}
	return v
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(raw string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

package atlas

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"webatlas/internal/logging"
)

// LinkState creates a directed edge (source, label, target) owning the
// given replay script. The call is idempotent for an identical existing
// triple; it fails with ErrLinkExists when the label is already taken on
// the source for a different target, and with ErrNodeNotFound when either
// endpoint is unknown. Edges are append-only.
func (s *Store) LinkState(sourceID, label, targetID string, script ReplayScript) error {
	timer := logging.StartTimer(logging.CategoryStore, "LinkState")
	defer timer.Stop()

	if strings.TrimSpace(label) == "" {
		return fmt.Errorf("link_state: empty action label")
	}
	label = SlugifyLabel(label)

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withRetry("link_state", func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		for _, id := range []string{sourceID, targetID} {
			var one int
			if err := tx.QueryRow(`SELECT 1 FROM nodes WHERE id = ?`, id).Scan(&one); err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return ErrNodeNotFound
				}
				return err
			}
		}

		var existingTarget string
		err = tx.QueryRow(
			`SELECT target_id FROM edges WHERE source_id = ? AND label = ?`, sourceID, label,
		).Scan(&existingTarget)
		switch {
		case err == nil:
			if existingTarget == targetID {
				return tx.Commit() // idempotent
			}
			return ErrLinkExists
		case !errors.Is(err, sql.ErrNoRows):
			return err
		}

		if script.Ref == "" {
			script.Ref = SanitizeID(sourceID) + "/" + label
		}
		scriptJSON, err := json.Marshal(script)
		if err != nil {
			return err
		}

		if _, err := tx.Exec(
			`INSERT INTO edges (source_id, label, target_id, script, created_at) VALUES (?, ?, ?, ?, ?)`,
			sourceID, label, targetID, string(scriptJSON), fmtTime(time.Now()),
		); err != nil {
			return err
		}
		if _, err := tx.Exec(
			`UPDATE atlas_stats SET total_edges = total_edges + 1 WHERE id = 1`,
		); err != nil {
			return err
		}

		logging.Store("edge %s -[%s]-> %s", sourceID, label, targetID)
		return tx.Commit()
	})
}

// Edge returns the edge with the given (source, label) pair.
func (s *Store) Edge(sourceID, label string) (*Edge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := s.db.QueryRow(
		`SELECT source_id, label, target_id, script, created_at FROM edges
		 WHERE source_id = ? AND label = ?`, sourceID, SlugifyLabel(label))
	return scanEdge(row)
}

// EdgeBetween returns the earliest-created edge from source to target, used
// when resolving a parent path to its replay scripts.
func (s *Store) EdgeBetween(sourceID, targetID string) (*Edge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.edgeBetweenLocked(sourceID, targetID)
}

func (s *Store) edgeBetweenLocked(sourceID, targetID string) (*Edge, error) {
	row := s.db.QueryRow(
		`SELECT source_id, label, target_id, script, created_at FROM edges
		 WHERE source_id = ? AND target_id = ? ORDER BY created_at ASC, label ASC LIMIT 1`,
		sourceID, targetID)
	return scanEdge(row)
}

// Edges returns all outgoing edges of a node.
func (s *Store) Edges(sourceID string) ([]Edge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		`SELECT source_id, label, target_id, script, created_at FROM edges
		 WHERE source_id = ? ORDER BY created_at ASC`, sourceID)
	if err != nil {
		return nil, &StorageError{Op: "list edges", Err: err}
	}
	defer rows.Close()

	var edges []Edge
	for rows.Next() {
		e, err := scanEdge(rows)
		if err != nil {
			return nil, err
		}
		edges = append(edges, *e)
	}
	return edges, rows.Err()
}

func scanEdge(row rowScanner) (*Edge, error) {
	var e Edge
	var script, created string
	err := row.Scan(&e.SourceID, &e.Label, &e.TargetID, &script, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNodeNotFound
	}
	if err != nil {
		return nil, &StorageError{Op: "scan edge", Err: err}
	}
	if err := json.Unmarshal([]byte(script), &e.Script); err != nil {
		return nil, &StorageError{Op: "decode replay script", Err: err}
	}
	e.CreatedAt = parseTime(created)
	return &e, nil
}

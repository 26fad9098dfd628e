package atlas

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"webatlas/internal/logging"
)

// StateInput carries the attributes for an ensure-state call. ParentID is
// empty for the root; depth is assigned from the parent inside the store.
type StateInput struct {
	URL           string
	Fingerprint   string
	ScreenshotRef string
	Summary       string
	ParentID      string
	Tags          []string
}

// EnsureState resolves a fingerprint to a node, creating it if absent.
// Exactly one node is ever created per distinct fingerprint, even under
// concurrent calls: the first caller wins and later callers observe
// isNew=false with the same identity. Revisits increment the visit count.
// Node creation, index insertion and counter updates share one transaction.
func (s *Store) EnsureState(in StateInput) (nodeID string, isNew bool, err error) {
	timer := logging.StartTimer(logging.CategoryStore, "EnsureState")
	defer timer.Stop()

	if in.Fingerprint == "" {
		return "", false, fmt.Errorf("ensure_state: empty fingerprint")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err = s.withRetry("ensure_state", func() error {
		tx, txErr := s.db.Begin()
		if txErr != nil {
			return txErr
		}
		defer tx.Rollback()

		var existingID string
		scanErr := tx.QueryRow(
			`SELECT id FROM nodes WHERE fingerprint = ?`, in.Fingerprint,
		).Scan(&existingID)
		switch {
		case scanErr == nil:
			if _, uErr := tx.Exec(
				`UPDATE nodes SET visit_count = visit_count + 1 WHERE id = ?`, existingID,
			); uErr != nil {
				return uErr
			}
			nodeID, isNew = existingID, false
			return tx.Commit()
		case !errors.Is(scanErr, sql.ErrNoRows):
			return scanErr
		}

		depth := 0
		if in.ParentID != "" {
			if pErr := tx.QueryRow(
				`SELECT depth FROM nodes WHERE id = ?`, in.ParentID,
			).Scan(&depth); pErr != nil {
				if errors.Is(pErr, sql.ErrNoRows) {
					return ErrNodeNotFound
				}
				return pErr
			}
			depth++
		}

		id := SanitizeID(in.Fingerprint)
		tags, mErr := json.Marshal(in.Tags)
		if mErr != nil {
			return mErr
		}
		now := time.Now()

		if _, iErr := tx.Exec(
			`INSERT INTO nodes (id, url, summary, fingerprint, screenshot_ref, parent_id, depth, visit_count, tags, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
			id, in.URL, in.Summary, in.Fingerprint, in.ScreenshotRef,
			nullableString(in.ParentID), depth, string(tags), fmtTime(now),
		); iErr != nil {
			return iErr
		}

		// Index row and counters move in the same transaction so the graph
		// index can never disagree with the persisted node set.
		if _, iErr := tx.Exec(
			`INSERT INTO graph_index (node_id, location, url, summary, created_at)
			 VALUES (?, ?, ?, ?, ?)`,
			id, "nodes/"+id, in.URL, in.Summary, fmtTime(now),
		); iErr != nil {
			return iErr
		}
		if _, iErr := tx.Exec(
			`UPDATE atlas_stats SET total_nodes = total_nodes + 1, max_depth = MAX(max_depth, ?) WHERE id = 1`,
			depth,
		); iErr != nil {
			return iErr
		}

		nodeID, isNew = id, true
		return tx.Commit()
	})
	if err != nil {
		// Caller logic errors pass through untouched.
		if errors.Is(err, ErrNodeNotFound) {
			return "", false, ErrNodeNotFound
		}
		return "", false, err
	}

	if isNew {
		logging.Store("node %s created (url=%s parent=%s)", nodeID, in.URL, in.ParentID)
	} else {
		logging.StoreDebug("node %s revisited", nodeID)
	}
	return nodeID, isNew, nil
}

// Node returns the node with the given identity.
func (s *Store) Node(id string) (*Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nodeLocked(id)
}

func (s *Store) nodeLocked(id string) (*Node, error) {
	row := s.db.QueryRow(
		`SELECT id, url, summary, fingerprint, screenshot_ref, parent_id, depth, visit_count, analyzed, tags, created_at
		 FROM nodes WHERE id = ?`, id)
	return scanNode(row)
}

// NodeByFingerprint returns the node persisted for a fingerprint, if any.
func (s *Store) NodeByFingerprint(fp string) (*Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := s.db.QueryRow(
		`SELECT id, url, summary, fingerprint, screenshot_ref, parent_id, depth, visit_count, analyzed, tags, created_at
		 FROM nodes WHERE fingerprint = ?`, fp)
	return scanNode(row)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanNode(row rowScanner) (*Node, error) {
	var n Node
	var parent sql.NullString
	var analyzed int
	var tags, created string
	err := row.Scan(&n.ID, &n.URL, &n.Summary, &n.Fingerprint, &n.ScreenshotRef,
		&parent, &n.Depth, &n.VisitCount, &analyzed, &tags, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNodeNotFound
	}
	if err != nil {
		return nil, &StorageError{Op: "scan node", Err: err}
	}
	n.ParentID = parent.String
	n.Analyzed = analyzed != 0
	n.CreatedAt = parseTime(created)
	if err := json.Unmarshal([]byte(tags), &n.Tags); err != nil {
		n.Tags = nil
	}
	return &n, nil
}

// UpdateSummary replaces a node's human summary in both the node record
// and the graph index.
func (s *Store) UpdateSummary(id, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.withRetry("update summary", func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()
		res, err := tx.Exec(`UPDATE nodes SET summary = ? WHERE id = ?`, summary, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNodeNotFound
		}
		if _, err := tx.Exec(`UPDATE graph_index SET summary = ? WHERE node_id = ?`, summary, id); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// MarkAnalyzed flags a node as having had candidate actions proposed.
func (s *Store) MarkAnalyzed(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.withRetry("mark analyzed", func() error {
		res, err := s.db.Exec(`UPDATE nodes SET analyzed = 1 WHERE id = ?`, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNodeNotFound
		}
		return nil
	})
}

// OutDegree returns the number of outgoing edges of a node.
func (s *Store) OutDegree(id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM edges WHERE source_id = ?`, id).Scan(&n)
	if err != nil {
		return 0, &StorageError{Op: "out degree", Err: err}
	}
	return n, nil
}

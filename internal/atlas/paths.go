package atlas

import (
	"database/sql"
	"errors"
	"fmt"

	"webatlas/internal/logging"
)

// GetPathToNode walks parent links from the target up to the root and
// returns the reversed result, so the list reads root-to-target. Each step
// carries the edge (and its replay script) that leads into step.NodeID.
// The root yields an empty path. Unknown identities fail with
// ErrNodeNotFound.
func (s *Store) GetPathToNode(targetID string) ([]PathStep, error) {
	timer := logging.StartTimer(logging.CategoryStore, "GetPathToNode")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	var reversed []PathStep
	current := targetID
	// Hop bound guards against a corrupted parent chain forming a cycle.
	stats, err := s.statsLocked()
	if err != nil {
		return nil, err
	}
	maxHops := stats.TotalNodes + 1

	for hop := 0; ; hop++ {
		if hop > maxHops {
			return nil, &StorageError{Op: "get_path_to_node", Err: fmt.Errorf("parent chain cycle at %s", current)}
		}

		var parent sql.NullString
		err := s.db.QueryRow(`SELECT parent_id FROM nodes WHERE id = ?`, current).Scan(&parent)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNodeNotFound
		}
		if err != nil {
			return nil, &StorageError{Op: "get_path_to_node", Err: err}
		}
		if !parent.Valid || parent.String == "" {
			break // reached the root
		}

		edge, err := s.edgeBetweenLocked(parent.String, current)
		if err != nil {
			if errors.Is(err, ErrNodeNotFound) {
				return nil, &StorageError{Op: "get_path_to_node",
					Err: fmt.Errorf("no edge persisted from %s to %s", parent.String, current)}
			}
			return nil, err
		}

		reversed = append(reversed, PathStep{
			NodeID:      current,
			ActionLabel: edge.Label,
			Edge:        *edge,
		})
		current = parent.String
	}

	// Reverse in place: the walk collected target-to-root.
	for i, j := 0, len(reversed)-1; i < j; i, j = i+1, j-1 {
		reversed[i], reversed[j] = reversed[j], reversed[i]
	}
	logging.StoreDebug("path to %s has %d steps", targetID, len(reversed))
	return reversed, nil
}

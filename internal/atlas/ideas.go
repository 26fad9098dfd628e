package atlas

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"webatlas/internal/logging"
)

// SaveIdeas attaches discovered test ideas to a node.
func (s *Store) SaveIdeas(nodeID string, ideas []TestIdea) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withRetry("save ideas", func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		var one int
		if err := tx.QueryRow(`SELECT 1 FROM nodes WHERE id = ?`, nodeID).Scan(&one); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNodeNotFound
			}
			return err
		}

		for _, idea := range ideas {
			id := idea.ID
			if id == "" {
				id = uuid.NewString()
			}
			cases, err := json.Marshal(idea.Cases)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(
				`INSERT INTO ideas (id, node_id, name, category, selector, cases) VALUES (?, ?, ?, ?, ?, ?)`,
				id, nodeID, idea.Name, string(idea.Category), idea.Selector, string(cases),
			); err != nil {
				return err
			}
		}

		logging.StoreDebug("saved %d test ideas on node %s", len(ideas), nodeID)
		return tx.Commit()
	})
}

// AllIdeas enumerates every test idea across all nodes.
func (s *Store) AllIdeas() ([]TestIdea, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		`SELECT id, node_id, name, category, selector, cases FROM ideas ORDER BY node_id, id`)
	if err != nil {
		return nil, &StorageError{Op: "list ideas", Err: err}
	}
	defer rows.Close()

	var ideas []TestIdea
	for rows.Next() {
		var idea TestIdea
		var category, cases string
		if err := rows.Scan(&idea.ID, &idea.NodeID, &idea.Name, &category, &idea.Selector, &cases); err != nil {
			return nil, &StorageError{Op: "scan idea", Err: err}
		}
		idea.Category = IdeaCategory(category)
		if err := json.Unmarshal([]byte(cases), &idea.Cases); err != nil {
			return nil, &StorageError{Op: "decode idea cases", Err: err}
		}
		ideas = append(ideas, idea)
	}
	return ideas, rows.Err()
}

// SaveReport appends a structured pass/fail record from the testing loop.
func (s *Store) SaveReport(r Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withRetry("save report", func() error {
		created := r.CreatedAt
		if created.IsZero() {
			created = time.Now()
		}
		_, err := s.db.Exec(
			`INSERT INTO reports (idea_id, node_id, case_input, expected, observed, passed, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			r.IdeaID, r.NodeID, r.CaseInput, r.Expected, r.Observed, boolToInt(r.Passed), fmtTime(created),
		)
		return err
	})
}

// Reports returns all appended test reports in insertion order.
func (s *Store) Reports() ([]Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		`SELECT id, idea_id, node_id, case_input, expected, observed, passed, created_at
		 FROM reports ORDER BY id ASC`)
	if err != nil {
		return nil, &StorageError{Op: "list reports", Err: err}
	}
	defer rows.Close()

	var reports []Report
	for rows.Next() {
		var r Report
		var passed int
		var created string
		if err := rows.Scan(&r.ID, &r.IdeaID, &r.NodeID, &r.CaseInput, &r.Expected, &r.Observed, &passed, &created); err != nil {
			return nil, &StorageError{Op: "scan report", Err: err}
		}
		r.Passed = passed != 0
		r.CreatedAt = parseTime(created)
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

package atlas

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"webatlas/internal/logging"
)

// ManageTodos mutates a node's task set. In push mode every given task is
// appended in pending status and the returned task is nil. In pop mode the
// highest-priority pending task (ties broken by earliest creation) is
// atomically transitioned to processing and returned; a nil task means the
// node has nothing pending. Only one caller can ever hold a given task in
// processing.
func (s *Store) ManageTodos(nodeID string, mode TodoMode, tasks []Task) (*Task, error) {
	switch mode {
	case TodoPush:
		return nil, s.pushTasks(nodeID, tasks)
	case TodoPop:
		return s.popTask(nodeID)
	default:
		return nil, fmt.Errorf("manage_todos: unknown mode %q", mode)
	}
}

func (s *Store) pushTasks(nodeID string, tasks []Task) error {
	timer := logging.StartTimer(logging.CategoryStore, "pushTasks")
	defer timer.Stop()

	for i := range tasks {
		if !ValidActionKind(tasks[i].Kind) {
			return fmt.Errorf("manage_todos: invalid action kind %q", tasks[i].Kind)
		}
		if tasks[i].Priority < PriorityMin {
			tasks[i].Priority = PriorityMin
		}
		if tasks[i].Priority > PriorityMax {
			tasks[i].Priority = PriorityMax
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withRetry("push tasks", func() error {
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

		for _, t := range tasks {
			id := t.ID
			if id == "" {
				id = uuid.NewString()
			}
			params, err := json.Marshal(t.Params)
			if err != nil {
				return err
			}
			created := t.CreatedAt
			if created.IsZero() {
				created = time.Now()
			}
			if _, err := tx.Exec(
				`INSERT INTO tasks (id, node_id, selector, kind, params, priority, rationale, destructive, status, created_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, 'pending', ?)`,
				id, nodeID, t.Selector, string(t.Kind), string(params),
				t.Priority, t.Rationale, boolToInt(t.Destructive), fmtTime(created),
			); err != nil {
				return err
			}
		}

		logging.StoreDebug("pushed %d tasks onto node %s", len(tasks), nodeID)
		return tx.Commit()
	})
}

func (s *Store) popTask(nodeID string) (*Task, error) {
	timer := logging.StartTimer(logging.CategoryStore, "popTask")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	var popped *Task
	err := s.withRetry("pop task", func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		row := tx.QueryRow(
			`SELECT id, node_id, selector, kind, params, priority, rationale, destructive, status, created_at
			 FROM tasks WHERE node_id = ? AND status = 'pending'
			 ORDER BY priority DESC, created_at ASC, id ASC LIMIT 1`, nodeID)
		t, scanErr := scanTask(row)
		if scanErr != nil {
			if errors.Is(scanErr, sql.ErrNoRows) {
				popped = nil
				return tx.Commit()
			}
			return scanErr
		}

		// Guarded update: if a concurrent caller claimed the task between
		// our select and here, zero rows change and we report empty rather
		// than double-claim.
		res, err := tx.Exec(
			`UPDATE tasks SET status = 'processing' WHERE id = ? AND status = 'pending'`, t.ID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			popped = nil
			return tx.Commit()
		}
		t.Status = TaskProcessing
		popped = t
		return tx.Commit()
	})
	if err != nil {
		return nil, err
	}
	if popped != nil {
		logging.StoreDebug("popped task %s (priority=%d) from node %s", popped.ID, popped.Priority, nodeID)
	}
	return popped, nil
}

// MarkTask resolves a processing task to completed or failed.
func (s *Store) MarkTask(taskID string, status TaskStatus) error {
	if status != TaskCompleted && status != TaskFailed {
		return fmt.Errorf("mark task: status must be completed or failed, got %q", status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withRetry("mark task", func() error {
		res, err := s.db.Exec(
			`UPDATE tasks SET status = ? WHERE id = ? AND status = 'processing'`,
			string(status), taskID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("task %s is not processing", taskID)
		}
		return nil
	})
}

// PendingCount returns the number of pending tasks on a node.
func (s *Store) PendingCount(nodeID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingCountLocked(nodeID)
}

func (s *Store) pendingCountLocked(nodeID string) (int, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM tasks WHERE node_id = ? AND status = 'pending'`, nodeID,
	).Scan(&n)
	if err != nil {
		return 0, &StorageError{Op: "pending count", Err: err}
	}
	return n, nil
}

// TotalPending returns the number of pending tasks across all nodes.
func (s *Store) TotalPending() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM tasks WHERE status = 'pending'`).Scan(&n)
	if err != nil {
		return 0, &StorageError{Op: "pending count", Err: err}
	}
	return n, nil
}

// Frontier returns the identities of all nodes that still hold pending
// tasks, shallowest first so backtracking prefers short teleport chains.
func (s *Store) Frontier() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		`SELECT DISTINCT n.id FROM nodes n
		 JOIN tasks t ON t.node_id = n.id AND t.status = 'pending'
		 ORDER BY n.depth ASC, n.created_at ASC`)
	if err != nil {
		return nil, &StorageError{Op: "frontier scan", Err: err}
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, &StorageError{Op: "frontier scan", Err: err}
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanTask(row rowScanner) (*Task, error) {
	var t Task
	var params, kind, status, created string
	var destructive int
	err := row.Scan(&t.ID, &t.NodeID, &t.Selector, &kind, &params,
		&t.Priority, &t.Rationale, &destructive, &status, &created)
	if err != nil {
		return nil, err
	}
	t.Kind = ActionKind(kind)
	t.Status = TaskStatus(status)
	t.Destructive = destructive != 0
	t.CreatedAt = parseTime(created)
	if err := json.Unmarshal([]byte(params), &t.Params); err != nil {
		t.Params = nil
	}
	return &t, nil
}

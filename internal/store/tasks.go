package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// TaskRecord is the durable view of one queued task. The payload is immutable
// after enqueue; status is the only column workers mutate in place.
type TaskRecord struct {
	ID        string          `json:"id"`
	Kind      string          `json:"kind"`
	UserID    string          `json:"user_id"`
	Status    string          `json:"status"`
	Payload   json.RawMessage `json:"payload"`
	Attempts  int             `json:"attempts"`
	Error     string          `json:"error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (s *Store) SaveTask(t *TaskRecord) error {
	if t.Status == "" {
		t.Status = "Scheduled"
	}
	_, err := s.db.Exec(`
		INSERT INTO tasks (id, kind, user_id, status, payload)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		t.ID, t.Kind, t.UserID, t.Status, []byte(t.Payload))
	if err != nil {
		return fmt.Errorf("save task: %w", err)
	}
	return nil
}

func (s *Store) GetTask(id string) (*TaskRecord, error) {
	t := &TaskRecord{}
	var errMsg *string
	var payload []byte
	err := s.db.QueryRow(`
		SELECT id, kind, user_id, status, payload, attempts, error, created_at, updated_at
		FROM tasks WHERE id = ?`, id).
		Scan(&t.ID, &t.Kind, &t.UserID, &t.Status, &payload, &t.Attempts, &errMsg, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	if errMsg != nil {
		t.Error = *errMsg
	}
	t.Payload = json.RawMessage(payload)
	return t, nil
}

func (s *Store) UpdateTaskStatus(id, status, errMsg string) error {
	_, err := s.db.Exec(`
		UPDATE tasks SET status = ?, error = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		status, errMsg, id)
	return err
}

// RequestTaskCancel flips a pending or running task to Canceling. The worker
// observes this at its next checkpoint and finalizes to Canceled. Returns
// false when the task is unknown or already terminal.
func (s *Store) RequestTaskCancel(id string) (bool, error) {
	res, err := s.db.Exec(`
		UPDATE tasks SET status = 'Canceling', updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status IN ('Scheduled', 'Running')`, id)
	if err != nil {
		return false, fmt.Errorf("request task cancel: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) IncrementTaskAttempts(id string) error {
	_, err := s.db.Exec(`
		UPDATE tasks SET attempts = attempts + 1, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, id)
	return err
}

// TaskStatus is the poll result shape for status checks.
type TaskStatus struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// GetTaskStatuses returns the last known status per id, restricted to one
// task kind. Unknown ids are reported as NotFound rather than omitted so the
// response length always matches the request.
func (s *Store) GetTaskStatuses(ids []string, kind string) ([]TaskStatus, error) {
	out := make([]TaskStatus, 0, len(ids))
	for _, id := range ids {
		var status string
		err := s.db.QueryRow(`SELECT status FROM tasks WHERE id = ? AND kind = ?`, id, kind).Scan(&status)
		if err == sql.ErrNoRows {
			out = append(out, TaskStatus{ID: id, Status: "NotFound"})
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get task status: %w", err)
		}
		out = append(out, TaskStatus{ID: id, Status: status})
	}
	return out, nil
}

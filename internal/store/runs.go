package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

type RoutineVersion struct {
	ID         string          `json:"id"`
	RoutineID  string          `json:"routine_id"`
	Version    string          `json:"version"`
	Definition json.RawMessage `json:"definition,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

type Run struct {
	ID               string          `json:"id"`
	SwarmID          string          `json:"swarm_id,omitempty"`
	RoutineVersionID string          `json:"routine_version_id"`
	UserID           string          `json:"user_id"`
	Status           string          `json:"status"`
	Inputs           json.RawMessage `json:"inputs,omitempty"`
	Outputs          json.RawMessage `json:"outputs,omitempty"`
	Error            string          `json:"error,omitempty"`
	StartedAt        time.Time       `json:"started_at"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
}

func (s *Store) SaveRoutineVersion(rv *RoutineVersion) error {
	_, err := s.db.Exec(`
		INSERT INTO routine_versions (id, routine_id, version, definition)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET definition = excluded.definition`,
		rv.ID, rv.RoutineID, rv.Version, []byte(rv.Definition))
	if err != nil {
		return fmt.Errorf("save routine version: %w", err)
	}
	return nil
}

func (s *Store) GetRoutineVersion(id string) (*RoutineVersion, error) {
	rv := &RoutineVersion{}
	var def []byte
	err := s.db.QueryRow(`
		SELECT id, routine_id, version, definition, created_at
		FROM routine_versions WHERE id = ?`, id).
		Scan(&rv.ID, &rv.RoutineID, &rv.Version, &def, &rv.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get routine version: %w", err)
	}
	rv.Definition = json.RawMessage(def)
	return rv, nil
}

func (s *Store) SaveRun(r *Run) error {
	if r.Status == "" {
		r.Status = "Scheduled"
	}
	_, err := s.db.Exec(`
		INSERT INTO runs (id, swarm_id, routine_version_id, user_id, status, inputs)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			inputs = excluded.inputs`,
		r.ID, r.SwarmID, r.RoutineVersionID, r.UserID, r.Status, []byte(r.Inputs))
	if err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	return nil
}

func (s *Store) GetRun(id string) (*Run, error) {
	r := &Run{}
	var swarmID, errMsg *string
	var inputs, outputs []byte
	err := s.db.QueryRow(`
		SELECT id, swarm_id, routine_version_id, user_id, status, inputs, outputs, error, started_at, completed_at
		FROM runs WHERE id = ?`, id).
		Scan(&r.ID, &swarmID, &r.RoutineVersionID, &r.UserID, &r.Status,
			&inputs, &outputs, &errMsg, &r.StartedAt, &r.CompletedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	if swarmID != nil {
		r.SwarmID = *swarmID
	}
	if errMsg != nil {
		r.Error = *errMsg
	}
	r.Inputs = json.RawMessage(inputs)
	r.Outputs = json.RawMessage(outputs)
	return r, nil
}

func (s *Store) UpdateRun(id, status string, outputs json.RawMessage, errMsg string) error {
	_, err := s.db.Exec(`
		UPDATE runs
		SET status = ?, outputs = ?, error = ?,
		    completed_at = CASE WHEN ? IN ('Completed', 'Failed', 'Canceled') THEN CURRENT_TIMESTAMP ELSE completed_at END
		WHERE id = ?`, status, []byte(outputs), errMsg, status, id)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	return nil
}

func (s *Store) ListRunsForSwarm(swarmID string) ([]Run, error) {
	rows, err := s.db.Query(`
		SELECT id, swarm_id, routine_version_id, user_id, status, inputs, outputs, error, started_at, completed_at
		FROM runs WHERE swarm_id = ? ORDER BY started_at`, swarmID)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r := Run{}
		var swarmIDCol, errMsg *string
		var inputs, outputs []byte
		if err := rows.Scan(&r.ID, &swarmIDCol, &r.RoutineVersionID, &r.UserID, &r.Status,
			&inputs, &outputs, &errMsg, &r.StartedAt, &r.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if swarmIDCol != nil {
			r.SwarmID = *swarmIDCol
		}
		if errMsg != nil {
			r.Error = *errMsg
		}
		r.Inputs = json.RawMessage(inputs)
		r.Outputs = json.RawMessage(outputs)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

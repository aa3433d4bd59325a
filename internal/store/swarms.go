package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// SwarmConfig is immutable after creation.
type SwarmConfig struct {
	Goal        string  `json:"goal"`
	Model       string  `json:"model,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	AutoApprove bool    `json:"auto_approve,omitempty"`
	MaxParallel int     `json:"max_parallel,omitempty"`
}

type TeamAgent struct {
	ID           string   `json:"id"`
	Role         string   `json:"role"`
	Capabilities []string `json:"capabilities,omitempty"`
}

type Team struct {
	Agents        []TeamAgent `json:"agents"`
	Capabilities  []string    `json:"capabilities,omitempty"`
	ActiveMembers int         `json:"active_members"`
}

// ResourceSnapshot tracks credits/tokens against a ceiling. Remaining is
// derived and never negative.
type ResourceSnapshot struct {
	Credits int64 `json:"credits"`
	Tokens  int64 `json:"tokens"`
}

type Resources struct {
	Allocated ResourceSnapshot `json:"allocated"`
	Consumed  ResourceSnapshot `json:"consumed"`
	Remaining ResourceSnapshot `json:"remaining"`
}

type Metrics struct {
	TasksCompleted     int64   `json:"tasks_completed"`
	TasksFailed        int64   `json:"tasks_failed"`
	AvgTaskDurationMs  int64   `json:"avg_task_duration_ms"`
	ResourceEfficiency float64 `json:"resource_efficiency"`
}

// Strategy is the plan selected during initialization.
type Strategy struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning,omitempty"`
}

type SwarmMetadata struct {
	UserID        string   `json:"user_id"`
	SchemaVersion int      `json:"schema_version"`
	Tags          []string `json:"tags,omitempty"`
}

// Swarm is the durable record for one unit of goal-directed work. Version
// backs optimistic concurrency: every UpdateSwarm bumps it and rejects
// writers holding a stale copy.
type Swarm struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	State     string        `json:"state"`
	UserID    string        `json:"user_id"`
	Config    SwarmConfig   `json:"config"`
	Strategy  Strategy      `json:"strategy"`
	Team      Team          `json:"team"`
	Resources Resources     `json:"resources"`
	Metrics   Metrics       `json:"metrics"`
	Metadata  SwarmMetadata `json:"metadata"`
	Version   int64         `json:"version"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

const swarmColumns = `id, name, state, user_id, config, strategy, team, resources, metrics, metadata, version, created_at, updated_at`

func scanSwarm(scanner interface {
	Scan(dest ...any) error
}) (*Swarm, error) {
	sw := &Swarm{}
	var cfg, strategy, team, resources, metrics, metadata []byte
	err := scanner.Scan(&sw.ID, &sw.Name, &sw.State, &sw.UserID, &cfg, &strategy,
		&team, &resources, &metrics, &metadata, &sw.Version, &sw.CreatedAt, &sw.UpdatedAt)
	if err != nil {
		return nil, err
	}
	cols := []struct {
		dst any
		src []byte
	}{
		{&sw.Config, cfg}, {&sw.Strategy, strategy}, {&sw.Team, team},
		{&sw.Resources, resources}, {&sw.Metrics, metrics}, {&sw.Metadata, metadata},
	}
	for _, c := range cols {
		if len(c.src) == 0 {
			continue
		}
		if err := json.Unmarshal(c.src, c.dst); err != nil {
			return nil, fmt.Errorf("decode swarm column: %w", err)
		}
	}
	return sw, nil
}

func marshalSwarmColumns(sw *Swarm) (cfg, strategy, team, resources, metrics, metadata []byte, err error) {
	if cfg, err = json.Marshal(sw.Config); err != nil {
		return
	}
	if strategy, err = json.Marshal(sw.Strategy); err != nil {
		return
	}
	if team, err = json.Marshal(sw.Team); err != nil {
		return
	}
	if resources, err = json.Marshal(sw.Resources); err != nil {
		return
	}
	if metrics, err = json.Marshal(sw.Metrics); err != nil {
		return
	}
	metadata, err = json.Marshal(sw.Metadata)
	return
}

// CreateSwarm inserts a new record in state UNINITIALIZED at version 1.
func (s *Store) CreateSwarm(sw *Swarm) error {
	if sw.State == "" {
		sw.State = "UNINITIALIZED"
	}
	sw.Version = 1

	cfg, strategy, team, resources, metrics, metadata, err := marshalSwarmColumns(sw)
	if err != nil {
		return fmt.Errorf("encode swarm: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO swarms (id, name, state, user_id, config, strategy, team, resources, metrics, metadata, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sw.ID, sw.Name, sw.State, sw.UserID, cfg, strategy, team, resources, metrics, metadata, sw.Version)
	if err != nil {
		return fmt.Errorf("create swarm: %w", err)
	}
	return nil
}

// GetSwarm returns nil when the id is unknown.
func (s *Store) GetSwarm(id string) (*Swarm, error) {
	row := s.db.QueryRow(`SELECT `+swarmColumns+` FROM swarms WHERE id = ?`, id)
	sw, err := scanSwarm(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get swarm: %w", err)
	}
	return sw, nil
}

// UpdateSwarm writes the full record guarded by the version the caller read.
// A concurrent writer makes the version check fail with ErrStaleWrite. On
// success the in-memory version is bumped to match the row.
func (s *Store) UpdateSwarm(sw *Swarm) error {
	cfg, strategy, team, resources, metrics, metadata, err := marshalSwarmColumns(sw)
	if err != nil {
		return fmt.Errorf("encode swarm: %w", err)
	}

	res, err := s.db.Exec(`
		UPDATE swarms
		SET name = ?, state = ?, config = ?, strategy = ?, team = ?, resources = ?, metrics = ?, metadata = ?,
		    version = version + 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND version = ?`,
		sw.Name, sw.State, cfg, strategy, team, resources, metrics, metadata, sw.ID, sw.Version)
	if err != nil {
		return fmt.Errorf("update swarm: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update swarm: %w", err)
	}
	if n == 0 {
		return ErrStaleWrite
	}
	sw.Version++
	return nil
}

func (s *Store) DeleteSwarm(id string) error {
	_, err := s.db.Exec(`DELETE FROM swarms WHERE id = ?`, id)
	return err
}

// GetSwarmState reads just the lifecycle state. Returns "" for unknown ids.
func (s *Store) GetSwarmState(id string) (string, error) {
	var state string
	err := s.db.QueryRow(`SELECT state FROM swarms WHERE id = ?`, id).Scan(&state)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get swarm state: %w", err)
	}
	return state, nil
}

// UpdateSwarmState transitions state with the same optimistic guard as
// UpdateSwarm, additionally pinning the expected source state.
func (s *Store) UpdateSwarmState(id, from, to string, version int64) error {
	res, err := s.db.Exec(`
		UPDATE swarms
		SET state = ?, version = version + 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND state = ? AND version = ?`,
		to, id, from, version)
	if err != nil {
		return fmt.Errorf("update swarm state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update swarm state: %w", err)
	}
	if n == 0 {
		return ErrStaleWrite
	}
	return nil
}

func (s *Store) GetTeam(swarmID string) (*Team, error) {
	var raw []byte
	err := s.db.QueryRow(`SELECT team FROM swarms WHERE id = ?`, swarmID).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get team: %w", err)
	}
	team := &Team{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, team); err != nil {
			return nil, fmt.Errorf("decode team: %w", err)
		}
	}
	return team, nil
}

func (s *Store) UpdateTeam(swarmID string, team *Team) error {
	raw, err := json.Marshal(team)
	if err != nil {
		return fmt.Errorf("encode team: %w", err)
	}
	_, err = s.db.Exec(`
		UPDATE swarms SET team = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		raw, swarmID)
	if err != nil {
		return fmt.Errorf("update team: %w", err)
	}
	return nil
}

func (s *Store) ListActiveSwarms() ([]Swarm, error) {
	return s.querySwarms(`SELECT `+swarmColumns+` FROM swarms
		WHERE state NOT IN ('COMPLETED', 'FAILED', 'CANCELED') ORDER BY created_at`)
}

func (s *Store) GetSwarmsByState(state string) ([]Swarm, error) {
	return s.querySwarms(`SELECT `+swarmColumns+` FROM swarms WHERE state = ? ORDER BY created_at`, state)
}

func (s *Store) GetSwarmsByUser(userID string) ([]Swarm, error) {
	return s.querySwarms(`SELECT `+swarmColumns+` FROM swarms WHERE user_id = ? ORDER BY created_at`, userID)
}

func (s *Store) querySwarms(query string, args ...any) ([]Swarm, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query swarms: %w", err)
	}
	defer rows.Close()

	var swarms []Swarm
	for rows.Next() {
		sw, err := scanSwarm(rows)
		if err != nil {
			return nil, fmt.Errorf("scan swarm: %w", err)
		}
		swarms = append(swarms, *sw)
	}
	return swarms, rows.Err()
}

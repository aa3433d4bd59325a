package run

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"swarmd/internal/event"
	"swarmd/internal/store"
	"swarmd/internal/swarm"
	"swarmd/internal/task"
)

// Service dispatches routine runs: it validates the routine version, persists
// the run, and enqueues a RunTask for a worker to pick up.
type Service struct {
	store *store.Store
	queue *task.Queue
	bus   event.Bus
}

func NewService(st *store.Store, q *task.Queue, bus event.Bus) *Service {
	return &Service{store: st, queue: q, bus: bus}
}

type StartRequest struct {
	RunID            string          `json:"run_id,omitempty"`
	SwarmID          string          `json:"swarm_id,omitempty"`
	RoutineVersionID string          `json:"routine_version_id"`
	RunFrom          string          `json:"run_from,omitempty"`
	Inputs           json.RawMessage `json:"inputs,omitempty"`
	UserID           string          `json:"user_id"`
}

// Start validates and enqueues a run. A missing routine version is the one
// hard precondition; everything after the enqueue happens asynchronously.
func (s *Service) Start(ctx context.Context, req StartRequest) (string, error) {
	rv, err := s.store.GetRoutineVersion(req.RoutineVersionID)
	if err != nil {
		return "", fmt.Errorf("load routine version: %w", err)
	}
	if rv == nil {
		return "", fmt.Errorf("Routine version not found: %s: %w", req.RoutineVersionID, swarm.ErrNotFound)
	}

	runID := req.RunID
	if runID == "" {
		runID = uuid.New().String()
	}

	if err := s.store.SaveRun(&store.Run{
		ID:               runID,
		SwarmID:          req.SwarmID,
		RoutineVersionID: req.RoutineVersionID,
		UserID:           req.UserID,
		Status:           task.StatusScheduled,
		Inputs:           req.Inputs,
	}); err != nil {
		return "", err
	}

	payload, err := json.Marshal(task.RunPayload{
		RunID:            runID,
		RoutineVersionID: req.RoutineVersionID,
		RunFrom:          req.RunFrom,
		Inputs:           req.Inputs,
	})
	if err != nil {
		return "", fmt.Errorf("marshal run payload: %w", err)
	}

	if _, err := s.queue.Enqueue(task.Envelope{
		Kind:    task.KindRun,
		UserID:  req.UserID,
		Payload: payload,
	}); err != nil {
		return "", err
	}

	if s.bus != nil {
		_ = s.bus.Publish(event.New("run.scheduled", "run-service", runID, map[string]any{
			"run_id":             runID,
			"routine_version_id": req.RoutineVersionID,
		}))
	}

	slog.Info("run scheduled", "run", runID, "routine_version", req.RoutineVersionID)
	return runID, nil
}

// Status mirrors the swarm status contract: absence is an Errors entry, not
// an error return.
func (s *Service) Status(runID string) swarm.StatusResult {
	r, err := s.store.GetRun(runID)
	if err != nil {
		return swarm.StatusResult{Errors: []string{err.Error()}}
	}
	if r == nil {
		return swarm.StatusResult{Errors: []string{fmt.Sprintf("Run %s not found", runID)}}
	}
	return swarm.StatusResult{Status: r.Status}
}

package swarm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"swarmd/internal/event"
	"swarmd/internal/store"
)

// Machine is the single authority transitioning swarms through their
// lifecycle. All swarm mutation flows through here; nothing else writes the
// state column. Operations on the same swarm are serialized by the store's
// optimistic version check, operations on different swarms run in parallel.
type Machine struct {
	store     *store.Store
	bus       event.Bus
	strategy  StrategyEngine
	resources ResourceManager
	team      TeamManager
	monitor   MetacognitiveMonitor
}

func NewMachine(st *store.Store, bus event.Bus, se StrategyEngine, rm ResourceManager, tm TeamManager, mon MetacognitiveMonitor) *Machine {
	return &Machine{
		store:     st,
		bus:       bus,
		strategy:  se,
		resources: rm,
		team:      tm,
		monitor:   mon,
	}
}

// Start moves a swarm from UNINITIALIZED to INITIALIZING. The write is a
// single version-guarded state update, so callers never observe partial
// state: either the transition happened or it did not. When two callers race,
// the store serializes them and the loser sees ErrInvalidState.
func (m *Machine) Start(ctx context.Context, swarmID string) error {
	sw, err := m.store.GetSwarm(swarmID)
	if err != nil {
		return fmt.Errorf("load swarm: %w", err)
	}
	if sw == nil {
		return fmt.Errorf("swarm %s: %w", swarmID, ErrNotFound)
	}
	if sw.State != StateUninitialized {
		return fmt.Errorf("swarm %s already started: %w", swarmID, ErrInvalidState)
	}

	err = m.store.UpdateSwarmState(swarmID, StateUninitialized, StateInitializing, sw.Version)
	if errors.Is(err, store.ErrStaleWrite) {
		// Lost the race. If the state moved, this is the concurrent-start
		// case; report it as an invalid state, not a retryable conflict.
		state, serr := m.store.GetSwarmState(swarmID)
		if serr == nil && state != StateUninitialized {
			return fmt.Errorf("swarm %s already started: %w", swarmID, ErrInvalidState)
		}
		return err
	}
	if err != nil {
		return fmt.Errorf("persist transition: %w", err)
	}

	m.publishTransition(swarmID, StateUninitialized, StateInitializing)
	return nil
}

// Initialize runs the three-step setup: strategy selection, resource
// allocation, team formation. Each step's result is merged into the record
// before the next step runs; any failure moves the swarm to FAILED and
// surfaces the error. No silent partial initialization.
func (m *Machine) Initialize(ctx context.Context, swarmID string) error {
	sw, err := m.store.GetSwarm(swarmID)
	if err != nil {
		return fmt.Errorf("load swarm: %w", err)
	}
	if sw == nil {
		return fmt.Errorf("swarm %s: %w", swarmID, ErrNotFound)
	}
	if sw.State != StateInitializing {
		return fmt.Errorf("swarm %s is %s, expected %s: %w", swarmID, sw.State, StateInitializing, ErrInvalidState)
	}

	strategy, err := m.strategy.SelectStrategy(ctx, sw.Config.Goal)
	if err != nil {
		return m.failInitialization(swarmID, sw, fmt.Errorf("select strategy: %w", err))
	}
	sw.Strategy = strategy
	if err := m.store.UpdateSwarm(sw); err != nil {
		return m.failInitialization(swarmID, sw, fmt.Errorf("persist strategy: %w", err))
	}

	resources, err := m.resources.AllocateInitialResources(ctx, sw)
	if err != nil {
		return m.failInitialization(swarmID, sw, fmt.Errorf("allocate resources: %w", err))
	}
	sw.Resources = resources
	if err := m.store.UpdateSwarm(sw); err != nil {
		return m.failInitialization(swarmID, sw, fmt.Errorf("persist resources: %w", err))
	}

	team, err := m.team.FormTeam(ctx, sw, strategy)
	if err != nil {
		return m.failInitialization(swarmID, sw, fmt.Errorf("form team: %w", err))
	}
	sw.Team = team
	sw.State = StateActive
	if err := m.store.UpdateSwarm(sw); err != nil {
		return m.failInitialization(swarmID, sw, fmt.Errorf("persist team: %w", err))
	}

	if m.monitor != nil {
		if err := m.monitor.StartMonitoring(ctx, swarmID); err != nil {
			slog.Warn("monitor start failed", "swarm", swarmID, "error", err)
		}
	}

	m.publishTransition(swarmID, StateInitializing, StateActive)
	slog.Info("swarm initialized", "swarm", swarmID, "strategy", strategy.Name, "agents", team.ActiveMembers)
	return nil
}

func (m *Machine) failInitialization(swarmID string, sw *store.Swarm, cause error) error {
	from := sw.State
	fresh, err := m.store.GetSwarm(swarmID)
	if err == nil && fresh != nil && !Terminal(fresh.State) {
		if serr := m.store.UpdateSwarmState(swarmID, fresh.State, StateFailed, fresh.Version); serr != nil {
			slog.Error("failed to mark swarm failed", "swarm", swarmID, "error", serr)
		} else {
			m.publishTransition(swarmID, from, StateFailed)
		}
	}
	return cause
}

// Pause suspends an active swarm.
func (m *Machine) Pause(ctx context.Context, swarmID string) error {
	return m.transition(swarmID, StateActive, StatePaused)
}

// Resume reactivates a paused swarm.
func (m *Machine) Resume(ctx context.Context, swarmID string) error {
	return m.transition(swarmID, StatePaused, StateActive)
}

// Complete drives an active swarm through COMPLETING to COMPLETED, releasing
// its resources and rolling up metrics.
func (m *Machine) Complete(ctx context.Context, swarmID string, metrics store.Metrics) error {
	if err := m.transition(swarmID, StateActive, StateCompleting); err != nil {
		return err
	}

	sw, err := m.store.GetSwarm(swarmID)
	if err != nil {
		return fmt.Errorf("reload swarm %s: %w", swarmID, err)
	}
	if sw == nil {
		return fmt.Errorf("swarm %s: %w", swarmID, ErrNotFound)
	}
	sw.Metrics = metrics
	sw.State = StateCompleted
	if err := m.store.UpdateSwarm(sw); err != nil {
		return fmt.Errorf("persist completion: %w", err)
	}

	if err := m.resources.ReleaseResources(ctx, swarmID); err != nil {
		slog.Warn("resource release failed", "swarm", swarmID, "error", err)
	}
	if m.monitor != nil {
		m.monitor.StopMonitoring(swarmID)
	}

	m.publishTransition(swarmID, StateCompleting, StateCompleted)
	return nil
}

// CancelResult is the structured outcome of a cancel request.
type CancelResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// Cancel moves any non-terminal swarm to CANCELED and releases its
// resources. Idempotent: canceling an already-terminal swarm returns a
// structured no-op, never an error.
func (m *Machine) Cancel(ctx context.Context, swarmID, requestedBy, reason string) (CancelResult, error) {
	sw, err := m.store.GetSwarm(swarmID)
	if err != nil {
		return CancelResult{}, fmt.Errorf("load swarm: %w", err)
	}
	if sw == nil {
		return CancelResult{}, fmt.Errorf("swarm %s: %w", swarmID, ErrNotFound)
	}
	if Terminal(sw.State) {
		return CancelResult{
			Success: false,
			Message: fmt.Sprintf("swarm %s is already %s", swarmID, sw.State),
		}, nil
	}

	if err := m.store.UpdateSwarmState(swarmID, sw.State, StateCanceled, sw.Version); err != nil {
		if errors.Is(err, store.ErrStaleWrite) {
			// Re-check: a concurrent cancel or completion got there first.
			state, serr := m.store.GetSwarmState(swarmID)
			if serr == nil && Terminal(state) {
				return CancelResult{
					Success: false,
					Message: fmt.Sprintf("swarm %s is already %s", swarmID, state),
				}, nil
			}
		}
		return CancelResult{}, fmt.Errorf("persist cancel: %w", err)
	}

	if err := m.resources.ReleaseResources(ctx, swarmID); err != nil {
		slog.Warn("resource release failed", "swarm", swarmID, "error", err)
	}
	if m.monitor != nil {
		m.monitor.StopMonitoring(swarmID)
	}

	m.publishTransition(swarmID, sw.State, StateCanceled)
	m.publish(event.New("swarm.canceled", "swarm-machine", swarmID, map[string]any{
		"swarm_id":     swarmID,
		"requested_by": requestedBy,
		"reason":       reason,
	}))

	slog.Info("swarm canceled", "swarm", swarmID, "requested_by", requestedBy, "reason", reason)
	return CancelResult{Success: true}, nil
}

// StatusResult is the poll-safe status shape: absence is reported through
// Errors, never through a thrown error.
type StatusResult struct {
	Status string   `json:"status,omitempty"`
	Errors []string `json:"errors,omitempty"`
}

// GetStatus never returns an error; polling loops stay simple under eventual
// consistency.
func (m *Machine) GetStatus(swarmID string) StatusResult {
	sw, err := m.store.GetSwarm(swarmID)
	if err != nil {
		return StatusResult{Errors: []string{err.Error()}}
	}
	if sw == nil {
		return StatusResult{Errors: []string{fmt.Sprintf("Swarm %s not found", swarmID)}}
	}
	return StatusResult{Status: sw.State}
}

// transition performs a single version-guarded edge move.
func (m *Machine) transition(swarmID, from, to string) error {
	sw, err := m.store.GetSwarm(swarmID)
	if err != nil {
		return fmt.Errorf("load swarm: %w", err)
	}
	if sw == nil {
		return fmt.Errorf("swarm %s: %w", swarmID, ErrNotFound)
	}
	if sw.State != from || !CanTransition(from, to) {
		return fmt.Errorf("swarm %s is %s, cannot move to %s: %w", swarmID, sw.State, to, ErrInvalidState)
	}

	if err := m.store.UpdateSwarmState(swarmID, from, to, sw.Version); err != nil {
		return fmt.Errorf("persist transition: %w", err)
	}

	m.publishTransition(swarmID, from, to)
	return nil
}

func (m *Machine) publishTransition(swarmID, from, to string) {
	m.publish(event.New("swarm.state_transition", "swarm-machine", swarmID, map[string]any{
		"swarm_id": swarmID,
		"from":     from,
		"to":       to,
	}))
}

func (m *Machine) publish(ev event.Event) {
	if m.bus == nil {
		return
	}
	if err := m.bus.Publish(ev); err != nil {
		slog.Warn("event publish failed", "type", ev.Type, "error", err)
	}
}

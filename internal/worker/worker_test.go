package worker

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"swarmd/internal/config"
	"swarmd/internal/event"
	"swarmd/internal/store"
	"swarmd/internal/swarm"
	"swarmd/internal/task"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(config.StoreConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestHandlers(t *testing.T) (*Handlers, *store.Store, *event.MemoryBus) {
	t.Helper()
	st := newTestStore(t)
	bus := event.NewMemoryBus()
	t.Cleanup(func() { bus.Close() })

	m := swarm.NewMachine(st, bus,
		swarm.HeuristicStrategyEngine{},
		swarm.NewCeilingResourceManager(),
		swarm.RosterTeamManager{},
		nil)

	h := NewHandlers(st, m, nil, nil, nil, nil, bus, t.TempDir())
	return h, st, bus
}

func TestBackoff(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{8, 2 * time.Minute},
		{20, 2 * time.Minute},
	}
	for _, tc := range cases {
		if got := backoff(tc.attempt); got != tc.want {
			t.Errorf("backoff(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestHandleRunNoopSteps(t *testing.T) {
	h, st, bus := newTestHandlers(t)

	def, _ := json.Marshal(routineDefinition{Steps: []routineStep{
		{Name: "first", Type: "noop"},
		{Type: "noop"},
	}})
	_ = st.SaveRoutineVersion(&store.RoutineVersion{ID: "rv-1", RoutineID: "r-1", Version: "1.0.0", Definition: def})
	_ = st.SaveRun(&store.Run{ID: "run-1", RoutineVersionID: "rv-1", UserID: "u1"})

	completed := make(chan event.Event, 1)
	bus.Subscribe(func(ev event.Event) {
		if ev.Type == "run.completed" {
			completed <- ev
		}
	})

	payload, _ := json.Marshal(task.RunPayload{RunID: "run-1", RoutineVersionID: "rv-1"})
	env := task.Envelope{ID: "t-1", Kind: task.KindRun, Payload: payload}
	if err := h.Handle(context.Background(), env); err != nil {
		t.Fatalf("handle run: %v", err)
	}

	r, _ := st.GetRun("run-1")
	if r.Status != task.StatusCompleted {
		t.Errorf("expected Completed, got %s", r.Status)
	}

	var outputs map[string]string
	if err := json.Unmarshal(r.Outputs, &outputs); err != nil {
		t.Fatalf("decode outputs: %v", err)
	}
	if _, ok := outputs["first"]; !ok {
		t.Errorf("expected named step output, got %v", outputs)
	}
	if _, ok := outputs["step-2"]; !ok {
		t.Errorf("expected synthesized step name, got %v", outputs)
	}

	select {
	case <-completed:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for run.completed")
	}
}

func TestHandleRunUnknownStepType(t *testing.T) {
	h, st, _ := newTestHandlers(t)

	def, _ := json.Marshal(routineDefinition{Steps: []routineStep{{Name: "bad", Type: "teleport"}}})
	_ = st.SaveRoutineVersion(&store.RoutineVersion{ID: "rv-1", RoutineID: "r-1", Version: "1.0.0", Definition: def})
	_ = st.SaveRun(&store.Run{ID: "run-1", RoutineVersionID: "rv-1"})

	payload, _ := json.Marshal(task.RunPayload{RunID: "run-1", RoutineVersionID: "rv-1"})
	err := h.Handle(context.Background(), task.Envelope{ID: "t-1", Kind: task.KindRun, Payload: payload})
	if err == nil {
		t.Fatal("expected error for unknown step type")
	}

	r, _ := st.GetRun("run-1")
	if r.Status != task.StatusFailed {
		t.Errorf("expected Failed, got %s", r.Status)
	}
	if r.Error == "" {
		t.Error("expected error recorded on run")
	}
}

func TestHandleRunHonorsCancel(t *testing.T) {
	h, st, _ := newTestHandlers(t)

	def, _ := json.Marshal(routineDefinition{Steps: []routineStep{{Name: "only", Type: "noop"}}})
	_ = st.SaveRoutineVersion(&store.RoutineVersion{ID: "rv-1", RoutineID: "r-1", Version: "1.0.0", Definition: def})
	_ = st.SaveRun(&store.Run{ID: "run-1", RoutineVersionID: "rv-1"})

	// Cancel requested before the worker reaches the first checkpoint
	_ = st.SaveTask(&store.TaskRecord{ID: "t-1", Kind: string(task.KindRun), Payload: json.RawMessage(`{}`)})
	if ok, _ := st.RequestTaskCancel("t-1"); !ok {
		t.Fatal("cancel request refused")
	}

	payload, _ := json.Marshal(task.RunPayload{RunID: "run-1", RoutineVersionID: "rv-1"})
	if err := h.Handle(context.Background(), task.Envelope{ID: "t-1", Kind: task.KindRun, Payload: payload}); err != nil {
		t.Fatalf("canceled run must not error: %v", err)
	}

	r, _ := st.GetRun("run-1")
	if r.Status != task.StatusCanceled {
		t.Errorf("expected Canceled, got %s", r.Status)
	}
}

func TestHandleRunMissingRun(t *testing.T) {
	h, _, _ := newTestHandlers(t)

	payload, _ := json.Marshal(task.RunPayload{RunID: "ghost", RoutineVersionID: "rv-1"})
	err := h.Handle(context.Background(), task.Envelope{ID: "t-1", Kind: task.KindRun, Payload: payload})
	if !errors.Is(err, swarm.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestHandleSwarmExecution(t *testing.T) {
	h, st, _ := newTestHandlers(t)

	_ = st.CreateSwarm(&store.Swarm{
		ID:     "sw-1",
		Name:   "n",
		UserID: "u1",
		Config: store.SwarmConfig{Goal: "analyze the corpus", MaxParallel: 2},
	})

	payload, _ := json.Marshal(task.SwarmExecutionPayload{SwarmID: "sw-1"})
	env := task.Envelope{ID: "t-1", Kind: task.KindSwarmExecution, Payload: payload}
	if err := h.Handle(context.Background(), env); err != nil {
		t.Fatalf("swarm execution: %v", err)
	}

	state, _ := st.GetSwarmState("sw-1")
	if state != swarm.StateActive {
		t.Errorf("expected ACTIVE, got %s", state)
	}

	// Redelivery of the same task is a no-op once the swarm is active
	if err := h.Handle(context.Background(), env); err != nil {
		t.Fatalf("redelivered swarm execution must not error: %v", err)
	}
}

func TestHandleUnconfiguredCollaborators(t *testing.T) {
	h, _, _ := newTestHandlers(t)

	payload, _ := json.Marshal(task.EmailPayload{To: []string{"a@b"}, Subject: "s", Body: "b"})
	if err := h.Handle(context.Background(), task.Envelope{ID: "t-1", Kind: task.KindEmail, Payload: payload}); err == nil {
		t.Error("expected error without notifier")
	}

	payload, _ = json.Marshal(task.SandboxPayload{Command: []string{"true"}})
	if err := h.Handle(context.Background(), task.Envelope{ID: "t-2", Kind: task.KindSandbox, Payload: payload}); err == nil {
		t.Error("expected error without sandbox runner")
	}
}

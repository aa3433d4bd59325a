package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"swarmd/internal/breaker"
	"swarmd/internal/event"
	"swarmd/internal/llm"
	"swarmd/internal/notify"
	"swarmd/internal/sandbox"
	"swarmd/internal/store"
	"swarmd/internal/swarm"
	"swarmd/internal/task"
)

// Handlers holds the collaborators the per-kind task handlers dispatch to.
// Optional collaborators (sandbox, llm, notifier) may be nil; tasks needing
// them then fail without retry.
type Handlers struct {
	store     *store.Store
	machine   *swarm.Machine
	sandbox   *sandbox.Runner
	notifier  *notify.Notifier
	llm       *llm.Client
	breakers  *breaker.Registry
	bus       event.Bus
	exportDir string
}

func NewHandlers(st *store.Store, m *swarm.Machine, sb *sandbox.Runner, n *notify.Notifier, lc *llm.Client, br *breaker.Registry, bus event.Bus, exportDir string) *Handlers {
	return &Handlers{
		store:     st,
		machine:   m,
		sandbox:   sb,
		notifier:  n,
		llm:       lc,
		breakers:  br,
		bus:       bus,
		exportDir: exportDir,
	}
}

// complete calls the LLM behind its circuit breaker. A rejected call is
// transient: the task retries once the breaker admits probes again.
func (h *Handlers) complete(ctx context.Context, prompt, model string, temperature float64) (string, error) {
	cb := h.breakers.Get("llm", "complete", breaker.Config{})
	if err := cb.Allow(); err != nil {
		return "", fmt.Errorf("%w: %w", err, swarm.ErrTransient)
	}

	cctx, cancel := context.WithTimeout(ctx, cb.Timeout())
	defer cancel()

	text, err := h.llm.Complete(cctx, prompt, model, temperature)
	if err != nil {
		cb.RecordFailure()
		return "", err
	}
	cb.RecordSuccess()
	return text, nil
}

// Handle decodes the envelope and dispatches to the kind's handler.
func (h *Handlers) Handle(ctx context.Context, env task.Envelope) error {
	payload, err := task.DecodePayload(env)
	if err != nil {
		return err
	}

	switch p := payload.(type) {
	case *task.EmailPayload:
		if h.notifier == nil {
			return fmt.Errorf("email delivery is not configured")
		}
		return h.notifier.Email(ctx, env.UserID, p.To, p.Subject, p.Body)
	case *task.SMSPayload:
		if h.notifier == nil {
			return fmt.Errorf("sms delivery is not configured")
		}
		return h.notifier.SMS(ctx, env.UserID, p.To, p.Body)
	case *task.PushNotificationPayload:
		if h.notifier == nil {
			return fmt.Errorf("push delivery is not configured")
		}
		return h.notifier.Push(ctx, env.UserID, p.ChatID, p.Title, p.Body)
	case *task.NotificationCreatePayload:
		if h.notifier == nil {
			return fmt.Errorf("notifications are not configured")
		}
		return h.notifier.Create(env.UserID, p.Channel, p.Title, p.Body)
	case *task.SandboxPayload:
		return h.handleSandbox(ctx, env, p)
	case *task.RunPayload:
		return h.handleRun(ctx, env, p)
	case *task.SwarmExecutionPayload:
		return h.handleSwarmExecution(ctx, p)
	case *task.LLMCompletionPayload:
		return h.handleLLMCompletion(ctx, env, p)
	case *task.ExportUserDataPayload:
		return h.handleExport(ctx, env.UserID, p)
	case *task.ImportUserDataPayload:
		return h.handleImport(ctx, env.UserID, p)
	default:
		return fmt.Errorf("no handler for task kind %q", env.Kind)
	}
}

func (h *Handlers) handleSandbox(ctx context.Context, env task.Envelope, p *task.SandboxPayload) error {
	if h.sandbox == nil {
		return fmt.Errorf("sandbox execution is not configured")
	}

	res, err := h.sandbox.Run(ctx, p.Image, p.Command, p.Files)
	if err != nil {
		return fmt.Errorf("sandbox run: %w", err)
	}

	h.emit(event.New("sandbox.finished", "worker", env.ID, map[string]any{
		"task_id":   env.ID,
		"exit_code": res.ExitCode,
		"output":    res.Output,
	}))
	if res.ExitCode != 0 {
		return fmt.Errorf("sandbox exited with code %d", res.ExitCode)
	}
	return nil
}

// routineStep is one unit of a routine definition. Step types map onto the
// executors the worker carries.
type routineStep struct {
	Name        string            `json:"name"`
	Type        string            `json:"type"`
	Prompt      string            `json:"prompt,omitempty"`
	Model       string            `json:"model,omitempty"`
	Temperature float64           `json:"temperature,omitempty"`
	Image       string            `json:"image,omitempty"`
	Command     []string          `json:"command,omitempty"`
	Files       map[string]string `json:"files,omitempty"`
}

type routineDefinition struct {
	Steps []routineStep `json:"steps"`
}

// handleRun executes a routine run step by step. Cancellation is honored
// between steps: a Canceling task stops cleanly and the run is marked
// Canceled with the outputs gathered so far.
func (h *Handlers) handleRun(ctx context.Context, env task.Envelope, p *task.RunPayload) error {
	run, err := h.store.GetRun(p.RunID)
	if err != nil {
		return fmt.Errorf("load run: %w", err)
	}
	if run == nil {
		return fmt.Errorf("run %s: %w", p.RunID, swarm.ErrNotFound)
	}

	rv, err := h.store.GetRoutineVersion(p.RoutineVersionID)
	if err != nil {
		return fmt.Errorf("load routine version: %w", err)
	}
	if rv == nil {
		return fmt.Errorf("routine version %s: %w", p.RoutineVersionID, swarm.ErrNotFound)
	}

	var def routineDefinition
	if len(rv.Definition) > 0 {
		if err := json.Unmarshal(rv.Definition, &def); err != nil {
			return fmt.Errorf("decode routine definition: %w", err)
		}
	}

	if err := h.store.UpdateRun(p.RunID, task.StatusRunning, nil, ""); err != nil {
		return fmt.Errorf("mark run running: %w", err)
	}

	outputs := map[string]string{}
	for i, step := range def.Steps {
		if canceled, cerr := h.taskCanceling(env.ID); cerr == nil && canceled {
			out, _ := json.Marshal(outputs)
			_ = h.store.UpdateRun(p.RunID, task.StatusCanceled, out, "")
			return nil
		}

		name := step.Name
		if name == "" {
			name = fmt.Sprintf("step-%d", i+1)
		}

		out, err := h.runStep(ctx, step)
		if err != nil {
			partial, _ := json.Marshal(outputs)
			_ = h.store.UpdateRun(p.RunID, task.StatusFailed, partial, err.Error())
			return fmt.Errorf("run %s step %s: %w", p.RunID, name, err)
		}
		outputs[name] = out
	}

	out, err := json.Marshal(outputs)
	if err != nil {
		return fmt.Errorf("marshal run outputs: %w", err)
	}
	if err := h.store.UpdateRun(p.RunID, task.StatusCompleted, out, ""); err != nil {
		return fmt.Errorf("mark run completed: %w", err)
	}

	h.emit(event.New("run.completed", "worker", p.RunID, map[string]any{
		"run_id": p.RunID,
		"steps":  len(def.Steps),
	}))
	slog.Info("run completed", "run", p.RunID, "steps", len(def.Steps))
	return nil
}

func (h *Handlers) runStep(ctx context.Context, step routineStep) (string, error) {
	switch step.Type {
	case "llm":
		if h.llm == nil {
			return "", fmt.Errorf("llm execution is not configured")
		}
		return h.complete(ctx, step.Prompt, step.Model, step.Temperature)
	case "sandbox":
		if h.sandbox == nil {
			return "", fmt.Errorf("sandbox execution is not configured")
		}
		res, err := h.sandbox.Run(ctx, step.Image, step.Command, step.Files)
		if err != nil {
			return "", err
		}
		if res.ExitCode != 0 {
			return res.Output, fmt.Errorf("exited with code %d", res.ExitCode)
		}
		return res.Output, nil
	case "", "noop":
		return "", nil
	default:
		return "", fmt.Errorf("unknown step type %q", step.Type)
	}
}

// handleSwarmExecution drives a swarm from creation through initialization.
// Redeliveries are tolerated: a swarm that already moved past the expected
// state is treated as done, not as a failure.
func (h *Handlers) handleSwarmExecution(ctx context.Context, p *task.SwarmExecutionPayload) error {
	err := h.machine.Start(ctx, p.SwarmID)
	if err != nil && errors.Is(err, swarm.ErrInvalidState) {
		state, serr := h.store.GetSwarmState(p.SwarmID)
		if serr != nil {
			return serr
		}
		switch state {
		case swarm.StateInitializing:
			// Redelivered after a crash mid-initialization, pick it up.
		case swarm.StateActive:
			return nil
		default:
			return err
		}
	} else if err != nil {
		return err
	}

	return h.machine.Initialize(ctx, p.SwarmID)
}

func (h *Handlers) handleLLMCompletion(ctx context.Context, env task.Envelope, p *task.LLMCompletionPayload) error {
	if h.llm == nil {
		return fmt.Errorf("llm execution is not configured")
	}

	text, err := h.complete(ctx, p.Prompt, p.Model, p.Temperature)
	if err != nil {
		return err
	}

	h.emit(event.New("llm.completed", "worker", env.ID, map[string]any{
		"task_id": env.ID,
		"chat_id": p.ChatID,
		"text":    text,
	}))
	return nil
}

func (h *Handlers) taskCanceling(id string) (bool, error) {
	rec, err := h.store.GetTask(id)
	if err != nil || rec == nil {
		return false, err
	}
	return rec.Status == task.StatusCanceling, nil
}

func (h *Handlers) emit(ev event.Event) {
	if h.bus == nil {
		return
	}
	if err := h.bus.Publish(ev); err != nil {
		slog.Warn("event publish failed", "type", ev.Type, "error", err)
	}
}

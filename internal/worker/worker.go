package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"swarmd/internal/config"
	"swarmd/internal/event"
	"swarmd/internal/swarm"
	"swarmd/internal/task"
)

const fetchWait = 2 * time.Second

// Pool pulls tasks from the queue and drives them through their handlers.
// Each kind gets one consumer loop fetching batches of cfg.Concurrency;
// messages in a batch run in parallel.
type Pool struct {
	queue    *task.Queue
	handlers *Handlers
	bus      event.Bus
	cfg      config.QueueConfig
}

func NewPool(q *task.Queue, h *Handlers, bus event.Bus, cfg config.QueueConfig) *Pool {
	return &Pool{queue: q, handlers: h, bus: bus, cfg: cfg}
}

// Run blocks until ctx is canceled and all in-flight tasks have finished.
func (p *Pool) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, kind := range task.Kinds() {
		sub, err := p.queue.PullSubscribe(kind)
		if err != nil {
			return err
		}
		wg.Add(1)
		go func(kind task.Kind, sub *nats.Subscription) {
			defer wg.Done()
			p.consume(ctx, kind, sub)
		}(kind, sub)
	}

	slog.Info("worker pool started", "kinds", len(task.Kinds()), "concurrency", p.concurrency())
	wg.Wait()
	return nil
}

func (p *Pool) concurrency() int {
	if p.cfg.Concurrency > 0 {
		return p.cfg.Concurrency
	}
	return 1
}

func (p *Pool) consume(ctx context.Context, kind task.Kind, sub *nats.Subscription) {
	defer sub.Unsubscribe()

	for {
		if ctx.Err() != nil {
			return
		}

		msgs, err := sub.Fetch(p.concurrency(), nats.MaxWait(fetchWait))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			slog.Error("task fetch failed", "kind", kind, "error", err)
			time.Sleep(time.Second)
			continue
		}

		var batch sync.WaitGroup
		for _, msg := range msgs {
			batch.Add(1)
			go func(msg *nats.Msg) {
				defer batch.Done()
				p.process(ctx, msg)
			}(msg)
		}
		batch.Wait()
	}
}

// process runs one delivery through its handler and settles the message.
// Transient failures are redelivered with backoff until the retry budget is
// spent; everything else is terminal.
func (p *Pool) process(ctx context.Context, msg *nats.Msg) {
	var env task.Envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		slog.Error("malformed task envelope", "error", err)
		_ = msg.Term()
		return
	}

	st := p.queue.Store()
	rec, err := st.GetTask(env.ID)
	if err != nil {
		slog.Error("task lookup failed", "id", env.ID, "error", err)
		_ = msg.NakWithDelay(5 * time.Second)
		return
	}
	if rec != nil && rec.Status == task.StatusCanceling {
		_ = st.UpdateTaskStatus(env.ID, task.StatusCanceled, "")
		_ = msg.Ack()
		p.emit(event.New("task.canceled", "worker-pool", env.ID, map[string]any{
			"task_id": env.ID, "kind": string(env.Kind),
		}))
		return
	}

	attempts := 1
	if rec != nil {
		attempts = rec.Attempts + 1
	}
	_ = st.IncrementTaskAttempts(env.ID)
	_ = st.UpdateTaskStatus(env.ID, task.StatusRunning, "")

	tctx := ctx
	var cancel context.CancelFunc
	if p.cfg.TaskTimeout > 0 {
		tctx, cancel = context.WithTimeout(ctx, p.cfg.TaskTimeout)
	}
	err = p.handlers.Handle(tctx, env)
	if cancel != nil {
		cancel()
	}

	if err == nil {
		_ = st.UpdateTaskStatus(env.ID, task.StatusCompleted, "")
		_ = msg.Ack()
		return
	}

	// A cancel request observed mid-run wins over the handler's error.
	if fresh, ferr := st.GetTask(env.ID); ferr == nil && fresh != nil && fresh.Status == task.StatusCanceling {
		_ = st.UpdateTaskStatus(env.ID, task.StatusCanceled, "")
		_ = msg.Ack()
		return
	}

	if swarm.Retryable(err) && attempts <= p.cfg.MaxRetries {
		delay := backoff(attempts)
		slog.Warn("task failed, retrying", "id", env.ID, "kind", env.Kind,
			"attempt", attempts, "delay", delay, "error", err)
		_ = st.UpdateTaskStatus(env.ID, task.StatusScheduled, err.Error())
		_ = msg.NakWithDelay(delay)
		return
	}

	slog.Error("task failed", "id", env.ID, "kind", env.Kind, "attempts", attempts, "error", err)
	_ = st.UpdateTaskStatus(env.ID, task.StatusFailed, err.Error())
	_ = msg.Ack()
	p.emit(event.New("task.failed", "worker-pool", env.ID, map[string]any{
		"task_id":  env.ID,
		"kind":     string(env.Kind),
		"attempts": attempts,
		"error":    err.Error(),
	}))
}

// backoff doubles per attempt from one second, capped at two minutes.
func backoff(attempt int) time.Duration {
	d := time.Second << uint(attempt-1)
	if d > 2*time.Minute {
		return 2 * time.Minute
	}
	return d
}

func (p *Pool) emit(ev event.Event) {
	if p.bus == nil {
		return
	}
	if err := p.bus.Publish(ev); err != nil {
		slog.Warn("event publish failed", "type", ev.Type, "error", err)
	}
}

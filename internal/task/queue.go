package task

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"swarmd/internal/natsbus"
	"swarmd/internal/store"
)

// priorityHeader carries the RunFrom hint for consumers and diagnostics.
// JetStream delivers in publish order regardless of the header; nothing in
// the transport acts on it, and correctness never depends on it.
const priorityHeader = "Swarmd-Priority"

// Queue dispatches task envelopes through one durable JetStream stream per
// task kind. Envelopes are durable until acknowledged; the store carries the
// status row that callers poll.
type Queue struct {
	client *natsbus.Client
	js     nats.JetStreamContext
	store  *store.Store
}

func NewQueue(client *natsbus.Client, st *store.Store) (*Queue, error) {
	js, err := client.JetStream()
	if err != nil {
		return nil, err
	}

	q := &Queue{client: client, js: js, store: st}
	for _, kind := range Kinds() {
		if err := q.ensureStream(kind); err != nil {
			return nil, err
		}
	}
	return q, nil
}

func streamName(kind Kind) string {
	return "TASKS-" + strings.ToUpper(kind.QueueName())
}

func (q *Queue) ensureStream(kind Kind) error {
	name := streamName(kind)
	if _, err := q.js.StreamInfo(name); err == nil {
		return nil
	}
	_, err := q.js.AddStream(&nats.StreamConfig{
		Name:       name,
		Subjects:   []string{natsbus.TopicTaskQueue(kind.QueueName())},
		Storage:    nats.FileStorage,
		Duplicates: 2 * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", name, err)
	}
	return nil
}

// Enqueue persists the status row and publishes the envelope. The task id
// doubles as the broker message id, so re-publishing the same task is
// deduplicated: dispatch is idempotent.
func (q *Queue) Enqueue(env Envelope) (string, error) {
	if !env.Kind.Valid() {
		return "", fmt.Errorf("unknown task kind: %q", env.Kind)
	}
	if env.ID == "" {
		env.ID = uuid.New().String()
	}
	if env.EnqueuedAt.IsZero() {
		env.EnqueuedAt = time.Now().UTC()
	}

	if err := q.store.SaveTask(&store.TaskRecord{
		ID:      env.ID,
		Kind:    string(env.Kind),
		UserID:  env.UserID,
		Status:  StatusScheduled,
		Payload: env.Payload,
	}); err != nil {
		return "", err
	}

	data, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("marshal envelope: %w", err)
	}

	msg := nats.NewMsg(natsbus.TopicTaskQueue(env.Kind.QueueName()))
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, env.ID)
	if env.Kind == KindRun {
		var p RunPayload
		if err := json.Unmarshal(env.Payload, &p); err == nil && p.RunFrom != "" {
			msg.Header.Set(priorityHeader, p.RunFrom)
		}
	}

	if _, err := q.js.PublishMsg(msg); err != nil {
		return "", fmt.Errorf("publish task: %w", err)
	}

	slog.Info("task enqueued", "id", env.ID, "kind", env.Kind)
	return env.ID, nil
}

// PullSubscribe binds a durable pull consumer for one task kind. Each worker
// process shares the consumer, so tasks are delivered to exactly one puller
// at a time.
func (q *Queue) PullSubscribe(kind Kind) (*nats.Subscription, error) {
	durable := "worker-" + kind.QueueName()
	sub, err := q.js.PullSubscribe(
		natsbus.TopicTaskQueue(kind.QueueName()),
		durable,
		nats.BindStream(streamName(kind)),
		nats.AckExplicit(),
	)
	if err != nil {
		return nil, fmt.Errorf("pull subscribe %s: %w", kind, err)
	}
	return sub, nil
}

// CheckStatuses returns the last known status per id without blocking.
func (q *Queue) CheckStatuses(ids []string, kind Kind) ([]store.TaskStatus, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown task kind: %q", kind)
	}
	return q.store.GetTaskStatuses(ids, string(kind))
}

// Cancel requests cancellation. Advisory: the worker observes the Canceling
// status at its next safe checkpoint and finalizes to Canceled.
func (q *Queue) Cancel(id string, kind Kind) (bool, error) {
	if !kind.Valid() {
		return false, fmt.Errorf("unknown task kind: %q", kind)
	}
	return q.store.RequestTaskCancel(id)
}

// Store exposes the status backing store to workers.
func (q *Queue) Store() *store.Store {
	return q.store
}

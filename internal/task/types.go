package task

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Kind discriminates task payloads. The set is closed: decoding rejects
// anything not listed here.
type Kind string

const (
	KindEmail              Kind = "email"
	KindExportUserData     Kind = "export-user-data"
	KindImportUserData     Kind = "import-user-data"
	KindLLMCompletion      Kind = "llm-completion"
	KindSwarmExecution     Kind = "swarm-execution"
	KindPushNotification   Kind = "push-notification"
	KindRun                Kind = "run"
	KindSandbox            Kind = "sandbox"
	KindSMS                Kind = "sms"
	KindNotificationCreate Kind = "notification-create"
)

// Kinds lists every valid task kind, in dispatch order.
func Kinds() []Kind {
	return []Kind{
		KindEmail, KindExportUserData, KindImportUserData, KindLLMCompletion,
		KindSwarmExecution, KindPushNotification, KindRun, KindSandbox,
		KindSMS, KindNotificationCreate,
	}
}

// Valid reports whether k names a known task kind.
func (k Kind) Valid() bool {
	for _, known := range Kinds() {
		if k == known {
			return true
		}
	}
	return false
}

// QueueName derives the broker queue identity from the kind. Characters the
// broker's naming rules reject are normalized to hyphens.
func (k Kind) QueueName() string {
	var b strings.Builder
	for _, r := range strings.ToLower(string(k)) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			b.WriteRune(r)
		} else {
			b.WriteRune('-')
		}
	}
	return b.String()
}

// Task statuses. Scheduled → Running → {Completed | Failed | Canceling → Canceled}.
const (
	StatusScheduled = "Scheduled"
	StatusRunning   = "Running"
	StatusCompleted = "Completed"
	StatusFailed    = "Failed"
	StatusCanceling = "Canceling"
	StatusCanceled  = "Canceled"
)

// Envelope is the wire form of a task: immutable after enqueue apart from
// the store-side status.
type Envelope struct {
	ID         string          `json:"id"`
	Kind       Kind            `json:"kind"`
	UserID     string          `json:"user_id"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	Payload    json.RawMessage `json:"payload"`
}

type EmailPayload struct {
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Body    string   `json:"body"`
}

type ExportUserDataPayload struct {
	RequestID string `json:"request_id"`
}

type ImportUserDataPayload struct {
	RequestID string `json:"request_id"`
	Source    string `json:"source"`
}

type LLMCompletionPayload struct {
	ChatID      string  `json:"chat_id,omitempty"`
	Prompt      string  `json:"prompt"`
	Model       string  `json:"model,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

type SwarmExecutionPayload struct {
	SwarmID string `json:"swarm_id"`
}

type PushNotificationPayload struct {
	ChatID int64  `json:"chat_id"`
	Title  string `json:"title,omitempty"`
	Body   string `json:"body"`
}

// RunPayload carries the run dispatch. RunFrom is a priority hint attached
// to the envelope header; the transport ignores it, so correctness never
// depends on it.
type RunPayload struct {
	RunID            string          `json:"run_id"`
	RoutineVersionID string          `json:"routine_version_id"`
	RunFrom          string          `json:"run_from,omitempty"`
	Inputs           json.RawMessage `json:"inputs,omitempty"`
}

type SandboxPayload struct {
	Image   string            `json:"image,omitempty"`
	Command []string          `json:"command"`
	Files   map[string]string `json:"files,omitempty"`
}

type SMSPayload struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

type NotificationCreatePayload struct {
	Channel string `json:"channel"`
	Title   string `json:"title,omitempty"`
	Body    string `json:"body"`
}

// DecodePayload decodes an envelope's payload into its concrete type,
// rejecting unknown kinds at decode time rather than at field access.
func DecodePayload(env Envelope) (any, error) {
	var dst any
	switch env.Kind {
	case KindEmail:
		dst = &EmailPayload{}
	case KindExportUserData:
		dst = &ExportUserDataPayload{}
	case KindImportUserData:
		dst = &ImportUserDataPayload{}
	case KindLLMCompletion:
		dst = &LLMCompletionPayload{}
	case KindSwarmExecution:
		dst = &SwarmExecutionPayload{}
	case KindPushNotification:
		dst = &PushNotificationPayload{}
	case KindRun:
		dst = &RunPayload{}
	case KindSandbox:
		dst = &SandboxPayload{}
	case KindSMS:
		dst = &SMSPayload{}
	case KindNotificationCreate:
		dst = &NotificationCreatePayload{}
	default:
		return nil, fmt.Errorf("unknown task kind: %q", env.Kind)
	}
	if err := json.Unmarshal(env.Payload, dst); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", env.Kind, err)
	}
	return dst, nil
}

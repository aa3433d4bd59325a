package natsbus

import "fmt"

// Topic patterns for NATS pub/sub communication.

func TopicEvents(eventType string) string {
	return fmt.Sprintf("events.%s", eventType)
}

func TopicSwarmEvents(swarmID string) string {
	return fmt.Sprintf("events.swarm.%s", swarmID)
}

func TopicTaskQueue(queue string) string {
	return fmt.Sprintf("tasks.%s", queue)
}

const (
	TopicEventsAll = "events.>"

	// Durable event stream for the at-least-once bus variant.
	EventStreamName    = "SWARMD_EVENTS"
	EventStreamSubject = "events.>"
)

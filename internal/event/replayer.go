package event

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// Replayer re-publishes a historical batch of events onto a bus, preserving
// the original relative timing scaled by Speed. Speed 2.0 replays twice as
// fast; Speed 0 means "as fast as possible".
type Replayer struct {
	Bus   Bus
	Speed float64
}

func NewReplayer(bus Bus, speed float64) *Replayer {
	return &Replayer{Bus: bus, Speed: speed}
}

func (r *Replayer) Replay(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}

	batch := make([]Event, len(events))
	copy(batch, events)
	sort.Slice(batch, func(a, b int) bool {
		return batch[a].Timestamp.Before(batch[b].Timestamp)
	})

	prev := batch[0].Timestamp
	for _, ev := range batch {
		if r.Speed > 0 {
			gap := ev.Timestamp.Sub(prev)
			if gap > 0 {
				wait := time.Duration(float64(gap) / r.Speed)
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(wait):
				}
			}
		}
		prev = ev.Timestamp

		if err := r.Bus.Publish(ev); err != nil {
			return fmt.Errorf("replay publish %s: %w", ev.ID, err)
		}
	}
	return nil
}

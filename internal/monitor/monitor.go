package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"swarmd/internal/config"
	"swarmd/internal/event"
	"swarmd/internal/store"
)

// Monitor is the metacognitive observer: it periodically sweeps the swarms
// it has been asked to watch and publishes observations. It only ever emits
// events; acting on them (tuning breakers, reconfiguring swarms) is the job
// of external listeners, never the monitor itself.
type Monitor struct {
	store *store.Store
	bus   event.Bus
	cfg   config.MonitorConfig
	cron  *gronx.Gronx

	mu      sync.Mutex
	watched map[string]bool
}

func New(st *store.Store, bus event.Bus, cfg config.MonitorConfig) *Monitor {
	return &Monitor{
		store:   st,
		bus:     bus,
		cfg:     cfg,
		cron:    gronx.New(),
		watched: make(map[string]bool),
	}
}

// StartMonitoring registers a swarm for sweeps.
func (m *Monitor) StartMonitoring(_ context.Context, swarmID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watched[swarmID] = true
	return nil
}

// StopMonitoring drops a swarm from the sweep set.
func (m *Monitor) StopMonitoring(swarmID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.watched, swarmID)
}

// Run ticks once a minute and sweeps when the cron schedule is due.
func (m *Monitor) Run(ctx context.Context) {
	if !m.cfg.Enabled {
		return
	}
	schedule := m.cfg.Schedule
	if schedule == "" || !m.cron.IsValid(schedule) {
		slog.Warn("invalid monitor schedule, using every 5 minutes", "schedule", schedule)
		schedule = "*/5 * * * *"
	}

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	slog.Info("monitor started", "schedule", schedule)
	for {
		select {
		case <-ctx.Done():
			slog.Info("monitor stopped")
			return
		case <-ticker.C:
			due, err := m.cron.IsDue(schedule, time.Now())
			if err != nil || !due {
				continue
			}
			m.sweep()
		}
	}
}

func (m *Monitor) sweep() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.watched))
	for id := range m.watched {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		sw, err := m.store.GetSwarm(id)
		if err != nil {
			slog.Error("monitor sweep read failed", "swarm", id, "error", err)
			continue
		}
		if sw == nil {
			m.StopMonitoring(id)
			continue
		}

		observation := map[string]any{
			"swarm_id":        id,
			"state":           sw.State,
			"tasks_completed": sw.Metrics.TasksCompleted,
			"tasks_failed":    sw.Metrics.TasksFailed,
			"remaining":       sw.Resources.Remaining,
		}

		// Starved or failing swarms get a flagged observation so external
		// agents can intervene.
		if sw.Resources.Remaining.Credits <= 0 || sw.Metrics.TasksFailed > sw.Metrics.TasksCompleted {
			observation["attention"] = true
		}

		_ = m.bus.Publish(event.New("monitor.observation", "metacognitive-monitor", id, observation))
	}
}

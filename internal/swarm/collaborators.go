package swarm

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"swarmd/internal/store"
)

// Collaborator contracts. Each verb is consumed exactly once per relevant
// state transition; implementations live behind these interfaces so the
// machine never depends on their internals.

type StrategyEngine interface {
	SelectStrategy(ctx context.Context, goal string) (store.Strategy, error)
}

type ResourceManager interface {
	AllocateInitialResources(ctx context.Context, sw *store.Swarm) (store.Resources, error)
	ReleaseResources(ctx context.Context, swarmID string) error
}

type TeamManager interface {
	FormTeam(ctx context.Context, sw *store.Swarm, strategy store.Strategy) (store.Team, error)
}

type MetacognitiveMonitor interface {
	StartMonitoring(ctx context.Context, swarmID string) error
	StopMonitoring(swarmID string)
}

// HeuristicStrategyEngine picks a strategy from goal keywords. Good enough
// to run the gateway standalone; deployments swap in smarter engines.
type HeuristicStrategyEngine struct{}

func (HeuristicStrategyEngine) SelectStrategy(_ context.Context, goal string) (store.Strategy, error) {
	if strings.TrimSpace(goal) == "" {
		return store.Strategy{}, fmt.Errorf("goal is empty")
	}

	lower := strings.ToLower(goal)
	switch {
	case strings.Contains(lower, "research") || strings.Contains(lower, "analyze"):
		return store.Strategy{
			Name:       "research-pipeline",
			Confidence: 0.8,
			Reasoning:  "goal mentions research or analysis",
		}, nil
	case strings.Contains(lower, "review"):
		return store.Strategy{
			Name:       "review-board",
			Confidence: 0.75,
			Reasoning:  "goal mentions review",
		}, nil
	default:
		return store.Strategy{
			Name:       "divide-and-conquer",
			Confidence: 0.6,
			Reasoning:  "no specialized pattern matched",
		}, nil
	}
}

// CeilingResourceManager grants the configured allocation and refuses
// anything beyond the per-swarm ceilings.
type CeilingResourceManager struct {
	MaxCredits int64
	MaxTokens  int64
}

func NewCeilingResourceManager() *CeilingResourceManager {
	return &CeilingResourceManager{
		MaxCredits: 1000,
		MaxTokens:  2_000_000,
	}
}

func (m *CeilingResourceManager) AllocateInitialResources(_ context.Context, sw *store.Swarm) (store.Resources, error) {
	credits := m.MaxCredits
	tokens := m.MaxTokens
	if sw.Config.MaxParallel > 0 && sw.Config.MaxParallel < 4 {
		// Smaller teams get a proportionally smaller budget.
		credits = credits / int64(5-sw.Config.MaxParallel)
		tokens = tokens / int64(5-sw.Config.MaxParallel)
	}
	if credits > m.MaxCredits || tokens > m.MaxTokens {
		return store.Resources{}, fmt.Errorf("allocate %d credits: %w", credits, ErrResourceExhausted)
	}

	alloc := store.ResourceSnapshot{Credits: credits, Tokens: tokens}
	return store.Resources{
		Allocated: alloc,
		Consumed:  store.ResourceSnapshot{},
		Remaining: alloc,
	}, nil
}

func (m *CeilingResourceManager) ReleaseResources(_ context.Context, _ string) error {
	return nil
}

// RosterTeamManager forms a fixed roster per strategy, capped by the swarm's
// parallelism limit.
type RosterTeamManager struct{}

var strategyRoles = map[string][]string{
	"research-pipeline":  {"researcher", "summarizer", "critic"},
	"review-board":       {"reviewer", "reviewer", "arbiter"},
	"divide-and-conquer": {"planner", "executor", "executor", "verifier"},
}

func (RosterTeamManager) FormTeam(_ context.Context, sw *store.Swarm, strategy store.Strategy) (store.Team, error) {
	roles, ok := strategyRoles[strategy.Name]
	if !ok {
		return store.Team{}, fmt.Errorf("no roster for strategy %q", strategy.Name)
	}

	limit := sw.Config.MaxParallel
	if limit <= 0 || limit > len(roles) {
		limit = len(roles)
	}

	team := store.Team{}
	seen := make(map[string]bool)
	for _, role := range roles[:limit] {
		agent := store.TeamAgent{
			ID:           uuid.New().String(),
			Role:         role,
			Capabilities: roleCapabilities(role),
		}
		team.Agents = append(team.Agents, agent)
		for _, c := range agent.Capabilities {
			if !seen[c] {
				seen[c] = true
				team.Capabilities = append(team.Capabilities, c)
			}
		}
	}
	team.ActiveMembers = len(team.Agents)
	return team, nil
}

func roleCapabilities(role string) []string {
	switch role {
	case "researcher":
		return []string{"search", "summarize"}
	case "summarizer":
		return []string{"summarize"}
	case "critic", "reviewer", "arbiter", "verifier":
		return []string{"evaluate"}
	case "planner":
		return []string{"plan"}
	case "executor":
		return []string{"execute", "code"}
	default:
		return nil
	}
}

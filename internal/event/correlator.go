package event

import "sort"

// Correlator groups events that belong to the same causal history. Events
// share a group when they carry the same correlation id, or transitively when
// one event's causation id points at another's id.
type Correlator struct{}

// Group partitions events into causally related batches, each sorted by
// timestamp. Group order is by the earliest event in each group.
func (Correlator) Group(events []Event) [][]Event {
	if len(events) == 0 {
		return nil
	}

	// Union-find over event indices
	parent := make([]int, len(events))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		if parent[i] != i {
			parent[i] = find(parent[i])
		}
		return parent[i]
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[rb] = ra
		}
	}

	byCorrelation := make(map[string]int)
	byID := make(map[string]int)
	for i, ev := range events {
		if ev.CorrelationID != "" {
			if j, ok := byCorrelation[ev.CorrelationID]; ok {
				union(i, j)
			} else {
				byCorrelation[ev.CorrelationID] = i
			}
		}
		byID[ev.ID] = i
	}
	for i, ev := range events {
		if ev.CausationID == "" {
			continue
		}
		if j, ok := byID[ev.CausationID]; ok {
			union(i, j)
		}
	}

	grouped := make(map[int][]Event)
	for i, ev := range events {
		root := find(i)
		grouped[root] = append(grouped[root], ev)
	}

	out := make([][]Event, 0, len(grouped))
	for _, g := range grouped {
		sort.Slice(g, func(a, b int) bool {
			return g[a].Timestamp.Before(g[b].Timestamp)
		})
		out = append(out, g)
	}
	sort.Slice(out, func(a, b int) bool {
		return out[a][0].Timestamp.Before(out[b][0].Timestamp)
	})
	return out
}

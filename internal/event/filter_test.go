package event

import "testing"

func filterEvent() Event {
	ev := New("swarm.state_transition", "swarm-machine", "corr-1", map[string]any{
		"swarm_id": "sw-123",
		"from":     "ACTIVE",
		"to":       "PAUSED",
	})
	ev.ID = "ev-1"
	return ev
}

func TestMatchesOperators(t *testing.T) {
	ev := filterEvent()

	cases := []struct {
		name string
		pred Predicate
		want bool
	}{
		{"equals hit", Predicate{Field: "type", Operator: "equals", Value: "swarm.state_transition"}, true},
		{"equals miss", Predicate{Field: "type", Operator: "equals", Value: "run.scheduled"}, false},
		{"contains", Predicate{Field: "type", Operator: "contains", Value: "state"}, true},
		{"startsWith", Predicate{Field: "type", Operator: "startsWith", Value: "swarm."}, true},
		{"endsWith", Predicate{Field: "type", Operator: "endsWith", Value: "transition"}, true},
		{"in hit", Predicate{Field: "payload.to", Operator: "in", Value: []any{"PAUSED", "ACTIVE"}}, true},
		{"in miss", Predicate{Field: "payload.to", Operator: "in", Value: []any{"COMPLETED"}}, false},
		{"in string slice", Predicate{Field: "payload.to", Operator: "in", Value: []string{"PAUSED"}}, true},
		{"regex hit", Predicate{Field: "payload.swarm_id", Operator: "regex", Value: `^sw-\d+$`}, true},
		{"regex invalid pattern", Predicate{Field: "payload.swarm_id", Operator: "regex", Value: `(`}, false},
		{"unknown operator never matches", Predicate{Field: "type", Operator: "matchesFuzzy", Value: "swarm"}, false},
		{"unresolvable path never matches", Predicate{Field: "payload.missing.deep", Operator: "equals", Value: "x"}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Matches(ev, tc.pred); got != tc.want {
				t.Errorf("Matches(%+v) = %v, want %v", tc.pred, got, tc.want)
			}
		})
	}
}

func TestMatchesDottedPaths(t *testing.T) {
	ev := filterEvent()

	if !Matches(ev, Predicate{Field: "source.component", Operator: "equals", Value: "swarm-machine"}) {
		t.Error("expected source.component to resolve")
	}
	if !Matches(ev, Predicate{Field: "payload.swarm_id", Operator: "equals", Value: "sw-123"}) {
		t.Error("expected payload.swarm_id to resolve")
	}
}

func TestMatchesAll(t *testing.T) {
	ev := filterEvent()

	preds := []Predicate{
		{Field: "type", Operator: "startsWith", Value: "swarm."},
		{Field: "payload.from", Operator: "equals", Value: "ACTIVE"},
	}
	if !MatchesAll(ev, preds) {
		t.Error("expected all predicates to match")
	}

	preds = append(preds, Predicate{Field: "payload.to", Operator: "equals", Value: "COMPLETED"})
	if MatchesAll(ev, preds) {
		t.Error("expected predicate set to miss")
	}

	if !MatchesAll(ev, nil) {
		t.Error("empty predicate set should match everything")
	}
}

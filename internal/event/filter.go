package event

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Predicate matches a single field of an event, addressed by a dotted path
// like "source.component" or "payload.swarm_id".
type Predicate struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    any    `json:"value"`
}

// Matches evaluates a predicate against an event. Unknown operators and
// unresolvable field paths never match.
func Matches(ev Event, p Predicate) bool {
	val, ok := resolveField(ev, p.Field)
	if !ok {
		return false
	}

	switch p.Operator {
	case "equals":
		return stringify(val) == stringify(p.Value)
	case "contains":
		return strings.Contains(stringify(val), stringify(p.Value))
	case "startsWith":
		return strings.HasPrefix(stringify(val), stringify(p.Value))
	case "endsWith":
		return strings.HasSuffix(stringify(val), stringify(p.Value))
	case "in":
		list, ok := p.Value.([]any)
		if !ok {
			if strs, sok := p.Value.([]string); sok {
				for _, s := range strs {
					list = append(list, s)
				}
				ok = true
			}
		}
		if !ok {
			return false
		}
		got := stringify(val)
		for _, candidate := range list {
			if stringify(candidate) == got {
				return true
			}
		}
		return false
	case "regex":
		re, err := regexp.Compile(stringify(p.Value))
		if err != nil {
			return false
		}
		return re.MatchString(stringify(val))
	default:
		return false
	}
}

// MatchesAll reports whether every predicate matches.
func MatchesAll(ev Event, preds []Predicate) bool {
	for _, p := range preds {
		if !Matches(ev, p) {
			return false
		}
	}
	return true
}

// resolveField walks a dotted path through the event's JSON shape.
func resolveField(ev Event, path string) (any, bool) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, false
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, false
	}

	var cur any = m
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}

package cache

import (
	"strconv"
	"strings"
)

// Strategy selects how a tag is invalidated.
type Strategy string

const (
	// StrategyMax lets readers see the old entry for a bounded while.
	StrategyMax       Strategy = "max"
	StrategyImmediate Strategy = "immediate"
	StrategyUpdate    Strategy = "update"
)

// Normalize maps the empty and unknown strategies to StrategyMax.
func (s Strategy) Normalize() Strategy {
	switch s {
	case StrategyImmediate, StrategyUpdate:
		return s
	default:
		return StrategyMax
	}
}

// Immediate reports whether entries must be gone on the next read.
func (s Strategy) Immediate() bool {
	return s == StrategyImmediate || s == StrategyUpdate
}

// Target names one tag to invalidate.
type Target struct {
	Tag      string   `json:"tag"`
	Strategy Strategy `json:"strategy,omitempty"`
}

// Tags resolves the targets to invalidate after a successful response.
// Implementations must be free of side effects.
type Tags interface {
	Resolve(payload any) []Target
}

// StaticTags is a fixed target list.
type StaticTags []Target

func (s StaticTags) Resolve(any) []Target { return s }

// Tag is shorthand for targets with the default strategy.
func Tag(names ...string) StaticTags {
	out := make(StaticTags, 0, len(names))
	for _, n := range names {
		out = append(out, Target{Tag: n, Strategy: StrategyMax})
	}
	return out
}

// TagsFunc derives targets from the response payload.
type TagsFunc func(payload any) []Target

func (f TagsFunc) Resolve(payload any) []Target { return f(payload) }

// Join concatenates several Tags into one.
func Join(tags ...Tags) Tags {
	return TagsFunc(func(payload any) []Target {
		var out []Target
		for _, t := range tags {
			if t != nil {
				out = append(out, t.Resolve(payload)...)
			}
		}
		return out
	})
}

// ResourceTag builds "<prefix>:<id>" from a string or numeric field of an
// object payload. It returns "" when the field is missing.
func ResourceTag(prefix string, payload any, field string) string {
	obj, ok := payload.(map[string]any)
	if !ok {
		return ""
	}

	var id string
	switch v := obj[field].(type) {
	case string:
		id = strings.TrimSpace(v)
	case float64:
		id = strconv.FormatFloat(v, 'f', -1, 64)
	}
	if id == "" {
		return ""
	}
	return prefix + ":" + id
}

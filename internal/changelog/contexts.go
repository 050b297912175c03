package changelog

import (
	"sort"
	"strings"
)

// ExecutionContexts is the set of context labels active for a run.
//
// The zero value matches every changeset.
type ExecutionContexts struct {
	labels map[string]struct{}
}

// AllContexts matches every changeset.
var AllContexts = ExecutionContexts{}

// NewExecutionContexts returns a context set holding the given labels.
// Blank labels are ignored; an empty set matches every changeset.
func NewExecutionContexts(labels ...string) ExecutionContexts {
	set := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		set[l] = struct{}{}
	}
	if len(set) == 0 {
		return AllContexts
	}
	return ExecutionContexts{labels: set}
}

// ParseContexts parses a comma-separated context list such as "dev, test".
func ParseContexts(s string) ExecutionContexts {
	return NewExecutionContexts(strings.Split(s, ",")...)
}

// Matches reports whether cs applies to a run with these contexts.
// A changeset that declares no contexts always applies, as does every
// changeset when no contexts are configured.
func (c ExecutionContexts) Matches(cs Changeset) bool {
	if len(c.labels) == 0 || len(cs.contexts) == 0 {
		return true
	}
	for _, l := range cs.contexts {
		if _, ok := c.labels[l]; ok {
			return true
		}
	}
	return false
}

// Labels returns the configured labels in sorted order.
func (c ExecutionContexts) Labels() []string {
	out := make([]string, 0, len(c.labels))
	for l := range c.labels {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

// String returns the sorted labels joined by commas, or "*" for all contexts.
func (c ExecutionContexts) String() string {
	if len(c.labels) == 0 {
		return "*"
	}
	return strings.Join(c.Labels(), ",")
}

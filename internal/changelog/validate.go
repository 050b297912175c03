package changelog

import (
	"fmt"
	"strings"
)

// ValidationError lists every problem found in a declared changelog.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 1 {
		return "invalid changelog: " + e.Problems[0]
	}
	return fmt.Sprintf("invalid changelog (%d problems):\n  - %s",
		len(e.Problems), strings.Join(e.Problems, "\n  - "))
}

// Validate checks a declared changelog.
//
// Checks:
//   - (id, author) pairs are unique
//   - condition trees are complete (no nil children, no blank leaves)
//
// Returns nil or a *ValidationError carrying all problems found.
func Validate(changesets []Changeset) error {
	var problems []string
	seen := make(map[Key]int, len(changesets))

	for i, cs := range changesets {
		if first, ok := seen[cs.Key()]; ok {
			problems = append(problems, fmt.Sprintf("changeset #%d duplicates changeset #%d (%s)", i+1, first+1, cs.Key()))
		} else {
			seen[cs.Key()] = i
		}
		if pre := cs.Precondition(); pre != nil {
			if _, ok := policyNames[pre.Policy]; !ok {
				problems = append(problems, fmt.Sprintf("%s: unknown precondition policy %d", cs.Key(), pre.Policy))
			}
			problems = append(problems, checkTree(cs.Key(), "precondition", pre.Query)...)
		}
		if post := cs.Postcondition(); post != nil {
			problems = append(problems, checkTree(cs.Key(), "postcondition", post.Query)...)
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

func checkTree(key Key, where string, q Query) []string {
	switch n := q.(type) {
	case nil:
		return []string{fmt.Sprintf("%s: %s has an empty query", key, where)}
	case Simple:
		if strings.TrimSpace(n.Text) == "" {
			return []string{fmt.Sprintf("%s: %s has a blank query", key, where)}
		}
		return nil
	case And:
		return append(checkTree(key, where, n.Left), checkTree(key, where, n.Right)...)
	case Or:
		return append(checkTree(key, where, n.Left), checkTree(key, where, n.Right)...)
	default:
		return []string{fmt.Sprintf("%s: %s has unsupported query node %T", key, where, q)}
	}
}

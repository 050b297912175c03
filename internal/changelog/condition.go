package changelog

import (
	"fmt"
	"strings"
)

// Policy decides what happens to a changeset whose precondition is not met.
type Policy int

const (
	// PolicyFail aborts the whole run.
	PolicyFail Policy = iota
	// PolicyContinue skips the changeset without recording it.
	PolicyContinue
	// PolicyMarkAsExecuted records the changeset without executing its queries.
	PolicyMarkAsExecuted
)

var policyNames = map[Policy]string{
	PolicyFail:           "FAIL",
	PolicyContinue:       "CONTINUE",
	PolicyMarkAsExecuted: "MARK_AS_EXECUTED",
}

// String returns the changelog spelling of the policy.
func (p Policy) String() string {
	if name, ok := policyNames[p]; ok {
		return name
	}
	return fmt.Sprintf("Policy(%d)", int(p))
}

// ParsePolicy parses the changelog spelling of a policy. Matching is case
// insensitive and accepts dashes for underscores.
func ParsePolicy(s string) (Policy, error) {
	norm := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_"))
	for p, name := range policyNames {
		if name == norm {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown precondition policy %q (want FAIL, CONTINUE or MARK_AS_EXECUTED)", s)
}

// Precondition gates the execution of a changeset.
type Precondition struct {
	Policy Policy
	Query  Query
}

// Postcondition makes a changeset re-apply its queries while it holds.
type Postcondition struct {
	Query Query
}

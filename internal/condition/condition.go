// Package condition evaluates precondition and postcondition trees against
// the target store, and renders the same trees as text.
//
// Evaluate and Render walk the tree with the same recursive shape, so the
// condition printed in a dry run is exactly the condition that executes.
//
// And and Or nodes always evaluate both children. There is no
// short-circuit: a leaf query may have side effects the changelog author
// relies on.
package condition

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/graphmig/internal/changelog"
)

// Executor runs a single condition query against the target.
//
// The query must produce exactly one row with one boolean column. Any other
// shape is a configuration error reported by the executor.
type Executor interface {
	QueryBool(ctx context.Context, query string) (bool, error)
}

// UnsupportedQueryError reports a query node type this package does not
// know. It signals a programming error, not a target failure.
type UnsupportedQueryError struct {
	Node changelog.Query
}

func (e *UnsupportedQueryError) Error() string {
	return fmt.Sprintf("UNSUPPORTED_QUERY: unsupported condition node %T", e.Node)
}

// IsUnsupportedQuery returns true if err is or wraps an UnsupportedQueryError.
func IsUnsupportedQuery(err error) bool {
	var uq *UnsupportedQueryError
	return errors.As(err, &uq)
}

// Evaluate evaluates q against the target through exec.
//
// A nil q is vacuously true. Errors from exec are returned as is, wrapped
// with the failing leaf's text.
func Evaluate(ctx context.Context, exec Executor, q changelog.Query) (bool, error) {
	switch n := q.(type) {
	case nil:
		return true, nil
	case changelog.Simple:
		ok, err := exec.QueryBool(ctx, n.Text)
		if err != nil {
			return false, fmt.Errorf("evaluate %q: %w", n.Text, err)
		}
		return ok, nil
	case changelog.And:
		left, right, err := evaluatePair(ctx, exec, n.Left, n.Right)
		if err != nil {
			return false, err
		}
		return n.Combine(left, right), nil
	case changelog.Or:
		left, right, err := evaluatePair(ctx, exec, n.Left, n.Right)
		if err != nil {
			return false, err
		}
		return n.Combine(left, right), nil
	default:
		return false, &UnsupportedQueryError{Node: q}
	}
}

// evaluatePair evaluates both operands, left first.
func evaluatePair(ctx context.Context, exec Executor, l, r changelog.Query) (bool, bool, error) {
	left, err := Evaluate(ctx, exec, l)
	if err != nil {
		return false, false, err
	}
	right, err := Evaluate(ctx, exec, r)
	if err != nil {
		return false, false, err
	}
	return left, right, nil
}

// Render returns the composed text of q, e.g. ((a) AND ((b) OR (c))).
// A nil q renders as the empty string.
func Render(q changelog.Query) (string, error) {
	switch n := q.(type) {
	case nil:
		return "", nil
	case changelog.Simple:
		return n.Text, nil
	case changelog.And:
		return renderPair(n.Operator(), n.Left, n.Right)
	case changelog.Or:
		return renderPair(n.Operator(), n.Left, n.Right)
	default:
		return "", &UnsupportedQueryError{Node: q}
	}
}

func renderPair(op string, l, r changelog.Query) (string, error) {
	left, err := Render(l)
	if err != nil {
		return "", err
	}
	right, err := Render(r)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("((%s) %s (%s))", left, op, right), nil
}

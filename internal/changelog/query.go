package changelog

// Query is a node of a condition tree.
//
// This is a sealed interface - only Simple, And and Or implement it.
// Evaluators and printers switch over the three variants; anything else is a
// programming error.
type Query interface {
	queryNode() // Marker method - seals interface to this package
}

// Simple is a leaf query whose literal text is sent to the target as is.
type Simple struct {
	Text string
}

func (Simple) queryNode() {}

// And is the conjunction of exactly two child queries.
// Renders as ((left) AND (right)).
type And struct {
	Left  Query
	Right Query
}

func (And) queryNode() {}

// Or is the disjunction of exactly two child queries.
// Renders as ((left) OR (right)).
type Or struct {
	Left  Query
	Right Query
}

func (Or) queryNode() {}

// Operator returns the composition keyword of a binary node.
func (And) Operator() string { return "AND" }

// Operator returns the composition keyword of a binary node.
func (Or) Operator() string { return "OR" }

// Combine applies the node's boolean rule to already evaluated children.
func (And) Combine(left, right bool) bool { return left && right }

// Combine applies the node's boolean rule to already evaluated children.
func (Or) Combine(left, right bool) bool { return left || right }

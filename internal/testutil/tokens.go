package testutil

import (
	"fmt"
	"sync/atomic"
)

// SequentialTokens generates predictable lock tokens: prefix-1, prefix-2, ...
//
// Use it in place of random UUID tokens when a test asserts on markers.
type SequentialTokens struct {
	prefix string
	n      atomic.Int64
}

// NewSequentialTokens creates a generator. An empty prefix means "token".
func NewSequentialTokens(prefix string) *SequentialTokens {
	if prefix == "" {
		prefix = "token"
	}
	return &SequentialTokens{prefix: prefix}
}

// Generate returns the next token.
func (g *SequentialTokens) Generate() string {
	return fmt.Sprintf("%s-%d", g.prefix, g.n.Add(1))
}

package writer

import (
	"context"

	"github.com/roach88/graphmig/internal/changelog"
)

// positions assigns history positions during one Write call.
//
// Seeded with the last persisted position, it continues the total order
// across runs, so reading history back by position recovers execution
// order without relying on wall-clock time. A changeset that already has
// a history entry keeps the position it was first recorded at.
type positions struct {
	last int64
}

// assign returns the position cs is recorded at in tx.
func (p *positions) assign(ctx context.Context, tx Tx, key changelog.Key) (int64, error) {
	pos, err := tx.ExecutedPosition(ctx, key)
	if err != nil {
		return 0, err
	}
	if pos > 0 {
		return pos, nil
	}
	p.last++
	return p.last, nil
}

package writer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/graphmig/internal/changelog"
)

func TestPositions_Assign(t *testing.T) {
	recordedKey := changelog.Key{ID: "old", Author: "a"}
	tx := &fakeTx{target: &fakeTarget{history: []recorded{{key: recordedKey, position: 3}}}}
	p := &positions{last: 10}
	ctx := context.Background()

	got, err := p.assign(ctx, tx, changelog.Key{ID: "new", Author: "a"})
	require.NoError(t, err)
	assert.Equal(t, int64(11), got)

	got, err = p.assign(ctx, tx, recordedKey)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got, "recorded changesets keep their position")

	got, err = p.assign(ctx, tx, changelog.Key{ID: "newer", Author: "a"})
	require.NoError(t, err)
	assert.Equal(t, int64(12), got, "no position is skipped")
}

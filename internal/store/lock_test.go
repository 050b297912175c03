package store

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/graphmig/internal/lock"
)

func testMarker(token string) lock.Marker {
	return lock.Marker{
		Token:    token,
		Owner:    "test-host (127.0.0.2)",
		PID:      42,
		LockedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestInsertMarker_SingleSlot(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	exists, err := s.MarkerExists(ctx)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, s.InsertMarker(ctx, testMarker("one")))

	err = s.InsertMarker(ctx, testMarker("two"))
	assert.ErrorIs(t, err, lock.ErrMarkerExists)

	m, err := s.ReadMarker(ctx)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, testMarker("one"), *m)
}

func TestDeleteMarker_OnlyOwnToken(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertMarker(ctx, testMarker("mine")))

	require.NoError(t, s.DeleteMarker(ctx, "someone-else"))
	exists, err := s.MarkerExists(ctx)
	require.NoError(t, err)
	assert.True(t, exists, "foreign token must not delete the marker")

	require.NoError(t, s.DeleteMarker(ctx, "mine"))
	exists, err = s.MarkerExists(ctx)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestForceReleaseLock(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	m, err := s.ForceReleaseLock(ctx)
	require.NoError(t, err)
	assert.Nil(t, m, "free lock releases nothing")

	require.NoError(t, s.InsertMarker(ctx, testMarker("stale")))
	m, err = s.ForceReleaseLock(ctx)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "stale", m.Token)

	m, err = s.ReadMarker(ctx)
	require.NoError(t, err)
	assert.Nil(t, m)
}

// TestLock_SeparateHandles runs lock managers with distinct local keys over
// two handles on one file, the way two processes would. Mutual exclusion
// then rests on the marker alone.
func TestLock_SeparateHandles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	handles := make([]*Store, 2)
	for i := range handles {
		s, err := Open(path)
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		handles[i] = s
	}

	const perHandle = 3
	var (
		active    atomic.Int32
		maxActive atomic.Int32
		completed atomic.Int32
		wg        sync.WaitGroup
	)
	for i, s := range handles {
		mgr := lock.New(t.Name()+"/"+string(rune('a'+i)), s,
			lock.WithPollInterval(5*time.Millisecond),
			lock.WithTimeout(10*time.Second),
			lock.WithReleaseHook(lock.NoReleaseHook),
		)
		for j := 0; j < perHandle; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := mgr.Run(context.Background(), func(ctx context.Context) error {
					n := active.Add(1)
					for {
						cur := maxActive.Load()
						if n <= cur || maxActive.CompareAndSwap(cur, n) {
							break
						}
					}
					time.Sleep(2 * time.Millisecond)
					active.Add(-1)
					completed.Add(1)
					return nil
				})
				assert.NoError(t, err)
			}()
		}
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxActive.Load())
	assert.Equal(t, int32(2*perHandle), completed.Load())

	exists, err := handles[0].MarkerExists(context.Background())
	require.NoError(t, err)
	assert.False(t, exists, "marker must be gone after all runs")
}

func TestLock_ReleaseHookInsideOpenTransaction(t *testing.T) {
	s := createTestStore(t)

	var hookRelease func()
	m := lock.New(s.Key(), s,
		lock.WithReleaseHook(func(release func()) func() {
			hookRelease = release
			return func() {}
		}),
		lock.WithPollInterval(5*time.Millisecond),
	)

	var took time.Duration
	err := m.Run(context.Background(), func(ctx context.Context) error {
		tx, err := s.Begin(ctx)
		require.NoError(t, err)
		require.NoError(t, tx.Exec(ctx, "CREATE TABLE interrupted (x INTEGER)"))

		// The transaction owns the only connection when the signal arrives.
		start := time.Now()
		hookRelease()
		took = time.Since(start)

		exists, err := s.MarkerExists(context.Background())
		require.NoError(t, err)
		assert.False(t, exists, "marker must be gone once the hook returns")

		assert.Error(t, tx.Commit(), "the interrupted transaction must not commit")
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, took, 2*time.Second)

	var n int
	require.NoError(t, s.DB().QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'interrupted'",
	).Scan(&n))
	assert.Zero(t, n, "the open transaction must roll back")
}

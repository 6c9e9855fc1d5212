package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recoverFunc func(ctx context.Context, channel, threadTS string) (Recovered, bool)

func (f recoverFunc) Recover(ctx context.Context, channel, threadTS string) (Recovered, bool) {
	return f(ctx, channel, threadTS)
}

func TestGetOrCreateConcurrentFirstMessages(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()

	const n = 50
	results := make([]*Info, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = store.GetOrCreate(ctx, "C1", "100.0", "/srv/api")
		}(i)
	}
	wg.Wait()

	require.Equal(t, 1, store.Len())
	for _, info := range results {
		assert.Same(t, results[0], info)
	}
}

func TestGetOrCreateProbesRecovererOnce(t *testing.T) {
	var probes int32
	rec := recoverFunc(func(ctx context.Context, channel, threadTS string) (Recovered, bool) {
		atomic.AddInt32(&probes, 1)
		return Recovered{SessionID: "abc123", Alias: "quiet-neon-fox"}, true
	})

	store := NewStore(rec)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			store.GetOrCreate(ctx, "C1", "100.0", "/srv/api")
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&probes))

	info := store.GetOrCreate(ctx, "C1", "100.0", "/srv/api")
	assert.Equal(t, "abc123", info.SessionID())
	assert.Equal(t, "quiet-neon-fox", info.Alias())
}

func TestGetOrCreateNoMatchStartsFresh(t *testing.T) {
	rec := recoverFunc(func(ctx context.Context, channel, threadTS string) (Recovered, bool) {
		return Recovered{}, false
	})

	store := NewStore(rec)
	info := store.GetOrCreate(context.Background(), "C1", "100.0", "/srv/api")
	assert.Empty(t, info.SessionID())
}

func TestBindSessionSetOnce(t *testing.T) {
	store := NewStore(nil)
	info := store.GetOrCreate(context.Background(), "C1", "100.0", "/srv/api")

	assert.True(t, info.BindSession("first"))
	assert.Equal(t, "first", info.SessionID())

	// A different identifier never overwrites the bound one.
	assert.False(t, info.BindSession("second"))
	assert.Equal(t, "first", info.SessionID())

	// Rebinding the same identifier is fine.
	assert.True(t, info.BindSession("first"))

	info.ClearSession()
	assert.True(t, info.BindSession("second"))
}

func TestLockSerializesTurnsInOrder(t *testing.T) {
	store := NewStore(nil)
	info := store.GetOrCreate(context.Background(), "C1", "100.0", "/srv/api")

	var mu sync.Mutex
	var active int
	var maxActive int
	var order []int

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			require.NoError(t, info.Acquire(context.Background()))
			mu.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			order = append(order, i)
			mu.Unlock()

			time.Sleep(5 * time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
			info.Release()
		}(i)
		// Stagger arrivals so queue order is deterministic.
		time.Sleep(2 * time.Millisecond)
	}
	wg.Wait()

	assert.Equal(t, 1, maxActive, "turn lock hold intervals must never overlap")
	assert.Len(t, order, 5)
}

func TestUnrelatedConversationsRunInParallel(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()

	a := store.GetOrCreate(ctx, "C1", "100.0", "/srv/api")
	b := store.GetOrCreate(ctx, "C2", "200.0", "/srv/web")

	require.NoError(t, a.Acquire(ctx))
	defer a.Release()

	// B's turn must not be blocked by A's held lock.
	acquireCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, b.Acquire(acquireCtx))
	b.Release()
}

func TestAcquireCancellable(t *testing.T) {
	store := NewStore(nil)
	info := store.GetOrCreate(context.Background(), "C1", "100.0", "/srv/api")

	require.NoError(t, info.Acquire(context.Background()))
	defer info.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := info.Acquire(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSweepIdleEvictsOnlyIdleEntries(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()

	stale := store.GetOrCreate(ctx, "C1", "100.0", "/srv/api")
	fresh := store.GetOrCreate(ctx, "C2", "200.0", "/srv/web")

	stale.mu.Lock()
	stale.lastActivity = time.Now().Add(-48 * time.Hour)
	stale.mu.Unlock()

	evicted := store.SweepIdle(24 * time.Hour)
	assert.Equal(t, []string{"C1:100.0"}, evicted)
	assert.Equal(t, 1, store.Len())

	_, ok := store.Get("C2", "200.0")
	assert.True(t, ok)
	_ = fresh
}

func TestSweepIdleSkipsLockedEntries(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()

	busy := store.GetOrCreate(ctx, "C1", "100.0", "/srv/api")
	busy.mu.Lock()
	busy.lastActivity = time.Now().Add(-48 * time.Hour)
	busy.mu.Unlock()

	require.NoError(t, busy.Acquire(ctx))
	evicted := store.SweepIdle(24 * time.Hour)
	assert.Empty(t, evicted, "a locked entry is never evicted mid-turn")
	assert.Equal(t, 1, store.Len())
	busy.Release()

	evicted = store.SweepIdle(24 * time.Hour)
	assert.Len(t, evicted, 1)
	assert.Equal(t, 0, store.Len())
}

func TestRemove(t *testing.T) {
	store := NewStore(nil)
	store.GetOrCreate(context.Background(), "C1", "100.0", "/srv/api")
	store.Remove("C1", "100.0")
	assert.Equal(t, 0, store.Len())
}

func TestReleaseWithoutAcquirePanics(t *testing.T) {
	store := NewStore(nil)
	info := store.GetOrCreate(context.Background(), "C1", "100.0", "/srv/api")
	assert.Panics(t, func() { info.Release() })
}

func TestRecordTurnStats(t *testing.T) {
	store := NewStore(nil)
	info := store.GetOrCreate(context.Background(), "C1", "100.0", "/srv/api")

	before := info.LastActivity()
	time.Sleep(time.Millisecond)
	info.RecordTurn(0.25)
	info.RecordTurn(0.50)

	turns, cost := info.Stats()
	assert.Equal(t, 2, turns)
	assert.InDelta(t, 0.75, cost, 0.0001)
	assert.True(t, info.LastActivity().After(before))
}

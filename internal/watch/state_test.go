package watch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ghwatch/internal/storage"
)

func TestCursorsAdvanceMonotonically(t *testing.T) {
	c := NewCursors(t0)
	assert.Equal(t, t0, c.Get(EventCommits))

	assert.False(t, c.Advance(EventCommits, t0.Add(-time.Minute)))
	assert.False(t, c.Advance(EventCommits, t0))
	assert.True(t, c.Advance(EventCommits, t0.Add(time.Minute)))
	assert.Equal(t, t0.Add(time.Minute), c.Get(EventCommits))
	assert.False(t, c.Advance(EventCommits, t0.Add(30*time.Second)))
	assert.Equal(t, t0, c.Get(EventIssueComments))
}

func TestDedupWritesThroughAndReloads(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	d := NewDedup(store, "octo/hello")
	assert.False(t, d.Loaded())

	require.NoError(t, d.Load(ctx))
	require.NoError(t, d.Add(ctx, "b"))
	require.NoError(t, d.Add(ctx, "a"))
	require.NoError(t, d.Add(ctx, "a"))
	assert.True(t, d.Contains("a"))
	assert.Equal(t, 2, d.Len())

	keys, err := store.LoadProcessed(ctx, "octo/hello")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, keys)

	require.NoError(t, d.Flush(ctx))
	keys, err = store.LoadProcessed(ctx, "octo/hello")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, keys)

	d2 := NewDedup(store, "octo/hello")
	require.NoError(t, d2.Load(ctx))
	assert.True(t, d2.Contains("b"))
}

func TestDedupFlushBeforeLoadKeepsStore(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	require.NoError(t, store.SaveProcessed(ctx, "r", []string{"x"}))

	d := NewDedup(store, "r")
	require.NoError(t, d.Flush(ctx))
	keys, err := store.LoadProcessed(ctx, "r")
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, keys)
}

func TestDedupPurge(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	d := NewDedup(store, "r")
	require.NoError(t, d.Load(ctx))
	require.NoError(t, d.Add(ctx, "k"))

	require.NoError(t, d.Purge(ctx))
	assert.False(t, d.Loaded())
	assert.False(t, d.Contains("k"))
	keys, err := store.LoadProcessed(ctx, "r")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

// addDuringSave runs a concurrent Add while SaveProcessed is in flight
// and gives it a moment to reach storage before the rewrite lands.
type addDuringSave struct {
	storage.Store
	d    *Dedup
	key  string
	done chan error
}

func (s *addDuringSave) SaveProcessed(ctx context.Context, resource string, keys []string) error {
	go func() { s.done <- s.d.Add(context.Background(), s.key) }()
	time.Sleep(50 * time.Millisecond)
	return s.Store.SaveProcessed(ctx, resource, keys)
}

func TestDedupFlushKeepsConcurrentAdd(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	require.NoError(t, mem.SaveProcessed(ctx, "r", []string{"old"}))

	wrap := &addDuringSave{Store: mem, key: "late", done: make(chan error, 1)}
	d := NewDedup(wrap, "r")
	wrap.d = d
	require.NoError(t, d.Load(ctx))

	require.NoError(t, d.Flush(ctx))
	select {
	case err := <-wrap.done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("concurrent Add never finished")
	}

	fresh := NewDedup(mem, "r")
	require.NoError(t, fresh.Load(ctx))
	assert.True(t, fresh.Contains("old"))
	assert.True(t, fresh.Contains("late"))
}

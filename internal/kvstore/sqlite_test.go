package kvstore

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *SQLiteKV {
	t.Helper()
	kv, err := Open(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })
	return kv
}

func TestOpen_CreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "queue.db")

	kv, err := Open(path)
	require.NoError(t, err)
	defer kv.Close()

	assert.Equal(t, path, kv.Path())
}

func TestOpen_Memory(t *testing.T) {
	kv, err := Open(":memory:")
	require.NoError(t, err)
	defer kv.Close()

	ctx := context.Background()
	require.NoError(t, kv.Set(ctx, "a", "1"))

	v, found, err := kv.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "1", v)
}

func TestGet_MissingKey(t *testing.T) {
	kv := openTemp(t)

	v, found, err := kv.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Empty(t, v)
}

func TestSet_Overwrites(t *testing.T) {
	kv := openTemp(t)
	ctx := context.Background()

	require.NoError(t, kv.Set(ctx, "k", "first"))
	require.NoError(t, kv.Set(ctx, "k", "second"))

	v, _, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "second", v)
}

func TestUpdate_ReadModifyWrite(t *testing.T) {
	kv := openTemp(t)
	ctx := context.Background()

	err := kv.Update(ctx, "counter", func(current string, found bool) (string, error) {
		assert.False(t, found)
		return "1", nil
	})
	require.NoError(t, err)

	err = kv.Update(ctx, "counter", func(current string, found bool) (string, error) {
		assert.True(t, found)
		assert.Equal(t, "1", current)
		return "2", nil
	})
	require.NoError(t, err)

	v, _, err := kv.Get(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, "2", v)
}

func TestUpdate_CallbackErrorWritesNothing(t *testing.T) {
	kv := openTemp(t)
	ctx := context.Background()
	require.NoError(t, kv.Set(ctx, "k", "keep"))

	boom := errors.New("boom")
	err := kv.Update(ctx, "k", func(string, bool) (string, error) {
		return "discard", boom
	})
	assert.ErrorIs(t, err, boom)

	v, _, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "keep", v)
}

func TestUpdate_ConcurrentIncrementsAreSerialized(t *testing.T) {
	kv := openTemp(t)
	ctx := context.Background()

	const workers = 8
	const perWorker = 10

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				err := kv.Update(ctx, "n", func(current string, found bool) (string, error) {
					n := 0
					if found {
						n, _ = strconv.Atoi(current)
					}
					return strconv.Itoa(n + 1), nil
				})
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	v, _, err := kv.Get(ctx, "n")
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprint(workers*perWorker), v)
}

func TestDelete_RemovesAllKeys(t *testing.T) {
	kv := openTemp(t)
	ctx := context.Background()
	require.NoError(t, kv.Set(ctx, "a", "1"))
	require.NoError(t, kv.Set(ctx, "b", "2"))
	require.NoError(t, kv.Set(ctx, "c", "3"))

	require.NoError(t, kv.Delete(ctx, "a", "b", "missing"))

	_, found, _ := kv.Get(ctx, "a")
	assert.False(t, found)
	_, found, _ = kv.Get(ctx, "b")
	assert.False(t, found)
	_, found, _ = kv.Get(ctx, "c")
	assert.True(t, found)
}

func TestClosed_ReturnsErrClosed(t *testing.T) {
	kv, err := Open(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	require.NoError(t, kv.Close())
	require.NoError(t, kv.Close())

	ctx := context.Background()
	_, _, err = kv.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, kv.Set(ctx, "a", "1"), ErrClosed)
	assert.ErrorIs(t, kv.Delete(ctx, "a"), ErrClosed)
}

func TestReopen_PersistsValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")
	ctx := context.Background()

	kv, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, kv.Set(ctx, "offlineQueue", `[{"type":"incident"}]`))
	require.NoError(t, kv.Close())

	kv, err = Open(path)
	require.NoError(t, err)
	defer kv.Close()

	v, found, err := kv.Get(ctx, "offlineQueue")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, `[{"type":"incident"}]`, v)
}

func TestWatch_ReportsWritesFromAnotherHandle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")

	watcher, err := Open(path)
	require.NoError(t, err)
	defer watcher.Close()

	writer, err := Open(path)
	require.NoError(t, err)
	defer writer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes, err := watcher.Watch(ctx, 10*time.Millisecond, "offlineQueue")
	require.NoError(t, err)

	require.NoError(t, writer.Set(ctx, "unrelated", "x"))
	require.NoError(t, writer.Set(ctx, "offlineQueue", "[]"))

	select {
	case c := <-changes:
		assert.Equal(t, "offlineQueue", c.Key)
		assert.False(t, c.Deleted)
	case <-time.After(2 * time.Second):
		t.Fatal("no change reported")
	}

	require.NoError(t, writer.Delete(ctx, "offlineQueue"))

	select {
	case c := <-changes:
		assert.Equal(t, "offlineQueue", c.Key)
		assert.True(t, c.Deleted)
	case <-time.After(2 * time.Second):
		t.Fatal("no delete reported")
	}

	cancel()
	for range changes {
	}
}

func TestWatch_MemoryUnsupported(t *testing.T) {
	kv, err := Open(":memory:")
	require.NoError(t, err)
	defer kv.Close()

	_, err = kv.Watch(context.Background(), time.Second, "k")
	assert.ErrorIs(t, err, ErrWatchUnsupported)
}

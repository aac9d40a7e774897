package history

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/chatrooms/internal/config"
)

// runStoreSuite checks the behavior every Store backend must share.
func runStoreSuite(t *testing.T, store Store) {
	ctx := context.Background()
	room := "room-" + uuid.NewString()
	other := "room-" + uuid.NewString()
	t.Cleanup(func() {
		_ = store.DeleteAll(ctx, room)
		_ = store.DeleteAll(ctx, other)
	})

	t.Run("empty room lists nothing", func(t *testing.T) {
		entries, err := store.List(ctx, room, ListOptions{Reverse: true, Limit: 100})
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	keys := []string{
		"2024-03-01T12:00:00.000Z",
		"2024-03-01T12:00:00.500Z",
		"2024-03-01T12:00:01.000Z",
		"2024-03-01T12:00:02.000Z",
	}
	// Insert out of order; listing must sort by key.
	for _, i := range []int{2, 0, 3, 1} {
		require.NoError(t, store.Put(ctx, room, keys[i], fmt.Sprintf("v%d", i)))
	}
	require.NoError(t, store.Put(ctx, other, keys[0], "elsewhere"))

	t.Run("ascending", func(t *testing.T) {
		entries, err := store.List(ctx, room, ListOptions{})
		require.NoError(t, err)
		require.Len(t, entries, 4)
		for i, e := range entries {
			assert.Equal(t, keys[i], e.Key)
			assert.Equal(t, fmt.Sprintf("v%d", i), e.Value)
		}
	})

	t.Run("reverse with limit returns newest", func(t *testing.T) {
		entries, err := store.List(ctx, room, ListOptions{Reverse: true, Limit: 2})
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, keys[3], entries[0].Key)
		assert.Equal(t, keys[2], entries[1].Key)
	})

	t.Run("limit larger than room", func(t *testing.T) {
		entries, err := store.List(ctx, room, ListOptions{Reverse: true, Limit: 100})
		require.NoError(t, err)
		assert.Len(t, entries, 4)
	})

	t.Run("put overwrites existing key", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, room, keys[1], "replaced"))
		entries, err := store.List(ctx, room, ListOptions{})
		require.NoError(t, err)
		require.Len(t, entries, 4)
		assert.Equal(t, "replaced", entries[1].Value)
	})

	t.Run("delete all is scoped to the room", func(t *testing.T) {
		require.NoError(t, store.DeleteAll(ctx, room))

		entries, err := store.List(ctx, room, ListOptions{})
		require.NoError(t, err)
		assert.Empty(t, entries)

		entries, err = store.List(ctx, other, ListOptions{})
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "elsewhere", entries[0].Value)
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, NewMemoryStore())
}

func TestSQLiteStore(t *testing.T) {
	store, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "nested", "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.Ping(context.Background()))
	runStoreSuite(t, store)
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "chat.db")

	store, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, "general", "2024-01-01T00:00:00.000Z", "kept"))
	require.NoError(t, store.Close())

	store, err = OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer store.Close()

	entries, err := store.List(ctx, "general", ListOptions{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "kept", entries[0].Value)
}

func TestOpenSQLiteRequiresPath(t *testing.T) {
	_, err := OpenSQLite(context.Background(), "  ")
	assert.Error(t, err)
}

func TestRedisStore(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}

	store, err := NewRedisStore(context.Background(), url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	runStoreSuite(t, store)
}

func TestPostgresStore(t *testing.T) {
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}

	store, err := NewPostgresStore(context.Background(), url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	runStoreSuite(t, store)
}

func TestOpenSelectsDriver(t *testing.T) {
	ctx := context.Background()

	store, err := Open(ctx, config.StoreConfig{Driver: config.DriverMemory}, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store, err = Open(ctx, config.StoreConfig{
		Driver:     config.DriverSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "chat.db"),
	}, zerolog.Nop())
	require.NoError(t, err)
	defer store.Close()

	pinger, ok := store.(Pinger)
	require.True(t, ok, "instrumented store should expose Ping")
	assert.NoError(t, pinger.Ping(ctx))

	_, err = Open(ctx, config.StoreConfig{Driver: "etcd"}, zerolog.Nop())
	assert.True(t, errors.Is(err, ErrUnknownDriver))
}

func TestInstrumentedStoreForwards(t *testing.T) {
	ctx := context.Background()
	store := Instrument(NewMemoryStore(), "memory")

	require.NoError(t, store.Put(ctx, "r", "k", "v"))
	entries, err := store.List(ctx, "r", ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, []Entry{{Key: "k", Value: "v"}}, entries)

	require.NoError(t, store.DeleteAll(ctx, "r"))
	entries, err = store.List(ctx, "r", ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/chatrooms/internal/config"
	"github.com/Tyrowin/chatrooms/internal/history"
)

// downStore is a store whose backend is unreachable.
type downStore struct {
	*history.MemoryStore
}

func (downStore) Ping(context.Context) error { return errors.New("connection refused") }

func (downStore) DeleteAll(context.Context, string) error { return errors.New("connection refused") }

func newTestServer(t *testing.T, store history.Store) *Server {
	t.Helper()
	s := New(config.New(), store, zerolog.Nop())
	t.Cleanup(func() { _ = s.Shutdown(time.Second) })
	return s
}

func serve(s *Server, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestHealthHandler(t *testing.T) {
	s := newTestServer(t, history.NewMemoryStore())

	rec := serve(s, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/plain", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "rooms=0 clients=0")
}

func TestHealthHandlerReportsStoreOutage(t *testing.T) {
	s := newTestServer(t, downStore{history.NewMemoryStore()})

	rec := serve(s, http.MethodGet, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRoomSocketHandlerRequiresUpgrade(t *testing.T) {
	s := newTestServer(t, history.NewMemoryStore())

	rec := serve(s, http.MethodGet, "/rooms/general/ws")
	assert.Equal(t, http.StatusUpgradeRequired, rec.Code)
	assert.Contains(t, rec.Body.String(), "Upgrade header must be websocket")
	assert.Zero(t, s.Hub().Rooms().Len(), "no room is created for a refused request")
}

func TestResetHistoryHandler(t *testing.T) {
	store := history.NewMemoryStore()
	require.NoError(t, store.Put(context.Background(), "general", "2024-01-01T00:00:00.000Z", "{}"))
	s := newTestServer(t, store)

	rec := serve(s, http.MethodDelete, "/rooms/general/history")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	entries, err := store.List(context.Background(), "general", history.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Zero(t, s.Hub().Rooms().Len(), "resetting an idle room does not start it")
}

func TestResetHistoryHandlerUsesRunningRoom(t *testing.T) {
	store := history.NewMemoryStore()
	require.NoError(t, store.Put(context.Background(), "general", "2024-01-01T00:00:00.000Z", "{}"))
	s := newTestServer(t, store)
	_, err := s.Hub().Rooms().Get("general")
	require.NoError(t, err)

	rec := serve(s, http.MethodDelete, "/rooms/general/history")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	entries, err := store.List(context.Background(), "general", history.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Equal(t, 1, s.Hub().Rooms().Len())
}

func TestResetHistoryHandlerStoreFailure(t *testing.T) {
	s := newTestServer(t, downStore{history.NewMemoryStore()})

	rec := serve(s, http.MethodDelete, "/rooms/general/history")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestUnknownRoute(t *testing.T) {
	s := newTestServer(t, history.NewMemoryStore())

	rec := serve(s, http.MethodGet, "/rooms/general/other")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

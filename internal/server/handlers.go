// Package server exposes HTTP handlers, including the room WebSocket upgrade,
// health checks, and history reset.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/Tyrowin/chatrooms/internal/history"
	"github.com/Tyrowin/chatrooms/internal/room"
)

const healthTimeout = 2 * time.Second

// RoomSocketHandler upgrades a request for /rooms/{name}/ws and admits the
// connection to that room. Requests without a WebSocket upgrade header are
// rejected with 426 before any room is involved, and the room itself is only
// resolved once the upgrade, including the origin check, has succeeded.
func (s *Server) RoomSocketHandler(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		http.Error(w, "Upgrade header must be websocket", http.StatusUpgradeRequired)
		return
	}

	name, err := room.ValidateName(chi.URLParam(r, "name"))
	if err != nil {
		s.roomError(w, err)
		return
	}
	if s.hub.Rooms().Closed() {
		s.roomError(w, room.ErrClosed)
		return
	}

	origin := clientOrigin(r, s.cfg.OriginHeader)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Str("room", name).Msg("websocket upgrade failed")
		return
	}

	rm, err := s.hub.Rooms().Get(name)
	if err != nil {
		s.logger.Warn().Err(err).Str("room", name).Msg("room unavailable after upgrade")
		rejectConn(conn, websocket.CloseGoingAway, room.ReasonShutdown)
		return
	}

	client := NewClient(conn, rm, origin, s.cfg.MaxMessageSize, s.logger)

	if err := rm.Connect(r.Context(), client, origin); err != nil {
		client.logger.Error().Err(err).Msg("room refused connection")
		rejectConn(conn, websocket.CloseInternalServerErr, "room unavailable")
		return
	}

	// The hub launches the pump goroutines.
	if !s.hub.Serve(client) {
		ctx, cancel := context.WithTimeout(context.Background(), disconnectWait)
		defer cancel()
		_ = rm.Disconnect(ctx, client, websocket.CloseGoingAway, room.ReasonShutdown)
		rejectConn(conn, websocket.CloseGoingAway, room.ReasonShutdown)
	}
}

// rejectConn closes a socket whose pumps never started.
func rejectConn(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(writeWait)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	_ = conn.Close()
}

// ResetHistoryHandler deletes the persisted history of a room. A running
// room performs the delete itself; otherwise the store is cleared directly
// without starting a room.
func (s *Server) ResetHistoryHandler(w http.ResponseWriter, r *http.Request) {
	name, err := room.ValidateName(chi.URLParam(r, "name"))
	if err != nil {
		s.roomError(w, err)
		return
	}

	if rm, ok := s.hub.Rooms().Lookup(name); ok {
		err = rm.ResetHistory(r.Context())
	} else {
		err = s.store.DeleteAll(r.Context(), name)
	}

	switch {
	case errors.Is(err, room.ErrClosed):
		s.roomError(w, err)
	case err != nil:
		s.logger.Error().Err(err).Str("room", name).Msg("history reset failed")
		http.Error(w, "history reset failed", http.StatusInternalServerError)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) roomError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, room.ErrInvalidName):
		http.Error(w, "invalid room name", http.StatusBadRequest)
	case errors.Is(err, room.ErrClosed):
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
	default:
		http.Error(w, "room unavailable", http.StatusInternalServerError)
	}
}

// HealthHandler provides a simple health check endpoint that returns server
// status, including the history store when it can be pinged.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")

	if pinger, ok := s.store.(history.Pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()
		if err := pinger.Ping(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("history store unhealthy")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = fmt.Fprint(w, "history store unavailable")
			return
		}
	}

	_, _ = fmt.Fprintf(w, "chatrooms server is running! rooms=%d clients=%d",
		s.hub.Rooms().Len(), s.hub.ClientCount())
}

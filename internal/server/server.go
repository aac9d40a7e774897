// Package server constructs the chat room service from its configuration,
// history store and logger.
package server

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/chatrooms/internal/config"
	"github.com/Tyrowin/chatrooms/internal/history"
	"github.com/Tyrowin/chatrooms/internal/limiter"
	"github.com/Tyrowin/chatrooms/internal/room"
)

// Server bundles the HTTP handlers with the rooms and limiters behind them.
type Server struct {
	cfg      config.Config
	logger   zerolog.Logger
	store    history.Store
	limiters *limiter.Registry
	hub      *Hub
	upgrader websocket.Upgrader
}

// New creates a Server. The caller keeps ownership of store and closes it
// after Shutdown.
func New(cfg config.Config, store history.Store, logger zerolog.Logger) *Server {
	cfg = cfg.Sanitize()

	limiters := limiter.NewRegistry(limiter.Options{
		Interval: cfg.RateLimit.Interval,
		Grace:    cfg.RateLimit.Grace,
	}, logger)

	rooms := room.NewRegistry(store, limiters, logger, room.Options{
		HistoryLimit: cfg.HistoryLimit,
		IdleTimeout:  cfg.RoomIdleTimeout,
	})

	origins := newOriginPolicy(cfg.AllowedOrigins, logger)

	return &Server{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		limiters: limiters,
		hub:      NewHub(rooms, logger),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.checkOrigin,
		},
	}
}

// Hub returns the hub for shutdown coordination.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Shutdown closes every room and client, then stops the limiters.
func (s *Server) Shutdown(timeout time.Duration) error {
	err := s.hub.Shutdown(timeout)
	s.limiters.Close()
	return err
}

// Package server coordinates client pump goroutines and connection cleanup
// for the chat room service via the Hub type.
package server

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/chatrooms/internal/room"
)

// Hub supervises the read/write pumps of every admitted client and the rooms
// they belong to. Room state itself lives in the room actors; the hub only
// tracks goroutines so shutdown can wait for them.
type Hub struct {
	rooms  *room.Registry
	logger zerolog.Logger

	mu      sync.Mutex
	clients map[*Client]struct{}
	closed  bool

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewHub creates a hub over rooms.
func NewHub(rooms *room.Registry, logger zerolog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		rooms:   rooms,
		logger:  logger,
		clients: make(map[*Client]struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Rooms returns the room registry served by the hub.
func (h *Hub) Rooms() *room.Registry {
	return h.rooms
}

// Serve launches the pump goroutines of a client its room has admitted.
// It reports false when the hub is shutting down.
func (h *Hub) Serve(client *Client) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	h.clients[client] = struct{}{}
	clientCount := len(h.clients)
	h.wg.Add(2)
	h.mu.Unlock()

	client.logger.Debug().Int("clients", clientCount).Msg("client registered")

	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		defer h.forget(client)
		client.readPump(h.ctx)
	}()
	return true
}

func (h *Hub) forget(client *Client) {
	h.mu.Lock()
	delete(h.clients, client)
	clientCount := len(h.clients)
	h.mu.Unlock()
	client.logger.Debug().Int("clients", clientCount).Msg("client unregistered")
}

// ClientCount returns the number of clients whose pumps are running.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Shutdown stops every room, which closes all client connections, and waits
// for the pump goroutines to finish or for the timeout to elapse.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.logger.Info().Msg("initiating hub shutdown")

	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()

	h.rooms.Close()
	h.cancel()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info().Msg("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.shutdownClients()
		h.logger.Warn().Msg("hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}

// shutdownClients force-closes the sockets of clients whose pumps did not
// exit in time.
func (h *Hub) shutdownClients() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.Unlock()

	for _, client := range clients {
		if client.conn != nil {
			client.closeConnection()
		}
	}
	h.logger.Info().Int("clients", len(clients)).Msg("force-closed client connections")
}

package room

import (
	"errors"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/chatrooms/internal/history"
	"github.com/Tyrowin/chatrooms/internal/limiter"
	"github.com/Tyrowin/chatrooms/internal/metrics"
)

// MaxNameLength caps room names, in bytes.
const MaxNameLength = 64

// ErrInvalidName is returned for empty or oversized room names.
var ErrInvalidName = errors.New("room: invalid name")

// Registry holds exactly one Room per name. Rooms are created and started
// on first reference and live until the registry is closed.
type Registry struct {
	store    history.Store
	limiters *limiter.Registry
	logger   zerolog.Logger
	opts     Options

	mu     sync.Mutex
	rooms  map[string]*Room
	closed bool
	wg     sync.WaitGroup
}

// NewRegistry creates an empty registry whose rooms share store and limiters.
func NewRegistry(store history.Store, limiters *limiter.Registry, logger zerolog.Logger, opts Options) *Registry {
	return &Registry{
		store:    store,
		limiters: limiters,
		logger:   logger,
		opts:     opts,
		rooms:    make(map[string]*Room),
	}
}

// ValidateName returns name trimmed, or ErrInvalidName when it is empty or
// longer than MaxNameLength.
func ValidateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > MaxNameLength {
		return "", ErrInvalidName
	}
	return name, nil
}

// Get returns the room called name, starting it if it does not exist yet.
func (g *Registry) Get(name string) (*Room, error) {
	name, err := ValidateName(name)
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return nil, ErrClosed
	}
	if r, ok := g.rooms[name]; ok {
		return r, nil
	}

	r := New(name, g.store, g.limiters, g.logger, g.opts)
	g.rooms[name] = r
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		r.Run()
	}()
	metrics.RoomsActive.Inc()

	g.logger.Info().Str("room", name).Int("rooms", len(g.rooms)).Msg("room started")
	return r, nil
}

// Lookup returns the room called name without creating it.
func (g *Registry) Lookup(name string) (*Room, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.rooms[strings.TrimSpace(name)]
	return r, ok
}

// Closed reports whether the registry has been closed.
func (g *Registry) Closed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closed
}

// Len returns the number of running rooms.
func (g *Registry) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.rooms)
}

// Close stops every room, closing their connections, and waits for them.
func (g *Registry) Close() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true
	rooms := make([]*Room, 0, len(g.rooms))
	for _, r := range g.rooms {
		rooms = append(rooms, r)
	}
	g.mu.Unlock()

	g.logger.Info().Int("rooms", len(rooms)).Msg("stopping rooms")
	for _, r := range rooms {
		r.cancel()
	}
	g.wg.Wait()
	metrics.RoomsActive.Sub(float64(len(rooms)))
}

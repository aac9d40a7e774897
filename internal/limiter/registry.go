package limiter

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// GlobalOrigin is the shared bucket for clients whose origin is unknown.
const GlobalOrigin = "global"

var keyNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("chatrooms:limiter"))

// Registry maps origin keys to their Limiter, starting each limiter lazily on
// first reference. Limiters are never evicted; an idle limiter's state simply
// stops mattering once the clock passes its next allowed time.
type Registry struct {
	opts   Options
	logger zerolog.Logger

	mu       sync.Mutex
	limiters map[string]*Limiter
	closed   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRegistry creates an empty registry.
func NewRegistry(opts Options, logger zerolog.Logger) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		opts:     opts.withDefaults(),
		logger:   logger.With().Str("component", "limiter").Logger(),
		limiters: make(map[string]*Limiter),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// KeyFor derives the opaque, stable limiter key for a client origin. An empty
// origin maps to the shared global bucket.
func (r *Registry) KeyFor(origin string) string {
	origin = strings.TrimSpace(origin)
	if origin == "" {
		origin = GlobalOrigin
	}
	return uuid.NewSHA1(keyNamespace, []byte(origin)).String()
}

// Get returns the limiter for key, creating and starting it if needed.
func (r *Registry) Get(key string) (*Limiter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrClosed
	}
	if l, ok := r.limiters[key]; ok {
		return l, nil
	}

	l := newLimiter(r.ctx, key, r.opts)
	r.limiters[key] = l
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		l.run()
	}()

	r.logger.Debug().Str("key", key).Int("limiters", len(r.limiters)).Msg("limiter started")
	return l, nil
}

// Len returns the number of live limiters.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.limiters)
}

// Close stops every limiter and waits for their goroutines to exit.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()

	r.cancel()
	r.wg.Wait()
	r.logger.Debug().Msg("limiters stopped")
}

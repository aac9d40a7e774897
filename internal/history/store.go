// Package history persists each room's chat log. Entries are opaque values
// under string keys; rooms key them by ISO-8601 timestamp so key order is
// chronological order.
package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/chatrooms/internal/config"
	"github.com/Tyrowin/chatrooms/internal/metrics"
)

// ErrUnknownDriver is returned by Open for an unsupported driver name.
var ErrUnknownDriver = errors.New("history: unknown driver")

// Entry is one persisted record.
type Entry struct {
	Key   string
	Value string
}

// ListOptions controls List ordering and size. A Limit of zero or less
// returns every entry.
type ListOptions struct {
	Reverse bool
	Limit   int
}

// Store is a key-value log partitioned by room. Writing an existing key
// replaces its value.
type Store interface {
	Put(ctx context.Context, room, key, value string) error
	List(ctx context.Context, room string, opts ListOptions) ([]Entry, error)
	DeleteAll(ctx context.Context, room string) error
	Close() error
}

// Pinger is implemented by stores backed by a network service.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Open creates the store selected by cfg, wrapped with latency metrics.
func Open(ctx context.Context, cfg config.StoreConfig, logger zerolog.Logger) (Store, error) {
	var (
		store Store
		err   error
	)

	switch cfg.Driver {
	case "", config.DriverMemory:
		store = NewMemoryStore()
	case config.DriverSQLite:
		store, err = OpenSQLite(ctx, cfg.SQLitePath)
	case config.DriverRedis:
		store, err = NewRedisStore(ctx, cfg.RedisURL)
	case config.DriverPostgres:
		store, err = NewPostgresStore(ctx, cfg.DatabaseURL)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", cfg.Driver, err)
	}

	logger.Info().Str("driver", driverName(cfg.Driver)).Msg("history store ready")
	return Instrument(store, driverName(cfg.Driver)), nil
}

func driverName(driver string) string {
	if driver == "" {
		return config.DriverMemory
	}
	return driver
}

// Instrument records per-operation latency and failures for store.
func Instrument(store Store, driver string) Store {
	return &instrumented{Store: store, driver: driver}
}

type instrumented struct {
	Store
	driver string
}

func (s *instrumented) observe(op string, start time.Time, err error) {
	metrics.HistoryLatency.WithLabelValues(s.driver, op).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.HistoryErrors.WithLabelValues(s.driver, op).Inc()
	}
}

func (s *instrumented) Put(ctx context.Context, room, key, value string) error {
	start := time.Now()
	err := s.Store.Put(ctx, room, key, value)
	s.observe("put", start, err)
	return err
}

func (s *instrumented) List(ctx context.Context, room string, opts ListOptions) ([]Entry, error) {
	start := time.Now()
	entries, err := s.Store.List(ctx, room, opts)
	s.observe("list", start, err)
	return entries, err
}

func (s *instrumented) DeleteAll(ctx context.Context, room string) error {
	start := time.Now()
	err := s.Store.DeleteAll(ctx, room)
	s.observe("delete_all", start, err)
	return err
}

func (s *instrumented) Ping(ctx context.Context) error {
	if p, ok := s.Store.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

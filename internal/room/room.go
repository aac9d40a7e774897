// Package room implements the room actor: the single authority for one room
// name. A room owns every connection admitted to it, serializes all events
// against them on one goroutine, persists chat history and replays the
// recent backlog to newcomers once they name themselves.
package room

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/chatrooms/internal/history"
	"github.com/Tyrowin/chatrooms/internal/limiter"
)

// ErrClosed is returned for events submitted to a stopped room.
var ErrClosed = errors.New("room: closed")

// Defaults for Options.
const (
	DefaultHistoryLimit = 100
	DefaultOpTimeout    = 5 * time.Second
)

// Options tunes a room.
type Options struct {
	// HistoryLimit is how many recent chats are replayed on admission.
	HistoryLimit int
	// IdleTimeout drops in-memory sessions after this long without events.
	// Zero disables hibernation.
	IdleTimeout time.Duration
	// OpTimeout bounds each store and limiter call.
	OpTimeout time.Duration
	// Now is the clock for system message timestamps; nil means time.Now.
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = DefaultHistoryLimit
	}
	if o.IdleTimeout < 0 {
		o.IdleTimeout = 0
	}
	if o.OpTimeout <= 0 {
		o.OpTimeout = DefaultOpTimeout
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

type admission struct {
	conn   Conn
	origin string
	done   chan error
}

type inbound struct {
	conn    Conn
	payload []byte
	done    chan error
}

type departure struct {
	conn   Conn
	code   int
	reason string
	done   chan error
}

type task struct {
	fn   func(ctx context.Context) error
	done chan error
}

// Room is the actor for one room name.
type Room struct {
	name     string
	store    history.Store
	limiters *limiter.Registry
	logger   zerolog.Logger
	opts     Options

	// conns is the live connection set in admission order. It survives
	// hibernation; sessions does not.
	conns      []Conn
	sessions   map[Conn]*session
	hibernated bool

	admissions chan admission
	inbound    chan inbound
	departures chan departure
	tasks      chan task

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a room. Call Run to start processing events.
func New(name string, store history.Store, limiters *limiter.Registry, logger zerolog.Logger, opts Options) *Room {
	ctx, cancel := context.WithCancel(context.Background())
	return &Room{
		name:       name,
		store:      store,
		limiters:   limiters,
		logger:     logger.With().Str("room", name).Logger(),
		opts:       opts.withDefaults(),
		sessions:   make(map[Conn]*session),
		admissions: make(chan admission),
		inbound:    make(chan inbound),
		departures: make(chan departure),
		tasks:      make(chan task),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Name returns the room name.
func (r *Room) Name() string {
	return r.name
}

// Run is the room's event loop. It returns after Stop, once every connection
// has been closed.
func (r *Room) Run() {
	defer close(r.done)

	var idle *time.Timer
	var idleC <-chan time.Time
	if r.opts.IdleTimeout > 0 {
		idle = time.NewTimer(r.opts.IdleTimeout)
		defer idle.Stop()
		idleC = idle.C
	}

	for {
		select {
		case <-r.ctx.Done():
			r.shutdownConns()
			return

		case a := <-r.admissions:
			a.done <- r.admit(a.conn, a.origin)

		case m := <-r.inbound:
			r.handleMessage(m.conn, m.payload)
			m.done <- nil

		case d := <-r.departures:
			r.handleDisconnect(d.conn, d.code, d.reason)
			d.done <- nil

		case t := <-r.tasks:
			ctx, cancel := r.opContext()
			t.done <- t.fn(ctx)
			cancel()

		case <-idleC:
			r.hibernate()
			continue
		}

		if idle != nil {
			idle.Reset(r.opts.IdleTimeout)
		}
	}
}

// Stop shuts the room down and waits for Run to return.
func (r *Room) Stop() {
	r.cancel()
	<-r.done
}

// Connect admits conn to the room. The connection stays anonymous, and
// receives nothing, until it sends a join command.
func (r *Room) Connect(ctx context.Context, conn Conn, origin string) error {
	done := make(chan error, 1)
	if err := enqueue(ctx, r, r.admissions, admission{conn: conn, origin: origin, done: done}); err != nil {
		return err
	}
	return r.await(ctx, done)
}

// Receive hands a raw client frame to the room and waits until the room has
// processed it.
func (r *Room) Receive(ctx context.Context, conn Conn, payload []byte) error {
	done := make(chan error, 1)
	if err := enqueue(ctx, r, r.inbound, inbound{conn: conn, payload: payload, done: done}); err != nil {
		return err
	}
	return r.await(ctx, done)
}

// Disconnect removes conn from the room, closes it with code and reason (or
// a normal closure when unset) and re-broadcasts the roster. Disconnecting a
// connection the room no longer tracks is a no-op.
func (r *Room) Disconnect(ctx context.Context, conn Conn, code int, reason string) error {
	done := make(chan error, 1)
	if err := enqueue(ctx, r, r.departures, departure{conn: conn, code: code, reason: reason, done: done}); err != nil {
		return err
	}
	return r.await(ctx, done)
}

// Hibernate drops the in-memory session map while keeping every connection
// open. The next event rebuilds sessions from connection attachments.
func (r *Room) Hibernate(ctx context.Context) error {
	return r.do(ctx, func(context.Context) error {
		r.hibernate()
		return nil
	})
}

// ResetHistory deletes every persisted chat of the room.
func (r *Room) ResetHistory(ctx context.Context) error {
	return r.do(ctx, func(opCtx context.Context) error {
		if err := r.store.DeleteAll(opCtx, r.name); err != nil {
			return fmt.Errorf("room %s: reset history: %w", r.name, err)
		}
		r.logger.Info().Msg("history reset")
		return nil
	})
}

// Roster returns the names of the named sessions in admission order.
func (r *Room) Roster(ctx context.Context) ([]string, error) {
	var names []string
	err := r.do(ctx, func(context.Context) error {
		r.wake()
		names = r.roster()
		return nil
	})
	return names, err
}

// Len returns the number of live connections.
func (r *Room) Len(ctx context.Context) (int, error) {
	var n int
	err := r.do(ctx, func(context.Context) error {
		n = len(r.conns)
		return nil
	})
	return n, err
}

func (r *Room) do(ctx context.Context, fn func(context.Context) error) error {
	done := make(chan error, 1)
	if err := enqueue(ctx, r, r.tasks, task{fn: fn, done: done}); err != nil {
		return err
	}
	return r.await(ctx, done)
}

func enqueue[T any](ctx context.Context, r *Room, ch chan<- T, ev T) error {
	select {
	case ch <- ev:
		return nil
	case <-r.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Room) await(ctx context.Context, done <-chan error) error {
	select {
	case err := <-done:
		return err
	case <-r.done:
		// The event may have completed just before the room stopped.
		select {
		case err := <-done:
			return err
		default:
			return ErrClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Room) opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.ctx, r.opts.OpTimeout)
}

func (r *Room) now() time.Time {
	return r.opts.Now()
}

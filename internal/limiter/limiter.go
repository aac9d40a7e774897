// Package limiter implements the per-origin rate limiter. Each origin key is
// served by exactly one Limiter goroutine so concurrent checks from the same
// origin (several tabs, several rooms) are serialized.
package limiter

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned by checks issued after the limiter was stopped.
var ErrClosed = errors.New("limiter: closed")

// Defaults match one request per 500ms sustained, with a burst of roughly
// ten requests before throttling becomes visible.
const (
	DefaultInterval = 500 * time.Millisecond
	DefaultGrace    = 5 * time.Second
)

// Options configures limiters created by a Registry.
type Options struct {
	Interval time.Duration
	Grace    time.Duration
	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.Grace < 0 {
		o.Grace = DefaultGrace
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Limiter tracks a single rolling next-allowed time for one origin.
type Limiter struct {
	key      string
	interval time.Duration
	grace    time.Duration
	now      func() time.Time

	next     time.Time
	requests chan chan time.Duration
	ctx      context.Context
	done     chan struct{}
}

func newLimiter(ctx context.Context, key string, opts Options) *Limiter {
	return &Limiter{
		key:      key,
		interval: opts.Interval,
		grace:    opts.Grace,
		now:      opts.Now,
		requests: make(chan chan time.Duration),
		ctx:      ctx,
		done:     make(chan struct{}),
	}
}

// Key returns the origin key this limiter serves.
func (l *Limiter) Key() string {
	return l.key
}

// run is the limiter's event loop. It owns next exclusively.
func (l *Limiter) run() {
	defer close(l.done)

	for {
		select {
		case <-l.ctx.Done():
			return
		case reply := <-l.requests:
			reply <- l.reserve(l.now())
		}
	}
}

// reserve advances the next allowed time by one interval and returns how
// long the caller still has to wait once the grace window is subtracted.
// Every call reserves a slot, including calls that are told to wait.
func (l *Limiter) reserve(now time.Time) time.Duration {
	if now.After(l.next) {
		l.next = now
	}
	l.next = l.next.Add(l.interval)

	wait := l.next.Sub(now) - l.grace
	if wait < 0 {
		return 0
	}
	return wait
}

// CheckAndReserve asks the limiter how long the caller must wait before its
// request may proceed. Zero means proceed now.
func (l *Limiter) CheckAndReserve(ctx context.Context) (time.Duration, error) {
	reply := make(chan time.Duration, 1)

	select {
	case l.requests <- reply:
	case <-l.done:
		return 0, ErrClosed
	case <-ctx.Done():
		return 0, ctx.Err()
	}

	select {
	case wait := <-reply:
		return wait, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

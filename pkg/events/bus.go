// Package events fans graph mutation events out to subscribers.
//
// Every matching subscriber is invoked on its own goroutine, so [Bus.Emit]
// never waits on handler code. Each invocation is watched by a deadline: a
// handler that overruns it is logged and counted but keeps running. Handler
// errors and panics are recovered, logged and counted; they never reach the
// emitter or sibling handlers.
//
// There is no backpressure by default. [BusConfig.MaxInFlight] bounds the
// number of concurrently running invocations per subscription; excess
// invocations wait for a slot on their own goroutine, so Emit still returns
// immediately.
package events

import (
	"context"
	"fmt"
	"reflect"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/haivivi/neuroweave/pkg/graph"
)

// DefaultHandlerTimeout is the per-invocation deadline used when
// BusConfig.HandlerTimeout is zero.
const DefaultHandlerTimeout = 5 * time.Second

// Handler consumes graph events.
type Handler interface {
	HandleEvent(ctx context.Context, ev graph.Event) error
}

// HandlerFunc adapts a function to Handler. Function values have no
// comparable identity, so a HandlerFunc can only be removed through its
// [Subscription].
type HandlerFunc func(ctx context.Context, ev graph.Event) error

// HandleEvent calls f.
func (f HandlerFunc) HandleEvent(ctx context.Context, ev graph.Event) error { return f(ctx, ev) }

// BusConfig configures a [Bus].
type BusConfig struct {
	// HandlerTimeout is the per-invocation deadline. Default 5s.
	HandlerTimeout time.Duration

	// MaxInFlight bounds concurrent invocations per subscription.
	// Zero means unbounded.
	MaxInFlight int

	// Logger receives timeout and failure reports. Optional.
	Logger *zap.Logger
}

// Stats is a point-in-time copy of the bus counters.
type Stats struct {
	Subscribers int   `json:"subscriber_count"`
	Emits       int64 `json:"emit_count"`
	Timeouts    int64 `json:"timeout_count"`
	Errors      int64 `json:"error_count"`
}

// Bus is a concurrent publish/subscribe hub for graph events.
// It implements graph.Publisher and is safe for concurrent use.
type Bus struct {
	timeout     time.Duration
	maxInFlight int
	log         *zap.Logger

	mu   sync.RWMutex
	subs []*Subscription

	emits    atomic.Int64
	timeouts atomic.Int64
	errors   atomic.Int64

	inflight inflight
}

var _ graph.Publisher = (*Bus)(nil)

// NewBus creates a Bus.
func NewBus(cfg BusConfig) *Bus {
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = DefaultHandlerTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Bus{
		timeout:     cfg.HandlerTimeout,
		maxInFlight: cfg.MaxInFlight,
		log:         cfg.Logger,
	}
}

// Subscription is a registered handler.
type Subscription struct {
	bus     *Bus
	handler Handler
	kinds   map[graph.EventKind]struct{} // nil = all kinds
	label   string
	sem     *semaphore.Weighted
}

// Label returns the subscription label.
func (s *Subscription) Label() string { return s.label }

// Cancel removes the subscription. Cancelling twice is a no-op.
func (s *Subscription) Cancel() {
	b := s.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = slices.DeleteFunc(b.subs, func(x *Subscription) bool { return x == s })
}

func (s *Subscription) matches(kind graph.EventKind) bool {
	if s.kinds == nil {
		return true
	}
	_, ok := s.kinds[kind]
	return ok
}

// Subscribe registers h for the given event kinds; no kinds means every
// kind. An empty label defaults to the handler's type name.
//
// Subscribing a handler that is already registered (same comparable value,
// such as the same pointer) is a no-op that returns the existing
// subscription. Handlers without a comparable identity, such as a
// HandlerFunc or a struct holding one, are never recognized as duplicates:
// subscribing one twice registers it twice and it receives every event
// twice. Keep the returned Subscription to remove such handlers.
func (b *Bus) Subscribe(h Handler, kinds []graph.EventKind, label string) *Subscription {
	if label == "" {
		label = fmt.Sprintf("%T", h)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, s := range b.subs {
		if sameHandler(s.handler, h) {
			b.log.Warn("events.already_subscribed", zap.String("handler", label))
			return s
		}
	}

	s := &Subscription{bus: b, handler: h, label: label}
	if len(kinds) > 0 {
		s.kinds = make(map[graph.EventKind]struct{}, len(kinds))
		for _, k := range kinds {
			s.kinds[k] = struct{}{}
		}
	}
	if b.maxInFlight > 0 {
		s.sem = semaphore.NewWeighted(int64(b.maxInFlight))
	}
	b.subs = append(b.subs, s)

	b.log.Debug("events.subscribed",
		zap.String("handler", label),
		zap.Int("kinds", len(kinds)),
		zap.Int("total_subscribers", len(b.subs)),
	)
	return s
}

// Unsubscribe removes h. Removing a handler that is not registered, or that
// has no comparable identity, is a no-op.
func (b *Bus) Unsubscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	before := len(b.subs)
	b.subs = slices.DeleteFunc(b.subs, func(s *Subscription) bool { return sameHandler(s.handler, h) })
	if len(b.subs) < before {
		b.log.Debug("events.unsubscribed", zap.Int("total_subscribers", len(b.subs)))
	}
}

// sameHandler reports whether a and b are the same comparable value. A
// comparable type can still hold an uncomparable value, such as a struct
// embedding a Handler interface that holds a HandlerFunc; comparing those
// panics, and they count as different handlers.
func sameHandler(a, b Handler) (same bool) {
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta == nil || ta != tb || !ta.Comparable() {
		return false
	}
	defer func() {
		if recover() != nil {
			same = false
		}
	}()
	return a == b
}

// Emit dispatches ev to every matching subscriber. Invocations are started
// in subscription order and run concurrently; Emit returns without waiting
// for any of them.
func (b *Bus) Emit(ev graph.Event) {
	b.emits.Add(1)

	b.mu.RLock()
	subs := slices.Clone(b.subs)
	b.mu.RUnlock()

	for _, s := range subs {
		if !s.matches(ev.Kind) {
			continue
		}
		b.inflight.add()
		go b.invoke(s, ev)
	}
}

func (b *Bus) invoke(s *Subscription, ev graph.Event) {
	defer b.inflight.done()

	if s.sem != nil {
		// Acquire with a background context cannot fail.
		_ = s.sem.Acquire(context.Background(), 1)
		defer s.sem.Release(1)
	}

	var finished atomic.Bool
	watchdog := time.AfterFunc(b.timeout, func() {
		if finished.Load() {
			return
		}
		b.timeouts.Add(1)
		b.log.Warn("events.handler_timeout",
			zap.String("handler", s.label),
			zap.String("event_type", string(ev.Kind)),
			zap.Duration("timeout", b.timeout),
		)
	})

	err := call(s.handler, ev)
	finished.Store(true)
	watchdog.Stop()

	if err != nil {
		b.errors.Add(1)
		b.log.Error("events.handler_error",
			zap.String("handler", s.label),
			zap.String("event_type", string(ev.Kind)),
			zap.Error(err),
		)
	}
}

func call(h Handler, ev graph.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("events: handler panic: %v", r)
		}
	}()
	return h.HandleEvent(context.Background(), ev)
}

// Wait blocks until no invocation is running, including those past their
// deadline. It may be called concurrently with Emit.
func (b *Bus) Wait() { <-b.inflight.idle() }

// WaitContext is Wait bounded by ctx.
func (b *Bus) WaitContext(ctx context.Context) error {
	select {
	case <-b.inflight.idle():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// inflight counts running invocations. add may be called from zero while
// a waiter is blocked.
type inflight struct {
	mu     sync.Mutex
	n      int
	idleCh chan struct{} // closed when n drops to zero
}

var closedCh = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

func (f *inflight) add() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.n == 0 {
		f.idleCh = make(chan struct{})
	}
	f.n++
}

func (f *inflight) done() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n--
	if f.n == 0 {
		close(f.idleCh)
	}
}

// idle returns a channel that is closed once the count next reaches zero.
func (f *inflight) idle() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.n == 0 {
		return closedCh
	}
	return f.idleCh
}

// SubscriberCount returns the number of registered subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// EmitCount returns the total number of Emit calls.
func (b *Bus) EmitCount() int64 { return b.emits.Load() }

// TimeoutCount returns the number of invocations that overran the deadline.
func (b *Bus) TimeoutCount() int64 { return b.timeouts.Load() }

// ErrorCount returns the number of invocations that failed or panicked.
func (b *Bus) ErrorCount() int64 { return b.errors.Load() }

// Stats returns all counters.
func (b *Bus) Stats() Stats {
	return Stats{
		Subscribers: b.SubscriberCount(),
		Emits:       b.EmitCount(),
		Timeouts:    b.TimeoutCount(),
		Errors:      b.ErrorCount(),
	}
}

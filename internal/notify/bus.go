// Package notify bridges the asynchronous webhook path to clients waiting on
// a payment reference.
package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DefaultTTL is how long a registration waits for a publish.
const DefaultTTL = 30 * time.Second

var (
	ErrExpired = errors.New("payment status subscription expired")
	ErrClosed  = errors.New("notification bus closed")
)

// Status is the terminal outcome of a settlement as seen by the client.
type Status struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	OrderID uint64 `json:"orderId,omitempty"`
}

// Bus maps a payment reference to waiting listeners.
type Bus interface {
	Subscribe(ctx context.Context, reference string) (Subscription, error)
	Publish(ctx context.Context, reference string, status Status) error
	Close() error
}

// Subscription resolves at most once: with a published Status, ErrExpired,
// ErrClosed or the context error. Close is safe to call more than once.
type Subscription interface {
	Wait(ctx context.Context) (Status, error)
	Close()
}

type Option func(*options)

type options struct {
	ttl   time.Duration
	gauge prometheus.Gauge
}

func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

// WithGauge tracks the number of live registrations.
func WithGauge(g prometheus.Gauge) Option {
	return func(o *options) { o.gauge = g }
}

func buildOptions(opts []Option) options {
	o := options{ttl: DefaultTTL}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// MemoryBus is the single-process Bus. Publishing consumes every listener
// registered for the reference.
type MemoryBus struct {
	opts options

	mu        sync.Mutex
	nextID    uint64
	listeners map[string]map[uint64]*listener
	done      chan struct{}
	closed    bool
}

func NewMemoryBus(opts ...Option) *MemoryBus {
	return &MemoryBus{
		opts:      buildOptions(opts),
		listeners: make(map[string]map[uint64]*listener),
		done:      make(chan struct{}),
	}
}

type listener struct {
	bus       *MemoryBus
	id        uint64
	reference string
	ch        chan Status
	expired   chan struct{}
	timer     *time.Timer
}

func (b *MemoryBus) Subscribe(_ context.Context, reference string) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}

	b.nextID++
	l := &listener{
		bus:       b,
		id:        b.nextID,
		reference: reference,
		ch:        make(chan Status, 1),
		expired:   make(chan struct{}),
	}
	if b.listeners[reference] == nil {
		b.listeners[reference] = make(map[uint64]*listener)
	}
	b.listeners[reference][l.id] = l
	l.timer = time.AfterFunc(b.opts.ttl, l.expire)
	b.track(1)

	return l, nil
}

func (b *MemoryBus) Publish(_ context.Context, reference string, status Status) error {
	b.mu.Lock()
	set := b.listeners[reference]
	delete(b.listeners, reference)
	b.track(-len(set))
	b.mu.Unlock()

	for _, l := range set {
		l.timer.Stop()
		// Buffered and removed from the map, so this is the only send.
		l.ch <- status
	}
	return nil
}

// Listeners reports how many registrations wait on a reference.
func (b *MemoryBus) Listeners(reference string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners[reference])
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	for ref, set := range b.listeners {
		for _, l := range set {
			l.timer.Stop()
		}
		b.track(-len(set))
		delete(b.listeners, ref)
	}
	close(b.done)
	return nil
}

// remove reports whether this call took the listener out of the map. Publish,
// expiry and cancellation all race here and exactly one of them wins.
func (b *MemoryBus) remove(l *listener) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	set, ok := b.listeners[l.reference]
	if !ok {
		return false
	}
	if _, ok := set[l.id]; !ok {
		return false
	}
	delete(set, l.id)
	if len(set) == 0 {
		delete(b.listeners, l.reference)
	}
	b.track(-1)
	return true
}

// track must be called with b.mu held.
func (b *MemoryBus) track(delta int) {
	if b.opts.gauge != nil && delta != 0 {
		b.opts.gauge.Add(float64(delta))
	}
}

func (l *listener) expire() {
	if l.bus.remove(l) {
		close(l.expired)
	}
}

func (l *listener) Wait(ctx context.Context) (Status, error) {
	select {
	case st := <-l.ch:
		return st, nil
	case <-l.expired:
		return Status{}, ErrExpired
	case <-l.bus.done:
		// a publish may have landed right before shutdown
		select {
		case st := <-l.ch:
			return st, nil
		default:
			return Status{}, ErrClosed
		}
	case <-ctx.Done():
		l.Close()
		return Status{}, ctx.Err()
	}
}

func (l *listener) Close() {
	if l.bus.remove(l) {
		l.timer.Stop()
	}
}

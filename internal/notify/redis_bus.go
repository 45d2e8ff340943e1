package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const channelPrefix = "payment_status:"

func channelFor(reference string) string { return channelPrefix + reference }

// RedisBus fans published statuses out through Redis pub/sub so a webhook
// handled by one instance reaches clients connected to another.
type RedisBus struct {
	client *redis.Client
	logger *zap.Logger
	opts   options

	mu     sync.Mutex
	subs   map[*redisSubscription]struct{}
	closed bool
}

func NewRedisBus(client *redis.Client, logger *zap.Logger, opts ...Option) *RedisBus {
	return &RedisBus{
		client: client,
		logger: logger,
		opts:   buildOptions(opts),
		subs:   make(map[*redisSubscription]struct{}),
	}
}

func (b *RedisBus) Subscribe(ctx context.Context, reference string) (Subscription, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	b.mu.Unlock()

	ps := b.client.Subscribe(ctx, channelFor(reference))
	// Receive blocks until the server confirms, so a publish issued after
	// Subscribe returns is never missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", reference, err)
	}

	s := &redisSubscription{
		bus:      b,
		ps:       ps,
		deadline: time.Now().Add(b.opts.ttl),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		_ = ps.Close()
		return nil, ErrClosed
	}
	b.subs[s] = struct{}{}
	b.track(1)
	b.mu.Unlock()

	return s, nil
}

func (b *RedisBus) Publish(ctx context.Context, reference string, status Status) error {
	payload, err := json.Marshal(status)
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, channelFor(reference), payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", reference, err)
	}
	return nil
}

// Close releases every open subscription. The client is owned by the caller.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[*redisSubscription]struct{})
	b.track(-len(subs))
	b.mu.Unlock()

	for s := range subs {
		s.Close()
	}
	return nil
}

func (b *RedisBus) forget(s *redisSubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[s]; ok {
		delete(b.subs, s)
		b.track(-1)
	}
}

func (b *RedisBus) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// track must be called with b.mu held.
func (b *RedisBus) track(delta int) {
	if b.opts.gauge != nil && delta != 0 {
		b.opts.gauge.Add(float64(delta))
	}
}

type redisSubscription struct {
	bus      *RedisBus
	ps       *redis.PubSub
	deadline time.Time
	once     sync.Once
}

func (s *redisSubscription) Wait(ctx context.Context) (Status, error) {
	defer s.Close()

	ctx, cancel := context.WithDeadline(ctx, s.deadline)
	defer cancel()
	// ReceiveMessage does not return on ctx alone; closing the pubsub unblocks it
	stop := context.AfterFunc(ctx, s.Close)
	defer stop()

	for {
		msg, err := s.ps.ReceiveMessage(ctx)
		if err != nil {
			switch {
			case errors.Is(ctx.Err(), context.DeadlineExceeded) && !time.Now().Before(s.deadline):
				return Status{}, ErrExpired
			case ctx.Err() != nil:
				return Status{}, ctx.Err()
			case s.bus.isClosed():
				return Status{}, ErrClosed
			}
			return Status{}, err
		}

		var st Status
		if err := json.Unmarshal([]byte(msg.Payload), &st); err != nil {
			s.bus.logger.Warn("Dropping malformed payment status message",
				zap.String("channel", msg.Channel), zap.Error(err))
			continue
		}
		return st, nil
	}
}

func (s *redisSubscription) Close() {
	s.once.Do(func() {
		_ = s.ps.Close()
		s.bus.forget(s)
	})
}

package notify

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newRedisBus(t *testing.T, opts ...Option) (*RedisBus, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	bus := NewRedisBus(client, zap.NewNop(), opts...)
	t.Cleanup(func() { _ = bus.Close() })
	return bus, mr
}

func TestRedisBus_PublishReachesSubscriber(t *testing.T) {
	bus, _ := newRedisBus(t)
	ctx := context.Background()

	sub, err := bus.Subscribe(ctx, "pay_1")
	require.NoError(t, err)

	want := Status{Success: true, Message: "Payment successful", OrderID: 42}
	require.NoError(t, bus.Publish(ctx, "pay_1", want))

	got, err := sub.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestRedisBus_IgnoresOtherReferencesAndGarbage(t *testing.T) {
	bus, mr := newRedisBus(t)
	ctx := context.Background()

	sub, err := bus.Subscribe(ctx, "pay_mine")
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, "pay_theirs", Status{Success: false}))
	mr.Publish(channelFor("pay_mine"), "not json")
	require.NoError(t, bus.Publish(ctx, "pay_mine", Status{Success: true, OrderID: 1}))

	got, err := sub.Wait(ctx)
	require.NoError(t, err)
	assert.True(t, got.Success)
	assert.Equal(t, uint64(1), got.OrderID)
}

func TestRedisBus_Expiry(t *testing.T) {
	bus, _ := newRedisBus(t, WithTTL(50*time.Millisecond))

	sub, err := bus.Subscribe(context.Background(), "pay_slow")
	require.NoError(t, err)

	_, err = sub.Wait(context.Background())
	assert.ErrorIs(t, err, ErrExpired)
	sub.Close()
}

func TestRedisBus_Cancel(t *testing.T) {
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "listeners"})
	bus, _ := newRedisBus(t, WithGauge(gauge))

	ctx, cancel := context.WithCancel(context.Background())
	sub, err := bus.Subscribe(ctx, "pay_gone")
	require.NoError(t, err)

	errs := make(chan error, 1)
	go func() {
		_, err := sub.Wait(ctx)
		errs <- err
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Wait ignored cancellation")
	}
	assert.Equal(t, float64(0), testutil.ToFloat64(gauge))
}

func TestRedisBus_CloseRejectsNewSubscriptions(t *testing.T) {
	bus, _ := newRedisBus(t)
	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())

	_, err := bus.Subscribe(context.Background(), "pay_late")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestRedisBus_CloseReleasesWaiters(t *testing.T) {
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "listeners"})
	bus, _ := newRedisBus(t, WithGauge(gauge))
	ctx := context.Background()

	first, err := bus.Subscribe(ctx, "pay_a")
	require.NoError(t, err)
	second, err := bus.Subscribe(ctx, "pay_b")
	require.NoError(t, err)
	assert.Equal(t, float64(2), testutil.ToFloat64(gauge))

	errs := make(chan error, 1)
	go func() {
		_, err := first.Wait(ctx)
		errs <- err
	}()

	require.NoError(t, bus.Close())
	assert.ErrorIs(t, <-errs, ErrClosed)
	assert.Equal(t, float64(0), testutil.ToFloat64(gauge))

	second.Close()
	assert.Equal(t, float64(0), testutil.ToFloat64(gauge))
}

package events

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/eqroute/internal/errors"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type mockConsumer struct {
	name           string
	processedCount atomic.Int32
	errorOnProcess bool
	panicOnProcess bool
	mu             sync.Mutex
	events         []Notification
}

func (m *mockConsumer) Name() string { return m.name }

func (m *mockConsumer) ProcessEvent(n Notification) error {
	if m.panicOnProcess {
		panic("boom")
	}

	m.mu.Lock()
	m.events = append(m.events, n)
	m.mu.Unlock()
	m.processedCount.Add(1)

	if m.errorOnProcess {
		return fmt.Errorf("mock error")
	}
	return nil
}

func (m *mockConsumer) getEvents() []Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Notification(nil), m.events...)
}

// waitForProcessed waits for the consumer to process n events or times out
func waitForProcessed(t *testing.T, consumer *mockConsumer, expected int32, timeout time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), timeout)
	defer cancel()

	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			require.Failf(t, "timeout waiting for events", "expected %d events, got %d", expected, consumer.processedCount.Load())
			return
		case <-ticker.C:
			if consumer.processedCount.Load() >= expected {
				return
			}
		}
	}
}

func newTestBus(t *testing.T, cfg Config) *Bus {
	t.Helper()
	b := NewBus(cfg, nil)
	t.Cleanup(func() { _ = b.Shutdown(time.Second) })
	return b
}

func TestPublishWithoutConsumers(t *testing.T) {
	b := newTestBus(t, DefaultConfig())
	assert.False(t, b.Publish(EngineCreated()))
	assert.Zero(t, b.GetStats().EventsReceived)
}

func TestDeliveryPreservesOrder(t *testing.T) {
	b := newTestBus(t, DefaultConfig())
	consumer := &mockConsumer{name: "ordered"}
	require.NoError(t, b.RegisterConsumer(consumer))

	require.True(t, b.Publish(EngineCreated()))
	require.True(t, b.Publish(OutputCreated()))
	require.True(t, b.Publish(PipelineRunning(3, "Speakers", 48000)))

	waitForProcessed(t, consumer, 3, time.Second)

	got := consumer.getEvents()
	require.Len(t, got, 3)
	assert.Equal(t, KindEngineCreated, got[0].Kind)
	assert.Equal(t, KindOutputCreated, got[1].Kind)
	assert.Equal(t, KindPipelineRunning, got[2].Kind)
	assert.Equal(t, "Speakers", got[2].DeviceName)
	assert.InDelta(t, 48000, got[2].SampleRate, 0)
}

func TestDuplicateConsumerRejected(t *testing.T) {
	b := newTestBus(t, DefaultConfig())
	require.NoError(t, b.RegisterConsumer(&mockConsumer{name: "dup"}))
	require.Error(t, b.RegisterConsumer(&mockConsumer{name: "dup"}))
}

func TestConsumerFailuresAreIsolated(t *testing.T) {
	b := newTestBus(t, DefaultConfig())
	panicky := &mockConsumer{name: "panicky", panicOnProcess: true}
	failing := &mockConsumer{name: "failing", errorOnProcess: true}
	healthy := &mockConsumer{name: "healthy"}
	require.NoError(t, b.RegisterConsumer(panicky))
	require.NoError(t, b.RegisterConsumer(failing))
	require.NoError(t, b.RegisterConsumer(healthy))

	require.True(t, b.Publish(EnabledChanged(true)))
	waitForProcessed(t, healthy, 1, time.Second)

	assert.Eventually(t, func() bool {
		stats := b.GetStats()
		return stats.ConsumerErrors == 2 && stats.EventsProcessed == 1
	}, time.Second, 5*time.Millisecond)
}

func TestFullQueueDrops(t *testing.T) {
	b := NewBus(Config{BufferSize: 1, Workers: 1}, nil)
	block := make(chan struct{})
	started := make(chan struct{}, 1)
	require.NoError(t, b.RegisterConsumer(ConsumerFunc{
		ConsumerName: "slow",
		Fn: func(Notification) error {
			select {
			case started <- struct{}{}:
			default:
			}
			<-block
			return nil
		},
	}))

	require.True(t, b.Publish(ProfilesChanged()))
	<-started
	require.True(t, b.Publish(ProfilesChanged()))
	assert.False(t, b.Publish(ProfilesChanged()))
	assert.Equal(t, uint64(1), b.GetStats().EventsDropped)

	close(block)
	require.NoError(t, b.Shutdown(time.Second))
	assert.False(t, b.Publish(ProfilesChanged()), "publish after shutdown")
}

func TestShutdownDeliversQueued(t *testing.T) {
	b := NewBus(DefaultConfig(), nil)
	consumer := &mockConsumer{name: "late"}
	require.NoError(t, b.RegisterConsumer(consumer))

	for range 10 {
		require.True(t, b.Publish(GainChanged(0.5)))
	}
	require.NoError(t, b.Shutdown(time.Second))
	assert.Equal(t, int32(10), consumer.processedCount.Load())
	require.NoError(t, b.Shutdown(time.Second), "second shutdown is a no-op")
}

func TestBusAsErrorPublisher(t *testing.T) {
	b := newTestBus(t, DefaultConfig())
	consumer := &mockConsumer{name: "errors"}
	require.NoError(t, b.RegisterConsumer(consumer))

	errors.SetEventPublisher(b)
	t.Cleanup(func() { errors.SetEventPublisher(nil) })

	ee := errors.Newf("engine start failed").
		Component("pipeline").
		Category(errors.CategoryPipeline).
		Build()
	assert.True(t, ee.IsReported())

	waitForProcessed(t, consumer, 1, time.Second)
	got := consumer.getEvents()[0]
	assert.Equal(t, KindError, got.Kind)
	assert.Equal(t, "engine start failed", got.Message)
	assert.Equal(t, "pipeline", got.Component)
	assert.Equal(t, string(errors.CategoryPipeline), got.Category)

	assert.False(t, b.TryPublish(42))
}

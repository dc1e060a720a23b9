package events

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tphakala/eqroute/internal/logger"
)

// DefaultBufferSize is the notification queue length.
const DefaultBufferSize = 1024

// Config holds bus configuration
type Config struct {
	BufferSize int
	// Workers is the number of delivery goroutines. With more than one
	// worker consumers may observe notifications out of order.
	Workers int
}

// DefaultConfig returns a single-worker bus, which preserves ordering.
func DefaultConfig() Config {
	return Config{BufferSize: DefaultBufferSize, Workers: 1}
}

// Bus delivers notifications to consumers without ever blocking the
// publisher. A full queue drops the notification and counts it.
type Bus struct {
	eventChan chan Notification
	workers   int

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool
	stopped atomic.Bool

	mu        sync.Mutex
	consumers []Consumer

	received  atomic.Uint64
	processed atomic.Uint64
	dropped   atomic.Uint64
	errs      atomic.Uint64

	logger logger.Logger
}

// NewBus creates a bus. Workers start with the first consumer.
func NewBus(cfg Config, log logger.Logger) *Bus {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if log == nil {
		log = logger.NewSlogLogger(nil, logger.LogLevelInfo, nil)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		eventChan: make(chan Notification, cfg.BufferSize),
		workers:   cfg.Workers,
		ctx:       ctx,
		cancel:    cancel,
		logger:    log.Module("events"),
	}
}

// RegisterConsumer adds a consumer. Names must be unique.
func (b *Bus) RegisterConsumer(consumer Consumer) error {
	if b == nil {
		return fmt.Errorf("event bus not initialized")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, existing := range b.consumers {
		if existing.Name() == consumer.Name() {
			return fmt.Errorf("consumer %s already registered", consumer.Name())
		}
	}
	b.consumers = append(b.consumers, consumer)

	b.logger.Debug("registered event consumer", logger.String("consumer", consumer.Name()))

	if !b.stopped.Load() && !b.running.Load() {
		b.start()
	}
	return nil
}

// Publish enqueues a notification. It returns false if the bus is not
// running, has no consumers, or the queue is full.
func (b *Bus) Publish(n Notification) bool {
	if b == nil || !b.running.Load() {
		return false
	}

	select {
	case b.eventChan <- n:
		b.received.Add(1)
		return true
	default:
		b.dropped.Add(1)
		b.logger.Debug("notification dropped due to full buffer", logger.String("kind", string(n.Kind)))
		return false
	}
}

// TryPublish accepts a Notification or an ErrorEvent. It lets the bus act
// as the errors package publisher: built errors become error notifications.
func (b *Bus) TryPublish(event any) bool {
	switch e := event.(type) {
	case Notification:
		return b.Publish(e)
	case ErrorEvent:
		n := ErrorMessage(e.GetMessage())
		n.Component = e.GetComponent()
		n.Category = e.GetCategory()
		n.Timestamp = e.GetTimestamp()
		return b.Publish(n)
	default:
		return false
	}
}

func (b *Bus) start() {
	if b.running.Swap(true) {
		return
	}
	for i := range b.workers {
		b.wg.Add(1)
		go b.worker(i)
	}
}

func (b *Bus) worker(id int) {
	defer b.wg.Done()

	for {
		select {
		case <-b.ctx.Done():
			b.drain()
			b.logger.Trace("worker stopped", logger.Int("worker_id", id))
			return
		case n := <-b.eventChan:
			b.processEvent(n)
		}
	}
}

// drain delivers whatever was queued before shutdown.
func (b *Bus) drain() {
	for {
		select {
		case n := <-b.eventChan:
			b.processEvent(n)
		default:
			return
		}
	}
}

func (b *Bus) processEvent(n Notification) {
	b.mu.Lock()
	consumers := make([]Consumer, len(b.consumers))
	copy(consumers, b.consumers)
	b.mu.Unlock()

	for _, consumer := range consumers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.errs.Add(1)
					b.logger.Error("consumer panicked",
						logger.String("consumer", consumer.Name()),
						logger.Any("panic", r),
						logger.String("kind", string(n.Kind)))
				}
			}()

			if err := consumer.ProcessEvent(n); err != nil {
				b.errs.Add(1)
				b.logger.Warn("consumer error",
					logger.String("consumer", consumer.Name()),
					logger.String("kind", string(n.Kind)),
					logger.Error(err))
				return
			}
			b.processed.Add(1)
		}()
	}
}

// Shutdown stops accepting notifications, delivers the queued ones and
// waits for the workers up to timeout.
func (b *Bus) Shutdown(timeout time.Duration) error {
	if b == nil || b.stopped.Swap(true) {
		return nil
	}

	b.running.Store(false)
	b.cancel()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		b.logger.Warn("event bus shutdown timeout exceeded", logger.Duration("timeout", timeout))
		return fmt.Errorf("shutdown timeout exceeded")
	}
}

// GetStats returns current bus statistics
func (b *Bus) GetStats() Stats {
	if b == nil {
		return Stats{}
	}
	return Stats{
		EventsReceived:  b.received.Load(),
		EventsProcessed: b.processed.Load(),
		EventsDropped:   b.dropped.Load(),
		ConsumerErrors:  b.errs.Load(),
	}
}

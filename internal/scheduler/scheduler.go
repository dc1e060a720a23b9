// Package scheduler runs the session's control plane: every device event,
// state reaction and pipeline rebuild executes as a task on one goroutine,
// so handlers never run concurrently. Delayed continuations are timers that
// post back into the same loop.
package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/tphakala/eqroute/internal/logger"
)

// DefaultQueueSize is the initial capacity of the pending task queue.
const DefaultQueueSize = 256

// Loop executes posted tasks one at a time in posting order. The queue
// grows as needed, so Post never blocks; tasks may post from inside the loop.
type Loop struct {
	wake chan struct{}
	log  logger.Logger

	mu      sync.Mutex
	queue   []func()
	spare   []func()
	running bool
	stopped bool
	timers  map[*Timer]struct{}
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a stopped loop.
func New(queueSize int, log logger.Logger) *Loop {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if log == nil {
		log = logger.Global().Module("scheduler")
	}
	return &Loop{
		wake:   make(chan struct{}, 1),
		log:    log,
		queue:  make([]func(), 0, queueSize),
		spare:  make([]func(), 0, queueSize),
		timers: make(map[*Timer]struct{}),
		done:   make(chan struct{}),
	}
}

// Start launches the loop goroutine. It runs until ctx is cancelled or
// Stop is called.
func (l *Loop) Start(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running || l.stopped {
		return
	}
	l.running = true

	ctx, l.cancel = context.WithCancel(ctx)
	go l.run(ctx)
}

func (l *Loop) run(ctx context.Context) {
	defer close(l.done)
	for {
		select {
		case <-ctx.Done():
			l.shutdown()
			return
		case <-l.wake:
		}

		l.mu.Lock()
		batch := l.queue
		l.queue, l.spare = l.spare[:0], nil
		l.mu.Unlock()

		for i, task := range batch {
			if ctx.Err() != nil {
				break
			}
			l.execute(task)
			batch[i] = nil
		}
		clear(batch)

		l.mu.Lock()
		l.spare = batch[:0]
		l.mu.Unlock()
	}
}

func (l *Loop) execute(task func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("control task panicked",
				logger.String("panic", fmt.Sprint(r)),
				logger.String("stack", string(debug.Stack())))
		}
	}()
	task()
}

// shutdown stops pending timers and discards queued tasks.
func (l *Loop) shutdown() {
	l.mu.Lock()
	l.stopped = true
	timers := l.timers
	l.timers = make(map[*Timer]struct{})
	clear(l.queue)
	l.queue = l.queue[:0]
	l.mu.Unlock()

	for t := range timers {
		t.t.Stop()
	}
}

// Stop ends the loop and waits for the running task to return. It must
// not be called from inside a task.
func (l *Loop) Stop() {
	l.mu.Lock()
	cancel, running := l.cancel, l.running
	l.stopped = true
	l.mu.Unlock()

	if !running {
		return
	}
	cancel()
	<-l.done
}

// Post queues fn without blocking. It returns false once the loop has
// stopped.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Queued returns the number of tasks waiting to run.
func (l *Loop) Queued() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// Do posts fn and waits for it to finish. It must not be called from
// inside a task.
func (l *Loop) Do(fn func()) bool {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return false
	}
	select {
	case <-finished:
		return true
	case <-l.done:
		return false
	}
}

// Timer is a pending delayed task.
type Timer struct {
	loop *Loop
	t    *time.Timer
}

// Stop cancels the timer. It reports whether the task was still pending.
func (t *Timer) Stop() bool {
	if t == nil {
		return false
	}
	t.loop.forget(t)
	return t.t.Stop()
}

// After posts fn to the loop once d has elapsed. Timers are not cancelled
// by newer events; tasks guard against running stale.
func (l *Loop) After(d time.Duration, fn func()) *Timer {
	timer := &Timer{loop: l}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return timer.inert()
	}
	l.timers[timer] = struct{}{}
	timer.t = time.AfterFunc(d, func() {
		l.forget(timer)
		l.Post(fn)
	})
	return timer
}

func (t *Timer) inert() *Timer {
	t.t = time.NewTimer(time.Hour)
	t.t.Stop()
	return t
}

func (l *Loop) forget(t *Timer) {
	l.mu.Lock()
	delete(l.timers, t)
	l.mu.Unlock()
}

// Pending returns the number of armed timers.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.timers)
}

// Package errors - event bus integration
package errors

import (
	"sync"
	"sync/atomic"
)

// EventPublisher is an interface for publishing error events.
// It lets this package push errors to the event bus without importing it.
type EventPublisher interface {
	TryPublish(event any) bool
}

// ErrorHook is called synchronously for every built error while reporting is active
type ErrorHook func(ee *EnhancedError)

var (
	globalEventPublisher atomic.Pointer[EventPublisher]
	hasActiveReporting   atomic.Bool

	hooksMu sync.RWMutex
	hooks   []ErrorHook
)

// SetEventPublisher installs the publisher that receives every built error.
// Passing nil disables publishing.
func SetEventPublisher(publisher EventPublisher) {
	if publisher == nil {
		globalEventPublisher.Store(nil)
	} else {
		globalEventPublisher.Store(&publisher)
	}
	updateReportingState()
}

// AddErrorHook registers a hook invoked for each built error
func AddErrorHook(hook ErrorHook) {
	hooksMu.Lock()
	hooks = append(hooks, hook)
	hooksMu.Unlock()
	updateReportingState()
}

// ClearErrorHooks removes all registered hooks
func ClearErrorHooks() {
	hooksMu.Lock()
	hooks = nil
	hooksMu.Unlock()
	updateReportingState()
}

func updateReportingState() {
	hooksMu.RLock()
	active := len(hooks) > 0
	hooksMu.RUnlock()

	if p := globalEventPublisher.Load(); p != nil && *p != nil {
		active = true
	}
	hasActiveReporting.Store(active)
}

// report runs hooks and publishes the error to the event bus if available
func report(ee *EnhancedError) {
	hooksMu.RLock()
	current := hooks
	hooksMu.RUnlock()

	for _, hook := range current {
		hook(ee)
	}

	publisherPtr := globalEventPublisher.Load()
	if publisherPtr == nil || *publisherPtr == nil {
		return
	}
	if (*publisherPtr).TryPublish(ee) {
		ee.MarkReported()
	}
}

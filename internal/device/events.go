package device

import (
	"slices"
	"sync"
)

// EventType identifies a device event.
type EventType int

const (
	OutputChanged EventType = iota
	ListChanged
	JackConnectedChanged
	IsAliveChanged
	VolumeChanged
	MuteChanged
	SampleRateChanged
)

func (t EventType) String() string {
	switch t {
	case OutputChanged:
		return "output-changed"
	case ListChanged:
		return "device-list-changed"
	case JackConnectedChanged:
		return "jack-connected-changed"
	case IsAliveChanged:
		return "is-alive-changed"
	case VolumeChanged:
		return "volume-changed"
	case MuteChanged:
		return "mute-changed"
	case SampleRateChanged:
		return "sample-rate-changed"
	default:
		return "unknown"
	}
}

// Event is one device notification. Device is the subject for every type
// but ListChanged, which fills Added and Removed.
type Event struct {
	Type      EventType
	Device    AudioDevice
	Added     []AudioDevice
	Removed   []AudioDevice
	Connected bool // JackConnectedChanged
	Alive     bool // IsAliveChanged
}

// Handler receives events on the emitter's goroutine.
type Handler func(Event)

// EventSource delivers typed device events.
type EventSource interface {
	Subscribe(t EventType, h Handler) *Subscription
}

// Hub is a typed observer registry. Registries embed it to implement
// EventSource.
type Hub struct {
	mu       sync.RWMutex
	handlers map[EventType]map[uint64]Handler
	nextID   uint64
}

// Subscribe registers h for events of type t.
func (h *Hub) Subscribe(t EventType, handler Handler) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.handlers == nil {
		h.handlers = make(map[EventType]map[uint64]Handler)
	}
	if h.handlers[t] == nil {
		h.handlers[t] = make(map[uint64]Handler)
	}
	h.nextID++
	id := h.nextID
	h.handlers[t][id] = handler

	return &Subscription{cancel: func() {
		h.mu.Lock()
		delete(h.handlers[t], id)
		h.mu.Unlock()
	}}
}

// Emit calls every handler subscribed to ev.Type, in subscription order.
func (h *Hub) Emit(ev Event) {
	h.mu.RLock()
	ids := make([]uint64, 0, len(h.handlers[ev.Type]))
	for id := range h.handlers[ev.Type] {
		ids = append(ids, id)
	}
	handlers := make([]Handler, 0, len(ids))
	slices.Sort(ids)
	for _, id := range ids {
		handlers = append(handlers, h.handlers[ev.Type][id])
	}
	h.mu.RUnlock()

	for _, fn := range handlers {
		fn(ev)
	}
}

// Len returns the number of live subscriptions for t.
func (h *Hub) Len(t EventType) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.handlers[t])
}

// Subscription is one handler registration.
type Subscription struct {
	once   sync.Once
	cancel func()
}

// Unsubscribe removes the handler. It is safe to call more than once.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.cancel == nil {
		return
	}
	s.once.Do(s.cancel)
}

// Subscriptions groups registrations so they can be dropped together when
// listeners are re-armed.
type Subscriptions struct {
	mu   sync.Mutex
	subs []*Subscription
}

// Add tracks sub.
func (g *Subscriptions) Add(sub *Subscription) {
	g.mu.Lock()
	g.subs = append(g.subs, sub)
	g.mu.Unlock()
}

// UnsubscribeAll cancels every tracked subscription.
func (g *Subscriptions) UnsubscribeAll() {
	g.mu.Lock()
	subs := g.subs
	g.subs = nil
	g.mu.Unlock()

	for _, s := range subs {
		s.Unsubscribe()
	}
}

// Len returns the number of tracked subscriptions.
func (g *Subscriptions) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.subs)
}

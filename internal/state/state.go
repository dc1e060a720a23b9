// Package state holds the application state the audio session reads and
// proposes changes to. Every action carries its origin so listeners can tell
// an echo of the session's own write from an externally observed change.
package state

import (
	"math"
	"sync"
)

// Origin tags who caused an action.
type Origin int

const (
	// OriginExternal is a change made by the user or another collaborator.
	OriginExternal Origin = iota
	// OriginSelf is a change the session made while propagating state.
	OriginSelf
)

func (o Origin) String() string {
	if o == OriginSelf {
		return "self"
	}
	return "external"
}

// EqualizerType selects the active equalizer.
type EqualizerType string

const (
	EqualizerBasic      EqualizerType = "Basic"
	EqualizerAdvanced   EqualizerType = "Advanced"
	EqualizerParametric EqualizerType = "Parametric"
)

// ParseEqualizerType maps a stored type name to a type. Unknown names are Basic.
func ParseEqualizerType(s string) EqualizerType {
	switch EqualizerType(s) {
	case EqualizerAdvanced:
		return EqualizerAdvanced
	case EqualizerParametric:
		return EqualizerParametric
	default:
		return EqualizerBasic
	}
}

// FlatPresetID is the built-in preset every equalizer starts on.
const FlatPresetID = "flat"

// Volume is the application's volume state.
type Volume struct {
	Gain         float64 // 0..1, above 1 is boost
	Muted        bool
	Balance      float64 // -1 (left) .. 1 (right)
	BoostEnabled bool
}

// Equalizers is the equalizer selection state.
type Equalizers struct {
	Type               EqualizerType
	BasicPresetID      string
	AdvancedPresetID   string
	ParametricPresetID string
}

// SelectedPresetID returns the selected preset of the active type.
func (e Equalizers) SelectedPresetID() string {
	switch e.Type {
	case EqualizerAdvanced:
		return e.AdvancedPresetID
	case EqualizerParametric:
		return e.ParametricPresetID
	default:
		return e.BasicPresetID
	}
}

// State is the full application state.
type State struct {
	Enabled    bool
	Volume     Volume
	Equalizers Equalizers
}

// Default returns the initial state.
func Default() State {
	return State{
		Enabled: true,
		Volume:  Volume{Gain: 1},
		Equalizers: Equalizers{
			Type:               EqualizerBasic,
			BasicPresetID:      FlatPresetID,
			AdvancedPresetID:   FlatPresetID,
			ParametricPresetID: FlatPresetID,
		},
	}
}

// Listener observes every applied action.
type Listener func(prev, next State, action Action)

// Store serializes actions and notifies listeners in dispatch order.
type Store struct {
	mu          sync.Mutex
	state       State
	queue       []Action
	dispatching bool

	listeners map[uint64]Listener
	order     []uint64
	nextID    uint64
}

// NewStore creates a store with the given initial state.
func NewStore(initial State) *Store {
	return &Store{
		state:     initial,
		listeners: make(map[uint64]Listener),
	}
}

// State returns a snapshot of the current state.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Dispatch applies an action and notifies listeners. An action dispatched
// from inside a listener, or while another goroutine is dispatching, is
// queued and applied once the current notification round finishes.
func (s *Store) Dispatch(a Action) {
	s.mu.Lock()
	s.queue = append(s.queue, a)
	if s.dispatching {
		s.mu.Unlock()
		return
	}
	s.dispatching = true

	for len(s.queue) > 0 {
		next := s.queue[0]
		s.queue = s.queue[1:]

		prev := s.state
		s.state = reduce(prev, next)
		cur := s.state
		listeners := s.snapshotListeners()

		s.mu.Unlock()
		for _, l := range listeners {
			l(prev, cur, next)
		}
		s.mu.Lock()
	}

	s.dispatching = false
	s.mu.Unlock()
}

func (s *Store) snapshotListeners() []Listener {
	out := make([]Listener, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.listeners[id])
	}
	return out
}

// Subscribe registers a listener until the returned subscription is cancelled.
func (s *Store) Subscribe(l Listener) *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := s.nextID
	s.listeners[id] = l
	s.order = append(s.order, id)

	return &Subscription{store: s, id: id}
}

func (s *Store) unsubscribe(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.listeners[id]; !ok {
		return
	}
	delete(s.listeners, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i:i], s.order[i+1:]...)
			break
		}
	}
}

// Subscription is a live store listener registration.
type Subscription struct {
	store *Store
	id    uint64
	once  sync.Once
}

// Unsubscribe removes the listener. Calling it more than once is harmless.
func (sub *Subscription) Unsubscribe() {
	if sub == nil {
		return
	}
	sub.once.Do(func() { sub.store.unsubscribe(sub.id) })
}

func reduce(s State, a Action) State {
	switch a.Type {
	case ActionSetEnabled:
		s.Enabled = a.Bool
	case ActionSetGain:
		s.Volume.Gain = math.Max(0, a.Float)
	case ActionSetMuted:
		s.Volume.Muted = a.Bool
	case ActionSetBalance:
		s.Volume.Balance = math.Max(-1, math.Min(1, a.Float))
	case ActionSetBoostEnabled:
		s.Volume.BoostEnabled = a.Bool
		if !a.Bool && s.Volume.Gain > 1 {
			s.Volume.Gain = 1
		}
	case ActionSetEqualizerType:
		s.Equalizers.Type = ParseEqualizerType(a.String)
	case ActionSelectBasicPreset:
		s.Equalizers.BasicPresetID = a.String
	case ActionSelectAdvancedPreset:
		s.Equalizers.AdvancedPresetID = a.String
	case ActionSelectParametricPreset:
		s.Equalizers.ParametricPresetID = a.String
	}
	return s
}

// Package profile keeps one equalizer configuration per output device and
// restores it when the session switches to that device.
package profile

import (
	"slices"
	"sync/atomic"

	"github.com/tphakala/eqroute/internal/datastore"
	"github.com/tphakala/eqroute/internal/errors"
	"github.com/tphakala/eqroute/internal/events"
	"github.com/tphakala/eqroute/internal/logger"
	"github.com/tphakala/eqroute/internal/state"
)

// Profile is the equalizer selection remembered for a device.
type Profile struct {
	EqualizerType      state.EqualizerType
	BasicPresetID      string
	AdvancedPresetID   string
	ParametricPresetID string
}

// Default is the profile of a device nobody configured.
func Default() Profile {
	return Profile{
		EqualizerType:      state.EqualizerBasic,
		BasicPresetID:      state.FlatPresetID,
		AdvancedPresetID:   state.FlatPresetID,
		ParametricPresetID: state.FlatPresetID,
	}
}

// HasConfig reports whether p differs from the default.
func (p Profile) HasConfig() bool {
	return p != Default()
}

// Backend persists profiles. datastore.Interface satisfies it.
type Backend interface {
	GetProfile(uid string) (datastore.DeviceProfile, error)
	SaveProfile(p *datastore.DeviceProfile) error
	DeleteProfile(uid string) error
	ListProfiles() ([]datastore.DeviceProfile, error)
}

// Publisher receives profiles-changed notifications. *events.Bus satisfies it.
type Publisher interface {
	Publish(n events.Notification) bool
}

// Store maps device UIDs to profiles.
type Store struct {
	backend  Backend
	state    *state.Store
	pub      Publisher
	log      logger.Logger
	applying atomic.Bool
}

// New creates a store. pub may be nil.
func New(backend Backend, st *state.Store, pub Publisher, log logger.Logger) *Store {
	if log == nil {
		log = logger.Global().Module("profile")
	}
	return &Store{backend: backend, state: st, pub: pub, log: log}
}

// Get returns the profile of uid, or the default if none is stored.
func (s *Store) Get(uid string) (Profile, error) {
	row, err := s.backend.GetProfile(uid)
	if err != nil {
		if errors.IsNotFound(err) {
			return Default(), nil
		}
		return Default(), err
	}
	return fromRow(&row), nil
}

// Save stores p for uid. A default profile deletes the stored one instead.
func (s *Store) Save(p Profile, uid string) error {
	var err error
	if p.HasConfig() {
		err = s.backend.SaveProfile(toRow(p, uid))
	} else {
		err = s.backend.DeleteProfile(uid)
	}
	if err != nil {
		return err
	}

	s.log.Info("saved device profile",
		logger.String("uid", uid),
		logger.String("type", string(p.EqualizerType)),
		logger.String("basic", p.BasicPresetID),
		logger.String("advanced", p.AdvancedPresetID),
		logger.String("parametric", p.ParametricPresetID),
		logger.Bool("has_config", p.HasConfig()))
	s.notify()
	return nil
}

// Remove forgets the profile of uid.
func (s *Store) Remove(uid string) error {
	if err := s.backend.DeleteProfile(uid); err != nil {
		return err
	}
	s.notify()
	return nil
}

// All returns every stored profile keyed by UID.
func (s *Store) All() (map[string]Profile, error) {
	rows, err := s.backend.ListProfiles()
	if err != nil {
		return nil, err
	}
	out := make(map[string]Profile, len(rows))
	for i := range rows {
		out[rows[i].UID] = fromRow(&rows[i])
	}
	return out, nil
}

// ConfiguredDeviceUIDs returns the sorted UIDs with a non-default profile.
func (s *Store) ConfiguredDeviceUIDs() ([]string, error) {
	all, err := s.All()
	if err != nil {
		return nil, err
	}
	uids := make([]string, 0, len(all))
	for uid, p := range all {
		if p.HasConfig() {
			uids = append(uids, uid)
		}
	}
	slices.Sort(uids)
	return uids, nil
}

// CurrentProfile snapshots the equalizer selection from application state.
func (s *Store) CurrentProfile() Profile {
	eq := s.state.State().Equalizers
	return Profile{
		EqualizerType:      eq.Type,
		BasicPresetID:      eq.BasicPresetID,
		AdvancedPresetID:   eq.AdvancedPresetID,
		ParametricPresetID: eq.ParametricPresetID,
	}
}

// SaveCurrentProfile saves the current selection for uid. It does nothing
// while a profile is being applied.
func (s *Store) SaveCurrentProfile(uid string) error {
	if uid == "" || s.applying.Load() {
		return nil
	}
	return s.Save(s.CurrentProfile(), uid)
}

// Applying reports whether Apply is dispatching actions.
func (s *Store) Applying() bool {
	return s.applying.Load()
}

// Apply dispatches the stored profile of uid into application state.
// Preset selections go first so a type change that rebuilds the pipeline
// already sees them. Actions are tagged OriginSelf.
func (s *Store) Apply(uid string) error {
	p, err := s.Get(uid)
	if err != nil {
		return err
	}

	s.applying.Store(true)
	defer s.applying.Store(false)

	s.log.Info("applying device profile",
		logger.String("uid", uid),
		logger.String("type", string(p.EqualizerType)),
		logger.Bool("has_config", p.HasConfig()))

	s.state.Dispatch(state.SelectBasicPreset(p.BasicPresetID, state.OriginSelf))
	s.state.Dispatch(state.SelectAdvancedPreset(p.AdvancedPresetID, state.OriginSelf))
	s.state.Dispatch(state.SelectParametricPreset(p.ParametricPresetID, state.OriginSelf))

	if s.state.State().Equalizers.Type != p.EqualizerType {
		s.state.Dispatch(state.SetEqualizerType(p.EqualizerType, state.OriginSelf))
	}
	return nil
}

func (s *Store) notify() {
	if s.pub != nil {
		s.pub.Publish(events.ProfilesChanged())
	}
}

func fromRow(row *datastore.DeviceProfile) Profile {
	orFlat := func(id string) string {
		if id == "" {
			return state.FlatPresetID
		}
		return id
	}
	return Profile{
		EqualizerType:      state.ParseEqualizerType(row.EqualizerType),
		BasicPresetID:      orFlat(row.BasicPresetID),
		AdvancedPresetID:   orFlat(row.AdvancedPresetID),
		ParametricPresetID: orFlat(row.ParametricPresetID),
	}
}

func toRow(p Profile, uid string) *datastore.DeviceProfile {
	return &datastore.DeviceProfile{
		UID:                uid,
		EqualizerType:      string(p.EqualizerType),
		BasicPresetID:      p.BasicPresetID,
		AdvancedPresetID:   p.AdvancedPresetID,
		ParametricPresetID: p.ParametricPresetID,
	}
}

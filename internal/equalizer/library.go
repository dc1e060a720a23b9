package equalizer

import (
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/tphakala/eqroute/internal/errors"
	"github.com/tphakala/eqroute/internal/state"
)

// PresetStore persists user presets.
type PresetStore interface {
	Presets(mode state.EqualizerType) ([]Preset, error)
	SavePreset(p Preset) error
	DeletePreset(mode state.EqualizerType, id string) error
}

// Library manages the presets of one mode. The flat preset is immutable;
// the manual preset may be overwritten but not deleted.
type Library struct {
	mode  state.EqualizerType
	store PresetStore

	mu       sync.Mutex
	onChange []func(mode state.EqualizerType)
}

// NewLibrary creates a library backed by store.
func NewLibrary(mode state.EqualizerType, store PresetStore) *Library {
	return &Library{mode: mode, store: store}
}

// Mode returns the equalizer mode the library serves.
func (l *Library) Mode() state.EqualizerType { return l.mode }

// OnChange registers fn to run after every create, update or delete.
func (l *Library) OnChange(fn func(mode state.EqualizerType)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChange = append(l.onChange, fn)
}

func (l *Library) changed() {
	l.mu.Lock()
	fns := slices.Clone(l.onChange)
	l.mu.Unlock()
	for _, fn := range fns {
		fn(l.mode)
	}
}

// List returns manual, flat, then user presets sorted by name.
func (l *Library) List() ([]Preset, error) {
	stored, err := l.store.Presets(l.mode)
	if err != nil {
		return nil, err
	}

	manual := ManualPreset(l.mode)
	user := make([]Preset, 0, len(stored))
	for _, p := range stored {
		switch p.ID {
		case ManualPresetID:
			manual = p
			manual.BuiltIn = true
		case FlatPresetID:
			// Never stored, ignore stale rows.
		default:
			user = append(user, p)
		}
	}
	slices.SortFunc(user, func(a, b Preset) int { return strings.Compare(a.Name, b.Name) })

	return append([]Preset{manual, FlatPreset(l.mode)}, user...), nil
}

// Get returns the preset with id.
func (l *Library) Get(id string) (Preset, error) {
	presets, err := l.List()
	if err != nil {
		return Preset{}, err
	}
	if i := slices.IndexFunc(presets, func(p Preset) bool { return p.ID == id }); i >= 0 {
		return presets[i], nil
	}
	return Preset{}, errors.Newf("%s preset %q not found", l.mode, id).
		Component("equalizer").
		Category(errors.CategoryNotFound).
		Context("preset_id", id).
		Build()
}

// Create stores a new user preset under a fresh id.
func (l *Library) Create(p Preset) (Preset, error) {
	p = p.Clone()
	p.ID = uuid.NewString()
	p.Mode = l.mode
	p.BuiltIn = false
	if err := p.Validate(); err != nil {
		return Preset{}, err
	}
	if err := l.store.SavePreset(p); err != nil {
		return Preset{}, err
	}
	l.changed()
	return p, nil
}

// Update replaces the bands of an existing preset, keeping its name.
func (l *Library) Update(p Preset) error {
	if p.ID == FlatPresetID {
		return l.immutable(p.ID, "update")
	}
	existing, err := l.Get(p.ID)
	if err != nil {
		return err
	}
	updated := p.Clone()
	updated.Name = existing.Name
	updated.Mode = l.mode
	updated.BuiltIn = false
	if err := updated.Validate(); err != nil {
		return err
	}
	if err := l.store.SavePreset(updated); err != nil {
		return err
	}
	l.changed()
	return nil
}

// Delete removes a user preset.
func (l *Library) Delete(id string) error {
	if id == FlatPresetID || id == ManualPresetID {
		return l.immutable(id, "delete")
	}
	if _, err := l.Get(id); err != nil {
		return err
	}
	if err := l.store.DeletePreset(l.mode, id); err != nil {
		return err
	}
	l.changed()
	return nil
}

func (l *Library) immutable(id, op string) error {
	return errors.Newf("cannot %s built-in %s preset %q", op, l.mode, id).
		Component("equalizer").
		Category(errors.CategoryConflict).
		Context("preset_id", id).
		Build()
}

// Libraries groups the per-mode libraries.
type Libraries struct {
	Basic      *Library
	Advanced   *Library
	Parametric *Library
}

// NewLibraries creates one library per mode over a shared store.
func NewLibraries(store PresetStore) *Libraries {
	return &Libraries{
		Basic:      NewLibrary(state.EqualizerBasic, store),
		Advanced:   NewLibrary(state.EqualizerAdvanced, store),
		Parametric: NewLibrary(state.EqualizerParametric, store),
	}
}

// For returns the library serving mode. Unknown modes get Basic.
func (ls *Libraries) For(mode state.EqualizerType) *Library {
	switch mode {
	case state.EqualizerAdvanced:
		return ls.Advanced
	case state.EqualizerParametric:
		return ls.Parametric
	default:
		return ls.Basic
	}
}

// OnChange registers fn on every library.
func (ls *Libraries) OnChange(fn func(mode state.EqualizerType)) {
	ls.Basic.OnChange(fn)
	ls.Advanced.OnChange(fn)
	ls.Parametric.OnChange(fn)
}

// Selected resolves the active preset from equalizer state. A selection
// that no longer exists resolves to flat.
func (ls *Libraries) Selected(eq state.Equalizers) (Preset, error) {
	lib := ls.For(eq.Type)
	p, err := lib.Get(eq.SelectedPresetID())
	if errors.IsNotFound(err) {
		return FlatPreset(lib.Mode()), nil
	}
	return p, err
}

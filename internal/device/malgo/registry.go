// Package malgo exposes the miniaudio device list as a device.Registry.
//
// miniaudio has no change notifications, so the registry polls the device
// list and synthesizes device-list and output-changed events by diffing
// snapshots.
package malgo

import (
	"context"
	"encoding/hex"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/tphakala/eqroute/internal/device"
	"github.com/tphakala/eqroute/internal/errors"
	"github.com/tphakala/eqroute/internal/logger"
)

// Config controls enumeration.
type Config struct {
	// DriverName identifies the playback device that acts as the virtual driver.
	DriverName string
	// SampleRate is reported for devices, miniaudio does not expose a nominal rate.
	SampleRate   float64
	PollInterval time.Duration
}

// rawDevice is one enumerated playback endpoint.
type rawDevice struct {
	uid       string
	name      string
	isDefault bool
}

type enumerateFunc func() ([]rawDevice, error)

// Registry is a polling device.Registry on top of miniaudio.
type Registry struct {
	device.Hub

	cfg       Config
	log       logger.Logger
	enumerate enumerateFunc
	closeCtx  func() error

	mu            sync.Mutex
	devices       []device.AudioDevice
	ids           map[string]uint32
	nextID        uint32
	osDefault     uint32
	defaultOutput uint32
	systemOutput  uint32
}

// Open initializes a miniaudio context and takes the first snapshot.
func Open(cfg Config, log logger.Logger) (*Registry, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, errors.New(err).
			Component("device").
			Category(errors.CategoryDevice).
			Context("operation", "init_context").
			Build()
	}

	r := newRegistry(cfg, log, func() ([]rawDevice, error) {
		return enumeratePlayback(mctx)
	})
	r.closeCtx = func() error {
		err := mctx.Uninit()
		mctx.Free()
		return err
	}

	if err := r.Refresh(); err != nil {
		_ = r.Close()
		return nil, err
	}
	return r, nil
}

func newRegistry(cfg Config, log logger.Logger, enumerate enumerateFunc) *Registry {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 48000
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if log == nil {
		log = logger.Global().Module("device.malgo")
	}
	return &Registry{
		cfg:       cfg,
		log:       log,
		enumerate: enumerate,
		ids:       make(map[string]uint32),
		nextID:    1,
	}
}

var _ device.Registry = (*Registry)(nil)

// Run polls the device list until ctx is cancelled.
func (r *Registry) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := r.Refresh(); err != nil {
				r.log.Warn("device poll failed", logger.Error(err))
			}
		}
	}
}

// Refresh re-enumerates devices and emits events for what changed.
func (r *Registry) Refresh() error {
	raw, err := r.enumerate()
	if err != nil {
		return errors.New(err).
			Component("device").
			Category(errors.CategoryDevice).
			Context("operation", "enumerate_devices").
			Build()
	}

	r.mu.Lock()
	next := make([]device.AudioDevice, 0, len(raw))
	var osDefault uint32
	for _, rd := range raw {
		d := r.toDeviceLocked(rd)
		if rd.isDefault {
			osDefault = d.ID
		}
		next = append(next, d)
	}
	added, removed := device.Diff(r.devices, next)
	r.devices = next

	var outputChanged *device.AudioDevice
	if osDefault != 0 && osDefault != r.osDefault {
		r.osDefault = osDefault
		// Only an OS-side change moves our notion of the current output.
		if osDefault != r.defaultOutput {
			r.defaultOutput = osDefault
			if i := r.indexLocked(osDefault); i >= 0 {
				d := r.devices[i]
				outputChanged = &d
			}
		}
	}
	if r.indexLocked(r.defaultOutput) < 0 && len(r.devices) > 0 {
		r.defaultOutput = r.devices[0].ID
	}
	if r.systemOutput == 0 {
		r.systemOutput = r.defaultOutput
	}
	r.mu.Unlock()

	if len(added) > 0 || len(removed) > 0 {
		r.log.Debug("device list changed",
			logger.Int("added", len(added)),
			logger.Int("removed", len(removed)))
		r.Emit(device.Event{Type: device.ListChanged, Added: added, Removed: removed})
	}
	if outputChanged != nil {
		r.Emit(device.Event{Type: device.OutputChanged, Device: *outputChanged})
	}
	return nil
}

func (r *Registry) toDeviceLocked(rd rawDevice) device.AudioDevice {
	id, ok := r.ids[rd.uid]
	if !ok {
		id = r.nextID
		r.nextID++
		r.ids[rd.uid] = id
	}
	transport := classifyTransport(rd.name, r.cfg.DriverName)
	return device.AudioDevice{
		ID:                id,
		Name:              rd.name,
		UID:               rd.uid,
		Transport:         transport,
		JackCapable:       transport == device.TransportBuiltIn,
		Alive:             true,
		NominalSampleRate: r.cfg.SampleRate,
		ActualSampleRate:  r.cfg.SampleRate,
		Volume:            1,
		Balance:           0.5,
	}
}

// Devices implements device.Registry.
func (r *Registry) Devices() []device.AudioDevice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.devices)
}

// Device implements device.Registry.
func (r *Registry) Device(id uint32) (device.AudioDevice, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i := r.indexLocked(id); i >= 0 {
		return r.devices[i], true
	}
	return device.AudioDevice{}, false
}

// DefaultOutput implements device.Registry.
func (r *Registry) DefaultOutput() (device.AudioDevice, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i := r.indexLocked(r.defaultOutput); i >= 0 {
		return r.devices[i], true
	}
	return device.AudioDevice{}, false
}

// SetDefaultOutput records the routing target. miniaudio cannot change the
// OS default, so this only affects eqroute's own routing.
func (r *Registry) SetDefaultOutput(id uint32) error {
	r.mu.Lock()
	i := r.indexLocked(id)
	if i < 0 {
		r.mu.Unlock()
		return errors.Newf("playback device %d not found", id).
			Component("device").
			Category(errors.CategoryNotFound).
			Build()
	}
	changed := r.defaultOutput != id
	r.defaultOutput = id
	d := r.devices[i]
	r.mu.Unlock()

	if changed {
		r.Emit(device.Event{Type: device.OutputChanged, Device: d})
	}
	return nil
}

// SetDefaultSystemOutput implements device.Registry.
func (r *Registry) SetDefaultSystemOutput(id uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.indexLocked(id) < 0 {
		return errors.Newf("playback device %d not found", id).
			Component("device").
			Category(errors.CategoryNotFound).
			Build()
	}
	r.systemOutput = id
	return nil
}

// Close releases the miniaudio context.
func (r *Registry) Close() error {
	if r.closeCtx == nil {
		return nil
	}
	closeCtx := r.closeCtx
	r.closeCtx = nil
	return closeCtx()
}

// update mutates a known device and returns the result.
func (r *Registry) update(id uint32, fn func(*device.AudioDevice)) (device.AudioDevice, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.indexLocked(id)
	if i < 0 {
		return device.AudioDevice{}, false
	}
	fn(&r.devices[i])
	return r.devices[i], true
}

func (r *Registry) indexLocked(id uint32) int {
	return slices.IndexFunc(r.devices, func(d device.AudioDevice) bool { return d.ID == id })
}

func enumeratePlayback(mctx *malgo.AllocatedContext) ([]rawDevice, error) {
	infos, err := mctx.Devices(malgo.Playback)
	if err != nil {
		return nil, err
	}
	out := make([]rawDevice, 0, len(infos))
	seen := make(map[string]struct{}, len(infos))
	for i := range infos {
		name := infos[i].Name()
		if strings.Contains(name, "Discard all samples") {
			continue
		}
		uid := DeviceUID(infos[i].ID.String())
		if _, dup := seen[uid]; dup {
			continue
		}
		seen[uid] = struct{}{}
		out = append(out, rawDevice{uid: uid, name: name, isDefault: infos[i].IsDefault == 1})
	}
	return out, nil
}

// DeviceUID decodes miniaudio's hex device id, falling back to the raw form.
func DeviceUID(hexID string) string {
	decoded, err := hexToASCII(hexID)
	if err != nil || decoded == "" {
		return hexID
	}
	return strings.TrimRight(decoded, "\x00")
}

func hexToASCII(hexStr string) (string, error) {
	b, err := hex.DecodeString(hexStr)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// classifyTransport guesses the transport from the device name.
func classifyTransport(name, driverName string) device.Transport {
	lower := strings.ToLower(name)
	switch {
	case driverName != "" && strings.Contains(lower, strings.ToLower(driverName)):
		return device.TransportVirtual
	case strings.Contains(lower, "monitor of"), strings.Contains(lower, "null"), strings.Contains(lower, "loopback"):
		return device.TransportVirtual
	case strings.Contains(lower, "bluetooth"), strings.Contains(lower, "bluez"), strings.Contains(lower, "a2dp"):
		return device.TransportBluetooth
	case strings.Contains(lower, "usb"):
		return device.TransportUSB
	case strings.Contains(lower, "hdmi"), strings.Contains(lower, "displayport"):
		return device.TransportHDMI
	case strings.Contains(lower, "aggregate"), strings.Contains(lower, "multi-output"):
		return device.TransportAggregate
	case strings.Contains(lower, "built-in"), strings.Contains(lower, "analog"), strings.Contains(lower, "speaker"),
		strings.Contains(lower, "headphone"), strings.Contains(lower, "internal"):
		return device.TransportBuiltIn
	default:
		return device.TransportUnknown
	}
}

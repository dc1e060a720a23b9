package malgo

import (
	"github.com/gen2brain/malgo"

	"github.com/tphakala/eqroute/internal/errors"
)

// DeviceInfo describes an endpoint for listing.
type DeviceInfo struct {
	Index     int
	Name      string
	ID        string
	IsDefault bool
}

// Inventory holds both directions.
type Inventory struct {
	Playback []DeviceInfo
	Capture  []DeviceInfo
}

// ListDevices enumerates playback and capture endpoints.
func ListDevices() (Inventory, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return Inventory{}, errors.New(err).
			Component("device").
			Category(errors.CategoryDevice).
			Context("operation", "init_context").
			Build()
	}
	defer func() {
		_ = mctx.Uninit()
		mctx.Free()
	}()

	playback, err := listDirection(mctx, malgo.Playback)
	if err != nil {
		return Inventory{}, err
	}
	capture, err := listDirection(mctx, malgo.Capture)
	if err != nil {
		return Inventory{}, err
	}
	return Inventory{Playback: playback, Capture: capture}, nil
}

func listDirection(mctx *malgo.AllocatedContext, typ malgo.DeviceType) ([]DeviceInfo, error) {
	infos, err := mctx.Devices(typ)
	if err != nil {
		return nil, errors.New(err).
			Component("device").
			Category(errors.CategoryDevice).
			Context("operation", "enumerate_devices").
			Build()
	}
	out := make([]DeviceInfo, 0, len(infos))
	for i := range infos {
		out = append(out, DeviceInfo{
			Index:     i,
			Name:      infos[i].Name(),
			ID:        DeviceUID(infos[i].ID.String()),
			IsDefault: infos[i].IsDefault == 1,
		})
	}
	return out, nil
}

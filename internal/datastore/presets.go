package datastore

import (
	"encoding/json"
	"time"

	"gorm.io/gorm/clause"

	"github.com/tphakala/eqroute/internal/equalizer"
	"github.com/tphakala/eqroute/internal/errors"
	"github.com/tphakala/eqroute/internal/logger"
	"github.com/tphakala/eqroute/internal/state"
)

// Presets returns the user presets of mode.
func (ds *DataStore) Presets(mode state.EqualizerType) ([]equalizer.Preset, error) {
	var rows []EqualizerPreset
	if err := ds.DB.Where("mode = ?", modeKey(mode)).Order("name").Find(&rows).Error; err != nil {
		return nil, dbError(err, "list_presets", "mode", mode)
	}

	out := make([]equalizer.Preset, 0, len(rows))
	for i := range rows {
		p, err := presetFromRow(&rows[i])
		if err != nil {
			ds.log.Warn("skipping unreadable preset",
				logger.String("preset_id", rows[i].ID),
				logger.String("mode", rows[i].Mode),
				logger.Error(err))
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// SavePreset upserts p by id and mode.
func (ds *DataStore) SavePreset(p equalizer.Preset) error {
	row, err := rowFromPreset(p)
	if err != nil {
		return err
	}
	now := time.Now()
	row.CreatedAt = now
	row.UpdatedAt = now

	err = ds.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}, {Name: "mode"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "global", "bands", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return dbError(err, "save_preset", "preset_id", p.ID, "mode", p.Mode)
	}
	return nil
}

// DeletePreset removes a user preset.
func (ds *DataStore) DeletePreset(mode state.EqualizerType, id string) error {
	if err := ds.DB.Where("id = ? AND mode = ?", id, modeKey(mode)).Delete(&EqualizerPreset{}).Error; err != nil {
		return dbError(err, "delete_preset", "preset_id", id, "mode", mode)
	}
	return nil
}

// presetBands is the JSON payload of EqualizerPreset.Bands.
type presetBands struct {
	Gains   []float64                    `json:"gains,omitempty"`
	Filters []equalizer.ParametricFilter `json:"filters,omitempty"`
}

func rowFromPreset(p equalizer.Preset) (EqualizerPreset, error) {
	if p.ID == "" {
		return EqualizerPreset{}, validationError("preset id cannot be empty", "id", p.ID)
	}
	bands, err := json.Marshal(presetBands{Gains: p.Gains, Filters: p.Filters})
	if err != nil {
		return EqualizerPreset{}, errors.New(err).
			Component("datastore").
			Category(errors.CategoryValidation).
			Context("operation", "encode_preset_bands").
			Build()
	}
	return EqualizerPreset{
		ID:     p.ID,
		Mode:   modeKey(p.Mode),
		Name:   p.Name,
		Global: p.Global,
		Bands:  string(bands),
	}, nil
}

func presetFromRow(row *EqualizerPreset) (equalizer.Preset, error) {
	var bands presetBands
	if row.Bands != "" {
		if err := json.Unmarshal([]byte(row.Bands), &bands); err != nil {
			return equalizer.Preset{}, errors.New(err).
				Component("datastore").
				Category(errors.CategoryFileParsing).
				Context("operation", "decode_preset_bands").
				Build()
		}
	}
	return equalizer.Preset{
		ID:      row.ID,
		Name:    row.Name,
		Mode:    state.ParseEqualizerType(row.Mode),
		Global:  row.Global,
		Gains:   bands.Gains,
		Filters: bands.Filters,
	}, nil
}

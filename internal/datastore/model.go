package datastore

import "time"

// DeviceProfile is the persisted equalizer selection of one output device,
// keyed by device UID.
type DeviceProfile struct {
	UID                string `gorm:"primaryKey;size:255"`
	EqualizerType      string `gorm:"size:32;not null"`
	BasicPresetID      string `gorm:"size:64"`
	AdvancedPresetID   string `gorm:"size:64"`
	ParametricPresetID string `gorm:"size:64"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// EqualizerPreset is a user preset. Bands holds the JSON encoded gains or
// parametric filters.
type EqualizerPreset struct {
	ID        string `gorm:"primaryKey;size:64"`
	Mode      string `gorm:"primaryKey;size:32"`
	Name      string `gorm:"size:255;not null"`
	Global    float64
	Bands     string `gorm:"type:text"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

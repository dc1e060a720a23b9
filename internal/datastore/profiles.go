package datastore

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tphakala/eqroute/internal/errors"
)

const profileCachePrefix = "profile:"

// cachedProfile records lookups, absent ones included.
type cachedProfile struct {
	profile DeviceProfile
	found   bool
}

// GetProfile returns the profile stored for uid or a not-found error.
func (ds *DataStore) GetProfile(uid string) (DeviceProfile, error) {
	if uid == "" {
		return DeviceProfile{}, validationError("device uid cannot be empty", "uid", uid)
	}

	key := profileCachePrefix + uid
	if v, ok := ds.cache.Get(key); ok {
		if c, ok := v.(cachedProfile); ok {
			if !c.found {
				return DeviceProfile{}, notFoundError("device profile", uid)
			}
			return c.profile, nil
		}
	}

	var p DeviceProfile
	err := ds.DB.Where("uid = ?", uid).First(&p).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		ds.cache.SetDefault(key, cachedProfile{})
		return DeviceProfile{}, notFoundError("device profile", uid)
	case err != nil:
		return DeviceProfile{}, dbError(err, "get_profile", "uid", uid)
	}

	ds.cache.SetDefault(key, cachedProfile{profile: p, found: true})
	return p, nil
}

// SaveProfile upserts p by UID.
func (ds *DataStore) SaveProfile(p *DeviceProfile) error {
	if p.UID == "" {
		return validationError("device uid cannot be empty", "uid", p.UID)
	}
	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	err := ds.DB.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "uid"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"equalizer_type",
			"basic_preset_id",
			"advanced_preset_id",
			"parametric_preset_id",
			"updated_at",
		}),
	}).Create(p).Error
	ds.cache.Delete(profileCachePrefix + p.UID)
	if err != nil {
		return dbError(err, "save_profile", "uid", p.UID)
	}
	return nil
}

// DeleteProfile removes the profile for uid. Deleting an absent profile
// is not an error.
func (ds *DataStore) DeleteProfile(uid string) error {
	err := ds.DB.Where("uid = ?", uid).Delete(&DeviceProfile{}).Error
	ds.cache.Delete(profileCachePrefix + uid)
	if err != nil {
		return dbError(err, "delete_profile", "uid", uid)
	}
	return nil
}

// ListProfiles returns every stored profile ordered by UID.
func (ds *DataStore) ListProfiles() ([]DeviceProfile, error) {
	var out []DeviceProfile
	if err := ds.DB.Order("uid").Find(&out).Error; err != nil {
		return nil, dbError(err, "list_profiles")
	}
	return out, nil
}

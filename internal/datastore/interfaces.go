// Package datastore persists device equalizer profiles and user presets
// through GORM, on SQLite by default or MySQL.
package datastore

import (
	"time"

	"github.com/patrickmn/go-cache"
	"gorm.io/gorm"

	"github.com/tphakala/eqroute/internal/conf"
	"github.com/tphakala/eqroute/internal/equalizer"
	"github.com/tphakala/eqroute/internal/logger"
	"github.com/tphakala/eqroute/internal/state"
)

// Interface abstracts the database backend.
type Interface interface {
	Open() error
	Close() error
	// Flush forces pending writes to stable storage.
	Flush() error

	GetProfile(uid string) (DeviceProfile, error)
	SaveProfile(p *DeviceProfile) error
	DeleteProfile(uid string) error
	ListProfiles() ([]DeviceProfile, error)

	equalizer.PresetStore
}

// DataStore implements Interface on a GORM database.
type DataStore struct {
	DB     *gorm.DB
	log    logger.Logger
	cache  *cache.Cache
	dbType string
}

// defaultCacheExpiration is used when settings leave it unset.
const defaultCacheExpiration = 5 * time.Minute

// slowQueryThreshold marks statements logged as slow.
const slowQueryThreshold = 200 * time.Millisecond

// New returns the configured backend. MySQL wins when both are enabled.
func New(settings *conf.Settings, log logger.Logger) Interface {
	if log == nil {
		log = logger.Global().Module("datastore")
	}
	base := newDataStore(log, settings.Profiles.CacheExpiration)
	if settings.Output.MySQL.Enabled {
		return &MySQLStore{DataStore: base, Settings: settings}
	}
	return &SQLiteStore{DataStore: base, Settings: settings}
}

func newDataStore(log logger.Logger, expiration time.Duration) DataStore {
	if expiration <= 0 {
		expiration = defaultCacheExpiration
	}
	return DataStore{
		log:   log,
		cache: cache.New(expiration, expiration*2),
	}
}

// NewWithDB wraps an open database, runs migrations and returns the store.
// Tests use it with an in-memory SQLite database.
func NewWithDB(db *gorm.DB, log logger.Logger, cacheExpiration time.Duration) (*DataStore, error) {
	if log == nil {
		log = logger.Global().Module("datastore")
	}
	ds := newDataStore(log, cacheExpiration)
	ds.DB = db
	ds.dbType = db.Dialector.Name()
	if err := ds.migrate(); err != nil {
		return nil, err
	}
	return &ds, nil
}

func (ds *DataStore) gormConfig() *gorm.Config {
	return &gorm.Config{Logger: logger.NewGormLoggerAdapter(ds.log, slowQueryThreshold)}
}

func (ds *DataStore) migrate() error {
	start := time.Now()
	if err := ds.DB.AutoMigrate(&DeviceProfile{}, &EqualizerPreset{}); err != nil {
		return dbError(err, "auto_migrate", "db_type", ds.dbType)
	}
	ds.log.Debug("database migrated",
		logger.String("db_type", ds.dbType),
		logger.Duration("elapsed", time.Since(start)))
	return nil
}

// Open succeeds for a store built by NewWithDB. The backends replace it.
func (ds *DataStore) Open() error {
	if ds.DB != nil {
		return nil
	}
	return validationError("database backend not selected", "output", "")
}

// Close closes the underlying connection pool.
func (ds *DataStore) Close() error {
	if ds.DB == nil {
		return nil
	}
	sqlDB, err := ds.DB.DB()
	if err != nil {
		return dbError(err, "get_sql_db")
	}
	ds.cache.Flush()
	if err := sqlDB.Close(); err != nil {
		return dbError(err, "close")
	}
	return nil
}

// Flush checkpoints the SQLite write-ahead log. Other backends commit on
// every statement and need nothing.
func (ds *DataStore) Flush() error {
	if ds.DB == nil || ds.dbType != "sqlite" {
		return nil
	}
	if err := ds.DB.Exec("PRAGMA wal_checkpoint(TRUNCATE)").Error; err != nil {
		return dbError(err, "wal_checkpoint")
	}
	return nil
}

// modeKey normalizes a mode for storage.
func modeKey(mode state.EqualizerType) string {
	return string(state.ParseEqualizerType(string(mode)))
}

package datastore

import (
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tphakala/eqroute/internal/conf"
	"github.com/tphakala/eqroute/internal/logger"
)

// SQLiteStore implements Interface for SQLite.
type SQLiteStore struct {
	DataStore
	Settings *conf.Settings
}

// Open opens the database file, creating its directory, in WAL mode.
func (store *SQLiteStore) Open() error {
	path := store.Settings.Output.SQLite.Path
	if path == "" {
		return validationError("sqlite path is empty", "output.sqlite.path", path)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return dbError(err, "create_db_directory", "path", dir)
		}
	}

	db, err := gorm.Open(sqlite.Open(path+"?_journal_mode=WAL&_busy_timeout=5000"), store.gormConfig())
	if err != nil {
		return dbError(err, "open_sqlite", "path", path)
	}

	store.DB = db
	store.dbType = "sqlite"
	if err := store.migrate(); err != nil {
		return err
	}
	store.log.Info("profile database opened", logger.String("path", path))
	return nil
}

package datastore

import (
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/tphakala/eqroute/internal/conf"
	"github.com/tphakala/eqroute/internal/logger"
)

// MySQLStore implements Interface for MySQL.
type MySQLStore struct {
	DataStore
	Settings *conf.Settings
}

// Open connects to the configured MySQL database.
func (store *MySQLStore) Open() error {
	cfg := store.Settings.Output.MySQL
	if cfg.Host == "" || cfg.Database == "" {
		return validationError("mysql host and database are required", "output.mysql", cfg.Host)
	}

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database)

	db, err := gorm.Open(mysql.Open(dsn), store.gormConfig())
	if err != nil {
		return dbError(err, "open_mysql",
			"host", cfg.Host,
			"port", cfg.Port,
			"database", cfg.Database)
	}

	store.DB = db
	store.dbType = "mysql"
	if err := store.migrate(); err != nil {
		return err
	}
	store.log.Info("profile database opened",
		logger.String("host", cfg.Host),
		logger.String("database", cfg.Database))
	return nil
}

package database

import (
	"fmt"
	"log"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/camden-git/supplierresolver/logging"
	"github.com/camden-git/supplierresolver/models"
)

// DSN builds the sqlite3 data source for path. Writers take the database lock
// when the transaction begins (BEGIN IMMEDIATE), so a check-then-write inside
// one transaction cannot interleave with another connection's.
func DSN(path string, busyTimeout time.Duration) string {
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=%d&_txlock=immediate&_foreign_keys=1",
		path, busyTimeout.Milliseconds())
}

// InitGormDB initializes and returns a GORM database instance
func InitGormDB(dataSourceName string) (*gorm.DB, error) {
	zl := logging.Component("gorm")
	gormLogger := logger.New(
		log.New(*zl, "", 0),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(sqlite.Open(dataSourceName), &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database using GORM: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB from GORM: %w", err)
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	logging.Default().Info().Str("dsn", dataSourceName).Msg("GORM database initialized")
	return db, nil
}

// AutoMigrateModels creates or updates the resolver schema.
func AutoMigrateModels(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.Supplier{},
		&models.Alias{},
		&models.LinkedRecord{},
		&models.SupplierMerge{},
		&models.ReconcilerLease{},
	)
	if err != nil {
		return fmt.Errorf("GORM AutoMigrate failed: %w", err)
	}
	logging.Default().Info().Msg("GORM AutoMigrate completed successfully")
	return nil
}

// Open is InitGormDB followed by AutoMigrateModels.
func Open(path string, busyTimeout time.Duration) (*gorm.DB, error) {
	db, err := InitGormDB(DSN(path, busyTimeout))
	if err != nil {
		return nil, err
	}
	if err := AutoMigrateModels(db); err != nil {
		return nil, err
	}
	return db, nil
}

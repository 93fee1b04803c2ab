package database

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"asistente-coples/config"
	"asistente-coples/internal/core/models"

	"github.com/glebarez/sqlite" // pure Go driver, no cgo
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	gormlog "gorm.io/gorm/logger"
)

// DB holds the global GORM database connection pool.
var DB *gorm.DB

// Init opens the SQLite database and runs migrations.
func Init(cfg config.DBConfig) error {
	dbDir := filepath.Dir(cfg.File)
	if err := os.MkdirAll(dbDir, 0750); err != nil {
		log.Errorf("Failed to create database directory '%s': %v", dbDir, err)
		return err
	}

	// Route GORM logs through the configured logrus instance.
	gormLogger := gormlog.New(
		log.StandardLogger(),
		gormlog.Config{
			SlowThreshold:             2 * time.Second,
			LogLevel:                  gormlog.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	log.Infof("Connecting to database: %s", cfg.File)
	db, err := gorm.Open(sqlite.Open(cfg.File), &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		log.Errorf("Failed to connect to database '%s': %v", cfg.File, err)
		return err
	}

	DB = db
	log.Info("Database connection established.")

	return Migrate(db)
}

// Migrate runs the schema migrations on the given connection.
func Migrate(db *gorm.DB) error {
	log.Info("Running database migrations...")
	err := db.AutoMigrate(
		&models.Role{},
		&models.User{},
		&models.SystemConfig{},
		&models.Analysis{},
		&models.Classification{},
		&models.PieceDetection{},
		&models.DefectDetection{},
		&models.DefectSegmentation{},
		&models.PieceSegmentation{},
		&models.DailyStatistic{},
	)
	if err != nil {
		log.Errorf("Database migration failed: %v", err)
		return err
	}
	log.Info("Database migrations completed.")
	return nil
}

// GetDB returns the initialized GORM DB instance.
func GetDB() (*gorm.DB, error) {
	if DB == nil {
		return nil, errors.New("database is not initialized")
	}
	return DB, nil
}

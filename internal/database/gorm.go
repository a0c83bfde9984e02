package database

import (
	"fmt"

	"whatsapp-bridge/internal/config"
	"whatsapp-bridge/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var GormDB *gorm.DB

// InitGorm opens the configured database and runs auto-migration.
// SQLite is the default; set DB_DRIVER=postgres with DB_DSN for PostgreSQL.
func InitGorm(cfg *config.Config) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.DBDriver {
	case "postgres":
		if cfg.DBDSN == "" {
			return nil, fmt.Errorf("DB_DSN is required for the postgres driver")
		}
		dialector = postgres.Open(cfg.DBDSN)
	default:
		dialector = sqlite.Open(cfg.DBPath)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(
		&models.BotConfigRecord{},
		&models.ConversationTurn{},
		&models.BotStatusRecord{},
		&models.UsageRecord{},
		&models.MessageLog{},
		&models.Contact{},
	); err != nil {
		return nil, fmt.Errorf("failed to run auto-migration: %w", err)
	}

	GormDB = db
	return db, nil
}

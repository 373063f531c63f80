package Models

import (
	"fmt"

	"AcesFuel/Config"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Connect opens the configured database and migrates every table the service owns.
func Connect(cfg Config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

func Migrate(db *gorm.DB) error {
	// Accounts and directory data first, then the rows that reference them.
	if err := db.AutoMigrate(
		&User{},
		&Driver{},
		&Site{},
	); err != nil {
		return fmt.Errorf("migrate accounts: %w", err)
	}

	if err := db.AutoMigrate(
		&Task{},
		&TaskEntry{},
	); err != nil {
		return fmt.Errorf("migrate tasks: %w", err)
	}

	if err := db.AutoMigrate(
		&PushToken{},
		&DriverNotification{},
		&NotificationRead{},
	); err != nil {
		return fmt.Errorf("migrate notifications: %w", err)
	}
	return nil
}

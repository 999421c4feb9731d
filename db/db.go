package db

import (
	"fmt"
	"time"

	"github.com/KAsare1/picshare/cmd/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewPSQLStorage opens the Postgres database behind connString.
func NewPSQLStorage(connString string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(connString), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(25)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	return db, nil
}

// Tables lists every model in dependency order.
func Tables() []interface{} {
	return []interface{}{
		&models.User{},
		&models.Profile{},
		&models.Friendship{},
		&models.Post{},
		&models.Comment{},
		&models.PostLike{},
		&models.PasswordResetToken{},
	}
}

func Migrate(db *gorm.DB) error {
	for _, model := range Tables() {
		if err := db.AutoMigrate(model); err != nil {
			return fmt.Errorf("error migrating %T: %w", model, err)
		}
	}
	return nil
}

// Drop removes the given tables, or every table when none are given.
func Drop(db *gorm.DB, tables ...interface{}) error {
	if len(tables) == 0 {
		all := Tables()
		for i := len(all) - 1; i >= 0; i-- {
			tables = append(tables, all[i])
		}
	}
	for _, table := range tables {
		if err := db.Migrator().DropTable(table); err != nil {
			return fmt.Errorf("error dropping %T: %w", table, err)
		}
	}
	return nil
}

// Package dbtest opens throwaway migrated databases for tests.
package dbtest

import (
	"fmt"
	"strings"
	"testing"

	"github.com/KAsare1/picshare/cmd/models"
	"github.com/KAsare1/picshare/db"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// New returns an in-memory SQLite database with every table migrated.
func New(t testing.TB) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", name)

	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	// A single connection keeps the in-memory database alive and serialises
	// transactions the way the tests expect.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.Migrate(gdb))
	return gdb
}

// User creates a user with a profile. The password hash is a placeholder.
func User(t testing.TB, gdb *gorm.DB, username string) *models.User {
	t.Helper()
	u := &models.User{
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: "-",
	}
	require.NoError(t, gdb.Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Profile").Create(u).Error; err != nil {
			return err
		}
		return tx.Create(&models.Profile{UserID: u.ID}).Error
	}))
	return u
}

// Post creates a post written by author.
func Post(t testing.TB, gdb *gorm.DB, author *models.User, description string) *models.Post {
	t.Helper()
	p := &models.Post{
		UserID:      author.ID,
		Description: description,
		ImagePath:   "/media/images/" + strings.ReplaceAll(description, " ", "-") + ".jpg",
	}
	require.NoError(t, gdb.Create(p).Error)
	return p
}

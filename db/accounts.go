package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/KAsare1/picshare/cmd/models"
	"gorm.io/gorm"
)

// ErrUsernameTaken is returned by CreateUser for a duplicate username.
var ErrUsernameTaken = errors.New("username is already in use")

// CreateUser stores a new user and its empty profile.
func CreateUser(ctx context.Context, db *gorm.DB, user *models.User) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&models.User{}).Where("username = ?", user.Username).Count(&n).Error; err != nil {
			return fmt.Errorf("failed to check username: %w", err)
		}
		if n > 0 {
			return ErrUsernameTaken
		}

		if err := tx.Omit("Profile").Create(user).Error; err != nil {
			return fmt.Errorf("failed to create user: %w", err)
		}

		profile := &models.Profile{UserID: user.ID}
		if err := tx.Create(profile).Error; err != nil {
			return fmt.Errorf("failed to create profile: %w", err)
		}
		user.Profile = profile
		return nil
	})
}

func GetUser(ctx context.Context, db *gorm.DB, userID uint) (*models.User, error) {
	var user models.User
	if err := db.WithContext(ctx).First(&user, userID).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func GetUserByUsername(ctx context.Context, db *gorm.DB, username string) (*models.User, error) {
	var user models.User
	if err := db.WithContext(ctx).Where("username = ?", username).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func GetUserByEmail(ctx context.Context, db *gorm.DB, email string) (*models.User, error) {
	var user models.User
	if err := db.WithContext(ctx).Where("LOWER(email) = LOWER(?)", email).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// ReplaceResetToken drops any reset token held by userID and stores a new one.
func ReplaceResetToken(ctx context.Context, db *gorm.DB, userID uint, token string, ttl time.Duration) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).Delete(&models.PasswordResetToken{}).Error; err != nil {
			return fmt.Errorf("failed to delete reset tokens: %w", err)
		}
		t := models.PasswordResetToken{
			UserID:    userID,
			Token:     token,
			ExpiresAt: time.Now().Add(ttl),
		}
		if err := tx.Create(&t).Error; err != nil {
			return fmt.Errorf("failed to create reset token: %w", err)
		}
		return nil
	})
}

// CheckResetToken reports whether token is a live reset token for userID.
func CheckResetToken(ctx context.Context, db *gorm.DB, userID uint, token string) (bool, error) {
	var t models.PasswordResetToken
	err := db.WithContext(ctx).Where("user_id = ? AND token = ?", userID, token).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load reset token: %w", err)
	}
	return time.Now().Before(t.ExpiresAt), nil
}

// ResetPassword sets a new password hash if token is live and consumes it.
// Existing sessions of the user stop being valid. It reports false when the
// token is unknown or expired.
func ResetPassword(ctx context.Context, db *gorm.DB, userID uint, token, passwordHash string) (bool, error) {
	ok := false
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("user_id = ? AND token = ? AND expires_at > ?", userID, token, time.Now()).
			Delete(&models.PasswordResetToken{})
		if result.Error != nil {
			return fmt.Errorf("failed to consume reset token: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return nil
		}
		err := tx.Model(&models.User{}).Where("id = ?", userID).
			Updates(map[string]interface{}{
				"password_hash":   passwordHash,
				"session_version": gorm.Expr("session_version + 1"),
			}).Error
		if err != nil {
			return fmt.Errorf("failed to update password: %w", err)
		}
		ok = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return ok, nil
}

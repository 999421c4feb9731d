package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/KAsare1/picshare/cmd/models"
	"gorm.io/gorm"
)

// ErrSelfFriend is returned when a user tries to befriend themselves.
var ErrSelfFriend = errors.New("cannot add yourself as a friend")

// ToggleFriend makes userID and otherID friends, or removes the friendship
// when it exists. Both directions change in a single transaction. It reports
// whether the two users are friends afterwards.
func ToggleFriend(ctx context.Context, db *gorm.DB, userID, otherID uint) (bool, error) {
	if userID == otherID {
		return false, ErrSelfFriend
	}

	friends := false
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("(user_id = ? AND friend_id = ?) OR (user_id = ? AND friend_id = ?)",
			userID, otherID, otherID, userID).
			Delete(&models.Friendship{})
		if result.Error != nil {
			return fmt.Errorf("failed to remove friendship: %w", result.Error)
		}
		if result.RowsAffected > 0 {
			return nil
		}

		pair := []models.Friendship{
			{UserID: userID, FriendID: otherID},
			{UserID: otherID, FriendID: userID},
		}
		if err := tx.Create(&pair).Error; err != nil {
			return fmt.Errorf("failed to add friendship: %w", err)
		}
		friends = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return friends, nil
}

func AreFriends(ctx context.Context, db *gorm.DB, userID, otherID uint) (bool, error) {
	var n int64
	err := db.WithContext(ctx).Model(&models.Friendship{}).
		Where("user_id = ? AND friend_id = ?", userID, otherID).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("failed to check friendship: %w", err)
	}
	return n > 0, nil
}

func FriendIDs(ctx context.Context, db *gorm.DB, userID uint) ([]uint, error) {
	var ids []uint
	err := db.WithContext(ctx).Model(&models.Friendship{}).
		Where("user_id = ?", userID).
		Order("friend_id").
		Pluck("friend_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list friends: %w", err)
	}
	return ids, nil
}

// Friends returns the user's friends ordered by username.
func Friends(ctx context.Context, db *gorm.DB, userID uint) ([]models.User, error) {
	db = db.WithContext(ctx)
	ids := db.Model(&models.Friendship{}).Select("friend_id").Where("user_id = ?", userID)

	var users []models.User
	if err := db.Where("id IN (?)", ids).Order("username").Find(&users).Error; err != nil {
		return nil, fmt.Errorf("failed to load friends: %w", err)
	}
	return users, nil
}

// GetProfile loads the profile owned by userID with its user.
func GetProfile(ctx context.Context, db *gorm.DB, userID uint) (*models.Profile, error) {
	var profile models.Profile
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Preload("User").
		First(&profile).Error
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

func UpdateProfile(ctx context.Context, db *gorm.DB, profile *models.Profile) error {
	err := db.WithContext(ctx).Model(profile).Updates(map[string]interface{}{
		"avatar_path": profile.AvatarPath,
		"birth_date":  profile.BirthDate,
		"about":       profile.About,
	}).Error
	if err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}
	return nil
}

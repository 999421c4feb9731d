package db

import (
	"context"
	"fmt"

	"github.com/KAsare1/picshare/cmd/models"
	"gorm.io/gorm"
)

// PopularPosts returns every post ranked by like count, newest first on ties.
func PopularPosts(ctx context.Context, db *gorm.DB) ([]models.Post, error) {
	var posts []models.Post
	err := db.WithContext(ctx).
		Model(&models.Post{}).
		Select("posts.*, COUNT(post_likes.user_id) AS likes_count").
		Joins("LEFT JOIN post_likes ON post_likes.post_id = posts.id").
		Group("posts.id").
		Order("likes_count DESC").
		Order("posts.created_at DESC").
		Order("posts.id DESC").
		Preload("User").
		Find(&posts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list popular posts: %w", err)
	}
	return posts, nil
}

// FeedPosts returns posts written by the user's friends, newest first.
func FeedPosts(ctx context.Context, db *gorm.DB, userID uint) ([]models.Post, error) {
	db = db.WithContext(ctx)
	friends := db.Model(&models.Friendship{}).Select("friend_id").Where("user_id = ?", userID)

	var posts []models.Post
	err := db.Where("user_id IN (?)", friends).
		Order("created_at DESC").
		Order("id DESC").
		Preload("User").
		Find(&posts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load feed: %w", err)
	}
	return posts, nil
}

// UserPosts returns posts authored by userID, newest first.
func UserPosts(ctx context.Context, db *gorm.DB, userID uint) ([]models.Post, error) {
	var posts []models.Post
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Order("id DESC").
		Find(&posts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list user posts: %w", err)
	}
	return posts, nil
}

// GetPost loads a post with its author. A missing post yields gorm.ErrRecordNotFound.
func GetPost(ctx context.Context, db *gorm.DB, postID uint) (*models.Post, error) {
	var post models.Post
	if err := db.WithContext(ctx).Preload("User").First(&post, postID).Error; err != nil {
		return nil, err
	}
	return &post, nil
}

// GetOwnedPost loads a post only if userID wrote it. Posts owned by someone
// else are reported as gorm.ErrRecordNotFound.
func GetOwnedPost(ctx context.Context, db *gorm.DB, postID, userID uint) (*models.Post, error) {
	var post models.Post
	err := db.WithContext(ctx).
		Where("id = ? AND user_id = ?", postID, userID).
		Preload("User").
		First(&post).Error
	if err != nil {
		return nil, err
	}
	return &post, nil
}

func CreatePost(ctx context.Context, db *gorm.DB, post *models.Post) error {
	if err := db.WithContext(ctx).Create(post).Error; err != nil {
		return fmt.Errorf("failed to create post: %w", err)
	}
	return nil
}

func UpdatePost(ctx context.Context, db *gorm.DB, post *models.Post) error {
	err := db.WithContext(ctx).Model(post).Updates(map[string]interface{}{
		"description": post.Description,
		"image_path":  post.ImagePath,
	}).Error
	if err != nil {
		return fmt.Errorf("failed to update post: %w", err)
	}
	return nil
}

// DeletePost removes a post together with its likes and comments.
func DeletePost(ctx context.Context, db *gorm.DB, postID uint) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("post_id = ?", postID).Delete(&models.PostLike{}).Error; err != nil {
			return fmt.Errorf("failed to delete likes: %w", err)
		}
		if err := tx.Where("post_id = ?", postID).Delete(&models.Comment{}).Error; err != nil {
			return fmt.Errorf("failed to delete comments: %w", err)
		}
		result := tx.Delete(&models.Post{}, postID)
		if result.Error != nil {
			return fmt.Errorf("failed to delete post: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}

// PostComments returns the comments on a post, most recently published first.
func PostComments(ctx context.Context, db *gorm.DB, postID uint) ([]models.Comment, error) {
	var comments []models.Comment
	err := db.WithContext(ctx).
		Where("post_id = ?", postID).
		Order("created_at DESC").
		Order("id DESC").
		Preload("User").
		Find(&comments).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list comments: %w", err)
	}
	return comments, nil
}

func CreateComment(ctx context.Context, db *gorm.DB, comment *models.Comment) error {
	if err := db.WithContext(ctx).Create(comment).Error; err != nil {
		return fmt.Errorf("failed to create comment: %w", err)
	}
	return nil
}

// ToggleLike adds userID to the post's likes, or removes it when already
// present. It reports whether the user likes the post afterwards.
func ToggleLike(ctx context.Context, db *gorm.DB, postID, userID uint) (bool, error) {
	liked := false
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("post_id = ? AND user_id = ?", postID, userID).Delete(&models.PostLike{})
		if result.Error != nil {
			return fmt.Errorf("failed to remove like: %w", result.Error)
		}
		if result.RowsAffected > 0 {
			return nil
		}
		if err := tx.Create(&models.PostLike{PostID: postID, UserID: userID}).Error; err != nil {
			return fmt.Errorf("failed to add like: %w", err)
		}
		liked = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return liked, nil
}

func CountLikes(ctx context.Context, db *gorm.DB, postID uint) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&models.PostLike{}).Where("post_id = ?", postID).Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count likes: %w", err)
	}
	return n, nil
}

func HasLiked(ctx context.Context, db *gorm.DB, postID, userID uint) (bool, error) {
	var n int64
	err := db.WithContext(ctx).Model(&models.PostLike{}).
		Where("post_id = ? AND user_id = ?", postID, userID).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("failed to check like: %w", err)
	}
	return n > 0, nil
}

// LikerIDs returns the ids of users who like the post.
func LikerIDs(ctx context.Context, db *gorm.DB, postID uint) ([]uint, error) {
	var ids []uint
	err := db.WithContext(ctx).Model(&models.PostLike{}).
		Where("post_id = ?", postID).
		Order("user_id").
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list likes: %w", err)
	}
	return ids, nil
}

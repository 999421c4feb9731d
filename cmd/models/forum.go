package models

import (
	"time"

	"gorm.io/gorm"
)

type Post struct {
	gorm.Model
	UserID      uint   `gorm:"column:user_id;not null;index" json:"user_id"`
	Description string `gorm:"column:description;type:text;not null" json:"description"`
	ImagePath   string `gorm:"column:image_path;size:500;not null" json:"image_path"`

	// LikesCount is filled by ranking queries only.
	LikesCount int64 `gorm:"column:likes_count;->;-:migration" json:"likes_count"`

	User     *User     `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Comments []Comment `gorm:"foreignKey:PostID;constraint:OnDelete:CASCADE" json:"comments,omitempty"`
}

// PostLike records that a user likes a post. The composite key allows a
// user at most once per post.
type PostLike struct {
	PostID    uint      `gorm:"column:post_id;primaryKey;autoIncrement:false" json:"post_id"`
	UserID    uint      `gorm:"column:user_id;primaryKey;autoIncrement:false;index" json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

type Comment struct {
	gorm.Model
	UserID uint   `gorm:"column:user_id;not null;index" json:"user_id"`
	PostID uint   `gorm:"column:post_id;not null;index" json:"post_id"`
	Text   string `gorm:"column:text;type:text;not null" json:"text"`
	User   *User  `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

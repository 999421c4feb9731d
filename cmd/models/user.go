package models

import (
	"time"

	"gorm.io/gorm"
)

type User struct {
	gorm.Model
	Username     string `gorm:"column:username;size:150;not null;uniqueIndex" json:"username"`
	Email        string `gorm:"column:email;size:254;index" json:"email"`
	PasswordHash string `gorm:"column:password_hash;size:255;not null" json:"-"`
	// SessionVersion is bumped on password change, invalidating older sessions.
	SessionVersion uint `gorm:"column:session_version;not null;default:0" json:"-"`

	Profile *Profile `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"profile,omitempty"`
}

// Profile is the per-user extended data. Friends live in the friendships table.
type Profile struct {
	gorm.Model
	UserID     uint       `gorm:"column:user_id;not null;uniqueIndex" json:"user_id"`
	AvatarPath string     `gorm:"column:avatar_path;size:500" json:"avatar_path"`
	BirthDate  *time.Time `gorm:"column:birth_date;type:date" json:"birth_date,omitempty"`
	About      string     `gorm:"column:about;type:text" json:"about"`
	User       *User      `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

// Friendship is one direction of a friend relation. Both directions are
// always written and removed together.
type Friendship struct {
	UserID    uint      `gorm:"column:user_id;primaryKey;autoIncrement:false" json:"user_id"`
	FriendID  uint      `gorm:"column:friend_id;primaryKey;autoIncrement:false;index" json:"friend_id"`
	CreatedAt time.Time `json:"created_at"`
}

type PasswordResetToken struct {
	ID        uint      `gorm:"primaryKey"`
	UserID    uint      `gorm:"not null;index"`
	Token     string    `gorm:"not null;size:64;index"`
	ExpiresAt time.Time `gorm:"not null"`
}

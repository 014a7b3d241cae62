package domain

import "time"

// Email is a login-method record. Only credentials rows carry a password hash.
type Email struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	UserID       uint      `gorm:"index;not null" json:"user_id"`
	Email        string    `gorm:"size:255;uniqueIndex;not null" json:"email"`
	Provider     string    `gorm:"size:32;index;not null" json:"provider"`
	PasswordHash string    `gorm:"size:255" json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

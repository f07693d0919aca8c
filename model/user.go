package model

import "time"

// User represents a user in the system. Guest users have no email or password.
type User struct {
	ID           int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	Username     string    `json:"username" gorm:"size:100;not null"`
	Email        *string   `json:"email,omitempty" gorm:"size:255;uniqueIndex"`
	PasswordHash string    `json:"-" gorm:"size:255"` // Not exposed in API responses
	IsGuest      bool      `json:"isGuest" gorm:"default:false"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// TableName 指定表名
func (User) TableName() string {
	return "users"
}

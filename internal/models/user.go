package models

import "time"

// UserModel is an account that owns presentations.
type UserModel struct {
	Base
	Email         string     `json:"email"           gorm:"uniqueIndex;size:191;not null"`
	Name          string     `json:"name"`
	Password      string     `json:"-"               gorm:"not null"`
	LastLoginTime *time.Time `json:"last_login_time"`
	LastLoginIP   string     `json:"last_login_ip"`
}

func (UserModel) TableName() string { return "users" }

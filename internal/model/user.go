package model

import "time"

// User 推文作者（仅时间线所需字段）
type User struct {
	ID              int64     `json:"id" gorm:"primaryKey;autoIncrement:false"`
	ScreenName      string    `json:"screen_name" gorm:"type:varchar(64);index:idx_user_screen_name"`
	Name            string    `json:"name" gorm:"type:varchar(128)"`
	ProfileImageURL string    `json:"profile_image_url" gorm:"type:varchar(512)"`
	IsProtected     bool      `json:"is_protected"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (User) TableName() string { return "users" }

package model

import "time"

// Account 本地登录的账号，ID 即该账号的用户 ID
type Account struct {
	ID         int64     `json:"id" gorm:"primaryKey;autoIncrement:false"`
	ScreenName string    `json:"screen_name" gorm:"type:varchar(64);uniqueIndex"`
	CreatedAt  time.Time `json:"created_at"`
}

func (Account) TableName() string { return "accounts" }

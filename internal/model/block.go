package model

import "time"

// Block 屏蔽关系（本地账号 AccountID 屏蔽了 TargetID）
type Block struct {
	ID        string `gorm:"primaryKey;type:varchar(36)"`
	AccountID int64  `gorm:"index:idx_block_account;index:idx_block_pair,unique;not null"`
	TargetID  int64  `gorm:"not null;index:idx_block_pair,unique"`
	CreatedAt time.Time
}

func (Block) TableName() string { return "blocks" }

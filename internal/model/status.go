package model

import (
	"time"
)

// StatusKind 区分普通推文与私信
type StatusKind int8

const (
	StatusKindTweet StatusKind = iota
	StatusKindDirectMessage
)

// Status 一条推文（或私信）。构造后除互动字段外不再修改
type Status struct {
	ID     int64      `json:"id" gorm:"primaryKey;autoIncrement:false"`
	UserID int64      `json:"user_id" gorm:"index:idx_status_user;not null"`
	User   *User      `json:"user,omitempty" gorm:"foreignKey:UserID"`
	Kind   StatusKind `json:"kind" gorm:"index;not null;default:0"`
	Text   string     `json:"text" gorm:"type:text"`
	Source string     `json:"source" gorm:"type:varchar(128)"`
	// 时间线排序键
	CreatedAt time.Time `json:"created_at" gorm:"index:idx_status_created;not null"`

	// 转推 -> 原推，只有这一个方向
	RetweetedOriginalID *int64  `json:"retweeted_original_id,omitempty" gorm:"index:idx_status_retweeted"`
	RetweetedOriginal   *Status `json:"retweeted_original,omitempty" gorm:"foreignKey:RetweetedOriginalID"`

	RecipientID *int64 `json:"recipient_id,omitempty" gorm:"index:idx_status_recipient"`

	// 互动者 id（冗余字段）
	FavoritedBy []int64 `json:"favorited_by,omitempty" gorm:"serializer:json"`
	RetweetedBy []int64 `json:"retweeted_by,omitempty" gorm:"serializer:json"`
}

func (Status) TableName() string { return "statuses" }

// IsRetweet reports whether s wraps another status.
func (s *Status) IsRetweet() bool { return s.RetweetedOriginalID != nil }

func (s *Status) IsDirectMessage() bool { return s.Kind == StatusKindDirectMessage }

// WithRetweetOf links s to original and returns s.
func (s *Status) WithRetweetOf(original *Status) *Status {
	id := original.ID
	s.RetweetedOriginalID = &id
	s.RetweetedOriginal = original
	return s
}

// Before reports whether s sorts ahead of o in a newest-first timeline.
// Equal timestamps fall back to the higher id first.
func (s *Status) Before(o *Status) bool {
	if !s.CreatedAt.Equal(o.CreatedAt) {
		return s.CreatedAt.After(o.CreatedAt)
	}
	return s.ID > o.ID
}

// Clone returns a copy that shares the immutable parts (user, original) but owns its
// interaction slices.
func (s *Status) Clone() *Status {
	c := *s
	c.FavoritedBy = append([]int64(nil), s.FavoritedBy...)
	c.RetweetedBy = append([]int64(nil), s.RetweetedBy...)
	return &c
}

// Authors returns the user ids whose profiles a resolved copy of s needs.
func (s *Status) Authors() []int64 {
	ids := []int64{s.UserID}
	if s.RetweetedOriginal != nil && s.RetweetedOriginal.UserID != s.UserID {
		ids = append(ids, s.RetweetedOriginal.UserID)
	}
	return ids
}

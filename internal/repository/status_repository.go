package repository

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/d60-Lab/timeline-pipeline/internal/model"
)

// ErrNotFound is returned by lookups that match no row.
var ErrNotFound = errors.New("record not found")

// FetchQuery 分页查询条件；Where 为 predicate 下推的 SQL 片段
type FetchQuery struct {
	Where string
	Args  []interface{}
	// MaxID 为空时从最新开始
	MaxID *int64
	Count int
}

// StatusStore 推文持久化（去重依赖 Exists）
type StatusStore interface {
	// Exists 是否已存储
	Exists(ctx context.Context, id int64) (bool, error)

	// Insert 写入推文，并 upsert 作者资料；重复写入不报错
	Insert(ctx context.Context, s *model.Status) error

	// Delete 删除单条，不存在时不报错
	Delete(ctx context.Context, id int64) error

	// RetweetIDsOf 返回转推了 id 的推文 id
	RetweetIDsOf(ctx context.Context, id int64) ([]int64, error)

	// Get 查询单条（含作者与原推），不存在返回 ErrNotFound
	Get(ctx context.Context, id int64) (*model.Status, error)

	// Fetch 按时间倒序分页
	Fetch(ctx context.Context, q FetchQuery) ([]*model.Status, error)

	// UpdateInteractions 覆盖写互动字段
	UpdateInteractions(ctx context.Context, s *model.Status) error
}

type statusStore struct {
	db *gorm.DB
}

func NewStatusStore(db *gorm.DB) StatusStore { return &statusStore{db: db} }

func (r *statusStore) Exists(ctx context.Context, id int64) (bool, error) {
	var cnt int64
	if err := r.db.WithContext(ctx).
		Model(&model.Status{}).
		Where("id = ?", id).
		Count(&cnt).Error; err != nil {
		return false, errors.Wrap(err, "count status")
	}
	return cnt > 0, nil
}

func (r *statusStore) Insert(ctx context.Context, s *model.Status) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if s.User != nil {
			if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(s.User).Error; err != nil {
				return errors.Wrap(err, "upsert author")
			}
		}
		return tx.Omit(clause.Associations).
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(s).Error
	})
	return errors.Wrapf(err, "insert status %d", s.ID)
}

func (r *statusStore) Delete(ctx context.Context, id int64) error {
	err := r.db.WithContext(ctx).Delete(&model.Status{}, id).Error
	return errors.Wrapf(err, "delete status %d", id)
}

func (r *statusStore) RetweetIDsOf(ctx context.Context, id int64) ([]int64, error) {
	var ids []int64
	if err := r.db.WithContext(ctx).
		Model(&model.Status{}).
		Where("retweeted_original_id = ?", id).
		Order("id").
		Pluck("id", &ids).Error; err != nil {
		return nil, errors.Wrapf(err, "retweets of %d", id)
	}
	return ids, nil
}

func (r *statusStore) Get(ctx context.Context, id int64) (*model.Status, error) {
	var s model.Status
	err := r.withRelations(ctx).Where("id = ?", id).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get status %d", id)
	}
	return &s, nil
}

func (r *statusStore) Fetch(ctx context.Context, q FetchQuery) ([]*model.Status, error) {
	if q.Count <= 0 {
		q.Count = 50
	}
	tx := r.withRelations(ctx)
	if q.Where != "" {
		tx = tx.Where("("+q.Where+")", q.Args...)
	}
	if q.MaxID != nil {
		tx = tx.Where("id < ?", *q.MaxID)
	}

	var res []*model.Status
	if err := tx.Order("created_at DESC").Order("id DESC").Limit(q.Count).Find(&res).Error; err != nil {
		return nil, errors.Wrap(err, "fetch statuses")
	}
	return res, nil
}

func (r *statusStore) UpdateInteractions(ctx context.Context, s *model.Status) error {
	res := r.db.WithContext(ctx).
		Model(&model.Status{}).
		Where("id = ?", s.ID).
		Select("favorited_by", "retweeted_by").
		Updates(&model.Status{FavoritedBy: s.FavoritedBy, RetweetedBy: s.RetweetedBy})
	if res.Error != nil {
		return errors.Wrapf(res.Error, "update interactions %d", s.ID)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *statusStore) withRelations(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).
		Preload("User").
		Preload("RetweetedOriginal").
		Preload("RetweetedOriginal.User")
}

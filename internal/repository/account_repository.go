package repository

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/d60-Lab/timeline-pipeline/internal/model"
)

// AccountRepository 本地账号
type AccountRepository interface {
	Create(ctx context.Context, a *model.Account) error
	Delete(ctx context.Context, id int64) error
	// Get 不存在返回 ErrNotFound
	Get(ctx context.Context, id int64) (*model.Account, error)
	List(ctx context.Context) ([]*model.Account, error)
	ListIDs(ctx context.Context) ([]int64, error)
}

type accountRepository struct{ db *gorm.DB }

func NewAccountRepository(db *gorm.DB) AccountRepository { return &accountRepository{db: db} }

func (r *accountRepository) Create(ctx context.Context, a *model.Account) error {
	// 幂等：重复添加不报错
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(a).Error
	return errors.Wrap(err, "create account")
}

func (r *accountRepository) Delete(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("account_id = ?", id).Delete(&model.Block{}).Error; err != nil {
			return errors.Wrap(err, "delete account blocks")
		}
		if err := tx.Where("follower_id = ?", id).Delete(&model.Follow{}).Error; err != nil {
			return errors.Wrap(err, "delete account follows")
		}
		return errors.Wrap(tx.Delete(&model.Account{}, id).Error, "delete account")
	})
}

func (r *accountRepository) Get(ctx context.Context, id int64) (*model.Account, error) {
	var a model.Account
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get account %d", id)
	}
	return &a, nil
}

func (r *accountRepository) List(ctx context.Context) ([]*model.Account, error) {
	var res []*model.Account
	if err := r.db.WithContext(ctx).Order("id").Find(&res).Error; err != nil {
		return nil, errors.Wrap(err, "list accounts")
	}
	return res, nil
}

func (r *accountRepository) ListIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	if err := r.db.WithContext(ctx).Model(&model.Account{}).Order("id").Pluck("id", &ids).Error; err != nil {
		return nil, errors.Wrap(err, "list account ids")
	}
	return ids, nil
}

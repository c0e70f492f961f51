package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/d60-Lab/timeline-pipeline/internal/model"
)

type BlockRepository interface {
	Create(ctx context.Context, accountID, targetID int64) error
	Delete(ctx context.Context, accountID, targetID int64) error
	Exists(ctx context.Context, accountID, targetID int64) (bool, error)
	ListBlockedIDs(ctx context.Context, accountID int64) ([]int64, error)
}

type blockRepository struct{ db *gorm.DB }

func NewBlockRepository(db *gorm.DB) BlockRepository { return &blockRepository{db: db} }

func (r *blockRepository) Create(ctx context.Context, accountID, targetID int64) error {
	b := &model.Block{ID: uuid.New().String(), AccountID: accountID, TargetID: targetID}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(b).Error
	return errors.Wrap(err, "create block")
}

func (r *blockRepository) Delete(ctx context.Context, accountID, targetID int64) error {
	err := r.db.WithContext(ctx).
		Where("account_id = ? AND target_id = ?", accountID, targetID).
		Delete(&model.Block{}).Error
	return errors.Wrap(err, "delete block")
}

func (r *blockRepository) Exists(ctx context.Context, accountID, targetID int64) (bool, error) {
	var cnt int64
	if err := r.db.WithContext(ctx).
		Model(&model.Block{}).
		Where("account_id = ? AND target_id = ?", accountID, targetID).
		Count(&cnt).Error; err != nil {
		return false, errors.Wrap(err, "count block")
	}
	return cnt > 0, nil
}

func (r *blockRepository) ListBlockedIDs(ctx context.Context, accountID int64) ([]int64, error) {
	var ids []int64
	if err := r.db.WithContext(ctx).
		Model(&model.Block{}).
		Where("account_id = ?", accountID).
		Order("target_id").
		Pluck("target_id", &ids).Error; err != nil {
		return nil, errors.Wrapf(err, "blocked ids of %d", accountID)
	}
	return ids, nil
}

package service

import (
	"context"

	"github.com/pkg/errors"

	"github.com/d60-Lab/timeline-pipeline/internal/event"
	"github.com/d60-Lab/timeline-pipeline/internal/model"
	"github.com/d60-Lab/timeline-pipeline/internal/repository"
)

var (
	ErrFollowSelf = errors.New("cannot follow self")
	ErrBlockSelf  = errors.New("cannot block self")
)

// RelationshipService 本地账号的关系链，变更后在总线上广播 RelationChanged
type RelationshipService interface {
	AddAccount(ctx context.Context, a *model.Account) error
	RemoveAccount(ctx context.Context, accountID int64) error
	ListAccounts(ctx context.Context) ([]*model.Account, error)
	ListAccountIDs(ctx context.Context) ([]int64, error)

	Block(ctx context.Context, accountID, targetID int64) error
	Unblock(ctx context.Context, accountID, targetID int64) error
	ListBlockedIDs(ctx context.Context, accountID int64) ([]int64, error)

	Follow(ctx context.Context, accountID, targetID int64) error
	Unfollow(ctx context.Context, accountID, targetID int64) error
	ListFollowing(ctx context.Context, accountID int64, page, pageSize int) ([]int64, error)
	ListFollowingIDs(ctx context.Context, accountID int64) ([]int64, error)
}

type relationshipService struct {
	accounts repository.AccountRepository
	blocks   repository.BlockRepository
	follows  repository.FollowRepository
	bus      *event.Bus[event.RelationChanged]
}

func NewRelationshipService(
	accounts repository.AccountRepository,
	blocks repository.BlockRepository,
	follows repository.FollowRepository,
	bus *event.Bus[event.RelationChanged],
) RelationshipService {
	return &relationshipService{accounts: accounts, blocks: blocks, follows: follows, bus: bus}
}

func (s *relationshipService) AddAccount(ctx context.Context, a *model.Account) error {
	if err := s.accounts.Create(ctx, a); err != nil {
		return err
	}
	s.bus.Publish(event.RelationChanged{Kind: event.AccountAdded, AccountID: a.ID})
	return nil
}

func (s *relationshipService) RemoveAccount(ctx context.Context, accountID int64) error {
	if err := s.accounts.Delete(ctx, accountID); err != nil {
		return err
	}
	s.bus.Publish(event.RelationChanged{Kind: event.AccountRemoved, AccountID: accountID})
	return nil
}

func (s *relationshipService) ListAccounts(ctx context.Context) ([]*model.Account, error) {
	return s.accounts.List(ctx)
}

func (s *relationshipService) ListAccountIDs(ctx context.Context) ([]int64, error) {
	return s.accounts.ListIDs(ctx)
}

func (s *relationshipService) Block(ctx context.Context, accountID, targetID int64) error {
	if accountID == targetID {
		return ErrBlockSelf
	}
	if err := s.ensureAccount(ctx, accountID); err != nil {
		return err
	}
	if err := s.blocks.Create(ctx, accountID, targetID); err != nil {
		return err
	}
	s.bus.Publish(event.RelationChanged{Kind: event.RelationBlocked, AccountID: accountID, TargetID: targetID})
	return nil
}

func (s *relationshipService) Unblock(ctx context.Context, accountID, targetID int64) error {
	if err := s.blocks.Delete(ctx, accountID, targetID); err != nil {
		return err
	}
	s.bus.Publish(event.RelationChanged{Kind: event.RelationUnblocked, AccountID: accountID, TargetID: targetID})
	return nil
}

func (s *relationshipService) ListBlockedIDs(ctx context.Context, accountID int64) ([]int64, error) {
	return s.blocks.ListBlockedIDs(ctx, accountID)
}

func (s *relationshipService) Follow(ctx context.Context, accountID, targetID int64) error {
	if accountID == targetID {
		return ErrFollowSelf
	}
	if err := s.ensureAccount(ctx, accountID); err != nil {
		return err
	}
	if err := s.follows.Create(ctx, accountID, targetID); err != nil {
		return err
	}
	s.bus.Publish(event.RelationChanged{Kind: event.RelationFollowed, AccountID: accountID, TargetID: targetID})
	return nil
}

func (s *relationshipService) Unfollow(ctx context.Context, accountID, targetID int64) error {
	if err := s.follows.Delete(ctx, accountID, targetID); err != nil {
		return err
	}
	s.bus.Publish(event.RelationChanged{Kind: event.RelationUnfollowed, AccountID: accountID, TargetID: targetID})
	return nil
}

func (s *relationshipService) ListFollowing(ctx context.Context, accountID int64, page, pageSize int) ([]int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}
	offset := (page - 1) * pageSize
	items, err := s.follows.ListFollowings(ctx, accountID, offset, pageSize)
	if err != nil {
		return nil, err
	}
	res := make([]int64, len(items))
	for i, it := range items {
		res[i] = it.FolloweeID
	}
	return res, nil
}

func (s *relationshipService) ListFollowingIDs(ctx context.Context, accountID int64) ([]int64, error) {
	return s.follows.ListFollowingIDs(ctx, accountID)
}

func (s *relationshipService) ensureAccount(ctx context.Context, accountID int64) error {
	_, err := s.accounts.Get(ctx, accountID)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrUnknownAccount
	}
	return err
}

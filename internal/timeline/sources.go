package timeline

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/d60-Lab/timeline-pipeline/internal/event"
	"github.com/d60-Lab/timeline-pipeline/internal/model"
	"github.com/d60-Lab/timeline-pipeline/internal/predicate"
	"github.com/d60-Lab/timeline-pipeline/internal/repository"
	"github.com/d60-Lab/timeline-pipeline/pkg/logger"
)

// Source is what distinguishes one kind of timeline from another.
type Source interface {
	Name() string
	// Accept reports whether s belongs in this timeline.
	Accept(s *model.Status) bool
	// Fetch returns up to count statuses older than maxID (newest first when maxID is nil).
	Fetch(ctx context.Context, maxID *int64, count int) ([]*model.Status, error)
	// PreInvalidate recomputes the source's predicate before a full reload. It
	// returns false while the recompilation is still in progress.
	PreInvalidate(ctx context.Context) bool
}

// UnwantedFilter renders the mute/block decision as a predicate for store pushdown.
type UnwantedFilter interface {
	UnwantedFilter(ctx context.Context) predicate.Expr
}

// exprSource 存储支撑的来源：谓词既用于内存判定也下推到 SQL
type exprSource struct {
	name     string
	store    repository.StatusStore
	unwanted UnwantedFilter

	mu   sync.RWMutex
	expr predicate.Expr
}

func newExprSource(name string, store repository.StatusStore, unwanted UnwantedFilter, expr predicate.Expr) *exprSource {
	return &exprSource{name: name, store: store, unwanted: unwanted, expr: expr}
}

func (s *exprSource) Name() string { return s.name }

func (s *exprSource) current() predicate.Expr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.expr
}

func (s *exprSource) set(e predicate.Expr) {
	s.mu.Lock()
	s.expr = e
	s.mu.Unlock()
}

func (s *exprSource) Accept(st *model.Status) bool { return s.current().Eval(st) }

func (s *exprSource) Fetch(ctx context.Context, maxID *int64, count int) ([]*model.Status, error) {
	where := s.current()
	if s.unwanted != nil {
		where = predicate.And(where, predicate.Not(s.unwanted.UnwantedFilter(ctx)))
	}
	q, args := where.SQL()
	return s.store.Fetch(ctx, repository.FetchQuery{Where: q, Args: args, MaxID: maxID, Count: count})
}

func (s *exprSource) PreInvalidate(context.Context) bool { return true }

// HomeSource 本地账号的主页：关注的人和自己发的，以及发给自己的私信
type HomeSource struct {
	*exprSource
	accountID int64
	follows   repository.FollowRepository
}

func NewHomeSource(accountID int64, follows repository.FollowRepository, store repository.StatusStore, unwanted UnwantedFilter) *HomeSource {
	return &HomeSource{
		exprSource: newExprSource("home", store, unwanted, predicate.False),
		accountID:  accountID,
		follows:    follows,
	}
}

// PreInvalidate reloads the followed ids. On a load failure the previous set is kept.
func (h *HomeSource) PreInvalidate(ctx context.Context) bool {
	ids, err := h.follows.ListFollowingIDs(ctx, h.accountID)
	if err != nil {
		logger.Warn("home timeline: load follows failed", zap.Int64("account_id", h.accountID), zap.Error(err))
		return true
	}
	self := []int64{h.accountID}
	h.set(predicate.Or(
		predicate.And(predicate.KindIs(model.StatusKindTweet), predicate.AuthorIn(ids, false)),
		predicate.AuthorIn(self, false),
		predicate.RecipientIs(h.accountID),
	))
	return true
}

// Watch calls invalidate whenever the account follows or unfollows someone.
func (h *HomeSource) Watch(relations *event.Bus[event.RelationChanged], invalidate func()) event.Subscription {
	return relations.Subscribe(func(e event.RelationChanged) {
		if e.AccountID != h.accountID {
			return
		}
		if e.Kind == event.RelationFollowed || e.Kind == event.RelationUnfollowed {
			invalidate()
		}
	})
}

// NewAllSource accepts every status that is not muted or blocked.
func NewAllSource(store repository.StatusStore, unwanted UnwantedFilter) Source {
	return newExprSource("all", store, unwanted, predicate.True)
}

// NewUserSource is one author's statuses.
func NewUserSource(userID int64, store repository.StatusStore, unwanted UnwantedFilter) Source {
	return newExprSource("user", store, unwanted, predicate.AuthorIn([]int64{userID}, false))
}

// NewMentionSource is statuses mentioning @screenName.
func NewMentionSource(screenName string, store repository.StatusStore, unwanted UnwantedFilter) Source {
	return newExprSource("mentions", store, unwanted, predicate.TextContains("@"+screenName))
}

// FilterSource 用户自定义规则；规则在 PreInvalidate 时重新编译
type FilterSource struct {
	*exprSource

	ruleMu sync.Mutex
	rule   predicate.Rule
}

func NewFilterSource(rule predicate.Rule, store repository.StatusStore, unwanted UnwantedFilter) *FilterSource {
	return &FilterSource{
		exprSource: newExprSource("filter", store, unwanted, predicate.False),
		rule:       rule,
	}
}

// SetRule replaces the rule; it takes effect at the next invalidation.
func (f *FilterSource) SetRule(rule predicate.Rule) {
	f.ruleMu.Lock()
	f.rule = rule
	f.ruleMu.Unlock()
}

func (f *FilterSource) Rule() predicate.Rule {
	f.ruleMu.Lock()
	defer f.ruleMu.Unlock()
	return f.rule
}

// PreInvalidate compiles the rule. A rule that does not compile rejects everything.
func (f *FilterSource) PreInvalidate(context.Context) bool {
	rule := f.Rule()
	expr, err := rule.Compile()
	if err != nil {
		logger.Warn("filter timeline: rule rejected, showing nothing", zap.Error(err))
		expr = predicate.False
	}
	f.set(expr)
	return true
}

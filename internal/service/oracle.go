package service

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/d60-Lab/timeline-pipeline/internal/event"
	"github.com/d60-Lab/timeline-pipeline/internal/metrics"
	"github.com/d60-Lab/timeline-pipeline/internal/model"
	"github.com/d60-Lab/timeline-pipeline/internal/mute"
	"github.com/d60-Lab/timeline-pipeline/internal/notify"
	"github.com/d60-Lab/timeline-pipeline/internal/predicate"
	"github.com/d60-Lab/timeline-pipeline/internal/repository"
	"github.com/d60-Lab/timeline-pipeline/pkg/logger"
)

// Oracle decides whether a status must be hidden from every subscriber.
type Oracle interface {
	IsUnwanted(ctx context.Context, s *model.Status) bool
}

// MuteBlockOracle 屏蔽/静音判定。
// 两份缓存各自加锁、各自脏标记，事件只置脏，首次读取时重建。
type MuteBlockOracle struct {
	accounts  repository.AccountRepository
	blocks    repository.BlockRepository
	relations *event.Bus[event.RelationChanged]
	mutes     *mute.Store
	sink      notify.Sink
	log       *zap.Logger

	blockMu    sync.RWMutex
	blockDirty atomic.Bool
	blocked    map[int64]struct{}
	local      map[int64]struct{}
	perAccount event.Group

	muteMu    sync.RWMutex
	muteDirty atomic.Bool
	muted     predicate.Expr

	subs event.Group
}

func NewMuteBlockOracle(
	accounts repository.AccountRepository,
	blocks repository.BlockRepository,
	relations *event.Bus[event.RelationChanged],
	mutes *mute.Store,
	sink notify.Sink,
) *MuteBlockOracle {
	if sink == nil {
		sink = notify.Discard
	}
	o := &MuteBlockOracle{
		accounts:  accounts,
		blocks:    blocks,
		relations: relations,
		mutes:     mutes,
		sink:      sink,
		log:       logger.Named("oracle"),
		blocked:   map[int64]struct{}{},
		local:     map[int64]struct{}{},
		muted:     predicate.False,
	}
	o.blockDirty.Store(true)
	o.muteDirty.Store(true)

	// 账号增删影响全局；单个账号的屏蔽变更由 perAccount 订阅处理
	o.subs.Add(relations.Subscribe(func(e event.RelationChanged) {
		if e.Kind == event.AccountAdded || e.Kind == event.AccountRemoved {
			o.InvalidateBlocks()
		}
	}))
	o.subs.Add(mutes.Subscribe(func(mute.Settings) { o.InvalidateMutes() }))
	return o
}

// InvalidateBlocks marks the blocked-user set stale.
func (o *MuteBlockOracle) InvalidateBlocks() { o.blockDirty.Store(true) }

// InvalidateMutes marks the mute predicate stale.
func (o *MuteBlockOracle) InvalidateMutes() { o.muteDirty.Store(true) }

// IsUnwanted reports whether s is authored (or retweeted from) a blocked user,
// or matches the mute settings. Statuses by local accounts always pass.
func (o *MuteBlockOracle) IsUnwanted(ctx context.Context, s *model.Status) bool {
	o.ensureBlocks(ctx)
	o.blockMu.RLock()
	if _, mine := o.local[s.UserID]; mine {
		o.blockMu.RUnlock()
		return false
	}
	_, blocked := o.blocked[s.UserID]
	if !blocked && s.RetweetedOriginal != nil {
		_, blocked = o.blocked[s.RetweetedOriginal.UserID]
	}
	o.blockMu.RUnlock()
	if blocked {
		return true
	}

	o.ensureMutes(ctx)
	o.muteMu.RLock()
	muted := o.muted
	o.muteMu.RUnlock()
	return muted.Eval(s)
}

func (o *MuteBlockOracle) IsBlocked(ctx context.Context, userID int64) bool {
	o.ensureBlocks(ctx)
	o.blockMu.RLock()
	defer o.blockMu.RUnlock()
	_, ok := o.blocked[userID]
	return ok
}

// BlockedIDs returns a snapshot of the blocked-user set.
func (o *MuteBlockOracle) BlockedIDs(ctx context.Context) []int64 {
	o.ensureBlocks(ctx)
	o.blockMu.RLock()
	defer o.blockMu.RUnlock()
	ids := make([]int64, 0, len(o.blocked))
	for id := range o.blocked {
		ids = append(ids, id)
	}
	return ids
}

// MuteFilter returns the current "is muted" predicate.
func (o *MuteBlockOracle) MuteFilter(ctx context.Context) predicate.Expr {
	o.ensureMutes(ctx)
	o.muteMu.RLock()
	defer o.muteMu.RUnlock()
	return o.muted
}

// MuteFilterSQL renders the mute predicate for store pushdown.
func (o *MuteBlockOracle) MuteFilterSQL(ctx context.Context) (string, []interface{}) {
	return o.MuteFilter(ctx).SQL()
}

// UnwantedFilter is IsUnwanted as a predicate, for store-backed fetches.
func (o *MuteBlockOracle) UnwantedFilter(ctx context.Context) predicate.Expr {
	o.ensureBlocks(ctx)
	o.blockMu.RLock()
	blocked := keys(o.blocked)
	local := keys(o.local)
	o.blockMu.RUnlock()

	unwanted := predicate.Or(predicate.AuthorIn(blocked, true), o.MuteFilter(ctx))
	if len(local) == 0 {
		return unwanted
	}
	return predicate.And(predicate.Not(predicate.AuthorIn(local, false)), unwanted)
}

// Warm rebuilds both caches concurrently.
func (o *MuteBlockOracle) Warm(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		o.ensureBlocks(ctx)
		if o.blockDirty.Load() {
			return errors.New("block set rebuild failed")
		}
		return nil
	})
	g.Go(func() error {
		o.ensureMutes(ctx)
		if o.muteDirty.Load() {
			return errors.New("mute predicate rebuild failed")
		}
		return nil
	})
	return g.Wait()
}

// Close drops all event subscriptions.
func (o *MuteBlockOracle) Close() {
	o.subs.Unsubscribe()
	o.blockMu.Lock()
	o.perAccount.Unsubscribe()
	o.blockMu.Unlock()
}

func (o *MuteBlockOracle) ensureBlocks(ctx context.Context) {
	if !o.blockDirty.Load() {
		return
	}
	o.blockMu.Lock()
	defer o.blockMu.Unlock()
	if !o.blockDirty.Load() {
		return
	}
	// 先清标记：重建期间到达的事件会重新置脏
	o.blockDirty.Store(false)

	ids, blocked, err := o.loadBlocks(ctx)
	if err != nil {
		o.blockDirty.Store(true)
		o.sink.Report(ctx, notify.Failure{Component: "oracle", Op: "rebuild_blocks", Err: err})
		return
	}
	metrics.OracleRebuilds.WithLabelValues("block").Inc()

	o.blocked = blocked
	o.local = make(map[int64]struct{}, len(ids))
	o.perAccount.Unsubscribe()
	for _, id := range ids {
		o.local[id] = struct{}{}
		accountID := id
		o.perAccount.Add(o.relations.Subscribe(func(e event.RelationChanged) {
			if e.AccountID == accountID && e.AffectsBlocks() {
				o.InvalidateBlocks()
			}
		}))
	}
	o.log.Debug("block set rebuilt", zap.Int("accounts", len(ids)), zap.Int("blocked", len(blocked)))
}

func (o *MuteBlockOracle) loadBlocks(ctx context.Context) ([]int64, map[int64]struct{}, error) {
	ids, err := o.accounts.ListIDs(ctx)
	if err != nil {
		return nil, nil, err
	}
	perAccount := make([][]int64, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			blocked, err := o.blocks.ListBlockedIDs(gctx, id)
			perAccount[i] = blocked
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	set := make(map[int64]struct{})
	for _, list := range perAccount {
		for _, id := range list {
			set[id] = struct{}{}
		}
	}
	return ids, set, nil
}

func (o *MuteBlockOracle) ensureMutes(ctx context.Context) {
	if !o.muteDirty.Load() {
		return
	}
	o.muteMu.Lock()
	defer o.muteMu.Unlock()
	if !o.muteDirty.Load() {
		return
	}
	o.muteDirty.Store(false)

	expr, err := o.mutes.Settings().Compile()
	if err != nil {
		o.muteDirty.Store(true)
		o.sink.Report(ctx, notify.Failure{Component: "oracle", Op: "compile_mute", Err: err})
		return
	}
	metrics.OracleRebuilds.WithLabelValues("mute").Inc()
	o.muted = expr
}

func keys(m map[int64]struct{}) []int64 {
	out := make([]int64, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

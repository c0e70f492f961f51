// Package timeline holds per-subscriber views over the broadcast stream: an
// ordered, de-duplicated, trimmable window filled by broadcasts and by paging
// back through the store.
package timeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/d60-Lab/timeline-pipeline/internal/event"
	"github.com/d60-Lab/timeline-pipeline/internal/metrics"
	"github.com/d60-Lab/timeline-pipeline/internal/model"
	"github.com/d60-Lab/timeline-pipeline/pkg/logger"
)

var ErrDisposed = errors.New("timeline disposed")

// Oracle is the mute/block decision the model consults before accepting a status.
type Oracle interface {
	IsUnwanted(ctx context.Context, s *model.Status) bool
	UnwantedFilter
}

// Publisher is where the model subscribes for broadcasts.
type Publisher interface {
	Subscribe(fn func(model.StatusNotification)) event.Subscription
}

type ChangeKind int

const (
	ChangeAdded ChangeKind = iota + 1
	ChangeRemoved
	ChangeReplaced
	ChangeTrimmed
	ChangeReset
)

// Change describes one mutation of the window. Index is the insert position for
// ChangeAdded and ChangeReplaced.
type Change struct {
	Kind   ChangeKind
	Status *model.Status
	Index  int
	IDs    []int64
}

type Options struct {
	PageSize      int
	ChunkSize     int
	BounceMargin  int
	DebounceDelay time.Duration
	AutoTrim      bool
	// OnChange is called after each mutation, outside the window lock.
	OnChange func(Change)
}

func (o Options) withDefaults() Options {
	if o.PageSize <= 0 {
		o.PageSize = 50
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = 200
	}
	if o.BounceMargin < 0 {
		o.BounceMargin = 0
	}
	if o.DebounceDelay <= 0 {
		o.DebounceDelay = 2 * time.Second
	}
	return o
}

// Model 单个订阅者的时间线
type Model struct {
	ID     string
	source Source
	oracle Oracle
	point  Publisher
	opts   Options
	log    *zap.Logger

	mu       sync.Mutex
	win      *window
	sub      event.Subscription
	disposed bool
	// 进行中的分页数；期间收到的删除记入 removedInLoad，落地时跳过
	loads         int
	removedInLoad map[int64]struct{}

	loading  atomic.Bool
	autoTrim atomic.Bool
	trimming atomic.Bool
	// stamp 防抖戳，每次排队或执行失效都递增
	stamp atomic.Uint64
	bg    sync.WaitGroup
}

// New builds an inactive model. Call Activate to follow broadcasts and
// InvalidateTimeline to load the first page.
func New(source Source, oracle Oracle, point Publisher, opts Options) *Model {
	opts = opts.withDefaults()
	m := &Model{
		ID:     uuid.NewString(),
		source: source,
		oracle: oracle,
		point:  point,
		opts:   opts,
		win:    newWindow(),
	}
	m.log = logger.Named("timeline").With(zap.String("timeline_id", m.ID), zap.String("source", source.Name()))
	m.autoTrim.Store(opts.AutoTrim)
	return m
}

func (m *Model) Source() Source { return m.source }

func (m *Model) IsLoading() bool { return m.loading.Load() }

func (m *Model) IsSubscribeBroadcaster() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sub != nil
}

func (m *Model) SetAutoTrim(on bool) {
	m.autoTrim.Store(on)
	if on {
		m.maybeTrim()
	}
}

// Activate subscribes to broadcasts. It is a no-op when already subscribed.
func (m *Model) Activate() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed {
		return ErrDisposed
	}
	if m.sub == nil {
		m.sub = m.point.Subscribe(m.handle)
	}
	return nil
}

// Deactivate unsubscribes and keeps the window as it is.
func (m *Model) Deactivate() {
	m.mu.Lock()
	sub := m.sub
	m.sub = nil
	m.mu.Unlock()
	if sub != nil {
		sub.Unsubscribe()
	}
}

// Dispose unsubscribes, cancels pending invalidations, clears the window and
// waits for background trims. Every later call fails with ErrDisposed.
func (m *Model) Dispose() {
	m.stamp.Add(1)
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return
	}
	m.disposed = true
	sub := m.sub
	m.sub = nil
	m.win.reset()
	m.mu.Unlock()
	if sub != nil {
		sub.Unsubscribe()
	}
	m.bg.Wait()
}

func (m *Model) Snapshot() []*model.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.win.snapshot()
}

func (m *Model) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.win.len()
}

// TrimLine returns the current trim boundary, if any trim happened since the last reset.
func (m *Model) TrimLine() (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.win.trimLine, m.win.trimmed
}

// CheckAcceptStatus reports whether s passes the source predicate and is not muted or blocked.
func (m *Model) CheckAcceptStatus(ctx context.Context, s *model.Status) bool {
	if !m.source.Accept(s) {
		return false
	}
	return m.oracle == nil || !m.oracle.IsUnwanted(ctx, s)
}

// CheckStatusAdd reports whether a broadcast s may enter the window: it is not
// already there and does not fall below the trim line.
func (m *Model) CheckStatusAdd(s *model.Status) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.checkStatusAdd(s)
}

func (m *Model) checkStatusAdd(s *model.Status) bool {
	return !m.disposed && !m.win.contains(s.ID) && !m.win.belowTrimLine(s)
}

// ReadMore pages older statuses below maxID (from the newest when nil) into the
// window and returns how many were inserted.
func (m *Model) ReadMore(ctx context.Context, maxID *int64) (int, error) {
	if m.isDisposed() {
		return 0, ErrDisposed
	}
	m.loading.Store(true)
	defer m.loading.Store(false)
	return m.readMore(ctx, maxID)
}

func (m *Model) readMore(ctx context.Context, maxID *int64) (int, error) {
	m.mu.Lock()
	if m.loads == 0 {
		m.removedInLoad = make(map[int64]struct{})
	}
	m.loads++
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		if m.loads--; m.loads == 0 {
			m.removedInLoad = nil
		}
		m.mu.Unlock()
	}()

	page, err := m.source.Fetch(ctx, maxID, m.opts.PageSize)
	if err != nil {
		return 0, errors.Wrap(err, "fetch page")
	}

	inserted := 0
	var oldest *model.Status
	for _, s := range page {
		if err := ctx.Err(); err != nil {
			return inserted, err
		}
		if !m.CheckAcceptStatus(ctx, s) {
			continue
		}
		m.mu.Lock()
		if m.disposed {
			m.mu.Unlock()
			return inserted, ErrDisposed
		}
		if m.removedWhileLoading(s) {
			m.mu.Unlock()
			continue
		}
		idx := m.win.insert(s)
		m.mu.Unlock()
		if idx < 0 {
			continue
		}
		inserted++
		if oldest == nil || oldest.Before(s) {
			oldest = s
		}
		m.emit(Change{Kind: ChangeAdded, Status: s, Index: idx})
	}

	if oldest != nil {
		m.mu.Lock()
		m.win.lowerTrimLine(oldest.CreatedAt)
		m.mu.Unlock()
	}
	// 分页是显式请求，不触发裁剪
	return inserted, nil
}

// InvalidateTimeline clears the window and reloads the newest page. Pending
// debounced invalidations are cancelled.
func (m *Model) InvalidateTimeline(ctx context.Context) error {
	m.stamp.Add(1)
	if m.isDisposed() {
		return ErrDisposed
	}
	metrics.TimelineInvalidations.Inc()

	ready := m.source.PreInvalidate(ctx)
	m.loading.Store(true)

	m.mu.Lock()
	m.win.reset()
	m.mu.Unlock()
	m.emit(Change{Kind: ChangeReset})

	_, err := m.readMore(ctx, nil)
	// 谓词仍在重新编译时保持 loading，由下一次失效收尾
	if ready {
		m.loading.Store(false)
	}
	return err
}

// QueueInvalidateTimeline schedules InvalidateTimeline after the debounce delay.
// Calls arriving within the delay coalesce into one invalidation.
func (m *Model) QueueInvalidateTimeline() {
	stamp := m.stamp.Add(1)
	time.AfterFunc(m.opts.DebounceDelay, func() {
		if m.stamp.Load() != stamp {
			return
		}
		if err := m.InvalidateTimeline(context.Background()); err != nil && !errors.Is(err, ErrDisposed) {
			m.log.Warn("debounced invalidation failed", zap.Error(err))
		}
	})
}

func (m *Model) handle(n model.StatusNotification) {
	switch n.Kind {
	case model.NotificationAdded:
		m.handleAdded(n)
	case model.NotificationRemoved:
		m.mu.Lock()
		removed := m.win.remove(n.ID)
		if m.loads > 0 {
			m.removedInLoad[n.ID] = struct{}{}
			for _, id := range removed {
				m.removedInLoad[id] = struct{}{}
			}
		}
		m.mu.Unlock()
		if len(removed) > 0 {
			m.emit(Change{Kind: ChangeRemoved, IDs: removed})
		}
	}
}

func (m *Model) handleAdded(n model.StatusNotification) {
	s := n.Status
	if s == nil {
		return
	}
	ctx := context.Background()
	if n.Republished {
		m.mu.Lock()
		idx := m.win.replace(s)
		m.mu.Unlock()
		if idx >= 0 {
			m.emit(Change{Kind: ChangeReplaced, Status: s, Index: idx})
		}
		return
	}
	if !m.CheckAcceptStatus(ctx, s) {
		return
	}

	m.mu.Lock()
	if !m.checkStatusAdd(s) {
		m.mu.Unlock()
		return
	}
	idx := m.win.insert(s)
	m.mu.Unlock()
	m.emit(Change{Kind: ChangeAdded, Status: s, Index: idx})
	m.maybeTrim()
}

// maybeTrim starts a background trim once the window outgrows chunk+bounce.
func (m *Model) maybeTrim() {
	if !m.autoTrim.Load() {
		return
	}
	// Add 与 disposed 检查在同一临界区内，Dispose 的 Wait 不会漏掉它
	m.mu.Lock()
	over := !m.disposed && m.win.len() > m.opts.ChunkSize+m.opts.BounceMargin
	if !over || !m.trimming.CompareAndSwap(false, true) {
		m.mu.Unlock()
		return
	}
	m.bg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.bg.Done()
		defer m.trimming.Store(false)
		m.mu.Lock()
		dropped := m.win.trimTo(m.opts.ChunkSize)
		m.mu.Unlock()
		if len(dropped) == 0 {
			return
		}
		metrics.TimelineTrimmed.Add(float64(len(dropped)))
		m.log.Debug("window trimmed", zap.Int("dropped", len(dropped)))
		m.emit(Change{Kind: ChangeTrimmed, IDs: dropped})
	}()
}

// removedWhileLoading reports whether s, or the status it retweets, was removed
// by a broadcast during the current load. Caller holds m.mu.
func (m *Model) removedWhileLoading(s *model.Status) bool {
	if _, ok := m.removedInLoad[s.ID]; ok {
		return true
	}
	if s.RetweetedOriginalID != nil {
		_, ok := m.removedInLoad[*s.RetweetedOriginalID]
		return ok
	}
	return false
}

func (m *Model) isDisposed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disposed
}

func (m *Model) emit(c Change) {
	if m.opts.OnChange != nil {
		m.opts.OnChange(c)
	}
}

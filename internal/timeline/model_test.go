package timeline

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/timeline-pipeline/internal/event"
	"github.com/d60-Lab/timeline-pipeline/internal/model"
	"github.com/d60-Lab/timeline-pipeline/internal/predicate"
	"github.com/d60-Lab/timeline-pipeline/internal/testutil"
)

const waitFor = 3 * time.Second
const tick = 5 * time.Millisecond

// memSource 内存来源：Fetch 按 id < maxID 分页，模拟存储的语义
type memSource struct {
	mu       sync.Mutex
	all      []*model.Status
	accept   func(*model.Status) bool
	ready    bool
	preCalls atomic.Int32
	fetches  atomic.Int32
	block    chan struct{}
}

func newMemSource(statuses ...*model.Status) *memSource {
	return &memSource{all: statuses, ready: true}
}

func (s *memSource) Name() string { return "mem" }

func (s *memSource) Accept(st *model.Status) bool {
	return s.accept == nil || s.accept(st)
}

func (s *memSource) Fetch(ctx context.Context, maxID *int64, count int) ([]*model.Status, error) {
	s.fetches.Add(1)
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var page []*model.Status
	for _, st := range s.all {
		if maxID == nil || st.ID < *maxID {
			page = append(page, st)
		}
	}
	sort.Slice(page, func(i, j int) bool { return page[i].Before(page[j]) })
	if len(page) > count {
		page = page[:count]
	}
	return page, nil
}

func (s *memSource) PreInvalidate(context.Context) bool {
	s.preCalls.Add(1)
	return s.ready
}

type fakeOracle struct {
	mu      sync.Mutex
	blocked map[int64]bool
}

func (o *fakeOracle) block(id int64) {
	o.mu.Lock()
	if o.blocked == nil {
		o.blocked = map[int64]bool{}
	}
	o.blocked[id] = true
	o.mu.Unlock()
}

func (o *fakeOracle) IsUnwanted(_ context.Context, s *model.Status) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.blocked[s.UserID]
}

func (o *fakeOracle) UnwantedFilter(context.Context) predicate.Expr {
	o.mu.Lock()
	defer o.mu.Unlock()
	var ids []int64
	for id := range o.blocked {
		ids = append(ids, id)
	}
	return predicate.AuthorIn(ids, true)
}

type fixture struct {
	m      *Model
	src    *memSource
	oracle *fakeOracle
	bus    *event.Bus[model.StatusNotification]
}

// newFixture uses a synchronous bus so broadcast effects are visible on return.
func newFixture(t *testing.T, src *memSource, opts Options) *fixture {
	t.Helper()
	f := &fixture{src: src, oracle: &fakeOracle{}, bus: event.NewBus[model.StatusNotification]()}
	f.m = New(src, f.oracle, f.bus, opts)
	require.NoError(t, f.m.Activate())
	t.Cleanup(f.m.Dispose)
	return f
}

func (f *fixture) add(s *model.Status) { f.bus.Publish(model.Added(s, true)) }

func TestModel_BroadcastOrderingAndDedup(t *testing.T) {
	f := newFixture(t, newMemSource(), Options{})
	for i := 0; i < 200; i++ {
		id := int64((i * 37) % 97)
		f.add(testutil.Status(id, 1, int(id%13)))
	}

	items := f.m.Snapshot()
	require.Len(t, items, 97)
	seen := map[int64]bool{}
	for i, it := range items {
		require.False(t, seen[it.ID])
		seen[it.ID] = true
		if i > 0 {
			require.False(t, it.CreatedAt.After(items[i-1].CreatedAt), "order broken at %d", i)
		}
	}
}

func TestModel_AcceptanceConsultsSourceAndOracle(t *testing.T) {
	src := newMemSource()
	src.accept = func(s *model.Status) bool { return s.UserID != 3 }
	f := newFixture(t, src, Options{})
	f.oracle.block(4)

	f.add(testutil.Status(1, 2, 1))
	f.add(testutil.Status(2, 3, 2))
	f.add(testutil.Status(3, 4, 3))
	assert.Equal(t, []int64{1}, ids(f.m.Snapshot()))
}

func TestModel_RemovalCascadesAndRepublishReplaces(t *testing.T) {
	var changes []Change
	f := newFixture(t, newMemSource(), Options{OnChange: func(c Change) { changes = append(changes, c) }})
	orig := testutil.Status(100, 1, 10)
	f.add(orig)
	f.add(testutil.Retweet(101, 2, 11, orig))
	f.add(testutil.Status(102, 3, 12))

	upd := testutil.Status(102, 3, 12)
	upd.FavoritedBy = []int64{9}
	f.bus.Publish(model.Republished(upd))
	assert.Same(t, upd, f.m.Snapshot()[0])
	// 不在窗口中的重发不会新增
	f.bus.Publish(model.Republished(testutil.Status(103, 3, 13)))
	assert.Equal(t, 3, f.m.Len())

	f.bus.Publish(model.Removed(100, nil))
	assert.Equal(t, []int64{102}, ids(f.m.Snapshot()))

	kinds := make([]ChangeKind, len(changes))
	for i, c := range changes {
		kinds[i] = c.Kind
	}
	assert.Equal(t, []ChangeKind{ChangeAdded, ChangeAdded, ChangeAdded, ChangeReplaced, ChangeRemoved}, kinds)
	assert.ElementsMatch(t, []int64{100, 101}, changes[4].IDs)
}

func TestModel_ReadMorePagesBackwards(t *testing.T) {
	var all []*model.Status
	for i := int64(1); i <= 10; i++ {
		all = append(all, testutil.Status(i, 1, int(i)))
	}
	f := newFixture(t, newMemSource(all...), Options{PageSize: 4})
	ctx := context.Background()

	require.NoError(t, f.m.InvalidateTimeline(ctx))
	assert.Equal(t, []int64{10, 9, 8, 7}, ids(f.m.Snapshot()))

	oldest := int64(7)
	n, err := f.m.ReadMore(ctx, &oldest)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	oldest = 3
	n, err = f.m.ReadMore(ctx, &oldest)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []int64{10, 9, 8, 7, 6, 5, 4, 3, 2, 1}, ids(f.m.Snapshot()))

	// 重复分页不会产生重复
	n, err = f.m.ReadMore(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.False(t, f.m.IsLoading())
}

func TestModel_ReadMoreHonoursContext(t *testing.T) {
	src := newMemSource(testutil.Status(1, 1, 1))
	src.block = make(chan struct{})
	f := newFixture(t, src, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := f.m.ReadMore(ctx, nil)
		done <- err
	}()
	require.Eventually(t, f.m.IsLoading, waitFor, tick)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.False(t, f.m.IsLoading())
	assert.Equal(t, 0, f.m.Len())
}

func TestModel_TrimNonResurrection(t *testing.T) {
	f := newFixture(t, newMemSource(), Options{AutoTrim: true, ChunkSize: 5, BounceMargin: 2})
	for i := 1; i <= 8; i++ {
		f.add(testutil.Status(int64(i), 1, i))
	}
	require.Eventually(t, func() bool { return f.m.Len() == 5 }, waitFor, tick)
	assert.Equal(t, []int64{8, 7, 6, 5, 4}, ids(f.m.Snapshot()))
	line, trimmed := f.m.TrimLine()
	require.True(t, trimmed)
	assert.Equal(t, testutil.Epoch.Add(4*time.Second), line)

	// 早于裁剪线的广播不会被重新插入
	f.add(testutil.Status(2, 1, 2))
	f.add(testutil.Status(30, 1, 3))
	assert.False(t, f.m.CheckStatusAdd(testutil.Status(31, 1, 1)))
	assert.Equal(t, 5, f.m.Len())

	// 等于裁剪线的可以
	f.add(testutil.Status(40, 1, 4))
	f.add(testutil.Status(10, 1, 10))
	assert.Equal(t, []int64{10, 8, 7, 6, 5, 40, 4}, ids(f.m.Snapshot()))
}

func TestModel_ReadMoreLowersTrimLine(t *testing.T) {
	var all []*model.Status
	for i := int64(1); i <= 8; i++ {
		all = append(all, testutil.Status(i, 1, int(i)))
	}
	f := newFixture(t, newMemSource(all...), Options{AutoTrim: true, ChunkSize: 5, BounceMargin: 2, PageSize: 10})
	for _, s := range all {
		f.add(s)
	}
	require.Eventually(t, func() bool { return f.m.Len() == 5 }, waitFor, tick)

	maxID := int64(4)
	n, err := f.m.ReadMore(context.Background(), &maxID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []int64{8, 7, 6, 5, 4, 3, 2, 1}, ids(f.m.Snapshot()))
	line, _ := f.m.TrimLine()
	assert.Equal(t, testutil.Epoch.Add(time.Second), line)
}

func TestModel_DebouncedInvalidationRunsOnce(t *testing.T) {
	src := newMemSource(testutil.Status(1, 1, 1))
	f := newFixture(t, src, Options{DebounceDelay: 30 * time.Millisecond})

	for i := 0; i < 10; i++ {
		f.m.QueueInvalidateTimeline()
		time.Sleep(2 * time.Millisecond)
	}
	require.Eventually(t, func() bool { return src.preCalls.Load() == 1 }, waitFor, tick)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), src.preCalls.Load())
	assert.Equal(t, 1, f.m.Len())
}

func TestModel_InvalidateCancelsPendingDebounce(t *testing.T) {
	src := newMemSource()
	f := newFixture(t, src, Options{DebounceDelay: 20 * time.Millisecond})

	f.m.QueueInvalidateTimeline()
	require.NoError(t, f.m.InvalidateTimeline(context.Background()))
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, int32(1), src.preCalls.Load())
}

func TestModel_LoadingStaysWhileRecompiling(t *testing.T) {
	src := newMemSource(testutil.Status(1, 1, 1))
	src.ready = false
	f := newFixture(t, src, Options{})

	require.NoError(t, f.m.InvalidateTimeline(context.Background()))
	assert.True(t, f.m.IsLoading())
	assert.Equal(t, 1, f.m.Len())

	src.ready = true
	require.NoError(t, f.m.InvalidateTimeline(context.Background()))
	assert.False(t, f.m.IsLoading())
}

func TestModel_StateMachine(t *testing.T) {
	f := newFixture(t, newMemSource(), Options{})
	assert.True(t, f.m.IsSubscribeBroadcaster())
	require.NoError(t, f.m.Activate())
	assert.Equal(t, 1, f.bus.Len())

	f.add(testutil.Status(1, 1, 1))
	f.m.Deactivate()
	assert.False(t, f.m.IsSubscribeBroadcaster())
	assert.Equal(t, 0, f.bus.Len())
	f.add(testutil.Status(2, 1, 2))
	assert.Equal(t, []int64{1}, ids(f.m.Snapshot()))

	require.NoError(t, f.m.Activate())
	f.add(testutil.Status(3, 1, 3))
	assert.Equal(t, []int64{3, 1}, ids(f.m.Snapshot()))

	f.m.Dispose()
	f.m.Dispose()
	assert.Equal(t, 0, f.m.Len())
	assert.Equal(t, 0, f.bus.Len())
	assert.ErrorIs(t, f.m.Activate(), ErrDisposed)
	assert.ErrorIs(t, f.m.InvalidateTimeline(context.Background()), ErrDisposed)
	_, err := f.m.ReadMore(context.Background(), nil)
	assert.ErrorIs(t, err, ErrDisposed)
	f.add(testutil.Status(4, 1, 4))
	assert.Equal(t, 0, f.m.Len())
}

func TestModel_RemovalDuringReadMoreIsNotResurrected(t *testing.T) {
	orig := testutil.Status(10, 1, 10)
	src := newMemSource(orig, testutil.Retweet(11, 2, 11, orig), testutil.Status(12, 1, 12))
	src.block = make(chan struct{})
	f := newFixture(t, src, Options{})

	done := make(chan error, 1)
	go func() {
		_, err := f.m.ReadMore(context.Background(), nil)
		done <- err
	}()
	require.Eventually(t, func() bool { return src.fetches.Load() == 1 }, waitFor, tick)

	// 页面已读出但尚未落地时收到删除
	f.bus.Publish(model.Removed(10, orig))
	close(src.block)
	require.NoError(t, <-done)
	assert.Equal(t, []int64{12}, ids(f.m.Snapshot()))

	// 加载结束后不再拦截同一 id
	f.add(orig)
	assert.Equal(t, []int64{12, 10}, ids(f.m.Snapshot()))
}

func TestModel_DisposeWaitsForTrims(t *testing.T) {
	f := newFixture(t, newMemSource(), Options{AutoTrim: true, ChunkSize: 2})

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 1; i <= 200; i++ {
				id := w*1000 + i
				f.add(testutil.Status(int64(id), 1, id))
			}
		}(w)
	}
	time.Sleep(time.Millisecond)
	f.m.Dispose()
	assert.False(t, f.m.trimming.Load())
	assert.Equal(t, 0, f.m.Len())

	wg.Wait()
	assert.False(t, f.m.trimming.Load())
	assert.Equal(t, 0, f.m.Len())
}

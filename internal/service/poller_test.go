package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/timeline-pipeline/internal/model"
	"github.com/d60-Lab/timeline-pipeline/internal/testutil"
)

// scriptedSource returns every status with id > sinceID and records the cursor it was asked for.
type scriptedSource struct {
	name string
	mu   sync.Mutex
	all  []*model.Status
	seen []int64
	err  error
}

func (s *scriptedSource) Name() string { return s.name }

func (s *scriptedSource) Poll(_ context.Context, sinceID int64) ([]*model.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = append(s.seen, sinceID)
	if s.err != nil {
		return nil, s.err
	}
	var out []*model.Status
	for _, st := range s.all {
		if st.ID > sinceID {
			out = append(out, st)
		}
	}
	return out, nil
}

func (s *scriptedSource) add(st ...*model.Status) {
	s.mu.Lock()
	s.all = append(s.all, st...)
	s.mu.Unlock()
}

func (s *scriptedSource) cursors() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.seen...)
}

func TestPoller_PollOnceTracksCursorPerSource(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	home := &scriptedSource{name: "home"}
	mentions := &scriptedSource{name: "mentions"}
	home.add(testutil.Status(1, 2, 1), testutil.Status(2, 2, 2), testutil.Status(3, 3, 3))
	// 与 home 重叠
	mentions.add(testutil.Status(3, 3, 3))
	p := NewPoller(h.p.Inbox, h.sink, time.Hour, home, mentions)

	n, err := p.PollOnce(ctx, home)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	n, err = p.PollOnce(ctx, mentions)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	home.add(testutil.Status(4, 2, 4))
	n, err = p.PollOnce(ctx, home)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []int64{0, 3}, home.cursors())
	h.flush(t)

	for id := int64(1); id <= 4; id++ {
		assert.Equal(t, 1, h.rec.Count(model.NotificationAdded, id), "status %d", id)
	}
	assert.Len(t, p.Metrics(), 3)
}

func TestPoller_SourceErrorIsReported(t *testing.T) {
	h := newHarness(t, nil)
	src := &scriptedSource{name: "lists", err: errors.New("rate limited")}
	p := NewPoller(h.p.Inbox, h.sink, time.Hour, src)

	_, err := p.PollOnce(context.Background(), src)
	require.Error(t, err)
	require.Len(t, h.sink.Failures(), 1)
	assert.Equal(t, "poller", h.sink.Failures()[0].Component)
	assert.Equal(t, "lists", h.sink.Failures()[0].Op)
}

func TestPoller_StartedWithPipeline(t *testing.T) {
	h := newHarness(t, nil)
	src := &scriptedSource{name: "home"}
	src.add(testutil.Status(11, 2, 0))
	h.p.AddPoller(NewPoller(h.p.Inbox, h.sink, 10*time.Millisecond, PollFunc{
		SourceName: src.Name(),
		Fn:         src.Poll,
	}))
	h.p.Start(context.Background())

	require.Eventually(t, func() bool { return len(src.cursors()) >= 2 }, waitFor, tick)
	h.flush(t)
	assert.Equal(t, 1, h.rec.Count(model.NotificationAdded, 11))

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, h.p.Stop(ctx))
	after := len(src.cursors())
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, len(src.cursors()))
}

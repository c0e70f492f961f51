package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/d60-Lab/timeline-pipeline/internal/model"
	"github.com/d60-Lab/timeline-pipeline/internal/notify"
	"github.com/d60-Lab/timeline-pipeline/internal/repository"
)

var (
	ErrEmptyText      = errors.New("status text is empty")
	ErrUnknownAccount = errors.New("unknown local account")
)

// idEpoch 2020-01-01 UTC，毫秒
const idEpoch int64 = 1577836800000

// IDGenerator 生成单调递增、近似按时间排序的 64 位 id（毫秒 << 12 | 序号）。
type IDGenerator struct {
	mu   sync.Mutex
	last int64
	seq  int64
	now  func() time.Time
}

func NewIDGenerator() *IDGenerator { return &IDGenerator{now: time.Now} }

func (g *IDGenerator) Next() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	ms := g.now().UnixMilli() - idEpoch
	if ms < g.last {
		ms = g.last
	}
	if ms == g.last {
		g.seq++
		if g.seq >= 1<<12 {
			// 序号用完，借用下一毫秒
			ms++
			g.seq = 0
		}
	} else {
		g.seq = 0
	}
	g.last = ms
	return ms<<12 | g.seq
}

// ComposeRequest 本地账号发推/私信/转推
type ComposeRequest struct {
	AccountID   int64
	Text        string
	Source      string
	RecipientID *int64
	RetweetOf   *int64
}

// Composer 本地发布入口：构造 Status 后与其它生产者一样进入 Inbox
type Composer struct {
	accounts     repository.AccountRepository
	store        repository.StatusStore
	inbox        *Inbox
	interactions *InteractionRecorder
	sink         notify.Sink
	ids          *IDGenerator
	now          func() time.Time
}

func NewComposer(accounts repository.AccountRepository, store repository.StatusStore, inbox *Inbox, interactions *InteractionRecorder, sink notify.Sink) *Composer {
	if sink == nil {
		sink = notify.Discard
	}
	return &Composer{
		accounts:     accounts,
		store:        store,
		inbox:        inbox,
		interactions: interactions,
		sink:         sink,
		ids:          NewIDGenerator(),
		now:          time.Now,
	}
}

// Compose builds the status and queues it. It returns once queued, not once stored.
func (c *Composer) Compose(ctx context.Context, req ComposeRequest) (*model.Status, error) {
	acc, err := c.accounts.Get(ctx, req.AccountID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrUnknownAccount
	}
	if err != nil {
		return nil, err
	}

	s := &model.Status{
		ID:        c.ids.Next(),
		UserID:    acc.ID,
		User:      &model.User{ID: acc.ID, ScreenName: acc.ScreenName, Name: acc.ScreenName},
		Text:      strings.TrimSpace(req.Text),
		Source:    req.Source,
		CreatedAt: c.now().UTC(),
	}
	if req.RecipientID != nil {
		to := *req.RecipientID
		s.Kind = model.StatusKindDirectMessage
		s.RecipientID = &to
	}

	if req.RetweetOf != nil {
		orig, err := c.store.Get(ctx, *req.RetweetOf)
		if err != nil {
			return nil, errors.Wrap(err, "retweet target")
		}
		if orig.IsRetweet() && orig.RetweetedOriginal != nil {
			orig = orig.RetweetedOriginal
		}
		if s.Text == "" {
			s.Text = "RT @" + screenNameOf(orig) + ": " + orig.Text
		}
		s.WithRetweetOf(orig)
	}
	if s.Text == "" {
		return nil, ErrEmptyText
	}

	if err := c.inbox.Queue(s); err != nil {
		return nil, err
	}
	// 转推本身已入队，记录转推者失败只上报，不回滚
	if s.IsRetweet() && c.interactions != nil {
		if err := c.interactions.EnqueueRetweetedBy(*s.RetweetedOriginalID, acc.ID); err != nil {
			c.sink.Report(ctx, notify.Failure{Component: "composer", Op: "retweeted_by", StatusID: *s.RetweetedOriginalID, Err: err})
		}
	}
	return s, nil
}

func screenNameOf(s *model.Status) string {
	if s.User != nil {
		return s.User.ScreenName
	}
	return ""
}

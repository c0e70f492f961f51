package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/d60-Lab/timeline-pipeline/internal/model"
	"github.com/d60-Lab/timeline-pipeline/internal/notify"
	"github.com/d60-Lab/timeline-pipeline/pkg/logger"
)

// PollSource is a REST-style producer: it returns statuses newer than sinceID.
type PollSource interface {
	Name() string
	Poll(ctx context.Context, sinceID int64) ([]*model.Status, error)
}

// PollFunc adapts a function to PollSource.
type PollFunc struct {
	SourceName string
	Fn         func(ctx context.Context, sinceID int64) ([]*model.Status, error)
}

func (f PollFunc) Name() string { return f.SourceName }

func (f PollFunc) Poll(ctx context.Context, sinceID int64) ([]*model.Status, error) {
	return f.Fn(ctx, sinceID)
}

// Poller 定时轮询若干来源，把结果写入 Inbox。
// 各来源的轮询结果会互相重叠，去重交给 Inbox。
type Poller struct {
	inbox    *Inbox
	sources  []PollSource
	interval time.Duration
	sink     notify.Sink
	log      *zap.Logger

	mu    sync.Mutex
	since map[string]int64
	// 每轮拉到的条数
	metricsCh chan int
}

func NewPoller(inbox *Inbox, sink notify.Sink, interval time.Duration, sources ...PollSource) *Poller {
	if interval <= 0 {
		interval = time.Minute
	}
	if sink == nil {
		sink = notify.Discard
	}
	return &Poller{
		inbox:     inbox,
		sources:   sources,
		interval:  interval,
		sink:      sink,
		log:       logger.Named("poller"),
		since:     make(map[string]int64),
		metricsCh: make(chan int, 1024),
	}
}

func (p *Poller) Metrics() <-chan int { return p.metricsCh }

// Start 每个来源一个 goroutine；返回停止函数。
func (p *Poller) Start() func(context.Context) error {
	stop := make(chan struct{})
	var wg sync.WaitGroup
	for _, src := range p.sources {
		wg.Add(1)
		go func(src PollSource) {
			defer wg.Done()
			p.loop(src, stop)
		}(src)
	}
	return func(ctx context.Context) error {
		close(stop)
		done := make(chan struct{})
		go func() { wg.Wait(); close(done) }()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (p *Poller) loop(src PollSource, stop <-chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	_, _ = p.PollOnce(ctx, src)
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			_, _ = p.PollOnce(ctx, src)
		}
	}
}

// PollOnce polls src once and queues the results; it returns how many were queued.
func (p *Poller) PollOnce(ctx context.Context, src PollSource) (int, error) {
	p.mu.Lock()
	since := p.since[src.Name()]
	p.mu.Unlock()

	statuses, err := src.Poll(ctx, since)
	if err != nil {
		if ctx.Err() == nil {
			p.sink.Report(ctx, notify.Failure{Component: "poller", Op: src.Name(), Err: err})
		}
		return 0, err
	}

	queued := 0
	maxID := since
	for _, s := range statuses {
		if s.ID > maxID {
			maxID = s.ID
		}
		if err := p.inbox.Queue(s); err != nil {
			p.log.Debug("inbox closed, stop queuing", zap.String("source", src.Name()))
			break
		}
		queued++
	}

	p.mu.Lock()
	if maxID > p.since[src.Name()] {
		p.since[src.Name()] = maxID
	}
	p.mu.Unlock()

	select {
	case p.metricsCh <- queued:
	default:
	}
	return queued, nil
}

package service

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/d60-Lab/timeline-pipeline/internal/model"
	"github.com/d60-Lab/timeline-pipeline/internal/notify"
	"github.com/d60-Lab/timeline-pipeline/internal/repository"
	"github.com/d60-Lab/timeline-pipeline/pkg/logger"
)

// ErrQueueFull is returned when an interaction cannot be queued without blocking.
var ErrQueueFull = errors.New("interaction queue full")

type interactionAction int

const (
	actionFavorite interactionAction = iota + 1
	actionUnfavorite
	actionRetweetedBy
)

func (a interactionAction) String() string {
	switch a {
	case actionFavorite:
		return "favorite"
	case actionUnfavorite:
		return "unfavorite"
	case actionRetweetedBy:
		return "retweeted_by"
	default:
		return "unknown"
	}
}

type interactionJob struct {
	action   interactionAction
	statusID int64
	userID   int64
	enqAt    time.Time
}

// Republisher re-emits stored statuses.
type Republisher interface {
	Republish(s *model.Status) error
}

// InteractionRecorder 异步记录收藏/转推者，写回存储后 Republish，让订阅者刷新副本。
// 按 status id 分片到固定 worker，同一条推文的读改写不会并发。
type InteractionRecorder struct {
	store     repository.StatusStore
	broadcast Republisher
	sink      notify.Sink
	shards    []chan interactionJob
	metricsCh chan time.Duration
}

func NewInteractionRecorder(store repository.StatusStore, broadcast Republisher, sink notify.Sink, workers, queueSize int) *InteractionRecorder {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 10000
	}
	if sink == nil {
		sink = notify.Discard
	}
	shards := make([]chan interactionJob, workers)
	for i := range shards {
		shards[i] = make(chan interactionJob, queueSize/workers+1)
	}
	return &InteractionRecorder{
		store:     store,
		broadcast: broadcast,
		sink:      sink,
		shards:    shards,
		metricsCh: make(chan time.Duration, 65536),
	}
}

// Start launches one goroutine per shard and returns the stop function. Stop
// finishes whatever is already queued, bounded by its ctx.
func (r *InteractionRecorder) Start() func(context.Context) error {
	stopCh := make(chan struct{})
	done := make(chan struct{}, len(r.shards))
	for _, ch := range r.shards {
		go func(ch chan interactionJob) {
			defer func() { done <- struct{}{} }()
			for {
				select {
				case job := <-ch:
					r.process(job)
				case <-stopCh:
					// 排空剩余任务
					for {
						select {
						case job := <-ch:
							r.process(job)
						default:
							return
						}
					}
				}
			}
		}(ch)
	}
	return func(ctx context.Context) error {
		close(stopCh)
		for range r.shards {
			select {
			case <-done:
			case <-ctx.Done():
				return errors.Wrap(ctx.Err(), "interaction drain")
			}
		}
		return nil
	}
}

func (r *InteractionRecorder) process(job interactionJob) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.apply(ctx, job); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			logger.Debug("interaction for unknown status", zap.Int64("status_id", job.statusID))
		} else {
			r.sink.Report(ctx, notify.Failure{Component: "interactions", Op: job.action.String(), StatusID: job.statusID, Err: err})
		}
	}
	select {
	case r.metricsCh <- time.Since(job.enqAt):
	default:
	}
}

func (r *InteractionRecorder) apply(ctx context.Context, job interactionJob) error {
	cur, err := r.store.Get(ctx, job.statusID)
	if err != nil {
		return err
	}
	// 写时复制：已发布出去的副本不被修改
	next := cur.Clone()
	var changed bool
	switch job.action {
	case actionFavorite:
		next.FavoritedBy, changed = addID(next.FavoritedBy, job.userID)
	case actionUnfavorite:
		next.FavoritedBy, changed = removeID(next.FavoritedBy, job.userID)
	case actionRetweetedBy:
		next.RetweetedBy, changed = addID(next.RetweetedBy, job.userID)
	}
	if !changed {
		return nil
	}
	if err := r.store.UpdateInteractions(ctx, next); err != nil {
		return err
	}
	return r.broadcast.Republish(next)
}

func (r *InteractionRecorder) enqueue(job interactionJob) error {
	job.enqAt = time.Now()
	ch := r.shards[shardOf(job.statusID, len(r.shards))]
	select {
	case ch <- job:
		return nil
	default:
		logger.Warn("interaction queue full, drop",
			zap.String("action", job.action.String()),
			zap.Int64("status_id", job.statusID),
			zap.Int64("user_id", job.userID))
		return ErrQueueFull
	}
}

func (r *InteractionRecorder) EnqueueFavorite(statusID, userID int64) error {
	return r.enqueue(interactionJob{action: actionFavorite, statusID: statusID, userID: userID})
}

func (r *InteractionRecorder) EnqueueUnfavorite(statusID, userID int64) error {
	return r.enqueue(interactionJob{action: actionUnfavorite, statusID: statusID, userID: userID})
}

// EnqueueRetweetedBy records that userID retweeted statusID.
func (r *InteractionRecorder) EnqueueRetweetedBy(statusID, userID int64) error {
	return r.enqueue(interactionJob{action: actionRetweetedBy, statusID: statusID, userID: userID})
}

// Metrics 返回每条互动从入队到处理完成的耗时
func (r *InteractionRecorder) Metrics() <-chan time.Duration { return r.metricsCh }

// QueueLen 返回当前队列长度（采样值）。
func (r *InteractionRecorder) QueueLen() int {
	n := 0
	for _, ch := range r.shards {
		n += len(ch)
	}
	return n
}

// shardOf 按无符号取模，负 id（含 MinInt64）也落在 [0, n)
func shardOf(id int64, n int) int {
	return int(uint64(id) % uint64(n))
}

func addID(ids []int64, id int64) ([]int64, bool) {
	for _, v := range ids {
		if v == id {
			return ids, false
		}
	}
	return append(ids, id), true
}

func removeID(ids []int64, id int64) ([]int64, bool) {
	for i, v := range ids {
		if v == id {
			return append(ids[:i:i], ids[i+1:]...), true
		}
	}
	return ids, false
}

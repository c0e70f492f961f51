package service

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/d60-Lab/timeline-pipeline/internal/metrics"
	"github.com/d60-Lab/timeline-pipeline/internal/notify"
	"github.com/d60-Lab/timeline-pipeline/internal/queue"
)

// ErrStopped is returned when work is offered to a stage that has been stopped.
var ErrStopped = errors.New("pipeline stage stopped")

// stage 单消费者工作循环：一个 goroutine 串行处理队列，单条出错/崩溃不影响后续。
type stage[T any] struct {
	name   string
	q      *queue.Queue[T]
	handle func(ctx context.Context, item T)
	log    *zap.Logger
	sink   notify.Sink

	once    sync.Once
	started chan struct{}
	done    chan struct{}
	cancel  context.CancelFunc
}

func newStage[T any](name string, log *zap.Logger, sink notify.Sink, handle func(context.Context, T)) *stage[T] {
	return &stage[T]{
		name:    name,
		q:       queue.New[T](),
		handle:  handle,
		log:     log,
		sink:    sink,
		started: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (s *stage[T]) push(items ...T) error {
	if !s.q.Push(items...) {
		return ErrStopped
	}
	return nil
}

// start launches the worker. Cancelling ctx stops intake; queued items still drain.
// Item I/O runs on a context detached from ctx so the drain is not cut short.
func (s *stage[T]) start(ctx context.Context) {
	s.once.Do(func() {
		ioCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		s.cancel = cancel
		close(s.started)
		go s.run(ioCtx)
		go func() {
			select {
			case <-ctx.Done():
				s.q.Close()
			case <-s.done:
			}
		}()
	})
}

func (s *stage[T]) run(ctx context.Context) {
	defer close(s.done)
	defer s.cancel()
	depth := metrics.QueueDepth.WithLabelValues(s.name)
	for {
		batch, ok := s.q.Wait()
		if !ok {
			return
		}
		depth.Set(float64(len(batch) + s.q.Len()))
		for _, item := range batch {
			s.safeHandle(ctx, item)
		}
		depth.Set(float64(s.q.Len()))
	}
}

func (s *stage[T]) safeHandle(ctx context.Context, item T) {
	start := time.Now()
	defer func() {
		metrics.ItemDuration.WithLabelValues(s.name).Observe(time.Since(start).Seconds())
		if r := recover(); r != nil {
			err := errors.Errorf("panic: %v", r)
			s.log.Error("item handler panicked", zap.Any("panic", r), zap.Stack("stack"))
			s.sink.Report(ctx, notify.Failure{Component: s.name, Op: "handle", Err: err})
		}
	}()
	s.handle(ctx, item)
}

// stop refuses new work and waits for the queued items to finish. When ctx
// expires first, in-flight I/O is cancelled and the remaining tail is dropped.
func (s *stage[T]) stop(ctx context.Context) error {
	s.q.Close()
	select {
	case <-s.started:
	default:
		return nil
	}
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		s.cancel()
		return errors.Wrapf(ctx.Err(), "%s drain", s.name)
	}
}

func (s *stage[T]) pending() int { return s.q.Len() }

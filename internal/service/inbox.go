package service

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/d60-Lab/timeline-pipeline/internal/metrics"
	"github.com/d60-Lab/timeline-pipeline/internal/model"
	"github.com/d60-Lab/timeline-pipeline/internal/notify"
	"github.com/d60-Lab/timeline-pipeline/internal/repository"
	"github.com/d60-Lab/timeline-pipeline/pkg/logger"
)

// Forwarder receives the notifications the inbox accepted.
type Forwarder interface {
	Queue(n model.StatusNotification) error
}

// RetryPolicy bounds the retries around each store call.
type RetryPolicy struct {
	Tries   uint
	Initial time.Duration
}

func (p RetryPolicy) options() []backoff.RetryOption {
	b := backoff.NewExponentialBackOff()
	if p.Initial > 0 {
		b.InitialInterval = p.Initial
	}
	tries := p.Tries
	if tries == 0 {
		tries = 1
	}
	return []backoff.RetryOption{backoff.WithBackOff(b), backoff.WithMaxTries(tries)}
}

type inboxItem struct {
	status   *model.Status
	removeID int64
	isNew    bool
}

// Inbox 入站队列：所有生产者写入，单 worker 串行去重、落库、转发。
// 串行处理保证 Exists -> Insert 之间没有竞争。
type Inbox struct {
	store  repository.StatusStore
	next   Forwarder
	sink   notify.Sink
	retry  RetryPolicy
	tracer trace.Tracer
	log    *zap.Logger
	stage  *stage[inboxItem]
}

func NewInbox(store repository.StatusStore, next Forwarder, sink notify.Sink, retry RetryPolicy) *Inbox {
	if sink == nil {
		sink = notify.Discard
	}
	b := &Inbox{
		store:  store,
		next:   next,
		sink:   sink,
		retry:  retry,
		tracer: otel.Tracer("timeline-pipeline/inbox"),
		log:    logger.Named("inbox"),
	}
	b.stage = newStage("inbox", b.log, sink, b.handle)
	return b
}

// Queue accepts a freshly arrived status from any producer. A retweet's original
// is queued immediately ahead of it, in the same atomic push.
func (b *Inbox) Queue(s *model.Status) error { return b.queue(s, true) }

// QueueBackfill accepts a status that came from pagination or a REST backfill.
func (b *Inbox) QueueBackfill(s *model.Status) error { return b.queue(s, false) }

func (b *Inbox) queue(s *model.Status, isNew bool) error {
	if s == nil {
		return errors.New("nil status")
	}
	var chain []inboxItem
	for cur := s; cur != nil; cur = cur.RetweetedOriginal {
		chain = append(chain, inboxItem{status: cur, isNew: isNew})
	}
	// 原推先入队
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	if err := b.stage.push(chain...); err != nil {
		return err
	}
	metrics.IngestQueued.WithLabelValues("add").Add(float64(len(chain)))
	return nil
}

// QueueRemoval accepts a deletion notice by id.
func (b *Inbox) QueueRemoval(id int64) error {
	if err := b.stage.push(inboxItem{removeID: id}); err != nil {
		return err
	}
	metrics.IngestQueued.WithLabelValues("remove").Inc()
	return nil
}

func (b *Inbox) Start(ctx context.Context) { b.stage.start(ctx) }

// Stop refuses new work and drains what is queued, bounded by ctx.
func (b *Inbox) Stop(ctx context.Context) error { return b.stage.stop(ctx) }

// Len is the current backlog.
func (b *Inbox) Len() int { return b.stage.pending() }

func (b *Inbox) handle(ctx context.Context, it inboxItem) {
	if it.status != nil {
		b.handleAdd(ctx, it)
		return
	}
	// 级联删除用本地工作表展开，停止后已出队的删除仍能完成
	pending := []int64{it.removeID}
	for len(pending) > 0 {
		id := pending[0]
		pending = pending[1:]
		pending = append(pending, b.handleRemove(ctx, id)...)
	}
}

func (b *Inbox) handleAdd(ctx context.Context, it inboxItem) {
	s := it.status
	ctx, span := b.tracer.Start(ctx, "inbox.add", trace.WithAttributes(attribute.Int64("status.id", s.ID)))
	defer span.End()

	exists, err := backoff.Retry(ctx, func() (bool, error) {
		return b.store.Exists(ctx, s.ID)
	}, b.retry.options()...)
	if err != nil {
		b.fail(ctx, span, "exists", s.ID, err)
		return
	}
	if exists {
		metrics.IngestDuplicates.Inc()
		span.SetAttributes(attribute.Bool("duplicate", true))
		return
	}

	if _, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, b.store.Insert(ctx, s)
	}, b.retry.options()...); err != nil {
		b.fail(ctx, span, "insert", s.ID, err)
		return
	}
	metrics.IngestPersisted.Inc()

	if err := b.next.Queue(model.Added(s, it.isNew)); err != nil {
		b.fail(ctx, span, "forward", s.ID, err)
	}
}

// handleRemove deletes id and returns the ids of retweets that must go with it.
func (b *Inbox) handleRemove(ctx context.Context, id int64) []int64 {
	ctx, span := b.tracer.Start(ctx, "inbox.remove", trace.WithAttributes(attribute.Int64("status.id", id)))
	defer span.End()

	known, err := backoff.Retry(ctx, func() (*model.Status, error) {
		s, err := b.store.Get(ctx, id)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return s, err
	}, b.retry.options()...)
	if err != nil {
		// 查不到原文也继续删除，只是通知里不带 Status
		b.log.Warn("lookup before removal failed", zap.Int64("status_id", id), zap.Error(err))
		known = nil
	}

	dependents, err := backoff.Retry(ctx, func() ([]int64, error) {
		return b.store.RetweetIDsOf(ctx, id)
	}, b.retry.options()...)
	if err != nil {
		b.fail(ctx, span, "retweets_of", id, err)
		dependents = nil
	}

	if _, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, b.store.Delete(ctx, id)
	}, b.retry.options()...); err != nil {
		b.fail(ctx, span, "delete", id, err)
		return dependents
	}
	metrics.IngestRemoved.Inc()

	if err := b.next.Queue(model.Removed(id, known)); err != nil {
		b.fail(ctx, span, "forward", id, err)
	}
	return dependents
}

// fail dead-letters the item: it is reported and dropped, never re-queued.
func (b *Inbox) fail(ctx context.Context, span trace.Span, op string, id int64, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, op)
	b.sink.Report(ctx, notify.Failure{Component: "inbox", Op: op, StatusID: id, Err: err})
}

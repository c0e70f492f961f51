package service

import (
	"context"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/d60-Lab/timeline-pipeline/internal/event"
	"github.com/d60-Lab/timeline-pipeline/internal/metrics"
	"github.com/d60-Lab/timeline-pipeline/internal/model"
	"github.com/d60-Lab/timeline-pipeline/internal/notify"
	"github.com/d60-Lab/timeline-pipeline/internal/queue"
	"github.com/d60-Lab/timeline-pipeline/pkg/logger"
)

// Resolver turns a stored status into the copy subscribers receive.
type Resolver interface {
	Resolve(ctx context.Context, s *model.Status) (*model.Status, error)
}

// Broadcaster 广播队列：只由 Inbox 写入。单 worker 执行屏蔽判定与模型解析，
// 按处理顺序发布到 BroadcastPoint。
type Broadcaster struct {
	oracle   Oracle
	resolver Resolver
	point    *BroadcastPoint
	sink     notify.Sink
	tracer   trace.Tracer
	stage    *stage[model.StatusNotification]
}

func NewBroadcaster(oracle Oracle, resolver Resolver, sink notify.Sink) *Broadcaster {
	if sink == nil {
		sink = notify.Discard
	}
	b := &Broadcaster{
		oracle:   oracle,
		resolver: resolver,
		point:    NewBroadcastPoint(),
		sink:     sink,
		tracer:   otel.Tracer("timeline-pipeline/broadcaster"),
	}
	b.stage = newStage("broadcaster", logger.Named("broadcaster"), sink, b.handle)
	return b
}

// Queue accepts a notification that the inbox already de-duplicated and persisted.
func (b *Broadcaster) Queue(n model.StatusNotification) error { return b.stage.push(n) }

// Republish re-emits a stored status whose interaction fields changed. Dedup is skipped.
func (b *Broadcaster) Republish(s *model.Status) error {
	return b.stage.push(model.Republished(s))
}

// Point is the multicast stream subscribers attach to.
func (b *Broadcaster) Point() *BroadcastPoint { return b.point }

func (b *Broadcaster) Start(ctx context.Context) { b.stage.start(ctx) }

func (b *Broadcaster) Stop(ctx context.Context) error { return b.stage.stop(ctx) }

func (b *Broadcaster) Len() int { return b.stage.pending() }

func (b *Broadcaster) handle(ctx context.Context, n model.StatusNotification) {
	ctx, span := b.tracer.Start(ctx, "broadcast."+n.Kind.String(), trace.WithAttributes(attribute.Int64("status.id", n.ID)))
	defer span.End()

	if n.Kind == model.NotificationRemoved {
		b.publish(n)
		return
	}
	if n.Status == nil {
		return
	}
	// 屏蔽/静音只在这里判定一次
	if b.oracle.IsUnwanted(ctx, n.Status) {
		metrics.BroadcastMuted.Inc()
		span.SetAttributes(attribute.Bool("unwanted", true))
		return
	}
	resolved, err := b.resolver.Resolve(ctx, n.Status)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "resolve")
		b.sink.Report(ctx, notify.Failure{Component: "broadcaster", Op: "resolve", StatusID: n.ID, Err: err})
		return
	}
	n.Status = resolved
	b.publish(n)
}

func (b *Broadcaster) publish(n model.StatusNotification) {
	kind := n.Kind.String()
	if n.Republished {
		kind = "republished"
	}
	metrics.BroadcastPublished.WithLabelValues(kind).Inc()
	b.point.Publish(n)
}

// BroadcastPoint 多播发布点：每个订阅者一个异步邮箱，顺序与发布顺序一致；
// 新订阅者只收到订阅之后的通知。
type BroadcastPoint struct {
	bus *event.Bus[model.StatusNotification]
	log *zap.Logger
}

func NewBroadcastPoint() *BroadcastPoint {
	return &BroadcastPoint{
		bus: event.NewBus[model.StatusNotification](),
		log: logger.Named("broadcast_point"),
	}
}

// Subscribe delivers every later notification to fn on a dedicated goroutine, so a
// slow subscriber never stalls the broadcaster or other subscribers.
func (p *BroadcastPoint) Subscribe(fn func(model.StatusNotification)) event.Subscription {
	sub := &mailbox{mb: queue.New[model.StatusNotification](), fn: fn, log: p.log}
	go sub.run()
	sub.inner = p.bus.Subscribe(func(n model.StatusNotification) { sub.mb.Push(n) })
	metrics.Subscribers.Inc()
	return sub
}

func (p *BroadcastPoint) Publish(n model.StatusNotification) { p.bus.Publish(n) }

// Len is the number of live subscriptions.
func (p *BroadcastPoint) Len() int { return p.bus.Len() }

type mailbox struct {
	mb      *queue.Queue[model.StatusNotification]
	fn      func(model.StatusNotification)
	log     *zap.Logger
	inner   event.Subscription
	stopped atomic.Bool
	once    sync.Once
}

func (m *mailbox) run() {
	for {
		batch, ok := m.mb.Wait()
		if !ok {
			return
		}
		for _, n := range batch {
			if m.stopped.Load() {
				return
			}
			m.deliver(n)
		}
	}
}

func (m *mailbox) deliver(n model.StatusNotification) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("subscriber panicked", zap.Any("panic", r), zap.Int64("status_id", n.ID))
		}
	}()
	m.fn(n)
}

// Unsubscribe stops delivery; notifications still in the mailbox are dropped.
func (m *mailbox) Unsubscribe() {
	m.once.Do(func() {
		m.stopped.Store(true)
		m.inner.Unsubscribe()
		m.mb.Close()
		metrics.Subscribers.Dec()
	})
}

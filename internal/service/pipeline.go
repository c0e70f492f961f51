package service

import (
	"context"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/d60-Lab/timeline-pipeline/internal/cache"
	"github.com/d60-Lab/timeline-pipeline/internal/event"
	"github.com/d60-Lab/timeline-pipeline/internal/mute"
	"github.com/d60-Lab/timeline-pipeline/internal/notify"
	"github.com/d60-Lab/timeline-pipeline/internal/repository"
	"github.com/d60-Lab/timeline-pipeline/pkg/logger"
)

// PipelineDeps 外部协作者
type PipelineDeps struct {
	Statuses repository.StatusStore
	Accounts repository.AccountRepository
	Blocks   repository.BlockRepository
	Follows  repository.FollowRepository
	Users    *cache.UserCache
	Mutes    *mute.Store
	Sink     notify.Sink
}

type PipelineOptions struct {
	Retry              RetryPolicy
	InteractionWorkers int
	InteractionQueue   int
}

// Pipeline 组装 Inbox -> Broadcaster 两级队列及其周边服务，显式 Start/Stop。
type Pipeline struct {
	Statuses      repository.StatusStore
	Relations     *event.Bus[event.RelationChanged]
	Mutes         *mute.Store
	Oracle        *MuteBlockOracle
	Inbox         *Inbox
	Broadcaster   *Broadcaster
	Interactions  *InteractionRecorder
	Relationships RelationshipService
	Composer      *Composer

	mu               sync.Mutex
	pollers          []*Poller
	stopPollers      []func(context.Context) error
	stopInteractions func(context.Context) error
}

func NewPipeline(deps PipelineDeps, opts PipelineOptions) *Pipeline {
	sink := deps.Sink
	if sink == nil {
		sink = notify.Discard
	}
	relations := event.NewBus[event.RelationChanged]()
	oracle := NewMuteBlockOracle(deps.Accounts, deps.Blocks, relations, deps.Mutes, sink)
	broadcaster := NewBroadcaster(oracle, cache.NewResolver(deps.Users), sink)
	inbox := NewInbox(deps.Statuses, broadcaster, sink, opts.Retry)
	interactions := NewInteractionRecorder(deps.Statuses, broadcaster, sink, opts.InteractionWorkers, opts.InteractionQueue)

	return &Pipeline{
		Statuses:      deps.Statuses,
		Relations:     relations,
		Mutes:         deps.Mutes,
		Oracle:        oracle,
		Inbox:         inbox,
		Broadcaster:   broadcaster,
		Interactions:  interactions,
		Relationships: NewRelationshipService(deps.Accounts, deps.Blocks, deps.Follows, relations),
		Composer:      NewComposer(deps.Accounts, deps.Statuses, inbox, interactions, sink),
	}
}

// AddPoller registers a poller started and stopped with the pipeline.
func (p *Pipeline) AddPoller(poller *Poller) {
	p.mu.Lock()
	p.pollers = append(p.pollers, poller)
	p.mu.Unlock()
}

// Start warms the oracle and launches the workers. Cancelling ctx stops intake.
func (p *Pipeline) Start(ctx context.Context) {
	if err := p.Oracle.Warm(ctx); err != nil {
		logger.Warn("oracle warm-up failed, will rebuild lazily", zap.Error(err))
	}
	p.Broadcaster.Start(ctx)
	p.Inbox.Start(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopInteractions == nil {
		p.stopInteractions = p.Interactions.Start()
	}
	for _, poller := range p.pollers {
		p.stopPollers = append(p.stopPollers, poller.Start())
	}
}

// Stop drains the stages front to back: producers first, then the inbox, then
// interactions, then the broadcaster.
func (p *Pipeline) Stop(ctx context.Context) error {
	p.mu.Lock()
	stopPollers, stopInteractions := p.stopPollers, p.stopInteractions
	p.stopPollers, p.stopInteractions = nil, nil
	p.mu.Unlock()

	var err error
	for _, stop := range stopPollers {
		err = multierr.Append(err, stop(ctx))
	}
	err = multierr.Append(err, p.Inbox.Stop(ctx))
	if stopInteractions != nil {
		err = multierr.Append(err, stopInteractions(ctx))
	}
	err = multierr.Append(err, p.Broadcaster.Stop(ctx))
	p.Oracle.Close()
	return err
}

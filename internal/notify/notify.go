// Package notify surfaces pipeline failures to logs, sentry and the HTTP API.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/d60-Lab/timeline-pipeline/internal/metrics"
)

// Failure describes one item the pipeline gave up on.
type Failure struct {
	Component string    `json:"component"`
	Op        string    `json:"op"`
	StatusID  int64     `json:"status_id,omitempty"`
	Message   string    `json:"error"`
	At        time.Time `json:"at"`
	Err       error     `json:"-"`
}

// Sink receives failures. Implementations must not block the caller for long.
type Sink interface {
	Report(ctx context.Context, f Failure)
}

// Discard drops every failure.
var Discard Sink = discard{}

type discard struct{}

func (discard) Report(context.Context, Failure) {}

// Options configures a Reporter.
type Options struct {
	Logger *zap.Logger
	// Hub forwards failures to sentry; nil disables forwarding.
	Hub *sentry.Hub
	// History is how many recent failures Recent keeps.
	History int
	// PerSecond caps log/sentry output; the history ring is always written.
	PerSecond float64
	Burst     int
}

// Reporter is the production Sink.
type Reporter struct {
	log     *zap.Logger
	hub     *sentry.Hub
	limiter *rate.Limiter

	mu         sync.Mutex
	ring       []Failure
	next       int
	full       bool
	suppressed int64
}

func NewReporter(opts Options) *Reporter {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.History <= 0 {
		opts.History = 200
	}
	if opts.PerSecond <= 0 {
		opts.PerSecond = 5
	}
	if opts.Burst <= 0 {
		opts.Burst = 20
	}
	return &Reporter{
		log:     opts.Logger,
		hub:     opts.Hub,
		limiter: rate.NewLimiter(rate.Limit(opts.PerSecond), opts.Burst),
		ring:    make([]Failure, opts.History),
	}
}

func (r *Reporter) Report(ctx context.Context, f Failure) {
	if f.At.IsZero() {
		f.At = time.Now()
	}
	if f.Err != nil && f.Message == "" {
		f.Message = f.Err.Error()
	}
	metrics.PipelineFailures.WithLabelValues(f.Component, f.Op).Inc()

	r.mu.Lock()
	r.ring[r.next] = f
	r.next = (r.next + 1) % len(r.ring)
	if r.next == 0 {
		r.full = true
	}
	allowed := r.limiter.Allow()
	if !allowed {
		r.suppressed++
	}
	r.mu.Unlock()

	if !allowed {
		return
	}
	r.log.Error("operation failed",
		zap.String("component", f.Component),
		zap.String("op", f.Op),
		zap.Int64("status_id", f.StatusID),
		zap.Error(f.Err),
	)
	if r.hub != nil && f.Err != nil {
		hub := r.hub
		if h := sentry.GetHubFromContext(ctx); h != nil {
			hub = h
		}
		// 多个 worker 并发上报，各用一份克隆，scope 不会互相串
		local := hub.Clone()
		local.ConfigureScope(func(scope *sentry.Scope) {
			scope.SetTag("component", f.Component)
			scope.SetTag("op", f.Op)
			if f.StatusID != 0 {
				scope.SetExtra("status_id", f.StatusID)
			}
		})
		local.CaptureException(f.Err)
	}
}

// Recent returns the retained failures, newest first.
func (r *Reporter) Recent() []Failure {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.next
	if r.full {
		n = len(r.ring)
	}
	out := make([]Failure, 0, n)
	for i := 1; i <= n; i++ {
		idx := (r.next - i + len(r.ring)) % len(r.ring)
		out = append(out, r.ring[idx])
	}
	return out
}

// Suppressed is how many failures skipped log/sentry output because of the rate cap.
func (r *Reporter) Suppressed() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.suppressed
}

// InitSentry configures the global sentry client and returns its hub.
// An empty dsn returns a nil hub and no error.
func InitSentry(dsn, environment string) (*sentry.Hub, error) {
	if dsn == "" {
		return nil, nil
	}
	if err := sentry.Init(sentry.ClientOptions{Dsn: dsn, Environment: environment}); err != nil {
		return nil, err
	}
	return sentry.CurrentHub(), nil
}

package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/fatih/color"
	"golang.org/x/sync/errgroup"

	"github.com/d60-Lab/timeline-pipeline/config"
	"github.com/d60-Lab/timeline-pipeline/internal/cache"
	"github.com/d60-Lab/timeline-pipeline/internal/model"
	"github.com/d60-Lab/timeline-pipeline/internal/mute"
	"github.com/d60-Lab/timeline-pipeline/internal/repository"
	"github.com/d60-Lab/timeline-pipeline/internal/service"
	"github.com/d60-Lab/timeline-pipeline/internal/timeline"
	"github.com/d60-Lab/timeline-pipeline/pkg/database"
)

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func pct(vs []time.Duration, p float64) time.Duration {
	if len(vs) == 0 {
		return 0
	}
	xs := append([]time.Duration(nil), vs...)
	sort.Slice(xs, func(i, j int) bool { return xs[i] < xs[j] })
	k := int(math.Ceil(p*float64(len(xs)))) - 1
	if k < 0 {
		k = 0
	}
	if k >= len(xs) {
		k = len(xs) - 1
	}
	return xs[k]
}

func avg(vs []time.Duration) time.Duration {
	if len(vs) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range vs {
		sum += d
	}
	return sum / time.Duration(len(vs))
}

func envInt(name string, def int) int {
	if s := os.Getenv(name); s != "" {
		if v, e := strconv.Atoi(s); e == nil && v > 0 {
			return v
		}
	}
	return def
}

// landing 记录每条推文从入队到进入各时间线窗口的耗时
type landing struct {
	mu     sync.Mutex
	sentAt map[int64]time.Time
	ch     chan time.Duration
}

func (l *landing) sent(id int64) {
	l.mu.Lock()
	l.sentAt[id] = time.Now()
	l.mu.Unlock()
}

func (l *landing) onChange(c timeline.Change) {
	if c.Kind != timeline.ChangeAdded || c.Status == nil {
		return
	}
	l.mu.Lock()
	at, ok := l.sentAt[c.Status.ID]
	l.mu.Unlock()
	if !ok {
		return
	}
	select {
	case l.ch <- time.Since(at):
	default:
	}
}

func main() {
	cfg := must(config.Load())
	db := must(database.InitDB(cfg))
	ctx := context.Background()

	PRODUCERS := envInt("PRODUCERS", 4) // concurrent producers
	STATUSES := envInt("STATUSES", 500) // statuses per producer
	TIMELINES := envInt("TIMELINES", 8) // subscribed timelines
	AUTHORS := envInt("AUTHORS", 50)    // distinct authors
	FAVS := envInt("FAVS", 200)         // favorites recorded after ingest

	// clean tables for a reproducible run (ok for local bench)
	_ = db.Exec("DELETE FROM statuses").Error
	_ = db.Exec("DELETE FROM users").Error

	statuses := repository.NewStatusStore(db)
	follows := repository.NewFollowRepository(db)
	users := must(cache.NewUserCache(repository.NewUserRepository(db), cache.Options{Size: cfg.Pipeline.UserCacheSize}))
	p := service.NewPipeline(service.PipelineDeps{
		Statuses: statuses,
		Accounts: repository.NewAccountRepository(db),
		Blocks:   repository.NewBlockRepository(db),
		Follows:  follows,
		Users:    users,
		Mutes:    mute.NewStore(mute.Settings{}),
	}, service.PipelineOptions{Retry: service.RetryPolicy{Tries: cfg.Pipeline.RetryTries, Initial: cfg.Pipeline.RetryInitial}})

	land := &landing{sentAt: make(map[int64]time.Time), ch: make(chan time.Duration, PRODUCERS*STATUSES*TIMELINES)}
	registry := timeline.NewRegistry(timeline.RegistryDeps{
		Statuses:  statuses,
		Follows:   follows,
		Oracle:    p.Oracle,
		Point:     p.Broadcaster.Point(),
		Relations: p.Relations,
	}, timeline.Options{
		PageSize:     cfg.Timeline.PageSize,
		ChunkSize:    cfg.Timeline.ChunkSize,
		BounceMargin: cfg.Timeline.BounceMargin,
		AutoTrim:     true,
		OnChange:     land.onChange,
	})
	defer registry.Close()

	p.Start(ctx)
	for i := 0; i < TIMELINES; i++ {
		must(registry.Create(ctx, timeline.Spec{Kind: "all"}))
	}

	// produce
	ids := service.NewIDGenerator()
	queueDurations := make([][]time.Duration, PRODUCERS)
	start := time.Now()
	var g errgroup.Group
	for w := 0; w < PRODUCERS; w++ {
		g.Go(func() error {
			for i := 0; i < STATUSES; i++ {
				author := int64(1 + (w*STATUSES+i)%AUTHORS)
				s := &model.Status{
					ID:        ids.Next(),
					UserID:    author,
					User:      &model.User{ID: author, ScreenName: fmt.Sprintf("author%d", author)},
					Text:      fmt.Sprintf("producer %d status %d", w, i),
					CreatedAt: time.Now().UTC(),
				}
				land.sent(s.ID)
				st := time.Now()
				if err := p.Inbox.Queue(s); err != nil {
					return err
				}
				queueDurations[w] = append(queueDurations[w], time.Since(st))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		panic(err)
	}
	var queued []time.Duration
	for _, ds := range queueDurations {
		queued = append(queued, ds...)
	}

	// collect landing metrics
	want := PRODUCERS * STATUSES * TIMELINES
	landed := make([]time.Duration, 0, want)
	timeout := time.After(2 * time.Minute)
	for len(landed) < want {
		select {
		case d := <-land.ch:
			landed = append(landed, d)
		case <-timeout:
			color.Yellow("timeout while waiting for landing metrics: got=%d want=%d", len(landed), want)
			goto INTERACTIONS
		}
	}

INTERACTIONS:
	elapsed := time.Since(start)
	page := must(statuses.Fetch(ctx, repository.FetchQuery{Count: FAVS}))
	for i, s := range page {
		_ = p.Interactions.EnqueueFavorite(s.ID, int64(i%AUTHORS+1))
	}
	favs := make([]time.Duration, 0, len(page))
	favTimeout := time.After(30 * time.Second)
	for len(favs) < len(page) {
		select {
		case d := <-p.Interactions.Metrics():
			favs = append(favs, d)
		case <-favTimeout:
			color.Yellow("timeout while waiting for interaction metrics: got=%d want=%d", len(favs), len(page))
			goto POLL
		}
	}

POLL:
	// 两个重叠来源，重复交给 Inbox 去重
	next := ids.Next()
	overlap := func(ctx context.Context, since int64) ([]*model.Status, error) {
		if since >= next {
			return nil, nil
		}
		return []*model.Status{{ID: next, UserID: 1, Text: "polled", CreatedAt: time.Now().UTC(),
			User: &model.User{ID: 1, ScreenName: "author1"}}}, nil
	}
	sources := []service.PollSource{
		service.PollFunc{SourceName: "rest", Fn: overlap},
		service.PollFunc{SourceName: "search", Fn: overlap},
	}
	poller := service.NewPoller(p.Inbox, nil, time.Minute, sources...)
	pollStart := time.Now()
	polled := 0
	for _, src := range sources {
		n, err := poller.PollOnce(ctx, src)
		if err != nil {
			color.Red("poll %s: %v", src.Name(), err)
		}
		polled += n
	}
	pollElapsed := time.Since(pollStart)

	stopCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := p.Stop(stopCtx); err != nil {
		color.Red("pipeline stop: %v", err)
	}

	// output
	color.Cyan("PRODUCERS=%d STATUSES=%d TIMELINES=%d AUTHORS=%d", PRODUCERS, STATUSES, TIMELINES, AUTHORS)
	fmt.Printf("Queue call latency: avg=%v p95=%v p99=%v\n", avg(queued), pct(queued, 0.95), pct(queued, 0.99))
	fmt.Printf("Landing (queue->window): samples=%d avg=%v p95=%v p99=%v\n", len(landed), avg(landed), pct(landed, 0.95), pct(landed, 0.99))
	fmt.Printf("Throughput: %.0f statuses/s\n", float64(PRODUCERS*STATUSES)/elapsed.Seconds())
	fmt.Printf("Favorite round trip: samples=%d avg=%v p95=%v\n", len(favs), avg(favs), pct(favs, 0.95))
	fmt.Printf("Poll: sources=2 fetched=%d in %v\n", polled, pollElapsed)

	// measure a fresh timeline's first page read (store + mute/block pushdown)
	st := time.Now()
	m := must(registry.Create(ctx, timeline.Spec{Kind: "all"}))
	fmt.Printf("Timeline load (limit=%d): %v, rows=%d\n", cfg.Timeline.PageSize, time.Since(st), m.Len())
	for _, id := range registry.List() {
		if tl, err := registry.Get(id); err == nil && tl.Len() > cfg.Timeline.ChunkSize+cfg.Timeline.BounceMargin {
			color.Red("timeline %s outgrew its window: %d", id, tl.Len())
		}
	}
}

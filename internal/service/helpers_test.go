package service

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/timeline-pipeline/internal/cache"
	"github.com/d60-Lab/timeline-pipeline/internal/model"
	"github.com/d60-Lab/timeline-pipeline/internal/mute"
	"github.com/d60-Lab/timeline-pipeline/internal/repository"
	"github.com/d60-Lab/timeline-pipeline/internal/testutil"
)

const waitFor = 3 * time.Second
const tick = 5 * time.Millisecond

type harness struct {
	p        *Pipeline
	sink     *testutil.Sink
	rec      *testutil.Recorder
	accounts repository.AccountRepository
}

func newHarness(t *testing.T, wrap func(repository.StatusStore) repository.StatusStore) *harness {
	t.Helper()
	db := testutil.OpenDB(t)
	store := repository.NewStatusStore(db)
	if wrap != nil {
		store = wrap(store)
	}
	users, err := cache.NewUserCache(repository.NewUserRepository(db), cache.Options{Size: 64})
	require.NoError(t, err)

	h := &harness{sink: &testutil.Sink{}, rec: &testutil.Recorder{}, accounts: repository.NewAccountRepository(db)}
	h.p = NewPipeline(PipelineDeps{
		Statuses: store,
		Accounts: h.accounts,
		Blocks:   repository.NewBlockRepository(db),
		Follows:  repository.NewFollowRepository(db),
		Users:    users,
		Mutes:    mute.NewStore(mute.Settings{}),
		Sink:     h.sink,
	}, PipelineOptions{Retry: RetryPolicy{Tries: 3, Initial: time.Millisecond}, InteractionWorkers: 2})

	sub := h.p.Broadcaster.Point().Subscribe(h.rec.Record)
	h.p.Start(context.Background())
	t.Cleanup(func() {
		sub.Unsubscribe()
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		_ = h.p.Stop(ctx)
	})
	return h
}

// flush queues a sentinel and waits until it is broadcast; FIFO guarantees
// everything queued before it has been handled.
func (h *harness) flush(t *testing.T) {
	t.Helper()
	id := int64(9_000_000) + int64(len(h.rec.Items()))
	require.NoError(t, h.p.Inbox.Queue(testutil.Status(id, 424242, 0)))
	require.Eventually(t, func() bool {
		return h.rec.Count(model.NotificationAdded, id) == 1
	}, waitFor, tick)
}

// flakyStore fails the first failures calls of the chosen operation.
type flakyStore struct {
	repository.StatusStore
	op       string
	failures int32
	calls    atomic.Int32
}

var errFlaky = errors.New("flaky store")

func (f *flakyStore) shouldFail(op string) bool {
	if op != f.op {
		return false
	}
	return f.calls.Add(1) <= f.failures
}

func (f *flakyStore) Insert(ctx context.Context, s *model.Status) error {
	if f.shouldFail("insert") {
		return errFlaky
	}
	return f.StatusStore.Insert(ctx, s)
}

func (f *flakyStore) Delete(ctx context.Context, id int64) error {
	if f.shouldFail("delete") {
		return errFlaky
	}
	return f.StatusStore.Delete(ctx, id)
}

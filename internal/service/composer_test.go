package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/timeline-pipeline/internal/model"
	"github.com/d60-Lab/timeline-pipeline/internal/repository"
	"github.com/d60-Lab/timeline-pipeline/internal/testutil"
)

func TestComposer_Compose(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	require.NoError(t, h.p.Relationships.AddAccount(ctx, &model.Account{ID: 1, ScreenName: "me"}))

	s, err := h.p.Composer.Compose(ctx, ComposeRequest{AccountID: 1, Text: "  hello world  ", Source: "cli"})
	require.NoError(t, err)
	assert.Equal(t, "hello world", s.Text)
	assert.Equal(t, model.StatusKindTweet, s.Kind)
	h.flush(t)

	require.Equal(t, 1, h.rec.Count(model.NotificationAdded, s.ID))
	stored, err := h.p.Statuses.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "cli", stored.Source)
	require.NotNil(t, stored.User)
	assert.Equal(t, "me", stored.User.ScreenName)
}

func TestComposer_Retweet(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	require.NoError(t, h.p.Relationships.AddAccount(ctx, &model.Account{ID: 1, ScreenName: "me"}))
	require.NoError(t, h.p.Inbox.Queue(testutil.Status(30, 2, 0)))
	h.flush(t)

	target := int64(30)
	rt, err := h.p.Composer.Compose(ctx, ComposeRequest{AccountID: 1, RetweetOf: &target})
	require.NoError(t, err)
	assert.Equal(t, "RT @user_c: status", rt.Text)
	require.True(t, rt.IsRetweet())
	assert.Equal(t, int64(30), *rt.RetweetedOriginalID)

	h.flush(t)

	// 转推的转推指向最初的原文
	again, err := h.p.Composer.Compose(ctx, ComposeRequest{AccountID: 1, RetweetOf: &rt.ID, Text: "again"})
	require.NoError(t, err)
	assert.Equal(t, int64(30), *again.RetweetedOriginalID)

	require.Eventually(t, func() bool {
		orig, err := h.p.Statuses.Get(ctx, 30)
		return err == nil && len(orig.RetweetedBy) == 1 && orig.RetweetedBy[0] == 1
	}, waitFor, tick)
}

func TestComposer_DirectMessage(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	require.NoError(t, h.p.Relationships.AddAccount(ctx, &model.Account{ID: 1, ScreenName: "me"}))

	to := int64(9)
	s, err := h.p.Composer.Compose(ctx, ComposeRequest{AccountID: 1, Text: "psst", RecipientID: &to})
	require.NoError(t, err)
	assert.True(t, s.IsDirectMessage())
	assert.Equal(t, int64(9), *s.RecipientID)
}

func TestComposer_Errors(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.p.Composer.Compose(ctx, ComposeRequest{AccountID: 99, Text: "hi"})
	assert.ErrorIs(t, err, ErrUnknownAccount)

	require.NoError(t, h.p.Relationships.AddAccount(ctx, &model.Account{ID: 1, ScreenName: "me"}))
	_, err = h.p.Composer.Compose(ctx, ComposeRequest{AccountID: 1, Text: "   "})
	assert.ErrorIs(t, err, ErrEmptyText)

	missing := int64(404)
	_, err = h.p.Composer.Compose(ctx, ComposeRequest{AccountID: 1, RetweetOf: &missing})
	assert.Error(t, err)
}

func TestIDGenerator_Monotonic(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	g := &IDGenerator{now: func() time.Time { return now }}

	a, b := g.Next(), g.Next()
	assert.Equal(t, a+1, b)

	// 时钟回拨仍然递增
	now = now.Add(-time.Second)
	c := g.Next()
	assert.Greater(t, c, b)

	now = now.Add(2 * time.Second)
	d := g.Next()
	assert.Greater(t, d, c)
	assert.Equal(t, int64(0), d&(1<<12-1))
}

func TestComposer_RetweetedByQueueFullIsReported(t *testing.T) {
	ctx := context.Background()
	db := testutil.OpenDB(t)
	accounts := repository.NewAccountRepository(db)
	require.NoError(t, accounts.Create(ctx, &model.Account{ID: 1, ScreenName: "me"}))
	store := repository.NewStatusStore(db)
	require.NoError(t, store.Insert(ctx, testutil.Status(30, 2, 0)))

	sink := &testutil.Sink{}
	// 都不启动：inbox 只入队，interactions 先塞满
	inbox := NewInbox(store, nil, sink, RetryPolicy{})
	interactions := NewInteractionRecorder(nil, nil, nil, 1, 1)
	require.NoError(t, interactions.EnqueueFavorite(30, 5))
	require.NoError(t, interactions.EnqueueFavorite(30, 6))

	c := NewComposer(accounts, store, inbox, interactions, sink)
	target := int64(30)
	rt, err := c.Compose(ctx, ComposeRequest{AccountID: 1, RetweetOf: &target})
	require.NoError(t, err)
	require.True(t, rt.IsRetweet())

	failures := sink.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, "composer", failures[0].Component)
	assert.Equal(t, "retweeted_by", failures[0].Op)
	assert.Equal(t, int64(30), failures[0].StatusID)
	assert.ErrorIs(t, failures[0].Err, ErrQueueFull)
}

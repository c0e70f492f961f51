package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/timeline-pipeline/internal/model"
	"github.com/d60-Lab/timeline-pipeline/internal/predicate"
	"github.com/d60-Lab/timeline-pipeline/internal/testutil"
)

func TestStatusStore_InsertExistsGet(t *testing.T) {
	store := NewStatusStore(testutil.OpenDB(t))
	ctx := context.Background()

	s := testutil.Status(100, 1, 10)
	s.FavoritedBy = []int64{5}
	require.NoError(t, store.Insert(ctx, s))
	// 重复写入幂等
	require.NoError(t, store.Insert(ctx, s))

	ok, err := store.Exists(ctx, 100)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := store.Get(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.UserID)
	require.NotNil(t, got.User)
	assert.Equal(t, s.User.ScreenName, got.User.ScreenName)
	assert.Equal(t, []int64{5}, got.FavoritedBy)
	assert.True(t, got.CreatedAt.Equal(s.CreatedAt))

	_, err = store.Get(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStatusStore_RetweetLookupAndDelete(t *testing.T) {
	store := NewStatusStore(testutil.OpenDB(t))
	ctx := context.Background()

	orig := testutil.Status(100, 1, 10)
	require.NoError(t, store.Insert(ctx, orig))
	require.NoError(t, store.Insert(ctx, testutil.Retweet(101, 2, 11, orig)))
	require.NoError(t, store.Insert(ctx, testutil.Retweet(102, 3, 12, orig)))

	rt, err := store.Get(ctx, 101)
	require.NoError(t, err)
	require.NotNil(t, rt.RetweetedOriginal)
	assert.Equal(t, int64(100), rt.RetweetedOriginal.ID)
	require.NotNil(t, rt.RetweetedOriginal.User)

	ids, err := store.RetweetIDsOf(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, []int64{101, 102}, ids)

	require.NoError(t, store.Delete(ctx, 100))
	require.NoError(t, store.Delete(ctx, 100))
	ok, err := store.Exists(ctx, 100)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStatusStore_FetchOrderAndPushdown(t *testing.T) {
	store := NewStatusStore(testutil.OpenDB(t))
	ctx := context.Background()

	for i := int64(0); i < 6; i++ {
		s := testutil.Status(200+i, 1+i%2, int(i))
		if i == 3 {
			s.Text = "muted Keyword here"
		}
		require.NoError(t, store.Insert(ctx, s))
	}
	// 同一时间戳：id 大的排前面
	require.NoError(t, store.Insert(ctx, testutil.Status(199, 1, 5)))

	page, err := store.Fetch(ctx, FetchQuery{Count: 3})
	require.NoError(t, err)
	assert.Equal(t, []int64{205, 199, 204}, ids(page))

	maxID := int64(203)
	page, err = store.Fetch(ctx, FetchQuery{MaxID: &maxID, Count: 10})
	require.NoError(t, err)
	assert.Equal(t, []int64{199, 202, 201, 200}, ids(page))

	q, args := predicate.Not(predicate.TextContains("keyword")).SQL()
	page, err = store.Fetch(ctx, FetchQuery{Where: q, Args: args, Count: 10})
	require.NoError(t, err)
	assert.NotContains(t, ids(page), int64(203))
	assert.Len(t, page, 6)

	q, args = predicate.AuthorIn([]int64{2}, true).SQL()
	page, err = store.Fetch(ctx, FetchQuery{Where: q, Args: args, Count: 10})
	require.NoError(t, err)
	assert.Equal(t, []int64{205, 203, 201}, ids(page))
}

func TestStatusStore_UpdateInteractions(t *testing.T) {
	store := NewStatusStore(testutil.OpenDB(t))
	ctx := context.Background()

	s := testutil.Status(300, 1, 0)
	require.NoError(t, store.Insert(ctx, s))

	upd := s.Clone()
	upd.FavoritedBy = []int64{7, 8}
	upd.RetweetedBy = []int64{9}
	require.NoError(t, store.UpdateInteractions(ctx, upd))

	got, err := store.Get(ctx, 300)
	require.NoError(t, err)
	assert.Equal(t, []int64{7, 8}, got.FavoritedBy)
	assert.Equal(t, []int64{9}, got.RetweetedBy)
	assert.Equal(t, "status", got.Text)

	assert.ErrorIs(t, store.UpdateInteractions(ctx, testutil.Status(301, 1, 0)), ErrNotFound)
}

func ids(ss []*model.Status) []int64 {
	out := make([]int64, len(ss))
	for i, s := range ss {
		out[i] = s.ID
	}
	return out
}

package timeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/timeline-pipeline/internal/model"
	"github.com/d60-Lab/timeline-pipeline/internal/predicate"
	"github.com/d60-Lab/timeline-pipeline/internal/repository"
	"github.com/d60-Lab/timeline-pipeline/internal/testutil"
)

type storeFixture struct {
	statuses repository.StatusStore
	follows  repository.FollowRepository
	oracle   *fakeOracle
}

func newStoreFixture(t *testing.T, statuses ...*model.Status) *storeFixture {
	t.Helper()
	db := testutil.OpenDB(t)
	f := &storeFixture{
		statuses: repository.NewStatusStore(db),
		follows:  repository.NewFollowRepository(db),
		oracle:   &fakeOracle{},
	}
	for _, s := range statuses {
		require.NoError(t, f.statuses.Insert(context.Background(), s))
	}
	return f
}

func dm(id, from, to int64, sec int) *model.Status {
	s := testutil.Status(id, from, sec)
	s.Kind = model.StatusKindDirectMessage
	s.RecipientID = &to
	return s
}

func fetchIDs(t *testing.T, src Source) []int64 {
	t.Helper()
	page, err := src.Fetch(context.Background(), nil, 50)
	require.NoError(t, err)
	return ids(page)
}

func TestHomeSource(t *testing.T) {
	ctx := context.Background()
	f := newStoreFixture(t,
		testutil.Status(1, 2, 1), // 关注的人
		testutil.Status(2, 3, 2), // 陌生人
		testutil.Status(3, 1, 3), // 自己
		dm(4, 3, 1, 4),           // 发给自己的私信
		dm(5, 2, 5, 5),           // 关注的人发给别人的私信
	)
	require.NoError(t, f.follows.Create(ctx, 1, 2))
	home := NewHomeSource(1, f.follows, f.statuses, f.oracle)

	// 未加载关注列表前什么都不接受
	assert.False(t, home.Accept(testutil.Status(9, 1, 0)))
	require.True(t, home.PreInvalidate(ctx))

	assert.Equal(t, []int64{4, 3, 1}, fetchIDs(t, home))
	page, err := f.statuses.Fetch(ctx, repository.FetchQuery{Count: 50})
	require.NoError(t, err)
	var accepted []int64
	for _, s := range page {
		if home.Accept(s) {
			accepted = append(accepted, s.ID)
		}
	}
	assert.Equal(t, []int64{4, 3, 1}, accepted)
}

func TestStoreFetchPushesDownBlocks(t *testing.T) {
	orig := testutil.Status(1, 3, 1)
	f := newStoreFixture(t,
		orig,
		testutil.Retweet(2, 4, 2, orig),
		testutil.Status(3, 4, 3),
		testutil.Status(4, 5, 4),
	)
	all := NewAllSource(f.statuses, f.oracle)
	assert.Equal(t, []int64{4, 3, 2, 1}, fetchIDs(t, all))

	f.oracle.block(3)
	assert.Equal(t, []int64{4, 3}, fetchIDs(t, all))

	maxID := int64(4)
	page, err := all.Fetch(context.Background(), &maxID, 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{3}, ids(page))
}

func TestUserAndMentionSources(t *testing.T) {
	mention := testutil.Status(2, 3, 2)
	mention.Text = "hello @Alice!"
	f := newStoreFixture(t, testutil.Status(1, 2, 1), mention, testutil.Status(3, 2, 3))

	assert.Equal(t, []int64{3, 1}, fetchIDs(t, NewUserSource(2, f.statuses, f.oracle)))
	mentions := NewMentionSource("alice", f.statuses, f.oracle)
	assert.Equal(t, []int64{2}, fetchIDs(t, mentions))
	assert.True(t, mentions.Accept(mention))
}

func TestFilterSource(t *testing.T) {
	spam := testutil.Status(1, 2, 1)
	spam.Source = "spambot"
	f := newStoreFixture(t, spam, testutil.Status(2, 3, 2))
	ctx := context.Background()

	fs := NewFilterSource(predicate.Rule{Sources: []string{"spambot"}, Negate: true}, f.statuses, f.oracle)
	require.True(t, fs.PreInvalidate(ctx))
	assert.Equal(t, []int64{2}, fetchIDs(t, fs))

	// 编译失败时退化为全部拒绝
	fs.SetRule(predicate.Rule{Keywords: []string{"  "}})
	require.True(t, fs.PreInvalidate(ctx))
	assert.Empty(t, fetchIDs(t, fs))
	assert.False(t, fs.Accept(testutil.Status(3, 3, 3)))

	fs.SetRule(predicate.Rule{UserIDs: []int64{2}})
	fs.PreInvalidate(ctx)
	assert.Equal(t, []int64{1}, fetchIDs(t, fs))
}

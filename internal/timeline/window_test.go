package timeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/timeline-pipeline/internal/model"
	"github.com/d60-Lab/timeline-pipeline/internal/testutil"
)

func ids(items []*model.Status) []int64 {
	out := make([]int64, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func TestWindow_InsertKeepsOrder(t *testing.T) {
	w := newWindow()
	assert.Equal(t, 0, w.insert(testutil.Status(1, 1, 10)))
	assert.Equal(t, 0, w.insert(testutil.Status(2, 1, 20)))
	// 回填的旧推文插到中间/末尾
	assert.Equal(t, 1, w.insert(testutil.Status(3, 1, 15)))
	assert.Equal(t, 3, w.insert(testutil.Status(4, 1, 5)))
	// 同一时刻 id 大的在前
	assert.Equal(t, 1, w.insert(testutil.Status(9, 1, 15)))
	assert.Equal(t, 2, w.insert(testutil.Status(5, 1, 15)))

	assert.Equal(t, []int64{2, 9, 5, 3, 1, 4}, ids(w.snapshot()))
	assert.Equal(t, -1, w.insert(testutil.Status(3, 1, 99)))
	assert.Equal(t, 6, w.len())
}

func TestWindow_RemoveCascadesToRetweets(t *testing.T) {
	w := newWindow()
	orig := testutil.Status(100, 1, 10)
	w.insert(orig)
	w.insert(testutil.Retweet(101, 2, 11, orig))
	w.insert(testutil.Status(102, 3, 12))

	assert.ElementsMatch(t, []int64{100, 101}, w.remove(100))
	assert.Equal(t, []int64{102}, ids(w.snapshot()))
	assert.False(t, w.contains(101))
	assert.Empty(t, w.remove(555))
}

func TestWindow_Replace(t *testing.T) {
	w := newWindow()
	w.insert(testutil.Status(1, 1, 2))
	w.insert(testutil.Status(2, 1, 1))

	upd := testutil.Status(2, 1, 1)
	upd.FavoritedBy = []int64{7}
	assert.Equal(t, 1, w.replace(upd))
	assert.Same(t, upd, w.snapshot()[1])
	assert.Equal(t, -1, w.replace(testutil.Status(3, 1, 0)))
}

func TestWindow_TrimLine(t *testing.T) {
	w := newWindow()
	for i := 1; i <= 6; i++ {
		w.insert(testutil.Status(int64(i), 1, i))
	}
	assert.False(t, w.belowTrimLine(testutil.Status(50, 1, -100)))

	dropped := w.trimTo(4)
	assert.Equal(t, []int64{2, 1}, dropped)
	assert.Equal(t, []int64{6, 5, 4, 3}, ids(w.snapshot()))
	assert.True(t, w.trimmed)
	assert.Equal(t, testutil.Epoch.Add(3*time.Second), w.trimLine)

	assert.True(t, w.belowTrimLine(testutil.Status(2, 1, 2)))
	assert.False(t, w.belowTrimLine(testutil.Status(7, 1, 3)))

	w.lowerTrimLine(testutil.Epoch.Add(time.Second))
	assert.False(t, w.belowTrimLine(testutil.Status(2, 1, 2)))
	// 只降不升
	w.lowerTrimLine(testutil.Epoch.Add(5 * time.Second))
	assert.Equal(t, testutil.Epoch.Add(time.Second), w.trimLine)

	assert.Nil(t, w.trimTo(10))
	w.reset()
	assert.Equal(t, 0, w.len())
	assert.False(t, w.trimmed)
}

func TestWindow_RandomInsertionInvariant(t *testing.T) {
	w := newWindow()
	// 固定伪随机序列：时间有大量重复
	for i := 0; i < 500; i++ {
		id := int64((i * 7919) % 311)
		sec := int((id * 31) % 17)
		w.insert(testutil.Status(id, 1, sec))
	}
	items := w.snapshot()
	seen := map[int64]bool{}
	for i, it := range items {
		require.False(t, seen[it.ID], "duplicate id %d", it.ID)
		seen[it.ID] = true
		if i > 0 {
			require.True(t, items[i-1].Before(it), "order broken at %d", i)
		}
	}
	assert.Len(t, items, 311)
}

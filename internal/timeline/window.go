package timeline

import (
	"sort"
	"time"

	"github.com/d60-Lab/timeline-pipeline/internal/model"
)

// window 有序窗口：按 CreatedAt 降序（同一时刻 id 大的在前），ids 用于 O(1) 去重。
// 不加锁，由 Model 的互斥锁保护。
type window struct {
	items []*model.Status
	ids   map[int64]struct{}

	// trimLine 最近一次裁剪后保留的最旧一条的时间；早于它的广播新增一律拒绝
	trimLine time.Time
	trimmed  bool
}

func newWindow() *window {
	return &window{ids: make(map[int64]struct{})}
}

func (w *window) len() int { return len(w.items) }

func (w *window) contains(id int64) bool {
	_, ok := w.ids[id]
	return ok
}

// insert places s at its ordered position and returns the index, or -1 for a duplicate.
func (w *window) insert(s *model.Status) int {
	if w.contains(s.ID) {
		return -1
	}
	i := sort.Search(len(w.items), func(i int) bool { return s.Before(w.items[i]) })
	w.items = append(w.items, nil)
	copy(w.items[i+1:], w.items[i:])
	w.items[i] = s
	w.ids[s.ID] = struct{}{}
	return i
}

// replace swaps the stored copy of s.ID for s in place.
func (w *window) replace(s *model.Status) int {
	if !w.contains(s.ID) {
		return -1
	}
	for i, it := range w.items {
		if it.ID == s.ID {
			w.items[i] = s
			return i
		}
	}
	return -1
}

// remove drops id and every retweet of id; it returns the ids actually removed.
func (w *window) remove(id int64) []int64 {
	var removed []int64
	kept := w.items[:0]
	for _, it := range w.items {
		if it.ID == id || (it.RetweetedOriginalID != nil && *it.RetweetedOriginalID == id) {
			removed = append(removed, it.ID)
			delete(w.ids, it.ID)
			continue
		}
		kept = append(kept, it)
	}
	for i := len(kept); i < len(w.items); i++ {
		w.items[i] = nil
	}
	w.items = kept
	return removed
}

// trimTo keeps the newest n items and raises the trim line to the last kept one.
func (w *window) trimTo(n int) []int64 {
	if n <= 0 || len(w.items) <= n {
		return nil
	}
	dropped := make([]int64, 0, len(w.items)-n)
	for _, it := range w.items[n:] {
		dropped = append(dropped, it.ID)
		delete(w.ids, it.ID)
	}
	for i := n; i < len(w.items); i++ {
		w.items[i] = nil
	}
	w.items = w.items[:n]
	w.trimLine = w.items[n-1].CreatedAt
	w.trimmed = true
	return dropped
}

// belowTrimLine reports whether s would land below an established trim line.
func (w *window) belowTrimLine(s *model.Status) bool {
	return w.trimmed && s.CreatedAt.Before(w.trimLine)
}

// lowerTrimLine moves the trim line down to t; explicit pagination may go past it.
func (w *window) lowerTrimLine(t time.Time) {
	if w.trimmed && t.Before(w.trimLine) {
		w.trimLine = t
	}
}

func (w *window) reset() {
	w.items = nil
	w.ids = make(map[int64]struct{})
	w.trimLine = time.Time{}
	w.trimmed = false
}

func (w *window) snapshot() []*model.Status {
	return append([]*model.Status(nil), w.items...)
}

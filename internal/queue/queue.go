// Package queue is the multi-producer, single-consumer queue behind the
// pipeline workers.
package queue

import "sync"

// Queue 无界 MPSC 队列：生产者从任意 goroutine Push，单个消费者 Wait 批量取走。
// 信号通道容量为 1，Push 至多发一次信号；Wait 在锁内先换出整批再返回，
// 处理期间到达的 Push 会重新置位信号，不会丢失唤醒。
type Queue[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool
	signal chan struct{}
}

func New[T any]() *Queue[T] {
	return &Queue[T]{signal: make(chan struct{}, 1)}
}

// Push appends vs atomically, in order. It returns false once the queue is closed.
func (q *Queue[T]) Push(vs ...T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.items = append(q.items, vs...)
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// Wait blocks until items are available and takes all of them.
// ok is false when the queue is closed and fully drained.
func (q *Queue[T]) Wait() (batch []T, ok bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			batch = q.items
			q.items = nil
			q.mu.Unlock()
			return batch, true
		}
		if q.closed {
			q.mu.Unlock()
			return nil, false
		}
		q.mu.Unlock()
		<-q.signal
	}
}

// Close stops accepting new items; queued items are still handed out by Wait.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}

// Closed reports whether Close was called.
func (q *Queue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Len is a sample of the pending backlog.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

package queue

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_PushWaitOrder(t *testing.T) {
	q := New[int]()
	require.True(t, q.Push(1, 2))
	require.True(t, q.Push(3))
	assert.Equal(t, 3, q.Len())

	batch, ok := q.Wait()
	require.True(t, ok)
	assert.Equal(t, []int{1, 2, 3}, batch)
	assert.Equal(t, 0, q.Len())
}

func TestQueue_WaitBlocksUntilPush(t *testing.T) {
	q := New[string]()
	got := make(chan []string, 1)
	go func() {
		b, _ := q.Wait()
		got <- b
	}()

	select {
	case <-got:
		t.Fatal("Wait returned on an empty queue")
	case <-time.After(30 * time.Millisecond):
	}

	q.Push("a")
	select {
	case b := <-got:
		assert.Equal(t, []string{"a"}, b)
	case <-time.After(time.Second):
		t.Fatal("Wait did not wake up")
	}
}

func TestQueue_CloseDrainsThenStops(t *testing.T) {
	q := New[int]()
	q.Push(1)
	q.Close()
	q.Close()

	assert.False(t, q.Push(2))
	assert.True(t, q.Closed())

	b, ok := q.Wait()
	require.True(t, ok)
	assert.Equal(t, []int{1}, b)

	_, ok = q.Wait()
	assert.False(t, ok)
}

func TestQueue_ConcurrentProducersLoseNothing(t *testing.T) {
	q := New[int]()
	const producers, per = 8, 500

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < per; i++ {
				q.Push(p*per + i)
			}
		}(p)
	}

	seen := make(map[int]bool)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			b, ok := q.Wait()
			if !ok {
				return
			}
			for _, v := range b {
				seen[v] = true
			}
		}
	}()

	wg.Wait()
	q.Close()
	<-done
	assert.Len(t, seen, producers*per)
}

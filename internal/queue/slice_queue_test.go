package queue

import (
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

type msgItem struct {
	Data string
}

func TestSliceQueue(t *testing.T) {
	assert := assert.New(t)

	t.Run("Empty Queue", func(t *testing.T) {
		q := NewSliceQueue[*msgItem](1)

		assert.True(q.IsEmpty())
		assert.Equal(0, q.Length())
		_, ok := q.Dequeue()
		assert.False(ok)
		_, ok = q.Peek()
		assert.False(ok)
	})

	t.Run("Enqueue and Dequeue", func(t *testing.T) {
		q := NewSliceQueue[*msgItem](1)

		item1 := &msgItem{"data1"}
		item2 := &msgItem{"data2"}
		q.Enqueue(item1)
		q.Enqueue(item2)
		assert.Equal(2, q.Length())
		assert.Equal([]*msgItem{item1, item2}, q.Items())

		got, ok := q.Dequeue()
		assert.True(ok)
		assert.Same(item1, got)

		got, ok = q.Dequeue()
		assert.True(ok)
		assert.Same(item2, got)
		assert.True(q.IsEmpty())
	})

	t.Run("Peek", func(t *testing.T) {
		q := NewSliceQueue[*msgItem](1)

		item1 := &msgItem{"data1"}
		q.Enqueue(item1)
		q.Enqueue(&msgItem{"data2"})

		got, ok := q.Peek()
		assert.True(ok)
		assert.Same(item1, got)
		assert.Equal(2, q.Length()) // Length should not change after peek
	})

	t.Run("Reset", func(t *testing.T) {
		q := NewSliceQueue[int](4)
		q.Enqueue(1)
		q.Enqueue(2)
		q.Reset()
		assert.True(q.IsEmpty())
		q.Enqueue(3)
		assert.Equal([]int{3}, q.Items())
	})

	t.Run("Concurrency", func(t *testing.T) {
		var mu sync.Mutex
		q := NewSliceQueue[*msgItem](1)

		var wg sync.WaitGroup
		for i := 0; i < 1000; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				mu.Lock()
				q.Enqueue(&msgItem{strconv.Itoa(i)})
				mu.Unlock()
			}(i)
		}
		wg.Wait()

		assert.Equal(1000, q.Length())
	})
}

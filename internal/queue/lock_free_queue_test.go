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

func TestLockFreeQueue(t *testing.T) {
	assert := assert.New(t)

	t.Run("Empty Queue", func(t *testing.T) {
		q := NewLockFree[*msgItem]()

		assert.True(q.IsEmpty())
		assert.Equal(0, q.Length())

		_, ok := q.Dequeue()
		assert.False(ok)

		_, ok = q.Peek()
		assert.False(ok)
	})

	t.Run("Enqueue and Dequeue", func(t *testing.T) {
		q := NewLockFree[*msgItem]()

		item1 := &msgItem{"data1"}
		q.Enqueue(item1)
		assert.False(q.IsEmpty())
		assert.Equal(1, q.Length())

		item2 := &msgItem{"data2"}
		q.Enqueue(item2)
		assert.Equal(2, q.Length())

		got, ok := q.Dequeue()
		assert.True(ok)
		assert.Equal(item1, got)
		assert.Equal(1, q.Length())

		got, ok = q.Dequeue()
		assert.True(ok)
		assert.Equal(item2, got)
		assert.True(q.IsEmpty())

		_, ok = q.Dequeue()
		assert.False(ok)
		assert.True(q.IsEmpty())
	})

	t.Run("Peek", func(t *testing.T) {
		q := NewLockFree[*msgItem]()

		item1 := &msgItem{"data1"}
		item2 := &msgItem{"data2"}
		q.Enqueue(item1)

		got, ok := q.Peek()
		assert.True(ok)
		assert.Equal(item1, got)
		assert.Equal(1, q.Length()) // Length should not change after peek

		q.Enqueue(item2)

		got, ok = q.Peek()
		assert.True(ok)
		assert.Equal(item1, got)
		assert.Equal(2, q.Length())

		q.Dequeue()
		got, ok = q.Peek()
		assert.True(ok)
		assert.Equal(item2, got)
		assert.Equal(1, q.Length())

		q.Dequeue()
		_, ok = q.Peek()
		assert.False(ok)
		assert.Equal(0, q.Length())
	})

	t.Run("Concurrency", func(t *testing.T) {
		q := NewLockFree[*msgItem]()

		var wg sync.WaitGroup
		for i := 0; i < 1000; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				q.Enqueue(&msgItem{strconv.Itoa(i)})
			}(i)
		}
		wg.Wait()

		assert.Equal(1000, q.Length())

		seen := make(map[string]bool, 1000)
		for {
			item, ok := q.Dequeue()
			if !ok {
				break
			}
			assert.False(seen[item.Data], "item %s dequeued twice", item.Data)
			seen[item.Data] = true
		}
		assert.Len(seen, 1000)
		assert.True(q.IsEmpty())
	})

	t.Run("Concurrent Producers and Consumers", func(t *testing.T) {
		q := NewLockFree[int]()

		const producers = 8
		const perProducer = 500

		var wg sync.WaitGroup
		var consumed sync.WaitGroup

		var mu sync.Mutex
		got := make(map[int]bool, producers*perProducer)

		consumed.Add(producers * perProducer)
		for c := 0; c < 4; c++ {
			go func() {
				for {
					v, ok := q.Dequeue()
					if !ok {
						continue
					}
					mu.Lock()
					if got[v] {
						mu.Unlock()
						t.Errorf("value %d consumed twice", v)
						return
					}
					got[v] = true
					mu.Unlock()
					consumed.Done()
				}
			}()
		}

		for p := 0; p < producers; p++ {
			wg.Add(1)
			go func(p int) {
				defer wg.Done()
				for i := 0; i < perProducer; i++ {
					q.Enqueue(p*perProducer + i)
				}
			}(p)
		}

		wg.Wait()
		consumed.Wait()

		mu.Lock()
		defer mu.Unlock()
		assert.Len(got, producers*perProducer)
	})
}

package sequence

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLRUEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewLRU(2)
	c.Set("a", 1)
	c.Set("b", 1)
	_, _ = c.Get("a")
	c.Set("c", 1)

	_, ok := c.Get("b")
	assert.False(t, ok, "b was least recently used")
	_, ok = c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
	assert.Equal(t, 2, c.Len())
}

func TestLRUNeverMovesBackwards(t *testing.T) {
	c := NewLRU(4)
	c.Set("order:20261017", 7)
	c.Set("order:20261017", 3)

	v, ok := c.Get("order:20261017")
	assert.True(t, ok)
	assert.Equal(t, 7, v)
}

func TestLRUZeroCapacityStillHoldsOne(t *testing.T) {
	c := NewLRU(0)
	c.Set("a", 1)
	c.Set("b", 2)
	assert.Equal(t, 1, c.Len())
	v, ok := c.Get("b")
	assert.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestLRUConcurrentSetsKeepHighest(t *testing.T) {
	c := NewLRU(8)
	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func(v int) {
			defer wg.Done()
			c.Set("invoice:20261017", v)
		}(i)
	}
	wg.Wait()

	v, ok := c.Get("invoice:20261017")
	assert.True(t, ok)
	assert.Equal(t, 50, v)
}

package dedup

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSeen(t *testing.T) {
	c := New(10)

	assert.False(t, c.Seen("m1"))
	assert.True(t, c.Seen("m1"))
	assert.False(t, c.Seen("m2"))
	assert.True(t, c.Seen("m1"))
	assert.Equal(t, 2, c.Len())
}

func TestEvictionBoundsGrowth(t *testing.T) {
	c := New(100)

	for i := 0; i < 250; i++ {
		assert.False(t, c.Seen(fmt.Sprintf("m%d", i)))
	}
	assert.Equal(t, 100, c.Len())

	// Oldest entries were evicted, newest survive.
	assert.False(t, c.Seen("m0"))
	assert.True(t, c.Seen("m249"))
}

func TestHitRefreshesRecency(t *testing.T) {
	c := New(2)

	c.Seen("a")
	c.Seen("b")
	c.Seen("a") // refresh: b is now oldest
	c.Seen("c") // evicts b

	assert.True(t, c.Seen("a"))
	assert.False(t, c.Seen("b"))
}

func TestMinimumCapacity(t *testing.T) {
	c := New(0)

	assert.False(t, c.Seen("a"))
	assert.Equal(t, 1, c.Len())
	assert.False(t, c.Seen("b"))
	assert.Equal(t, 1, c.Len())
}

package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// TestMaintainSkipsRehashWhenLoadIsBelowThreshold pins maintain's rehash
// trigger: rehash only when the post-sweep table is still at least 3/4
// full, or when more than limit/4 stale entries survived the sweep. A
// sweep that frees every stale entry and leaves survivors well under 3/4
// full must not trigger a rehash.
func TestMaintainSkipsRehashWhenLoadIsBelowThreshold(t *testing.T) {
	now := time.Now()
	nowUnix := now.Unix()

	const limit = 64
	c := &Cache{slots: make([]slot, limit), count: 41}

	// 21 fresh entries (survive), 20 stale entries immediately after them
	// with nothing but empty slots to their right, so easySweep's
	// backward walk finds each one "easy" and removes exactly 20,
	// leaving count at 21 (< limit*3/4 == 48).
	for i := 0; i < 21; i++ {
		c.slots[i] = slot{used: true, hash: uint32(i), name: "fresh", expires: nowUnix + 300}
	}
	for i := 21; i < 41; i++ {
		c.slots[i] = slot{used: true, hash: uint32(i), name: "stale", expires: nowUnix - 1}
	}

	c.maintain(now)

	assert.Equal(t, 21, c.count)
	assert.Len(t, c.slots, limit, "maintain must not rehash (and shrink the table) when post-sweep load is below 3/4")
}

package receipts

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/matheus3301/msgdb/internal/store"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time           { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestCache(ttl time.Duration, size int) (*EarlyCache, *clock) {
	c := NewEarlyCache(ttl, size)
	clk := &clock{t: time.Unix(1_700_000_000, 0)}
	c.now = clk.now
	return c, clk
}

func TestCacheGroupsEntriesByTimestamp(t *testing.T) {
	c, _ := newTestCache(time.Minute, 10)

	c.Add(1000, Entry{Author: 10, Kind: store.ReceiptDelivery, At: 5})
	c.Add(1000, Entry{Author: 11, Kind: store.ReceiptDelivery, At: 6})
	c.Add(1000, Entry{Author: 10, Kind: store.ReceiptRead, At: 7})
	c.Add(2000, Entry{Author: 10, Kind: store.ReceiptDelivery, At: 8})

	assert.Equal(t, 2, c.Len())
	assert.Len(t, c.Peek(1000), 3)
	assert.Len(t, c.Peek(2000), 1)
	assert.Nil(t, c.Peek(3000))
}

func TestCacheDeduplicatesKeepingEarliest(t *testing.T) {
	c, _ := newTestCache(time.Minute, 10)

	assert.True(t, c.Add(1000, Entry{Author: 10, Kind: store.ReceiptRead, Sync: true, At: 900}))
	assert.False(t, c.Add(1000, Entry{Author: 10, Kind: store.ReceiptRead, Sync: true, At: 700}))
	assert.False(t, c.Add(1000, Entry{Author: 10, Kind: store.ReceiptRead, Sync: true, At: 800}))
	assert.True(t, c.Add(1000, Entry{Author: 10, Kind: store.ReceiptRead, At: 950}))

	got := c.Peek(1000)
	assert.Equal(t, []Entry{
		{Author: 10, Kind: store.ReceiptRead, Sync: true, At: 700},
		{Author: 10, Kind: store.ReceiptRead, At: 950},
	}, got)
}

func TestCacheRemove(t *testing.T) {
	c, _ := newTestCache(time.Minute, 10)
	a := Entry{Author: 10, Kind: store.ReceiptDelivery, At: 1}
	b := Entry{Author: 11, Kind: store.ReceiptDelivery, At: 1}
	c.Add(1000, a)
	c.Add(1000, b)

	c.Remove(1000, a)
	assert.Equal(t, []Entry{b}, c.Peek(1000))

	c.Remove(1000, b)
	assert.Zero(t, c.Len())
	c.Remove(1000, b)
}

func TestCacheEvictsOldestAtCapacity(t *testing.T) {
	c, _ := newTestCache(time.Minute, 2)

	c.Add(1, Entry{Author: 10})
	c.Add(2, Entry{Author: 10})
	c.Add(1, Entry{Author: 11})
	c.Add(3, Entry{Author: 10})

	assert.Equal(t, 2, c.Len())
	assert.Nil(t, c.Peek(1), "the first timestamp added is evicted even if touched later")
	assert.NotNil(t, c.Peek(2))
	assert.NotNil(t, c.Peek(3))
	assert.Equal(t, 1, c.Evicted())
}

func TestCacheExpiresByAge(t *testing.T) {
	c, clk := newTestCache(time.Minute, 10)

	c.Add(1, Entry{Author: 10})
	clk.advance(40 * time.Second)
	c.Add(2, Entry{Author: 10})
	clk.advance(30 * time.Second)

	assert.Nil(t, c.Peek(1))
	assert.NotNil(t, c.Peek(2))

	clk.advance(40 * time.Second)
	assert.Equal(t, 1, c.Prune())
	assert.Zero(t, c.Len())
}

func TestCacheReaddAfterExpiryStartsFresh(t *testing.T) {
	c, clk := newTestCache(time.Minute, 10)

	c.Add(1, Entry{Author: 10})
	clk.advance(2 * time.Minute)
	c.Add(1, Entry{Author: 11})

	assert.Equal(t, []Entry{{Author: 11}}, c.Peek(1))
}

package cache_test

import (
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/jroosing/madns/internal/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetMissOnEmptyCache(t *testing.T) {
	c := cache.New()
	_, ok := c.Get("example.com", time.Now())
	assert.False(t, ok)
}

func TestSetThenGet(t *testing.T) {
	c := cache.New()
	now := time.Now()
	c.Set("example.com", net.IPv4(1, 2, 3, 4), 300, now)

	ip, ok := c.Get("example.com", now)
	require.True(t, ok)
	assert.True(t, ip.Equal(net.IPv4(1, 2, 3, 4)))
}

func TestGetIsCaseInsensitive(t *testing.T) {
	c := cache.New()
	now := time.Now()
	c.Set("Example.COM", net.IPv4(1, 2, 3, 4), 300, now)

	_, ok := c.Get("example.com", now)
	assert.True(t, ok)
}

func TestExpiredEntryIsAMiss(t *testing.T) {
	c := cache.New()
	now := time.Now()
	c.Set("example.com", net.IPv4(1, 2, 3, 4), 1, now)

	_, ok := c.Get("example.com", now.Add(2*time.Second))
	assert.False(t, ok)
}

func TestSetRefreshesExistingEntry(t *testing.T) {
	c := cache.New()
	now := time.Now()
	c.Set("example.com", net.IPv4(1, 2, 3, 4), 300, now)
	c.Set("example.com", net.IPv4(5, 6, 7, 8), 300, now)

	assert.Equal(t, 1, c.Len())
	ip, ok := c.Get("example.com", now)
	require.True(t, ok)
	assert.True(t, ip.Equal(net.IPv4(5, 6, 7, 8)))
}

func TestRehashKeepsAllLiveEntriesReachable(t *testing.T) {
	c := cache.New()
	now := time.Now()
	for i := 0; i < 200; i++ {
		name := fmt.Sprintf("host-%d.example.com", i)
		c.Set(name, net.IPv4(byte(i), 0, 0, 1), 300, now)
	}
	for i := 0; i < 200; i++ {
		name := fmt.Sprintf("host-%d.example.com", i)
		_, ok := c.Get(name, now)
		assert.True(t, ok, "expected %s to be cached", name)
	}
}

func TestMaintenanceEvictsExpiredEntries(t *testing.T) {
	c := cache.New()
	now := time.Now()
	for i := 0; i < 10; i++ {
		name := fmt.Sprintf("stale-%d.example.com", i)
		c.Set(name, net.IPv4(1, 1, 1, byte(i)), 1, now)
	}
	later := now.Add(2 * time.Second)
	for i := 10; i < 20; i++ {
		name := fmt.Sprintf("fresh-%d.example.com", i)
		c.Set(name, net.IPv4(2, 2, 2, byte(i)), 300, later)
	}
	for i := 0; i < 10; i++ {
		name := fmt.Sprintf("stale-%d.example.com", i)
		_, ok := c.Get(name, later)
		assert.False(t, ok)
	}
}

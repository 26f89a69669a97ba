package cache

import (
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

func TestGetMissOnEmptyCache(t *testing.T) {
	c := New(10)
	_, ok := c.Get(Key("example.com.", dns.TypeA))
	require.False(t, ok)
}

func TestPutThenGetHit(t *testing.T) {
	c := New(10)
	key := Key("example.com.", dns.TypeA)
	c.Put(key, Entry{ExpiresAt: time.Now().Add(time.Minute)})

	entry, ok := c.Get(key)
	require.True(t, ok)
	require.WithinDuration(t, time.Now().Add(time.Minute), entry.ExpiresAt, time.Second)
}

func TestExpiredEntryEvictedOnGet(t *testing.T) {
	c := New(10)
	key := Key("example.com.", dns.TypeA)
	c.Put(key, Entry{ExpiresAt: time.Now().Add(-time.Second)})

	_, ok := c.Get(key)
	require.False(t, ok)
	require.Equal(t, 0, c.Len())
}

// TestLRUEvictsTrueLeastRecentlyUsed verifies capacity+k inserts leave
// exactly capacity entries, and the evicted set is exactly the k least
// recently used - not an approximation over insertion order.
func TestLRUEvictsTrueLeastRecentlyUsed(t *testing.T) {
	c := New(3)
	future := time.Now().Add(time.Minute)

	c.Put("a", Entry{ExpiresAt: future})
	c.Put("b", Entry{ExpiresAt: future})
	c.Put("c", Entry{ExpiresAt: future})

	// Touch "a" so "b" becomes the least recently used.
	_, _ = c.Get("a")

	c.Put("d", Entry{ExpiresAt: future})

	require.Equal(t, 3, c.Len())
	_, ok := c.Get("b")
	require.False(t, ok, "b should have been evicted as least recently used")
	for _, k := range []string{"a", "c", "d"} {
		_, ok := c.Get(k)
		require.True(t, ok, "%s should still be present", k)
	}
}

func TestStatsHitRate(t *testing.T) {
	c := New(10)
	key := Key("example.com.", dns.TypeA)
	c.Put(key, Entry{ExpiresAt: time.Now().Add(time.Minute)})

	c.Get(key)
	c.Get("missing")

	stats := c.Stats()
	require.Equal(t, uint64(1), stats.Hits)
	require.Equal(t, uint64(1), stats.Misses)
	require.InDelta(t, 0.5, stats.HitRate, 0.001)
}

func TestClampTTL(t *testing.T) {
	require.Equal(t, 60*time.Second, ClampTTL(10*time.Second, 60*time.Second, 24*time.Hour))
	require.Equal(t, 24*time.Hour, ClampTTL(48*time.Hour, 60*time.Second, 24*time.Hour))
	require.Equal(t, 5*time.Minute, ClampTTL(5*time.Minute, 60*time.Second, 24*time.Hour))
}

// Package cache implements the open-addressed, TTL-expiring name cache
// described in SPEC_FULL.md §4.2, ported directly from
// original_source/madns.c's update_cache/madns_lookup pair: linear probing
// with no tombstones, a reverse-scan "easy sweep" eviction pass, and a
// conditional full rehash when the load factor climbs too high.
package cache

import (
	"net"
	"time"

	"github.com/jroosing/madns/internal/wire"
)

// minLimit is the smallest table size a Cache ever shrinks to on rehash,
// matching original_source/madns.c's MIN_CACHE.
const minLimit = 16

type slot struct {
	used    bool
	hash    uint32
	name    string
	ip      net.IP
	expires int64
}

// Cache is a bounded, open-addressed name -> (ip, expiry) table.
// Not safe for concurrent use; the resolver that owns it runs single
// threaded, per SPEC_FULL.md §5.
type Cache struct {
	slots []slot
	count int
}

// New returns an empty cache with the minimum table size.
func New() *Cache {
	return &Cache{slots: make([]slot, minLimit)}
}

// Len reports the number of live (possibly stale) entries.
func (c *Cache) Len() int { return c.count }

// Get looks up name, returning the cached address and true only if an
// entry exists and has not yet expired. Stale entries found during the
// probe are skipped, not removed (removal only happens during Set's
// maintenance passes), matching madns_lookup's read-only semantics.
func (c *Cache) Get(name string, now time.Time) (net.IP, bool) {
	h := wire.HashName(name)
	norm := wire.NormalizeName(name)
	limit := len(c.slots)
	idx := int(h) % limit

	nowUnix := now.Unix()
	for i := 0; i < limit; i++ {
		s := &c.slots[idx]
		if !s.used {
			return nil, false
		}
		if s.hash == h && s.name == norm && s.expires >= nowUnix {
			return s.ip, true
		}
		idx = (idx + 1) % limit
	}
	return nil, false
}

// Set inserts or refreshes a cache entry for name with the given TTL.
// ttlSeconds of 0 still caches briefly (matching the original's "trust the
// response" stance) to avoid hammering a server returning degenerate TTLs.
func (c *Cache) Set(name string, ip net.IP, ttlSeconds uint32, now time.Time) {
	h := wire.HashName(name)
	norm := wire.NormalizeName(name)
	expires := now.Unix() + int64(ttlSeconds)
	nowUnix := now.Unix()

	limit := len(c.slots)
	idx := int(h) % limit
	putAt := -1

	for i := 0; i < limit; i++ {
		s := &c.slots[idx]
		if !s.used {
			if putAt < 0 {
				putAt = idx
			}
			break
		}
		if s.hash == h && s.name == norm {
			s.expires = expires
			s.ip = ip
			return
		}
		if putAt < 0 && s.expires < nowUnix {
			putAt = idx
		}
		idx = (idx + 1) % limit
	}

	if putAt < 0 {
		// Table is completely full of still-live, non-matching entries.
		// Force room via a rehash, then retry the insert.
		c.rehash(now)
		c.Set(name, ip, ttlSeconds, now)
		return
	}

	wasOccupyingFreshSlot := !c.slots[putAt].used
	c.slots[putAt] = slot{used: true, hash: h, name: norm, ip: ip, expires: expires}
	if wasOccupyingFreshSlot {
		c.count++
	}

	if wasOccupyingFreshSlot && c.count*4 >= limit*3 {
		c.maintain(now)
	}
}

// maintain runs the easy-sweep eviction pass and then a full rehash if the
// table is still at or over its load factor, or if more than limit/4 stale
// entries survived the sweep (they could not be removed without breaking
// a probe chain). This mirrors update_cache's post-insert housekeeping in
// original_source/madns.c.
func (c *Cache) maintain(now time.Time) {
	c.easySweep(now)
	limit := len(c.slots)
	nowUnix := now.Unix()
	staleLeft := 0
	for _, s := range c.slots {
		if s.used && s.expires < nowUnix {
			staleLeft++
		}
	}
	if c.count*4 >= limit*3 || staleLeft > limit/4 {
		c.rehash(now)
	}
}

// easySweep walks the table backwards, evicting stale entries that are
// "easy" to remove: an entry is easy iff the slot immediately clockwise of
// it (i.e. the next probe position) is empty, or is itself easy-removable.
// This lets probe chains stay intact for entries that are NOT removed,
// without needing tombstones.
func (c *Cache) easySweep(now time.Time) {
	limit := len(c.slots)
	if limit == 0 {
		return
	}
	nowUnix := now.Unix()
	easy := !c.slots[0].used
	for i := limit - 1; i >= 0; i-- {
		s := &c.slots[i]
		if !s.used {
			easy = true
			continue
		}
		stale := s.expires < nowUnix
		if stale && easy {
			*s = slot{}
			c.count--
			easy = true
		} else {
			easy = false
		}
	}
}

// rehash reinserts every non-stale entry into a freshly sized table. New
// size is the smallest power of two >= count*4/3, floored at minLimit.
func (c *Cache) rehash(now time.Time) {
	nowUnix := now.Unix()
	live := make([]slot, 0, c.count)
	for _, s := range c.slots {
		if s.used && s.expires >= nowUnix {
			live = append(live, s)
		}
	}

	newLimit := minLimit
	for newLimit < len(live)*4/3 {
		newLimit *= 2
	}

	c.slots = make([]slot, newLimit)
	c.count = 0
	for _, s := range live {
		c.insertFresh(s)
	}
}

// insertFresh places a slot into the current table via plain linear
// probing, used only by rehash where every entry is known to be live and
// unique by (hash, name).
func (c *Cache) insertFresh(s slot) {
	limit := len(c.slots)
	idx := int(s.hash) % limit
	for i := 0; i < limit; i++ {
		if !c.slots[idx].used {
			c.slots[idx] = s
			c.count++
			return
		}
		idx = (idx + 1) % limit
	}
}

// Snapshot returns every live slot for diagnostics (Dump/CACHE section).
type Entry struct {
	Name    string
	IP      net.IP
	Expires int64
}

func (c *Cache) Snapshot() []Entry {
	out := make([]Entry, 0, c.count)
	for _, s := range c.slots {
		if s.used {
			out = append(out, Entry{Name: s.name, IP: s.ip, Expires: s.expires})
		}
	}
	return out
}

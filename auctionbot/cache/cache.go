// Package cache keeps short-lived snapshots of auctions, bid lists and
// Discord users. Every entry belongs to a class that fixes its time to live.
package cache

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

type Class int

const (
	ClassAuction Class = iota
	ClassBids
	ClassUser
)

func (c Class) String() string {
	switch c {
	case ClassAuction:
		return "auction"
	case ClassBids:
		return "bids"
	case ClassUser:
		return "user"
	default:
		return "unknown"
	}
}

var classes = []Class{ClassAuction, ClassBids, ClassUser}

type TTLConfig struct {
	Auction time.Duration
	Bids    time.Duration
	User    time.Duration
}

// DefaultTTLs are 30s for auctions, 10s for bid lists and 5m for users.
var DefaultTTLs = TTLConfig{
	Auction: 30 * time.Second,
	Bids:    10 * time.Second,
	User:    5 * time.Minute,
}

func AuctionKey(id int64) string { return "auction:" + strconv.FormatInt(id, 10) }
func BidsKey(id int64) string    { return "bids:" + strconv.FormatInt(id, 10) }
func UserKey(id string) string   { return "user:" + id }

type entry struct {
	value     any
	class     Class
	expiresAt time.Time
}

type Stats struct {
	Entries   map[string]int `json:"entries"`
	Hits      uint64         `json:"hits"`
	Misses    uint64         `json:"misses"`
	Evictions uint64         `json:"evictions"`
}

type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	ttls    map[Class]time.Duration
	now     func() time.Time

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

func New(ttls TTLConfig) *Cache {
	return NewWithClock(ttls, time.Now)
}

// NewWithClock is New with an injectable clock.
func NewWithClock(ttls TTLConfig, now func() time.Time) *Cache {
	return &Cache{
		entries: make(map[string]entry),
		ttls: map[Class]time.Duration{
			ClassAuction: ttls.Auction,
			ClassBids:    ttls.Bids,
			ClassUser:    ttls.User,
		},
		now: now,
	}
}

// Get returns the value stored under key while it is still fresh.
// Expired entries count as misses and are dropped.
func (c *Cache) Get(key string) (any, bool) {
	now := c.now()

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if ok && now.Before(e.expiresAt) {
		c.hits.Add(1)
		return e.value, true
	}
	c.misses.Add(1)
	if !ok {
		return nil, false
	}

	c.mu.Lock()
	// Re-check under the write lock so a concurrent Set is not discarded.
	if cur, exists := c.entries[key]; exists && !now.Before(cur.expiresAt) {
		delete(c.entries, key)
		c.evictions.Add(1)
	}
	c.mu.Unlock()
	return nil, false
}

// Set stores value under key, replacing any previous entry.
func (c *Cache) Set(key string, value any, class Class) {
	expiresAt := c.now().Add(c.ttls[class])

	c.mu.Lock()
	c.entries[key] = entry{value: value, class: class, expiresAt: expiresAt}
	c.mu.Unlock()
}

// Invalidate removes keys immediately.
func (c *Cache) Invalidate(keys ...string) {
	c.mu.Lock()
	for _, key := range keys {
		delete(c.entries, key)
	}
	c.mu.Unlock()
}

// Sweep evicts every expired entry and returns how many were removed.
func (c *Cache) Sweep() int {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, key)
			removed++
		}
	}
	c.evictions.Add(uint64(removed))
	return removed
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats counts live entries per class along with hit and miss totals.
func (c *Cache) Stats() Stats {
	now := c.now()

	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Stats{
		Entries:   make(map[string]int, len(classes)),
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
	}
	for _, class := range classes {
		s.Entries[class.String()] = 0
	}
	for _, e := range c.entries {
		if now.Before(e.expiresAt) {
			s.Entries[e.class.String()]++
		}
	}
	return s
}

// Package cache correlates relayed message ids with their sender and
// moderation state for a bounded retention window.
package cache

import (
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/jonboulle/clockwork"
)

const (
	DefaultSize      = 100_000
	DefaultRetention = 24 * time.Hour
)

// CleanupMarker is reserved in the upvote set to flag messages already queued
// for deletion by a cleanup run. Platform ids are positive, so it never clashes.
const CleanupMarker int64 = -1

// CachedMessage is the correlation record for one relayed message.
type CachedMessage struct {
	ID int64
	// Sender is nil for system-authored messages.
	Sender  *int64
	Warned  bool
	Created time.Time
}

// HasSender reports whether the message belongs to a single user.
func (m CachedMessage) HasSender() bool { return m.Sender != nil }

type entry struct {
	msg     CachedMessage
	upvoted map[int64]struct{}
	expires time.Time
}

// Cache is the process-wide message cache. A single lock guards every entry;
// the backing LRU bounds memory and drops entries past retention.
type Cache struct {
	mu        sync.Mutex
	clock     clockwork.Clock
	retention time.Duration
	node      *snowflake.Node
	lru       *expirable.LRU[int64, *entry]
}

func New(clock clockwork.Clock, node *snowflake.Node, size int, retention time.Duration) *Cache {
	if size <= 0 {
		size = DefaultSize
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Cache{
		clock:     clock,
		retention: retention,
		node:      node,
		lru:       expirable.NewLRU[int64, *entry](size, nil, retention),
	}
}

// Assign stores m under a fresh id and returns it.
func (c *Cache) Assign(m CachedMessage) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.node.Generate().Int64()
	for c.lru.Contains(id) {
		id = c.node.Generate().Int64()
	}
	now := c.clock.Now()
	m.ID = id
	m.Created = now
	c.lru.Add(id, &entry{
		msg:     m,
		upvoted: make(map[int64]struct{}),
		expires: now.Add(c.retention),
	})
	return id
}

// live returns the entry for id unless it is missing or past retention.
// Callers hold c.mu.
func (c *Cache) live(id int64) (*entry, bool) {
	e, ok := c.lru.Get(id)
	if !ok {
		return nil, false
	}
	if !c.clock.Now().Before(e.expires) {
		c.lru.Remove(id)
		return nil, false
	}
	return e, true
}

// Get returns a copy of the cached message. Expired and unknown ids are both
// reported as not found.
func (c *Cache) Get(id int64) (CachedMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.live(id)
	if !ok {
		return CachedMessage{}, false
	}
	return e.msg, true
}

// AddUpvote records uid's upvote. added is false when uid had already upvoted.
func (c *Cache) AddUpvote(id, uid int64) (added bool, found bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.live(id)
	if !ok {
		return false, false
	}
	if _, dup := e.upvoted[uid]; dup {
		return false, true
	}
	e.upvoted[uid] = struct{}{}
	return true, true
}

// RemoveUpvote takes back an upvote whose karma could not be credited.
func (c *Cache) RemoveUpvote(id, uid int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.live(id); ok {
		delete(e.upvoted, uid)
	}
}

func (c *Cache) HasUpvoted(id, uid int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.live(id)
	if !ok {
		return false
	}
	_, dup := e.upvoted[uid]
	return dup
}

// MarkWarned sets the warned flag. first is true only for the call that flipped it.
func (c *Cache) MarkWarned(id int64) (first bool, found bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.live(id)
	if !ok {
		return false, false
	}
	if e.msg.Warned {
		return false, true
	}
	e.msg.Warned = true
	return true, true
}

// UnmarkWarned clears the warned flag after the warning itself failed to
// persist, so the message can be warned for again.
func (c *Cache) UnmarkWarned(id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.live(id); ok {
		e.msg.Warned = false
	}
}

// MarkCleanup flags a message as queued for cleanup, returning false if it
// already was.
func (c *Cache) MarkCleanup(id int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.live(id)
	if !ok {
		return false
	}
	if _, done := e.upvoted[CleanupMarker]; done {
		return false
	}
	e.upvoted[CleanupMarker] = struct{}{}
	return true
}

// Snapshot copies every live message that is neither warned nor already
// cleaned up.
func (c *Cache) Snapshot() []CachedMessage {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	var out []CachedMessage
	for _, e := range c.lru.Values() {
		if !now.Before(e.expires) || e.msg.Warned {
			continue
		}
		if _, done := e.upvoted[CleanupMarker]; done {
			continue
		}
		out = append(out, e.msg)
	}
	return out
}

// Expire drops entries past retention and returns how many were removed.
func (c *Cache) Expire() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	n := 0
	for _, id := range c.lru.Keys() {
		e, ok := c.lru.Peek(id)
		if ok && !now.Before(e.expires) {
			c.lru.Remove(id)
			n++
		}
	}
	return n
}

// Len returns the number of cached entries, including ones not yet expired out.
func (c *Cache) Len() int {
	return c.lru.Len()
}

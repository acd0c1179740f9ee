package engine

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/junbin-yang/casan-go/pkg/casan/coap"
	log "github.com/junbin-yang/casan-go/pkg/utils/logger"
)

// CacheEntry 缓存的一次完整请求，应答通过req.Reply()取得
type CacheEntry struct {
	Expire time.Time
	Req    *Msg
}

// Cache 带有效期的应答缓存，可被多个HTTP协程并发使用
type Cache struct {
	clock   clockwork.Clock
	mu      sync.Mutex
	entries []CacheEntry
}

func NewCache(clock clockwork.Clock) *Cache {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Cache{clock: clock}
}

// purge 删除过期条目，调用者持有锁
func (c *Cache) purge(now time.Time) int {
	kept := c.entries[:0]
	for _, e := range c.entries {
		if now.Before(e.Expire) {
			kept = append(kept, e)
		}
	}
	removed := len(c.entries) - len(kept)
	for i := len(kept); i < len(c.entries); i++ {
		c.entries[i] = CacheEntry{}
	}
	c.entries = kept
	return removed
}

func cacheMatch(a, b *Msg) bool {
	if a.Type() != b.Type() || a.Code() != b.Code() {
		return false
	}
	if a.Peer != nil && b.Peer != nil && !a.Peer.Equal(b.Peer) {
		return false
	}
	return coap.CacheKeyEqual(a.Options(), b.Options())
}

// Get 返回与req匹配的已完成请求，没有则返回nil
func (c *Cache) Get(req *Msg) *Msg {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.purge(c.clock.Now())
	for _, e := range c.entries {
		if cacheMatch(e.Req, req) {
			return e.Req
		}
	}
	return nil
}

// Add 应答带Max-Age时缓存该请求，替换已有的匹配条目
func (c *Cache) Add(req *Msg) bool {
	rep := req.Reply()
	if rep == nil {
		return false
	}
	ma, ok := rep.MaxAge()
	if !ok || ma == 0 {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock.Now()
	c.purge(now)
	entry := CacheEntry{Expire: now.Add(time.Duration(ma) * time.Second), Req: req}
	for i := range c.entries {
		if cacheMatch(c.entries[i].Req, req) {
			c.entries[i] = entry
			log.Debugf("[CACHE] refresh %s for %ds", req, ma)
			return true
		}
	}
	c.entries = append(c.entries, entry)
	log.Debugf("[CACHE] add %s for %ds", req, ma)
	return true
}

// Clean 删除所有过期条目，返回删除的数量
func (c *Cache) Clean() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.purge(c.clock.Now())
	if n > 0 {
		log.Debugf("[CACHE] cleanup removed %d entries", n)
	}
	return n
}

// Entries 当前条目的快照
func (c *Cache) Entries() []CacheEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]CacheEntry(nil), c.entries...)
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

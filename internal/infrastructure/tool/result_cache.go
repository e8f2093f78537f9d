package tool

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	domaintool "github.com/salmalm/salmalm/internal/domain/tool"
)

// resultCache deduplicates read-only tool calls. Models retry or loop on
// the same read_file/list_dir with identical arguments; within the TTL the
// first result is replayed without touching the handler. Write and execute
// kinds never cache.
type resultCache struct {
	mu      sync.Mutex
	entries map[string]resultEntry
	ttl     time.Duration
	max     int
}

type resultEntry struct {
	output string
	at     time.Time
}

func newResultCache(ttl time.Duration, max int) *resultCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if max <= 0 {
		max = 100
	}
	return &resultCache{
		entries: make(map[string]resultEntry, max),
		ttl:     ttl,
		max:     max,
	}
}

func (c *resultCache) get(name string, args map[string]interface{}) (string, bool) {
	key := cacheKey(name, args)
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return "", false
	}
	if time.Since(entry.at) > c.ttl {
		delete(c.entries, key)
		return "", false
	}
	return entry.output, true
}

func (c *resultCache) put(name string, args map[string]interface{}, output string) {
	key := cacheKey(name, args)
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= c.max {
		c.evictOldest()
	}
	c.entries[key] = resultEntry{output: output, at: time.Now()}
}

// invalidate drops everything. Called after any mutating tool call so a
// re-read observes the write.
func (c *resultCache) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]resultEntry, c.max)
}

func (c *resultCache) evictOldest() {
	var oldestKey string
	var oldestAt time.Time
	for k, e := range c.entries {
		if oldestKey == "" || e.at.Before(oldestAt) {
			oldestKey, oldestAt = k, e.at
		}
	}
	delete(c.entries, oldestKey)
}

func cacheKey(name string, args map[string]interface{}) string {
	h := sha256.New()
	h.Write([]byte(name))
	h.Write([]byte{0})
	if args != nil {
		// json.Marshal sorts map keys, so the encoding is stable.
		raw, _ := json.Marshal(args)
		h.Write(raw)
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// cacheableKind reports whether a tool kind's results may be replayed.
func cacheableKind(kind domaintool.Kind) bool {
	return kind == domaintool.KindRead
}

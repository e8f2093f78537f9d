// Package cache holds the gateway's fingerprint→response LRU. Only
// tool-free, non-streaming calls that produced non-empty text are cached, so
// a hit can be replayed verbatim with zero usage.
package cache

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"strings"
	"sync"
	"time"

	"github.com/salmalm/salmalm/internal/domain/entity"
)

const (
	defaultMaxEntries = 256
	defaultTTL        = 12 * time.Hour
)

type cacheEntry struct {
	key      string
	response string
	storedAt time.Time
}

// ResponseCache is a strict-LRU cache keyed by message fingerprints.
type ResponseCache struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // front = most recent
	max     int
	ttl     time.Duration

	hits   int64
	misses int64
}

// New builds a cache with the default capacity and TTL.
func New() *ResponseCache {
	return NewWith(defaultMaxEntries, defaultTTL)
}

// NewWith builds a cache with explicit bounds.
func NewWith(maxEntries int, ttl time.Duration) *ResponseCache {
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &ResponseCache{
		entries: make(map[string]*list.Element),
		order:   list.New(),
		max:     maxEntries,
		ttl:     ttl,
	}
}

// Fingerprint hashes (session, model, system prompt, latest user turn) into
// a deterministic key. Intermediate turns stay out of the key, so repeating
// the same input within a session replays the cached reply even though the
// transcript has grown in between. Normalization strips trailing whitespace
// from text and excludes non-text blocks, so cosmetic differences and
// images never split or join cache lines. The session id scopes the key to
// prevent cross-session leakage.
func Fingerprint(sessionID, model string, messages []entity.Message) string {
	h := sha256.New()
	h.Write([]byte(sessionID))
	h.Write([]byte{0})
	h.Write([]byte(model))

	for _, m := range messages {
		if m.Role == entity.RoleSystem {
			hashMessage(h, m)
		}
	}
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == entity.RoleUser {
			hashMessage(h, messages[i])
			break
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

func hashMessage(h hash.Hash, m entity.Message) {
	h.Write([]byte{0})
	h.Write([]byte(m.Role))
	h.Write([]byte{1})
	h.Write([]byte(strings.TrimRight(m.Content, " \t\r\n")))
	for _, b := range m.Blocks {
		if b.Type == entity.BlockText {
			h.Write([]byte{2})
			h.Write([]byte(strings.TrimRight(b.Text, " \t\r\n")))
		}
	}
}

// Get returns the cached response for the fingerprint, refreshing its LRU
// position. Expired entries are dropped on access.
func (c *ResponseCache) Get(sessionID, model string, messages []entity.Message) (string, bool) {
	key := Fingerprint(sessionID, model, messages)

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		c.misses++
		return "", false
	}
	entry := elem.Value.(*cacheEntry)
	if time.Since(entry.storedAt) > c.ttl {
		c.order.Remove(elem)
		delete(c.entries, key)
		c.misses++
		return "", false
	}
	c.order.MoveToFront(elem)
	c.hits++
	return entry.response, true
}

// Put stores a response unless it is empty. Evicts strictly by LRU.
func (c *ResponseCache) Put(sessionID, model string, messages []entity.Message, response string) {
	if response == "" {
		return
	}
	key := Fingerprint(sessionID, model, messages)

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		entry := elem.Value.(*cacheEntry)
		entry.response = response
		entry.storedAt = time.Now()
		c.order.MoveToFront(elem)
		return
	}

	elem := c.order.PushFront(&cacheEntry{key: key, response: response, storedAt: time.Now()})
	c.entries[key] = elem

	for c.order.Len() > c.max {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}
}

// Stats returns (entries, hits, misses).
func (c *ResponseCache) Stats() (int, int64, int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len(), c.hits, c.misses
}

// Clear drops everything.
func (c *ResponseCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element)
	c.order.Init()
}

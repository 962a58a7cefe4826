package captcha

import (
	"container/list"
	"sync"
	"time"

	"github.com/google/uuid"
)

// challenge is one outstanding CAPTCHA; never mutated after issue
type challenge struct {
	identifier string
	text       string
	issuedAt   time.Time
}

// Cache is a bounded FIFO store of single-use challenges
type Cache struct {
	maxSize int
	expiry  time.Duration

	order   *list.List               // insertion order, front is oldest
	entries map[string]*list.Element // identifier -> element in order
	mu      sync.Mutex
}

// NewCache creates a challenge cache holding at most maxSize entries
func NewCache(maxSize int, expiry time.Duration) (*Cache, error) {
	if maxSize <= 0 {
		return nil, ErrInvalidMaxCache
	}
	if expiry <= 0 {
		return nil, ErrInvalidExpiry
	}

	return &Cache{
		maxSize: maxSize,
		expiry:  expiry,
		order:   list.New(),
		entries: make(map[string]*list.Element),
	}, nil
}

// Issue records text under a fresh identifier, evicting the oldest entry when full
func (c *Cache) Issue(text string, now time.Time) string {
	id := uuid.New().String()

	c.mu.Lock()
	defer c.mu.Unlock()

	// Eviction is by insertion order, not access recency
	for c.order.Len() >= c.maxSize {
		oldest := c.order.Front()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*challenge).identifier)
	}

	c.entries[id] = c.order.PushBack(&challenge{identifier: id, text: text, issuedAt: now})
	return id
}

// Verify consumes the challenge and reports whether supplied matches it.
// The entry is removed whatever the outcome.
func (c *Cache) Verify(identifier, supplied string, now time.Time) bool {
	c.mu.Lock()
	elem, ok := c.entries[identifier]
	if ok {
		c.order.Remove(elem)
		delete(c.entries, identifier)
	}
	c.mu.Unlock()

	if !ok {
		return false
	}

	ch := elem.Value.(*challenge)
	if now.Sub(ch.issuedAt) > c.expiry {
		return false
	}
	return supplied == ch.text
}

// Len returns the number of outstanding challenges
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Contains reports whether identifier is still outstanding
func (c *Cache) Contains(identifier string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[identifier]
	return ok
}

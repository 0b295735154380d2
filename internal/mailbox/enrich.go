package mailbox

import (
	"container/list"
	"sync"
)

// TicketContext is the slice of ticket state worth remembering between
// events, so that thin message events can be presented with the same detail
// as the ticket event that preceded them.
type TicketContext struct {
	Subject       string
	Pending       bool
	ContactID     string
	ContactName   string
	ContactNumber string
	QueueID       string
	QueueName     string
}

// ContextCache maps ticket ids to their last known context. It is bounded:
// past the capacity the least recently touched ticket is dropped. Lookups
// count as touches, so tickets with active conversations stay cached.
type ContextCache struct {
	mu    sync.Mutex
	cap   int
	items map[string]*list.Element
	order *list.List // front = most recently touched
}

type cacheEntry struct {
	ticketID string
	ctx      TicketContext
}

// NewContextCache creates a cache holding at most capacity tickets.
func NewContextCache(capacity int) *ContextCache {
	if capacity <= 0 {
		capacity = 256
	}
	return &ContextCache{
		cap:   capacity,
		items: make(map[string]*list.Element),
		order: list.New(),
	}
}

// Put stores the context for a ticket, overwriting whatever was there.
// Ticket events always carry fresher state than the cache.
func (c *ContextCache) Put(ticketID string, tc TicketContext) {
	if ticketID == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[ticketID]; ok {
		el.Value.(*cacheEntry).ctx = tc
		c.order.MoveToFront(el)
		return
	}

	c.items[ticketID] = c.order.PushFront(&cacheEntry{ticketID: ticketID, ctx: tc})
	if c.order.Len() > c.cap {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*cacheEntry).ticketID)
	}
}

// Get returns the cached context for a ticket and refreshes its recency.
func (c *ContextCache) Get(ticketID string) (TicketContext, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[ticketID]
	if !ok {
		return TicketContext{}, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*cacheEntry).ctx, true
}

// Len reports how many tickets are cached.
func (c *ContextCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

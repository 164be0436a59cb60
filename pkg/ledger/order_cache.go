package ledger

import (
	"sync"

	"github.com/taurusjun/quantlink-trade-system-sub005/pkg/types"
)

// OrderCacheEntry ties a broker-assigned order id back to the client
// order that produced it, together with the offset decision the ledger
// made at send time. Created on successful broker acknowledgement,
// consulted on every broker callback, removed exactly once on terminal
// status after the ledger adjustment.
type OrderCacheEntry struct {
	OrderID    uint32
	StrategyID int32
	Symbol     string
	Side       uint8
	Flag       types.OffsetFlag
	FromToday  bool // which bucket the close reservation drew from
	Quantity   int32
	Filled     int32
}

// OrderCache is the brokerOrderID → entry map, guarded by one mutex.
type OrderCache struct {
	mu      sync.Mutex
	entries map[string]*OrderCacheEntry
}

// NewOrderCache creates an empty cache.
func NewOrderCache() *OrderCache {
	return &OrderCache{entries: make(map[string]*OrderCacheEntry)}
}

// Insert registers a broker order. Overwrites nothing: a duplicate broker
// id is a broker bug we surface by returning false.
func (c *OrderCache) Insert(brokerOrderID string, e OrderCacheEntry) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[brokerOrderID]; exists {
		return false
	}
	cp := e
	c.entries[brokerOrderID] = &cp
	return true
}

// Lookup returns a copy of the entry for the broker order id.
func (c *OrderCache) Lookup(brokerOrderID string) (OrderCacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[brokerOrderID]
	if !ok {
		return OrderCacheEntry{}, false
	}
	return *e, true
}

// AddFilled accumulates fill quantity on the entry and returns the copy.
func (c *OrderCache) AddFilled(brokerOrderID string, qty int32) (OrderCacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[brokerOrderID]
	if !ok {
		return OrderCacheEntry{}, false
	}
	e.Filled += qty
	return *e, true
}

// Remove drops the entry, returning it. The second return is false when
// the entry was already removed — terminal callbacks must only retire an
// order once.
func (c *OrderCache) Remove(brokerOrderID string) (OrderCacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[brokerOrderID]
	if !ok {
		return OrderCacheEntry{}, false
	}
	delete(c.entries, brokerOrderID)
	return *e, true
}

// Len returns the number of live entries.
func (c *OrderCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

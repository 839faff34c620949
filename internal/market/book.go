// Package market implements the per-market book cache: the single-writer,
// many-reader store of each market's most recent normalised order book,
// plus the rolling mid-price bar ring that feeds lead-lag routing.
package market

import (
	"sync"
	"sync/atomic"
	"time"

	"arbd/pkg/types"
)

// Cell is one market's book cache entry. Exactly one goroutine (the owning
// venue adapter's reader loop) may call Apply; all other code reads via
// Load, which never blocks a writer and never blocks other readers.
type Cell struct {
	ptr atomic.Pointer[types.BookSnapshot]
}

// Apply installs a new snapshot if it passes the monotonicity and
// crossing invariants. Returns false (and drops the snapshot) if its
// sequence number is not newer than the one already stored, or if the
// book is crossed.
func (c *Cell) Apply(snap types.BookSnapshot) bool {
	if !snap.Valid() {
		return false
	}
	cur := c.ptr.Load()
	if cur != nil && snap.SequenceNo <= cur.SequenceNo {
		return false
	}
	c.ptr.Store(&snap)
	return true
}

// Load returns the current snapshot and whether one has ever been applied.
func (c *Cell) Load() (types.BookSnapshot, bool) {
	p := c.ptr.Load()
	if p == nil {
		return types.BookSnapshot{}, false
	}
	return *p, true
}

// IsStale reports whether the cell's snapshot is older than maxAge, or has
// never been populated.
func (c *Cell) IsStale(maxAge time.Duration) bool {
	p := c.ptr.Load()
	if p == nil {
		return true
	}
	return time.Since(p.ReceivedAt) > maxAge
}

// Cache holds one Cell per market and one BarRing per market. Adding a new
// market (on first subscribe) is the only mutating operation on the map
// itself; it is guarded by a mutex, but reads of an existing Cell/BarRing
// pointer never take that lock.
type Cache struct {
	mu    sync.RWMutex
	cells map[string]*Cell
	bars  map[string]*BarRing

	barDuration time.Duration
	barRetain   time.Duration
}

// NewCache creates a book cache. barDuration and barRetain configure every
// market's BarRing (spec defaults: 5s bars, 10m retention).
func NewCache(barDuration, barRetain time.Duration) *Cache {
	return &Cache{
		cells:       make(map[string]*Cell),
		bars:        make(map[string]*BarRing),
		barDuration: barDuration,
		barRetain:   barRetain,
	}
}

// Cell returns (creating if necessary) the book cell for a market.
func (c *Cache) Cell(marketRef string) *Cell {
	c.mu.RLock()
	cell, ok := c.cells[marketRef]
	c.mu.RUnlock()
	if ok {
		return cell
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if cell, ok := c.cells[marketRef]; ok {
		return cell
	}
	cell = &Cell{}
	c.cells[marketRef] = cell
	return cell
}

// Bars returns (creating if necessary) the mid-price bar ring for a market.
func (c *Cache) Bars(marketRef string) *BarRing {
	c.mu.RLock()
	ring, ok := c.bars[marketRef]
	c.mu.RUnlock()
	if ok {
		return ring
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if ring, ok := c.bars[marketRef]; ok {
		return ring
	}
	ring = NewBarRing(c.barDuration, c.barRetain)
	c.bars[marketRef] = ring
	return ring
}

// Apply applies a snapshot to the named market's cell and feeds its mid
// price (if the book is two-sided) into the market's bar ring. Returns
// whether the snapshot was accepted.
func (c *Cache) Apply(marketRef string, snap types.BookSnapshot) bool {
	accepted := c.Cell(marketRef).Apply(snap)
	if accepted {
		if mid, ok := snap.Mid(); ok {
			c.Bars(marketRef).AddTick(snap.VenueTS, mid)
		}
	}
	return accepted
}

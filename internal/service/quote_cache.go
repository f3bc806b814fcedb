package service

import (
	"sort"
	"sync"

	"cfd_engine/internal/domain"
)

// QuoteCache holds the latest quote per asset. Last write wins.
type QuoteCache struct {
	mu     sync.RWMutex
	quotes map[string]domain.Quote
}

// NewQuoteCache creates an empty cache
func NewQuoteCache() *QuoteCache {
	return &QuoteCache{
		quotes: make(map[string]domain.Quote),
	}
}

// Update replaces the quote of q.Asset unconditionally
func (c *QuoteCache) Update(q domain.Quote) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.quotes[q.Asset] = q
}

// Get returns the latest quote. ok is false when the price is unknown.
func (c *QuoteCache) Get(asset string) (domain.Quote, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	q, ok := c.quotes[asset]
	return q, ok
}

// All returns a copy of every quote keyed by asset
func (c *QuoteCache) All() map[string]domain.Quote {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]domain.Quote, len(c.quotes))
	for k, v := range c.quotes {
		out[k] = v
	}
	return out
}

// List returns every quote sorted by asset
func (c *QuoteCache) List() []domain.Quote {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]domain.Quote, 0, len(c.quotes))
	for _, q := range c.quotes {
		result = append(result, q)
	}

	// Sort by asset for consistent ordering
	sort.Slice(result, func(i, j int) bool {
		return result[i].Asset < result[j].Asset
	})

	return result
}

package service

import (
	"sync"
	"testing"

	"cfd_engine/internal/domain"
)

func TestQuoteCache_Update(t *testing.T) {
	c := NewQuoteCache()

	if _, ok := c.Get("BTC"); ok {
		t.Fatal("BTC should be unknown before the first update")
	}

	c.Update(domain.Quote{Asset: "BTC", Bid: 4500000, Ask: 4501000, DecimalScale: 2})
	c.Update(domain.Quote{Asset: "BTC", Bid: 4400000, Ask: 4401000, DecimalScale: 2})

	btc, ok := c.Get("BTC")
	if !ok {
		t.Fatal("BTC quote should exist")
	}
	if btc.Bid != 4400000 || btc.Ask != 4401000 {
		t.Errorf("Expected last write to win, got bid=%d ask=%d", btc.Bid, btc.Ask)
	}
}

func TestQuoteCache_List_Sorted(t *testing.T) {
	c := NewQuoteCache()

	// Add in unsorted order
	for _, asset := range []string{"SOL", "BTC", "ETH"} {
		c.Update(domain.Quote{Asset: asset, Bid: 1, Ask: 2})
	}

	all := c.List()
	if len(all) != 3 {
		t.Fatalf("Expected 3 items, got %d", len(all))
	}
	if all[0].Asset != "BTC" || all[1].Asset != "ETH" || all[2].Asset != "SOL" {
		t.Errorf("Not sorted: %s, %s, %s", all[0].Asset, all[1].Asset, all[2].Asset)
	}
}

func TestQuoteCache_AllIsCopy(t *testing.T) {
	c := NewQuoteCache()
	c.Update(domain.Quote{Asset: "ETH", Bid: 1, Ask: 2})

	snap := c.All()
	snap["ETH"] = domain.Quote{Asset: "ETH", Bid: 99}

	eth, _ := c.Get("ETH")
	if eth.Bid != 1 {
		t.Errorf("Expected cache to be unaffected by snapshot writes, got bid=%d", eth.Bid)
	}
}

func TestQuoteCache_ConcurrentAccess(t *testing.T) {
	c := NewQuoteCache()
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(n int64) {
			defer wg.Done()
			c.Update(domain.Quote{Asset: "BTC", Bid: n, Ask: n + 1})
		}(int64(i))
		go func() {
			defer wg.Done()
			c.Get("BTC")
			c.List()
		}()
	}
	wg.Wait()

	if _, ok := c.Get("BTC"); !ok {
		t.Error("BTC should exist after concurrent updates")
	}
}

package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zhangluoma/dydx-trader/internal/markets"
)

const priceTTL = 10 * time.Second

// PriceFetcher is the upstream oracle price query.
type PriceFetcher interface {
	MarketPrice(ctx context.Context, marketID uint32) (float64, error)
}

type priceEntry struct {
	price float64
	at    time.Time
}

// PriceCache serves market prices with a 10s TTL. On fetch failure it falls
// back to the last known price; stale reads are acceptable to every consumer.
type PriceCache struct {
	fetcher PriceFetcher
	table   *markets.Table
	now     func() time.Time

	mu      sync.Mutex
	entries map[string]priceEntry
}

func NewPriceCache(fetcher PriceFetcher, table *markets.Table) *PriceCache {
	return &PriceCache{
		fetcher: fetcher,
		table:   table,
		now:     time.Now,
		entries: make(map[string]priceEntry),
	}
}

func (c *PriceCache) GetPrice(ctx context.Context, ticker string) (float64, error) {
	c.mu.Lock()
	entry, cached := c.entries[ticker]
	c.mu.Unlock()

	if cached && c.now().Sub(entry.at) < priceTTL {
		return entry.price, nil
	}

	market, ok := c.table.ByTicker(ticker)
	if !ok {
		return 0, fmt.Errorf("no market table entry for %s", ticker)
	}

	price, err := c.fetcher.MarketPrice(ctx, market.ClobPairID)
	if err != nil {
		if cached {
			return entry.price, nil
		}
		return 0, fmt.Errorf("fetch price %s: %w", ticker, err)
	}

	c.mu.Lock()
	c.entries[ticker] = priceEntry{price: price, at: c.now()}
	c.mu.Unlock()
	return price, nil
}

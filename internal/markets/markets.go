// Package markets holds the static perpetual market table and the scaling
// between raw chain integers (quantums, subticks) and human units.
package markets

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/zhangluoma/dydx-trader/internal/config"
)

type Market struct {
	Ticker           string
	ClobPairID       uint32
	AtomicResolution int32
	TicksPerDollar   float64
}

// MarketID is the external identifier of the perpetual market.
func (m Market) MarketID() string {
	return m.Ticker + "-USD"
}

// SizeFromQuantums scales a raw quantum count into coin units:
// size = quantums * 10^atomicResolution.
func (m Market) SizeFromQuantums(quantums *big.Int) float64 {
	d := decimal.NewFromBigInt(quantums, m.AtomicResolution)
	f, _ := d.Float64()
	return f
}

// QuantumsFromSize is the inverse scaling, truncated to whole quantums.
func (m Market) QuantumsFromSize(size float64) uint64 {
	d := decimal.NewFromFloat(size).Shift(-m.AtomicResolution).Truncate(0)
	return d.BigInt().Uint64()
}

// PriceFromSubticks scales a raw subtick count into dollars.
func (m Market) PriceFromSubticks(subticks uint64) float64 {
	d := decimal.NewFromUint64(subticks).Div(decimal.NewFromFloat(m.TicksPerDollar))
	f, _ := d.Float64()
	return f
}

// SubticksFromPrice converts a reference dollar price into subticks.
func (m Market) SubticksFromPrice(price float64) uint64 {
	d := decimal.NewFromFloat(price).Mul(decimal.NewFromFloat(m.TicksPerDollar)).Round(0)
	return d.BigInt().Uint64()
}

// Table indexes markets by ticker and by clob pair id.
type Table struct {
	byTicker map[string]Market
	byPair   map[uint32]Market
	tickers  []string
}

func NewTable(entries []config.MarketConfig) (*Table, error) {
	t := &Table{
		byTicker: make(map[string]Market, len(entries)),
		byPair:   make(map[uint32]Market, len(entries)),
	}
	for _, e := range entries {
		m := Market{
			Ticker:           e.Ticker,
			ClobPairID:       e.ClobPairID,
			AtomicResolution: e.AtomicResolution,
			TicksPerDollar:   e.TicksPerDollar,
		}
		if _, dup := t.byTicker[m.Ticker]; dup {
			return nil, fmt.Errorf("duplicate market %s", m.Ticker)
		}
		if _, dup := t.byPair[m.ClobPairID]; dup {
			return nil, fmt.Errorf("duplicate clob pair id %d", m.ClobPairID)
		}
		t.byTicker[m.Ticker] = m
		t.byPair[m.ClobPairID] = m
		t.tickers = append(t.tickers, m.Ticker)
	}
	return t, nil
}

func (t *Table) ByTicker(ticker string) (Market, bool) {
	m, ok := t.byTicker[ticker]
	return m, ok
}

func (t *Table) ByClobPairID(id uint32) (Market, bool) {
	m, ok := t.byPair[id]
	return m, ok
}

func (t *Table) Tickers() []string {
	return t.tickers
}

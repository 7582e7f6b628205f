// Package engine is the per-tick decision core: it gates signals, ranks the
// surviving candidates, and sizes the orders handed to the executor.
package engine

import (
	"context"
	"math"
	"sort"

	"github.com/zhangluoma/dydx-trader/internal/config"
	"github.com/zhangluoma/dydx-trader/internal/logger"
	"github.com/zhangluoma/dydx-trader/internal/signal"
	"github.com/zhangluoma/dydx-trader/internal/storage"
)

// PriceSource supplies the current reference price for a ticker. The 10s TTL
// cache in the executor package implements it.
type PriceSource interface {
	GetPrice(ctx context.Context, ticker string) (float64, error)
}

// Candidate is one order the engine wants opened this tick.
type Candidate struct {
	Ticker string
	Side   string // LONG or SHORT
	Size   float64
	Price  float64
	Signal signal.Signal
}

type Engine struct {
	provider signal.Provider
	prices   PriceSource
	cfg      *config.TradingConfig
	logger   *logger.Logger
}

func New(provider signal.Provider, prices PriceSource, cfg *config.TradingConfig, log *logger.Logger) *Engine {
	return &Engine{provider: provider, prices: prices, cfg: cfg, logger: log}
}

// SelectCandidates runs one decision pass over the universe. Provider errors
// degrade the ticker to NEUTRAL; price failures skip the ticker for this tick.
func (e *Engine) SelectCandidates(ctx context.Context, equity float64, openTrades []storage.Trade) []Candidate {
	openCost := 0.0
	held := make(map[string]bool, len(openTrades))
	for _, t := range openTrades {
		held[t.Ticker] = true
		openCost += t.Size * t.EntryPrice
	}

	available := equity*e.cfg.MaxPositionRatio - openCost
	if available < e.cfg.MinTradeSizeUSD {
		e.logger.Debug("no capital headroom", "available", available)
		return nil
	}

	slots := e.cfg.MaxPositions - len(openTrades)
	if slots <= 0 {
		e.logger.Debug("max positions reached", "open", len(openTrades))
		return nil
	}

	var passing []signal.Signal
	for _, ticker := range e.cfg.Universe {
		if held[ticker] {
			continue
		}
		sig, err := e.provider.GetSignal(ctx, ticker)
		if err != nil {
			e.logger.Warn("signal provider failed, degrading to neutral", "ticker", ticker, "error", err)
			sig = signal.NeutralSignal(ticker)
		}
		if sig.Type == signal.Neutral {
			continue
		}
		if sig.Strength < e.cfg.MinSignalStrength || sig.Confidence < e.cfg.MinSignalConfidence {
			continue
		}
		passing = append(passing, sig)
	}

	sort.SliceStable(passing, func(i, j int) bool {
		return passing[i].FinalScore > passing[j].FinalScore
	})
	if len(passing) > slots {
		passing = passing[:slots]
	}

	var candidates []Candidate
	for _, sig := range passing {
		price, err := e.prices.GetPrice(ctx, sig.Ticker)
		if err != nil {
			e.logger.Warn("no price available, skipping ticker", "ticker", sig.Ticker, "error", err)
			continue
		}

		size, value, ok := e.sizePosition(equity, sig.FinalScore, price)
		if !ok {
			e.logger.Info("candidate below minimum trade size", "ticker", sig.Ticker, "value", value)
			continue
		}
		if value > available {
			e.logger.Info("candidate exceeds remaining capital", "ticker", sig.Ticker, "value", value, "available", available)
			continue
		}
		available -= value

		side := storage.SideLong
		if sig.Type == signal.Sell {
			side = storage.SideShort
		}
		candidates = append(candidates, Candidate{
			Ticker: sig.Ticker,
			Side:   side,
			Size:   size,
			Price:  price,
			Signal: sig,
		})
	}
	return candidates
}

// sizePosition maps final score to a fraction of equity, clamps the notional
// to the single-position cap, and converts to coin size at 3 decimals.
func (e *Engine) sizePosition(equity, finalScore, price float64) (size, value float64, ok bool) {
	var basePct float64
	switch {
	case finalScore >= 0.5:
		basePct = 0.10 + 0.10*finalScore
	case finalScore >= 0.3:
		basePct = 0.07
	default:
		basePct = 0.05
	}

	value = math.Min(equity*basePct, equity*e.cfg.MaxSinglePositionRatio)
	value = math.Max(value, e.cfg.MinTradeSizeUSD*1.2)

	size = math.Round(value/price*1000) / 1000
	if size < 0.001 {
		size = 0.001
	}
	if size*price < e.cfg.MinTradeSizeUSD {
		return 0, size * price, false
	}
	return size, size * price, true
}

// Package executor owns order submission and the open-position lifecycle:
// entries, per-tick monitoring, and exits.
package executor

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/zhangluoma/dydx-trader/internal/config"
	"github.com/zhangluoma/dydx-trader/internal/dydx"
	"github.com/zhangluoma/dydx-trader/internal/engine"
	"github.com/zhangluoma/dydx-trader/internal/logger"
	"github.com/zhangluoma/dydx-trader/internal/markets"
	"github.com/zhangluoma/dydx-trader/internal/metrics"
	"github.com/zhangluoma/dydx-trader/internal/storage"
	"github.com/zhangluoma/dydx-trader/internal/telegram"
)

// OrderSubmitter places a signed taker order and returns the tx hash. The
// dydx gateway is the live implementation; DryRunGateway logs instead.
type OrderSubmitter interface {
	PlaceOrder(ctx context.Context, req dydx.OrderRequest) (string, error)
}

type Executor struct {
	gateway  OrderSubmitter
	repo     *storage.Repository
	prices   *PriceCache
	notifier *telegram.Notifier
	table    *markets.Table
	cfg      *config.TradingConfig
	logger   *logger.Logger
	now      func() time.Time
}

func New(
	gateway OrderSubmitter,
	repo *storage.Repository,
	prices *PriceCache,
	notifier *telegram.Notifier,
	table *markets.Table,
	cfg *config.TradingConfig,
	log *logger.Logger,
) *Executor {
	return &Executor{
		gateway:  gateway,
		repo:     repo,
		prices:   prices,
		notifier: notifier,
		table:    table,
		cfg:      cfg,
		logger:   log,
		now:      time.Now,
	}
}

// Open submits entry orders for the tick's candidates. A submission failure
// drops the candidate; the position record is only written after the
// broadcast succeeds, and the scanner later reconciles it against the
// observed on-chain fill by client id.
func (e *Executor) Open(ctx context.Context, candidates []engine.Candidate) {
	for _, cand := range candidates {
		if err := e.openOne(ctx, cand); err != nil {
			metrics.OrdersRejected.Inc()
			e.logger.Error("open order failed", "ticker", cand.Ticker, "error", err)
			e.notifier.NotifyError("OPEN "+cand.Ticker, err)
		}
	}
}

func (e *Executor) openOne(ctx context.Context, cand engine.Candidate) error {
	// At most one open position per ticker; re-check right before submit in
	// case a close retry re-opened state mid-tick.
	if existing, _ := e.repo.GetOpenTradeByTicker(cand.Ticker); existing != nil {
		e.logger.Info("open skipped: position already held", "ticker", cand.Ticker)
		return nil
	}

	market, ok := e.table.ByTicker(cand.Ticker)
	if !ok {
		return fmt.Errorf("no market table entry for %s", cand.Ticker)
	}

	clientID := newClientID()
	side := dydx.SideBuy
	if cand.Side == storage.SideShort {
		side = dydx.SideSell
	}

	req := dydx.OrderRequest{
		ClobPairID:  market.ClobPairID,
		Side:        side,
		Quantums:    market.QuantumsFromSize(cand.Size),
		Subticks:    market.SubticksFromPrice(cand.Price),
		ClientID:    clientID,
		TimeInForce: dydx.TimeInForceIOC,
		ReduceOnly:  false,
	}

	if _, err := e.gateway.PlaceOrder(ctx, req); err != nil {
		return err
	}

	trade := &storage.Trade{
		Ticker:       cand.Ticker,
		Side:         cand.Side,
		Size:         cand.Size,
		EntryPrice:   cand.Price,
		CurrentPrice: cand.Price,
		ClientID:     clientID,
		OpenedAt:     e.now().UTC(),
		Status:       storage.StatusOpen,
		SignalScore:  cand.Signal.FinalScore,
	}
	if err := e.repo.SaveTrade(trade); err != nil {
		return fmt.Errorf("persist trade: %w", err)
	}

	metrics.OrdersSubmitted.WithLabelValues(cand.Side, "open").Inc()
	e.notifier.NotifyOpen(cand.Ticker, cand.Side, cand.Size, cand.Price, cand.Signal.FinalScore)
	e.logger.Info("position opened",
		"ticker", cand.Ticker, "side", cand.Side, "size", cand.Size,
		"entry", cand.Price, "client_id", clientID, "score", cand.Signal.FinalScore)
	return nil
}

// Monitor walks every open position, refreshes its running P&L state, and
// closes it when an exit condition fires. A failed close keeps the position
// open; the next tick retries.
func (e *Executor) Monitor(ctx context.Context) {
	trades, err := e.repo.GetOpenTrades()
	if err != nil {
		e.logger.Error("load open trades", "error", err)
		return
	}
	metrics.OpenPositions.Set(float64(len(trades)))

	for i := range trades {
		trade := &trades[i]
		price, err := e.prices.GetPrice(ctx, trade.Ticker)
		if err != nil {
			e.logger.Warn("no price for open position, skipping", "ticker", trade.Ticker, "error", err)
			continue
		}

		pnlPct := pnlPercent(trade.Side, trade.EntryPrice, price)
		trade.CurrentPrice = price
		if pnlPct > trade.MaxPnLPercent {
			trade.MaxPnLPercent = pnlPct
		}
		if err := e.repo.UpdateTrade(trade); err != nil {
			e.logger.Error("update trade state", "ticker", trade.Ticker, "error", err)
			continue
		}

		reason, exit := evaluateExit(exitInput{
			PnlPct:          pnlPct,
			MaxPnlPct:       trade.MaxPnLPercent,
			HoursHeld:       e.now().Sub(trade.OpenedAt).Hours(),
			StopLossPct:     e.cfg.StopLossPercent,
			TakeProfitPct:   e.cfg.TakeProfitPercent,
			HoldHours:       e.cfg.HoldDurationHours,
			MaxHoldHours:    e.cfg.MaxHoldDurationHours,
			TrailingTrigger: e.cfg.TrailingStopTrigger,
		})
		if !exit {
			continue
		}

		if err := e.close(ctx, trade, price, pnlPct, reason); err != nil {
			e.logger.Error("close order failed, will retry next tick",
				"ticker", trade.Ticker, "reason", reason, "error", err)
			e.notifier.NotifyError("CLOSE "+trade.Ticker, err)
		}
	}
}

func (e *Executor) close(ctx context.Context, trade *storage.Trade, price, pnlPct float64, reason string) error {
	market, ok := e.table.ByTicker(trade.Ticker)
	if !ok {
		return fmt.Errorf("no market table entry for %s", trade.Ticker)
	}

	// Close on the opposite side, reduce-only, exactly the position size.
	side := dydx.SideSell
	if trade.Side == storage.SideShort {
		side = dydx.SideBuy
	}

	req := dydx.OrderRequest{
		ClobPairID:  market.ClobPairID,
		Side:        side,
		Quantums:    market.QuantumsFromSize(trade.Size),
		Subticks:    market.SubticksFromPrice(price),
		ClientID:    newClientID(),
		TimeInForce: dydx.TimeInForceIOC,
		ReduceOnly:  true,
	}

	if _, err := e.gateway.PlaceOrder(ctx, req); err != nil {
		return err
	}

	now := e.now().UTC()
	pnl := (price - trade.EntryPrice) * trade.Size
	if trade.Side == storage.SideShort {
		pnl = -pnl
	}

	trade.Status = storage.StatusClosed
	trade.ClosedAt = &now
	trade.ClosePrice = price
	trade.CurrentPrice = price
	trade.CloseReason = reason
	trade.PnL = pnl
	trade.PnLPercent = pnlPct
	// The broadcast already went out; a transient store error must not force a
	// second broadcast next tick, so the write itself is retried here.
	err := persistWithRetry(closePersistAttempts, closePersistDelay, func() error {
		return e.repo.UpdateTrade(trade)
	})
	if err != nil {
		return fmt.Errorf("persist close: %w", err)
	}

	metrics.OrdersSubmitted.WithLabelValues(trade.Side, "close").Inc()
	metrics.PositionsClosed.WithLabelValues(reason).Inc()
	e.notifier.NotifyClose(trade.Ticker, trade.Side, reason, price, pnl, pnlPct)
	e.logger.Info("position closed",
		"ticker", trade.Ticker, "reason", reason, "exit", price,
		"pnl", pnl, "pnl_pct", pnlPct)
	return nil
}

const (
	closePersistAttempts = 3
	closePersistDelay    = 100 * time.Millisecond
)

// persistWithRetry retries a store write a bounded number of times with a
// fixed delay, returning the last error when every attempt fails.
func persistWithRetry(attempts int, delay time.Duration, write func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = write(); err == nil {
			return nil
		}
		if i < attempts-1 {
			time.Sleep(delay)
		}
	}
	return err
}

// newClientID draws a uniform random 32-bit order correlation id.
func newClientID() uint32 {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand failure is effectively unreachable; fall back to time.
		return uint32(time.Now().UnixNano())
	}
	return binary.BigEndian.Uint32(b[:])
}

// DryRunGateway satisfies OrderSubmitter without broadcasting anything.
type DryRunGateway struct {
	Logger *logger.Logger
}

func (g *DryRunGateway) PlaceOrder(_ context.Context, req dydx.OrderRequest) (string, error) {
	g.Logger.Info("dry-run: order not broadcast",
		"client_id", req.ClientID, "clob_pair_id", req.ClobPairID,
		"side", req.Side, "quantums", req.Quantums, "reduce_only", req.ReduceOnly)
	return fmt.Sprintf("DRYRUN-%08X", req.ClientID), nil
}

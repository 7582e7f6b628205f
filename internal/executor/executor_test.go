package executor

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/zhangluoma/dydx-trader/internal/config"
	"github.com/zhangluoma/dydx-trader/internal/dydx"
	"github.com/zhangluoma/dydx-trader/internal/engine"
	"github.com/zhangluoma/dydx-trader/internal/logger"
	"github.com/zhangluoma/dydx-trader/internal/markets"
	"github.com/zhangluoma/dydx-trader/internal/signal"
	"github.com/zhangluoma/dydx-trader/internal/storage"
	"github.com/zhangluoma/dydx-trader/internal/telegram"
)

type stubGateway struct {
	reqs []dydx.OrderRequest
	err  error
}

func (g *stubGateway) PlaceOrder(_ context.Context, req dydx.OrderRequest) (string, error) {
	if g.err != nil {
		return "", g.err
	}
	g.reqs = append(g.reqs, req)
	return "TXHASH", nil
}

var testClock = time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

func newTestExecutor(t *testing.T, gw *stubGateway, prices map[uint32]float64) (*Executor, *storage.Repository) {
	t.Helper()

	db, err := storage.NewDatabase(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewDatabase: %v", err)
	}
	repo := storage.NewRepository(db)

	table, err := markets.NewTable(config.DefaultMarkets())
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}

	log := logger.New("error")
	cache := NewPriceCache(&fakeFetcher{prices: prices}, table)

	cfg := &config.TradingConfig{
		StopLossPercent:      0.05,
		TakeProfitPercent:    0.10,
		HoldDurationHours:    4,
		MaxHoldDurationHours: 8,
		TrailingStopTrigger:  0.05,
	}

	exec := New(gw, repo, cache, telegram.NewNotifier(&config.Config{}, log), table, cfg, log)
	exec.now = func() time.Time { return testClock }
	return exec, repo
}

func btcCandidate() engine.Candidate {
	return engine.Candidate{
		Ticker: "BTC",
		Side:   storage.SideLong,
		Size:   0.001,
		Price:  76000,
		Signal: signal.Signal{Ticker: "BTC", Type: signal.Buy, FinalScore: 0.62},
	}
}

func TestOpenPersistsTrade(t *testing.T) {
	gw := &stubGateway{}
	exec, repo := newTestExecutor(t, gw, map[uint32]float64{0: 76000})

	exec.Open(context.Background(), []engine.Candidate{btcCandidate()})

	if len(gw.reqs) != 1 {
		t.Fatalf("gateway calls = %d, want 1", len(gw.reqs))
	}
	req := gw.reqs[0]
	if req.ClobPairID != 0 || req.Side != dydx.SideBuy {
		t.Errorf("order = pair %d side %d", req.ClobPairID, req.Side)
	}
	if req.Quantums != 10_000_000 {
		t.Errorf("quantums = %d, want 10000000", req.Quantums)
	}
	if req.Subticks != 7_600_000 {
		t.Errorf("subticks = %d, want 7600000", req.Subticks)
	}
	if req.TimeInForce != dydx.TimeInForceIOC || req.ReduceOnly {
		t.Errorf("time in force %d reduce only %v", req.TimeInForce, req.ReduceOnly)
	}

	trade, err := repo.GetOpenTradeByTicker("BTC")
	if err != nil {
		t.Fatalf("trade not persisted: %v", err)
	}
	if trade.ClientID != req.ClientID {
		t.Errorf("trade client id %d, order client id %d", trade.ClientID, req.ClientID)
	}
	if trade.Status != storage.StatusOpen || trade.Side != storage.SideLong {
		t.Errorf("trade = %s %s", trade.Status, trade.Side)
	}
	if trade.SignalScore != 0.62 {
		t.Errorf("signal score = %v", trade.SignalScore)
	}
}

func TestOpenGatewayFailureLeavesNoTrade(t *testing.T) {
	gw := &stubGateway{err: fmt.Errorf("broadcast failed: code 5")}
	exec, repo := newTestExecutor(t, gw, map[uint32]float64{0: 76000})

	exec.Open(context.Background(), []engine.Candidate{btcCandidate()})

	if _, err := repo.GetOpenTradeByTicker("BTC"); err == nil {
		t.Error("trade persisted despite failed broadcast")
	}
}

func TestOpenSkipsHeldTicker(t *testing.T) {
	gw := &stubGateway{}
	exec, repo := newTestExecutor(t, gw, map[uint32]float64{0: 76000})

	seed := &storage.Trade{
		Ticker: "BTC", Side: storage.SideLong, Size: 0.002, EntryPrice: 70000,
		OpenedAt: testClock.Add(-time.Hour), Status: storage.StatusOpen,
	}
	if err := repo.SaveTrade(seed); err != nil {
		t.Fatalf("seed trade: %v", err)
	}

	exec.Open(context.Background(), []engine.Candidate{btcCandidate()})

	if len(gw.reqs) != 0 {
		t.Errorf("gateway called %d times for an already held ticker", len(gw.reqs))
	}
}

func openTrade(t *testing.T, repo *storage.Repository, ticker, side string, size, entry float64, held time.Duration, maxPnl float64) *storage.Trade {
	t.Helper()
	trade := &storage.Trade{
		Ticker: ticker, Side: side, Size: size, EntryPrice: entry, CurrentPrice: entry,
		OpenedAt: testClock.Add(-held), Status: storage.StatusOpen, MaxPnLPercent: maxPnl,
	}
	if err := repo.SaveTrade(trade); err != nil {
		t.Fatalf("seed trade: %v", err)
	}
	return trade
}

func TestMonitorStopLossClosesPosition(t *testing.T) {
	gw := &stubGateway{}
	exec, repo := newTestExecutor(t, gw, map[uint32]float64{0: 72000})
	openTrade(t, repo, "BTC", storage.SideLong, 0.001, 76000, time.Hour, 0)

	exec.Monitor(context.Background())

	if len(gw.reqs) != 1 {
		t.Fatalf("gateway calls = %d, want 1", len(gw.reqs))
	}
	req := gw.reqs[0]
	if req.Side != dydx.SideSell {
		t.Errorf("close side = %d, want sell", req.Side)
	}
	if !req.ReduceOnly {
		t.Error("close order must be reduce-only")
	}
	if req.Quantums != 10_000_000 {
		t.Errorf("close quantums = %d, want full position", req.Quantums)
	}

	trades, _ := repo.GetRecentTrades(1)
	if len(trades) != 1 {
		t.Fatal("trade missing")
	}
	got := trades[0]
	if got.Status != storage.StatusClosed || got.CloseReason != storage.CloseStopLoss {
		t.Errorf("trade = %s %s", got.Status, got.CloseReason)
	}
	if got.ClosePrice != 72000 || got.ClosedAt == nil {
		t.Errorf("close price %v, closed at %v", got.ClosePrice, got.ClosedAt)
	}
	if math.Abs(got.PnL-(-4)) > 1e-9 {
		t.Errorf("pnl = %v, want -4", got.PnL)
	}
}

func TestMonitorTakeProfitShort(t *testing.T) {
	gw := &stubGateway{}
	exec, repo := newTestExecutor(t, gw, map[uint32]float64{1: 2000})
	openTrade(t, repo, "ETH", storage.SideShort, 0.1, 2300, time.Hour, 0)

	exec.Monitor(context.Background())

	if len(gw.reqs) != 1 {
		t.Fatalf("gateway calls = %d, want 1", len(gw.reqs))
	}
	if gw.reqs[0].Side != dydx.SideBuy || !gw.reqs[0].ReduceOnly {
		t.Errorf("short close = side %d reduce only %v", gw.reqs[0].Side, gw.reqs[0].ReduceOnly)
	}

	trades, _ := repo.GetRecentTrades(1)
	got := trades[0]
	if got.CloseReason != storage.CloseTakeProfit {
		t.Errorf("reason = %s", got.CloseReason)
	}
	// Short from 2300 covered at 2000: +300 per coin on 0.1.
	if math.Abs(got.PnL-30) > 1e-9 {
		t.Errorf("pnl = %v, want 30", got.PnL)
	}
}

func TestMonitorCloseFailureKeepsPositionOpen(t *testing.T) {
	gw := &stubGateway{err: fmt.Errorf("sequence mismatch")}
	exec, repo := newTestExecutor(t, gw, map[uint32]float64{0: 72000})
	openTrade(t, repo, "BTC", storage.SideLong, 0.001, 76000, time.Hour, 0)

	exec.Monitor(context.Background())

	trade, err := repo.GetOpenTradeByTicker("BTC")
	if err != nil {
		t.Fatalf("position must stay open after a failed close: %v", err)
	}
	// The running state still refreshes even when the close fails.
	if trade.CurrentPrice != 72000 {
		t.Errorf("current price = %v, want 72000", trade.CurrentPrice)
	}
	if trade.CloseReason != "" || trade.ClosedAt != nil {
		t.Errorf("terminal fields set on an open trade: %q %v", trade.CloseReason, trade.ClosedAt)
	}
}

func TestMonitorTrailingStop(t *testing.T) {
	gw := &stubGateway{}
	exec, repo := newTestExecutor(t, gw, map[uint32]float64{1: 2290})
	// Peaked at 2450 earlier: max P&L 6.52% is already recorded.
	openTrade(t, repo, "ETH", storage.SideLong, 0.5, 2300, 2*time.Hour, 6.52)

	exec.Monitor(context.Background())

	trades, _ := repo.GetRecentTrades(1)
	got := trades[0]
	if got.Status != storage.StatusClosed || got.CloseReason != storage.CloseTrailingStop {
		t.Errorf("trade = %s %s", got.Status, got.CloseReason)
	}
	// The peak survives the close record.
	if got.MaxPnLPercent < 6.5 {
		t.Errorf("max pnl pct = %v", got.MaxPnLPercent)
	}
}

func TestMonitorHealthyPositionUpdatesState(t *testing.T) {
	gw := &stubGateway{}
	exec, repo := newTestExecutor(t, gw, map[uint32]float64{0: 77000})
	openTrade(t, repo, "BTC", storage.SideLong, 0.001, 76000, time.Hour, 0)

	exec.Monitor(context.Background())

	if len(gw.reqs) != 0 {
		t.Errorf("gateway called %d times for a healthy position", len(gw.reqs))
	}
	trade, err := repo.GetOpenTradeByTicker("BTC")
	if err != nil {
		t.Fatalf("trade: %v", err)
	}
	if trade.CurrentPrice != 77000 {
		t.Errorf("current price = %v", trade.CurrentPrice)
	}
	want := pnlPercent(storage.SideLong, 76000, 77000)
	if math.Abs(trade.MaxPnLPercent-want) > 1e-9 {
		t.Errorf("max pnl pct = %v, want %v", trade.MaxPnLPercent, want)
	}
}

func TestPersistWithRetry(t *testing.T) {
	calls := 0
	err := persistWithRetry(3, 0, func() error {
		calls++
		if calls < 3 {
			return fmt.Errorf("database is locked")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("retry should have recovered: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}

	calls = 0
	err = persistWithRetry(3, 0, func() error {
		calls++
		return fmt.Errorf("database is locked")
	})
	if err == nil {
		t.Fatal("expected the last error after exhausted attempts")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want bounded at 3", calls)
	}
}

func TestDryRunGateway(t *testing.T) {
	gw := &DryRunGateway{Logger: logger.New("error")}
	hash, err := gw.PlaceOrder(context.Background(), dydx.OrderRequest{ClientID: 0xAB})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if hash != "DRYRUN-000000AB" {
		t.Errorf("hash = %q", hash)
	}
}

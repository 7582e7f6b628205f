package scheduler

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/zhangluoma/dydx-trader/internal/config"
	"github.com/zhangluoma/dydx-trader/internal/dydx"
	"github.com/zhangluoma/dydx-trader/internal/engine"
	"github.com/zhangluoma/dydx-trader/internal/executor"
	"github.com/zhangluoma/dydx-trader/internal/logger"
	"github.com/zhangluoma/dydx-trader/internal/markets"
	"github.com/zhangluoma/dydx-trader/internal/signal"
	"github.com/zhangluoma/dydx-trader/internal/storage"
	"github.com/zhangluoma/dydx-trader/internal/telegram"
)

type offlineFetcher struct{}

func (offlineFetcher) MarketPrice(_ context.Context, _ uint32) (float64, error) {
	return 0, fmt.Errorf("no feed")
}

type offlineSubaccounts struct{}

func (offlineSubaccounts) GetSubaccount(_ context.Context, _ string, _ uint32) (*dydx.Subaccount, error) {
	return nil, fmt.Errorf("offline")
}

func newTestScheduler(t *testing.T) (*Scheduler, *storage.Repository) {
	t.Helper()

	db, err := storage.NewDatabase(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewDatabase: %v", err)
	}
	repo := storage.NewRepository(db)

	cfg := &config.Config{}
	cfg.Trading.CheckIntervalMs = 10
	cfg.Trading.Universe = []string{"BTC"}
	cfg.Dydx.InitialEquity = 100

	table, err := markets.NewTable(config.DefaultMarkets())
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}

	log := logger.New("error")
	cache := executor.NewPriceCache(offlineFetcher{}, table)
	account := executor.NewAccountReader(offlineSubaccounts{}, cache, table, "", 0, cfg.Dydx.InitialEquity, log)
	notifier := telegram.NewNotifier(cfg, log)

	eng := engine.New(&signal.StaticProvider{}, cache, &cfg.Trading, log)
	exec := executor.New(&executor.DryRunGateway{Logger: log}, repo, cache, notifier, table, &cfg.Trading, log)

	return New(eng, exec, account, repo, notifier, cfg, log), repo
}

// Run must be joinable: after cancellation it finishes the pass in flight and
// returns, so the process can wait on it before tearing down the store.
func TestRunReturnsAfterCancel(t *testing.T) {
	sched, repo := newTestScheduler(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sched.Run(ctx)
		close(done)
	}()

	// The immediate first pass samples networth; wait for it so cancellation
	// lands mid-run rather than before the loop starts.
	deadline := time.After(5 * time.Second)
	for {
		if _, err := repo.GetLatestNetworth(); err == nil {
			break
		}
		select {
		case <-deadline:
			t.Fatal("first networth sample never written")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	sample, err := repo.GetLatestNetworth()
	if err != nil {
		t.Fatalf("networth sample: %v", err)
	}
	// The subaccount query is offline, so the tick ran on bootstrap equity.
	if sample.Equity != 100 {
		t.Errorf("equity = %v, want bootstrap 100", sample.Equity)
	}
}

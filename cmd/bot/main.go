package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/zhangluoma/dydx-trader/internal/config"
	"github.com/zhangluoma/dydx-trader/internal/dydx"
	"github.com/zhangluoma/dydx-trader/internal/engine"
	"github.com/zhangluoma/dydx-trader/internal/executor"
	"github.com/zhangluoma/dydx-trader/internal/logger"
	"github.com/zhangluoma/dydx-trader/internal/markets"
	"github.com/zhangluoma/dydx-trader/internal/scanner"
	"github.com/zhangluoma/dydx-trader/internal/scheduler"
	sig "github.com/zhangluoma/dydx-trader/internal/signal"
	"github.com/zhangluoma/dydx-trader/internal/storage"
	"github.com/zhangluoma/dydx-trader/internal/telegram"
	"github.com/zhangluoma/dydx-trader/internal/web"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	dbPath := flag.String("db", "data/trader.db", "path to SQLite database")
	dryRun := flag.Bool("dry-run", false, "run decision, persistence, and scanning paths without broadcasting orders")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level)

	mode := "LIVE"
	if *dryRun {
		mode = "DRY-RUN"
	} else if err := cfg.RequireMnemonic(); err != nil {
		log.Error("startup failed", "error", err)
		os.Exit(1)
	}
	log.Info("starting dydx-trader", "mode", mode)

	db, err := storage.NewDatabase(*dbPath)
	if err != nil {
		log.Error("database init failed", "error", err)
		os.Exit(1)
	}
	repo := storage.NewRepository(db)

	table, err := markets.NewTable(cfg.Markets)
	if err != nil {
		log.Error("market table init failed", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := dydx.NewClient(cfg.Dydx.ValidatorRestURL, log)

	var (
		gateway executor.OrderSubmitter
		address string
	)
	if cfg.Dydx.Mnemonic != "" {
		wallet, err := dydx.NewWallet(cfg.Dydx.Mnemonic)
		if err != nil {
			log.Error("wallet init failed", "error", err)
			os.Exit(1)
		}
		address = wallet.Address()
		log.Info("operator wallet derived", "address", address)
		if *dryRun {
			gateway = &executor.DryRunGateway{Logger: log}
		} else {
			gateway = dydx.NewGateway(client, wallet, cfg.Dydx.ChainID, cfg.Dydx.SubaccountNumber, log)
		}
	} else {
		// Dry run without a mnemonic: no address, so the scanner observes no
		// fills and account reads fall back to the bootstrap equity.
		log.Warn("no DYDX_MNEMONIC set; scanner will not match any fills")
		gateway = &executor.DryRunGateway{Logger: log}
	}

	prices := executor.NewPriceCache(client, table)
	account := executor.NewAccountReader(client, prices, table, address, cfg.Dydx.SubaccountNumber, cfg.Dydx.InitialEquity, log)
	provider := sig.NewHTTPProvider(cfg.Signals.ProviderURL, cfg.SignalTimeout(), log)
	notifier := telegram.NewNotifier(cfg, log)

	eng := engine.New(provider, prices, &cfg.Trading, log)
	exec := executor.New(gateway, repo, prices, notifier, table, &cfg.Trading, log)
	sched := scheduler.New(eng, exec, account, repo, notifier, cfg, log)
	scan := scanner.New(client, repo, table, address, &cfg.Scanner, log)
	webServer := web.NewServer(repo, cfg, log)

	var workers sync.WaitGroup
	workers.Add(1)
	go func() {
		defer workers.Done()
		sched.Run(ctx)
	}()
	workers.Add(1)
	go func() {
		defer workers.Done()
		if err := scan.RunLive(ctx); err != nil {
			log.Error("live scanner error", "error", err)
		}
	}()
	go func() {
		if err := webServer.Start(); err != nil {
			log.Error("status server error", "error", err)
		}
	}()

	notifier.NotifyStatus(fmt.Sprintf("🤖 dydx-trader started (%s)", mode))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	received := <-sigCh
	log.Info("shutdown signal received", "signal", received.String())

	cancel()
	// The current tick and the current block finish before the store goes away.
	workers.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := webServer.Shutdown(shutdownCtx); err != nil {
		log.Error("status server shutdown error", "error", err)
	}

	notifier.NotifyStatus("🛑 dydx-trader stopped")
	log.Info("dydx-trader stopped")
}

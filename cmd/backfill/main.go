// Command backfill walks the chain backward from a start height and recovers
// historical order placements into the local store. It is run by hand when
// the live tail has left a gap; it never advances the live-tail cursor.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/zhangluoma/dydx-trader/internal/config"
	"github.com/zhangluoma/dydx-trader/internal/dydx"
	"github.com/zhangluoma/dydx-trader/internal/logger"
	"github.com/zhangluoma/dydx-trader/internal/markets"
	"github.com/zhangluoma/dydx-trader/internal/scanner"
	"github.com/zhangluoma/dydx-trader/internal/storage"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	dbPath := flag.String("db", "data/trader.db", "path to SQLite database")
	start := flag.Int64("start", 0, "height to walk back from (0 = persisted state or chain head)")
	max := flag.Int("max", 0, "maximum blocks to process (0 = configured default)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level)

	if cfg.Dydx.Mnemonic == "" {
		log.Error("DYDX_MNEMONIC is required: the back-fill filters blocks by the operator address")
		os.Exit(1)
	}
	wallet, err := dydx.NewWallet(cfg.Dydx.Mnemonic)
	if err != nil {
		log.Error("wallet init failed", "error", err)
		os.Exit(1)
	}

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

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("interrupt received, finishing current block")
		cancel()
	}()

	client := dydx.NewClient(cfg.Dydx.ValidatorRestURL, log)
	scan := scanner.New(client, repo, table, wallet.Address(), &cfg.Scanner, log)

	if err := scan.RunBackfill(ctx, scanner.BackfillOptions{StartHeight: *start, MaxBlocks: *max}); err != nil {
		log.Error("back-fill failed", "error", err)
		os.Exit(1)
	}
}

package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/zhangluoma/dydx-trader/internal/config"
	"github.com/zhangluoma/dydx-trader/internal/engine"
	"github.com/zhangluoma/dydx-trader/internal/executor"
	"github.com/zhangluoma/dydx-trader/internal/logger"
	"github.com/zhangluoma/dydx-trader/internal/metrics"
	"github.com/zhangluoma/dydx-trader/internal/storage"
	"github.com/zhangluoma/dydx-trader/internal/telegram"
)

const networthInterval = time.Hour

// Scheduler drives the trade tick and the hourly networth sample. The block
// scanner runs its own loop; it shares nothing mutable with these ticks
// except the durable store.
type Scheduler struct {
	engine   *engine.Engine
	executor *executor.Executor
	account  *executor.AccountReader
	repo     *storage.Repository
	notifier *telegram.Notifier
	config   *config.Config
	logger   *logger.Logger
}

func New(
	eng *engine.Engine,
	exec *executor.Executor,
	account *executor.AccountReader,
	repo *storage.Repository,
	notifier *telegram.Notifier,
	cfg *config.Config,
	log *logger.Logger,
) *Scheduler {
	return &Scheduler{
		engine:   eng,
		executor: exec,
		account:  account,
		repo:     repo,
		notifier: notifier,
		config:   cfg,
		logger:   log,
	}
}

func (s *Scheduler) Run(ctx context.Context) {
	interval := s.config.CheckInterval()
	tradeTicker := time.NewTicker(interval)
	defer tradeTicker.Stop()
	networthTicker := time.NewTicker(networthInterval)
	defer networthTicker.Stop()

	s.logger.Info("scheduler started", "interval", interval.String())

	// Run immediately on start.
	s.runTradeTick(ctx)
	s.sampleNetworth(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-tradeTicker.C:
			s.runTradeTick(ctx)
		case <-networthTicker.C:
			s.sampleNetworth(ctx)
		}
	}
}

// runTradeTick is one pass of the control loop: read account state, select
// candidates, submit entries, then monitor the open positions for exits.
func (s *Scheduler) runTradeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in trade tick", "panic", fmt.Sprint(r))
			s.notifier.NotifyError("trade tick panic", fmt.Errorf("%v", r))
		}
	}()

	s.logger.Info("trade tick starting")

	account := s.account.Read(ctx)
	metrics.Equity.Set(account.Equity)

	openTrades, err := s.repo.GetOpenTrades()
	if err != nil {
		s.logger.Error("load open trades", "error", err)
		return
	}

	candidates := s.engine.SelectCandidates(ctx, account.Equity, openTrades)
	if len(candidates) > 0 {
		s.logger.Info("candidates selected", "count", len(candidates))
		s.executor.Open(ctx, candidates)
	}

	s.executor.Monitor(ctx)

	s.logger.Info("trade tick completed",
		"equity", account.Equity, "open_positions", len(openTrades))
}

func (s *Scheduler) sampleNetworth(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in networth sample", "panic", fmt.Sprint(r))
		}
	}()

	account := s.account.Read(ctx)
	sample := &storage.NetworthSample{
		Timestamp:       time.Now().UTC(),
		Equity:          account.Equity,
		UsdcBalance:     account.UsdcBalance,
		UsedMargin:      account.UsedMargin,
		AvailableMargin: account.AvailableMargin,
		PositionCount:   account.PositionCount,
	}
	if err := s.repo.SaveNetworthSample(sample); err != nil {
		s.logger.Error("save networth sample", "error", err)
		return
	}
	s.logger.Debug("networth sampled", "equity", account.Equity, "usdc", account.UsdcBalance)
}

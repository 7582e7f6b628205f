// Package scanner tails the chain's block stream, extracts the operator's
// order placements, and persists them with resumable progress.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/zhangluoma/dydx-trader/internal/config"
	"github.com/zhangluoma/dydx-trader/internal/dydx"
	"github.com/zhangluoma/dydx-trader/internal/logger"
	"github.com/zhangluoma/dydx-trader/internal/markets"
	"github.com/zhangluoma/dydx-trader/internal/metrics"
	"github.com/zhangluoma/dydx-trader/internal/storage"
)

const transientErrorPause = 5 * time.Second

// BlockSource is the validator's block stream surface.
type BlockSource interface {
	LatestHeight(ctx context.Context) (int64, error)
	GetBlock(ctx context.Context, height int64) (*dydx.Block, error)
}

type Scanner struct {
	source BlockSource
	repo   *storage.Repository
	table  *markets.Table
	owner  string
	cfg    *config.ScannerConfig
	logger *logger.Logger
}

func New(source BlockSource, repo *storage.Repository, table *markets.Table, owner string, cfg *config.ScannerConfig, log *logger.Logger) *Scanner {
	return &Scanner{
		source: source,
		repo:   repo,
		table:  table,
		owner:  owner,
		cfg:    cfg,
		logger: log,
	}
}

// RunLive polls for new blocks and processes them strictly in ascending
// height order. Progress is durable: a restart resumes from the persisted
// height when the gap is small, otherwise it restarts from the head and
// leaves the gap to an explicit back-fill.
func (s *Scanner) RunLive(ctx context.Context) error {
	next, err := s.resumeHeight(ctx)
	if err != nil {
		return fmt.Errorf("determine resume height: %w", err)
	}
	s.logger.Info("live scan starting", "from_height", next)

	ticker := time.NewTicker(time.Duration(s.cfg.PollIntervalMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("live scan stopped", "next_height", next)
			return nil
		case <-ticker.C:
		}

		latest, err := s.source.LatestHeight(ctx)
		if err != nil {
			s.logger.Warn("latest height query failed", "error", err)
			metrics.ScanErrors.Inc()
			continue
		}

		for next <= latest {
			if ctx.Err() != nil {
				return nil
			}
			if err := s.processBlock(ctx, next, storage.SourceRealtime, true); err != nil {
				metrics.ScanErrors.Inc()
				s.logger.Warn("block processing failed, pausing", "height", next, "error", err)
				sleepCtx(ctx, transientErrorPause)
				break // do not advance; retry the same height next round
			}
			next++
		}
	}
}

// resumeHeight applies the crash-recovery policy: resume when within the
// configured gap of the head, otherwise jump to the head and log the gap.
func (s *Scanner) resumeHeight(ctx context.Context) (int64, error) {
	state, err := s.repo.GetScannerState()
	if err != nil {
		return 0, err
	}
	latest, err := s.source.LatestHeight(ctx)
	if err != nil {
		return 0, err
	}

	if state.LastProcessedHeight == 0 {
		return latest, nil
	}
	if latest-state.LastProcessedHeight > int64(s.cfg.ResumeGapBlocks) {
		s.logger.Warn("resume gap too large, restarting from head; back-fill can recover the gap",
			"last_processed", state.LastProcessedHeight, "latest", latest)
		return latest, nil
	}
	return state.LastProcessedHeight + 1, nil
}

// BackfillOptions controls a historical walk.
type BackfillOptions struct {
	// StartHeight of 0 means: the persisted last processed height, or the
	// current head when no state exists.
	StartHeight int64
	MaxBlocks   int
}

// RunBackfill walks backward from the start height in fixed-size batches,
// persisting fills with the HISTORICAL source. It never advances the live
// tail's last processed height.
func (s *Scanner) RunBackfill(ctx context.Context, opts BackfillOptions) error {
	start := opts.StartHeight
	if start == 0 {
		state, err := s.repo.GetScannerState()
		if err != nil {
			return fmt.Errorf("load scanner state: %w", err)
		}
		start = state.LastProcessedHeight
	}
	if start == 0 {
		latest, err := s.source.LatestHeight(ctx)
		if err != nil {
			return fmt.Errorf("latest height: %w", err)
		}
		start = latest
	}

	maxBlocks := opts.MaxBlocks
	if maxBlocks <= 0 {
		maxBlocks = s.cfg.BackfillMaxBlocks
	}

	blockDelay := time.Duration(s.cfg.BackfillDelayMs) * time.Millisecond
	batchPause := time.Duration(s.cfg.BackfillPauseSec) * time.Second

	s.logger.Info("back-fill starting", "from_height", start, "max_blocks", maxBlocks)

	processed := 0
	for h := start; h > 0 && processed < maxBlocks; {
		batchEnd := h - int64(s.cfg.BackfillBatchSize)
		for ; h > batchEnd && h > 0 && processed < maxBlocks; h-- {
			if ctx.Err() != nil {
				s.logger.Info("back-fill cancelled", "processed", processed)
				return nil
			}
			if err := s.processBlock(ctx, h, storage.SourceHistorical, false); err != nil {
				metrics.ScanErrors.Inc()
				s.logger.Warn("back-fill block failed, skipping", "height", h, "error", err)
			} else {
				processed++
			}
			sleepCtx(ctx, blockDelay)
		}
		if h > 0 && processed < maxBlocks {
			s.logger.Info("back-fill batch done", "next_height", h, "processed", processed)
			sleepCtx(ctx, batchPause)
		}
	}

	s.logger.Info("back-fill complete", "processed", processed)
	return nil
}

// processBlock runs the per-block pipeline: skip when already scanned, fetch,
// decode, persist fills idempotently, mark the block, record progress.
func (s *Scanner) processBlock(ctx context.Context, height int64, source string, advance bool) error {
	scanned, err := s.repo.IsBlockScanned(height)
	if err != nil {
		return fmt.Errorf("check scanned: %w", err)
	}
	if scanned {
		if advance {
			// Already covered (for example by an earlier back-fill); the live
			// tail still has to move its cursor past it.
			if err := s.repo.BumpLastProcessedHeight(height); err != nil {
				return fmt.Errorf("bump cursor: %w", err)
			}
		}
		return nil
	}

	block, err := s.source.GetBlock(ctx, height)
	if err != nil {
		if errors.Is(err, dydx.ErrRateLimited) {
			return fmt.Errorf("rate limited at height %d: %w", height, err)
		}
		return fmt.Errorf("fetch block: %w", err)
	}

	fillsFound := 0
	for _, tx := range block.Txs {
		orders, err := dydx.DecodeTxOrders(tx)
		if err != nil {
			// Malformed tx; the rest of the block is still processed.
			continue
		}
		for _, order := range orders {
			if order.Owner != s.owner {
				continue
			}
			if err := s.persistFill(block, order, source); err != nil {
				return fmt.Errorf("persist fill: %w", err)
			}
			fillsFound++
		}
	}

	if err := s.repo.MarkBlockScanned(height, fillsFound > 0, fillsFound); err != nil {
		return fmt.Errorf("mark block scanned: %w", err)
	}

	if advance {
		err = s.repo.AdvanceScannerState(height, fillsFound)
	} else {
		err = s.repo.RecordBackfillProgress(fillsFound)
	}
	if err != nil {
		return fmt.Errorf("update scanner state: %w", err)
	}

	mode := "live"
	if source == storage.SourceHistorical {
		mode = "backfill"
	}
	metrics.BlocksScanned.WithLabelValues(mode).Inc()
	if fillsFound > 0 {
		metrics.FillsFound.WithLabelValues(mode).Add(float64(fillsFound))
		s.logger.Info("fills found", "height", height, "count", fillsFound, "mode", mode)
	}
	return nil
}

func (s *Scanner) persistFill(block *dydx.Block, order dydx.PlaceOrder, source string) error {
	market, known := s.table.ByClobPairID(order.ClobPairID)

	fill := &storage.Fill{
		Height:      block.Height,
		BlockTime:   block.Time,
		ClientID:    order.ClientID,
		ClobPairID:  order.ClobPairID,
		OrderFlags:  order.OrderFlags,
		TimeInForce: order.TimeInForce,
		Side:        order.SideString(),
		Quantums:    strconv.FormatUint(order.Quantums, 10),
		Subticks:    strconv.FormatUint(order.Subticks, 10),
		Source:      source,
	}
	if known {
		fill.Ticker = market.Ticker
		fill.Market = market.MarketID()
		fill.Size = market.SizeFromQuantums(quantumsToBig(order.Quantums))
		fill.Price = market.PriceFromSubticks(order.Subticks)
	} else {
		s.logger.Warn("order in unconfigured market, storing raw", "clob_pair_id", order.ClobPairID)
	}

	_, err := s.repo.SaveFill(fill)
	return err
}

func quantumsToBig(q uint64) *big.Int {
	return new(big.Int).SetUint64(q)
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

package executor

import (
	"context"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/zhangluoma/dydx-trader/internal/dydx"
	"github.com/zhangluoma/dydx-trader/internal/logger"
	"github.com/zhangluoma/dydx-trader/internal/markets"
)

// USDC on chain is quantized at 10^-6.
const usdcAtomicResolution = -6

// SubaccountReader is the on-chain account query.
type SubaccountReader interface {
	GetSubaccount(ctx context.Context, owner string, number uint32) (*dydx.Subaccount, error)
}

// AccountState is the derived view used for sizing and networth sampling.
type AccountState struct {
	Equity          float64
	UsdcBalance     float64
	UsedMargin      float64
	AvailableMargin float64
	PositionCount   int
}

// AccountReader computes equity from the on-chain subaccount plus cached
// prices. When the chain query fails it degrades to the configured bootstrap
// equity so the tick can still run its read paths.
type AccountReader struct {
	reader        SubaccountReader
	prices        *PriceCache
	table         *markets.Table
	address       string
	subaccount    uint32
	initialEquity float64
	logger        *logger.Logger
}

func NewAccountReader(reader SubaccountReader, prices *PriceCache, table *markets.Table, address string, subaccount uint32, initialEquity float64, log *logger.Logger) *AccountReader {
	return &AccountReader{
		reader:        reader,
		prices:        prices,
		table:         table,
		address:       address,
		subaccount:    subaccount,
		initialEquity: initialEquity,
		logger:        log,
	}
}

// Read returns the current account state. equity = usdc + Σ position value,
// usedMargin = Σ |position value|, availableMargin = equity - usedMargin.
func (a *AccountReader) Read(ctx context.Context) AccountState {
	sub, err := a.reader.GetSubaccount(ctx, a.address, a.subaccount)
	if err != nil {
		a.logger.Warn("subaccount query failed, using bootstrap equity", "error", err)
		return AccountState{
			Equity:          a.initialEquity,
			UsdcBalance:     a.initialEquity,
			AvailableMargin: a.initialEquity,
		}
	}

	state := AccountState{}
	state.UsdcBalance = quantumsToFloat(sub.UsdcQuantums, usdcAtomicResolution, a.logger)

	positionsValue := 0.0
	for _, pos := range sub.PerpetualPositions {
		market, ok := a.table.ByClobPairID(pos.PerpetualID)
		if !ok {
			a.logger.Warn("perpetual position in unknown market", "perpetual_id", pos.PerpetualID)
			continue
		}
		q, err := dydx.ParseQuantums(pos.Quantums)
		if err != nil {
			a.logger.Warn("undecodable position quantums", "market", market.Ticker, "error", err)
			continue
		}
		size := market.SizeFromQuantums(q)
		if size == 0 {
			continue
		}
		price, err := a.prices.GetPrice(ctx, market.Ticker)
		if err != nil {
			a.logger.Warn("no price for open position", "ticker", market.Ticker, "error", err)
			continue
		}
		value := size * price
		positionsValue += value
		state.UsedMargin += abs(value)
		state.PositionCount++
	}

	state.Equity = state.UsdcBalance + positionsValue
	state.AvailableMargin = state.Equity - state.UsedMargin
	return state
}

func quantumsToFloat(raw string, resolution int32, log *logger.Logger) float64 {
	if raw == "" {
		return 0
	}
	q, err := dydx.ParseQuantums(raw)
	if err != nil {
		log.Warn("undecodable quantums", "error", err)
		return 0
	}
	f, _ := decimal.NewFromBigInt(new(big.Int).Set(q), resolution).Float64()
	return f
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

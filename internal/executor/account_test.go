package executor

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/zhangluoma/dydx-trader/internal/config"
	"github.com/zhangluoma/dydx-trader/internal/dydx"
	"github.com/zhangluoma/dydx-trader/internal/logger"
	"github.com/zhangluoma/dydx-trader/internal/markets"
)

type stubSubaccounts struct {
	sub *dydx.Subaccount
	err error
}

func (s *stubSubaccounts) GetSubaccount(_ context.Context, _ string, _ uint32) (*dydx.Subaccount, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.sub, nil
}

func newTestAccountReader(t *testing.T, reader *stubSubaccounts, prices map[uint32]float64) *AccountReader {
	t.Helper()
	table, err := markets.NewTable(config.DefaultMarkets())
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	log := logger.New("error")
	cache := NewPriceCache(&fakeFetcher{prices: prices}, table)
	return NewAccountReader(reader, cache, table, "dydx1owner", 0, 100, log)
}

func TestAccountReadBootstrapFallback(t *testing.T) {
	reader := &stubSubaccounts{err: fmt.Errorf("HTTP 502")}
	acct := newTestAccountReader(t, reader, nil)

	state := acct.Read(context.Background())
	if state.Equity != 100 || state.UsdcBalance != 100 {
		t.Errorf("bootstrap state = %+v", state)
	}
	if state.PositionCount != 0 || state.UsedMargin != 0 {
		t.Errorf("bootstrap state carries positions: %+v", state)
	}
}

func TestAccountReadComputesEquity(t *testing.T) {
	reader := &stubSubaccounts{sub: &dydx.Subaccount{
		Owner:        "dydx1owner",
		UsdcQuantums: "162349956", // $162.349956 at 10^-6
		PerpetualPositions: []dydx.SubaccountPosition{
			{PerpetualID: 0, Quantums: "10000000"},   // 0.001 BTC long
			{PerpetualID: 1, Quantums: "-100000000"}, // 0.1 ETH short
		},
	}}
	acct := newTestAccountReader(t, reader, map[uint32]float64{0: 76000, 1: 2300})

	state := acct.Read(context.Background())

	if math.Abs(state.UsdcBalance-162.349956) > 1e-9 {
		t.Errorf("usdc = %v", state.UsdcBalance)
	}
	// 76 long plus -230 short on top of the collateral.
	wantEquity := 162.349956 + 76 - 230
	if math.Abs(state.Equity-wantEquity) > 1e-9 {
		t.Errorf("equity = %v, want %v", state.Equity, wantEquity)
	}
	if math.Abs(state.UsedMargin-306) > 1e-9 {
		t.Errorf("used margin = %v, want 306", state.UsedMargin)
	}
	if math.Abs(state.AvailableMargin-(wantEquity-306)) > 1e-9 {
		t.Errorf("available margin = %v", state.AvailableMargin)
	}
	if state.PositionCount != 2 {
		t.Errorf("position count = %d", state.PositionCount)
	}
}

func TestAccountReadSkipsUnusableEntries(t *testing.T) {
	reader := &stubSubaccounts{sub: &dydx.Subaccount{
		UsdcQuantums: "50000000",
		PerpetualPositions: []dydx.SubaccountPosition{
			{PerpetualID: 99, Quantums: "10000000"}, // not in the market table
			{PerpetualID: 0, Quantums: "0"},         // flat position
			{PerpetualID: 1, Quantums: "not!valid"}, // undecodable
		},
	}}
	acct := newTestAccountReader(t, reader, map[uint32]float64{0: 76000, 1: 2300})

	state := acct.Read(context.Background())
	if state.PositionCount != 0 {
		t.Errorf("position count = %d, want 0", state.PositionCount)
	}
	if math.Abs(state.Equity-50) > 1e-9 {
		t.Errorf("equity = %v, want 50", state.Equity)
	}
}

func TestAccountReadEmptyUsdc(t *testing.T) {
	reader := &stubSubaccounts{sub: &dydx.Subaccount{UsdcQuantums: ""}}
	acct := newTestAccountReader(t, reader, nil)

	state := acct.Read(context.Background())
	if state.Equity != 0 || state.UsdcBalance != 0 {
		t.Errorf("empty subaccount state = %+v", state)
	}
}

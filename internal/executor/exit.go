package executor

import "github.com/zhangluoma/dydx-trader/internal/storage"

// exitInput is the snapshot an exit decision is made from.
type exitInput struct {
	PnlPct    float64
	MaxPnlPct float64
	HoursHeld float64

	StopLossPct     float64 // config fraction, e.g. 0.05
	TakeProfitPct   float64
	HoldHours       float64
	MaxHoldHours    float64
	TrailingTrigger float64
}

type exitCondition struct {
	Reason    string
	Triggered func(exitInput) bool
}

// exitConditions is evaluated in order; the first match wins. The ordering is
// load-bearing: reordering entries changes which reason a multi-condition
// tick records.
var exitConditions = []exitCondition{
	{storage.CloseStopLoss, func(in exitInput) bool {
		return in.PnlPct <= -in.StopLossPct*100
	}},
	{storage.CloseTakeProfit, func(in exitInput) bool {
		return in.PnlPct >= in.TakeProfitPct*100
	}},
	{storage.CloseTimeLimit, func(in exitInput) bool {
		return in.HoursHeld >= in.HoldHours
	}},
	{storage.CloseForceClose, func(in exitInput) bool {
		return in.HoursHeld >= in.MaxHoldHours
	}},
	{storage.CloseTrailingStop, func(in exitInput) bool {
		return in.MaxPnlPct > in.TrailingTrigger*100 && in.PnlPct < 0
	}},
}

// evaluateExit returns the close reason for the first triggered condition.
func evaluateExit(in exitInput) (string, bool) {
	for _, cond := range exitConditions {
		if cond.Triggered(in) {
			return cond.Reason, true
		}
	}
	return "", false
}

// pnlPercent computes the side-aware unrealized P&L percentage.
func pnlPercent(side string, entryPrice, currentPrice float64) float64 {
	if entryPrice == 0 {
		return 0
	}
	pct := (currentPrice - entryPrice) / entryPrice * 100
	if side == storage.SideShort {
		return -pct
	}
	return pct
}

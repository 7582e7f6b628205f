// Package metrics exposes the Prometheus instruments for the trade and scan
// paths. Scraped via the status server's /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BlocksScanned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dydxtrader",
			Subsystem: "scanner",
			Name:      "blocks_scanned_total",
			Help:      "Blocks processed by the scanner",
		},
		[]string{"mode"}, // live or backfill
	)

	FillsFound = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dydxtrader",
			Subsystem: "scanner",
			Name:      "fills_found_total",
			Help:      "Order placements persisted from scanned blocks",
		},
		[]string{"mode"},
	)

	ScanErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "dydxtrader",
			Subsystem: "scanner",
			Name:      "errors_total",
			Help:      "Transient scan failures (fetch or store)",
		},
	)

	OrdersSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dydxtrader",
			Subsystem: "trading",
			Name:      "orders_submitted_total",
			Help:      "Orders accepted by the validator",
		},
		[]string{"side", "intent"}, // intent: open or close
	)

	OrdersRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "dydxtrader",
			Subsystem: "trading",
			Name:      "orders_rejected_total",
			Help:      "Order submissions that failed",
		},
	)

	PositionsClosed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dydxtrader",
			Subsystem: "trading",
			Name:      "positions_closed_total",
			Help:      "Closed positions by close reason",
		},
		[]string{"reason"},
	)

	OpenPositions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "dydxtrader",
			Subsystem: "trading",
			Name:      "open_positions",
			Help:      "Currently open positions",
		},
	)

	Equity = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "dydxtrader",
			Subsystem: "account",
			Name:      "equity_usd",
			Help:      "Account equity in USD",
		},
	)
)

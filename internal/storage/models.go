package storage

import "time"

const (
	StatusOpen   = "OPEN"
	StatusClosed = "CLOSED"
)

const (
	SideLong  = "LONG"
	SideShort = "SHORT"
)

// Close reasons, in exit-priority order.
const (
	CloseStopLoss     = "STOP_LOSS"
	CloseTakeProfit   = "TAKE_PROFIT"
	CloseTimeLimit    = "TIME_LIMIT"
	CloseForceClose   = "FORCE_CLOSE"
	CloseTrailingStop = "TRAILING_STOP"
	CloseManual       = "MANUAL"
)

// Fill sources.
const (
	SourceRealtime   = "REALTIME"
	SourceHistorical = "HISTORICAL"
)

type Trade struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Ticker     string  `gorm:"index;not null" json:"ticker"`
	Side       string  `gorm:"not null" json:"side"` // LONG or SHORT
	Size       float64 `gorm:"not null" json:"size"`
	EntryPrice float64 `gorm:"not null" json:"entry_price"`
	ClientID   uint32  `gorm:"index" json:"client_id"`

	OpenedAt     time.Time  `json:"opened_at"`
	ClosedAt     *time.Time `json:"closed_at"`
	ClosePrice   float64    `json:"close_price"`
	CurrentPrice float64    `json:"current_price"`

	Status      string `gorm:"not null;default:'OPEN';index" json:"status"`
	CloseReason string `json:"close_reason"`

	PnL           float64 `gorm:"column:pnl" json:"pnl"`
	PnLPercent    float64 `gorm:"column:pnl_percent" json:"pnl_percent"`
	MaxPnLPercent float64 `gorm:"column:max_pnl_percent" json:"max_pnl_percent"`
	SignalScore   float64 `json:"signal_score"`
}

type Fill struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	Height    int64     `gorm:"uniqueIndex:idx_fill_height_client;not null" json:"height"`
	BlockTime time.Time `json:"block_time"`

	Ticker string `gorm:"index" json:"ticker"`
	Market string `json:"market"`
	Side   string `json:"side"` // BUY or SELL

	// Raw integer encodings kept alongside the scaled values for audit.
	Quantums string  `json:"quantums"`
	Subticks string  `json:"subticks"`
	Size     float64 `json:"size"`
	Price    float64 `json:"price"`

	ClientID    uint32 `gorm:"uniqueIndex:idx_fill_height_client;not null" json:"client_id"`
	ClobPairID  uint32 `json:"clob_pair_id"`
	OrderFlags  uint32 `json:"order_flags"`
	TimeInForce int32  `json:"time_in_force"`
	Source      string `gorm:"not null" json:"source"` // REALTIME or HISTORICAL
}

type ScannedBlock struct {
	Height     int64     `gorm:"primarykey;autoIncrement:false" json:"height"`
	HasOrders  bool      `json:"has_orders"`
	OrderCount int       `json:"order_count"`
	ScannedAt  time.Time `json:"scanned_at"`
}

// ScannerState is a single-row table (ID is always 1).
type ScannerState struct {
	ID                   uint       `gorm:"primarykey" json:"id"`
	LastProcessedHeight  int64      `json:"last_processed_height"`
	TotalBlocksProcessed int64      `json:"total_blocks_processed"`
	TotalFillsFound      int64      `json:"total_fills_found"`
	FirstScanAt          *time.Time `json:"first_scan_at"`
	LastScanAt           *time.Time `json:"last_scan_at"`
}

type NetworthSample struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	Timestamp       time.Time `gorm:"index" json:"timestamp"`
	Equity          float64   `json:"equity"`
	UsdcBalance     float64   `json:"usdc_balance"`
	UsedMargin      float64   `json:"used_margin"`
	AvailableMargin float64   `json:"available_margin"`
	PositionCount   int       `json:"position_count"`
}

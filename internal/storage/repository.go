package storage

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Trades

func (r *Repository) SaveTrade(trade *Trade) error {
	return r.db.Create(trade).Error
}

func (r *Repository) UpdateTrade(trade *Trade) error {
	return r.db.Save(trade).Error
}

func (r *Repository) GetOpenTrades() ([]Trade, error) {
	var trades []Trade
	err := r.db.Where("status = ?", StatusOpen).Order("opened_at ASC").Find(&trades).Error
	return trades, err
}

func (r *Repository) GetOpenTradeByTicker(ticker string) (*Trade, error) {
	var trade Trade
	err := r.db.Where("status = ? AND ticker = ?", StatusOpen, ticker).
		Order("opened_at DESC").First(&trade).Error
	if err != nil {
		return nil, err
	}
	return &trade, nil
}

func (r *Repository) GetRecentTrades(limit int) ([]Trade, error) {
	var trades []Trade
	err := r.db.Order("created_at DESC").Limit(limit).Find(&trades).Error
	return trades, err
}

func (r *Repository) GetTodayPnL() (float64, error) {
	today := time.Now().Truncate(24 * time.Hour)
	var total float64
	err := r.db.Model(&Trade{}).
		Where("status = ? AND closed_at >= ?", StatusClosed, today).
		Select("COALESCE(SUM(pnl), 0)").Scan(&total).Error
	return total, err
}

func (r *Repository) GetTotalPnL() (float64, error) {
	var total float64
	err := r.db.Model(&Trade{}).
		Where("status = ?", StatusClosed).
		Select("COALESCE(SUM(pnl), 0)").Scan(&total).Error
	return total, err
}

// Fills

// SaveFill inserts a fill, silently dropping duplicates on (height, client_id).
// Returns true when a new row was written.
func (r *Repository) SaveFill(fill *Fill) (bool, error) {
	res := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "height"}, {Name: "client_id"}},
		DoNothing: true,
	}).Create(fill)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *Repository) CountFills() (int64, error) {
	var n int64
	err := r.db.Model(&Fill{}).Count(&n).Error
	return n, err
}

func (r *Repository) GetFillByClientID(clientID uint32) (*Fill, error) {
	var fill Fill
	err := r.db.Where("client_id = ?", clientID).Order("height DESC").First(&fill).Error
	if err != nil {
		return nil, err
	}
	return &fill, nil
}

// Scanned blocks

func (r *Repository) MarkBlockScanned(height int64, hasOrders bool, orderCount int) error {
	block := &ScannedBlock{
		Height:     height,
		HasOrders:  hasOrders,
		OrderCount: orderCount,
		ScannedAt:  time.Now().UTC(),
	}
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "height"}},
		UpdateAll: true,
	}).Create(block).Error
}

func (r *Repository) IsBlockScanned(height int64) (bool, error) {
	var n int64
	err := r.db.Model(&ScannedBlock{}).Where("height = ?", height).Count(&n).Error
	return n > 0, err
}

// Scanner state

// GetScannerState returns the single state row, creating it on first read.
func (r *Repository) GetScannerState() (*ScannerState, error) {
	var state ScannerState
	err := r.db.First(&state, 1).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		state = ScannerState{ID: 1}
		if err := r.db.Create(&state).Error; err != nil {
			return nil, err
		}
		return &state, nil
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// AdvanceScannerState records progress for one processed block. The last
// processed height never moves backward, so back-fill can share the counters.
func (r *Repository) AdvanceScannerState(height int64, fillsFound int) error {
	state, err := r.GetScannerState()
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if height > state.LastProcessedHeight {
		state.LastProcessedHeight = height
	}
	state.TotalBlocksProcessed++
	state.TotalFillsFound += int64(fillsFound)
	if state.FirstScanAt == nil {
		state.FirstScanAt = &now
	}
	state.LastScanAt = &now

	return r.db.Save(state).Error
}

// BumpLastProcessedHeight moves the live-tail cursor past a block that was
// already covered (for example by back-fill) without touching the counters.
func (r *Repository) BumpLastProcessedHeight(height int64) error {
	state, err := r.GetScannerState()
	if err != nil {
		return err
	}
	if height <= state.LastProcessedHeight {
		return nil
	}
	state.LastProcessedHeight = height
	return r.db.Save(state).Error
}

// RecordBackfillProgress bumps the counters without touching the last
// processed height; only the live tail is allowed to advance it.
func (r *Repository) RecordBackfillProgress(fillsFound int) error {
	state, err := r.GetScannerState()
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	state.TotalBlocksProcessed++
	state.TotalFillsFound += int64(fillsFound)
	if state.FirstScanAt == nil {
		state.FirstScanAt = &now
	}
	state.LastScanAt = &now

	return r.db.Save(state).Error
}

// Networth

func (r *Repository) SaveNetworthSample(sample *NetworthSample) error {
	return r.db.Create(sample).Error
}

func (r *Repository) GetLatestNetworth() (*NetworthSample, error) {
	var sample NetworthSample
	err := r.db.Order("timestamp DESC").First(&sample).Error
	if err != nil {
		return nil, err
	}
	return &sample, nil
}

package dydx

import (
	"errors"
	"time"
)

// Order sides as encoded on chain.
const (
	SideBuy  int32 = 1
	SideSell int32 = 2
)

// Time-in-force values as encoded on chain.
const (
	TimeInForceUnspecified int32 = 0
	TimeInForceIOC         int32 = 1
	TimeInForcePostOnly    int32 = 2
	TimeInForceFillOrKill  int32 = 3
)

// ErrRateLimited marks an HTTP 429 from the validator; the caller backs off
// and retries the same block or request.
var ErrRateLimited = errors.New("validator rate limited")

// PlaceOrder is one decoded order-placement message from a block tx.
type PlaceOrder struct {
	Owner            string
	SubaccountNumber uint32
	ClientID         uint32
	OrderFlags       uint32
	ClobPairID       uint32
	Side             int32
	Quantums         uint64
	Subticks         uint64
	GoodTilBlock     uint32
	TimeInForce      int32
	ReduceOnly       bool
}

func (p PlaceOrder) SideString() string {
	switch p.Side {
	case SideBuy:
		return "BUY"
	case SideSell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// Block is the subset of the block payload the scanner needs.
type Block struct {
	Height int64
	Time   time.Time
	Txs    [][]byte
}

// OrderRequest describes one taker order to submit.
type OrderRequest struct {
	ClobPairID  uint32
	Side        int32
	Quantums    uint64
	Subticks    uint64
	ClientID    uint32
	TimeInForce int32
	ReduceOnly  bool
}

// SubaccountPosition is one raw perpetual position from the subaccount query.
type SubaccountPosition struct {
	PerpetualID uint32
	Quantums    string // sign-prefixed big-endian bytes, base64 in transit
}

// Subaccount is the on-chain account snapshot.
type Subaccount struct {
	Owner              string
	Number             uint32
	UsdcQuantums       string
	PerpetualPositions []SubaccountPosition
}

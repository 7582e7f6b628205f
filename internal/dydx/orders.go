package dydx

import (
	"context"
	"fmt"
	"sync"

	"github.com/zhangluoma/dydx-trader/internal/logger"
)

// Short-term orders must expire within this many blocks of the head.
const goodTilBlockWindow = 10

// Gateway submits signed orders through a validator. It owns the operator
// wallet; nothing else in the process touches the signing key.
type Gateway struct {
	client           *Client
	wallet           *Wallet
	chainID          string
	subaccountNumber uint32
	logger           *logger.Logger

	mu            sync.Mutex
	accountNumber uint64
	accountKnown  bool
}

func NewGateway(client *Client, wallet *Wallet, chainID string, subaccountNumber uint32, log *logger.Logger) *Gateway {
	return &Gateway{
		client:           client,
		wallet:           wallet,
		chainID:          chainID,
		subaccountNumber: subaccountNumber,
		logger:           log,
	}
}

func (g *Gateway) Address() string {
	return g.wallet.Address()
}

// PlaceOrder signs and broadcasts one short-term taker order, returning the
// tx hash. The sequence is re-read per submit; short-term orders are placed
// rarely enough that the extra query beats sequence-mismatch retries.
func (g *Gateway) PlaceOrder(ctx context.Context, req OrderRequest) (string, error) {
	height, err := g.client.LatestHeight(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve good-til block: %w", err)
	}

	accountNumber, sequence, err := g.accountState(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve signer account: %w", err)
	}

	goodTil := uint32(height) + goodTilBlockWindow
	tx := BuildOrderTx(g.wallet, g.subaccountNumber, req, goodTil, g.chainID, accountNumber, sequence)

	hash, err := g.client.BroadcastTx(ctx, tx)
	if err != nil {
		return "", err
	}

	g.logger.Info("order broadcast",
		"client_id", req.ClientID, "clob_pair_id", req.ClobPairID,
		"side", req.Side, "quantums", req.Quantums, "subticks", req.Subticks,
		"reduce_only", req.ReduceOnly, "tx_hash", hash)
	return hash, nil
}

func (g *Gateway) accountState(ctx context.Context) (uint64, uint64, error) {
	num, seq, err := g.client.GetAccount(ctx, g.wallet.Address())
	if err != nil {
		return 0, 0, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.accountKnown && g.accountNumber != num {
		return 0, 0, fmt.Errorf("account number changed: %d != %d", num, g.accountNumber)
	}
	g.accountNumber = num
	g.accountKnown = true
	return num, seq, nil
}

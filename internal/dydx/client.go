package dydx

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zhangluoma/dydx-trader/internal/logger"
)

// Per-call deadlines. Block fetches are on the 1s scan loop, so they stay
// tight; broadcasts are allowed the longest.
const (
	blockTimeout     = 5 * time.Second
	queryTimeout     = 10 * time.Second
	broadcastTimeout = 30 * time.Second
)

// Client talks to a dYdX v4 validator's REST endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *logger.Logger
}

func NewClient(baseURL string, log *logger.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		logger:     log,
	}
}

type blockResponse struct {
	Block struct {
		Header struct {
			Height string    `json:"height"`
			Time   time.Time `json:"time"`
		} `json:"header"`
		Data struct {
			Txs []string `json:"txs"`
		} `json:"data"`
	} `json:"block"`
}

// LatestHeight returns the current chain head height.
func (c *Client) LatestHeight(ctx context.Context) (int64, error) {
	var resp blockResponse
	if err := c.getJSON(ctx, "/cosmos/base/tendermint/v1beta1/blocks/latest", blockTimeout, &resp); err != nil {
		return 0, fmt.Errorf("latest block: %w", err)
	}
	h, err := strconv.ParseInt(resp.Block.Header.Height, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse latest height %q: %w", resp.Block.Header.Height, err)
	}
	return h, nil
}

// GetBlock fetches one block and returns its raw txs.
func (c *Client) GetBlock(ctx context.Context, height int64) (*Block, error) {
	var resp blockResponse
	path := fmt.Sprintf("/cosmos/base/tendermint/v1beta1/blocks/%d", height)
	if err := c.getJSON(ctx, path, blockTimeout, &resp); err != nil {
		return nil, fmt.Errorf("block %d: %w", height, err)
	}

	block := &Block{Height: height, Time: resp.Block.Header.Time}
	for _, enc := range resp.Block.Data.Txs {
		raw, err := base64.StdEncoding.DecodeString(enc)
		if err != nil {
			// A tx we cannot even base64-decode is skipped, not fatal.
			continue
		}
		block.Txs = append(block.Txs, raw)
	}
	return block, nil
}

type subaccountResponse struct {
	Subaccount struct {
		ID struct {
			Owner  string `json:"owner"`
			Number uint32 `json:"number"`
		} `json:"id"`
		AssetPositions []struct {
			AssetID  uint32 `json:"asset_id"`
			Quantums string `json:"quantums"`
		} `json:"asset_positions"`
		PerpetualPositions []struct {
			PerpetualID uint32 `json:"perpetual_id"`
			Quantums    string `json:"quantums"`
		} `json:"perpetual_positions"`
	} `json:"subaccount"`
}

// GetSubaccount reads the operator subaccount: USDC asset position plus raw
// perpetual positions.
func (c *Client) GetSubaccount(ctx context.Context, owner string, number uint32) (*Subaccount, error) {
	var resp subaccountResponse
	path := fmt.Sprintf("/dydxprotocol/subaccounts/subaccount/%s/%d", owner, number)
	if err := c.getJSON(ctx, path, queryTimeout, &resp); err != nil {
		return nil, fmt.Errorf("subaccount %s/%d: %w", owner, number, err)
	}

	sub := &Subaccount{Owner: owner, Number: number}
	for _, ap := range resp.Subaccount.AssetPositions {
		if ap.AssetID == 0 { // asset 0 is USDC
			sub.UsdcQuantums = ap.Quantums
		}
	}
	for _, pp := range resp.Subaccount.PerpetualPositions {
		sub.PerpetualPositions = append(sub.PerpetualPositions, SubaccountPosition{
			PerpetualID: pp.PerpetualID,
			Quantums:    pp.Quantums,
		})
	}
	return sub, nil
}

type accountResponse struct {
	Account struct {
		AccountNumber string `json:"account_number"`
		Sequence      string `json:"sequence"`
		BaseAccount   *struct {
			AccountNumber string `json:"account_number"`
			Sequence      string `json:"sequence"`
		} `json:"base_account"`
	} `json:"account"`
}

// GetAccount returns the auth account number and sequence for signing.
func (c *Client) GetAccount(ctx context.Context, address string) (accountNumber, sequence uint64, err error) {
	var resp accountResponse
	path := "/cosmos/auth/v1beta1/accounts/" + address
	if err := c.getJSON(ctx, path, queryTimeout, &resp); err != nil {
		return 0, 0, fmt.Errorf("account %s: %w", address, err)
	}

	numStr, seqStr := resp.Account.AccountNumber, resp.Account.Sequence
	if resp.Account.BaseAccount != nil {
		numStr, seqStr = resp.Account.BaseAccount.AccountNumber, resp.Account.BaseAccount.Sequence
	}
	accountNumber, err = strconv.ParseUint(numStr, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parse account number %q: %w", numStr, err)
	}
	sequence, err = strconv.ParseUint(seqStr, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parse sequence %q: %w", seqStr, err)
	}
	return accountNumber, sequence, nil
}

type broadcastRequest struct {
	TxBytes string `json:"tx_bytes"`
	Mode    string `json:"mode"`
}

type broadcastResponse struct {
	TxResponse struct {
		TxHash string `json:"txhash"`
		Code   int    `json:"code"`
		RawLog string `json:"raw_log"`
	} `json:"tx_response"`
}

// BroadcastTx submits a signed tx in sync mode and returns its hash.
func (c *Client) BroadcastTx(ctx context.Context, txBytes []byte) (string, error) {
	reqBody, err := json.Marshal(broadcastRequest{
		TxBytes: base64.StdEncoding.EncodeToString(txBytes),
		Mode:    "BROADCAST_MODE_SYNC",
	})
	if err != nil {
		return "", fmt.Errorf("marshal broadcast request: %w", err)
	}

	var resp broadcastResponse
	if err := c.postJSON(ctx, "/cosmos/tx/v1beta1/txs", broadcastTimeout, reqBody, &resp); err != nil {
		return "", fmt.Errorf("broadcast tx: %w", err)
	}
	if resp.TxResponse.Code != 0 {
		return "", fmt.Errorf("tx rejected (code %d): %s", resp.TxResponse.Code, resp.TxResponse.RawLog)
	}
	return resp.TxResponse.TxHash, nil
}

type marketPriceResponse struct {
	MarketPrice struct {
		ID       uint32 `json:"id"`
		Exponent int32  `json:"exponent"`
		Price    string `json:"price"`
	} `json:"market_price"`
}

// MarketPrice returns the oracle price for one market in dollars.
func (c *Client) MarketPrice(ctx context.Context, marketID uint32) (float64, error) {
	var resp marketPriceResponse
	path := fmt.Sprintf("/dydxprotocol/prices/market/%d", marketID)
	if err := c.getJSON(ctx, path, queryTimeout, &resp); err != nil {
		return 0, fmt.Errorf("market price %d: %w", marketID, err)
	}
	raw, err := decimal.NewFromString(resp.MarketPrice.Price)
	if err != nil {
		return 0, fmt.Errorf("parse market price %q: %w", resp.MarketPrice.Price, err)
	}
	price, _ := raw.Shift(resp.MarketPrice.Exponent).Float64()
	return price, nil
}

// ParseQuantums handles both transports of the signed-int type: a plain
// decimal string or base64 of the sign-prefixed byte layout.
func ParseQuantums(s string) (*big.Int, error) {
	if s == "" {
		return big.NewInt(0), nil
	}
	if v, ok := new(big.Int).SetString(s, 10); ok {
		return v, nil
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("quantums %q: not decimal and not base64: %w", s, err)
	}
	return DecodeSignedInt(raw)
}

func (c *Client) getJSON(ctx context.Context, path string, timeout time.Duration, out any) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) postJSON(ctx context.Context, path string, timeout time.Duration, body []byte, out any) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/zhangluoma/dydx-trader/internal/logger"
)

// Provider produces the composite signal for one ticker. The sentiment and
// trend computation lives outside this process; callers degrade provider
// errors to NEUTRAL.
type Provider interface {
	GetSignal(ctx context.Context, ticker string) (Signal, error)
}

// HTTPProvider queries the external signal service over JSON.
type HTTPProvider struct {
	baseURL    string
	httpClient *http.Client
	logger     *logger.Logger
}

func NewHTTPProvider(baseURL string, timeout time.Duration, log *logger.Logger) *HTTPProvider {
	return &HTTPProvider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     log,
	}
}

type providerResponse struct {
	Ticker    string    `json:"ticker"`
	Sentiment SubSignal `json:"sentiment"`
	Trend     SubSignal `json:"trend"`
}

func (p *HTTPProvider) GetSignal(ctx context.Context, ticker string) (Signal, error) {
	endpoint := fmt.Sprintf("%s/signal?ticker=%s", p.baseURL, url.QueryEscape(ticker))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Signal{}, fmt.Errorf("build signal request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return Signal{}, fmt.Errorf("signal request %s: %w", ticker, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return Signal{}, fmt.Errorf("signal provider HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var body providerResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Signal{}, fmt.Errorf("decode signal response: %w", err)
	}

	return Combine(ticker, body.Sentiment, body.Trend), nil
}

// StaticProvider serves canned signals; the in-process implementation used by
// tests and dry runs without a signal service.
type StaticProvider struct {
	Signals map[string]Signal
	Err     error
}

func (p *StaticProvider) GetSignal(_ context.Context, ticker string) (Signal, error) {
	if p.Err != nil {
		return Signal{}, p.Err
	}
	if sig, ok := p.Signals[ticker]; ok {
		return sig, nil
	}
	return NeutralSignal(ticker), nil
}

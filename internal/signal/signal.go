// Package signal defines the typed trade-signal records the decision engine
// consumes, and the composite aggregation over the sentiment and trend
// sub-signals.
package signal

type Type string

const (
	Buy     Type = "BUY"
	Sell    Type = "SELL"
	Neutral Type = "NEUTRAL"
)

// SubSignal is one input leg: sentiment, or trend mapped from
// BULLISH/BEARISH/NEUTRAL to BUY/SELL/NEUTRAL.
type SubSignal struct {
	Type       Type    `json:"signal_type"`
	Strength   float64 `json:"strength"`
	Confidence float64 `json:"confidence"`
}

// Signal is the composite record for one ticker.
type Signal struct {
	Ticker     string  `json:"ticker"`
	Type       Type    `json:"signal_type"`
	Strength   float64 `json:"strength"`
	Confidence float64 `json:"confidence"`
	FinalScore float64 `json:"final_score"`

	Sentiment SubSignal `json:"sentiment"`
	Trend     SubSignal `json:"trend"`
}

// NeutralSignal is the degraded record used when the provider fails.
func NeutralSignal(ticker string) Signal {
	return Signal{Ticker: ticker, Type: Neutral}
}

const (
	sentimentWeight = 0.6
	trendWeight     = 0.4

	// Weighted scores inside (-deadZone, +deadZone) stay NEUTRAL.
	deadZone = 0.15

	agreementBoost     = 1.2
	disagreementFactor = 0.7
)

func direction(t Type) float64 {
	switch t {
	case Buy:
		return 1
	case Sell:
		return -1
	default:
		return 0
	}
}

// Combine folds the two sub-signals into the composite record. The weighted
// score's sign selects the direction; confidence is boosted when the legs
// agree and cut when they conflict; final score is strength times confidence.
func Combine(ticker string, sentiment, trend SubSignal) Signal {
	score := sentimentWeight*direction(sentiment.Type)*sentiment.Strength +
		trendWeight*direction(trend.Type)*trend.Strength

	sig := Signal{Ticker: ticker, Sentiment: sentiment, Trend: trend}

	switch {
	case score > deadZone:
		sig.Type = Buy
	case score < -deadZone:
		sig.Type = Sell
	default:
		sig.Type = Neutral
		return sig
	}

	sig.Strength = clamp01(abs(score))

	confidence := sentimentWeight*sentiment.Confidence + trendWeight*trend.Confidence
	sd, td := direction(sentiment.Type), direction(trend.Type)
	switch {
	case sd != 0 && td != 0 && sd == td:
		confidence *= agreementBoost
	case sd != 0 && td != 0 && sd != td:
		confidence *= disagreementFactor
	}
	sig.Confidence = clamp01(confidence)

	sig.FinalScore = clamp01(sig.Strength * sig.Confidence)
	return sig
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"tradecore/internal/broker"
)

// HTTPProvider reads prices from the Alpaca data API.
type HTTPProvider struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	httpClient *http.Client
}

func NewHTTPProvider(httpClient *http.Client, baseURL, apiKey, apiSecret string) *HTTPProvider {
	if baseURL == "" {
		baseURL = "https://data.alpaca.markets"
	}
	baseURL = strings.TrimRight(baseURL, "/")
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPProvider{
		baseURL:    baseURL,
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		httpClient: httpClient,
	}
}

func (p *HTTPProvider) doRequest(ctx context.Context, path string, query url.Values) ([]byte, error) {
	fullURL := p.baseURL + path
	if len(query) > 0 {
		fullURL = fullURL + "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("APCA-API-KEY-ID", p.apiKey)
	req.Header.Set("APCA-API-SECRET-KEY", p.apiSecret)
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("data API error (%d): %s", resp.StatusCode, string(body))
	}
	return body, nil
}

type latestTradeResponse struct {
	Trade struct {
		Price json.Number `json:"p"`
	} `json:"trade"`
}

type cryptoLatestTradesResponse struct {
	Trades map[string]struct {
		Price json.Number `json:"p"`
	} `json:"trades"`
}

func (p *HTTPProvider) LatestPrice(ctx context.Context, symbol string) (decimal.Decimal, bool, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return decimal.Zero, false, fmt.Errorf("symbol is required")
	}
	if broker.IsCrypto(symbol) {
		pair := broker.BrokerSymbol(symbol)
		query := url.Values{}
		query.Set("symbols", pair)
		body, err := p.doRequest(ctx, "/v1beta3/crypto/us/latest/trades", query)
		if err != nil || body == nil {
			return decimal.Zero, false, err
		}
		var resp cryptoLatestTradesResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return decimal.Zero, false, fmt.Errorf("failed to decode crypto trade: %w", err)
		}
		trade, ok := resp.Trades[pair]
		if !ok {
			return decimal.Zero, false, nil
		}
		price, err := decimal.NewFromString(trade.Price.String())
		if err != nil {
			return decimal.Zero, false, nil
		}
		return price, true, nil
	}
	body, err := p.doRequest(ctx, "/v2/stocks/"+symbol+"/trades/latest", nil)
	if err != nil || body == nil {
		return decimal.Zero, false, err
	}
	var resp latestTradeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return decimal.Zero, false, fmt.Errorf("failed to decode trade: %w", err)
	}
	price, err := decimal.NewFromString(resp.Trade.Price.String())
	if err != nil {
		return decimal.Zero, false, nil
	}
	return price, true, nil
}

type rawBar struct {
	Time  time.Time   `json:"t"`
	Open  json.Number `json:"o"`
	High  json.Number `json:"h"`
	Low   json.Number `json:"l"`
	Close json.Number `json:"c"`
}

type barsResponse struct {
	Bars []rawBar `json:"bars"`
}

// Crypto bars are keyed by pair symbol instead of a flat list.
type cryptoBarsResponse struct {
	Bars map[string][]rawBar `json:"bars"`
}

func (p *HTTPProvider) Bars(ctx context.Context, symbol string, window time.Duration) ([]Bar, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	if window <= 0 {
		window = time.Hour
	}
	query := url.Values{}
	query.Set("timeframe", "1Min")
	query.Set("start", time.Now().UTC().Add(-window).Format(time.RFC3339))
	var raws []rawBar
	if broker.IsCrypto(symbol) {
		pair := broker.BrokerSymbol(symbol)
		query.Set("symbols", pair)
		body, err := p.doRequest(ctx, "/v1beta3/crypto/us/bars", query)
		if err != nil || body == nil {
			return nil, err
		}
		var resp cryptoBarsResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("failed to decode bars: %w", err)
		}
		raws = resp.Bars[pair]
	} else {
		body, err := p.doRequest(ctx, "/v2/stocks/"+symbol+"/bars", query)
		if err != nil || body == nil {
			return nil, err
		}
		var resp barsResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("failed to decode bars: %w", err)
		}
		raws = resp.Bars
	}
	out := make([]Bar, 0, len(raws))
	for _, raw := range raws {
		bar := Bar{Time: raw.Time}
		bar.Open, _ = decimal.NewFromString(raw.Open.String())
		bar.High, _ = decimal.NewFromString(raw.High.String())
		bar.Low, _ = decimal.NewFromString(raw.Low.String())
		bar.Close, _ = decimal.NewFromString(raw.Close.String())
		out = append(out, bar)
	}
	return out, nil
}

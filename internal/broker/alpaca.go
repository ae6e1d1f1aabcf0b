package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("broker API error (%d): %s", e.Status, e.Body)
}

// AlpacaClient talks to the Alpaca trading REST API.
type AlpacaClient struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	httpClient *http.Client
}

func NewAlpacaClient(httpClient *http.Client, baseURL, apiKey, apiSecret string) *AlpacaClient {
	if baseURL == "" {
		baseURL = "https://paper-api.alpaca.markets"
	}
	baseURL = strings.TrimRight(baseURL, "/")
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &AlpacaClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		httpClient: httpClient,
	}
}

func (c *AlpacaClient) doRequest(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("APCA-API-KEY-ID", c.apiKey)
	req.Header.Set("APCA-API-SECRET-KEY", c.apiSecret)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{Status: resp.StatusCode, Body: string(data)}
	}
	return data, nil
}

type orderPayload struct {
	Symbol      string `json:"symbol"`
	Qty         string `json:"qty"`
	Side        string `json:"side"`
	Type        string `json:"type"`
	TimeInForce string `json:"time_in_force"`
	LimitPrice  string `json:"limit_price,omitempty"`
}

type orderResponse struct {
	ID             string     `json:"id"`
	Status         string     `json:"status"`
	SubmittedAt    *time.Time `json:"submitted_at"`
	FilledQty      string     `json:"filled_qty"`
	FilledAvgPrice *string    `json:"filled_avg_price"`
}

func (c *AlpacaClient) SubmitOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	if strings.TrimSpace(req.Symbol) == "" {
		return OrderResult{}, fmt.Errorf("symbol is required")
	}
	orderType := strings.ToLower(strings.TrimSpace(req.OrderType))
	if orderType == "" {
		orderType = "market"
	}
	tif := strings.ToLower(strings.TrimSpace(req.TimeInForce))
	if tif == "" {
		tif = TimeInForce(req.Symbol)
	}
	payload := orderPayload{
		Symbol:      BrokerSymbol(req.Symbol),
		Qty:         req.Qty.String(),
		Side:        strings.ToLower(req.Side),
		Type:        orderType,
		TimeInForce: tif,
	}
	if orderType == "limit" {
		if req.LimitPrice == nil {
			return OrderResult{}, fmt.Errorf("limit price required for limit orders")
		}
		payload.LimitPrice = req.LimitPrice.String()
	}
	data, err := c.doRequest(ctx, http.MethodPost, "/v2/orders", payload)
	if err != nil {
		return OrderResult{}, err
	}
	var resp orderResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return OrderResult{}, fmt.Errorf("failed to decode order response: %w", err)
	}
	return resultFromResponse(resp), nil
}

func (c *AlpacaClient) CancelOrder(ctx context.Context, brokerOrderID string) error {
	if strings.TrimSpace(brokerOrderID) == "" {
		return fmt.Errorf("order id is required")
	}
	_, err := c.doRequest(ctx, http.MethodDelete, "/v2/orders/"+brokerOrderID, nil)
	return err
}

func (c *AlpacaClient) GetOrder(ctx context.Context, brokerOrderID string) (OrderResult, error) {
	if strings.TrimSpace(brokerOrderID) == "" {
		return OrderResult{}, fmt.Errorf("order id is required")
	}
	data, err := c.doRequest(ctx, http.MethodGet, "/v2/orders/"+brokerOrderID, nil)
	if err != nil {
		return OrderResult{}, err
	}
	var resp orderResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return OrderResult{}, fmt.Errorf("failed to decode order response: %w", err)
	}
	return resultFromResponse(resp), nil
}

func resultFromResponse(resp orderResponse) OrderResult {
	result := OrderResult{
		BrokerOrderID: resp.ID,
		Status:        MapStatus(resp.Status),
		SubmittedAt:   resp.SubmittedAt,
	}
	if q, err := decimal.NewFromString(resp.FilledQty); err == nil {
		result.FilledQty = q
	}
	if resp.FilledAvgPrice != nil {
		if p, err := decimal.NewFromString(*resp.FilledAvgPrice); err == nil {
			result.FilledPrice = p
		}
	}
	return result
}

type accountResponse struct {
	BuyingPower    string `json:"buying_power"`
	Cash           string `json:"cash"`
	PortfolioValue string `json:"portfolio_value"`
	TradingBlocked bool   `json:"trading_blocked"`
}

func (c *AlpacaClient) GetAccount(ctx context.Context) (Account, error) {
	data, err := c.doRequest(ctx, http.MethodGet, "/v2/account", nil)
	if err != nil {
		return Account{}, err
	}
	var resp accountResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return Account{}, fmt.Errorf("failed to decode account response: %w", err)
	}
	acct := Account{TradingBlocked: resp.TradingBlocked}
	acct.BuyingPower, _ = decimal.NewFromString(resp.BuyingPower)
	acct.Cash, _ = decimal.NewFromString(resp.Cash)
	acct.PortfolioValue, _ = decimal.NewFromString(resp.PortfolioValue)
	return acct, nil
}

type positionResponse struct {
	Symbol        string `json:"symbol"`
	Qty           string `json:"qty"`
	AvgEntryPrice string `json:"avg_entry_price"`
	MarketValue   string `json:"market_value"`
	CostBasis     string `json:"cost_basis"`
	UnrealizedPL  string `json:"unrealized_pl"`
	CurrentPrice  string `json:"current_price"`
}

func (c *AlpacaClient) ListPositions(ctx context.Context) ([]Position, error) {
	data, err := c.doRequest(ctx, http.MethodGet, "/v2/positions", nil)
	if err != nil {
		return nil, err
	}
	var rows []positionResponse
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode positions response: %w", err)
	}
	out := make([]Position, 0, len(rows))
	for _, row := range rows {
		pos := Position{Symbol: LocalSymbol(row.Symbol)}
		pos.Qty, _ = decimal.NewFromString(row.Qty)
		pos.AvgEntryPrice, _ = decimal.NewFromString(row.AvgEntryPrice)
		pos.MarketValue, _ = decimal.NewFromString(row.MarketValue)
		pos.CostBasis, _ = decimal.NewFromString(row.CostBasis)
		pos.UnrealizedPnL, _ = decimal.NewFromString(row.UnrealizedPL)
		pos.CurrentPrice, _ = decimal.NewFromString(row.CurrentPrice)
		out = append(out, pos)
	}
	return out, nil
}

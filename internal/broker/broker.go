package broker

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// OrderRequest is a broker-bound order.
type OrderRequest struct {
	Symbol      string
	Side        string
	Qty         decimal.Decimal
	OrderType   string
	LimitPrice  *decimal.Decimal
	TimeInForce string
}

// OrderResult is the broker's acknowledgement of a submission.
type OrderResult struct {
	BrokerOrderID string
	Status        string
	SubmittedAt   *time.Time
	FilledQty     decimal.Decimal
	FilledPrice   decimal.Decimal
}

// OrderUpdate is a single event from the broker's trade-update stream.
type OrderUpdate struct {
	Event         string
	BrokerOrderID string
	Symbol        string
	FilledQty     decimal.Decimal
	FillPrice     decimal.Decimal
	At            time.Time
}

// Update stream event names.
const (
	EventFill        = "fill"
	EventPartialFill = "partial_fill"
	EventCanceled    = "canceled"
	EventRejected    = "rejected"
	EventExpired     = "expired"
)

type Position struct {
	Symbol        string
	Qty           decimal.Decimal
	AvgEntryPrice decimal.Decimal
	MarketValue   decimal.Decimal
	CostBasis     decimal.Decimal
	UnrealizedPnL decimal.Decimal
	CurrentPrice  decimal.Decimal
}

type Account struct {
	BuyingPower    decimal.Decimal
	Cash           decimal.Decimal
	PortfolioValue decimal.Decimal
	TradingBlocked bool
}

// Broker is the narrow surface the engine and sync service depend on. Keeping
// it small lets tests swap in the paper implementation.
type Broker interface {
	SubmitOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	CancelOrder(ctx context.Context, brokerOrderID string) error
	GetOrder(ctx context.Context, brokerOrderID string) (OrderResult, error)
	GetAccount(ctx context.Context) (Account, error)
	ListPositions(ctx context.Context) ([]Position, error)
}

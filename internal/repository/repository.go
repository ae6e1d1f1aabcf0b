package repository

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"tradecore/internal/models"
)

// Repository is the persistence surface shared by the execution engine,
// position bookkeeping, and the API handlers.
type Repository interface {
	// Orders: one row per submission attempt, append-only.
	InsertOrder(ctx context.Context, item *models.Order) error
	GetOrderByID(ctx context.Context, id uint64) (*models.Order, error)
	GetOrderByBrokerID(ctx context.Context, brokerOrderID string) (*models.Order, error)
	ListOrders(ctx context.Context, params ListOrdersParams) ([]models.Order, error)
	CountOrders(ctx context.Context, params ListOrdersParams) (int64, error)
	UpdateOrderStatus(ctx context.Context, id uint64, status string, updates map[string]any) error

	// Positions: one row per symbol, never hard-deleted.
	UpsertPosition(ctx context.Context, item *models.Position) error
	GetPositionBySymbol(ctx context.Context, symbol string) (*models.Position, error)
	ListPositions(ctx context.Context, params ListPositionsParams) ([]models.Position, error)
	CountPositions(ctx context.Context, params ListPositionsParams) (int64, error)
	ListOpenPositions(ctx context.Context) ([]models.Position, error)
	PositionsSummary(ctx context.Context) (PositionsSummary, error)

	InsertPortfolioSnapshot(ctx context.Context, item *models.PortfolioSnapshot) error
	ListPortfolioSnapshots(ctx context.Context, params ListPortfolioSnapshotsParams) ([]models.PortfolioSnapshot, error)

	// Risk limits: key/value rows editable at runtime.
	UpsertRiskLimit(ctx context.Context, item *models.RiskLimit) error
	GetRiskLimitByKey(ctx context.Context, key string) (*models.RiskLimit, error)
	ListRiskLimits(ctx context.Context) ([]models.RiskLimit, error)
}

type ListOrdersParams struct {
	Limit   int
	Offset  int
	Status  *string
	Symbol  *string
	Side    *string
	Since   *time.Time
	OrderBy string
	Asc     *bool
}

type ListPositionsParams struct {
	Limit   int
	Offset  int
	Status  *string
	Symbol  *string
	OrderBy string
	Asc     *bool
}

type ListPortfolioSnapshotsParams struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

type PositionsSummary struct {
	TotalOpen      int64
	TotalCostBasis decimal.Decimal
	TotalMarketVal decimal.Decimal
	UnrealizedPnL  decimal.Decimal
	RealizedPnL    decimal.Decimal
	NetLiquidation decimal.Decimal
}

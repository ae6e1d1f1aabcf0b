package service

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tradecore/internal/marketdata"
	"tradecore/internal/models"
	"tradecore/internal/repository"
)

// Quantities below this are rounding residue from fractional fills and the
// position is treated as flat.
var minPositionQty = decimal.NewFromFloat(0.0001)

// PositionManager owns local position bookkeeping: fills move quantity and
// cost, marks move prices, and snapshots aggregate the book.
type PositionManager struct {
	Repo     repository.Repository
	Provider marketdata.Provider
	Logger   *zap.Logger
}

// ApplyFill folds one fill into the symbol's position row. Buys blend the
// average entry price; sells realize P&L against the average and never move it.
func (m *PositionManager) ApplyFill(ctx context.Context, symbol, side string, qty, price decimal.Decimal) error {
	if m == nil || m.Repo == nil {
		return nil
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" || qty.LessThanOrEqual(decimal.Zero) {
		return nil
	}
	side = strings.ToLower(strings.TrimSpace(side))

	pos, err := m.Repo.GetPositionBySymbol(ctx, symbol)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if pos == nil {
		pos = &models.Position{
			Symbol:       symbol,
			Quantity:     decimal.Zero,
			CurrentPrice: price,
			Status:       models.PositionStatusOpen,
			OpenedAt:     now,
			CreatedAt:    now,
		}
	}

	oldQty := pos.Quantity
	oldAvg := pos.AvgEntryPrice

	if side == models.OrderSideBuy {
		newQty := oldQty.Add(qty)
		totalCost := oldQty.Mul(oldAvg).Add(qty.Mul(price))
		if newQty.GreaterThan(decimal.Zero) {
			pos.AvgEntryPrice = totalCost.Div(newQty)
		}
		pos.Quantity = newQty
		pos.CostBasis = pos.Quantity.Mul(pos.AvgEntryPrice)
	} else {
		// Quantity is signed; an oversell leaves a short. The full sell
		// quantity realizes against the average, which never moves here.
		realizedDelta := price.Sub(oldAvg).Mul(qty)
		pos.RealizedPnL = pos.RealizedPnL.Add(realizedDelta)
		pos.Quantity = oldQty.Sub(qty)
		pos.CostBasis = pos.Quantity.Mul(oldAvg)
	}

	pos.CurrentPrice = price
	if pos.Quantity.Abs().LessThan(minPositionQty) {
		pos.Quantity = decimal.Zero
		pos.AvgEntryPrice = decimal.Zero
		pos.CostBasis = decimal.Zero
		pos.MarketValue = decimal.Zero
		pos.UnrealizedPnL = decimal.Zero
		pos.Status = models.PositionStatusClosed
		pos.ClosedAt = &now
	} else {
		pos.MarketValue = pos.Quantity.Mul(pos.CurrentPrice)
		pos.UnrealizedPnL = pos.MarketValue.Sub(pos.CostBasis)
		pos.Status = models.PositionStatusOpen
		pos.ClosedAt = nil
	}
	pos.UpdatedAt = now

	if err := m.Repo.UpsertPosition(ctx, pos); err != nil {
		return err
	}
	if m.Logger != nil {
		m.Logger.Info("fill applied",
			zap.String("symbol", symbol),
			zap.String("side", side),
			zap.String("qty", qty.String()),
			zap.String("price", price.String()),
			zap.String("position_qty", pos.Quantity.String()),
			zap.String("realized_pnl", pos.RealizedPnL.StringFixed(2)),
		)
	}
	return nil
}

// RefreshMarks re-prices every open position from the market data provider.
// Symbols without a current price keep their previous mark.
func (m *PositionManager) RefreshMarks(ctx context.Context) error {
	if m == nil || m.Repo == nil || m.Provider == nil {
		return nil
	}
	items, err := m.Repo.ListOpenPositions(ctx)
	if err != nil || len(items) == 0 {
		return err
	}
	for i := range items {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		pos := items[i]
		price, ok, err := m.Provider.LatestPrice(ctx, pos.Symbol)
		if err != nil {
			if m.Logger != nil {
				m.Logger.Warn("mark refresh failed", zap.String("symbol", pos.Symbol), zap.Error(err))
			}
			continue
		}
		if !ok || price.LessThanOrEqual(decimal.Zero) {
			continue
		}
		pos.CurrentPrice = price
		pos.MarketValue = pos.Quantity.Mul(price)
		pos.UnrealizedPnL = pos.MarketValue.Sub(pos.CostBasis)
		pos.UpdatedAt = time.Now().UTC()
		if err := m.Repo.UpsertPosition(ctx, &pos); err != nil {
			if m.Logger != nil {
				m.Logger.Warn("mark write failed", zap.String("symbol", pos.Symbol), zap.Error(err))
			}
			continue
		}
	}
	return nil
}

// PositionValue is the absolute market value of the symbol's position, zero
// when there is no row.
func (m *PositionManager) PositionValue(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if m == nil || m.Repo == nil {
		return decimal.Zero, nil
	}
	pos, err := m.Repo.GetPositionBySymbol(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	if pos == nil {
		return decimal.Zero, nil
	}
	return pos.Quantity.Mul(pos.CurrentPrice).Abs(), nil
}

// SnapshotPortfolio persists one aggregate row of the current book.
func (m *PositionManager) SnapshotPortfolio(ctx context.Context) error {
	if m == nil || m.Repo == nil {
		return nil
	}
	sum, err := m.Repo.PositionsSummary(ctx)
	if err != nil {
		return err
	}
	item := &models.PortfolioSnapshot{
		SnapshotAt:     time.Now().UTC().Truncate(time.Hour),
		TotalPositions: int(sum.TotalOpen),
		TotalCostBasis: sum.TotalCostBasis,
		TotalMarketVal: sum.TotalMarketVal,
		UnrealizedPnL:  sum.UnrealizedPnL,
		RealizedPnL:    sum.RealizedPnL,
		NetLiquidation: sum.NetLiquidation,
		CreatedAt:      time.Now().UTC(),
	}
	return m.Repo.InsertPortfolioSnapshot(ctx, item)
}

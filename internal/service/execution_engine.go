package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tradecore/internal/broker"
	"tradecore/internal/marketdata"
	"tradecore/internal/models"
	"tradecore/internal/repository"
	"tradecore/internal/risk"
	"tradecore/internal/signal"
)

// ExecutionEngine drains the signal hub, gates each signal through risk
// checks, submits surviving orders to the broker, and folds trade updates
// back into order rows and positions.
type ExecutionEngine struct {
	Repo      repository.Repository
	Broker    broker.Broker
	Risk      *risk.Manager
	Positions *PositionManager
	Provider  marketdata.Provider
	Hub       *signal.Hub
	Logger    *zap.Logger
}

// Run consumes signals until the context is cancelled. A bad signal never
// stops the loop; producers get no feedback beyond the order row.
func (e *ExecutionEngine) Run(ctx context.Context) error {
	if e == nil || e.Hub == nil {
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig, ok := <-e.Hub.C():
			if !ok {
				return nil
			}
			if err := e.ProcessSignal(ctx, sig); err != nil && e.Logger != nil {
				e.Logger.Warn("signal processing failed",
					zap.String("symbol", sig.Symbol),
					zap.String("side", sig.Side),
					zap.Error(err),
				)
			}
		}
	}
}

// ProcessSignal runs one signal through validation, admission, and broker
// submission. Every attempt leaves an order row; rejected orders never reach
// the broker.
func (e *ExecutionEngine) ProcessSignal(ctx context.Context, sig signal.TradeSignal) error {
	if e == nil || e.Repo == nil {
		return nil
	}
	symbol := strings.ToUpper(strings.TrimSpace(sig.Symbol))
	side := strings.ToLower(strings.TrimSpace(sig.Side))
	if symbol == "" {
		return fmt.Errorf("signal has no symbol")
	}
	if side != models.OrderSideBuy && side != models.OrderSideSell {
		return fmt.Errorf("invalid side: %s", sig.Side)
	}
	if sig.Quantity.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("invalid qty: %s", sig.Quantity.String())
	}

	now := time.Now().UTC()
	order := &models.Order{
		Symbol:    symbol,
		Side:      side,
		OrderType: "market",
		Quantity:  sig.Quantity,
		Status:    models.OrderStatusPending,
		Reason:    strings.TrimSpace(sig.Reason),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.Repo.InsertOrder(ctx, order); err != nil {
		return err
	}

	price := e.referencePrice(ctx, symbol)
	posValue := decimal.Zero
	if e.Positions != nil {
		v, err := e.Positions.PositionValue(ctx, symbol)
		if err != nil {
			if e.Logger != nil {
				e.Logger.Warn("position value lookup failed",
					zap.String("symbol", symbol),
					zap.Error(err),
				)
			}
		} else {
			posValue = v
		}
	}
	if err := e.Risk.CheckOrder(ctx, symbol, side, sig.Quantity, price, posValue); err != nil {
		if !risk.IsRejection(err) {
			return err
		}
		if e.Logger != nil {
			e.Logger.Info("order rejected by risk checks",
				zap.Uint64("order_id", order.ID),
				zap.String("symbol", symbol),
				zap.String("reason", err.Error()),
			)
		}
		return e.Repo.UpdateOrderStatus(ctx, order.ID, models.OrderStatusRejected, map[string]any{
			"error_message": err.Error(),
		})
	}

	result, err := e.Broker.SubmitOrder(ctx, broker.OrderRequest{
		Symbol:      symbol,
		Side:        side,
		Qty:         sig.Quantity,
		OrderType:   "market",
		TimeInForce: broker.TimeInForce(symbol),
	})
	if err != nil {
		if e.Logger != nil {
			e.Logger.Warn("broker submission failed",
				zap.Uint64("order_id", order.ID),
				zap.String("symbol", symbol),
				zap.Error(err),
			)
		}
		return e.Repo.UpdateOrderStatus(ctx, order.ID, models.OrderStatusRejected, map[string]any{
			"error_message": err.Error(),
		})
	}

	submittedAt := now
	if result.SubmittedAt != nil {
		submittedAt = result.SubmittedAt.UTC()
	}
	if e.Logger != nil {
		e.Logger.Info("order submitted",
			zap.Uint64("order_id", order.ID),
			zap.String("symbol", symbol),
			zap.String("side", side),
			zap.String("qty", sig.Quantity.String()),
			zap.String("broker_order_id", result.BrokerOrderID),
		)
	}
	return e.Repo.UpdateOrderStatus(ctx, order.ID, models.OrderStatusSubmitted, map[string]any{
		"broker_order_id": result.BrokerOrderID,
		"submitted_at":    &submittedAt,
	})
}

// referencePrice is best-effort: admission falls back to qty-only checks when
// no quote is available.
func (e *ExecutionEngine) referencePrice(ctx context.Context, symbol string) decimal.Decimal {
	if e == nil || e.Provider == nil {
		return decimal.Zero
	}
	price, ok, err := e.Provider.LatestPrice(ctx, symbol)
	if err != nil || !ok {
		return decimal.Zero
	}
	return price
}

// HandleOrderUpdate applies one broker trade update. Updates for unknown
// orders are logged and dropped; terminal orders are never reopened.
func (e *ExecutionEngine) HandleOrderUpdate(ctx context.Context, update broker.OrderUpdate) error {
	if e == nil || e.Repo == nil {
		return nil
	}
	order, err := e.Repo.GetOrderByBrokerID(ctx, update.BrokerOrderID)
	if err != nil {
		return err
	}
	if order == nil {
		if e.Logger != nil {
			e.Logger.Warn("trade update for unknown order, dropping",
				zap.String("broker_order_id", update.BrokerOrderID),
				zap.String("event", update.Event),
			)
		}
		return nil
	}
	if models.TerminalOrderStatus(order.Status) {
		if e.Logger != nil {
			e.Logger.Debug("trade update for terminal order, ignoring",
				zap.Uint64("order_id", order.ID),
				zap.String("status", order.Status),
				zap.String("event", update.Event),
			)
		}
		return nil
	}

	now := update.At
	if now.IsZero() {
		now = time.Now().UTC()
	}
	switch update.Event {
	case broker.EventFill:
		if err := e.Repo.UpdateOrderStatus(ctx, order.ID, models.OrderStatusFilled, map[string]any{
			"filled_qty": update.FilledQty,
			"fill_price": update.FillPrice,
			"filled_at":  &now,
		}); err != nil {
			return err
		}
		return e.applyFill(ctx, order, update)
	case broker.EventPartialFill:
		if err := e.Repo.UpdateOrderStatus(ctx, order.ID, models.OrderStatusPartial, map[string]any{
			"filled_qty": update.FilledQty,
			"fill_price": update.FillPrice,
		}); err != nil {
			return err
		}
		return e.applyFill(ctx, order, update)
	case broker.EventCanceled:
		return e.Repo.UpdateOrderStatus(ctx, order.ID, models.OrderStatusCancelled, map[string]any{
			"cancelled_at": &now,
		})
	case broker.EventRejected:
		return e.Repo.UpdateOrderStatus(ctx, order.ID, models.OrderStatusRejected, map[string]any{
			"error_message": "rejected by broker",
		})
	case broker.EventExpired:
		return e.Repo.UpdateOrderStatus(ctx, order.ID, models.OrderStatusExpired, nil)
	default:
		if e.Logger != nil {
			e.Logger.Debug("unhandled trade update event",
				zap.Uint64("order_id", order.ID),
				zap.String("event", update.Event),
			)
		}
		return nil
	}
}

func (e *ExecutionEngine) applyFill(ctx context.Context, order *models.Order, update broker.OrderUpdate) error {
	if e.Positions == nil {
		return nil
	}
	qty := update.FilledQty
	// Fills report cumulative filled qty; apply only the new slice. A
	// duplicate or stale update carries nothing new and is skipped.
	if order.FilledQty.GreaterThan(decimal.Zero) {
		if !qty.GreaterThan(order.FilledQty) {
			return nil
		}
		qty = qty.Sub(order.FilledQty)
	}
	if qty.LessThanOrEqual(decimal.Zero) || update.FillPrice.LessThanOrEqual(decimal.Zero) {
		return nil
	}
	return e.Positions.ApplyFill(ctx, order.Symbol, order.Side, qty, update.FillPrice)
}

// CancelOrder asks the broker to cancel a live order. The status flip to
// cancelled arrives through the trade-update stream, not here.
func (e *ExecutionEngine) CancelOrder(ctx context.Context, id uint64) error {
	if e == nil || e.Repo == nil {
		return fmt.Errorf("engine unavailable")
	}
	order, err := e.Repo.GetOrderByID(ctx, id)
	if err != nil {
		return err
	}
	if order == nil {
		return fmt.Errorf("order %d not found", id)
	}
	if models.TerminalOrderStatus(order.Status) {
		return fmt.Errorf("order %d already %s", id, order.Status)
	}
	if order.BrokerOrderID == "" {
		// Never reached the broker; close it out locally.
		now := time.Now().UTC()
		return e.Repo.UpdateOrderStatus(ctx, order.ID, models.OrderStatusCancelled, map[string]any{
			"cancelled_at": &now,
		})
	}
	if e.Broker == nil {
		return fmt.Errorf("broker unavailable")
	}
	return e.Broker.CancelOrder(ctx, order.BrokerOrderID)
}

// RunStream pumps the broker trade-update stream into HandleOrderUpdate,
// reconnecting until the context is cancelled.
func (e *ExecutionEngine) RunStream(ctx context.Context, stream *broker.UpdateStream) error {
	if e == nil || stream == nil {
		return nil
	}
	return stream.Run(ctx, func(update broker.OrderUpdate) {
		if err := e.HandleOrderUpdate(ctx, update); err != nil && e.Logger != nil {
			e.Logger.Warn("trade update handling failed",
				zap.String("broker_order_id", update.BrokerOrderID),
				zap.Error(err),
			)
		}
	})
}

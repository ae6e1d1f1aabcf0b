package service

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tradecore/internal/broker"
	"tradecore/internal/models"
	"tradecore/internal/repository"
)

// PositionSyncService reconciles local positions against the broker. The
// broker is the source of truth for quantity and price; realized P&L is local
// bookkeeping and is never overwritten.
type PositionSyncService struct {
	Repo   repository.Repository
	Broker broker.Broker
	Logger *zap.Logger
}

func (s *PositionSyncService) Run(ctx context.Context, interval time.Duration) error {
	if s == nil || s.Repo == nil || s.Broker == nil {
		return nil
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		if err := s.SyncOnce(ctx); err != nil && s.Logger != nil {
			s.Logger.Warn("position sync failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

// SyncOnce replaces each local row's quantity, price, and valuation with the
// broker's numbers. Local open symbols the broker no longer reports are
// zeroed out, keeping their realized P&L.
func (s *PositionSyncService) SyncOnce(ctx context.Context) error {
	if s == nil || s.Repo == nil || s.Broker == nil {
		return nil
	}
	brokerPositions, err := s.Broker.ListPositions(ctx)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	seen := map[string]struct{}{}
	for _, bp := range brokerPositions {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		symbol := strings.ToUpper(strings.TrimSpace(bp.Symbol))
		if symbol == "" {
			continue
		}
		seen[symbol] = struct{}{}

		pos, err := s.Repo.GetPositionBySymbol(ctx, symbol)
		if err != nil {
			if s.Logger != nil {
				s.Logger.Warn("position read failed, skipping symbol", zap.String("symbol", symbol), zap.Error(err))
			}
			continue
		}
		if pos == nil {
			pos = &models.Position{
				Symbol:    symbol,
				Status:    models.PositionStatusOpen,
				OpenedAt:  now,
				CreatedAt: now,
			}
		}
		pos.Quantity = bp.Qty
		pos.AvgEntryPrice = bp.AvgEntryPrice
		pos.CurrentPrice = bp.CurrentPrice
		pos.CostBasis = bp.CostBasis
		pos.MarketValue = bp.MarketValue
		pos.UnrealizedPnL = bp.UnrealizedPnL
		if pos.Quantity.IsZero() {
			pos.Status = models.PositionStatusClosed
			pos.ClosedAt = &now
		} else {
			pos.Status = models.PositionStatusOpen
			pos.ClosedAt = nil
		}
		pos.UpdatedAt = now
		if err := s.Repo.UpsertPosition(ctx, pos); err != nil {
			if s.Logger != nil {
				s.Logger.Warn("position write failed, skipping symbol", zap.String("symbol", symbol), zap.Error(err))
			}
			continue
		}
	}

	locals, err := s.Repo.ListOpenPositions(ctx)
	if err != nil {
		return err
	}
	for i := range locals {
		pos := locals[i]
		if _, ok := seen[pos.Symbol]; ok {
			continue
		}
		if s.Logger != nil {
			s.Logger.Info("position not at broker, zeroing",
				zap.String("symbol", pos.Symbol),
				zap.String("local_qty", pos.Quantity.String()),
			)
		}
		pos.Quantity = decimal.Zero
		pos.AvgEntryPrice = decimal.Zero
		pos.CostBasis = decimal.Zero
		pos.MarketValue = decimal.Zero
		pos.UnrealizedPnL = decimal.Zero
		pos.Status = models.PositionStatusClosed
		pos.ClosedAt = &now
		pos.UpdatedAt = now
		if err := s.Repo.UpsertPosition(ctx, &pos); err != nil {
			if s.Logger != nil {
				s.Logger.Warn("position zeroing failed, skipping symbol", zap.String("symbol", pos.Symbol), zap.Error(err))
			}
			continue
		}
	}
	return nil
}

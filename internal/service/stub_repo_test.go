package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"tradecore/internal/broker"
	"tradecore/internal/marketdata"
	"tradecore/internal/models"
	"tradecore/internal/repository"
)

// stubRepo is a test-only in-memory implementation of repository.Repository.
type stubRepo struct {
	nextOrderID uint64
	orders      map[uint64]*models.Order
	positions   map[string]*models.Position
	limits      map[string]*models.RiskLimit
	snapshots   []models.PortfolioSnapshot

	// upsertErrFor fails UpsertPosition for the named symbols.
	upsertErrFor map[string]error
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		orders:    map[uint64]*models.Order{},
		positions: map[string]*models.Position{},
		limits:    map[string]*models.RiskLimit{},
	}
}

func (s *stubRepo) InsertOrder(ctx context.Context, item *models.Order) error {
	s.nextOrderID++
	item.ID = s.nextOrderID
	cp := *item
	s.orders[item.ID] = &cp
	return nil
}

func (s *stubRepo) GetOrderByID(ctx context.Context, id uint64) (*models.Order, error) {
	item, ok := s.orders[id]
	if !ok {
		return nil, nil
	}
	cp := *item
	return &cp, nil
}

func (s *stubRepo) GetOrderByBrokerID(ctx context.Context, brokerOrderID string) (*models.Order, error) {
	var latest *models.Order
	for _, item := range s.orders {
		if item.BrokerOrderID != brokerOrderID {
			continue
		}
		if latest == nil || item.CreatedAt.After(latest.CreatedAt) {
			latest = item
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (s *stubRepo) ListOrders(ctx context.Context, params repository.ListOrdersParams) ([]models.Order, error) {
	var out []models.Order
	for _, item := range s.orders {
		if params.Status != nil && item.Status != *params.Status {
			continue
		}
		if params.Symbol != nil && item.Symbol != *params.Symbol {
			continue
		}
		out = append(out, *item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *stubRepo) CountOrders(ctx context.Context, params repository.ListOrdersParams) (int64, error) {
	items, _ := s.ListOrders(ctx, params)
	return int64(len(items)), nil
}

func (s *stubRepo) UpdateOrderStatus(ctx context.Context, id uint64, status string, updates map[string]any) error {
	item, ok := s.orders[id]
	if !ok {
		return fmt.Errorf("order %d not found", id)
	}
	item.Status = status
	for key, val := range updates {
		switch key {
		case "broker_order_id":
			item.BrokerOrderID = val.(string)
		case "error_message":
			item.ErrorMessage = val.(string)
		case "filled_qty":
			item.FilledQty = val.(decimal.Decimal)
		case "fill_price":
			item.FillPrice = val.(decimal.Decimal)
		case "submitted_at":
			item.SubmittedAt = val.(*time.Time)
		case "filled_at":
			item.FilledAt = val.(*time.Time)
		case "cancelled_at":
			item.CancelledAt = val.(*time.Time)
		}
	}
	item.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *stubRepo) UpsertPosition(ctx context.Context, item *models.Position) error {
	if err, ok := s.upsertErrFor[item.Symbol]; ok {
		return err
	}
	cp := *item
	s.positions[item.Symbol] = &cp
	return nil
}

func (s *stubRepo) GetPositionBySymbol(ctx context.Context, symbol string) (*models.Position, error) {
	item, ok := s.positions[strings.ToUpper(symbol)]
	if !ok {
		return nil, nil
	}
	cp := *item
	return &cp, nil
}

func (s *stubRepo) ListPositions(ctx context.Context, params repository.ListPositionsParams) ([]models.Position, error) {
	var out []models.Position
	for _, item := range s.positions {
		if params.Status != nil && item.Status != *params.Status {
			continue
		}
		out = append(out, *item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (s *stubRepo) CountPositions(ctx context.Context, params repository.ListPositionsParams) (int64, error) {
	items, _ := s.ListPositions(ctx, params)
	return int64(len(items)), nil
}

func (s *stubRepo) ListOpenPositions(ctx context.Context) ([]models.Position, error) {
	open := models.PositionStatusOpen
	return s.ListPositions(ctx, repository.ListPositionsParams{Status: &open})
}

func (s *stubRepo) PositionsSummary(ctx context.Context) (repository.PositionsSummary, error) {
	out := repository.PositionsSummary{}
	for _, item := range s.positions {
		out.RealizedPnL = out.RealizedPnL.Add(item.RealizedPnL)
		if item.Status != models.PositionStatusOpen {
			continue
		}
		out.TotalOpen++
		out.TotalCostBasis = out.TotalCostBasis.Add(item.CostBasis)
		out.TotalMarketVal = out.TotalMarketVal.Add(item.MarketValue)
		out.UnrealizedPnL = out.UnrealizedPnL.Add(item.UnrealizedPnL)
	}
	out.NetLiquidation = out.TotalMarketVal.Add(out.RealizedPnL)
	return out, nil
}

func (s *stubRepo) InsertPortfolioSnapshot(ctx context.Context, item *models.PortfolioSnapshot) error {
	s.snapshots = append(s.snapshots, *item)
	return nil
}

func (s *stubRepo) ListPortfolioSnapshots(ctx context.Context, params repository.ListPortfolioSnapshotsParams) ([]models.PortfolioSnapshot, error) {
	var out []models.PortfolioSnapshot
	for _, item := range s.snapshots {
		if params.Since != nil && item.SnapshotAt.Before(*params.Since) {
			continue
		}
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SnapshotAt.After(out[j].SnapshotAt) })
	return out, nil
}

func (s *stubRepo) UpsertRiskLimit(ctx context.Context, item *models.RiskLimit) error {
	cp := *item
	s.limits[item.Key] = &cp
	return nil
}

func (s *stubRepo) GetRiskLimitByKey(ctx context.Context, key string) (*models.RiskLimit, error) {
	item, ok := s.limits[key]
	if !ok {
		return nil, nil
	}
	cp := *item
	return &cp, nil
}

func (s *stubRepo) ListRiskLimits(ctx context.Context) ([]models.RiskLimit, error) {
	var out []models.RiskLimit
	for _, item := range s.limits {
		out = append(out, *item)
	}
	return out, nil
}

// fakeBroker records submissions and answers with canned data.
type fakeBroker struct {
	submitted []broker.OrderRequest
	submitErr error
	nextID    int
	cancelled []string
	account   broker.Account
	positions []broker.Position
}

func (b *fakeBroker) SubmitOrder(ctx context.Context, req broker.OrderRequest) (broker.OrderResult, error) {
	if b.submitErr != nil {
		return broker.OrderResult{}, b.submitErr
	}
	b.submitted = append(b.submitted, req)
	b.nextID++
	now := time.Now().UTC()
	return broker.OrderResult{
		BrokerOrderID: fmt.Sprintf("bo-%d", b.nextID),
		Status:        models.OrderStatusSubmitted,
		SubmittedAt:   &now,
	}, nil
}

func (b *fakeBroker) CancelOrder(ctx context.Context, brokerOrderID string) error {
	b.cancelled = append(b.cancelled, brokerOrderID)
	return nil
}

func (b *fakeBroker) GetOrder(ctx context.Context, brokerOrderID string) (broker.OrderResult, error) {
	return broker.OrderResult{BrokerOrderID: brokerOrderID}, nil
}

func (b *fakeBroker) GetAccount(ctx context.Context) (broker.Account, error) {
	return b.account, nil
}

func (b *fakeBroker) ListPositions(ctx context.Context) ([]broker.Position, error) {
	return b.positions, nil
}

// fakeProvider serves prices and bar history from maps.
type fakeProvider struct {
	prices map[string]decimal.Decimal
	bars   map[string][]marketdata.Bar
	errFor map[string]error
}

func (p *fakeProvider) LatestPrice(ctx context.Context, symbol string) (decimal.Decimal, bool, error) {
	if err, ok := p.errFor[symbol]; ok {
		return decimal.Zero, false, err
	}
	price, ok := p.prices[symbol]
	if !ok {
		return decimal.Zero, false, nil
	}
	return price, true, nil
}

func (p *fakeProvider) Bars(ctx context.Context, symbol string, window time.Duration) ([]marketdata.Bar, error) {
	return p.bars[symbol], nil
}

// flatBars builds a bar series moving linearly from start to end close.
func flatBars(start, end float64, n int) []marketdata.Bar {
	out := make([]marketdata.Bar, n)
	step := (end - start) / float64(n-1)
	base := time.Now().UTC().Add(-time.Duration(n) * time.Minute)
	for i := 0; i < n; i++ {
		price := decimal.NewFromFloat(start + step*float64(i))
		out[i] = marketdata.Bar{
			Time:  base.Add(time.Duration(i) * time.Minute),
			Open:  price,
			High:  price,
			Low:   price,
			Close: price,
		}
	}
	return out
}

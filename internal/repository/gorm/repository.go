package gormrepository

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tradecore/internal/models"
	"tradecore/internal/repository"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// --- orders -----------------------------------------------------------------

func (s *Store) InsertOrder(ctx context.Context, item *models.Order) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) GetOrderByID(ctx context.Context, id uint64) (*models.Order, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	if id == 0 {
		return nil, nil
	}
	var item models.Order
	err := s.db.WithContext(ctx).Model(&models.Order{}).Where("id = ?", id).First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) GetOrderByBrokerID(ctx context.Context, brokerOrderID string) (*models.Order, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	brokerOrderID = strings.TrimSpace(brokerOrderID)
	if brokerOrderID == "" {
		return nil, nil
	}
	var item models.Order
	err := s.db.WithContext(ctx).Model(&models.Order{}).
		Where("broker_order_id = ?", brokerOrderID).
		Order("created_at desc").
		First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListOrders(ctx context.Context, params repository.ListOrdersParams) ([]models.Order, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.Order{})
	if params.Status != nil && strings.TrimSpace(*params.Status) != "" {
		query = query.Where("status = ?", strings.TrimSpace(*params.Status))
	}
	if params.Symbol != nil && strings.TrimSpace(*params.Symbol) != "" {
		query = query.Where("symbol = ?", strings.TrimSpace(*params.Symbol))
	}
	if params.Side != nil && strings.TrimSpace(*params.Side) != "" {
		query = query.Where("side = ?", strings.TrimSpace(*params.Side))
	}
	if params.Since != nil && !params.Since.IsZero() {
		query = query.Where("created_at >= ?", *params.Since)
	}
	query = applyOrder(query, params.OrderBy, params.Asc, "created_at")
	limit := normalizeLimit(params.Limit, 200)
	offset := normalizeOffset(params.Offset)
	var items []models.Order
	if err := query.Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountOrders(ctx context.Context, params repository.ListOrdersParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	query := s.db.WithContext(ctx).Model(&models.Order{})
	if params.Status != nil && strings.TrimSpace(*params.Status) != "" {
		query = query.Where("status = ?", strings.TrimSpace(*params.Status))
	}
	if params.Symbol != nil && strings.TrimSpace(*params.Symbol) != "" {
		query = query.Where("symbol = ?", strings.TrimSpace(*params.Symbol))
	}
	if params.Side != nil && strings.TrimSpace(*params.Side) != "" {
		query = query.Where("side = ?", strings.TrimSpace(*params.Side))
	}
	if params.Since != nil && !params.Since.IsZero() {
		query = query.Where("created_at >= ?", *params.Since)
	}
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Store) UpdateOrderStatus(ctx context.Context, id uint64, status string, updates map[string]any) error {
	if s == nil || s.db == nil {
		return nil
	}
	if id == 0 || strings.TrimSpace(status) == "" {
		return nil
	}
	next := map[string]any{
		"status":     strings.TrimSpace(status),
		"updated_at": time.Now().UTC(),
	}
	for k, v := range updates {
		next[k] = v
	}
	return s.db.WithContext(ctx).Model(&models.Order{}).Where("id = ?", id).Updates(next).Error
}

// --- positions --------------------------------------------------------------

func (s *Store) UpsertPosition(ctx context.Context, item *models.Position) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	item.Symbol = strings.TrimSpace(item.Symbol)
	if item.Symbol == "" {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "symbol"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"quantity",
			"avg_entry_price",
			"current_price",
			"cost_basis",
			"market_value",
			"unrealized_pnl",
			"realized_pnl",
			"status",
			"opened_at",
			"closed_at",
			"updated_at",
		}),
	}).Create(item).Error
}

func (s *Store) GetPositionBySymbol(ctx context.Context, symbol string) (*models.Position, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return nil, nil
	}
	var item models.Position
	err := s.db.WithContext(ctx).Model(&models.Position{}).Where("symbol = ?", symbol).First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListPositions(ctx context.Context, params repository.ListPositionsParams) ([]models.Position, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.Position{})
	if params.Status != nil && strings.TrimSpace(*params.Status) != "" {
		query = query.Where("status = ?", strings.TrimSpace(*params.Status))
	}
	if params.Symbol != nil && strings.TrimSpace(*params.Symbol) != "" {
		query = query.Where("symbol = ?", strings.TrimSpace(*params.Symbol))
	}
	query = applyOrder(query, params.OrderBy, params.Asc, "opened_at")
	limit := normalizeLimit(params.Limit, 200)
	offset := normalizeOffset(params.Offset)
	var items []models.Position
	if err := query.Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountPositions(ctx context.Context, params repository.ListPositionsParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	query := s.db.WithContext(ctx).Model(&models.Position{})
	if params.Status != nil && strings.TrimSpace(*params.Status) != "" {
		query = query.Where("status = ?", strings.TrimSpace(*params.Status))
	}
	if params.Symbol != nil && strings.TrimSpace(*params.Symbol) != "" {
		query = query.Where("symbol = ?", strings.TrimSpace(*params.Symbol))
	}
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Store) ListOpenPositions(ctx context.Context) ([]models.Position, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Position
	if err := s.db.WithContext(ctx).Model(&models.Position{}).
		Where("status = ?", models.PositionStatusOpen).
		Order("opened_at asc").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) PositionsSummary(ctx context.Context) (repository.PositionsSummary, error) {
	if s == nil || s.db == nil {
		return repository.PositionsSummary{}, nil
	}
	var row struct {
		TotalOpen      int64
		TotalCostBasis decimal.Decimal
		TotalMarketVal decimal.Decimal
		UnrealizedPnL  decimal.Decimal
		RealizedPnL    decimal.Decimal
	}
	err := s.db.WithContext(ctx).
		Table("positions").
		Select(`
			COALESCE(SUM(CASE WHEN status = 'open' THEN 1 ELSE 0 END),0) AS total_open,
			COALESCE(SUM(CASE WHEN status = 'open' THEN cost_basis ELSE 0 END),0) AS total_cost_basis,
			COALESCE(SUM(CASE WHEN status = 'open' THEN market_value ELSE 0 END),0) AS total_market_val,
			COALESCE(SUM(CASE WHEN status = 'open' THEN unrealized_pnl ELSE 0 END),0) AS unrealized_pnl,
			COALESCE(SUM(realized_pnl),0) AS realized_pnl
		`).
		Scan(&row).Error
	if err != nil {
		return repository.PositionsSummary{}, err
	}
	return repository.PositionsSummary{
		TotalOpen:      row.TotalOpen,
		TotalCostBasis: row.TotalCostBasis,
		TotalMarketVal: row.TotalMarketVal,
		UnrealizedPnL:  row.UnrealizedPnL,
		RealizedPnL:    row.RealizedPnL,
		NetLiquidation: row.TotalMarketVal.Add(row.RealizedPnL),
	}, nil
}

func (s *Store) InsertPortfolioSnapshot(ctx context.Context, item *models.PortfolioSnapshot) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "snapshot_at"}},
		DoUpdates: clause.AssignmentColumns([]string{"total_positions", "total_cost_basis", "total_market_val", "unrealized_pnl", "realized_pnl", "net_liquidation"}),
	}).Create(item).Error
}

func (s *Store) ListPortfolioSnapshots(ctx context.Context, params repository.ListPortfolioSnapshotsParams) ([]models.PortfolioSnapshot, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.PortfolioSnapshot{})
	if params.Since != nil && !params.Since.IsZero() {
		query = query.Where("snapshot_at >= ?", params.Since.UTC())
	}
	if params.Until != nil && !params.Until.IsZero() {
		query = query.Where("snapshot_at <= ?", params.Until.UTC())
	}
	limit := normalizeLimit(params.Limit, 500)
	offset := normalizeOffset(params.Offset)
	var items []models.PortfolioSnapshot
	if err := query.Order("snapshot_at desc").Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- risk limits ------------------------------------------------------------

func (s *Store) UpsertRiskLimit(ctx context.Context, item *models.RiskLimit) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	item.Key = strings.TrimSpace(item.Key)
	if item.Key == "" {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"value",
			"description",
			"updated_at",
		}),
	}).Create(item).Error
}

func (s *Store) GetRiskLimitByKey(ctx context.Context, key string) (*models.RiskLimit, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, nil
	}
	var item models.RiskLimit
	err := s.db.WithContext(ctx).Model(&models.RiskLimit{}).Where("key = ?", key).First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListRiskLimits(ctx context.Context) ([]models.RiskLimit, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.RiskLimit
	if err := s.db.WithContext(ctx).
		Model(&models.RiskLimit{}).
		Order("key asc").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- helpers ----------------------------------------------------------------

func applyOrder(query *gorm.DB, orderBy string, asc *bool, fallback string) *gorm.DB {
	column := strings.TrimSpace(orderBy)
	if column == "" {
		column = fallback
	}
	direction := "desc"
	if asc != nil && *asc {
		direction = "asc"
	}
	return query.Order(column + " " + direction)
}

func normalizeLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > 500 {
		return 500
	}
	return limit
}

func normalizeOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}

package service

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"tradecore/internal/models"
)

func TestApplyFill_OpensPosition(t *testing.T) {
	repo := newStubRepo()
	m := &PositionManager{Repo: repo}

	err := m.ApplyFill(context.Background(), "AAPL", models.OrderSideBuy, decimal.NewFromInt(10), decimal.NewFromInt(150))
	if err != nil {
		t.Fatalf("ApplyFill: %v", err)
	}

	pos, _ := repo.GetPositionBySymbol(context.Background(), "AAPL")
	if pos == nil {
		t.Fatal("position not created")
	}
	if pos.Quantity.Cmp(decimal.NewFromInt(10)) != 0 {
		t.Fatalf("qty=%s want=10", pos.Quantity.String())
	}
	if pos.AvgEntryPrice.Cmp(decimal.NewFromInt(150)) != 0 {
		t.Fatalf("avg=%s want=150", pos.AvgEntryPrice.String())
	}
	if pos.CostBasis.Cmp(decimal.NewFromInt(1500)) != 0 {
		t.Fatalf("cost_basis=%s want=1500", pos.CostBasis.String())
	}
	if pos.Status != models.PositionStatusOpen {
		t.Fatalf("status=%s want=open", pos.Status)
	}
}

func TestApplyFill_BuyBlendsAverage(t *testing.T) {
	repo := newStubRepo()
	m := &PositionManager{Repo: repo}
	ctx := context.Background()

	_ = m.ApplyFill(ctx, "AAPL", models.OrderSideBuy, decimal.NewFromInt(10), decimal.NewFromInt(100))
	_ = m.ApplyFill(ctx, "AAPL", models.OrderSideBuy, decimal.NewFromInt(10), decimal.NewFromInt(200))

	pos, _ := repo.GetPositionBySymbol(ctx, "AAPL")
	if pos.Quantity.Cmp(decimal.NewFromInt(20)) != 0 {
		t.Fatalf("qty=%s want=20", pos.Quantity.String())
	}
	if pos.AvgEntryPrice.Cmp(decimal.NewFromInt(150)) != 0 {
		t.Fatalf("avg=%s want=150", pos.AvgEntryPrice.String())
	}
}

func TestApplyFill_SellRealizesPnL(t *testing.T) {
	repo := newStubRepo()
	m := &PositionManager{Repo: repo}
	ctx := context.Background()

	_ = m.ApplyFill(ctx, "AAPL", models.OrderSideBuy, decimal.NewFromInt(10), decimal.NewFromInt(150))
	if err := m.ApplyFill(ctx, "AAPL", models.OrderSideSell, decimal.NewFromInt(5), decimal.NewFromInt(170)); err != nil {
		t.Fatalf("ApplyFill sell: %v", err)
	}

	pos, _ := repo.GetPositionBySymbol(ctx, "AAPL")
	if pos.Quantity.Cmp(decimal.NewFromInt(5)) != 0 {
		t.Fatalf("qty=%s want=5", pos.Quantity.String())
	}
	if pos.RealizedPnL.Cmp(decimal.NewFromInt(100)) != 0 {
		t.Fatalf("realized=%s want=100", pos.RealizedPnL.String())
	}
	// Sells never move the average.
	if pos.AvgEntryPrice.Cmp(decimal.NewFromInt(150)) != 0 {
		t.Fatalf("avg=%s want=150", pos.AvgEntryPrice.String())
	}
}

func TestApplyFill_OversellGoesShort(t *testing.T) {
	repo := newStubRepo()
	m := &PositionManager{Repo: repo}
	ctx := context.Background()

	_ = m.ApplyFill(ctx, "AAPL", models.OrderSideBuy, decimal.NewFromInt(5), decimal.NewFromInt(100))
	_ = m.ApplyFill(ctx, "AAPL", models.OrderSideSell, decimal.NewFromInt(10), decimal.NewFromInt(120))

	pos, _ := repo.GetPositionBySymbol(ctx, "AAPL")
	if pos.Quantity.Cmp(decimal.NewFromInt(-5)) != 0 {
		t.Fatalf("qty=%s want=-5, oversell leaves a short", pos.Quantity.String())
	}
	// The full 10 shares realize against the 100 average.
	if pos.RealizedPnL.Cmp(decimal.NewFromInt(200)) != 0 {
		t.Fatalf("realized=%s want=200 (10 shares at +20)", pos.RealizedPnL.String())
	}
	if pos.Status != models.PositionStatusOpen {
		t.Fatalf("status=%s want=open", pos.Status)
	}
	if pos.AvgEntryPrice.Cmp(decimal.NewFromInt(100)) != 0 {
		t.Fatalf("avg=%s want=100, sells never move the average", pos.AvgEntryPrice.String())
	}
}

func TestApplyFill_DustCollapsesToClosed(t *testing.T) {
	repo := newStubRepo()
	m := &PositionManager{Repo: repo}
	ctx := context.Background()

	_ = m.ApplyFill(ctx, "BTCUSDT", models.OrderSideBuy, decimal.NewFromFloat(0.5), decimal.NewFromInt(40000))
	_ = m.ApplyFill(ctx, "BTCUSDT", models.OrderSideSell, decimal.NewFromFloat(0.49995), decimal.NewFromInt(41000))

	pos, _ := repo.GetPositionBySymbol(ctx, "BTCUSDT")
	if pos.Status != models.PositionStatusClosed {
		t.Fatalf("status=%s want=closed", pos.Status)
	}
	if !pos.Quantity.IsZero() {
		t.Fatalf("qty=%s want=0", pos.Quantity.String())
	}
	if !pos.RealizedPnL.GreaterThan(decimal.Zero) {
		t.Fatalf("realized=%s want>0", pos.RealizedPnL.String())
	}
}

func TestRefreshMarks_SkipsMissingPrices(t *testing.T) {
	repo := newStubRepo()
	ctx := context.Background()
	m := &PositionManager{Repo: repo, Provider: &fakeProvider{
		prices: map[string]decimal.Decimal{"AAPL": decimal.NewFromInt(160)},
	}}

	_ = m.ApplyFill(ctx, "AAPL", models.OrderSideBuy, decimal.NewFromInt(10), decimal.NewFromInt(150))
	_ = m.ApplyFill(ctx, "MSFT", models.OrderSideBuy, decimal.NewFromInt(4), decimal.NewFromInt(300))

	if err := m.RefreshMarks(ctx); err != nil {
		t.Fatalf("RefreshMarks: %v", err)
	}

	aapl, _ := repo.GetPositionBySymbol(ctx, "AAPL")
	if aapl.CurrentPrice.Cmp(decimal.NewFromInt(160)) != 0 {
		t.Fatalf("AAPL mark=%s want=160", aapl.CurrentPrice.String())
	}
	if aapl.UnrealizedPnL.Cmp(decimal.NewFromInt(100)) != 0 {
		t.Fatalf("AAPL unrealized=%s want=100", aapl.UnrealizedPnL.String())
	}
	msft, _ := repo.GetPositionBySymbol(ctx, "MSFT")
	if msft.CurrentPrice.Cmp(decimal.NewFromInt(300)) != 0 {
		t.Fatalf("MSFT mark=%s want=300 (unchanged)", msft.CurrentPrice.String())
	}
}

func TestRefreshMarks_ContinuesPastFailingSymbol(t *testing.T) {
	repo := newStubRepo()
	ctx := context.Background()
	m := &PositionManager{Repo: repo, Provider: &fakeProvider{
		prices: map[string]decimal.Decimal{
			"AAPL": decimal.NewFromInt(160),
			"MSFT": decimal.NewFromInt(310),
		},
	}}

	_ = m.ApplyFill(ctx, "AAPL", models.OrderSideBuy, decimal.NewFromInt(10), decimal.NewFromInt(150))
	_ = m.ApplyFill(ctx, "MSFT", models.OrderSideBuy, decimal.NewFromInt(4), decimal.NewFromInt(300))
	repo.upsertErrFor = map[string]error{"AAPL": errors.New("write refused")}

	if err := m.RefreshMarks(ctx); err != nil {
		t.Fatalf("RefreshMarks: %v", err)
	}
	msft, _ := repo.GetPositionBySymbol(ctx, "MSFT")
	if msft.CurrentPrice.Cmp(decimal.NewFromInt(310)) != 0 {
		t.Fatalf("MSFT mark=%s want=310, batch aborted on AAPL failure", msft.CurrentPrice.String())
	}
}

func TestPositionValue(t *testing.T) {
	repo := newStubRepo()
	m := &PositionManager{Repo: repo}
	ctx := context.Background()

	val, err := m.PositionValue(ctx, "AAPL")
	if err != nil || !val.IsZero() {
		t.Fatalf("value=%s err=%v want=0,nil for unknown symbol", val.String(), err)
	}

	_ = m.ApplyFill(ctx, "AAPL", models.OrderSideBuy, decimal.NewFromInt(10), decimal.NewFromInt(150))
	val, _ = m.PositionValue(ctx, "AAPL")
	if val.Cmp(decimal.NewFromInt(1500)) != 0 {
		t.Fatalf("value=%s want=1500", val.String())
	}
}

func TestSnapshotPortfolio(t *testing.T) {
	repo := newStubRepo()
	m := &PositionManager{Repo: repo}
	ctx := context.Background()

	_ = m.ApplyFill(ctx, "AAPL", models.OrderSideBuy, decimal.NewFromInt(10), decimal.NewFromInt(150))
	if err := m.SnapshotPortfolio(ctx); err != nil {
		t.Fatalf("SnapshotPortfolio: %v", err)
	}
	if len(repo.snapshots) != 1 {
		t.Fatalf("snapshots=%d want=1", len(repo.snapshots))
	}
	if repo.snapshots[0].TotalPositions != 1 {
		t.Fatalf("total_positions=%d want=1", repo.snapshots[0].TotalPositions)
	}
}

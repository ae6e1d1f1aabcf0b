package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tradecore/internal/broker"
	"tradecore/internal/config"
	"tradecore/internal/models"
	"tradecore/internal/risk"
	"tradecore/internal/signal"
)

func newTestEngine(repo *stubRepo, brk *fakeBroker, provider *fakeProvider) *ExecutionEngine {
	if provider == nil {
		provider = &fakeProvider{}
	}
	return &ExecutionEngine{
		Repo:   repo,
		Broker: brk,
		Risk: &risk.Manager{Config: config.RiskConfig{
			MaxPositionSizeUSD: 10000,
			MaxOrderQtyCrypto:  1.0,
			MaxOrderQtyStock:   100,
		}},
		Positions: &PositionManager{Repo: repo},
		Provider:  provider,
		Logger:    nil,
	}
}

func TestProcessSignal_SubmitsAndRecords(t *testing.T) {
	repo := newStubRepo()
	brk := &fakeBroker{}
	eng := newTestEngine(repo, brk, nil)

	err := eng.ProcessSignal(context.Background(), signal.TradeSignal{
		Symbol:   "AAPL",
		Side:     "buy",
		Quantity: decimal.NewFromInt(10),
		Reason:   "manual",
	})
	if err != nil {
		t.Fatalf("ProcessSignal: %v", err)
	}
	if len(brk.submitted) != 1 {
		t.Fatalf("submitted=%d want=1", len(brk.submitted))
	}
	if brk.submitted[0].TimeInForce != "day" {
		t.Fatalf("tif=%s want=day for stock", brk.submitted[0].TimeInForce)
	}

	order, _ := repo.GetOrderByID(context.Background(), 1)
	if order.Status != models.OrderStatusSubmitted {
		t.Fatalf("status=%s want=submitted", order.Status)
	}
	if order.BrokerOrderID == "" {
		t.Fatal("broker order id not recorded")
	}
	if order.SubmittedAt == nil {
		t.Fatal("submitted_at not recorded")
	}
}

func TestProcessSignal_RejectedNeverReachesBroker(t *testing.T) {
	repo := newStubRepo()
	brk := &fakeBroker{}
	eng := newTestEngine(repo, brk, nil)

	err := eng.ProcessSignal(context.Background(), signal.TradeSignal{
		Symbol:   "BTCUSDT",
		Side:     "buy",
		Quantity: decimal.NewFromFloat(2.0),
	})
	if err != nil {
		t.Fatalf("ProcessSignal: %v", err)
	}
	if len(brk.submitted) != 0 {
		t.Fatalf("submitted=%d want=0, rejected order reached broker", len(brk.submitted))
	}

	order, _ := repo.GetOrderByID(context.Background(), 1)
	if order == nil {
		t.Fatal("rejected order must still leave a row")
	}
	if order.Status != models.OrderStatusRejected {
		t.Fatalf("status=%s want=rejected", order.Status)
	}
	if order.ErrorMessage == "" {
		t.Fatal("rejection reason not recorded")
	}
}

func TestProcessSignal_NotionalCapCountsHeldPosition(t *testing.T) {
	repo := newStubRepo()
	brk := &fakeBroker{}
	provider := &fakeProvider{prices: map[string]decimal.Decimal{
		"AAPL": decimal.NewFromInt(100),
	}}
	eng := newTestEngine(repo, brk, provider)
	seedPosition(repo, "AAPL", 95, 100, 100) // $9,500 held against a $10,000 cap

	err := eng.ProcessSignal(context.Background(), signal.TradeSignal{
		Symbol:   "AAPL",
		Side:     "buy",
		Quantity: decimal.NewFromInt(10),
	})
	if err != nil {
		t.Fatalf("ProcessSignal: %v", err)
	}
	if len(brk.submitted) != 0 {
		t.Fatalf("submitted=%d want=0, over-cap buy reached broker", len(brk.submitted))
	}
	order, _ := repo.GetOrderByID(context.Background(), 1)
	if order.Status != models.OrderStatusRejected {
		t.Fatalf("status=%s want=rejected", order.Status)
	}

	// Selling out of the same position is always a shrink and passes.
	if err := eng.ProcessSignal(context.Background(), signal.TradeSignal{
		Symbol:   "AAPL",
		Side:     "sell",
		Quantity: decimal.NewFromInt(10),
	}); err != nil {
		t.Fatalf("ProcessSignal sell: %v", err)
	}
	if len(brk.submitted) != 1 {
		t.Fatalf("submitted=%d want=1, reducing sell blocked", len(brk.submitted))
	}
}

func TestProcessSignal_BrokerErrorMarksRejected(t *testing.T) {
	repo := newStubRepo()
	brk := &fakeBroker{submitErr: context.DeadlineExceeded}
	eng := newTestEngine(repo, brk, nil)

	err := eng.ProcessSignal(context.Background(), signal.TradeSignal{
		Symbol:   "AAPL",
		Side:     "sell",
		Quantity: decimal.NewFromInt(1),
	})
	if err != nil {
		t.Fatalf("ProcessSignal: %v", err)
	}
	order, _ := repo.GetOrderByID(context.Background(), 1)
	if order.Status != models.OrderStatusRejected {
		t.Fatalf("status=%s want=rejected", order.Status)
	}
	if order.ErrorMessage == "" {
		t.Fatal("broker error not recorded")
	}
}

func TestProcessSignal_InvalidSignal(t *testing.T) {
	repo := newStubRepo()
	eng := newTestEngine(repo, &fakeBroker{}, nil)
	ctx := context.Background()

	if err := eng.ProcessSignal(ctx, signal.TradeSignal{Side: "buy", Quantity: decimal.NewFromInt(1)}); err == nil {
		t.Fatal("missing symbol accepted")
	}
	if err := eng.ProcessSignal(ctx, signal.TradeSignal{Symbol: "AAPL", Side: "hold", Quantity: decimal.NewFromInt(1)}); err == nil {
		t.Fatal("bad side accepted")
	}
	if err := eng.ProcessSignal(ctx, signal.TradeSignal{Symbol: "AAPL", Side: "buy"}); err == nil {
		t.Fatal("zero qty accepted")
	}
	if len(repo.orders) != 0 {
		t.Fatalf("orders=%d want=0 for invalid signals", len(repo.orders))
	}
}

func submitOrder(t *testing.T, eng *ExecutionEngine, repo *stubRepo, symbol, side string, qty decimal.Decimal) *models.Order {
	t.Helper()
	if err := eng.ProcessSignal(context.Background(), signal.TradeSignal{Symbol: symbol, Side: side, Quantity: qty}); err != nil {
		t.Fatalf("ProcessSignal: %v", err)
	}
	order, _ := repo.GetOrderByID(context.Background(), repo.nextOrderID)
	if order == nil || order.Status != models.OrderStatusSubmitted {
		t.Fatalf("order not submitted: %+v", order)
	}
	return order
}

func TestHandleOrderUpdate_FillUpdatesOrderAndPosition(t *testing.T) {
	repo := newStubRepo()
	eng := newTestEngine(repo, &fakeBroker{}, nil)
	order := submitOrder(t, eng, repo, "AAPL", "buy", decimal.NewFromInt(10))

	err := eng.HandleOrderUpdate(context.Background(), broker.OrderUpdate{
		Event:         broker.EventFill,
		BrokerOrderID: order.BrokerOrderID,
		Symbol:        "AAPL",
		FilledQty:     decimal.NewFromInt(10),
		FillPrice:     decimal.NewFromInt(150),
		At:            time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("HandleOrderUpdate: %v", err)
	}

	updated, _ := repo.GetOrderByID(context.Background(), order.ID)
	if updated.Status != models.OrderStatusFilled {
		t.Fatalf("status=%s want=filled", updated.Status)
	}
	if updated.FilledAt == nil {
		t.Fatal("filled_at not set")
	}
	pos, _ := repo.GetPositionBySymbol(context.Background(), "AAPL")
	if pos == nil || pos.Quantity.Cmp(decimal.NewFromInt(10)) != 0 {
		t.Fatalf("position not updated from fill: %+v", pos)
	}
}

func TestHandleOrderUpdate_PartialThenFinalFill(t *testing.T) {
	repo := newStubRepo()
	eng := newTestEngine(repo, &fakeBroker{}, nil)
	order := submitOrder(t, eng, repo, "AAPL", "buy", decimal.NewFromInt(10))
	ctx := context.Background()

	_ = eng.HandleOrderUpdate(ctx, broker.OrderUpdate{
		Event:         broker.EventPartialFill,
		BrokerOrderID: order.BrokerOrderID,
		Symbol:        "AAPL",
		FilledQty:     decimal.NewFromInt(4),
		FillPrice:     decimal.NewFromInt(150),
	})
	mid, _ := repo.GetOrderByID(ctx, order.ID)
	if mid.Status != models.OrderStatusPartial {
		t.Fatalf("status=%s want=partial", mid.Status)
	}

	// Final fill reports cumulative qty; only the remaining 6 should hit the
	// position.
	_ = eng.HandleOrderUpdate(ctx, broker.OrderUpdate{
		Event:         broker.EventFill,
		BrokerOrderID: order.BrokerOrderID,
		Symbol:        "AAPL",
		FilledQty:     decimal.NewFromInt(10),
		FillPrice:     decimal.NewFromInt(150),
	})
	final, _ := repo.GetOrderByID(ctx, order.ID)
	if final.Status != models.OrderStatusFilled {
		t.Fatalf("status=%s want=filled", final.Status)
	}
	pos, _ := repo.GetPositionBySymbol(ctx, "AAPL")
	if pos.Quantity.Cmp(decimal.NewFromInt(10)) != 0 {
		t.Fatalf("position qty=%s want=10", pos.Quantity.String())
	}
}

func TestHandleOrderUpdate_UnknownOrderDropped(t *testing.T) {
	repo := newStubRepo()
	eng := newTestEngine(repo, &fakeBroker{}, nil)

	err := eng.HandleOrderUpdate(context.Background(), broker.OrderUpdate{
		Event:         broker.EventFill,
		BrokerOrderID: "nope",
		FilledQty:     decimal.NewFromInt(1),
		FillPrice:     decimal.NewFromInt(10),
	})
	if err != nil {
		t.Fatalf("unknown order must be dropped, got %v", err)
	}
	if len(repo.positions) != 0 {
		t.Fatal("unknown fill must not touch positions")
	}
}

func TestHandleOrderUpdate_TerminalOrderIgnored(t *testing.T) {
	repo := newStubRepo()
	eng := newTestEngine(repo, &fakeBroker{}, nil)
	order := submitOrder(t, eng, repo, "AAPL", "buy", decimal.NewFromInt(10))
	ctx := context.Background()

	_ = eng.HandleOrderUpdate(ctx, broker.OrderUpdate{
		Event:         broker.EventCanceled,
		BrokerOrderID: order.BrokerOrderID,
	})
	cancelled, _ := repo.GetOrderByID(ctx, order.ID)
	if cancelled.Status != models.OrderStatusCancelled {
		t.Fatalf("status=%s want=cancelled", cancelled.Status)
	}

	// A late fill must not reopen the cancelled order.
	_ = eng.HandleOrderUpdate(ctx, broker.OrderUpdate{
		Event:         broker.EventFill,
		BrokerOrderID: order.BrokerOrderID,
		FilledQty:     decimal.NewFromInt(10),
		FillPrice:     decimal.NewFromInt(150),
	})
	after, _ := repo.GetOrderByID(ctx, order.ID)
	if after.Status != models.OrderStatusCancelled {
		t.Fatalf("status=%s want=cancelled after late fill", after.Status)
	}
	if len(repo.positions) != 0 {
		t.Fatal("late fill on terminal order must not touch positions")
	}
}

func TestCancelOrder_LocalWhenNeverSubmitted(t *testing.T) {
	repo := newStubRepo()
	brk := &fakeBroker{}
	eng := newTestEngine(repo, brk, nil)
	ctx := context.Background()

	pending := &models.Order{Symbol: "AAPL", Side: "buy", Quantity: decimal.NewFromInt(1), Status: models.OrderStatusPending}
	_ = repo.InsertOrder(ctx, pending)

	if err := eng.CancelOrder(ctx, pending.ID); err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	got, _ := repo.GetOrderByID(ctx, pending.ID)
	if got.Status != models.OrderStatusCancelled {
		t.Fatalf("status=%s want=cancelled", got.Status)
	}
	if got.CancelledAt == nil {
		t.Fatal("cancelled_at not recorded")
	}
	if len(brk.cancelled) != 0 {
		t.Fatal("local cancel must not call broker")
	}
}

func TestCancelOrder_DelegatesToBroker(t *testing.T) {
	repo := newStubRepo()
	brk := &fakeBroker{}
	eng := newTestEngine(repo, brk, nil)
	order := submitOrder(t, eng, repo, "AAPL", "buy", decimal.NewFromInt(1))

	if err := eng.CancelOrder(context.Background(), order.ID); err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	if len(brk.cancelled) != 1 || brk.cancelled[0] != order.BrokerOrderID {
		t.Fatalf("cancelled=%v want=[%s]", brk.cancelled, order.BrokerOrderID)
	}
}

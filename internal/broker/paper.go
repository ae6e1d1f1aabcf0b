package broker

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// PaperBroker is an in-memory Broker for tests and dry-run mode. Orders are
// acknowledged as submitted; fills are injected by the caller via Fill.
type PaperBroker struct {
	mu        sync.Mutex
	nextID    int
	orders    map[string]OrderResult
	positions map[string]Position
	account   Account

	updates []func(OrderUpdate)
}

func NewPaperBroker(buyingPower decimal.Decimal) *PaperBroker {
	return &PaperBroker{
		nextID:    1,
		orders:    map[string]OrderResult{},
		positions: map[string]Position{},
		account: Account{
			BuyingPower:    buyingPower,
			Cash:           buyingPower,
			PortfolioValue: buyingPower,
		},
	}
}

// OnUpdate registers a sink for simulated trade updates.
func (b *PaperBroker) OnUpdate(fn func(OrderUpdate)) {
	if b == nil || fn == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.updates = append(b.updates, fn)
}

func (b *PaperBroker) SubmitOrder(_ context.Context, req OrderRequest) (OrderResult, error) {
	if b == nil {
		return OrderResult{}, fmt.Errorf("paper broker is nil")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	id := "paper-" + strconv.Itoa(b.nextID)
	b.nextID++
	now := time.Now().UTC()
	result := OrderResult{
		BrokerOrderID: id,
		Status:        "submitted",
		SubmittedAt:   &now,
	}
	b.orders[id] = result
	return result, nil
}

func (b *PaperBroker) CancelOrder(_ context.Context, brokerOrderID string) error {
	if b == nil {
		return fmt.Errorf("paper broker is nil")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	order, ok := b.orders[brokerOrderID]
	if !ok {
		return fmt.Errorf("unknown order: %s", brokerOrderID)
	}
	order.Status = "cancelled"
	b.orders[brokerOrderID] = order
	return nil
}

func (b *PaperBroker) GetOrder(_ context.Context, brokerOrderID string) (OrderResult, error) {
	if b == nil {
		return OrderResult{}, fmt.Errorf("paper broker is nil")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	order, ok := b.orders[brokerOrderID]
	if !ok {
		return OrderResult{}, fmt.Errorf("unknown order: %s", brokerOrderID)
	}
	return order, nil
}

func (b *PaperBroker) GetAccount(_ context.Context) (Account, error) {
	if b == nil {
		return Account{}, fmt.Errorf("paper broker is nil")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.account, nil
}

func (b *PaperBroker) ListPositions(_ context.Context) ([]Position, error) {
	if b == nil {
		return nil, fmt.Errorf("paper broker is nil")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Position, 0, len(b.positions))
	for _, pos := range b.positions {
		out = append(out, pos)
	}
	return out, nil
}

// SetPosition seeds a broker-side position for sync tests.
func (b *PaperBroker) SetPosition(pos Position) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.positions[pos.Symbol] = pos
}

// Fill marks an order filled and emits a fill update to registered sinks.
func (b *PaperBroker) Fill(brokerOrderID string, symbol string, qty, price decimal.Decimal) {
	if b == nil {
		return
	}
	b.mu.Lock()
	order, ok := b.orders[brokerOrderID]
	if ok {
		order.Status = "filled"
		order.FilledQty = qty
		order.FilledPrice = price
		b.orders[brokerOrderID] = order
	}
	sinks := make([]func(OrderUpdate), len(b.updates))
	copy(sinks, b.updates)
	b.mu.Unlock()

	update := OrderUpdate{
		Event:         EventFill,
		BrokerOrderID: brokerOrderID,
		Symbol:        symbol,
		FilledQty:     qty,
		FillPrice:     price,
		At:            time.Now().UTC(),
	}
	for _, fn := range sinks {
		fn(update)
	}
}

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order status values. Every submission attempt gets its own row; rows are
// never deleted, terminal rows are never transitioned again.
const (
	OrderStatusPending   = "pending"
	OrderStatusSubmitted = "submitted"
	OrderStatusPartial   = "partial"
	OrderStatusFilled    = "filled"
	OrderStatusCancelled = "cancelled"
	OrderStatusRejected  = "rejected"
	OrderStatusExpired   = "expired"
)

const (
	OrderSideBuy  = "buy"
	OrderSideSell = "sell"
)

type Order struct {
	ID            uint64 `gorm:"primaryKey;autoIncrement"`
	BrokerOrderID string `gorm:"type:varchar(100);index"`
	Symbol        string `gorm:"type:varchar(30);not null;index"`

	Side      string `gorm:"type:varchar(10);not null"`
	OrderType string `gorm:"type:varchar(20);not null;default:'market'"`

	Quantity  decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	FilledQty decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`
	FillPrice decimal.Decimal `gorm:"type:numeric(20,10);not null;default:0"`

	Status       string `gorm:"type:varchar(20);not null;default:'pending';index"`
	Reason       string `gorm:"type:varchar(200)"`
	ErrorMessage string `gorm:"type:text"`

	SubmittedAt *time.Time `gorm:"type:timestamptz"`
	FilledAt    *time.Time `gorm:"type:timestamptz"`
	CancelledAt *time.Time `gorm:"type:timestamptz"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime;index"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (Order) TableName() string {
	return "orders"
}

// TerminalOrderStatus reports whether an order in status can still change.
func TerminalOrderStatus(status string) bool {
	switch status {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected, OrderStatusExpired:
		return true
	}
	return false
}

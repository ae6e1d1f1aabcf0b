package models

import (
	"time"

	"gorm.io/datatypes"
)

// Well-known risk limit keys.
const (
	RiskKeyMaxPositionSizeUSD = "max_position_size_usd"
	RiskKeyMaxOrderQtyCrypto  = "max_order_qty_crypto"
	RiskKeyMaxOrderQtyStock   = "max_order_qty_stock"
)

// RiskLimit stores runtime-adjustable risk limits as key/value rows so they
// can be changed without a restart.
type RiskLimit struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"`

	Key string `gorm:"type:varchar(120);not null;uniqueIndex"`

	// JSON value, a bare number for numeric limits.
	Value datatypes.JSON `gorm:"type:jsonb;not null"`

	Description string    `gorm:"type:text"`
	CreatedAt   time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"type:timestamptz;autoUpdateTime;index"`
}

func (RiskLimit) TableName() string {
	return "risk_limits"
}

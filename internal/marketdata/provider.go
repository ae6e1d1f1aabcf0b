package marketdata

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Bar is one aggregate of trade history.
type Bar struct {
	Time  time.Time
	Open  decimal.Decimal
	High  decimal.Decimal
	Low   decimal.Decimal
	Close decimal.Decimal
}

// Provider serves last prices and short history for mark-to-market and the
// autonomous loop. Implementations must be safe for concurrent use.
type Provider interface {
	// LatestPrice returns the last trade price, or ok=false when the symbol
	// has no quote right now.
	LatestPrice(ctx context.Context, symbol string) (price decimal.Decimal, ok bool, err error)
	// Bars returns recent aggregates, oldest first.
	Bars(ctx context.Context, symbol string, window time.Duration) ([]Bar, error)
}

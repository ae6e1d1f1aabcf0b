package risk

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tradecore/internal/broker"
	"tradecore/internal/config"
	"tradecore/internal/models"
	"tradecore/internal/repository"
)

// RejectionError carries the human-readable reason an order was blocked.
type RejectionError struct {
	Reason string
}

func (e *RejectionError) Error() string {
	return e.Reason
}

// IsRejection reports whether err is an admission rejection rather than an
// infrastructure failure.
func IsRejection(err error) bool {
	_, ok := err.(*RejectionError)
	return ok
}

type Limits struct {
	MaxPositionSizeUSD decimal.Decimal
	MaxOrderQtyCrypto  decimal.Decimal
	MaxOrderQtyStock   decimal.Decimal
}

// Manager gates every order before it reaches the broker. Limits live in the
// risk_limits table and are cached briefly; config values are the fallback
// when a key is missing or the DB is unreachable.
type Manager struct {
	Config config.RiskConfig
	Repo   repository.Repository
	Logger *zap.Logger

	// Now is factored for market-hours tests.
	Now func() time.Time

	mu           sync.Mutex
	lastLimitsAt time.Time
	limitsCache  Limits
}

// CheckOrder applies the admission checks in order: quantity ceiling per
// asset class, resulting-position notional cap, market hours for equities.
// positionValue is the absolute market value currently held in the symbol;
// the notional check gates the position the order would leave behind, not
// the order alone. The first failure wins; a nil error means the order may
// be submitted.
func (m *Manager) CheckOrder(ctx context.Context, symbol, side string, qty, price, positionValue decimal.Decimal) error {
	if m == nil {
		return nil
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	limits := m.limits(ctx)

	if broker.IsCrypto(symbol) {
		if limits.MaxOrderQtyCrypto.GreaterThan(decimal.Zero) && qty.GreaterThan(limits.MaxOrderQtyCrypto) {
			return &RejectionError{Reason: fmt.Sprintf("order qty %s exceeds crypto limit %s", qty.String(), limits.MaxOrderQtyCrypto.String())}
		}
	} else {
		if limits.MaxOrderQtyStock.GreaterThan(decimal.Zero) && qty.GreaterThan(limits.MaxOrderQtyStock) {
			return &RejectionError{Reason: fmt.Sprintf("order qty %s exceeds stock limit %s", qty.String(), limits.MaxOrderQtyStock.String())}
		}
	}

	if limits.MaxPositionSizeUSD.GreaterThan(decimal.Zero) && price.GreaterThan(decimal.Zero) {
		notional := qty.Mul(price)
		resulting := positionValue.Add(notional)
		if side == models.OrderSideSell {
			resulting = positionValue.Sub(notional).Abs()
		}
		if resulting.GreaterThan(limits.MaxPositionSizeUSD) {
			return &RejectionError{Reason: fmt.Sprintf("position value %s would exceed max position size %s", resulting.StringFixed(2), limits.MaxPositionSizeUSD.StringFixed(2))}
		}
	}

	if m.Config.EnforceMarketHours && !broker.IsCrypto(symbol) {
		if !marketOpen(m.now()) {
			return &RejectionError{Reason: "market closed for equity orders"}
		}
	}

	return nil
}

func (m *Manager) now() time.Time {
	if m != nil && m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

// limits returns current limits, reading the DB at most once per minute.
func (m *Manager) limits(ctx context.Context) Limits {
	defaults := Limits{
		MaxPositionSizeUSD: decimal.NewFromFloat(m.Config.MaxPositionSizeUSD),
		MaxOrderQtyCrypto:  decimal.NewFromFloat(m.Config.MaxOrderQtyCrypto),
		MaxOrderQtyStock:   decimal.NewFromFloat(m.Config.MaxOrderQtyStock),
	}
	if m.Repo == nil {
		return defaults
	}
	now := time.Now().UTC()
	m.mu.Lock()
	if !m.lastLimitsAt.IsZero() && now.Sub(m.lastLimitsAt) < 60*time.Second {
		c := m.limitsCache
		m.mu.Unlock()
		return c
	}
	m.mu.Unlock()

	out := defaults
	rows, err := m.Repo.ListRiskLimits(ctx)
	if err != nil {
		if m.Logger != nil {
			m.Logger.Warn("risk: limits load failed, using defaults", zap.Error(err))
		}
		return defaults
	}
	for _, row := range rows {
		val, ok := decimalFromJSON(row.Value)
		if !ok {
			continue
		}
		switch row.Key {
		case models.RiskKeyMaxPositionSizeUSD:
			out.MaxPositionSizeUSD = val
		case models.RiskKeyMaxOrderQtyCrypto:
			out.MaxOrderQtyCrypto = val
		case models.RiskKeyMaxOrderQtyStock:
			out.MaxOrderQtyStock = val
		}
	}

	m.mu.Lock()
	m.lastLimitsAt = now
	m.limitsCache = out
	m.mu.Unlock()
	return out
}

// InvalidateLimits drops the cache so the next check rereads the table.
// Called after a limit is edited through the API.
func (m *Manager) InvalidateLimits() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.lastLimitsAt = time.Time{}
	m.mu.Unlock()
}

func decimalFromJSON(raw []byte) (decimal.Decimal, bool) {
	if len(raw) == 0 {
		return decimal.Zero, false
	}
	var num json.Number
	if err := json.Unmarshal(raw, &num); err != nil {
		return decimal.Zero, false
	}
	val, err := decimal.NewFromString(num.String())
	if err != nil {
		return decimal.Zero, false
	}
	return val, true
}

var easternTZ = loadEastern()

func loadEastern() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.FixedZone("EST", -5*60*60)
	}
	return loc
}

// marketOpen reports whether US equity markets are in regular session:
// weekdays 09:30-16:00 Eastern. Exchange holidays are not tracked; the broker
// rejects those orders anyway.
func marketOpen(now time.Time) bool {
	et := now.In(easternTZ)
	switch et.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	minutes := et.Hour()*60 + et.Minute()
	return minutes >= 9*60+30 && minutes < 16*60
}

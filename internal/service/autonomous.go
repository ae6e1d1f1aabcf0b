package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tradecore/internal/broker"
	"tradecore/internal/marketdata"
	"tradecore/internal/models"
	"tradecore/internal/repository"
	"tradecore/internal/signal"
)

// Strategy names understood by the autonomous trader.
const (
	StrategyTrailingStop = "trailing_stop"
	StrategyStopLoss     = "stop_loss"
	StrategyTakeProfit   = "take_profit"
	StrategyMomentum     = "momentum"
	StrategyRebalance    = "rebalance"
	StrategyDailyLimits  = "daily_limits"
)

// StrategyConfig holds runtime-tunable parameters for one strategy. A single
// flat struct keeps the PATCH surface simple; strategies read only the fields
// they care about.
type StrategyConfig struct {
	Enabled bool `json:"enabled"`

	PositionSizePct    float64 `json:"position_size_pct,omitempty"`
	MaxPositions       int     `json:"max_positions,omitempty"`
	StopLossPct        float64 `json:"stop_loss_pct,omitempty"`
	TakeProfitPct      float64 `json:"take_profit_pct,omitempty"`
	MomentumThreshold  float64 `json:"momentum_threshold,omitempty"`
	RebalanceThreshold float64 `json:"rebalance_threshold,omitempty"`

	TrailPercent           float64 `json:"trail_percent,omitempty"`
	ActivateAfterProfitPct float64 `json:"activate_after_profit_pct,omitempty"`

	DailyLossLimit     float64 `json:"daily_loss_limit,omitempty"`
	DailyProfitTarget  float64 `json:"daily_profit_target,omitempty"`
	StopOnLossLimit    bool    `json:"stop_on_loss_limit,omitempty"`
	StopOnProfitTarget bool    `json:"stop_on_profit_target,omitempty"`
}

func defaultStrategies() map[string]*StrategyConfig {
	return map[string]*StrategyConfig{
		StrategyTrailingStop: {
			Enabled:                true,
			TrailPercent:           0.02,
			ActivateAfterProfitPct: 0.01,
		},
		StrategyStopLoss: {
			Enabled:     true,
			StopLossPct: 0.05,
		},
		StrategyTakeProfit: {
			Enabled:       true,
			TakeProfitPct: 0.15,
		},
		StrategyMomentum: {
			Enabled:           false,
			PositionSizePct:   0.02,
			MaxPositions:      20,
			MomentumThreshold: 0.03,
		},
		StrategyRebalance: {
			Enabled:            false,
			RebalanceThreshold: 0.10,
		},
		StrategyDailyLimits: {
			Enabled:            true,
			DailyLossLimit:     -1000,
			DailyProfitTarget:  2000,
			StopOnLossLimit:    true,
			StopOnProfitTarget: false,
		},
	}
}

// AutonomousTrader generates trade signals from open positions and the
// watchlist, and feeds them into the shared signal hub. It never talks to the
// broker's order API directly.
type AutonomousTrader struct {
	Repo      repositoryReader
	Broker    broker.Broker
	Provider  marketdata.Provider
	Hub       *signal.Hub
	Logger    *zap.Logger
	Watchlist []string

	CycleInterval time.Duration

	mu            sync.RWMutex
	strategies    map[string]*StrategyConfig
	trailing      map[string]*trailingState
	running       bool
	lastCycleAt   time.Time
	lastRebalance time.Time
	cycleCount    uint64
}

// trailingState is the high-water mark and stop price for one symbol. A state
// is armed once the position clears the activation profit, ratcheted upward
// on new highs, and discarded when it fires or the position disappears.
type trailingState struct {
	highestPrice decimal.Decimal
	stopPrice    decimal.Decimal
}

// repositoryReader is the subset of the repository the trader needs.
type repositoryReader interface {
	ListOpenPositions(ctx context.Context) ([]models.Position, error)
	PositionsSummary(ctx context.Context) (repository.PositionsSummary, error)
	ListPortfolioSnapshots(ctx context.Context, params repository.ListPortfolioSnapshotsParams) ([]models.PortfolioSnapshot, error)
}

func NewAutonomousTrader(repo repositoryReader, brk broker.Broker, provider marketdata.Provider, hub *signal.Hub, logger *zap.Logger) *AutonomousTrader {
	return &AutonomousTrader{
		Repo:          repo,
		Broker:        brk,
		Provider:      provider,
		Hub:           hub,
		Logger:        logger,
		CycleInterval: 60 * time.Second,
		strategies:    defaultStrategies(),
		trailing:      map[string]*trailingState{},
	}
}

func (t *AutonomousTrader) Start() {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.running = true
	if t.Logger != nil {
		t.Logger.Info("autonomous trading started")
	}
}

func (t *AutonomousTrader) Stop() {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.running = false
	if t.Logger != nil {
		t.Logger.Info("autonomous trading stopped")
	}
}

func (t *AutonomousTrader) Running() bool {
	if t == nil {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.running
}

// Strategy returns a copy of one strategy's config.
func (t *AutonomousTrader) Strategy(name string) (StrategyConfig, bool) {
	if t == nil {
		return StrategyConfig{}, false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	cfg, ok := t.strategies[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return StrategyConfig{}, false
	}
	return *cfg, true
}

// Strategies returns a copy of all strategy configs.
func (t *AutonomousTrader) Strategies() map[string]StrategyConfig {
	out := map[string]StrategyConfig{}
	if t == nil {
		return out
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	for name, cfg := range t.strategies {
		out[name] = *cfg
	}
	return out
}

// UpdateStrategy replaces one strategy's config. Unknown names are an error;
// adding strategies at runtime is not supported.
func (t *AutonomousTrader) UpdateStrategy(name string, cfg StrategyConfig) error {
	if t == nil {
		return fmt.Errorf("trader is nil")
	}
	name = strings.ToLower(strings.TrimSpace(name))
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.strategies[name]; !ok {
		return fmt.Errorf("unknown strategy: %s", name)
	}
	next := cfg
	t.strategies[name] = &next
	if t.Logger != nil {
		t.Logger.Info("strategy updated", zap.String("strategy", name), zap.Bool("enabled", cfg.Enabled))
	}
	return nil
}

type TraderStatus struct {
	Running       bool       `json:"running"`
	CycleInterval string     `json:"cycle_interval"`
	CycleCount    uint64     `json:"cycle_count"`
	LastCycleAt   *time.Time `json:"last_cycle_at,omitempty"`
	LastRebalance *time.Time `json:"last_rebalance,omitempty"`
}

func (t *AutonomousTrader) Status() TraderStatus {
	if t == nil {
		return TraderStatus{}
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	st := TraderStatus{
		Running:       t.running,
		CycleInterval: t.CycleInterval.String(),
		CycleCount:    t.cycleCount,
	}
	if !t.lastCycleAt.IsZero() {
		at := t.lastCycleAt
		st.LastCycleAt = &at
	}
	if !t.lastRebalance.IsZero() {
		at := t.lastRebalance
		st.LastRebalance = &at
	}
	return st
}

// Run ticks the trading cycle. The loop survives any cycle failure.
func (t *AutonomousTrader) Run(ctx context.Context) error {
	if t == nil {
		return nil
	}
	interval := t.CycleInterval
	if interval <= 0 {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if !t.Running() {
				continue
			}
			if err := t.RunCycle(ctx); err != nil && t.Logger != nil {
				t.Logger.Warn("autonomous cycle failed", zap.Error(err))
			}
		}
	}
}

// RunCycle executes one full pass: daily limit gate, position exits, new
// entries, rebalance. Signals go into the hub; the execution engine does the
// rest.
func (t *AutonomousTrader) RunCycle(ctx context.Context) error {
	if t == nil || t.Repo == nil || t.Hub == nil {
		return nil
	}
	t.mu.Lock()
	t.lastCycleAt = time.Now().UTC()
	t.cycleCount++
	t.mu.Unlock()

	if stop, err := t.checkDailyLimits(ctx); err != nil {
		if t.Logger != nil {
			t.Logger.Warn("daily limit check failed", zap.Error(err))
		}
	} else if stop {
		return nil
	}

	positions, err := t.Repo.ListOpenPositions(ctx)
	if err != nil {
		return err
	}
	t.pruneTrailing(positions)

	var signals []signal.TradeSignal
	for _, pos := range positions {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		signals = append(signals, t.analyzePosition(ctx, pos)...)
	}

	entries, err := t.findEntries(ctx, positions)
	if err != nil && t.Logger != nil {
		t.Logger.Warn("entry scan failed", zap.Error(err))
	}
	signals = append(signals, entries...)

	signals = append(signals, t.rebalance(ctx, positions)...)

	for _, sig := range signals {
		sig.Reason = "[auto] " + sig.Reason
		t.Hub.Publish(sig)
	}
	if len(signals) > 0 && t.Logger != nil {
		t.Logger.Info("autonomous cycle produced signals", zap.Int("count", len(signals)))
	}
	return nil
}

// checkDailyLimits gates the cycle on today's P&L. It reports stop=true when
// trading should halt for this cycle; hitting a hard limit also flips the
// running flag off.
func (t *AutonomousTrader) checkDailyLimits(ctx context.Context) (bool, error) {
	cfg, ok := t.Strategy(StrategyDailyLimits)
	if !ok || !cfg.Enabled {
		return false, nil
	}
	pnl, err := t.dailyPnL(ctx)
	if err != nil {
		return false, err
	}
	if cfg.DailyLossLimit < 0 && pnl.LessThanOrEqual(decimal.NewFromFloat(cfg.DailyLossLimit)) {
		if t.Logger != nil {
			t.Logger.Warn("daily loss limit hit",
				zap.String("daily_pnl", pnl.StringFixed(2)),
				zap.Float64("limit", cfg.DailyLossLimit),
			)
		}
		if cfg.StopOnLossLimit {
			t.Stop()
		}
		return true, nil
	}
	if cfg.DailyProfitTarget > 0 && pnl.GreaterThanOrEqual(decimal.NewFromFloat(cfg.DailyProfitTarget)) {
		if t.Logger != nil {
			t.Logger.Info("daily profit target reached",
				zap.String("daily_pnl", pnl.StringFixed(2)),
				zap.Float64("target", cfg.DailyProfitTarget),
			)
		}
		if cfg.StopOnProfitTarget {
			t.Stop()
			return true, nil
		}
	}
	return false, nil
}

// dailyPnL measures today's P&L as current total P&L minus the first snapshot
// of the day. With no snapshot yet, the total stands in for the daily number.
func (t *AutonomousTrader) dailyPnL(ctx context.Context) (decimal.Decimal, error) {
	sum, err := t.Repo.PositionsSummary(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	total := sum.RealizedPnL.Add(sum.UnrealizedPnL)
	now := time.Now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	snaps, err := t.Repo.ListPortfolioSnapshots(ctx, repository.ListPortfolioSnapshotsParams{Since: &dayStart, Limit: 48})
	if err != nil || len(snaps) == 0 {
		return total, nil
	}
	first := snaps[len(snaps)-1]
	baseline := first.RealizedPnL.Add(first.UnrealizedPnL)
	return total.Sub(baseline), nil
}

// analyzePosition emits exit signals for one open position.
func (t *AutonomousTrader) analyzePosition(ctx context.Context, pos models.Position) []signal.TradeSignal {
	if pos.Quantity.LessThanOrEqual(decimal.Zero) || pos.AvgEntryPrice.LessThanOrEqual(decimal.Zero) {
		return nil
	}
	if pos.CurrentPrice.LessThanOrEqual(decimal.Zero) {
		return nil
	}
	pnlPct := pos.CurrentPrice.Sub(pos.AvgEntryPrice).Div(pos.AvgEntryPrice)

	var out []signal.TradeSignal

	if sig := t.checkTrailingStop(pos, pnlPct); sig != nil {
		// Full exit; nothing else applies to this symbol.
		return append(out, *sig)
	}

	if cfg, ok := t.Strategy(StrategyStopLoss); ok && cfg.Enabled && cfg.StopLossPct > 0 {
		if pnlPct.LessThan(decimal.NewFromFloat(cfg.StopLossPct).Neg()) {
			out = append(out, signal.TradeSignal{
				Symbol:   pos.Symbol,
				Side:     models.OrderSideSell,
				Quantity: pos.Quantity,
				Reason:   fmt.Sprintf("stop loss: %s%% loss", pnlPct.Mul(decimal.NewFromInt(100)).StringFixed(2)),
			})
			// Full exit; skip further checks for this symbol.
			return out
		}
	}

	if cfg, ok := t.Strategy(StrategyTakeProfit); ok && cfg.Enabled && cfg.TakeProfitPct > 0 {
		if pnlPct.GreaterThan(decimal.NewFromFloat(cfg.TakeProfitPct)) {
			half := pos.Quantity.Div(decimal.NewFromInt(2))
			out = append(out, signal.TradeSignal{
				Symbol:   pos.Symbol,
				Side:     models.OrderSideSell,
				Quantity: half,
				Reason:   fmt.Sprintf("take profit: %s%% gain", pnlPct.Mul(decimal.NewFromInt(100)).StringFixed(2)),
			})
		}
	}

	if cfg, ok := t.Strategy(StrategyMomentum); ok && cfg.Enabled && cfg.MomentumThreshold > 0 {
		momentum, ok := t.momentum(ctx, pos.Symbol)
		if ok && momentum.LessThan(decimal.NewFromFloat(cfg.MomentumThreshold).Neg()) {
			trim := pos.Quantity.Mul(decimal.NewFromFloat(0.25))
			out = append(out, signal.TradeSignal{
				Symbol:   pos.Symbol,
				Side:     models.OrderSideSell,
				Quantity: trim,
				Reason:   fmt.Sprintf("negative momentum: %s%%", momentum.Mul(decimal.NewFromInt(100)).StringFixed(2)),
			})
		}
	}

	return out
}

// checkTrailingStop arms, ratchets, and fires the trailing stop for one
// position. The stop only ever rises. A fired stop sells the full position
// and clears the state.
func (t *AutonomousTrader) checkTrailingStop(pos models.Position, pnlPct decimal.Decimal) *signal.TradeSignal {
	cfg, ok := t.Strategy(StrategyTrailingStop)
	if !ok || !cfg.Enabled || cfg.TrailPercent <= 0 {
		return nil
	}
	price := pos.CurrentPrice
	trail := decimal.NewFromInt(1).Sub(decimal.NewFromFloat(cfg.TrailPercent))

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.trailing == nil {
		t.trailing = map[string]*trailingState{}
	}
	st, ok := t.trailing[pos.Symbol]
	if !ok {
		// Arm only once the position is profitable enough.
		if pnlPct.LessThan(decimal.NewFromFloat(cfg.ActivateAfterProfitPct)) {
			return nil
		}
		st = &trailingState{highestPrice: price, stopPrice: price.Mul(trail)}
		t.trailing[pos.Symbol] = st
		if t.Logger != nil {
			t.Logger.Info("trailing stop armed",
				zap.String("symbol", pos.Symbol),
				zap.String("stop", st.stopPrice.StringFixed(2)),
			)
		}
		return nil
	}

	if price.GreaterThan(st.highestPrice) {
		st.highestPrice = price
		if newStop := price.Mul(trail); newStop.GreaterThan(st.stopPrice) {
			st.stopPrice = newStop
		}
	}
	if price.LessThanOrEqual(st.stopPrice) {
		delete(t.trailing, pos.Symbol)
		if t.Logger != nil {
			t.Logger.Warn("trailing stop triggered",
				zap.String("symbol", pos.Symbol),
				zap.String("price", price.StringFixed(2)),
				zap.String("stop", st.stopPrice.StringFixed(2)),
			)
		}
		return &signal.TradeSignal{
			Symbol:   pos.Symbol,
			Side:     models.OrderSideSell,
			Quantity: pos.Quantity,
			Reason:   fmt.Sprintf("trailing stop: price %s <= stop %s", price.StringFixed(2), st.stopPrice.StringFixed(2)),
		}
	}
	return nil
}

// pruneTrailing drops trailing state for symbols no longer held.
func (t *AutonomousTrader) pruneTrailing(positions []models.Position) {
	open := make(map[string]struct{}, len(positions))
	for _, pos := range positions {
		open[pos.Symbol] = struct{}{}
	}
	t.mu.Lock()
	for symbol := range t.trailing {
		if _, ok := open[symbol]; !ok {
			delete(t.trailing, symbol)
		}
	}
	t.mu.Unlock()
}

// findEntries scans the watchlist for momentum entries, sized from buying
// power and bounded by max_positions.
func (t *AutonomousTrader) findEntries(ctx context.Context, positions []models.Position) ([]signal.TradeSignal, error) {
	cfg, ok := t.Strategy(StrategyMomentum)
	if !ok || !cfg.Enabled {
		return nil, nil
	}
	maxPositions := cfg.MaxPositions
	if maxPositions <= 0 {
		maxPositions = 20
	}
	if len(positions) >= maxPositions {
		return nil, nil
	}
	if t.Broker == nil || t.Provider == nil {
		return nil, nil
	}

	held := map[string]struct{}{}
	for _, pos := range positions {
		held[pos.Symbol] = struct{}{}
	}

	account, err := t.Broker.GetAccount(ctx)
	if err != nil {
		return nil, err
	}
	if account.TradingBlocked || account.BuyingPower.LessThanOrEqual(decimal.Zero) {
		return nil, nil
	}

	type mover struct {
		symbol   string
		momentum decimal.Decimal
	}
	var movers []mover
	threshold := decimal.NewFromFloat(cfg.MomentumThreshold)
	for _, symbol := range t.Watchlist {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		symbol = strings.ToUpper(strings.TrimSpace(symbol))
		if symbol == "" {
			continue
		}
		if _, ok := held[symbol]; ok {
			continue
		}
		m, ok := t.momentum(ctx, symbol)
		if !ok || m.LessThanOrEqual(threshold) {
			continue
		}
		movers = append(movers, mover{symbol: symbol, momentum: m})
	}
	sort.Slice(movers, func(i, j int) bool {
		return movers[i].momentum.GreaterThan(movers[j].momentum)
	})
	if len(movers) > 5 {
		movers = movers[:5]
	}

	room := maxPositions - len(positions)
	sizePct := decimal.NewFromFloat(cfg.PositionSizePct)
	if sizePct.LessThanOrEqual(decimal.Zero) {
		sizePct = decimal.NewFromFloat(0.02)
	}
	var out []signal.TradeSignal
	for _, mv := range movers {
		if room <= 0 {
			break
		}
		price, ok, err := t.Provider.LatestPrice(ctx, mv.symbol)
		if err != nil || !ok || price.LessThanOrEqual(decimal.Zero) {
			continue
		}
		notional := account.BuyingPower.Mul(sizePct)
		qty := notional.Div(price).RoundDown(4)
		if qty.LessThanOrEqual(decimal.Zero) {
			continue
		}
		out = append(out, signal.TradeSignal{
			Symbol:   mv.symbol,
			Side:     models.OrderSideBuy,
			Quantity: qty,
			Reason:   fmt.Sprintf("momentum buy: %s%% gain in 24h", mv.momentum.Mul(decimal.NewFromInt(100)).StringFixed(2)),
		})
		room--
	}
	return out, nil
}

// rebalance emits equal-weight corrections at most once per 24h.
func (t *AutonomousTrader) rebalance(ctx context.Context, positions []models.Position) []signal.TradeSignal {
	cfg, ok := t.Strategy(StrategyRebalance)
	if !ok || !cfg.Enabled || len(positions) < 2 {
		return nil
	}
	t.mu.RLock()
	last := t.lastRebalance
	t.mu.RUnlock()
	now := time.Now().UTC()
	if !last.IsZero() && now.Sub(last) < 24*time.Hour {
		return nil
	}

	total := decimal.Zero
	for _, pos := range positions {
		total = total.Add(pos.Quantity.Mul(pos.CurrentPrice))
	}
	if total.LessThanOrEqual(decimal.Zero) {
		return nil
	}
	target := decimal.NewFromInt(1).Div(decimal.NewFromInt(int64(len(positions))))
	threshold := decimal.NewFromFloat(cfg.RebalanceThreshold)

	var out []signal.TradeSignal
	for _, pos := range positions {
		if pos.CurrentPrice.LessThanOrEqual(decimal.Zero) {
			continue
		}
		value := pos.Quantity.Mul(pos.CurrentPrice)
		current := value.Div(total)
		deviation := current.Sub(target).Abs()
		if deviation.LessThanOrEqual(threshold) {
			continue
		}
		targetValue := total.Mul(target)
		diff := targetValue.Sub(value)
		qty := diff.Div(pos.CurrentPrice).RoundDown(4)
		if qty.Abs().LessThanOrEqual(decimal.Zero) {
			continue
		}
		side := models.OrderSideBuy
		if qty.IsNegative() {
			side = models.OrderSideSell
			qty = qty.Neg()
		}
		out = append(out, signal.TradeSignal{
			Symbol:   pos.Symbol,
			Side:     side,
			Quantity: qty,
			Reason: fmt.Sprintf("rebalance: %s%% -> %s%%",
				current.Mul(decimal.NewFromInt(100)).StringFixed(1),
				target.Mul(decimal.NewFromInt(100)).StringFixed(1)),
		})
	}
	if len(out) > 0 {
		t.mu.Lock()
		t.lastRebalance = now
		t.mu.Unlock()
	}
	return out
}

// momentum is the fractional price change over the trailing window.
func (t *AutonomousTrader) momentum(ctx context.Context, symbol string) (decimal.Decimal, bool) {
	if t.Provider == nil {
		return decimal.Zero, false
	}
	bars, err := t.Provider.Bars(ctx, symbol, 24*time.Hour)
	if err != nil || len(bars) < 10 {
		return decimal.Zero, false
	}
	first := bars[0].Close
	last := bars[len(bars)-1].Close
	if first.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, false
	}
	return last.Sub(first).Div(first), true
}

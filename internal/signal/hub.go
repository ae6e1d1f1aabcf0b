package signal

import (
	"strings"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// TradeSignal is a transient trade request. Signals are not persisted; only
// the orders they produce are.
type TradeSignal struct {
	Symbol    string
	Side      string
	Quantity  decimal.Decimal
	Reason    string
	CreatedAt time.Time
}

// Hub is the shared intake queue between signal producers (API, autonomous
// loop) and the execution engine. Publish never blocks a producer.
type Hub struct {
	ch     chan TradeSignal
	logger *zap.Logger

	published uint64
	dropped   uint64
}

func NewHub(buf int, logger *zap.Logger) *Hub {
	if buf <= 0 {
		buf = 256
	}
	return &Hub{
		ch:     make(chan TradeSignal, buf),
		logger: logger,
	}
}

// Publish enqueues a signal for the execution engine. It reports whether the
// signal was accepted; a full queue drops the signal rather than blocking.
func (h *Hub) Publish(sig TradeSignal) bool {
	if h == nil || h.ch == nil {
		return false
	}
	sig.Symbol = strings.ToUpper(strings.TrimSpace(sig.Symbol))
	sig.Side = strings.ToLower(strings.TrimSpace(sig.Side))
	if sig.CreatedAt.IsZero() {
		sig.CreatedAt = time.Now().UTC()
	}
	select {
	case h.ch <- sig:
		atomic.AddUint64(&h.published, 1)
		return true
	default:
		atomic.AddUint64(&h.dropped, 1)
		if h.logger != nil {
			h.logger.Warn("signal queue full, dropping",
				zap.String("symbol", sig.Symbol),
				zap.String("side", sig.Side),
				zap.Uint64("dropped_total", atomic.LoadUint64(&h.dropped)),
			)
		}
		return false
	}
}

// C is the consumer side of the queue. The execution engine is its only reader.
func (h *Hub) C() <-chan TradeSignal {
	if h == nil {
		return nil
	}
	return h.ch
}

func (h *Hub) Stats() (published, dropped uint64) {
	if h == nil {
		return 0, 0
	}
	return atomic.LoadUint64(&h.published), atomic.LoadUint64(&h.dropped)
}

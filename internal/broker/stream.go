package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

type UpdateStreamOptions struct {
	URL        string
	APIKey     string
	APISecret  string
	BackoffMin time.Duration
	BackoffMax time.Duration
	Logger     *zap.Logger
}

// UpdateStream consumes the broker's trade-update websocket and keeps
// reconnecting until the context is cancelled.
type UpdateStream struct {
	opts      UpdateStreamOptions
	seenFirst bool
}

func NewUpdateStream(opts UpdateStreamOptions) *UpdateStream {
	if opts.BackoffMin == 0 {
		opts.BackoffMin = 1 * time.Second
	}
	if opts.BackoffMax == 0 {
		opts.BackoffMax = 30 * time.Second
	}
	return &UpdateStream{opts: opts}
}

type authRequest struct {
	Action string `json:"action"`
	Key    string `json:"key"`
	Secret string `json:"secret"`
}

type listenRequest struct {
	Action string `json:"action"`
	Data   struct {
		Streams []string `json:"streams"`
	} `json:"data"`
}

type streamEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type tradeUpdatePayload struct {
	Event string `json:"event"`
	Order struct {
		ID             string  `json:"id"`
		Symbol         string  `json:"symbol"`
		FilledQty      string  `json:"filled_qty"`
		FilledAvgPrice *string `json:"filled_avg_price"`
	} `json:"order"`
	Qty       *string    `json:"qty"`
	Price     *string    `json:"price"`
	Timestamp *time.Time `json:"timestamp"`
}

func (s *UpdateStream) Run(ctx context.Context, onUpdate func(OrderUpdate)) error {
	if s == nil {
		return fmt.Errorf("stream is nil")
	}
	backoff := s.opts.BackoffMin
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn, _, err := websocket.Dial(ctx, s.opts.URL, nil)
		if err != nil {
			if s.opts.Logger != nil {
				s.opts.Logger.Warn("broker stream connect failed", zap.Error(err))
			}
			if err := sleepWithJitter(ctx, backoff); err != nil {
				return err
			}
			backoff = nextBackoff(backoff, s.opts.BackoffMax)
			continue
		}
		if s.opts.Logger != nil {
			s.opts.Logger.Info("broker stream connected")
		}
		if err := s.authenticate(ctx, conn); err != nil {
			if s.opts.Logger != nil {
				s.opts.Logger.Warn("broker stream auth failed", zap.Error(err))
			}
			_ = conn.Close(websocket.StatusInternalError, "auth failed")
			if err := sleepWithJitter(ctx, backoff); err != nil {
				return err
			}
			backoff = nextBackoff(backoff, s.opts.BackoffMax)
			continue
		}
		backoff = s.opts.BackoffMin

		err = s.consume(ctx, conn, onUpdate)
		_ = conn.Close(websocket.StatusNormalClosure, "reconnect")
		if err == nil || errors.Is(err, context.Canceled) {
			return err
		}
		if s.opts.Logger != nil {
			s.opts.Logger.Warn("broker stream disconnected", zap.Error(err))
		}
		if err := sleepWithJitter(ctx, backoff); err != nil {
			return err
		}
		backoff = nextBackoff(backoff, s.opts.BackoffMax)
	}
}

func (s *UpdateStream) authenticate(ctx context.Context, conn *websocket.Conn) error {
	auth := authRequest{Action: "auth", Key: s.opts.APIKey, Secret: s.opts.APISecret}
	payload, err := json.Marshal(auth)
	if err != nil {
		return err
	}
	if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
		return err
	}
	listen := listenRequest{Action: "listen"}
	listen.Data.Streams = []string{"trade_updates"}
	payload, err = json.Marshal(listen)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, payload)
}

func (s *UpdateStream) consume(ctx context.Context, conn *websocket.Conn, onUpdate func(OrderUpdate)) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		var env streamEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		if env.Stream != "trade_updates" {
			continue
		}
		if s.opts.Logger != nil && !s.seenFirst {
			s.seenFirst = true
			s.opts.Logger.Info("broker stream first trade update")
		}
		update, ok := parseTradeUpdate(env.Data)
		if !ok {
			continue
		}
		if onUpdate != nil {
			onUpdate(update)
		}
	}
}

func parseTradeUpdate(raw json.RawMessage) (OrderUpdate, bool) {
	var payload tradeUpdatePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return OrderUpdate{}, false
	}
	event := strings.ToLower(strings.TrimSpace(payload.Event))
	switch event {
	case EventFill, EventPartialFill, EventCanceled, EventRejected, EventExpired:
	default:
		return OrderUpdate{}, false
	}
	update := OrderUpdate{
		Event:         event,
		BrokerOrderID: payload.Order.ID,
		Symbol:        LocalSymbol(payload.Order.Symbol),
		At:            time.Now().UTC(),
	}
	if payload.Timestamp != nil {
		update.At = payload.Timestamp.UTC()
	}
	// FilledQty is the cumulative filled quantity. The event-level qty is the
	// size of this fill alone and only stands in when the order total is
	// missing.
	if q, err := decimal.NewFromString(payload.Order.FilledQty); err == nil && !q.IsZero() {
		update.FilledQty = q
	} else if payload.Qty != nil {
		if q, err := decimal.NewFromString(*payload.Qty); err == nil {
			update.FilledQty = q
		}
	}
	if payload.Order.FilledAvgPrice != nil {
		if p, err := decimal.NewFromString(*payload.Order.FilledAvgPrice); err == nil {
			update.FillPrice = p
		}
	}
	if payload.Price != nil {
		if p, err := decimal.NewFromString(*payload.Price); err == nil && !p.IsZero() {
			update.FillPrice = p
		}
	}
	return update, true
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	return next
}

func sleepWithJitter(ctx context.Context, base time.Duration) error {
	if base <= 0 {
		return nil
	}
	jitter := time.Duration(rand.Int63n(int64(base/2) + 1))
	timer := time.NewTimer(base + jitter)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

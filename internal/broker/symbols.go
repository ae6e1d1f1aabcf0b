package broker

import "strings"

// IsCrypto reports whether a symbol is a crypto pair. Symbols with a USDT or
// USD-pair suffix, or already in slash form, are treated as crypto.
func IsCrypto(symbol string) bool {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if strings.Contains(symbol, "/") {
		return true
	}
	return strings.HasSuffix(symbol, "USDT")
}

// BrokerSymbol converts the local symbol form to the broker's. Crypto pairs
// use slash form at the broker (BTCUSDT -> BTC/USD); equities pass through.
func BrokerSymbol(symbol string) string {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if strings.HasSuffix(symbol, "USDT") {
		return strings.TrimSuffix(symbol, "USDT") + "/USD"
	}
	return symbol
}

// LocalSymbol is the inverse of BrokerSymbol (BTC/USD -> BTCUSDT).
func LocalSymbol(symbol string) string {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if strings.HasSuffix(symbol, "/USD") {
		return strings.TrimSuffix(symbol, "/USD") + "USDT"
	}
	return strings.ReplaceAll(symbol, "/", "")
}

// TimeInForce picks the default TIF per asset class: crypto orders stay good
// till cancel, equity orders expire at the close.
func TimeInForce(symbol string) string {
	if IsCrypto(symbol) {
		return "gtc"
	}
	return "day"
}

var statusMap = map[string]string{
	"new":              "submitted",
	"accepted":         "submitted",
	"pending_new":      "pending",
	"partially_filled": "partial",
	"filled":           "filled",
	"done_for_day":     "expired",
	"canceled":         "cancelled",
	"expired":          "expired",
	"replaced":         "cancelled",
	"pending_cancel":   "submitted",
	"pending_replace":  "submitted",
	"rejected":         "rejected",
	"suspended":        "submitted",
	"calculated":       "submitted",
}

// MapStatus converts a broker order status to the local status vocabulary.
// Unknown statuses map to pending so nothing is treated as terminal by accident.
func MapStatus(brokerStatus string) string {
	if s, ok := statusMap[strings.ToLower(strings.TrimSpace(brokerStatus))]; ok {
		return s
	}
	return "pending"
}

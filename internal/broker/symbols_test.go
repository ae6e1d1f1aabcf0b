package broker

import "testing"

func TestIsCrypto(t *testing.T) {
	cases := []struct {
		symbol string
		want   bool
	}{
		{"BTCUSDT", true},
		{"ethusdt", true},
		{"BTC/USD", true},
		{"AAPL", false},
		{"MSFT", false},
		{" aapl ", false},
	}
	for _, tc := range cases {
		if got := IsCrypto(tc.symbol); got != tc.want {
			t.Fatalf("IsCrypto(%q)=%v want=%v", tc.symbol, got, tc.want)
		}
	}
}

func TestBrokerSymbolRoundTrip(t *testing.T) {
	cases := []struct {
		local  string
		broker string
	}{
		{"BTCUSDT", "BTC/USD"},
		{"ETHUSDT", "ETH/USD"},
		{"AAPL", "AAPL"},
	}
	for _, tc := range cases {
		if got := BrokerSymbol(tc.local); got != tc.broker {
			t.Fatalf("BrokerSymbol(%q)=%q want=%q", tc.local, got, tc.broker)
		}
		if got := LocalSymbol(tc.broker); got != tc.local {
			t.Fatalf("LocalSymbol(%q)=%q want=%q", tc.broker, got, tc.local)
		}
	}
}

func TestTimeInForce(t *testing.T) {
	if got := TimeInForce("BTCUSDT"); got != "gtc" {
		t.Fatalf("crypto tif=%q want=gtc", got)
	}
	if got := TimeInForce("AAPL"); got != "day" {
		t.Fatalf("stock tif=%q want=day", got)
	}
}

func TestMapStatus(t *testing.T) {
	cases := []struct {
		broker string
		want   string
	}{
		{"new", "submitted"},
		{"accepted", "submitted"},
		{"pending_new", "pending"},
		{"partially_filled", "partial"},
		{"filled", "filled"},
		{"done_for_day", "expired"},
		{"canceled", "cancelled"},
		{"replaced", "cancelled"},
		{"rejected", "rejected"},
		{"expired", "expired"},
		{"something_else", "pending"},
		{" Filled ", "filled"},
	}
	for _, tc := range cases {
		if got := MapStatus(tc.broker); got != tc.want {
			t.Fatalf("MapStatus(%q)=%q want=%q", tc.broker, got, tc.want)
		}
	}
}

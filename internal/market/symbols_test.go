package market

import "testing"

func TestNormalizeSymbol(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"aapl", "AAPL"},
		{" spy ", "SPY"},
		{"brk.b", "BRK.B"},
		{"btc-usd", "BTC-USD"},
		{"^gspc", "^GSPC"},
		{"es=f", "ES=F"},
		{"eur/usd", "EUR/USD"},
		{"msft;drop table", "MSFTDROPTABLE"},
		{"$$$", ""},
		{"", ""},
	}
	for _, tc := range cases {
		if got := NormalizeSymbol(tc.in); got != tc.want {
			t.Errorf("NormalizeSymbol(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestHasCryptoSuffix(t *testing.T) {
	yes := []string{"BTC-USD", "eth-usdt", "SOL-USDC", "WBTC-BTC", "X-ETH", "ES=F"}
	no := []string{"AAPL", "USD", "BTCUSD", "^GSPC", "BRK.B"}
	for _, s := range yes {
		if !HasCryptoSuffix(s) {
			t.Errorf("HasCryptoSuffix(%q) = false, want true", s)
		}
	}
	for _, s := range no {
		if HasCryptoSuffix(s) {
			t.Errorf("HasCryptoSuffix(%q) = true, want false", s)
		}
	}
}

func TestNormalizeTimeframe(t *testing.T) {
	if got := NormalizeTimeframe(""); got != "5m" {
		t.Fatalf("empty tf = %q, want 5m", got)
	}
	if got := NormalizeTimeframe(" 1H "); got != "1h" {
		t.Fatalf("tf = %q, want 1h", got)
	}
	// Unknown strings pass through; table lookups downstream use defaults.
	if got := NormalizeTimeframe("2h"); got != "2h" {
		t.Fatalf("tf = %q, want 2h", got)
	}
}

func TestParseExt(t *testing.T) {
	for _, raw := range []string{"1", "true", "Yes", " ON "} {
		if !ParseExt(raw) {
			t.Errorf("ParseExt(%q) = false, want true", raw)
		}
	}
	for _, raw := range []string{"", "0", "false", "2", "off", "enabled"} {
		if ParseExt(raw) {
			t.Errorf("ParseExt(%q) = true, want false", raw)
		}
	}
}

func TestClampSince(t *testing.T) {
	if got := ClampSince(-5); got != 0 {
		t.Fatalf("ClampSince(-5) = %d, want 0", got)
	}
	if got := ClampSince(1700000000); got != 1700000000 {
		t.Fatalf("ClampSince kept = %d", got)
	}
}

func TestEffectiveExt(t *testing.T) {
	if EffectiveExt("1d", true) || EffectiveExt("1w", true) {
		t.Fatal("daily/weekly must mask ext off")
	}
	if !EffectiveExt("5m", true) || !EffectiveExt("4h", true) {
		t.Fatal("intraday keeps ext")
	}
	if EffectiveExt("5m", false) {
		t.Fatal("ext off stays off")
	}
}

func TestPayloadKey(t *testing.T) {
	if got := PayloadKey("SPY", "5m", false); got != "SPY:5m:0" {
		t.Fatalf("key = %q", got)
	}
	if got := PayloadKey("TSLA", "1h", true); got != "TSLA:1h:1" {
		t.Fatalf("key = %q", got)
	}
}

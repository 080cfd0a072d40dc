package exchange

import "testing"

func TestNormalizeSymbolUpper(t *testing.T) {
	cases := map[string]string{
		"btc/usdt": "BTCUSDT",
		"BTC-USDT": "BTCUSDT",
		"eth_usdt": "ETHUSDT",
		" sol/usdt ": "SOLUSDT",
	}
	for in, want := range cases {
		if got := normalizeSymbolUpper(in); got != want {
			t.Errorf("normalizeSymbolUpper(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeSymbolDashed(t *testing.T) {
	cases := map[string]string{
		"btc/usdt": "BTC-USDT",
		"BTCUSDT":  "BTC-USDT",
		"eth_usdc": "ETH-USDC",
	}
	for in, want := range cases {
		if got := normalizeSymbolDashed(in); got != want {
			t.Errorf("normalizeSymbolDashed(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeSymbolUnderscored(t *testing.T) {
	if got := normalizeSymbolUnderscored("btc/usdt"); got != "BTC_USDT" {
		t.Errorf("normalizeSymbolUnderscored = %q, want BTC_USDT", got)
	}
}

func TestRegistryGetUnknownExchange(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Get("nonexistent", Credentials{}, false); err == nil {
		t.Fatal("expected error for unregistered exchange tag")
	}
}

func TestRegistryCachesInstance(t *testing.T) {
	r := NewRegistry()
	calls := 0
	r.Register("fake", func(creds Credentials, testnet bool) Adapter {
		calls++
		return nil
	})
	if _, err := r.Get("fake", Credentials{APIKey: "k"}, false); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Get("fake", Credentials{APIKey: "k"}, false); err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Errorf("expected factory called once, got %d", calls)
	}
}

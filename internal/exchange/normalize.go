package exchange

import "strings"

// normalizeSymbolUpper strips separators and upper-cases, the common shape
// most exchanges expect for a spot/perp symbol (e.g. "btc/usdt" -> "BTCUSDT").
func normalizeSymbolUpper(raw string) string {
	s := strings.ToUpper(raw)
	s = strings.ReplaceAll(s, "/", "")
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, "_", "")
	return strings.TrimSpace(s)
}

// normalizeSymbolDashed produces the "BTC-USDT" shape OKX and Coinbase use.
func normalizeSymbolDashed(raw string) string {
	s := strings.ToUpper(raw)
	s = strings.ReplaceAll(s, "/", "-")
	s = strings.ReplaceAll(s, "_", "-")
	s = strings.TrimSpace(s)
	if strings.Contains(s, "-") {
		return s
	}
	// No separator given (e.g. "BTCUSDT"): assume the last 4 chars are the
	// quote currency for the common USDT/USDC/BUSD pairs, else split on 3.
	for _, quote := range []string{"USDT", "USDC", "BUSD"} {
		if strings.HasSuffix(s, quote) && len(s) > len(quote) {
			return s[:len(s)-len(quote)] + "-" + quote
		}
	}
	if len(s) > 3 {
		return s[:len(s)-3] + "-" + s[len(s)-3:]
	}
	return s
}

// normalizeSymbolUnderscored produces the "BTC_USDT" shape Bitget uses.
func normalizeSymbolUnderscored(raw string) string {
	return strings.ReplaceAll(normalizeSymbolDashed(raw), "-", "_")
}

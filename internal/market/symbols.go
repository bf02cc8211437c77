package market

import "strings"

// DefaultTimeframe is used when the query omits tf.
const DefaultTimeframe = "5m"

var cryptoSuffixes = []string{"-USD", "-USDT", "-USDC", "-BTC", "-ETH", "=F"}

// NormalizeSymbol uppercases the input and strips every rune outside
// [A-Z0-9=.-^/]. An empty result means the symbol is unusable.
func NormalizeSymbol(raw string) string {
	up := strings.ToUpper(strings.TrimSpace(raw))
	var b strings.Builder
	b.Grow(len(up))
	for _, r := range up {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '=' || r == '.' || r == '-' || r == '^' || r == '/':
			b.WriteRune(r)
		}
	}
	return b.String()
}

// HasCryptoSuffix reports whether the symbol looks like a 24/7 instrument
// (crypto pairs and continuous futures) without a metadata lookup.
func HasCryptoSuffix(symbol string) bool {
	up := strings.ToUpper(symbol)
	for _, suffix := range cryptoSuffixes {
		if strings.HasSuffix(up, suffix) {
			return true
		}
	}
	return false
}

// NormalizeTimeframe lowercases tf and substitutes the default for an
// empty value. Unknown strings pass through; every timeframe table lookup
// has a default so they behave like 5m with a 60s TTL.
func NormalizeTimeframe(raw string) string {
	tf := strings.ToLower(strings.TrimSpace(raw))
	if tf == "" {
		return DefaultTimeframe
	}
	return tf
}

// ParseExt interprets the ext query flag. Only 1/true/yes/on count.
func ParseExt(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// ClampSince floors a client watermark at zero.
func ClampSince(since int64) int64 {
	if since < 0 {
		return 0
	}
	return since
}

// IsDailyOrWeekly reports timeframes that never carry pre/post data.
func IsDailyOrWeekly(tf string) bool { return tf == "1d" || tf == "1w" }

// EffectiveExt masks the requested ext bit for daily and weekly frames.
func EffectiveExt(tf string, ext bool) bool {
	return ext && !IsDailyOrWeekly(tf)
}

// PayloadKey is the canonical cache key for a payload.
func PayloadKey(symbol, tf string, ext bool) string {
	flag := "0"
	if ext {
		flag = "1"
	}
	return symbol + ":" + tf + ":" + flag
}

package market

import (
	"regexp"
	"strings"
)

// AssetClass groups instruments that share default dealing rules.
type AssetClass string

const (
	Crypto    AssetClass = "CRYPTO"
	Forex     AssetClass = "FOREX"
	IndexComm AssetClass = "INDEX_COMMODITY"
)

var cryptoBases = []string{
	"BTC", "ETH", "XRP", "LTC", "BCH", "ADA", "SOL", "DOT", "DOGE", "AVAX",
	"LINK", "MATIC", "BNB", "XLM", "TRX", "SHIB", "UNI", "ATOM",
}

var currencies = map[string]bool{
	"USD": true, "EUR": true, "GBP": true, "JPY": true, "CHF": true,
	"AUD": true, "NZD": true, "CAD": true, "SEK": true, "NOK": true,
	"DKK": true, "PLN": true, "HUF": true, "CZK": true, "TRY": true,
	"ZAR": true, "MXN": true, "SGD": true, "HKD": true, "CNH": true,
}

var forexPattern = regexp.MustCompile(`^[A-Z]{6}$`)

// NormalizeSymbol upper-cases s and strips the common pair separators so
// "eur_usd", "EUR/USD" and "EURUSD" compare equal.
func NormalizeSymbol(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	return strings.NewReplacer("_", "", "/", "", "-", "", " ", "").Replace(s)
}

// ClassOf guesses the asset class from the symbol alone.
func ClassOf(symbol string) AssetClass {
	s := NormalizeSymbol(symbol)
	for _, base := range cryptoBases {
		if strings.HasPrefix(s, base) {
			return Crypto
		}
	}
	if strings.HasSuffix(s, "USDT") || strings.HasSuffix(s, "USDC") {
		return Crypto
	}
	if forexPattern.MatchString(s) && currencies[s[:3]] && currencies[s[3:]] {
		return Forex
	}
	return IndexComm
}

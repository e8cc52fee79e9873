package domain

import (
	"fmt"
	"strings"
)

type MarketSymbol struct {
	BaseAsset  string
	QuoteAsset string
}

func NewMarketSymbol(base string, quote string) (*MarketSymbol, error) {
	if base == "" || quote == "" {
		return nil, fmt.Errorf("base and quote must not be empty")
	}
	base = strings.ToLower(base)
	quote = strings.ToLower(quote)
	if base == quote {
		return nil, fmt.Errorf("base and quote must be different")
	}
	return &MarketSymbol{
		BaseAsset:  base,
		QuoteAsset: quote,
	}, nil
}

// quote assets recognised in exchange symbols without a separator, longest first
var knownQuoteAssets = []string{"fdusd", "usdt", "usdc", "busd", "tusd", "btc", "eth", "bnb", "eur", "try", "usd"}

// NewMarketSymbolFromString accepts "btc_usdt", "BTC-USDT", "btc/usdt" or the
// exchange form "BTCUSDT" when it ends with a known quote asset.
func NewMarketSymbolFromString(s string) (*MarketSymbol, error) {
	split := strings.FieldsFunc(s, func(r rune) bool {
		return r == '_' || r == '-' || r == '/'
	})
	if len(split) == 1 && split[0] == s {
		return splitOnQuoteAsset(s)
	}

	if len(split) != 2 || strings.Count(s, "_")+strings.Count(s, "-")+strings.Count(s, "/") != 1 {
		return nil, fmt.Errorf("invalid symbol string %q", s)
	}

	return NewMarketSymbol(split[0], split[1])
}

func splitOnQuoteAsset(s string) (*MarketSymbol, error) {
	lower := strings.ToLower(s)
	for _, quote := range knownQuoteAssets {
		if base, ok := strings.CutSuffix(lower, quote); ok && base != "" {
			return NewMarketSymbol(base, quote)
		}
	}
	return nil, fmt.Errorf("invalid symbol string %q: unknown quote asset", s)
}

func (ms *MarketSymbol) Join(separator string) string {
	return fmt.Sprintf("%s%s%s", ms.BaseAsset, separator, ms.QuoteAsset)
}

// Exchange returns the upper-cased joined form used by exchange REST APIs, e.g. BTCUSDT.
func (ms *MarketSymbol) Exchange(separator string) string {
	return strings.ToUpper(ms.Join(separator))
}

func (ms *MarketSymbol) String() string {
	return fmt.Sprintf("%s_%s", ms.BaseAsset, ms.QuoteAsset)
}

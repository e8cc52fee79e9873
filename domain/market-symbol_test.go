package domain_test

import (
	"testing"

	"github.com/spooky-finn/go-orderbook-sync/domain"
	"github.com/stretchr/testify/assert"
)

func TestNewMarketSymbol(t *testing.T) {
	tests := []struct {
		name        string
		base, quote string
		expectError bool
	}{
		{"ValidSymbol", "BTC", "USDT", false},
		{"EqualBaseQuote", "ETH", "ETH", true},
		{"EqualIgnoringCase", "eth", "ETH", true},
		{"EmptyBase", "", "USDT", true},
		{"EmptyQuote", "BTC", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := domain.NewMarketSymbol(tt.base, tt.quote)

			if tt.expectError {
				assert.Error(t, err, "NewMarketSymbol() should return an error")
			} else {
				assert.NoError(t, err, "NewMarketSymbol() should not return an error")
			}
		})
	}
}

func TestNewSymbolFromString(t *testing.T) {
	tests := []struct {
		name        string
		symbol      string
		expectError bool
	}{
		{"ValidString", "BTC_USDT", false},
		{"DashSeparator", "ETH-USD", false},
		{"SlashSeparator", "eth/btc", false},
		{"ExchangeForm", "BTCUSDT", false},
		{"UnknownQuote", "BTCXYZ", true},
		{"OnlyQuote", "usdt", true},
		{"MixedSeparators", "BTC_USDT-X", true},
		{"TrailingSeparator", "BTC_", true},
		{"EmptyString", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := domain.NewMarketSymbolFromString(tt.symbol)

			if tt.expectError {
				assert.Error(t, err, "NewSymbolFromString() should return an error")
			} else {
				assert.NoError(t, err, "NewSymbolFromString() should not return an error")
			}
		})
	}
}

func TestMarketSymbol_Join(t *testing.T) {
	ms := domain.MarketSymbol{BaseAsset: "BTC", QuoteAsset: "USDT"}
	separator := "_"

	result := ms.Join(separator)

	expected := "BTC_USDT"
	assert.Equal(t, expected, result, "Join() result should be equal to expected")
}

func TestMarketSymbol_Exchange(t *testing.T) {
	ms := domain.MarketSymbol{BaseAsset: "btc", QuoteAsset: "usdt"}

	assert.Equal(t, "BTCUSDT", ms.Exchange(""))
	assert.Equal(t, "BTC-USDT", ms.Exchange("-"))
}

func TestMarketSymbol_String(t *testing.T) {
	ms := domain.MarketSymbol{BaseAsset: "BTC", QuoteAsset: "USDT"}

	result := ms.String()

	expected := "BTC_USDT"
	assert.Equal(t, expected, result, "String() result should be equal to expected")
}

func TestNewSymbolFromString_ExchangeForm(t *testing.T) {
	tests := []struct {
		symbol      string
		base, quote string
	}{
		{"btcusdt", "btc", "usdt"},
		{"ETHBTC", "eth", "btc"},
		{"solfdusd", "sol", "fdusd"},
		{"ethbusd", "eth", "busd"},
	}

	for _, tt := range tests {
		t.Run(tt.symbol, func(t *testing.T) {
			ms, err := domain.NewMarketSymbolFromString(tt.symbol)
			if assert.NoError(t, err) {
				assert.Equal(t, tt.base, ms.BaseAsset)
				assert.Equal(t, tt.quote, ms.QuoteAsset)
			}
		})
	}
}

func TestMarketSymbol_LovercaseConvertion(t *testing.T) {
	ms, err := domain.NewMarketSymbol("BTC", "USDT")
	if err != nil {
		t.Errorf("NewMarketSymbol() should not return an error")
	}

	result := ms.String()

	expected := "btc_usdt"
	assert.Equal(t, expected, result, "String() result should be equal to expected")
}

package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderBookStorage(t *testing.T) {
	storage := NewOrderBookStorage()
	btc := &MarketSymbol{BaseAsset: "btc", QuoteAsset: "usdt"}
	eth := &MarketSymbol{BaseAsset: "eth", QuoteAsset: "usdt"}

	_, err := storage.Get("binance", btc)
	assert.ErrorIs(t, err, ErrProviderNotFound)

	view := &OrderBookSnapshot{Source: OrderBookSource_LocalOrderBook, LastUpdateID: 7}
	storage.Add("binance", btc, view)

	got, err := storage.Get("binance", btc)
	require.NoError(t, err)
	assert.Same(t, view, got)

	_, err = storage.Get("binance", eth)
	assert.ErrorIs(t, err, ErrOrderBookNotFound)

	storage.Add("binance", eth, view)
	assert.Equal(t, 2, storage.OrderBookCount("binance"))
	assert.Equal(t, 0, storage.OrderBookCount("kucoin"))

	storage.Remove("binance", btc)
	_, err = storage.Get("binance", btc)
	assert.ErrorIs(t, err, ErrOrderBookNotFound)
	assert.Equal(t, 1, storage.OrderBookCount("binance"))

	storage.Remove("kucoin", btc)
}

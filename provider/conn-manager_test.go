package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spooky-finn/go-orderbook-sync/domain"
)

type stubStreamAPI struct{}

func (stubStreamAPI) DepthDiffStream(*domain.MarketSymbol) (*domain.Subscription[*domain.DepthUpdate], error) {
	return nil, errors.New("not implemented")
}

type stubSyncAPI struct{}

func (stubSyncAPI) OrderBookSnapshot(context.Context, *domain.MarketSymbol, int) (*domain.OrderBookSnapshot, error) {
	return nil, errors.New("not implemented")
}

func (stubSyncAPI) Granularity(context.Context, *domain.MarketSymbol) (*domain.Granularity, error) {
	return nil, errors.New("not implemented")
}

func TestConnectionManager(t *testing.T) {
	dials, closes := 0, 0
	cm := NewConnectionManagerWithDialers(map[string]Dialer{
		Binance: func() (*Connections, error) {
			dials++
			return &Connections{
				StreamAPI: stubStreamAPI{},
				SyncAPI:   stubSyncAPI{},
				Close:     func() { closes++ },
			}, nil
		},
		Kucoin: func() (*Connections, error) {
			return nil, errors.New("no token")
		},
	}, zerolog.Nop())

	var _ domain.ConnManager = cm

	stream, err := cm.StreamAPI(Binance)
	require.NoError(t, err)
	assert.Equal(t, stubStreamAPI{}, stream)

	sync, err := cm.SyncAPI(Binance)
	require.NoError(t, err)
	assert.Equal(t, stubSyncAPI{}, sync)
	assert.Equal(t, 1, dials, "connections are cached")

	_, err = cm.SyncAPI("bitfinex")
	assert.ErrorIs(t, err, domain.ErrProviderNotFound)

	_, err = cm.StreamAPI(Kucoin)
	assert.ErrorContains(t, err, "no token")

	cm.Close()
	assert.Equal(t, 1, closes)

	_, err = cm.SyncAPI(Binance)
	require.NoError(t, err)
	assert.Equal(t, 2, dials, "redialed after close")
}

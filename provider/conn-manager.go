package provider

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/spooky-finn/go-orderbook-sync/config"
	"github.com/spooky-finn/go-orderbook-sync/domain"
	"github.com/spooky-finn/go-orderbook-sync/provider/binance"
	"github.com/spooky-finn/go-orderbook-sync/provider/kucoin"
)

const (
	Binance = "binance"
	Kucoin  = "kucoin"
)

// Connections is what a provider dials on first use.
type Connections struct {
	StreamAPI domain.ProviderStreamAPI
	SyncAPI   domain.ProviderSyncAPI
	Close     func()
}

type Dialer func() (*Connections, error)

// ConnectionManager dials each provider lazily and hands out the same
// stream and sync APIs to every caller.
type ConnectionManager struct {
	dialers map[string]Dialer
	logger  zerolog.Logger

	mu    sync.Mutex
	conns map[string]*Connections
}

func NewConnectionManager(cfg *config.Config, logger zerolog.Logger) *ConnectionManager {
	return NewConnectionManagerWithDialers(map[string]Dialer{
		Binance: func() (*Connections, error) { return dialBinance(cfg.Binance, logger) },
		Kucoin:  func() (*Connections, error) { return dialKucoin(cfg.Kucoin, logger), nil },
	}, logger)
}

func NewConnectionManagerWithDialers(dialers map[string]Dialer, logger zerolog.Logger) *ConnectionManager {
	return &ConnectionManager{
		dialers: dialers,
		logger:  logger.With().Str("component", "conn-manager").Logger(),
		conns:   make(map[string]*Connections),
	}
}

func (cm *ConnectionManager) StreamAPI(provider string) (domain.ProviderStreamAPI, error) {
	conns, err := cm.connections(provider)
	if err != nil {
		return nil, err
	}
	return conns.StreamAPI, nil
}

func (cm *ConnectionManager) SyncAPI(provider string) (domain.ProviderSyncAPI, error) {
	conns, err := cm.connections(provider)
	if err != nil {
		return nil, err
	}
	return conns.SyncAPI, nil
}

// Close closes every dialed provider.
func (cm *ConnectionManager) Close() {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	for name, conns := range cm.conns {
		if conns.Close != nil {
			conns.Close()
		}
		delete(cm.conns, name)
		cm.logger.Info().Str("provider", name).Msg("closed")
	}
}

func (cm *ConnectionManager) connections(provider string) (*Connections, error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if conns, ok := cm.conns[provider]; ok {
		return conns, nil
	}

	dial, ok := cm.dialers[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrProviderNotFound, provider)
	}

	conns, err := dial()
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", provider, err)
	}
	cm.conns[provider] = conns
	cm.logger.Info().Str("provider", provider).Msg("dialed")
	return conns, nil
}

func dialBinance(cfg config.BinanceConfig, logger zerolog.Logger) (*Connections, error) {
	streamClient := binance.NewBinanceStreamClient(binance.BinanceStreamClientOptions{
		Endpoint:         cfg.StreamURL,
		HandshakeTimeout: cfg.HandshakeTimeout,
	}, logger)
	if err := streamClient.Connect(); err != nil {
		return nil, err
	}

	syncAPI := binance.NewBinanceSyncAPI(binance.BinanceSyncAPIOptions{
		Endpoint:         cfg.WsAPIURL,
		HandshakeTimeout: cfg.HandshakeTimeout,
	}, logger)

	return &Connections{
		StreamAPI: binance.NewBinanceStreamAPI(streamClient, logger),
		SyncAPI:   syncAPI,
		Close: func() {
			streamClient.Close()
			syncAPI.Close()
		},
	}, nil
}

func dialKucoin(cfg config.KucoinConfig, logger zerolog.Logger) *Connections {
	syncAPI := kucoin.NewKucoinSyncAPI(kucoin.KucoinSyncAPIOptions{
		BaseURL:    cfg.BaseURL,
		APIKey:     cfg.APIKey,
		Secret:     cfg.Secret,
		Passphrase: cfg.Passphrase,
	}, logger)
	streamAPI := kucoin.NewKucoinStreamAPI(syncAPI, logger)

	return &Connections{
		StreamAPI: streamAPI,
		SyncAPI:   syncAPI,
		Close:     streamAPI.Close,
	}
}

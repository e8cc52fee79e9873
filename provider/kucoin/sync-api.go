package kucoin

import (
	"context"
	"fmt"
	"strconv"

	"github.com/Kucoin/kucoin-go-sdk"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/spooky-finn/go-orderbook-sync/domain"
)

type KucoinSyncAPIOptions struct {
	BaseURL    string
	APIKey     string
	Secret     string
	Passphrase string
}

type KucoinSyncAPI struct {
	apiService *kucoin.ApiService
	logger     zerolog.Logger
}

func NewKucoinSyncAPI(opts KucoinSyncAPIOptions, logger zerolog.Logger) *KucoinSyncAPI {
	serviceOpts := []kucoin.ApiServiceOption{
		kucoin.ApiKeyOption(opts.APIKey),
		kucoin.ApiSecretOption(opts.Secret),
		kucoin.ApiPassPhraseOption(opts.Passphrase),
	}
	if opts.BaseURL != "" {
		serviceOpts = append(serviceOpts, kucoin.ApiBaseURIOption(opts.BaseURL))
	}

	return &KucoinSyncAPI{
		apiService: kucoin.NewApiService(serviceOpts...),
		logger:     logger.With().Str("component", "kucoin").Logger(),
	}
}

type OrderBookSnapshotModel struct {
	Sequence string     `json:"sequence"`
	Time     int64      `json:"time"`
	Bids     [][]string `json:"bids"`
	Asks     [][]string `json:"asks"`
}

type SymbolModel struct {
	Symbol         string `json:"symbol"`
	BaseIncrement  string `json:"baseIncrement"`
	PriceIncrement string `json:"priceIncrement"`
}

func (api *KucoinSyncAPI) WsConnOpts() (*kucoin.WebSocketTokenModel, error) {
	resp, err := api.apiService.WebSocketPublicToken()
	if err != nil {
		return nil, fmt.Errorf("failed to get ws connection options: %w", err)
	}

	data := &kucoin.WebSocketTokenModel{}
	if err := resp.ReadData(data); err != nil {
		return nil, fmt.Errorf("failed to read ws connection options: %w", err)
	}
	if len(data.Servers) == 0 {
		return nil, fmt.Errorf("kucoin returned no websocket instance servers")
	}

	return data, nil
}

// OrderBookSnapshot returns the full aggregated book; the endpoint has no
// depth parameter so limit is not applied.
func (api *KucoinSyncAPI) OrderBookSnapshot(_ context.Context, symbol *domain.MarketSymbol, _ int) (*domain.OrderBookSnapshot, error) {
	s := symbol.Exchange("-")
	resp, err := api.apiService.AggregatedFullOrderBookV3(s)
	if err != nil {
		return nil, fmt.Errorf("failed to get order book snapshot: %w", err)
	}

	data := &OrderBookSnapshotModel{}
	if err := resp.ReadData(data); err != nil {
		return nil, fmt.Errorf("failed to read order book snapshot of %s: %w", s, err)
	}

	lastUpdID, err := strconv.ParseUint(data.Sequence, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse sequence %q: %w", data.Sequence, err)
	}

	bids, err := domain.ParseLevels(data.Bids)
	if err != nil {
		return nil, fmt.Errorf("snapshot bids: %w", err)
	}
	asks, err := domain.ParseLevels(data.Asks)
	if err != nil {
		return nil, fmt.Errorf("snapshot asks: %w", err)
	}

	return &domain.OrderBookSnapshot{
		Source:       domain.OrderBookSource_Provider,
		LastUpdateID: lastUpdID,
		Bids:         bids,
		Asks:         asks,
	}, nil
}

// Granularity maps priceIncrement to the tick size and baseIncrement to the step size.
func (api *KucoinSyncAPI) Granularity(_ context.Context, symbol *domain.MarketSymbol) (*domain.Granularity, error) {
	resp, err := api.apiService.Symbols("")
	if err != nil {
		return nil, fmt.Errorf("failed to get symbols: %w", err)
	}

	var symbols []SymbolModel
	if err := resp.ReadData(&symbols); err != nil {
		return nil, fmt.Errorf("failed to read symbols: %w", err)
	}

	name := symbol.Exchange("-")
	for _, s := range symbols {
		if s.Symbol != name {
			continue
		}

		tick, err := decimal.NewFromString(s.PriceIncrement)
		if err != nil {
			return nil, fmt.Errorf("%w: %s priceIncrement %q", domain.ErrInvalidGranularity, name, s.PriceIncrement)
		}
		step, err := decimal.NewFromString(s.BaseIncrement)
		if err != nil {
			return nil, fmt.Errorf("%w: %s baseIncrement %q", domain.ErrInvalidGranularity, name, s.BaseIncrement)
		}
		return &domain.Granularity{TickSize: tick, StepSize: step}, nil
	}

	return nil, fmt.Errorf("%w: %s not listed", domain.ErrInvalidGranularity, name)
}

func (api *KucoinSyncAPI) NewWebSocketClient() (*kucoin.WebSocketClient, error) {
	token, err := api.WsConnOpts()
	if err != nil {
		return nil, err
	}
	return api.apiService.NewWebSocketClient(token), nil
}

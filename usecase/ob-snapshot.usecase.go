package usecase

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/spooky-finn/go-orderbook-sync/domain"
)

type BookStarter interface {
	Start(provider string, symbol *domain.MarketSymbol) <-chan error
}

type OrderBookSnapshotUseCase struct {
	connManager domain.ConnManager
	storage     *domain.OrderBookStorage
	starter     BookStarter
	logger      zerolog.Logger
}

// NewOrderBookSnapshotUseCase serves views from storage. When starter is
// not nil, a request for a book nobody maintains starts one.
func NewOrderBookSnapshotUseCase(
	connManager domain.ConnManager,
	storage *domain.OrderBookStorage,
	starter BookStarter,
	logger zerolog.Logger,
) *OrderBookSnapshotUseCase {
	return &OrderBookSnapshotUseCase{
		connManager: connManager,
		storage:     storage,
		starter:     starter,
		logger:      logger.With().Str("component", "orderbook-snapshot-usecase").Logger(),
	}
}

// GetOrderBookSnapshot returns the latest local view, or the provider's
// snapshot while the local book is not synchronized.
func (o *OrderBookSnapshotUseCase) GetOrderBookSnapshot(
	ctx context.Context, provider string, symbol *domain.MarketSymbol, limit int,
) (*domain.OrderBookSnapshot, error) {
	view, err := o.storage.Get(provider, symbol)
	if err == nil {
		return trim(view, limit), nil
	}

	syncAPI, err := o.connManager.SyncAPI(provider)
	if err != nil {
		return nil, err
	}

	if o.starter != nil {
		o.starter.Start(provider, symbol)
	}

	o.logger.Debug().Str("provider", provider).Str("symbol", symbol.String()).Msg("local book not ready, returning provider snapshot")
	snapshot, err := syncAPI.OrderBookSnapshot(ctx, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("provider snapshot: %w", err)
	}
	return trim(snapshot, limit), nil
}

// trim returns view limited to limit levels per side without touching view.
func trim(view *domain.OrderBookSnapshot, limit int) *domain.OrderBookSnapshot {
	if limit <= 0 || (len(view.Bids) <= limit && len(view.Asks) <= limit) {
		return view
	}

	trimmed := *view
	trimmed.Bids = view.Bids[:min(limit, len(view.Bids))]
	trimmed.Asks = view.Asks[:min(limit, len(view.Asks))]
	return &trimmed
}

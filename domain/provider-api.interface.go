package domain

import "context"

type ProviderSyncAPI interface {
	OrderBookSnapshot(ctx context.Context, symbol *MarketSymbol, limit int) (*OrderBookSnapshot, error)
	Granularity(ctx context.Context, symbol *MarketSymbol) (*Granularity, error)
}

type ProviderStreamAPI interface {
	DepthDiffStream(symbol *MarketSymbol) (*Subscription[*DepthUpdate], error)
}

// DepthListener receives every view published by a maintainer. Implementations must not block.
type DepthListener interface {
	OnDepth(provider string, symbol *MarketSymbol, view *OrderBookSnapshot)
}

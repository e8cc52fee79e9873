package domain

import "github.com/shopspring/decimal"

type OrderBookSource string

const (
	OrderBookSource_Provider       OrderBookSource = "Provider"
	OrderBookSource_LocalOrderBook OrderBookSource = "LocalOrderBook"
)

// OrderBookSnapshot is either a provider snapshot or a view published from a local book.
type OrderBookSnapshot struct {
	Source       OrderBookSource
	LastUpdateID uint64
	Bids         []Level
	Asks         []Level

	// Only set on local views, identifies the sync session that produced them.
	SessionID string
}

// DepthUpdate is a single diff message covering ids FirstUpdateID..FinalUpdateID.
type DepthUpdate struct {
	Symbol        string
	EventTime     int64
	FirstUpdateID uint64
	FinalUpdateID uint64
	Bids          []Level
	Asks          []Level
}

func NewDepthUpdate(firstUpdateID, finalUpdateID uint64, bids, asks []Level) *DepthUpdate {
	return &DepthUpdate{
		FirstUpdateID: firstUpdateID,
		FinalUpdateID: finalUpdateID,
		Bids:          bids,
		Asks:          asks,
	}
}

// Granularity is the per-symbol tick size (price) and step size (quantity).
type Granularity struct {
	TickSize decimal.Decimal
	StepSize decimal.Decimal
}

// Subscription is a live feed of T. Unsubscribe releases the topic.
type Subscription[T any] struct {
	Stream      chan T
	Unsubscribe func()
	Topic       string
}

package domain

import (
	"fmt"

	"github.com/google/btree"
)

const btreeDegree = 32

// PriceLevel is a level in tick units. Qty 0 never persists in a book.
type PriceLevel struct {
	Price int64
	Qty   int64
}

// OrderBook is a price-level book: bids descending, asks ascending.
// It is not safe for concurrent use; readers on other goroutines should
// consume published views instead.
type OrderBook struct {
	bids *btree.BTreeG[PriceLevel]
	asks *btree.BTreeG[PriceLevel]

	LastUpdateID uint64
}

func bidLess(a, b PriceLevel) bool { return a.Price > b.Price }
func askLess(a, b PriceLevel) bool { return a.Price < b.Price }

func NewOrderBook() *OrderBook {
	return &OrderBook{
		bids: btree.NewG(btreeDegree, bidLess),
		asks: btree.NewG(btreeDegree, askLess),
	}
}

// NewOrderBookFromSnapshot builds a fresh book; nothing from a previous book
// survives. Zero quantity entries are skipped.
func NewOrderBookFromSnapshot(snapshot *OrderBookSnapshot, scaler *Scaler) (*OrderBook, error) {
	ob := NewOrderBook()

	bids, err := scaleLevels(snapshot.Bids, scaler)
	if err != nil {
		return nil, fmt.Errorf("snapshot bids: %w", err)
	}
	asks, err := scaleLevels(snapshot.Asks, scaler)
	if err != nil {
		return nil, fmt.Errorf("snapshot asks: %w", err)
	}

	ob.updateDepth(ob.bids, bids)
	ob.updateDepth(ob.asks, asks)
	ob.LastUpdateID = snapshot.LastUpdateID

	return ob, nil
}

// ApplyUpdate overwrites every level named by the update with its new
// absolute quantity, removing levels whose quantity is zero. All levels are
// scaled before the book is touched, so a scaling error leaves it unchanged.
func (ob *OrderBook) ApplyUpdate(update *DepthUpdate, scaler *Scaler) error {
	bids, err := scaleLevels(update.Bids, scaler)
	if err != nil {
		return fmt.Errorf("update %d bids: %w", update.FinalUpdateID, err)
	}
	asks, err := scaleLevels(update.Asks, scaler)
	if err != nil {
		return fmt.Errorf("update %d asks: %w", update.FinalUpdateID, err)
	}

	ob.updateDepth(ob.bids, bids)
	ob.updateDepth(ob.asks, asks)
	if update.FinalUpdateID > ob.LastUpdateID {
		ob.LastUpdateID = update.FinalUpdateID
	}

	return nil
}

// TopNDepth returns up to n best levels per side, best first.
func (ob *OrderBook) TopNDepth(n int) (bids []PriceLevel, asks []PriceLevel) {
	return ob.limitDepth(ob.bids, n), ob.limitDepth(ob.asks, n)
}

// TakeSnapshot returns a decimal view of the top limit levels.
func (ob *OrderBook) TakeSnapshot(limit int, scaler *Scaler) *OrderBookSnapshot {
	bids, asks := ob.TopNDepth(limit)

	return &OrderBookSnapshot{
		Source:       OrderBookSource_LocalOrderBook,
		LastUpdateID: ob.LastUpdateID,
		Bids:         scaler.UnscaleLevels(bids),
		Asks:         scaler.UnscaleLevels(asks),
	}
}

func (ob *OrderBook) BestBid() (PriceLevel, bool) { return ob.bids.Min() }
func (ob *OrderBook) BestAsk() (PriceLevel, bool) { return ob.asks.Min() }

func (ob *OrderBook) BidLen() int { return ob.bids.Len() }
func (ob *OrderBook) AskLen() int { return ob.asks.Len() }

func (ob *OrderBook) limitDepth(side *btree.BTreeG[PriceLevel], limit int) []PriceLevel {
	if limit <= 0 {
		return []PriceLevel{}
	}

	depth := make([]PriceLevel, 0, min(limit, side.Len()))
	side.Ascend(func(level PriceLevel) bool {
		depth = append(depth, level)
		return len(depth) < limit
	})

	return depth
}

func (ob *OrderBook) updateDepth(side *btree.BTreeG[PriceLevel], levels []PriceLevel) {
	for _, level := range levels {
		if level.Qty == 0 {
			side.Delete(level)
			continue
		}
		side.ReplaceOrInsert(level)
	}
}

func scaleLevels(levels []Level, scaler *Scaler) ([]PriceLevel, error) {
	result := make([]PriceLevel, len(levels))
	for i, level := range levels {
		scaled, err := scaler.ScaleLevel(level)
		if err != nil {
			return nil, fmt.Errorf("level %s@%s: %w", level.Qty, level.Price, err)
		}
		result[i] = scaled
	}

	return result, nil
}

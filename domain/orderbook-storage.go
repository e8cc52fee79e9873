package domain

import (
	"sync"
)

// OrderBookStorage holds the latest view published for each provider and
// symbol. Views are immutable once stored, so readers never touch a live book.
type OrderBookStorage struct {
	mu      sync.RWMutex
	storage map[string]map[string]*OrderBookSnapshot
}

func NewOrderBookStorage() *OrderBookStorage {
	return &OrderBookStorage{
		storage: make(map[string]map[string]*OrderBookSnapshot),
	}
}

func (o *OrderBookStorage) Add(provider string, symbol *MarketSymbol, view *OrderBookSnapshot) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, ok := o.storage[provider]; !ok {
		o.storage[provider] = make(map[string]*OrderBookSnapshot)
	}

	o.storage[provider][symbol.String()] = view
}

func (o *OrderBookStorage) Get(provider string, symbol *MarketSymbol) (*OrderBookSnapshot, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if _, ok := o.storage[provider]; !ok {
		return nil, ErrProviderNotFound
	}

	view, ok := o.storage[provider][symbol.String()]
	if !ok {
		return nil, ErrOrderBookNotFound
	}

	return view, nil
}

// Remove drops the view of a book that is being resynchronized.
func (o *OrderBookStorage) Remove(provider string, symbol *MarketSymbol) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if books, ok := o.storage[provider]; ok {
		delete(books, symbol.String())
	}
}

func (o *OrderBookStorage) OrderBookCount(provider string) int {
	o.mu.RLock()
	defer o.mu.RUnlock()

	return len(o.storage[provider])
}

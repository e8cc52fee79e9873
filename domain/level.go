package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Level is a price level as it travels on the wire, in decimal units.
type Level struct {
	Price decimal.Decimal
	Qty   decimal.Decimal
}

func NewLevel(price, qty string) (Level, error) {
	p, err := decimal.NewFromString(price)
	if err != nil {
		return Level{}, fmt.Errorf("%w: price %q: %v", ErrMalformedLevel, price, err)
	}
	q, err := decimal.NewFromString(qty)
	if err != nil {
		return Level{}, fmt.Errorf("%w: qty %q: %v", ErrMalformedLevel, qty, err)
	}
	return Level{Price: p, Qty: q}, nil
}

// ParseLevels converts exchange [price, qty, ...] string tuples. Extra
// trailing fields (KuCoin sends a sequence number) are ignored.
func ParseLevels(depth [][]string) ([]Level, error) {
	result := make([]Level, 0, len(depth))
	for _, raw := range depth {
		if len(raw) < 2 {
			return nil, fmt.Errorf("%w: %v", ErrMalformedLevel, raw)
		}

		level, err := NewLevel(raw[0], raw[1])
		if err != nil {
			return nil, err
		}
		result = append(result, level)
	}

	return result, nil
}

func FormatLevels(depth []Level) [][]string {
	result := make([][]string, len(depth))
	for i, level := range depth {
		result[i] = []string{level.Price.String(), level.Qty.String()}
	}

	return result
}

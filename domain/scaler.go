package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

type RoundingMode string

const (
	// RoundingNearest rounds half away from zero and rejects values further
	// than the tolerance from an exact multiple.
	RoundingNearest RoundingMode = "nearest"
	// RoundingFloor truncates towards zero and never rejects.
	RoundingFloor RoundingMode = "floor"
)

const divisionPrecision = 16

// Scaler converts decimal prices and quantities into integer ticks and back.
// A price tick is price / tickSize, a quantity tick is qty / stepSize.
type Scaler struct {
	tickSize decimal.Decimal
	stepSize decimal.Decimal

	rounding RoundingMode
	// fraction of one tick (or step) a value may sit away from an exact multiple
	tolerance decimal.Decimal
}

type ScalerOption func(*Scaler)

func WithRounding(mode RoundingMode) ScalerOption {
	return func(s *Scaler) {
		s.rounding = mode
	}
}

func WithTolerance(tolerance decimal.Decimal) ScalerOption {
	return func(s *Scaler) {
		s.tolerance = tolerance
	}
}

// NewScaler defaults to nearest rounding with zero tolerance, so any value
// that is not an exact multiple of its granularity is rejected.
func NewScaler(tickSize, stepSize decimal.Decimal, opts ...ScalerOption) (*Scaler, error) {
	if !tickSize.IsPositive() || !stepSize.IsPositive() {
		return nil, fmt.Errorf("%w: tick=%s step=%s", ErrInvalidGranularity, tickSize, stepSize)
	}

	s := &Scaler{
		tickSize:  tickSize,
		stepSize:  stepSize,
		rounding:  RoundingNearest,
		tolerance: decimal.Zero,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.rounding != RoundingNearest && s.rounding != RoundingFloor {
		return nil, fmt.Errorf("%w: unknown mode %q", ErrInvalidRounding, s.rounding)
	}
	if s.tolerance.IsNegative() {
		return nil, fmt.Errorf("%w: negative tolerance %s", ErrInvalidRounding, s.tolerance)
	}

	return s, nil
}

func NewScalerFromGranularity(g *Granularity, opts ...ScalerOption) (*Scaler, error) {
	return NewScaler(g.TickSize, g.StepSize, opts...)
}

func (s *Scaler) TickSize() decimal.Decimal { return s.tickSize }
func (s *Scaler) StepSize() decimal.Decimal { return s.stepSize }

func (s *Scaler) PriceToTicks(price decimal.Decimal) (int64, error) {
	return s.toTicks(price, s.tickSize)
}

func (s *Scaler) QtyToTicks(qty decimal.Decimal) (int64, error) {
	return s.toTicks(qty, s.stepSize)
}

func (s *Scaler) TicksToPrice(ticks int64) decimal.Decimal {
	return decimal.NewFromInt(ticks).Mul(s.tickSize)
}

func (s *Scaler) TicksToQty(ticks int64) decimal.Decimal {
	return decimal.NewFromInt(ticks).Mul(s.stepSize)
}

// ScaleLevel converts a wire level into ticks.
func (s *Scaler) ScaleLevel(level Level) (PriceLevel, error) {
	price, err := s.PriceToTicks(level.Price)
	if err != nil {
		return PriceLevel{}, fmt.Errorf("price: %w", err)
	}
	qty, err := s.QtyToTicks(level.Qty)
	if err != nil {
		return PriceLevel{}, fmt.Errorf("qty: %w", err)
	}

	return PriceLevel{Price: price, Qty: qty}, nil
}

// UnscaleLevels converts book levels back into decimals.
func (s *Scaler) UnscaleLevels(levels []PriceLevel) []Level {
	result := make([]Level, len(levels))
	for i, level := range levels {
		result[i] = Level{
			Price: s.TicksToPrice(level.Price),
			Qty:   s.TicksToQty(level.Qty),
		}
	}

	return result
}

func (s *Scaler) toTicks(value, unit decimal.Decimal) (int64, error) {
	if value.IsNegative() {
		return 0, fmt.Errorf("%w: %s is negative", ErrUnscalableValue, value)
	}

	units := value.DivRound(unit, divisionPrecision)

	var ticks decimal.Decimal
	switch s.rounding {
	case RoundingFloor:
		ticks = units.Floor()
	default:
		ticks = units.Round(0)
		if units.Sub(ticks).Abs().GreaterThan(s.tolerance) {
			return 0, fmt.Errorf("%w: %s is not a multiple of %s", ErrUnscalableValue, value, unit)
		}
	}

	if !ticks.BigInt().IsInt64() {
		return 0, fmt.Errorf("%w: %s overflows int64 ticks of %s", ErrUnscalableValue, value, unit)
	}

	return ticks.IntPart(), nil
}

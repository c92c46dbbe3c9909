package market

import (
	"fmt"
	"math"
)

// MulChecked multiplies two amounts, failing closed on overflow instead of
// wrapping.
func MulChecked(a, b uint64) (uint64, error) {
	if a != 0 && b > math.MaxUint64/a {
		return 0, fmt.Errorf("%w: %d * %d", ErrArithmeticOverflow, a, b)
	}
	return a * b, nil
}

// AddChecked adds two amounts, failing closed on overflow.
func AddChecked(a, b uint64) (uint64, error) {
	if b > math.MaxUint64-a {
		return 0, fmt.Errorf("%w: %d + %d", ErrArithmeticOverflow, a, b)
	}
	return a + b, nil
}

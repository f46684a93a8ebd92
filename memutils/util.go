package memutils

import (
	"math/bits"

	cerrors "github.com/cockroachdb/errors"
	"golang.org/x/exp/constraints"
)

type Number interface {
	constraints.Integer
}

func CheckPow2[T Number](number T, name string) error {
	if number <= 0 || number&(number-1) != 0 {
		return cerrors.Wrapf(PowerOfTwoError, "%s is %d", name, number)
	}
	return nil
}

func AlignUp[T Number](value T, alignment T) T {
	return (value + alignment - 1) &^ (alignment - 1)
}

func AlignDown[T Number](value T, alignment T) T {
	return value &^ (alignment - 1)
}

// DivRoundUp divides value by divisor, rounding up
func DivRoundUp[T Number](value T, divisor T) T {
	return (value + divisor - 1) / divisor
}

// RoundPow2 returns the smallest power of two that is at least value. Values of 0 and 1 both
// round to 1.
func RoundPow2(value uint64) uint64 {
	if value <= 1 {
		return 1
	}
	return uint64(1) << (64 - bits.LeadingZeros64(value-1))
}

// Log2 returns the base-2 logarithm of value, rounded down. value must not be 0.
func Log2(value uint64) int {
	return 63 - bits.LeadingZeros64(value)
}

// FirstBit returns the index of the lowest set bit of value, or -1 if value is 0
func FirstBit(value uint64) int {
	if value == 0 {
		return -1
	}
	return bits.TrailingZeros64(value)
}

// LowMask returns a value with the lowest n bits set. n may be anywhere from 0 to 64.
func LowMask(n int) uint64 {
	if n >= 64 {
		return ^uint64(0)
	}
	if n <= 0 {
		return 0
	}
	return (uint64(1) << n) - 1
}

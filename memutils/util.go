package memutils

import (
	cerrors "github.com/cockroachdb/errors"
)

type Number interface {
	~int | ~uint
}

func CheckPow2[T Number](number T, name string) error {
	if number&(number-1) != 0 {
		return cerrors.Wrapf(PowerOfTwoError, "%s is %d", name, number)
	}
	return nil
}

// CheckAlign verifies that value is a multiple of granularity. Unlike AlignUp, granularity
// does not need to be a power of two.
func CheckAlign[T Number](value T, granularity T, name string) error {
	if granularity == 0 || value%granularity != 0 {
		return cerrors.Wrapf(AlignmentError, "%s is %d, granularity is %d", name, value, granularity)
	}
	return nil
}

// AlignUp rounds value up to the nearest multiple of alignment. Alignment must be a power
// of two.
func AlignUp(value int, alignment uint) int {
	return (value + int(alignment) - 1) & int(^(alignment - 1))
}

// AlignDown rounds value down to the nearest multiple of alignment. Alignment must be a power
// of two.
func AlignDown(value int, alignment uint) int {
	return value & int(^(alignment - 1))
}

// DivideRoundingUp returns numerator/denominator, rounded toward positive infinity.
func DivideRoundingUp(numerator, denominator int) int {
	return (numerator + denominator - 1) / denominator
}

package memutils

import (
	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"
)

// Number is any integer type that element counts and byte sizes are expressed in
type Number interface {
	constraints.Integer
}

// DivUp returns x / y rounded toward positive infinity. y must be greater than zero. It does
// not overflow for any x representable in T.
func DivUp[T Number](x, y T) T {
	quotient := x / y
	if x%y != 0 {
		quotient++
	}
	return quotient
}

// AlignUp rounds value up to the next multiple of alignment, which must be a power of two
func AlignUp[T Number](value, alignment T) T {
	return (value + alignment - 1) &^ (alignment - 1)
}

// CheckPow2 returns an error if number is not a power of two
func CheckPow2[T Number](number T, name string) error {
	if number <= 0 || number&(number-1) != 0 {
		return errors.Errorf("%s must be a power of two, but is %d", name, number)
	}
	return nil
}

// CheckRange returns an error if the half-open range [offset, offset+count) does not fit
// inside [0, capacity)
func CheckRange[T Number](offset, count, capacity T) error {
	if offset < 0 || count < 0 || offset > capacity || count > capacity-offset {
		return errors.Errorf("range [%d, %d) exceeds capacity %d", offset, offset+count, capacity)
	}
	return nil
}

// Package ordering computes fractional positions for cards in a board column.
//
// Positions are float64 values ascending within (project, status). Inserting
// between two neighbours takes their midpoint, so no other row is rewritten
// on a move. Repeated bisection of the same gap eventually exhausts float64
// resolution; the engine reports that with ErrPrecisionExhausted rather than
// returning a position that collides with a neighbour. Columns in that state
// are repaired with Renormalize, which is an explicit maintenance operation.
package ordering

import (
	"errors"
	"fmt"
)

var ErrPrecisionExhausted = errors.New("ordering: no representable position between neighbours")

// InsertionOrder returns the position for an item dropped at index within
// column, where column holds the ascending positions of the other items.
func InsertionOrder(column []float64, index int) (float64, error) {
	if len(column) == 0 {
		return 0, nil
	}
	if index <= 0 {
		first := column[0]
		next := first - 1
		if !(next < first) {
			return 0, fmt.Errorf("%w: before %v", ErrPrecisionExhausted, first)
		}
		return next, nil
	}
	if index >= len(column) {
		last := column[len(column)-1]
		next := last + 1
		if !(next > last) {
			return 0, fmt.Errorf("%w: after %v", ErrPrecisionExhausted, last)
		}
		return next, nil
	}

	before, after := column[index-1], column[index]
	mid := before + (after-before)/2
	if !(before < mid && mid < after) {
		return 0, fmt.Errorf("%w: between %v and %v", ErrPrecisionExhausted, before, after)
	}
	return mid, nil
}

// Append returns the position one past the current maximum, or 0 for an empty
// column.
func Append(max float64, empty bool) float64 {
	if empty {
		return 0
	}
	return max + 1
}

// Renormalize reassigns n evenly spaced positions 0..n-1 in the existing order.
func Renormalize(n int) []float64 {
	orders := make([]float64, n)
	for i := range orders {
		orders[i] = float64(i)
	}
	return orders
}

package helpers

import (
	"cmp"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"

	"github.com/cube2222/octoframe/arrowexec/kernels"
)

// MakeRowComparator returns a three-way comparison of two rows of the same key columns.
// Columns are compared in order, each one ascending or descending, with nulls placed first or last.
func MakeRowComparator(columns []arrow.Array, descending, nullsLast []bool) func(i, j int) int {
	comparators := make([]func(i, j int) int, len(columns))
	for k := range columns {
		comparators[k] = MakeValueComparator(columns[k], descending[k], nullsLast[k])
	}
	return func(i, j int) int {
		for _, compare := range comparators {
			if c := compare(i, j); c != 0 {
				return c
			}
		}
		return 0
	}
}

// MakeValueComparator compares two values of one array.
// Null placement doesn't depend on the direction. NaN is ordered before every other float.
func MakeValueComparator(arr arrow.Array, descending, nullsLast bool) func(i, j int) int {
	var compareValues func(i, j int) int
	switch arr.DataType().ID() {
	case arrow.NULL:
		return func(i, j int) int {
			return 0
		}
	case arrow.BOOL:
		typedArr := arr.(*array.Boolean)
		compareValues = func(i, j int) int {
			a, b := typedArr.Value(i), typedArr.Value(j)
			switch {
			case a == b:
				return 0
			case !a:
				return -1
			}
			return 1
		}
	case arrow.INT8:
		compareValues = orderedComparator(kernels.Values[int8](arr))
	case arrow.INT16:
		compareValues = orderedComparator(kernels.Values[int16](arr))
	case arrow.INT32, arrow.DATE32:
		compareValues = orderedComparator(kernels.Values[int32](arr))
	case arrow.INT64, arrow.TIMESTAMP, arrow.DURATION:
		compareValues = orderedComparator(kernels.Values[int64](arr))
	case arrow.UINT8:
		compareValues = orderedComparator(kernels.Values[uint8](arr))
	case arrow.UINT16:
		compareValues = orderedComparator(kernels.Values[uint16](arr))
	case arrow.UINT32:
		compareValues = orderedComparator(kernels.Values[uint32](arr))
	case arrow.UINT64:
		compareValues = orderedComparator(kernels.Values[uint64](arr))
	case arrow.FLOAT32:
		compareValues = orderedComparator(kernels.Values[float32](arr))
	case arrow.FLOAT64:
		compareValues = orderedComparator(kernels.Values[float64](arr))
	case arrow.STRING:
		typedArr := arr.(*array.String)
		compareValues = func(i, j int) int {
			return strings.Compare(typedArr.Value(i), typedArr.Value(j))
		}
	default:
		panic("unsupported type for comparison: " + arr.DataType().String())
	}

	direction := 1
	if descending {
		direction = -1
	}
	nullOrder := -1
	if nullsLast {
		nullOrder = 1
	}
	if arr.NullN() == 0 {
		return func(i, j int) int {
			return direction * compareValues(i, j)
		}
	}
	return func(i, j int) int {
		iNull, jNull := arr.IsNull(i), arr.IsNull(j)
		switch {
		case iNull && jNull:
			return 0
		case iNull:
			return nullOrder
		case jNull:
			return -nullOrder
		}
		return direction * compareValues(i, j)
	}
}

func orderedComparator[T kernels.Numeric](values []T) func(i, j int) int {
	return func(i, j int) int {
		return cmp.Compare(values[i], values[j])
	}
}

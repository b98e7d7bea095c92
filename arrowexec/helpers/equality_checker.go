package helpers

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"

	"github.com/cube2222/octoframe/arrowexec/kernels"
	"github.com/cube2222/octoframe/octoframe"
	"github.com/cube2222/octoframe/table"
)

// MakeRowEqualityChecker returns a function checking whether a row of leftKeys equals a row of rightKeys.
// Both sides have to have the same types. Nulls are equal to each other, and so are NaNs.
func MakeRowEqualityChecker(leftKeys, rightKeys []arrow.Array) func(leftRowIndex, rightRowIndex int) bool {
	if len(leftKeys) != len(rightKeys) {
		panic(fmt.Errorf("key column count mismatch in equality checker: %d != %d", len(leftKeys), len(rightKeys)))
	}
	keyColumnCount := len(leftKeys)

	columnEqualityCheckers := make([]func(leftRowIndex, rightRowIndex int) bool, keyColumnCount)
	for i := 0; i < keyColumnCount; i++ {
		columnEqualityCheckers[i] = MakeValueEqualityChecker(leftKeys[i], rightKeys[i])
	}

	return func(leftRowIndex, rightRowIndex int) bool {
		for i := 0; i < keyColumnCount; i++ {
			if !columnEqualityCheckers[i](leftRowIndex, rightRowIndex) {
				return false
			}
		}
		return true
	}
}

func MakeValueEqualityChecker(left, right arrow.Array) func(leftRowIndex, rightRowIndex int) bool {
	var valuesEqual func(leftRowIndex, rightRowIndex int) bool
	switch left.DataType().ID() {
	case arrow.NULL:
		return func(leftRowIndex, rightRowIndex int) bool {
			return true
		}
	case arrow.BOOL:
		leftTypedArr, rightTypedArr := left.(*array.Boolean), right.(*array.Boolean)
		valuesEqual = func(leftRowIndex, rightRowIndex int) bool {
			return leftTypedArr.Value(leftRowIndex) == rightTypedArr.Value(rightRowIndex)
		}
	case arrow.INT8:
		valuesEqual = fixedEqualityChecker(kernels.Values[int8](left), kernels.Values[int8](right))
	case arrow.INT16:
		valuesEqual = fixedEqualityChecker(kernels.Values[int16](left), kernels.Values[int16](right))
	case arrow.INT32, arrow.DATE32:
		valuesEqual = fixedEqualityChecker(kernels.Values[int32](left), kernels.Values[int32](right))
	case arrow.INT64, arrow.TIMESTAMP, arrow.DURATION:
		valuesEqual = fixedEqualityChecker(kernels.Values[int64](left), kernels.Values[int64](right))
	case arrow.UINT8:
		valuesEqual = fixedEqualityChecker(kernels.Values[uint8](left), kernels.Values[uint8](right))
	case arrow.UINT16:
		valuesEqual = fixedEqualityChecker(kernels.Values[uint16](left), kernels.Values[uint16](right))
	case arrow.UINT32:
		valuesEqual = fixedEqualityChecker(kernels.Values[uint32](left), kernels.Values[uint32](right))
	case arrow.UINT64:
		valuesEqual = fixedEqualityChecker(kernels.Values[uint64](left), kernels.Values[uint64](right))
	case arrow.FLOAT32:
		valuesEqual = floatEqualityChecker(kernels.Values[float32](left), kernels.Values[float32](right))
	case arrow.FLOAT64:
		valuesEqual = floatEqualityChecker(kernels.Values[float64](left), kernels.Values[float64](right))
	case arrow.STRING:
		leftTypedArr, rightTypedArr := left.(*array.String), right.(*array.String)
		valuesEqual = func(leftRowIndex, rightRowIndex int) bool {
			return leftTypedArr.Value(leftRowIndex) == rightTypedArr.Value(rightRowIndex)
		}
	case arrow.LIST:
		typ, err := octoframe.TypeFromArrow(left.DataType())
		if err != nil {
			panic(err)
		}
		valuesEqual = func(leftRowIndex, rightRowIndex int) bool {
			return table.ValueAt(left, typ, leftRowIndex).Equal(table.ValueAt(right, typ, rightRowIndex))
		}
	default:
		panic("unsupported type for equality checker: " + left.DataType().String())
	}

	if left.NullN() == 0 && right.NullN() == 0 {
		return valuesEqual
	}
	return func(leftRowIndex, rightRowIndex int) bool {
		leftNull, rightNull := left.IsNull(leftRowIndex), right.IsNull(rightRowIndex)
		if leftNull || rightNull {
			return leftNull && rightNull
		}
		return valuesEqual(leftRowIndex, rightRowIndex)
	}
}

func fixedEqualityChecker[T kernels.Integer](left, right []T) func(leftRowIndex, rightRowIndex int) bool {
	return func(leftRowIndex, rightRowIndex int) bool {
		return left[leftRowIndex] == right[rightRowIndex]
	}
}

func floatEqualityChecker[T ~float32 | ~float64](left, right []T) func(leftRowIndex, rightRowIndex int) bool {
	return func(leftRowIndex, rightRowIndex int) bool {
		a, b := left[leftRowIndex], right[rightRowIndex]
		return a == b || (a != a && b != b)
	}
}

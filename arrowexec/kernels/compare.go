package kernels

import (
	"cmp"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/cube2222/octoframe/logical"
	"github.com/cube2222/octoframe/octoframe"
)

// Compare evaluates a comparison operator elementwise over two arrays of the same type.
// Strings compare lexicographically by bytes, false sorts before true.
func Compare(mem memory.Allocator, op logical.BinaryOperator, left, right arrow.Array, typ octoframe.Type) (arrow.Array, error) {
	n := left.Len()
	if typ.TypeID == octoframe.TypeIDNull || left.DataType().ID() == arrow.NULL || right.DataType().ID() == arrow.NULL {
		return array.MakeArrayOfNull(mem, arrow.FixedWidthTypes.Boolean, n), nil
	}
	valid := inputValidity(mem, n, left, right)

	switch typ.TypeID {
	case octoframe.TypeIDBoolean:
		l, r := left.(*array.Boolean), right.(*array.Boolean)
		return compareWith(mem, op, n, valid, func(i int) int {
			return cmp.Compare(boolToInt(l.Value(i)), boolToInt(r.Value(i)))
		}), nil
	case octoframe.TypeIDString:
		l, r := left.(*array.String), right.(*array.String)
		return compareWith(mem, op, n, valid, func(i int) int {
			return cmp.Compare(l.Value(i), r.Value(i))
		}), nil
	case octoframe.TypeIDInt8:
		return compareValues(mem, op, Values[int8](left), Values[int8](right), valid), nil
	case octoframe.TypeIDInt16:
		return compareValues(mem, op, Values[int16](left), Values[int16](right), valid), nil
	case octoframe.TypeIDInt32, octoframe.TypeIDDate:
		return compareValues(mem, op, Values[int32](left), Values[int32](right), valid), nil
	case octoframe.TypeIDInt64, octoframe.TypeIDDatetime, octoframe.TypeIDDuration:
		return compareValues(mem, op, Values[int64](left), Values[int64](right), valid), nil
	case octoframe.TypeIDUInt8:
		return compareValues(mem, op, Values[uint8](left), Values[uint8](right), valid), nil
	case octoframe.TypeIDUInt16:
		return compareValues(mem, op, Values[uint16](left), Values[uint16](right), valid), nil
	case octoframe.TypeIDUInt32:
		return compareValues(mem, op, Values[uint32](left), Values[uint32](right), valid), nil
	case octoframe.TypeIDUInt64:
		return compareValues(mem, op, Values[uint64](left), Values[uint64](right), valid), nil
	case octoframe.TypeIDFloat32:
		return compareFloats(mem, op, Values[float32](left), Values[float32](right), valid), nil
	case octoframe.TypeIDFloat64:
		return compareFloats(mem, op, Values[float64](left), Values[float64](right), valid), nil
	}
	valid.buf.Release()
	return nil, octoframe.NewTypeError("comparison isn't supported for %s", typ)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func matches(op logical.BinaryOperator, c int) bool {
	switch op {
	case logical.BinaryOperatorEq:
		return c == 0
	case logical.BinaryOperatorNotEq:
		return c != 0
	case logical.BinaryOperatorLt:
		return c < 0
	case logical.BinaryOperatorLtEq:
		return c <= 0
	case logical.BinaryOperatorGt:
		return c > 0
	case logical.BinaryOperatorGtEq:
		return c >= 0
	}
	panic(fmt.Sprintf("invalid comparison operator %s", op))
}

func compareWith(mem memory.Allocator, op logical.BinaryOperator, n int, valid *validity, compare func(i int) int) arrow.Array {
	out := make([]bool, n)
	for i := range out {
		if valid.isValid(i) {
			out[i] = matches(op, compare(i))
		}
	}
	return newBooleanArray(mem, out, valid)
}

func compareValues[T Integer](mem memory.Allocator, op logical.BinaryOperator, left, right []T, valid *validity) arrow.Array {
	out := make([]bool, len(left))
	for i := range out {
		a, b := left[i], right[i]
		switch op {
		case logical.BinaryOperatorEq:
			out[i] = a == b
		case logical.BinaryOperatorNotEq:
			out[i] = a != b
		case logical.BinaryOperatorLt:
			out[i] = a < b
		case logical.BinaryOperatorLtEq:
			out[i] = a <= b
		case logical.BinaryOperatorGt:
			out[i] = a > b
		case logical.BinaryOperatorGtEq:
			out[i] = a >= b
		default:
			panic(fmt.Sprintf("invalid comparison operator %s", op))
		}
	}
	return newBooleanArray(mem, out, valid)
}

// compareFloats follows IEEE 754, so every comparison with NaN except != is false.
func compareFloats[T ~float32 | ~float64](mem memory.Allocator, op logical.BinaryOperator, left, right []T, valid *validity) arrow.Array {
	out := make([]bool, len(left))
	for i := range out {
		a, b := left[i], right[i]
		switch op {
		case logical.BinaryOperatorEq:
			out[i] = a == b
		case logical.BinaryOperatorNotEq:
			out[i] = a != b
		case logical.BinaryOperatorLt:
			out[i] = a < b
		case logical.BinaryOperatorLtEq:
			out[i] = a <= b
		case logical.BinaryOperatorGt:
			out[i] = a > b
		case logical.BinaryOperatorGtEq:
			out[i] = a >= b
		default:
			panic(fmt.Sprintf("invalid comparison operator %s", op))
		}
	}
	return newBooleanArray(mem, out, valid)
}

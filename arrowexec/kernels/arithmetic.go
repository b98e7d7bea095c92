package kernels

import (
	"fmt"
	"math"
	"unsafe"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/cube2222/octoframe/logical"
	"github.com/cube2222/octoframe/octoframe"
)

// ErrOverflow is returned by checked integer arithmetic.
var ErrOverflow = fmt.Errorf("integer overflow")

// Arithmetic computes op elementwise. Numeric operands must already be cast to the output type,
// temporal operands keep their own types. A null in either operand produces a null.
// Integer division and modulo by zero produce nulls.
func Arithmetic(mem memory.Allocator, op logical.BinaryOperator, left, right arrow.Array, outType octoframe.Type, checked bool) (arrow.Array, error) {
	n := left.Len()
	if outType.TypeID == octoframe.TypeIDNull || left.DataType().ID() == arrow.NULL || right.DataType().ID() == arrow.NULL {
		return array.MakeArrayOfNull(mem, outType.ArrowType(), n), nil
	}

	switch outType.TypeID {
	case octoframe.TypeIDString:
		return concatStrings(mem, left.(*array.String), right.(*array.String))
	case octoframe.TypeIDDatetime, octoframe.TypeIDDuration:
		return integerArithmetic[int64](mem, op, Values[int64](left), Values[int64](right), inputValidity(mem, n, left, right), outType.ArrowType(), checked)
	case octoframe.TypeIDInt8:
		return integerArithmetic[int8](mem, op, Values[int8](left), Values[int8](right), inputValidity(mem, n, left, right), outType.ArrowType(), checked)
	case octoframe.TypeIDInt16:
		return integerArithmetic[int16](mem, op, Values[int16](left), Values[int16](right), inputValidity(mem, n, left, right), outType.ArrowType(), checked)
	case octoframe.TypeIDInt32:
		return integerArithmetic[int32](mem, op, Values[int32](left), Values[int32](right), inputValidity(mem, n, left, right), outType.ArrowType(), checked)
	case octoframe.TypeIDInt64:
		return integerArithmetic[int64](mem, op, Values[int64](left), Values[int64](right), inputValidity(mem, n, left, right), outType.ArrowType(), checked)
	case octoframe.TypeIDUInt8:
		return integerArithmetic[uint8](mem, op, Values[uint8](left), Values[uint8](right), inputValidity(mem, n, left, right), outType.ArrowType(), checked)
	case octoframe.TypeIDUInt16:
		return integerArithmetic[uint16](mem, op, Values[uint16](left), Values[uint16](right), inputValidity(mem, n, left, right), outType.ArrowType(), checked)
	case octoframe.TypeIDUInt32:
		return integerArithmetic[uint32](mem, op, Values[uint32](left), Values[uint32](right), inputValidity(mem, n, left, right), outType.ArrowType(), checked)
	case octoframe.TypeIDUInt64:
		return integerArithmetic[uint64](mem, op, Values[uint64](left), Values[uint64](right), inputValidity(mem, n, left, right), outType.ArrowType(), checked)
	case octoframe.TypeIDFloat32:
		return floatArithmetic[float32](mem, op, Values[float32](left), Values[float32](right), inputValidity(mem, n, left, right), outType.ArrowType())
	case octoframe.TypeIDFloat64:
		return floatArithmetic[float64](mem, op, Values[float64](left), Values[float64](right), inputValidity(mem, n, left, right), outType.ArrowType())
	}
	return nil, octoframe.NewTypeError("arithmetic isn't supported for %s", outType)
}

func integerArithmetic[T Integer](mem memory.Allocator, op logical.BinaryOperator, left, right []T, valid *validity, dt arrow.DataType, checked bool) (arrow.Array, error) {
	var zero T
	minusOne := ^zero
	signed := minusOne < zero
	var minValue T
	if signed {
		minValue = T(1) << (unsafe.Sizeof(zero)*8 - 1)
	}

	out := make([]T, len(left))
	for i := range out {
		if !valid.isValid(i) {
			continue
		}
		a, b := left[i], right[i]
		var r T
		overflow := false
		switch op {
		case logical.BinaryOperatorAdd:
			r = a + b
			if signed {
				overflow = (a > zero && b > zero && r < zero) || (a < zero && b < zero && r >= zero)
			} else {
				overflow = r < a
			}
		case logical.BinaryOperatorSub:
			r = a - b
			if signed {
				overflow = (b > zero && r > a) || (b < zero && r < a)
			} else {
				overflow = b > a
			}
		case logical.BinaryOperatorMul:
			r = a * b
			if a != zero && r/a != b {
				overflow = true
			}
			if signed && ((a == minusOne && b == minValue) || (b == minusOne && a == minValue)) {
				overflow = true
			}
		case logical.BinaryOperatorDiv:
			if b == zero {
				valid.setNull(i)
				continue
			}
			r = a / b
			overflow = signed && a == minValue && b == minusOne
		case logical.BinaryOperatorMod:
			if b == zero {
				valid.setNull(i)
				continue
			}
			r = a % b
		default:
			panic(fmt.Sprintf("invalid arithmetic operator %s", op))
		}
		if overflow && checked {
			valid.buf.Release()
			return nil, fmt.Errorf("%w: %v %s %v", ErrOverflow, a, op, b)
		}
		out[i] = r
	}
	return newFixedWidthArray(mem, dt, out, valid), nil
}

func floatArithmetic[T ~float32 | ~float64](mem memory.Allocator, op logical.BinaryOperator, left, right []T, valid *validity, dt arrow.DataType) (arrow.Array, error) {
	out := make([]T, len(left))
	for i := range out {
		if !valid.isValid(i) {
			continue
		}
		a, b := left[i], right[i]
		switch op {
		case logical.BinaryOperatorAdd:
			out[i] = a + b
		case logical.BinaryOperatorSub:
			out[i] = a - b
		case logical.BinaryOperatorMul:
			out[i] = a * b
		case logical.BinaryOperatorDiv:
			out[i] = a / b
		case logical.BinaryOperatorMod:
			out[i] = T(math.Mod(float64(a), float64(b)))
		default:
			panic(fmt.Sprintf("invalid arithmetic operator %s", op))
		}
	}
	return newFixedWidthArray(mem, dt, out, valid), nil
}

func concatStrings(mem memory.Allocator, left, right *array.String) (arrow.Array, error) {
	builder := array.NewStringBuilder(mem)
	defer builder.Release()
	builder.Reserve(left.Len())
	total := 0
	for i := 0; i < left.Len(); i++ {
		if left.IsNull(i) || right.IsNull(i) {
			builder.AppendNull()
			continue
		}
		a, b := left.Value(i), right.Value(i)
		total += len(a) + len(b)
		if total > math.MaxInt32 {
			return nil, octoframe.NewCapacityError("string chunk would exceed %d bytes", math.MaxInt32)
		}
		builder.Append(a + b)
	}
	return builder.NewArray(), nil
}

// Negate flips the sign of signed integers, floats and durations. Negating the minimum integer wraps around
// unless checked.
func Negate(mem memory.Allocator, arr arrow.Array, typ octoframe.Type, checked bool) (arrow.Array, error) {
	n := arr.Len()
	switch typ.TypeID {
	case octoframe.TypeIDNull:
		return array.MakeArrayOfNull(mem, typ.ArrowType(), n), nil
	case octoframe.TypeIDInt8:
		return negateInteger[int8](mem, Values[int8](arr), inputValidity(mem, n, arr), typ.ArrowType(), checked)
	case octoframe.TypeIDInt16:
		return negateInteger[int16](mem, Values[int16](arr), inputValidity(mem, n, arr), typ.ArrowType(), checked)
	case octoframe.TypeIDInt32:
		return negateInteger[int32](mem, Values[int32](arr), inputValidity(mem, n, arr), typ.ArrowType(), checked)
	case octoframe.TypeIDInt64, octoframe.TypeIDDuration:
		return negateInteger[int64](mem, Values[int64](arr), inputValidity(mem, n, arr), typ.ArrowType(), checked)
	case octoframe.TypeIDFloat32:
		return negateFloat[float32](mem, Values[float32](arr), inputValidity(mem, n, arr), typ.ArrowType()), nil
	case octoframe.TypeIDFloat64:
		return negateFloat[float64](mem, Values[float64](arr), inputValidity(mem, n, arr), typ.ArrowType()), nil
	}
	return nil, octoframe.NewTypeError("can't negate %s", typ)
}

func negateInteger[T ~int8 | ~int16 | ~int32 | ~int64](mem memory.Allocator, values []T, valid *validity, dt arrow.DataType, checked bool) (arrow.Array, error) {
	var zero T
	minValue := T(1) << (unsafe.Sizeof(zero)*8 - 1)
	out := make([]T, len(values))
	for i := range values {
		if !valid.isValid(i) {
			continue
		}
		if checked && values[i] == minValue {
			valid.buf.Release()
			return nil, fmt.Errorf("%w: -(%v)", ErrOverflow, values[i])
		}
		out[i] = -values[i]
	}
	return newFixedWidthArray(mem, dt, out, valid), nil
}

func negateFloat[T ~float32 | ~float64](mem memory.Allocator, values []T, valid *validity, dt arrow.DataType) arrow.Array {
	out := make([]T, len(values))
	for i := range values {
		out[i] = -values[i]
	}
	return newFixedWidthArray(mem, dt, out, valid)
}

package kernels

import (
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// kleene is a three-valued logic value.
type kleene int8

const (
	kleeneFalse kleene = iota
	kleeneTrue
	kleeneNull
)

func kleeneAt(arr arrow.Array, i int) kleene {
	if arr.IsNull(i) {
		return kleeneNull
	}
	if arr.(*array.Boolean).Value(i) {
		return kleeneTrue
	}
	return kleeneFalse
}

// And computes the Kleene conjunction: false wins over null, null wins over true.
func And(mem memory.Allocator, left, right arrow.Array) arrow.Array {
	return kleeneBinary(mem, left, right, func(a, b kleene) kleene {
		switch {
		case a == kleeneFalse || b == kleeneFalse:
			return kleeneFalse
		case a == kleeneNull || b == kleeneNull:
			return kleeneNull
		}
		return kleeneTrue
	})
}

// Or computes the Kleene disjunction: true wins over null, null wins over false.
func Or(mem memory.Allocator, left, right arrow.Array) arrow.Array {
	return kleeneBinary(mem, left, right, func(a, b kleene) kleene {
		switch {
		case a == kleeneTrue || b == kleeneTrue:
			return kleeneTrue
		case a == kleeneNull || b == kleeneNull:
			return kleeneNull
		}
		return kleeneFalse
	})
}

func kleeneBinary(mem memory.Allocator, left, right arrow.Array, f func(a, b kleene) kleene) arrow.Array {
	builder := array.NewBooleanBuilder(mem)
	defer builder.Release()
	builder.Reserve(left.Len())
	for i := 0; i < left.Len(); i++ {
		switch f(kleeneAt(left, i), kleeneAt(right, i)) {
		case kleeneTrue:
			builder.UnsafeAppend(true)
		case kleeneFalse:
			builder.UnsafeAppend(false)
		default:
			builder.AppendNull()
		}
	}
	return builder.NewArray()
}

// Not negates a Boolean array, keeping nulls.
func Not(mem memory.Allocator, arr arrow.Array) arrow.Array {
	n := arr.Len()
	if arr.DataType().ID() == arrow.NULL {
		return array.MakeArrayOfNull(mem, arrow.FixedWidthTypes.Boolean, n)
	}
	booleans := arr.(*array.Boolean)
	out := make([]bool, n)
	for i := range out {
		out[i] = !booleans.Value(i)
	}
	return newBooleanArray(mem, out, inputValidity(mem, n, arr))
}

// IsNull returns a non-null Boolean array marking the null slots of arr.
func IsNull(mem memory.Allocator, arr arrow.Array) arrow.Array {
	out := make([]bool, arr.Len())
	for i := range out {
		out[i] = arr.IsNull(i)
	}
	return newBooleanArray(mem, out, nil)
}

// IsNotNull returns a non-null Boolean array marking the valid slots of arr.
func IsNotNull(mem memory.Allocator, arr arrow.Array) arrow.Array {
	out := make([]bool, arr.Len())
	for i := range out {
		out[i] = arr.IsValid(i)
	}
	return newBooleanArray(mem, out, nil)
}

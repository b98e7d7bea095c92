package aggregates

import (
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"

	"github.com/cube2222/octoframe/arrowexec/kernels"
)

// The readers below widen any numeric or boolean array to a single physical type, so that
// aggregates don't need a separate implementation per input type.

func int64Reader(arr arrow.Array) func(i int) int64 {
	switch arr.DataType().ID() {
	case arrow.BOOL:
		typedArr := arr.(*array.Boolean)
		return func(i int) int64 {
			if typedArr.Value(i) {
				return 1
			}
			return 0
		}
	case arrow.INT8:
		return widen[int8, int64](kernels.Values[int8](arr))
	case arrow.INT16:
		return widen[int16, int64](kernels.Values[int16](arr))
	case arrow.INT32, arrow.DATE32:
		return widen[int32, int64](kernels.Values[int32](arr))
	case arrow.INT64, arrow.TIMESTAMP, arrow.DURATION:
		return widen[int64, int64](kernels.Values[int64](arr))
	case arrow.UINT8:
		return widen[uint8, int64](kernels.Values[uint8](arr))
	case arrow.UINT16:
		return widen[uint16, int64](kernels.Values[uint16](arr))
	case arrow.UINT32:
		return widen[uint32, int64](kernels.Values[uint32](arr))
	case arrow.UINT64:
		return widen[uint64, int64](kernels.Values[uint64](arr))
	}
	return func(i int) int64 {
		return 0
	}
}

func uint64Reader(arr arrow.Array) func(i int) uint64 {
	switch arr.DataType().ID() {
	case arrow.UINT8:
		return widen[uint8, uint64](kernels.Values[uint8](arr))
	case arrow.UINT16:
		return widen[uint16, uint64](kernels.Values[uint16](arr))
	case arrow.UINT32:
		return widen[uint32, uint64](kernels.Values[uint32](arr))
	case arrow.UINT64:
		return widen[uint64, uint64](kernels.Values[uint64](arr))
	}
	read := int64Reader(arr)
	return func(i int) uint64 {
		return uint64(read(i))
	}
}

func float64Reader(arr arrow.Array) func(i int) float64 {
	switch arr.DataType().ID() {
	case arrow.FLOAT32:
		return widen[float32, float64](kernels.Values[float32](arr))
	case arrow.FLOAT64:
		return widen[float64, float64](kernels.Values[float64](arr))
	case arrow.UINT8, arrow.UINT16, arrow.UINT32, arrow.UINT64:
		read := uint64Reader(arr)
		return func(i int) float64 {
			return float64(read(i))
		}
	}
	read := int64Reader(arr)
	return func(i int) float64 {
		return float64(read(i))
	}
}

func widen[From kernels.Numeric, To kernels.Numeric](values []From) func(i int) To {
	return func(i int) To {
		return To(values[i])
	}
}

package helpers

import (
	"encoding/binary"
	"math"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/cespare/xxhash/v2"
	"github.com/segmentio/fasthash/fnv1a"

	"github.com/cube2222/octoframe/arrowexec/kernels"
)

// NullHash is the hash of a null key value.
const NullHash uint64 = 0x9e3779b97f4a7c15

// canonicalNaN is the bit pattern every NaN is hashed as.
var canonicalNaN = math.Float64bits(math.NaN())

// MakeRowHasher returns a function hashing the values of a row across the key columns.
// Each value is hashed with xxhash and the per-column hashes are combined with fnv1a.
func MakeRowHasher(columns []arrow.Array) func(rowIndex int) uint64 {
	subHashers := make([]func(rowIndex int) uint64, len(columns))
	for i := range columns {
		subHashers[i] = MakeValueHasher(columns[i])
	}
	return func(rowIndex int) uint64 {
		hash := fnv1a.Init64
		for _, hasher := range subHashers {
			hash = fnv1a.AddUint64(hash, hasher(rowIndex))
		}
		return hash
	}
}

// MakeValueHasher returns a function hashing single values of arr.
// Nulls hash to NullHash, -0.0 hashes like 0.0 and all NaNs hash the same.
func MakeValueHasher(arr arrow.Array) func(rowIndex int) uint64 {
	var hashValue func(rowIndex int) uint64
	switch arr.DataType().ID() {
	case arrow.NULL:
		return func(rowIndex int) uint64 {
			return NullHash
		}
	case arrow.BOOL:
		typedArr := arr.(*array.Boolean)
		hashValue = func(rowIndex int) uint64 {
			if typedArr.Value(rowIndex) {
				return hashUint64(1)
			}
			return hashUint64(2)
		}
	case arrow.INT8:
		hashValue = integerHasher(kernels.Values[int8](arr))
	case arrow.INT16:
		hashValue = integerHasher(kernels.Values[int16](arr))
	case arrow.INT32, arrow.DATE32:
		hashValue = integerHasher(kernels.Values[int32](arr))
	case arrow.INT64, arrow.TIMESTAMP, arrow.DURATION:
		hashValue = integerHasher(kernels.Values[int64](arr))
	case arrow.UINT8:
		hashValue = integerHasher(kernels.Values[uint8](arr))
	case arrow.UINT16:
		hashValue = integerHasher(kernels.Values[uint16](arr))
	case arrow.UINT32:
		hashValue = integerHasher(kernels.Values[uint32](arr))
	case arrow.UINT64:
		hashValue = integerHasher(kernels.Values[uint64](arr))
	case arrow.FLOAT32:
		hashValue = floatHasher(kernels.Values[float32](arr))
	case arrow.FLOAT64:
		hashValue = floatHasher(kernels.Values[float64](arr))
	case arrow.STRING:
		typedArr := arr.(*array.String)
		hashValue = func(rowIndex int) uint64 {
			return xxhash.Sum64String(typedArr.Value(rowIndex))
		}
	case arrow.LIST:
		typedArr := arr.(*array.List)
		elementHasher := MakeValueHasher(typedArr.ListValues())
		hashValue = func(rowIndex int) uint64 {
			start, end := typedArr.ValueOffsets(rowIndex)
			hash := fnv1a.AddUint64(fnv1a.Init64, uint64(end-start))
			for j := start; j < end; j++ {
				hash = fnv1a.AddUint64(hash, elementHasher(int(j)))
			}
			return hash
		}
	default:
		panic("unsupported type for hashing: " + arr.DataType().String())
	}

	if arr.NullN() == 0 {
		return hashValue
	}
	return func(rowIndex int) uint64 {
		if arr.IsNull(rowIndex) {
			return NullHash
		}
		return hashValue(rowIndex)
	}
}

func integerHasher[T kernels.Integer](values []T) func(rowIndex int) uint64 {
	return func(rowIndex int) uint64 {
		return hashUint64(uint64(values[rowIndex]))
	}
}

func floatHasher[T ~float32 | ~float64](values []T) func(rowIndex int) uint64 {
	return func(rowIndex int) uint64 {
		return hashUint64(CanonicalFloatBits(float64(values[rowIndex])))
	}
}

// CanonicalFloatBits returns the bits of f, with -0.0 mapped to 0.0 and all NaNs mapped to one NaN.
func CanonicalFloatBits(f float64) uint64 {
	switch {
	case f == 0:
		return 0
	case f != f:
		return canonicalNaN
	}
	return math.Float64bits(f)
}

func hashUint64(v uint64) uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return xxhash.Sum64(buf[:])
}

// HasNull reports whether any of the columns is null at rowIndex.
func HasNull(columns []arrow.Array, rowIndex int) bool {
	for _, column := range columns {
		if column.IsNull(rowIndex) {
			return true
		}
	}
	return false
}

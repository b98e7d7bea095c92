package kernels

import (
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/bitutil"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// Numeric are the physical value types of fixed-width columns.
type Numeric interface {
	~int8 | ~int16 | ~int32 | ~int64 | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~float32 | ~float64
}

type Integer interface {
	~int8 | ~int16 | ~int32 | ~int64 | ~uint8 | ~uint16 | ~uint32 | ~uint64
}

// Values returns the fixed-width values of an array, with the array offset applied.
// Values at null slots are unspecified.
func Values[T Numeric](arr arrow.Array) []T {
	data := arr.Data()
	buffers := data.Buffers()
	if len(buffers) < 2 || buffers[1] == nil {
		return make([]T, arr.Len())
	}
	values := arrow.GetData[T](buffers[1].Bytes())
	return values[data.Offset() : data.Offset()+data.Len()]
}

// validity accumulates an output validity bitmap.
type validity struct {
	buf   *memory.Buffer
	bits  []byte
	nulls int
}

func newValidity(mem memory.Allocator, n int) *validity {
	buf := memory.NewResizableBuffer(mem)
	buf.Resize(int(bitutil.BytesForBits(int64(n))))
	bits := buf.Bytes()
	for i := range bits {
		bits[i] = 0xff
	}
	return &validity{buf: buf, bits: bits}
}

func (v *validity) setNull(i int) {
	bitutil.ClearBit(v.bits, i)
	v.nulls++
}

// finish returns the bitmap buffer, or nil if there are no nulls.
func (v *validity) finish() *memory.Buffer {
	if v.nulls == 0 {
		v.buf.Release()
		return nil
	}
	return v.buf
}

// inputValidity marks as null every slot which is null in any of the inputs.
func inputValidity(mem memory.Allocator, n int, inputs ...arrow.Array) *validity {
	v := newValidity(mem, n)
	for _, input := range inputs {
		if input.NullN() == 0 {
			continue
		}
		for i := 0; i < n; i++ {
			if input.IsNull(i) && bitutil.BitIsSet(v.bits, i) {
				v.setNull(i)
			}
		}
	}
	return v
}

// newFixedWidthArray wraps values and a validity bitmap into an array of the given fixed-width type.
func newFixedWidthArray[T Numeric](mem memory.Allocator, dt arrow.DataType, values []T, valid *validity) arrow.Array {
	buf := memory.NewResizableBuffer(mem)
	buf.Resize(len(values) * int(dt.(arrow.FixedWidthDataType).BitWidth()/8))
	copy(arrow.GetData[T](buf.Bytes()), values)

	var nulls int
	var validityBuffer *memory.Buffer
	if valid != nil {
		nulls = valid.nulls
		validityBuffer = valid.finish()
	}
	data := array.NewData(dt, len(values), []*memory.Buffer{validityBuffer, buf}, nil, nulls, 0)
	defer data.Release()
	buf.Release()
	if validityBuffer != nil {
		validityBuffer.Release()
	}
	return array.MakeFromData(data)
}

// newBooleanArray builds a boolean array out of values and a validity bitmap.
func newBooleanArray(mem memory.Allocator, values []bool, valid *validity) arrow.Array {
	builder := array.NewBooleanBuilder(mem)
	defer builder.Release()
	builder.Reserve(len(values))
	for i := range values {
		if valid != nil && !bitutil.BitIsSet(valid.bits, i) {
			builder.AppendNull()
			continue
		}
		builder.UnsafeAppend(values[i])
	}
	if valid != nil {
		valid.buf.Release()
	}
	return builder.NewArray()
}

// isValid reports whether slot i is set in a validity accumulator.
func (v *validity) isValid(i int) bool {
	return bitutil.BitIsSet(v.bits, i)
}

package table

import (
	"fmt"
	"math"
	"runtime"
	"sort"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"golang.org/x/sync/errgroup"

	"github.com/cube2222/octoframe/octoframe"
)

// NullIndex is a row index which produces a null row when gathering.
const NullIndex = math.MaxUint32

// MaxStringChunkBytes is the maximum size of the values buffer of a single string chunk.
const MaxStringChunkBytes = math.MaxInt32

// CheckRowCount returns a CapacityError if n rows can't be addressed with uint32 row indices.
func CheckRowCount(n int) error {
	if n >= NullIndex {
		return octoframe.NewCapacityError("%d rows exceed the maximum of %d rows addressable by a row index", n, NullIndex-1)
	}
	return nil
}

// MakeColumnRewriter returns a function which appends the value at rowIndex of arr to builder, nulls included.
func MakeColumnRewriter(builder array.Builder, arr arrow.Array) func(rowIndex int) {
	switch builder.Type().ID() {
	case arrow.NULL:
		return func(rowIndex int) {
			builder.AppendNull()
		}
	case arrow.BOOL:
		return rewriterForType[bool](builder.(*array.BooleanBuilder), arr.(*array.Boolean))
	case arrow.INT8:
		return rewriterForType[int8](builder.(*array.Int8Builder), arr.(*array.Int8))
	case arrow.INT16:
		return rewriterForType[int16](builder.(*array.Int16Builder), arr.(*array.Int16))
	case arrow.INT32:
		return rewriterForType[int32](builder.(*array.Int32Builder), arr.(*array.Int32))
	case arrow.INT64:
		return rewriterForType[int64](builder.(*array.Int64Builder), arr.(*array.Int64))
	case arrow.UINT8:
		return rewriterForType[uint8](builder.(*array.Uint8Builder), arr.(*array.Uint8))
	case arrow.UINT16:
		return rewriterForType[uint16](builder.(*array.Uint16Builder), arr.(*array.Uint16))
	case arrow.UINT32:
		return rewriterForType[uint32](builder.(*array.Uint32Builder), arr.(*array.Uint32))
	case arrow.UINT64:
		return rewriterForType[uint64](builder.(*array.Uint64Builder), arr.(*array.Uint64))
	case arrow.FLOAT32:
		return rewriterForType[float32](builder.(*array.Float32Builder), arr.(*array.Float32))
	case arrow.FLOAT64:
		return rewriterForType[float64](builder.(*array.Float64Builder), arr.(*array.Float64))
	case arrow.STRING:
		return rewriterForType[string](builder.(*array.StringBuilder), arr.(*array.String))
	case arrow.DATE32:
		return rewriterForType[arrow.Date32](builder.(*array.Date32Builder), arr.(*array.Date32))
	case arrow.TIMESTAMP:
		return rewriterForType[arrow.Timestamp](builder.(*array.TimestampBuilder), arr.(*array.Timestamp))
	case arrow.DURATION:
		return rewriterForType[arrow.Duration](builder.(*array.DurationBuilder), arr.(*array.Duration))
	case arrow.LIST:
		listBuilder := builder.(*array.ListBuilder)
		list := arr.(*array.List)
		values := MakeColumnRewriter(listBuilder.ValueBuilder(), list.ListValues())
		return func(rowIndex int) {
			if list.IsNull(rowIndex) {
				listBuilder.AppendNull()
				return
			}
			listBuilder.Append(true)
			start, end := list.ValueOffsets(rowIndex)
			for j := start; j < end; j++ {
				values(int(j))
			}
		}
	default:
		panic(fmt.Errorf("unsupported type for rewriting: %v", builder.Type().ID()))
	}
}

func rewriterForType[T any, BuilderType interface {
	Append(v T)
	AppendNull()
}, ArrayType interface {
	Value(i int) T
	IsNull(i int) bool
}](builder BuilderType, arr ArrayType) func(rowIndex int) {
	return func(rowIndex int) {
		if arr.IsNull(rowIndex) {
			builder.AppendNull()
			return
		}
		builder.Append(arr.Value(rowIndex))
	}
}

// Take gathers rows by global row index into a new table split into chunks of at most chunkSize rows.
// A NullIndex entry produces a row of nulls.
func Take(t *Table, indices []uint32, chunkSize int) (*Table, error) {
	if err := CheckRowCount(len(indices)); err != nil {
		return nil, err
	}
	boundaries := SplitBoundaries(len(indices), chunkSize)
	if len(t.columns) == 0 {
		return NewTableWithOffsets(boundaries), nil
	}

	columns := make([]*Column, len(t.columns))
	chunks := make([][]arrow.Array, len(t.columns))
	for i := range chunks {
		chunks[i] = make([]arrow.Array, len(boundaries)-1)
	}

	g := errgroup.Group{}
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := range t.columns {
		i := i
		for j := 0; j+1 < len(boundaries); j++ {
			j := j
			g.Go(func() error {
				chunk, err := t.columns[i].takeChunk(indices[boundaries[j]:boundaries[j+1]])
				if err != nil {
					return err
				}
				chunks[i][j] = chunk
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, col := range t.columns {
		out, err := NewColumn(col.name, col.typ, chunks[i]...)
		if err != nil {
			return nil, err
		}
		columns[i] = out
	}
	return NewTable(columns...)
}

// Take gathers the values at the given global row indices into a single chunk.
func (c *Column) Take(indices []uint32) (*Column, error) {
	if err := CheckRowCount(len(indices)); err != nil {
		return nil, err
	}
	chunk, err := c.takeChunk(indices)
	if err != nil {
		return nil, err
	}
	return NewColumn(c.name, c.typ, chunk)
}

func (c *Column) takeChunk(indices []uint32) (arrow.Array, error) {
	if c.typ.TypeID == octoframe.TypeIDString {
		if err := c.checkGatheredStringSize(indices); err != nil {
			return nil, err
		}
	}

	builder := array.NewBuilder(memory.DefaultAllocator, c.typ.ArrowType())
	defer builder.Release()
	builder.Reserve(len(indices))

	if len(c.chunks) == 0 {
		for _, index := range indices {
			if index != NullIndex {
				return nil, fmt.Errorf("row index %d out of range for empty column '%s'", index, c.name)
			}
			builder.AppendNull()
		}
		return builder.NewArray(), nil
	}

	rewriters := make([]func(rowIndex int), len(c.chunks))
	for i, chunk := range c.chunks {
		rewriters[i] = MakeColumnRewriter(builder, chunk)
	}
	offsets := c.Offsets()
	current := 0
	for _, index := range indices {
		if index == NullIndex {
			builder.AppendNull()
			continue
		}
		row := int(index)
		if row >= c.length {
			return nil, fmt.Errorf("row index %d out of range for column '%s' of length %d", row, c.name, c.length)
		}
		if row < offsets[current] || row >= offsets[current+1] {
			current = sort.Search(len(c.chunks), func(j int) bool {
				return offsets[j+1] > row
			})
		}
		rewriters[current](row - offsets[current])
	}
	return builder.NewArray(), nil
}

func (c *Column) checkGatheredStringSize(indices []uint32) error {
	offsets := c.Offsets()
	total := 0
	current := 0
	for _, index := range indices {
		if index == NullIndex || int(index) >= c.length {
			continue
		}
		row := int(index)
		if row < offsets[current] || row >= offsets[current+1] {
			current = sort.Search(len(c.chunks), func(j int) bool {
				return offsets[j+1] > row
			})
		}
		total += len(c.chunks[current].(*array.String).Value(row - offsets[current]))
		if total > MaxStringChunkBytes {
			return octoframe.NewCapacityError("string chunk of column '%s' would exceed %d bytes", c.name, MaxStringChunkBytes)
		}
	}
	return nil
}

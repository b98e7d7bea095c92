package table

import (
	"fmt"
	"sort"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/cube2222/octoframe/octoframe"
)

// Column is a named, typed and immutable sequence of values split into one or more chunks.
// Each chunk is an Arrow array, so every chunk pairs a value buffer with an optional validity bitmap.
type Column struct {
	name   string
	typ    octoframe.Type
	chunks []arrow.Array
	length int
}

// NewColumn creates a column out of chunks which all have to match the given type.
func NewColumn(name string, typ octoframe.Type, chunks ...arrow.Array) (*Column, error) {
	expected := typ.ArrowType()
	length := 0
	for i, chunk := range chunks {
		if !arrow.TypeEqual(chunk.DataType(), expected) {
			return nil, octoframe.NewTypeError("chunk %d of column '%s' has type %s, expected %s", i, name, chunk.DataType(), expected)
		}
		length += chunk.Len()
	}
	return &Column{
		name:   name,
		typ:    typ,
		chunks: chunks,
		length: length,
	}, nil
}

// NewColumnFromArrow creates a column, deriving its type from the first chunk.
func NewColumnFromArrow(name string, chunks ...arrow.Array) (*Column, error) {
	if len(chunks) == 0 {
		return nil, octoframe.NewTypeError("can't derive type of column '%s' without chunks", name)
	}
	typ, err := octoframe.TypeFromArrow(chunks[0].DataType())
	if err != nil {
		return nil, fmt.Errorf("couldn't derive type of column '%s': %w", name, err)
	}
	return NewColumn(name, typ, chunks...)
}

// NewColumnFromValues builds a single-chunk column out of values.
func NewColumnFromValues(name string, typ octoframe.Type, values []octoframe.Value) (*Column, error) {
	builder := array.NewBuilder(memory.DefaultAllocator, typ.ArrowType())
	defer builder.Release()
	builder.Reserve(len(values))
	for i := range values {
		if err := AppendValue(builder, typ, values[i]); err != nil {
			return nil, fmt.Errorf("couldn't append value %d of column '%s': %w", i, name, err)
		}
	}
	return NewColumn(name, typ, builder.NewArray())
}

// MustColumn builds a single-chunk column out of plain Go values, nil meaning null.
// It panics on invalid input and is meant for fixtures.
func MustColumn(name string, typ octoframe.Type, values ...interface{}) *Column {
	converted := make([]octoframe.Value, len(values))
	for i := range values {
		v, err := GoValue(typ, values[i])
		if err != nil {
			panic(fmt.Errorf("couldn't convert value %d of column '%s': %w", i, name, err))
		}
		converted[i] = v
	}
	col, err := NewColumnFromValues(name, typ, converted)
	if err != nil {
		panic(err)
	}
	return col
}

// NewNullColumn creates a column of the given type where every value is null.
func NewNullColumn(name string, typ octoframe.Type, length int) *Column {
	builder := array.NewBuilder(memory.DefaultAllocator, typ.ArrowType())
	defer builder.Release()
	builder.AppendNulls(length)
	return &Column{
		name:   name,
		typ:    typ,
		chunks: []arrow.Array{builder.NewArray()},
		length: length,
	}
}

func (c *Column) Name() string {
	return c.name
}

func (c *Column) Type() octoframe.Type {
	return c.typ
}

func (c *Column) Len() int {
	return c.length
}

func (c *Column) NumChunks() int {
	return len(c.chunks)
}

func (c *Column) Chunk(i int) arrow.Array {
	return c.chunks[i]
}

func (c *Column) Chunks() []arrow.Array {
	out := make([]arrow.Array, len(c.chunks))
	copy(out, c.chunks)
	return out
}

func (c *Column) NullCount() int {
	count := 0
	for _, chunk := range c.chunks {
		count += chunk.NullN()
	}
	return count
}

// Offsets returns the chunk boundaries of the column: len(Offsets()) == NumChunks()+1.
func (c *Column) Offsets() []int {
	out := make([]int, len(c.chunks)+1)
	for i, chunk := range c.chunks {
		out[i+1] = out[i] + chunk.Len()
	}
	return out
}

func (c *Column) Rename(name string) *Column {
	return &Column{
		name:   name,
		typ:    c.typ,
		chunks: c.chunks,
		length: c.length,
	}
}

// locate returns the chunk index and the offset within the chunk of a global row index.
func (c *Column) locate(i int) (int, int) {
	offsets := c.Offsets()
	chunk := sort.Search(len(c.chunks), func(j int) bool {
		return offsets[j+1] > i
	})
	return chunk, i - offsets[chunk]
}

func (c *Column) IsNull(i int) bool {
	chunk, offset := c.locate(i)
	return c.chunks[chunk].IsNull(offset)
}

// Value returns the value at global row index i.
// It's meant for tests and inspection, kernels work on chunks directly.
func (c *Column) Value(i int) octoframe.Value {
	if i < 0 || i >= c.length {
		panic(fmt.Sprintf("row index %d out of range for column of length %d", i, c.length))
	}
	chunk, offset := c.locate(i)
	return ValueAt(c.chunks[chunk], c.typ, offset)
}

func (c *Column) Values() []octoframe.Value {
	out := make([]octoframe.Value, 0, c.length)
	for _, chunk := range c.chunks {
		for i := 0; i < chunk.Len(); i++ {
			out = append(out, ValueAt(chunk, c.typ, i))
		}
	}
	return out
}

// Slice returns a zero-copy view of rows [offset, offset+length).
func (c *Column) Slice(offset, length int) *Column {
	if offset < 0 || length < 0 || offset > c.length || length > c.length-offset {
		panic(fmt.Sprintf("slice [%d, %d) out of range for column of length %d", offset, offset+length, c.length))
	}
	var chunks []arrow.Array
	chunkStart := 0
	end := offset + length
	for _, chunk := range c.chunks {
		chunkEnd := chunkStart + chunk.Len()
		if chunkEnd > offset && chunkStart < end {
			from := max(offset, chunkStart) - chunkStart
			to := min(end, chunkEnd) - chunkStart
			chunks = append(chunks, array.NewSlice(chunk, int64(from), int64(to)))
		}
		chunkStart = chunkEnd
	}
	return &Column{
		name:   c.name,
		typ:    c.typ,
		chunks: chunks,
		length: length,
	}
}

// Rechunk splits the column on the given boundaries, which have to start at 0 and end at Len().
// Target chunks which fall into a single source chunk are zero-copy slices,
// only chunks spanning multiple source chunks get concatenated.
func (c *Column) Rechunk(boundaries []int) (*Column, error) {
	if len(boundaries) == 0 || boundaries[0] != 0 || boundaries[len(boundaries)-1] != c.length {
		return nil, octoframe.NewSchemaError("invalid chunk boundaries %v for column '%s' of length %d", boundaries, c.name, c.length)
	}
	chunks := make([]arrow.Array, 0, len(boundaries)-1)
	for i := 0; i+1 < len(boundaries); i++ {
		start, end := boundaries[i], boundaries[i+1]
		if end < start {
			return nil, octoframe.NewSchemaError("chunk boundaries %v of column '%s' aren't sorted", boundaries, c.name)
		}
		parts := c.Slice(start, end-start).chunks
		switch len(parts) {
		case 0:
			builder := array.NewBuilder(memory.DefaultAllocator, c.typ.ArrowType())
			chunks = append(chunks, builder.NewArray())
			builder.Release()
		case 1:
			chunks = append(chunks, parts[0])
		default:
			merged, err := array.Concatenate(parts, memory.DefaultAllocator)
			if err != nil {
				return nil, fmt.Errorf("couldn't concatenate chunks of column '%s': %w", c.name, err)
			}
			chunks = append(chunks, merged)
		}
	}
	return &Column{
		name:   c.name,
		typ:    c.typ,
		chunks: chunks,
		length: c.length,
	}, nil
}

// Concat appends the chunks of the other columns, which must have the same type.
func (c *Column) Concat(others ...*Column) (*Column, error) {
	chunks := c.Chunks()
	length := c.length
	for _, other := range others {
		if !other.typ.Equal(c.typ) {
			return nil, octoframe.NewTypeError("can't concatenate column '%s' of type %s with column of type %s", c.name, c.typ, other.typ)
		}
		chunks = append(chunks, other.chunks...)
		length += other.length
	}
	return &Column{
		name:   c.name,
		typ:    c.typ,
		chunks: chunks,
		length: length,
	}, nil
}

// Combined returns the whole column as a single Arrow array, concatenating if necessary.
func (c *Column) Combined(mem memory.Allocator) (arrow.Array, error) {
	switch len(c.chunks) {
	case 0:
		builder := array.NewBuilder(mem, c.typ.ArrowType())
		defer builder.Release()
		return builder.NewArray(), nil
	case 1:
		return c.chunks[0], nil
	}
	out, err := array.Concatenate(c.chunks, mem)
	if err != nil {
		return nil, fmt.Errorf("couldn't concatenate chunks of column '%s': %w", c.name, err)
	}
	return out, nil
}

package table

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/cube2222/octoframe/octoframe"
)

// ColumnBuilder is the append-style way of constructing a column, one chunk at a time.
// It's not safe for concurrent use.
type ColumnBuilder struct {
	name    string
	typ     octoframe.Type
	mem     memory.Allocator
	builder array.Builder
	chunks  []arrow.Array
}

func NewColumnBuilder(name string, typ octoframe.Type, mem memory.Allocator) *ColumnBuilder {
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	return &ColumnBuilder{
		name:    name,
		typ:     typ,
		mem:     mem,
		builder: array.NewBuilder(mem, typ.ArrowType()),
	}
}

func (b *ColumnBuilder) Append(v octoframe.Value) error {
	if err := AppendValue(b.builder, b.typ, v); err != nil {
		return fmt.Errorf("couldn't append to column '%s': %w", b.name, err)
	}
	return nil
}

func (b *ColumnBuilder) AppendNull() {
	b.builder.AppendNull()
}

// Builder exposes the Arrow builder of the current chunk, for typed appends in kernels.
func (b *ColumnBuilder) Builder() array.Builder {
	return b.builder
}

// Len returns the number of values in the current, unfinished chunk.
func (b *ColumnBuilder) Len() int {
	return b.builder.Len()
}

// NewChunk finishes the current chunk and starts a new one.
func (b *ColumnBuilder) NewChunk() {
	if b.builder.Len() == 0 {
		return
	}
	b.chunks = append(b.chunks, b.builder.NewArray())
}

// Finish returns the column built so far. The builder must not be used afterwards.
func (b *ColumnBuilder) Finish() (*Column, error) {
	if b.builder.Len() > 0 || len(b.chunks) == 0 {
		b.chunks = append(b.chunks, b.builder.NewArray())
	}
	b.builder.Release()
	return NewColumn(b.name, b.typ, b.chunks...)
}

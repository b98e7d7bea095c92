package kernels

import (
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/cube2222/octoframe/octoframe"
	"github.com/cube2222/octoframe/table"
)

// Broadcast repeats a scalar n times.
func Broadcast(mem memory.Allocator, value octoframe.Value, typ octoframe.Type, n int) (arrow.Array, error) {
	if value.IsNull() {
		return array.MakeArrayOfNull(mem, typ.ArrowType(), n), nil
	}
	builder := array.NewBuilder(mem, typ.ArrowType())
	defer builder.Release()
	builder.Reserve(n)
	for i := 0; i < n; i++ {
		if err := table.AppendValue(builder, typ, value); err != nil {
			return nil, err
		}
	}
	return builder.NewArray(), nil
}

package kernels

import (
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/cube2222/octoframe/table"
)

// Ternary picks ifTrue where the predicate is true and ifFalse everywhere else, null predicates included.
// Both branches must have the same type.
func Ternary(mem memory.Allocator, predicate, ifTrue, ifFalse arrow.Array) arrow.Array {
	builder := array.NewBuilder(mem, ifTrue.DataType())
	defer builder.Release()
	builder.Reserve(predicate.Len())

	pickTrue := table.MakeColumnRewriter(builder, ifTrue)
	pickFalse := table.MakeColumnRewriter(builder, ifFalse)
	var mask *array.Boolean
	if predicate.DataType().ID() == arrow.BOOL {
		mask = predicate.(*array.Boolean)
	}
	for i := 0; i < predicate.Len(); i++ {
		if mask != nil && mask.IsValid(i) && mask.Value(i) {
			pickTrue(i)
		} else {
			pickFalse(i)
		}
	}
	return builder.NewArray()
}

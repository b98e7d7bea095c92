package aggregates

import (
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"

	"github.com/cube2222/octoframe/logical"
	"github.com/cube2222/octoframe/octoframe"
)

func NewCountPrototype(agg logical.Aggregate, operandType octoframe.Type) Aggregate {
	return &Count{allRows: agg.Operand == nil}
}

type Count struct {
	allRows bool
}

func (agg *Count) MakeGroupConsumer(builder array.Builder, arr arrow.Array) func(rows []uint32) {
	typedBuilder := builder.(*array.Uint32Builder)
	if agg.allRows || arr == nil {
		return func(rows []uint32) {
			typedBuilder.Append(uint32(len(rows)))
		}
	}
	return func(rows []uint32) {
		typedBuilder.Append(uint32(nonNullCount(arr, rows)))
	}
}

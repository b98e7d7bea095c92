package aggregates

import (
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"

	"github.com/cube2222/octoframe/logical"
	"github.com/cube2222/octoframe/octoframe"
	"github.com/cube2222/octoframe/table"
)

func NewListPrototype(agg logical.Aggregate, operandType octoframe.Type) Aggregate {
	return &List{}
}

// List collects the values of each group, nulls included, in row order.
type List struct{}

func (agg *List) MakeGroupConsumer(builder array.Builder, arr arrow.Array) func(rows []uint32) {
	listBuilder := builder.(*array.ListBuilder)
	rewrite := table.MakeColumnRewriter(listBuilder.ValueBuilder(), arr)
	return func(rows []uint32) {
		listBuilder.Append(true)
		for _, row := range rows {
			rewrite(int(row))
		}
	}
}
